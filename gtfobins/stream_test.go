package gtfobins

import (
	"bytes"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type nopReadCloser struct{ io.Reader }

func (nopReadCloser) Close() error { return nil }

type captureWriteCloser struct {
	bytes.Buffer
	closed bool
}

func (c *captureWriteCloser) Close() error {
	c.closed = true
	return nil
}

func TestPrintable(t *testing.T) {
	assert.True(t, Printable([]byte("hello world\n")))
	assert.True(t, Printable([]byte("tabs\tand\r\nlines")))
	assert.False(t, Printable([]byte{0x00}))
	assert.False(t, Printable([]byte{0x1b, '[', 'A'}))
	assert.False(t, Printable([]byte{0xff, 0xfe}))
}

func TestWrapReader_Base64StripsTerminalWhitespace(t *testing.T) {
	payload := []byte("binary\x00payload\xffhere")
	encoded := base64.StdEncoding.EncodeToString(payload)

	// Terminals wrap encoded output and inject CRLF.
	wire := encoded[:10] + "\r\n" + encoded[10:20] + "\r\n" + encoded[20:] + "\r\n"

	method := &Method{Stream: StreamBase64}
	r := method.WrapReader(nopReadCloser{strings.NewReader(wire)})

	out, err := io.ReadAll(r)
	require.NoError(t, err)
	assert.Equal(t, payload, out)
}

func TestWrapReader_Hex(t *testing.T) {
	payload := []byte{0xde, 0xad, 0xbe, 0xef, 0x00, 0x0a}
	wire := hex.EncodeToString(payload[:3]) + "\n" + hex.EncodeToString(payload[3:]) + "\n"

	method := &Method{Stream: StreamHex}
	r := method.WrapReader(nopReadCloser{strings.NewReader(wire)})

	out, err := io.ReadAll(r)
	require.NoError(t, err)
	assert.Equal(t, payload, out)
}

func TestWrapReader_PrintPassesThrough(t *testing.T) {
	method := &Method{Stream: StreamPrint}
	raw := nopReadCloser{strings.NewReader("plain text")}

	r := method.WrapReader(raw)

	out, err := io.ReadAll(r)
	require.NoError(t, err)
	assert.Equal(t, "plain text", string(out))
}

func TestWrapWriter_Base64FlushesOnClose(t *testing.T) {
	// 5 bytes is not a whole base64 quantum; the final group only appears
	// when Close flushes the encoder.
	payload := []byte("hello")
	capture := &captureWriteCloser{}
	method := &Method{Stream: StreamBase64}

	w := method.WrapWriter(capture)
	_, err := w.Write(payload)
	require.NoError(t, err)
	require.NoError(t, w.Close())

	assert.True(t, capture.closed)
	decoded, err := base64.StdEncoding.DecodeString(capture.String())
	require.NoError(t, err)
	assert.Equal(t, payload, decoded)
}

func TestWrapWriter_Hex(t *testing.T) {
	payload := []byte{0x01, 0xab, 0xff}
	capture := &captureWriteCloser{}
	method := &Method{Stream: StreamHex}

	w := method.WrapWriter(capture)
	_, err := w.Write(payload)
	require.NoError(t, err)
	require.NoError(t, w.Close())

	assert.Equal(t, hex.EncodeToString(payload), capture.String())
}

func TestWrapWriter_PrintGuardRejectsBinary(t *testing.T) {
	capture := &captureWriteCloser{}
	method := &Method{Stream: StreamPrint}

	w := method.WrapWriter(capture)

	_, err := w.Write([]byte{0x7f, 0x45, 0x4c, 0x46})
	assert.ErrorIs(t, err, ErrUnprintable)
	assert.Zero(t, capture.Len(), "no byte may reach the wire after the guard fires")

	n, err := w.Write([]byte("config=value\n"))
	require.NoError(t, err)
	assert.Equal(t, 13, n)
}

func TestBlockReader_ReassemblesBlocks(t *testing.T) {
	blocks := [][]byte{
		bytes.Repeat([]byte{0xaa}, BlockSize),
		bytes.Repeat([]byte{0xbb}, BlockSize),
		[]byte("tail"),
	}

	var issued []string
	run := func(command string) ([]byte, error) {
		issued = append(issued, command)
		idx := len(issued) - 1
		if idx >= len(blocks) {
			return []byte("\r\n"), nil
		}
		return []byte(base64.StdEncoding.EncodeToString(blocks[idx]) + "\n"), nil
	}

	method := blockReadMethod(t)
	br := NewBlockReader(method, "/tmp/blob", run)

	out, err := io.ReadAll(br)
	require.NoError(t, err)
	assert.Equal(t, bytes.Join(blocks, nil), out)

	// One command per block plus the empty-response terminator, with the
	// block index advancing each time.
	require.Len(t, issued, len(blocks)+1)
	assert.Contains(t, issued[0], "skip=0")
	assert.Contains(t, issued[1], "skip=1")
	assert.Contains(t, issued[3], "skip=3")
}

func TestBlockReader_EmptyFile(t *testing.T) {
	run := func(command string) ([]byte, error) {
		return []byte("\n"), nil
	}

	br := NewBlockReader(blockReadMethod(t), "/tmp/empty", run)

	out, err := io.ReadAll(br)
	require.NoError(t, err)
	assert.Empty(t, out)
}

func TestBlockReader_CommandFailure(t *testing.T) {
	run := func(command string) ([]byte, error) {
		return nil, fmt.Errorf("channel lost")
	}

	br := NewBlockReader(blockReadMethod(t), "/tmp/blob", run)

	_, err := io.ReadAll(br)
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "block 0")
}

func TestBlockReader_BadEncoding(t *testing.T) {
	run := func(command string) ([]byte, error) {
		return []byte("!!! not base64 !!!\n"), nil
	}

	br := NewBlockReader(blockReadMethod(t), "/tmp/blob", run)

	_, err := io.ReadAll(br)
	assert.Error(t, err)
}

func TestBlockReader_CloseStopsLoop(t *testing.T) {
	calls := 0
	run := func(command string) ([]byte, error) {
		calls++
		return []byte(base64.StdEncoding.EncodeToString([]byte("data")) + "\n"), nil
	}

	br := NewBlockReader(blockReadMethod(t), "/tmp/blob", run)

	buf := make([]byte, 2)
	_, err := br.Read(buf)
	require.NoError(t, err)
	require.NoError(t, br.Close())

	_, err = br.Read(buf)
	assert.Equal(t, io.EOF, err)
	assert.Equal(t, 1, calls)
}

func blockReadMethod(t *testing.T) *Method {
	t.Helper()
	method, rerr := Default().Resolve("dd", CapRead, StreamAny, func(name string) string {
		return "/usr/bin/" + name
	})
	require.Nil(t, rerr)
	require.True(t, method.BlockRead)
	return method
}

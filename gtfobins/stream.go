package gtfobins

import (
	"bytes"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
)

// BlockSize is the fixed transfer unit for block-read PRINT methods. It
// matches the bs= argument baked into the catalog's dd recipe.
const BlockSize = 8192

// ErrUnprintable is returned when a PRINT-mode write method is asked to
// carry bytes that cannot round-trip through line printing. The guard runs
// before any byte reaches the channel so remote shell state is never
// corrupted silently.
var ErrUnprintable = errors.New("gtfobins: payload cannot carry non-printable data")

// Printable reports whether data survives a PRINT-mode method: printable
// ASCII plus tab and newline. NUL and other control bytes do not round-trip
// through a terminal.
func Printable(data []byte) bool {
	for _, b := range data {
		if b == '\t' || b == '\n' || b == '\r' {
			continue
		}
		if b < 0x20 || b > 0x7e {
			return false
		}
	}
	return true
}

// WrapReader adapts a raw remote output stream to this method's stream
// mode, decoding base64 or hex on the fly. RAW and PRINT pass through
// untouched.
func (m *Method) WrapReader(raw io.ReadCloser) io.ReadCloser {
	switch m.Stream {
	case StreamBase64:
		return &decodeCloser{
			r:   base64.NewDecoder(base64.StdEncoding, newTextFilter(raw)),
			raw: raw,
		}
	case StreamHex:
		return &decodeCloser{
			r:   hex.NewDecoder(newTextFilter(raw)),
			raw: raw,
		}
	default:
		return raw
	}
}

// WrapWriter adapts a raw remote stdin stream to this method's stream mode,
// encoding chunks before they hit the wire. PRINT mode installs the
// printability guard.
func (m *Method) WrapWriter(raw io.WriteCloser) io.WriteCloser {
	switch m.Stream {
	case StreamBase64:
		return &encodeCloser{
			enc: base64.NewEncoder(base64.StdEncoding, raw),
			raw: raw,
		}
	case StreamHex:
		return &hexEncodeCloser{w: hex.NewEncoder(raw), raw: raw}
	case StreamPrint:
		return &printGuard{raw: raw}
	default:
		return raw
	}
}

// textFilter strips the whitespace a terminal injects into encoded output
// (line wrapping, carriage returns) so the decoder sees a clean alphabet.
type textFilter struct {
	r io.Reader
}

func newTextFilter(r io.Reader) *textFilter {
	return &textFilter{r: r}
}

func (f *textFilter) Read(p []byte) (int, error) {
	for {
		n, err := f.r.Read(p)
		kept := 0
		for i := 0; i < n; i++ {
			switch p[i] {
			case '\r', '\n', ' ', '\t':
			default:
				p[kept] = p[i]
				kept++
			}
		}
		if kept > 0 || err != nil {
			return kept, err
		}
		// The whole chunk was whitespace; read again rather than
		// returning a zero-byte success.
	}
}

// decodeCloser pairs a decoding reader with the raw stream whose Close
// unwinds remote state.
type decodeCloser struct {
	r   io.Reader
	raw io.Closer
}

func (d *decodeCloser) Read(p []byte) (int, error) {
	return d.r.Read(p)
}

func (d *decodeCloser) Close() error {
	return d.raw.Close()
}

// encodeCloser flushes the base64 encoder's final quantum before closing the
// raw stream.
type encodeCloser struct {
	enc io.WriteCloser
	raw io.WriteCloser
}

func (e *encodeCloser) Write(p []byte) (int, error) {
	return e.enc.Write(p)
}

func (e *encodeCloser) Close() error {
	if err := e.enc.Close(); err != nil {
		e.raw.Close()
		return err
	}
	return e.raw.Close()
}

// hexEncodeCloser pairs the streaming hex encoder with the raw stream.
type hexEncodeCloser struct {
	w   io.Writer
	raw io.WriteCloser
}

func (h *hexEncodeCloser) Write(p []byte) (int, error) {
	return h.w.Write(p)
}

func (h *hexEncodeCloser) Close() error {
	return h.raw.Close()
}

// printGuard rejects unprintable payload before a single byte is sent.
type printGuard struct {
	raw io.WriteCloser
}

func (g *printGuard) Write(p []byte) (int, error) {
	if !Printable(p) {
		return 0, ErrUnprintable
	}
	return g.raw.Write(p)
}

func (g *printGuard) Close() error {
	return g.raw.Close()
}

// RunFunc issues one framed remote command and returns its collected
// output. The block reader drives its request/response loop through this so
// the loop can be exercised against a fake responder.
type RunFunc func(command string) ([]byte, error)

// blockState is the explicit state of the block-read loop.
type blockState int

const (
	stateAwaitBlock blockState = iota
	stateDone
)

// BlockReader drives a block-read PRINT method: one `dd skip=N count=1 |
// base64` style command per fixed-size block, looping until the remote side
// answers with an empty line. This replaces the original generator-coroutine
// formulation with a plain state machine.
type BlockReader struct {
	method *Method
	file   string
	run    RunFunc

	state blockState
	block int64
	buf   []byte
}

// NewBlockReader starts the loop at block zero.
func NewBlockReader(method *Method, file string, run RunFunc) *BlockReader {
	return &BlockReader{method: method, file: file, run: run}
}

// Read serves decoded bytes, issuing the next block request whenever the
// buffer runs dry. An empty (or CRLF-only) response transitions to Done.
func (b *BlockReader) Read(p []byte) (int, error) {
	for len(b.buf) == 0 {
		if b.state == stateDone {
			return 0, io.EOF
		}
		command := b.method.Payload(Args{File: b.file, Block: b.block})
		out, err := b.run(command)
		if err != nil {
			return 0, fmt.Errorf("block %d request failed: %w", b.block, err)
		}
		trimmed := bytes.TrimSpace(out)
		if len(trimmed) == 0 {
			b.state = stateDone
			return 0, io.EOF
		}
		decoded, err := base64.StdEncoding.DecodeString(string(trimmed))
		if err != nil {
			return 0, fmt.Errorf("block %d is not valid base64: %w", b.block, err)
		}
		b.buf = decoded
		b.block++
	}
	n := copy(p, b.buf)
	b.buf = b.buf[n:]
	return n, nil
}

// Close abandons the loop; no remote state needs unwinding because every
// block request is a complete framed command.
func (b *BlockReader) Close() error {
	b.state = stateDone
	b.buf = nil
	return nil
}

var _ io.ReadCloser = (*BlockReader)(nil)

package shell

import (
	"bytes"
	"crypto/rand"
	"fmt"
	"time"

	"github.com/grapnel/grapnel/channel"
)

// tokenLength is the sentinel token size. At 12 alphanumeric characters the
// odds of a collision with legitimate command output are treated as
// negligible; there is no further mitigation.
const tokenLength = 12

const tokenAlphabet = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

// NewToken generates a fresh random sentinel token. A new pair is drawn for
// every command invocation and never reused on the same channel.
func NewToken() []byte {
	raw := make([]byte, tokenLength)
	if _, err := rand.Read(raw); err != nil {
		panic("shell: failed to read random bytes")
	}
	token := make([]byte, tokenLength)
	for i, b := range raw {
		token[i] = tokenAlphabet[int(b)%len(tokenAlphabet)]
	}
	return token
}

// conduit layers a pushback buffer over a Channel so that token
// synchronization can hand surplus bytes (arriving in the same chunk as a
// sentinel) back to whoever reads next, typically a RemoteStream.
type conduit struct {
	ch    channel.Channel
	carry []byte
}

func newConduit(ch channel.Channel) *conduit {
	return &conduit{ch: ch}
}

func (c *conduit) Send(data []byte) (int, error) {
	return c.ch.Send(data)
}

func (c *conduit) Recv(p []byte) (int, error) {
	if len(c.carry) > 0 {
		n := copy(p, c.carry)
		c.carry = c.carry[n:]
		return n, nil
	}
	return c.ch.Recv(p)
}

func (c *conduit) Peek(p []byte) (int, error) {
	n := copy(p, c.carry)
	if n == len(p) {
		return n, nil
	}
	m, err := c.ch.Peek(p[n:])
	if n+m == 0 {
		return 0, err
	}
	return n + m, nil
}

func (c *conduit) Drain() error {
	c.carry = nil
	return c.ch.Drain()
}

func (c *conduit) SetReadTimeout(d time.Duration) {
	c.ch.SetReadTimeout(d)
}

func (c *conduit) Close() error {
	c.carry = nil
	return c.ch.Close()
}

// pushback returns unconsumed bytes to the head of the read queue.
func (c *conduit) pushback(data []byte) {
	if len(data) == 0 {
		return
	}
	c.carry = append(append([]byte(nil), data...), c.carry...)
}

// awaitToken blocks reading line by line until a line exactly equal to token
// is observed. This synchronizes the reader past stale buffered output, shell
// banners, and the echoed command line (which contains the token only as part
// of a longer line) before real output begins. Surplus bytes after the token
// line are pushed back for the next reader.
func (c *conduit) awaitToken(token []byte) error {
	var partial []byte
	// A line truncated for memory reasons can no longer be an exact token
	// match; skip it once it completes.
	dirty := false
	tmp := make([]byte, 4096)
	for {
		n, err := c.Recv(tmp)
		if err != nil {
			return fmt.Errorf("lost channel while waiting for sentinel: %w", err)
		}
		data := append(partial, tmp[:n]...)
		for {
			idx := bytes.IndexByte(data, '\n')
			if idx < 0 {
				break
			}
			line := bytes.TrimRight(data[:idx], "\r")
			data = data[idx+1:]
			if dirty {
				dirty = false
				continue
			}
			if bytes.Equal(line, token) {
				c.pushback(data)
				return nil
			}
		}
		partial = data
		if len(partial) > maxSyncLine {
			partial = append([]byte(nil), partial[len(partial)-len(token):]...)
			dirty = true
		}
	}
}

// maxSyncLine caps the partial-line history kept while waiting for a
// sentinel, bounding memory against pathological prompt noise.
const maxSyncLine = 64 * 1024

// collect reads until the end token appears and returns everything before
// it. If the start token still leads the captured region (echo was not
// suppressed) its line is stripped.
func (c *conduit) collect(start, end []byte) ([]byte, error) {
	var buf []byte
	tmp := make([]byte, 4096)
	for {
		if idx := bytes.Index(buf, end); idx >= 0 {
			c.pushback(buf[idx+len(end):])
			return stripStartLine(buf[:idx], start), nil
		}
		n, err := c.Recv(tmp)
		if err != nil {
			return nil, fmt.Errorf("lost channel while collecting output: %w", err)
		}
		buf = append(buf, tmp[:n]...)
	}
}

// stripStartLine removes a leading start-token line (plus surrounding
// newline noise) from captured output.
func stripStartLine(out, start []byte) []byte {
	trimmed := bytes.TrimLeft(out, "\r\n")
	if !bytes.HasPrefix(trimmed, start) {
		return out
	}
	rest := trimmed[len(start):]
	if idx := bytes.IndexByte(rest, '\n'); idx >= 0 {
		return rest[idx+1:]
	}
	return rest
}

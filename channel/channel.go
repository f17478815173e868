package channel

import (
	"errors"
	"time"
)

// DefaultReadTimeout is the read timeout applied to new channels until the
// owner overrides it.
const DefaultReadTimeout = 30 * time.Second

// PeekTimeout is the short timeout used for confirmatory peeks during
// delimiter-split detection. A timeout here means "no more data right now",
// not a transport failure.
const PeekTimeout = 250 * time.Millisecond

var (
	// ErrTimeout indicates no data arrived within the configured read timeout.
	ErrTimeout = errors.New("channel: read timeout")

	// ErrClosed indicates the channel has been closed.
	ErrClosed = errors.New("channel: closed")
)

// Channel is the raw bidirectional byte transport to the remote host. It has
// no framing knowledge: the shell layer builds the delimiter protocol on top
// of exactly these five operations. Bytes are delivered strictly in FIFO
// arrival order.
type Channel interface {
	// Send writes data to the remote host.
	Send(data []byte) (int, error)

	// Recv reads available bytes into p, blocking up to the configured
	// read timeout. Returns ErrTimeout if nothing arrived in time.
	Recv(p []byte) (int, error)

	// Peek reads available bytes into p without consuming them. It blocks
	// at most PeekTimeout waiting for data and may return fewer bytes than
	// requested; zero bytes yields ErrTimeout.
	Peek(p []byte) (int, error)

	// Drain discards any buffered input so stale output does not leak into
	// the next command's framing.
	Drain() error

	// SetReadTimeout sets the timeout applied by Recv.
	SetReadTimeout(d time.Duration)

	// Close tears down the transport.
	Close() error
}

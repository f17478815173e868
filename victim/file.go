package victim

import (
	"fmt"
	"io"
	"strings"

	shellquote "github.com/kballard/go-shellquote"
	"golang.org/x/text/encoding/ianaindex"
	"golang.org/x/text/transform"

	"github.com/grapnel/grapnel/channel"
	"github.com/grapnel/grapnel/core"
	"github.com/grapnel/grapnel/gtfobins"
	"github.com/grapnel/grapnel/shell"
)

// Open opens a remote file for reading. The transfer method is resolved
// from the catalog against the binaries actually present on the victim, and
// the returned stream decodes whatever encoding that method imposes, so the
// caller always reads the file's real bytes.
func (s *Session) Open(path string) (io.ReadCloser, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.available(); err != nil {
		return nil, err
	}
	if err := s.probeRead(path); err != nil {
		return nil, err
	}

	method, rerr := s.catalog.ResolveAny(gtfobins.CapRead, gtfobins.StreamAny, s.whichFunc())
	if rerr != nil {
		return nil, fmt.Errorf("%w: %s", ErrNoMethod, rerr.Error())
	}
	s.log.Debug("reading %s via %s", path, method)

	if method.BlockRead {
		s.busy = true
		s.publish(core.EventStreamOpened, nil)
		return &blockCloser{
			BlockReader: gtfobins.NewBlockReader(method, path, s.lockedRun()),
			release:     s.release,
		}, nil
	}

	args := gtfobins.Args{File: path}
	mode := shell.ModeRead
	if method.Stream == gtfobins.StreamRaw {
		mode |= shell.ModeBinary
	}
	stream, err := s.subprocess(method.Payload(args), shell.SubprocessOptions{
		Mode:        mode,
		Data:        method.Input(args),
		ExitCommand: method.ExitCommand(),
	})
	if err != nil {
		return nil, err
	}
	return method.WrapReader(stream), nil
}

// Create opens a remote file for writing. A positive length allows bounded
// raw methods and is enforced exactly: writes past it are refused and a
// short stream is padded with null bytes on close. Zero length restricts
// resolution to stream-writing methods.
func (s *Session) Create(path string, length int64) (io.WriteCloser, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.available(); err != nil {
		return nil, err
	}
	if err := s.probeWrite(path); err != nil {
		return nil, err
	}

	which := s.whichFunc()
	var method *gtfobins.Method
	var rerr *gtfobins.ResolutionError
	if length > 0 {
		method, rerr = s.catalog.ResolveAny(gtfobins.CapWrite, gtfobins.StreamAny, which)
	}
	if method == nil {
		method, rerr = s.catalog.ResolveAny(gtfobins.CapWriteStream, gtfobins.StreamAny, which)
	}
	if rerr != nil && method == nil {
		return nil, fmt.Errorf("%w: %s", ErrNoMethod, rerr.Error())
	}
	s.log.Debug("writing %s via %s", path, method)

	args := gtfobins.Args{File: path, Length: length}
	mode := shell.ModeWrite
	if method.Stream == gtfobins.StreamRaw {
		mode |= shell.ModeBinary
	}
	opts := shell.SubprocessOptions{
		Mode:        mode,
		Data:        method.Input(args),
		ExitCommand: method.ExitCommand(),
	}
	if method.NeedsLength {
		opts.MaxLength = length
	}
	stream, err := s.subprocess(method.Payload(args), opts)
	if err != nil {
		return nil, err
	}
	return method.WrapWriter(stream), nil
}

// Tempfile creates a remote temporary file and opens it for writing. The
// second return value is the remote path.
func (s *Session) Tempfile(length int64) (io.WriteCloser, string, error) {
	out, err := s.Run(fmt.Sprintf("mktemp %s/.XXXXXXXXXX 2>/dev/null || echo %s/.$$",
		s.tempDir, s.tempDir))
	if err != nil {
		return nil, "", fmt.Errorf("failed to create tempfile: %w", err)
	}
	path := strings.TrimSpace(string(out))
	if path == "" || !strings.HasPrefix(path, "/") {
		return nil, "", fmt.Errorf("unexpected mktemp output %q", path)
	}
	w, err := s.Create(path, length)
	if err != nil {
		return nil, "", err
	}
	return w, path, nil
}

// OpenText opens a remote file for reading and decodes it from charset to
// UTF-8. An empty charset reads the bytes untranslated.
func (s *Session) OpenText(path, charset string) (io.ReadCloser, error) {
	raw, err := s.Open(path)
	if err != nil {
		return nil, err
	}
	if charset == "" {
		return raw, nil
	}
	enc, err := ianaindex.IANA.Encoding(charset)
	if err != nil || enc == nil {
		raw.Close()
		return nil, fmt.Errorf("unknown charset %q", charset)
	}
	return &transformCloser{
		r:   transform.NewReader(raw, enc.NewDecoder()),
		raw: raw,
	}, nil
}

// probeRead checks existence and readability before any transfer method is
// launched, so failures surface as typed errors instead of an empty stream.
// Assumes s.mu is held.
func (s *Session) probeRead(path string) error {
	quoted := shellquote.Join(path)
	out, err := s.runner.Run(fmt.Sprintf(
		"test -r %s && echo R || { test -e %s && echo P || echo M; }", quoted, quoted))
	if err != nil {
		return err
	}
	switch strings.TrimSpace(string(out)) {
	case "R":
		return nil
	case "P":
		return fmt.Errorf("%w: %s", ErrPermissionDenied, path)
	default:
		return fmt.Errorf("%w: %s", ErrFileNotFound, path)
	}
}

// probeWrite checks that path either exists writable or sits in a writable
// directory. Assumes s.mu is held.
func (s *Session) probeWrite(path string) error {
	quoted := shellquote.Join(path)
	dir := shellquote.Join(dirOf(path))
	out, err := s.runner.Run(fmt.Sprintf(
		"if test -e %s; then test -w %s && echo W || echo P; else test -d %s && test -w %s && echo W || echo P; fi",
		quoted, quoted, dir, dir))
	if err != nil {
		return err
	}
	if strings.TrimSpace(string(out)) == "W" {
		return nil
	}
	return fmt.Errorf("%w: %s", ErrPermissionDenied, path)
}

func dirOf(path string) string {
	idx := strings.LastIndex(path, "/")
	if idx <= 0 {
		return "."
	}
	return path[:idx]
}

// lockedRun exposes a run function for the block-read loop. The busy flag is
// already set by the caller, so this bypasses available() but still holds
// the lock for each framed command.
func (s *Session) lockedRun() gtfobins.RunFunc {
	return func(command string) ([]byte, error) {
		s.mu.Lock()
		defer s.mu.Unlock()
		if s.closed {
			return nil, channel.ErrClosed
		}
		return s.runner.Run(command)
	}
}

// blockCloser releases the session when a block-read stream is done.
type blockCloser struct {
	*gtfobins.BlockReader
	release func()
	closed  bool
}

func (b *blockCloser) Close() error {
	if b.closed {
		return nil
	}
	b.closed = true
	err := b.BlockReader.Close()
	b.release()
	return err
}

// transformCloser pairs a charset-translating reader with the raw stream it
// wraps.
type transformCloser struct {
	r   io.Reader
	raw io.Closer
}

func (t *transformCloser) Read(p []byte) (int, error) {
	return t.r.Read(p)
}

func (t *transformCloser) Close() error {
	return t.raw.Close()
}

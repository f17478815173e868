package shell

import (
	"bytes"
	"errors"
	"io"
	"sync"
)

// Mode describes how a RemoteStream is used.
type Mode uint8

const (
	// ModeRead streams the remote process's output to the caller.
	ModeRead Mode = 1 << iota

	// ModeWrite streams the caller's bytes to the remote process's stdin.
	ModeWrite

	// ModeBinary carries raw bytes; the session must be in raw, no-echo
	// state while the stream is open so the terminal layer cannot mangle
	// control bytes.
	ModeBinary
)

// RemoteStream presents a still-open remote process as a byte stream. Read
// detects the end sentinel even when it is split across socket reads, Write
// honors a declared length budget, and Close unwinds remote state exactly
// once no matter how many times it is invoked.
type RemoteStream struct {
	ch   *conduit
	mode Mode

	endDelim []byte
	exitCmd  []byte
	killCmd  []byte

	eof         bool
	transferred int64
	maxLength   int64 // 0 means unbounded

	// restore returns the session to cooked, echoing state; set only when
	// the stream placed it in raw mode.
	restore func()

	// released runs once after EOF so the owning session can hand the
	// channel back out.
	released func()

	mu sync.Mutex
}

// Mode returns the stream's mode flags.
func (s *RemoteStream) Mode() Mode {
	return s.mode
}

// BytesTransferred reports how many payload bytes have moved so far.
func (s *RemoteStream) BytesTransferred() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.transferred
}

// Read fills p with remote output, trimming the end sentinel and everything
// after it. Returning sentinel bytes as payload, or missing a sentinel split
// exactly at a read boundary, are both correctness bugs this method exists to
// prevent.
func (s *RemoteStream) Read(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.eof {
		return 0, io.EOF
	}
	if s.mode&ModeRead == 0 {
		return 0, errors.New("stream not opened for reading")
	}
	if len(p) == 0 {
		return 0, nil
	}

	n, err := s.ch.Recv(p)
	if err != nil {
		return 0, err
	}
	chunk := p[:n]

	// Full delimiter inside this chunk: trim and finish. Anything after
	// the delimiter is shell noise and is discarded by the EOF drain.
	if idx := bytes.Index(chunk, s.endDelim); idx >= 0 {
		s.onEOF()
		if idx == 0 {
			return 0, io.EOF
		}
		return idx, nil
	}

	// The delimiter may be split across this read and the next. For every
	// chunk suffix matching a delimiter prefix (longest first), peek ahead
	// to see whether the remainder actually follows. A peek timeout or
	// mismatch means the tail bytes are ordinary payload.
	maxOverlap := len(s.endDelim) - 1
	if maxOverlap > n {
		maxOverlap = n
	}
	for l := maxOverlap; l > 0; l-- {
		if !bytes.Equal(chunk[n-l:], s.endDelim[:l]) {
			continue
		}
		need := len(s.endDelim) - l
		ahead := make([]byte, need)
		m, perr := s.ch.Peek(ahead)
		if perr != nil || m < need {
			continue
		}
		if !bytes.Equal(ahead[:need], s.endDelim[l:]) {
			continue
		}
		// Confirmed: consume the peeked remainder for real.
		if err := s.consume(need); err != nil {
			return 0, err
		}
		s.onEOF()
		if n-l == 0 {
			return 0, io.EOF
		}
		return n - l, nil
	}

	return n, nil
}

// Write sends data to the remote process, truncating to the remaining length
// budget when one was declared. Writes after EOF are tolerated as no-ops.
func (s *RemoteStream) Write(data []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.eof {
		return 0, nil
	}
	if s.mode&ModeWrite == 0 {
		return 0, errors.New("stream not opened for writing")
	}

	if s.maxLength > 0 {
		remaining := s.maxLength - s.transferred
		if remaining <= 0 {
			s.onEOF()
			return 0, nil
		}
		if int64(len(data)) > remaining {
			data = data[:remaining]
		}
	}

	n, err := s.ch.Send(data)
	s.transferred += int64(n)
	if err != nil {
		return n, err
	}
	if s.maxLength > 0 && s.transferred >= s.maxLength {
		s.onEOF()
	}
	return n, nil
}

// Close is idempotent. A write stream that underran a declared length budget
// is padded out with null bytes first: length-based write methods block until
// the full count arrives and the remote shell will not return control
// otherwise. A read stream abandoned before EOF gets a best-effort kill of
// the background job so no dangling reader is left behind.
func (s *RemoteStream) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.eof {
		return nil
	}

	if s.mode&ModeWrite != 0 && s.maxLength > 0 && s.transferred < s.maxLength {
		if err := s.pad(s.maxLength - s.transferred); err != nil {
			// Still transition so cleanup is not skipped.
			s.onEOF()
			return err
		}
		if s.eof {
			return nil
		}
	}

	if s.mode&ModeWrite == 0 && len(s.killCmd) > 0 {
		s.ch.Send(s.killCmd) // best effort
	}

	s.onEOF()
	return nil
}

// onEOF performs the one-way open->ended transition: send the registered
// exit command, flush whatever is still buffered so it cannot leak into the
// next command's framing, and restore the terminal state. Caller holds s.mu.
func (s *RemoteStream) onEOF() {
	if s.eof {
		return
	}
	s.eof = true
	if len(s.exitCmd) > 0 {
		s.ch.Send(s.exitCmd)
	}
	s.ch.Drain()
	if s.restore != nil {
		s.restore()
	}
	if s.released != nil {
		s.released()
	}
}

// pad streams count null bytes through the length accounting. Caller holds
// s.mu.
func (s *RemoteStream) pad(count int64) error {
	zeros := make([]byte, 4096)
	for count > 0 {
		chunk := zeros
		if count < int64(len(chunk)) {
			chunk = chunk[:count]
		}
		n, err := s.ch.Send(chunk)
		s.transferred += int64(n)
		count -= int64(n)
		if err != nil {
			return err
		}
	}
	if s.maxLength > 0 && s.transferred >= s.maxLength {
		s.onEOF()
	}
	return nil
}

// consume destructively reads exactly n already-peeked bytes. Caller holds
// s.mu.
func (s *RemoteStream) consume(n int) error {
	scratch := make([]byte, n)
	for off := 0; off < n; {
		m, err := s.ch.Recv(scratch[off:])
		if err != nil {
			return err
		}
		off += m
	}
	return nil
}

var _ io.ReadWriteCloser = (*RemoteStream)(nil)

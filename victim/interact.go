package victim

import (
	"errors"
	"io"
	"sync/atomic"

	"github.com/grapnel/grapnel/channel"
)

// Interact bridges the operator's terminal straight onto the channel with no
// framing: bytes from in go to the victim, bytes from the victim go to out.
// It returns when in reports EOF or either direction fails. The session is
// busy for the duration, and the prompt state afterwards is whatever the
// operator left behind; the next framed command resynchronizes off its start
// token.
func (s *Session) Interact(in io.Reader, out io.Writer) error {
	s.mu.Lock()
	if err := s.available(); err != nil {
		s.mu.Unlock()
		return err
	}
	s.busy = true
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		s.busy = false
		s.mu.Unlock()
	}()

	var stop atomic.Bool
	defer stop.Store(true)

	errs := make(chan error, 2)

	go func() {
		buf := make([]byte, 4096)
		for !stop.Load() {
			n, err := s.ch.Recv(buf)
			if n > 0 {
				if _, werr := out.Write(buf[:n]); werr != nil {
					errs <- werr
					return
				}
			}
			if err != nil {
				if errors.Is(err, channel.ErrTimeout) {
					continue
				}
				errs <- err
				return
			}
		}
	}()

	go func() {
		buf := make([]byte, 4096)
		for {
			n, err := in.Read(buf)
			if n > 0 {
				if _, serr := s.ch.Send(buf[:n]); serr != nil {
					errs <- serr
					return
				}
			}
			if err != nil {
				errs <- err
				return
			}
		}
	}()

	err := <-errs
	if errors.Is(err, io.EOF) {
		return nil
	}
	return err
}

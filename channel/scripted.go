package channel

import (
	"bytes"
	"sync"
	"time"
)

// Scripted is an in-memory Channel used by tests. Queued chunks are served
// one per Recv call so tests control exactly where the transport splits the
// byte stream; Peek sees across chunk boundaries without consuming. An
// optional Responder simulates the remote shell by turning each sent line
// into reply chunks.
type Scripted struct {
	mu     sync.Mutex
	inbox  [][]byte
	sent   bytes.Buffer
	closed bool

	// Responder, when set, is invoked once per newline-terminated line the
	// caller sends and its return chunks are queued for Recv.
	Responder func(line []byte) [][]byte

	pending []byte // partial line awaiting its newline before Responder runs
}

// NewScripted returns an empty scripted channel.
func NewScripted() *Scripted {
	return &Scripted{}
}

// QueueRecv appends chunks to the inbox. Each chunk is handed to exactly one
// Recv call.
func (s *Scripted) QueueRecv(chunks ...[]byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, c := range chunks {
		dup := make([]byte, len(c))
		copy(dup, c)
		s.inbox = append(s.inbox, dup)
	}
}

// Sent returns everything written so far.
func (s *Scripted) Sent() []byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]byte(nil), s.sent.Bytes()...)
}

// SentLines returns the sent bytes split on newlines, empty tail removed.
func (s *Scripted) SentLines() [][]byte {
	raw := s.Sent()
	lines := bytes.Split(raw, []byte("\n"))
	if len(lines) > 0 && len(lines[len(lines)-1]) == 0 {
		lines = lines[:len(lines)-1]
	}
	return lines
}

// Send records data and feeds completed lines to the Responder.
func (s *Scripted) Send(data []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return 0, ErrClosed
	}
	s.sent.Write(data)
	if s.Responder == nil {
		return len(data), nil
	}
	s.pending = append(s.pending, data...)
	for {
		idx := bytes.IndexByte(s.pending, '\n')
		if idx < 0 {
			break
		}
		line := append([]byte(nil), s.pending[:idx]...)
		s.pending = s.pending[idx+1:]
		for _, chunk := range s.Responder(line) {
			if len(chunk) > 0 {
				s.inbox = append(s.inbox, chunk)
			}
		}
	}
	return len(data), nil
}

// Recv serves the head chunk, retaining any remainder for the next call.
func (s *Scripted) Recv(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return 0, ErrClosed
	}
	if len(s.inbox) == 0 {
		return 0, ErrTimeout
	}
	head := s.inbox[0]
	n := copy(p, head)
	if n < len(head) {
		s.inbox[0] = head[n:]
	} else {
		s.inbox = s.inbox[1:]
	}
	return n, nil
}

// Peek copies queued bytes across chunk boundaries without consuming them.
func (s *Scripted) Peek(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return 0, ErrClosed
	}
	n := 0
	for _, chunk := range s.inbox {
		n += copy(p[n:], chunk)
		if n == len(p) {
			break
		}
	}
	if n == 0 {
		return 0, ErrTimeout
	}
	return n, nil
}

// Drain empties the inbox.
func (s *Scripted) Drain() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	s.inbox = nil
	return nil
}

// SetReadTimeout is a no-op: scripted reads never block.
func (s *Scripted) SetReadTimeout(time.Duration) {}

// Close marks the channel closed.
func (s *Scripted) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

package engine

import "sync"

// Stream is an append-only byte buffer fed by a running call and read by
// cursor, so a reader can poll it repeatedly without seeing a byte twice.
type Stream struct {
	mu     sync.Mutex
	data   []byte
	closed bool
}

// Write appends p. Writes after Close are dropped.
func (s *Stream) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return len(p), nil
	}
	s.data = append(s.data, p...)
	return len(p), nil
}

// ReadFrom returns a copy of everything written after cursor and the cursor
// to use for the next read.
func (s *Stream) ReadFrom(cursor int) ([]byte, int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if cursor < 0 {
		cursor = 0
	}
	if cursor >= len(s.data) {
		return nil, len(s.data)
	}
	out := append([]byte(nil), s.data[cursor:]...)
	return out, len(s.data)
}

func (s *Stream) Close() {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
}

// Package engine drives the numerical-engine session that mshell forwards
// commands to. The session is reached only through Backend: invoke a named
// command with a text argument, poll the returned Call, read its output.
package engine

import (
	"context"
	"sync"
)

// Backend is a live engine session. Implementations do not support
// concurrent calls; callers serialize access.
type Backend interface {
	// Invoke starts name(arg) asynchronously.
	Invoke(ctx context.Context, name, arg string) (Call, error)
	ChangeDirectory(ctx context.Context, dir string) error
	Close() error
}

// Call is one in-flight invocation.
type Call interface {
	ID() string
	// Done is closed once the call has completed and both streams are closed.
	Done() <-chan struct{}
	// Err is the classified outcome; only meaningful after Done.
	Err() error
	Stdout() *Stream
	Stderr() *Stream
}

// Handle is the Call implementation shared by backends.
type Handle struct {
	id     string
	stdout Stream
	stderr Stream

	once sync.Once
	done chan struct{}
	mu   sync.Mutex
	err  error
}

func NewHandle(id string) *Handle {
	return &Handle{id: id, done: make(chan struct{})}
}

func (h *Handle) ID() string            { return h.id }
func (h *Handle) Done() <-chan struct{} { return h.done }
func (h *Handle) Stdout() *Stream       { return &h.stdout }
func (h *Handle) Stderr() *Stream       { return &h.stderr }

func (h *Handle) Err() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.err
}

// Finished reports whether Finish has been called.
func (h *Handle) Finished() bool {
	select {
	case <-h.done:
		return true
	default:
		return false
	}
}

// Finish closes both streams and resolves the call with err. Only the first
// call has any effect.
func (h *Handle) Finish(err error) {
	h.once.Do(func() {
		h.mu.Lock()
		h.err = err
		h.mu.Unlock()
		h.stdout.Close()
		h.stderr.Close()
		close(h.done)
	})
}

// Package executor serializes every command sent to the engine session,
// whichever origin it comes from, and turns the engine's pollable output
// streams into line-oriented results.
package executor

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/antonkrylov/mshell/internal/engine"
	"github.com/antonkrylov/mshell/internal/journal"
)

// Origin is where a command came from.
type Origin int

const (
	OriginInteractive Origin = iota
	OriginSocket
)

func (o Origin) String() string {
	switch o {
	case OriginInteractive:
		return "interactive"
	case OriginSocket:
		return "socket"
	default:
		return "unknown"
	}
}

// Stream names one of the two captured output streams.
type Stream int

const (
	Stdout Stream = iota
	Stderr
)

// Display receives captured lines as soon as they are complete, before the
// command has finished.
type Display interface {
	Line(origin Origin, stream Stream, text string)
}

// Request is a command to run against the session.
type Request struct {
	ID     string
	Name   string
	Arg    string
	Origin Origin
}

// Result is the captured output of one command. Failures are also present
// in Stderr, so a caller that only forwards output loses nothing.
type Result struct {
	ID       string
	Origin   Origin
	Name     string
	Arg      string
	Stdout   []string
	Stderr   []string
	Kind     engine.Kind
	Duration time.Duration
}

// Session describes the backend the executor currently owns.
type Session struct {
	Name   string
	Dir    string
	Active bool
}

type Config struct {
	Backend      engine.Backend
	SessionName  string
	Dir          string
	PollInterval time.Duration
	// Timeout bounds a single command; zero waits forever.
	Timeout  time.Duration
	Display  Display
	Recorder journal.Recorder
	Logger   *slog.Logger
}

// Executor owns the engine session. All methods are safe for concurrent
// use and run one at a time.
type Executor struct {
	mu        sync.Mutex
	backend   engine.Backend
	session   Session
	cap       capture
	abandoned engine.Call

	poll     time.Duration
	timeout  time.Duration
	display  Display
	recorder journal.Recorder
	logger   *slog.Logger
}

func New(cfg Config) (*Executor, error) {
	if cfg.Backend == nil {
		return nil, fmt.Errorf("backend is required")
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 50 * time.Millisecond
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Executor{
		backend:  cfg.Backend,
		session:  Session{Name: cfg.SessionName, Dir: cfg.Dir, Active: true},
		poll:     cfg.PollInterval,
		timeout:  cfg.Timeout,
		display:  cfg.Display,
		recorder: cfg.Recorder,
		logger:   cfg.Logger,
	}, nil
}

// Execute runs one command and returns everything it printed. The returned
// error carries the engine.Kind of a failed command; the Result is non-nil
// either way.
func (e *Executor) Execute(ctx context.Context, req Request) (*Result, error) {
	if req.ID == "" {
		req.ID = uuid.NewString()
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	started := time.Now()
	err := e.runLocked(ctx, req)

	res := &Result{ID: req.ID, Origin: req.Origin, Name: req.Name, Arg: req.Arg}
	res.Stdout, res.Stderr = e.cap.snapshot()
	e.cap.reset()
	if err != nil {
		res.Kind = engine.KindOf(err)
		msg := engine.MessageOf(err)
		if !containsLine(res.Stderr, msg) {
			res.Stderr = append(res.Stderr, msg)
			e.show(req.Origin, Stderr, []string{msg})
		}
		switch res.Kind {
		case engine.KindInternal:
			e.logger.Error("command failed", "id", req.ID, "origin", req.Origin.String(), "name", req.Name, "err", err)
		case engine.KindUnavailable:
			e.session.Active = false
			e.logger.Warn("engine session unavailable", "session", e.session.Name, "err", err)
		default:
			e.logger.Debug("command failed", "id", req.ID, "kind", res.Kind.String(), "err", err)
		}
	}
	res.Duration = time.Since(started)
	e.record(ctx, res, started)
	return res, err
}

func (e *Executor) runLocked(ctx context.Context, req Request) error {
	if !e.session.Active {
		return engine.Errorf(engine.KindUnavailable, "no active engine session")
	}
	if e.abandoned != nil {
		select {
		case <-e.abandoned.Done():
			e.abandoned = nil
		default:
			return engine.Errorf(engine.KindRejected, "previous call %s has not finished", e.abandoned.ID())
		}
	}
	call, err := e.backend.Invoke(ctx, req.Name, req.Arg)
	if err != nil {
		return err
	}
	return e.wait(ctx, req, call)
}

// wait polls call until it completes, draining output on every wake.
func (e *Executor) wait(ctx context.Context, req Request, call engine.Call) error {
	ticker := time.NewTicker(e.poll)
	defer ticker.Stop()
	var timeout <-chan time.Time
	if e.timeout > 0 {
		timer := time.NewTimer(e.timeout)
		defer timer.Stop()
		timeout = timer.C
	}
	for {
		select {
		case <-call.Done():
			e.drain(req.Origin, call)
			e.flush(req.Origin)
			return call.Err()
		case <-ticker.C:
			e.drain(req.Origin, call)
		case <-timeout:
			e.drain(req.Origin, call)
			e.flush(req.Origin)
			e.abandoned = call
			return engine.Errorf(engine.KindTimeout, "no completion after %s", e.timeout)
		case <-ctx.Done():
			e.drain(req.Origin, call)
			e.flush(req.Origin)
			e.abandoned = call
			return engine.Wrap(engine.KindTimeout, "stopped waiting", ctx.Err())
		}
	}
}

func (e *Executor) drain(origin Origin, call engine.Call) {
	out, errOut := e.cap.drain(call)
	e.show(origin, Stdout, out)
	e.show(origin, Stderr, errOut)
}

func (e *Executor) flush(origin Origin) {
	out, errOut := e.cap.flush()
	e.show(origin, Stdout, out)
	e.show(origin, Stderr, errOut)
}

func (e *Executor) show(origin Origin, stream Stream, lines []string) {
	if e.display == nil {
		return
	}
	for _, l := range lines {
		e.display.Line(origin, stream, l)
	}
}

func (e *Executor) record(ctx context.Context, res *Result, started time.Time) {
	if e.recorder == nil {
		return
	}
	entry := journal.Entry{
		ID:         res.ID,
		Session:    e.session.Name,
		Origin:     res.Origin.String(),
		Name:       res.Name,
		Arg:        res.Arg,
		Stdout:     res.Stdout,
		Stderr:     res.Stderr,
		StartedAt:  started.UTC(),
		DurationMs: res.Duration.Milliseconds(),
	}
	if res.Kind != engine.KindNone {
		entry.Error = res.Kind.String()
	}
	if err := e.recorder.Record(context.WithoutCancel(ctx), entry); err != nil {
		e.logger.Warn("journal record failed", "id", res.ID, "err", err)
	}
}

// ChangeDirectory moves the session's working directory.
func (e *Executor) ChangeDirectory(ctx context.Context, dir string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.session.Active {
		return engine.Errorf(engine.KindUnavailable, "no active engine session")
	}
	if e.abandoned != nil {
		select {
		case <-e.abandoned.Done():
			e.abandoned = nil
		default:
			return engine.Errorf(engine.KindRejected, "previous call %s has not finished", e.abandoned.ID())
		}
	}
	if err := e.backend.ChangeDirectory(ctx, dir); err != nil {
		return err
	}
	e.session.Dir = dir
	return nil
}

// Attach replaces the session's backend, closing the previous one.
func (e *Executor) Attach(name string, b engine.Backend, dir string) error {
	if b == nil {
		return fmt.Errorf("backend is required")
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	old := e.backend
	e.backend = b
	e.session = Session{Name: name, Dir: dir, Active: true}
	e.abandoned = nil
	e.cap.reset()
	if old != nil && old != b {
		if err := old.Close(); err != nil {
			e.logger.Warn("close previous engine session", "err", err)
		}
	}
	e.logger.Info("engine session attached", "session", name)
	return nil
}

func (e *Executor) Session() Session {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.session
}

// Close ends the session. It waits for a command in flight.
func (e *Executor) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.session.Active = false
	if e.backend == nil {
		return nil
	}
	return e.backend.Close()
}

func containsLine(lines []string, s string) bool {
	for _, l := range lines {
		if l == s {
			return true
		}
	}
	return false
}

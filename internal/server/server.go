// Package server exposes the executor over TCP: one client at a time sends
// command lines and receives one JSON response line per command.
package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"sync"
	"syscall"

	"github.com/google/uuid"

	"github.com/antonkrylov/mshell/internal/command"
	"github.com/antonkrylov/mshell/internal/engine"
	"github.com/antonkrylov/mshell/internal/executor"
	"github.com/antonkrylov/mshell/internal/protocol"
)

// DefaultListenAddr is used when no address is configured.
const DefaultListenAddr = "127.0.0.1:4000"

var (
	// ErrSocketBind reports that the listen address could not be bound.
	ErrSocketBind = errors.New("socket bind failed")
	// ErrConnectionReset reports a connection that broke mid-conversation.
	ErrConnectionReset = errors.New("connection reset")
	ErrRunning         = errors.New("socket server already running")
)

// Executor runs socket-origin commands.
type Executor interface {
	Execute(ctx context.Context, req executor.Request) (*executor.Result, error)
}

type Config struct {
	ListenAddr string
	Executor   Executor
	Logger     *slog.Logger
	// State is updated as the server moves through its lifecycle. New
	// allocates one when nil.
	State *State
}

type Server struct {
	cfg   Config
	state *State

	mu  sync.Mutex
	run *run
}

// run is one Start/Stop cycle.
type run struct {
	lis    net.Listener
	cancel context.CancelFunc
	done   chan struct{}

	mu   sync.Mutex
	conn net.Conn
}

func New(cfg Config) (*Server, error) {
	if cfg.Executor == nil {
		return nil, fmt.Errorf("executor is required")
	}
	if cfg.ListenAddr == "" {
		cfg.ListenAddr = DefaultListenAddr
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if cfg.State == nil {
		cfg.State = &State{}
	}
	return &Server{cfg: cfg, state: cfg.State}, nil
}

func (s *Server) State() *State { return s.state }

// SetListenAddr changes the address used by the next Start.
func (s *Server) SetListenAddr(addr string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if addr != "" {
		s.cfg.ListenAddr = addr
	}
}

// Start binds the listener and serves connections in the background until
// Stop is called or ctx is done. A bind failure leaves the server inactive.
func (s *Server) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.run != nil {
		return fmt.Errorf("%w on %s", ErrRunning, s.state.Addr())
	}
	s.state.set(PhaseStarting, "")
	lis, err := net.Listen("tcp", s.cfg.ListenAddr)
	if err != nil {
		s.state.set(PhaseInactive, "")
		return fmt.Errorf("%w: %s: %v", ErrSocketBind, s.cfg.ListenAddr, err)
	}
	ctx, cancel := context.WithCancel(ctx)
	r := &run{lis: lis, cancel: cancel, done: make(chan struct{})}
	s.run = r
	s.state.set(PhaseListening, lis.Addr().String())
	s.cfg.Logger.Info("socket server listening", "addr", lis.Addr().String())

	go s.serve(ctx, r)
	go func() {
		select {
		case <-ctx.Done():
			s.stop(r)
		case <-r.done:
		}
	}()
	return nil
}

func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.run == nil {
		return nil
	}
	return s.run.lis.Addr()
}

// Stop closes the listener and any live connection and waits for the accept
// loop to exit. It is safe to call at any time, repeatedly.
func (s *Server) Stop() {
	s.mu.Lock()
	r := s.run
	s.mu.Unlock()
	if r != nil {
		s.stop(r)
	}
}

func (s *Server) stop(r *run) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.run != r {
		return
	}
	s.run = nil
	s.state.set(PhaseStopping, s.state.Addr())
	r.cancel()
	_ = r.lis.Close()
	r.mu.Lock()
	if r.conn != nil {
		_ = r.conn.Close()
	}
	r.mu.Unlock()
	<-r.done
	s.state.set(PhaseInactive, "")
	s.cfg.Logger.Info("socket server stopped")
}

func (s *Server) serve(ctx context.Context, r *run) {
	defer close(r.done)
	for {
		conn, err := r.lis.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return
			}
			s.cfg.Logger.Warn("socket accept failed", "err", err)
			continue
		}
		r.mu.Lock()
		if ctx.Err() != nil {
			r.mu.Unlock()
			_ = conn.Close()
			return
		}
		r.conn = conn
		r.mu.Unlock()

		connID := uuid.NewString()[:8]
		remote := conn.RemoteAddr().String()
		s.state.connected(remote)
		s.cfg.Logger.Info("socket client connected", "conn", connID, "remote", remote)

		err = s.handle(ctx, connID, conn)

		r.mu.Lock()
		r.conn = nil
		r.mu.Unlock()
		_ = conn.Close()
		if ctx.Err() == nil {
			s.state.disconnected()
		}
		switch {
		case err == nil:
			s.cfg.Logger.Info("socket client disconnected", "conn", connID)
		case errors.Is(err, ErrConnectionReset):
			s.cfg.Logger.Warn("socket client reset", "conn", connID, "err", err)
		case ctx.Err() != nil:
		default:
			s.cfg.Logger.Warn("socket connection failed", "conn", connID, "err", err)
		}
	}
}

// handle answers request lines until the peer goes away.
func (s *Server) handle(ctx context.Context, connID string, conn net.Conn) error {
	reader := protocol.NewReader(conn)
	for {
		line, err := reader.ReadLine()
		if err != nil {
			return connErr(err)
		}
		resp := s.respond(ctx, connID, line)
		if err := protocol.WriteResponse(conn, resp); err != nil {
			return connErr(err)
		}
	}
}

func (s *Server) respond(ctx context.Context, connID, line string) *protocol.Response {
	id := uuid.NewString()
	cmd, err := command.Parse(line)
	if err == nil && cmd.Local() {
		err = engine.Errorf(engine.KindSyntax, "%q is a local shell action and is not accepted over the socket", cmd.Line)
	}
	if err != nil {
		s.cfg.Logger.Debug("socket request refused", "conn", connID, "id", id, "err", err)
		return protocol.NewResponse(id, nil, []string{engine.MessageOf(err)}, err)
	}
	res, err := s.cfg.Executor.Execute(ctx, executor.Request{
		ID:     id,
		Name:   cmd.Name,
		Arg:    cmd.Arg,
		Origin: executor.OriginSocket,
	})
	if res == nil {
		return protocol.NewResponse(id, nil, []string{engine.MessageOf(err)}, err)
	}
	return protocol.NewResponse(res.ID, res.Stdout, res.Stderr, err)
}

func connErr(err error) error {
	switch {
	case errors.Is(err, io.EOF), errors.Is(err, net.ErrClosed):
		return nil
	case errors.Is(err, syscall.ECONNRESET), errors.Is(err, syscall.EPIPE),
		errors.Is(err, protocol.ErrPartialLine):
		return fmt.Errorf("%w: %v", ErrConnectionReset, err)
	default:
		return err
	}
}

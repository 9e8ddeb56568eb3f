package shell

import (
	"context"
	"errors"
	"strings"

	"github.com/antonkrylov/mshell/internal/command"
	"github.com/antonkrylov/mshell/internal/engine"
)

func (s *Shell) escape(ctx context.Context, cmd command.Command) bool {
	switch cmd.Name {
	case "help", "h", "?":
		s.printer.Raw(Instructions + "\n")
	case "quit", "exit", "q":
		return true
	case "socket":
		s.socket(ctx, cmd.Args)
	case "session":
		s.session(ctx, cmd.Args)
	case "cd":
		s.cd(ctx, cmd.Arg)
	case "pwd":
		if dir := s.cfg.Executor.Session().Dir; dir != "" {
			s.printer.Local("%s", dir)
		} else {
			s.printer.Local("working directory unknown (engine default)")
		}
	default:
		s.printer.Local("unknown action !%s (try !help)", cmd.Name)
	}
	return false
}

func (s *Shell) socket(ctx context.Context, args []string) {
	if s.cfg.Socket == nil {
		s.printer.Local("socket server is not available")
		return
	}
	action := "status"
	if len(args) > 0 {
		action = strings.ToLower(args[0])
	}
	state := s.cfg.Socket.State()
	switch action {
	case "start":
		if state.Active() {
			s.printer.Local("socket server already listening on %s", state.Addr())
			return
		}
		if len(args) > 1 {
			s.cfg.Socket.SetListenAddr(args[1])
		}
		if err := s.cfg.Socket.Start(ctx); err != nil {
			s.printer.Local("socket server not started: %v", err)
			return
		}
		s.printer.Local("socket server listening on %s", state.Addr())
	case "stop":
		if !state.Active() {
			s.printer.Local("socket server is not running")
			return
		}
		s.cfg.Socket.Stop()
		s.printer.Local("socket server stopped")
	case "status":
		switch {
		case state.Connected():
			s.printer.Local("socket server %s on %s, client %s", state.Phase(), state.Addr(), state.Remote())
		case state.Active():
			s.printer.Local("socket server %s on %s", state.Phase(), state.Addr())
		default:
			s.printer.Local("socket server %s", state.Phase())
		}
	default:
		s.printer.Local("usage: !socket start [addr] | !socket stop | !socket status")
	}
}

func (s *Shell) session(ctx context.Context, args []string) {
	action := "status"
	if len(args) > 0 {
		action = strings.ToLower(args[0])
	}
	switch action {
	case "status":
		sess := s.cfg.Executor.Session()
		state := "inactive"
		if sess.Active {
			state = "active"
		}
		name := sess.Name
		if name == "" {
			name = "(default)"
		}
		s.printer.Local("session %s: %s, dir %s", name, state, orUnknown(sess.Dir))
	case "start", "attach":
		name := ""
		if action == "attach" {
			if len(args) < 2 {
				s.printer.Local("usage: !session attach <name>")
				return
			}
			name = args[1]
		} else {
			name = s.cfg.Executor.Session().Name
		}
		s.open(ctx, name)
	default:
		s.printer.Local("usage: !session start | !session attach <name> | !session status")
	}
}

func (s *Shell) open(ctx context.Context, name string) {
	if s.cfg.Opener == nil {
		s.printer.Local("starting sessions is not supported here")
		return
	}
	label := name
	if label == "" {
		label = "(default)"
	}
	s.printer.Local("starting engine session %s...", label)
	backend, dir, err := s.cfg.Opener(ctx, name)
	if err != nil {
		s.printer.Local("session %s not started: %s", label, engine.MessageOf(err))
		return
	}
	if err := s.cfg.Executor.Attach(name, backend, dir); err != nil {
		_ = backend.Close()
		s.printer.Local("session %s not attached: %v", label, err)
		return
	}
	s.printer.Local("attached to session %s", label)
}

func (s *Shell) cd(ctx context.Context, dir string) {
	dir = strings.TrimSpace(dir)
	if dir == "" {
		s.printer.Local("usage: !cd <dir>")
		return
	}
	if err := s.cfg.Executor.ChangeDirectory(ctx, dir); err != nil {
		if errors.Is(err, engine.ErrUnavailable) {
			s.printer.Local("no active engine session")
			return
		}
		s.printer.Local("cd %s: %s", dir, engine.MessageOf(err))
		return
	}
	s.printer.Local("%s", dir)
}

func orUnknown(s string) string {
	if s == "" {
		return "unknown"
	}
	return s
}

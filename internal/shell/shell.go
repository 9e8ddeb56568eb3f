// Package shell is the interactive read-eval-print loop in front of the
// engine session.
package shell

import (
	"bufio"
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"strings"

	"golang.org/x/term"

	"github.com/antonkrylov/mshell/internal/command"
	"github.com/antonkrylov/mshell/internal/engine"
	"github.com/antonkrylov/mshell/internal/executor"
	"github.com/antonkrylov/mshell/internal/server"
)

// DefaultPrompt is printed before each line when input is a terminal.
const DefaultPrompt = "mshell>>> "

// Instructions is shown at startup and by !help.
const Instructions = `========================================================================
Every line is sent to the engine session running in the background.
  run script         run script.m (parentheses and .m are optional)
  help [topic]       engine help; doc [topic] opens the documentation
  <Enter>            list the session's variables
  quit | exit        leave the shell
Local actions:
  !socket start [addr] | !socket stop | !socket status
  !session start | !session attach <name> | !session status
  !cd <dir> | !pwd | !help | !quit
========================================================================`

// Socket is the part of the socket server the shell controls.
type Socket interface {
	Start(ctx context.Context) error
	Stop()
	SetListenAddr(addr string)
	State() *server.State
}

// Opener starts a backend for a named session profile. An empty name means
// the current profile. It returns the working directory the backend starts
// in, if known.
type Opener func(ctx context.Context, name string) (engine.Backend, string, error)

type Config struct {
	In       io.Reader
	Out      io.Writer
	Executor *executor.Executor
	// Printer must be the executor's Display so command output reaches Out.
	Printer *Printer
	Socket  Socket
	Opener  Opener
	Prompt  string
	// Banner prints Instructions before the first prompt.
	Banner bool
	Logger *slog.Logger
}

type Shell struct {
	cfg         Config
	printer     *Printer
	interactive bool
}

func New(cfg Config) (*Shell, error) {
	if cfg.Executor == nil {
		return nil, errors.New("executor is required")
	}
	if cfg.In == nil {
		cfg.In = os.Stdin
	}
	if cfg.Out == nil {
		cfg.Out = os.Stdout
	}
	if cfg.Printer == nil {
		cfg.Printer = NewPrinter(cfg.Out, nil)
	}
	if cfg.Prompt == "" {
		cfg.Prompt = DefaultPrompt
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	s := &Shell{cfg: cfg, printer: cfg.Printer}
	if f, ok := cfg.In.(*os.File); ok {
		s.interactive = term.IsTerminal(int(f.Fd()))
	}
	if cfg.Socket != nil {
		state := cfg.Socket.State()
		s.printer.SetMirror(state.Connected)
	}
	return s, nil
}

// Run reads lines until EOF, quit or ctx is done. Command failures are
// printed and never end the loop.
func (s *Shell) Run(ctx context.Context) error {
	if s.cfg.Banner {
		s.printer.Raw(Instructions + "\n")
	}
	lines, errs := startLineReader(ctx, s.cfg.In)
	for {
		s.prompt()
		select {
		case <-ctx.Done():
			s.newline()
			return nil
		case line, ok := <-lines:
			if !ok {
				if err := <-errs; err != nil && !errors.Is(err, context.Canceled) {
					s.printer.Local("read input: %v", err)
					s.cfg.Logger.Warn("input closed", "err", err)
				}
				s.newline()
				return nil
			}
			if quit := s.Handle(ctx, line); quit {
				return nil
			}
		}
	}
}

// Handle processes one line and reports whether the shell should exit.
func (s *Shell) Handle(ctx context.Context, line string) bool {
	cmd, err := command.Parse(line)
	if err != nil {
		s.printer.Local("%s", engine.MessageOf(err))
		return false
	}
	switch cmd.Kind {
	case command.Quit:
		return true
	case command.Escape:
		return s.escape(ctx, cmd)
	}
	_, err = s.cfg.Executor.Execute(ctx, executor.Request{
		Name:   cmd.Name,
		Arg:    cmd.Arg,
		Origin: executor.OriginInteractive,
	})
	switch engine.KindOf(err) {
	case engine.KindUnavailable:
		s.printer.Local("no active engine session, use !session start or !session attach <name>")
	case engine.KindTimeout, engine.KindRejected:
		s.printer.Local("the engine is still busy with an earlier command")
	}
	return false
}

func (s *Shell) prompt() {
	if s.interactive {
		s.printer.Raw(s.cfg.Prompt)
	}
}

func (s *Shell) newline() {
	if s.interactive {
		s.printer.Raw("\n")
	}
}

func startLineReader(ctx context.Context, in io.Reader) (<-chan string, <-chan error) {
	lines := make(chan string)
	errs := make(chan error, 1)
	go func() {
		defer close(lines)
		defer close(errs)
		sc := bufio.NewScanner(in)
		sc.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
		for sc.Scan() {
			txt := strings.TrimSuffix(sc.Text(), "\r")
			select {
			case <-ctx.Done():
				errs <- ctx.Err()
				return
			case lines <- txt:
			}
		}
		errs <- sc.Err()
	}()
	return lines, errs
}

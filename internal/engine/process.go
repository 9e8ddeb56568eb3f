package engine

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

const (
	streamStdout = 0
	streamStderr = 1
)

var discardLogger = slog.New(slog.NewTextHandler(io.Discard, nil))

// Options configure a Process backend.
type Options struct {
	Dialect *Dialect
	// Command and Args override the dialect's interpreter invocation.
	Command string
	Args    []string
	Dir     string
	Env     map[string]string
	// PTY attaches stdin/stdout to a pseudo-terminal. Interpreters that
	// block-buffer pipes flush per line when they believe they are
	// interactive. Stderr always stays a pipe.
	PTY bool

	StartupTimeout time.Duration
	Attempts       int
	RetryDelay     time.Duration
	Logger         *slog.Logger
}

func (o *Options) setDefaults() {
	if o.StartupTimeout <= 0 {
		o.StartupTimeout = 30 * time.Second
	}
	if o.Attempts <= 0 {
		o.Attempts = 3
	}
	if o.RetryDelay <= 0 {
		o.RetryDelay = time.Second
	}
	if o.Logger == nil {
		o.Logger = discardLogger
	}
}

// Process is a Backend running an interpreter subprocess. Completion of each
// call is detected by sentinel statements echoing a per-call marker on
// stdout and stderr.
type Process struct {
	opts    Options
	dialect *Dialect
	logger  *slog.Logger

	cmd     *exec.Cmd
	stdin   io.WriteCloser
	ptyFile *os.File

	writeMu sync.Mutex

	mu      sync.Mutex
	current *pending
	exited  chan struct{}
	exitErr error

	closeOnce sync.Once
}

type pending struct {
	handle *Handle
	marker []byte
	scan   [2]streamScan
	status int
}

type streamScan struct {
	carry []byte
	done  bool
}

// Open starts the interpreter and waits until it answers an empty call, retrying
// with a linear backoff. Exhausted retries yield KindUnavailable.
func Open(ctx context.Context, opts Options) (*Process, error) {
	opts.setDefaults()
	if opts.Dialect == nil {
		return nil, Errorf(KindUnavailable, "dialect is required")
	}
	var lastErr error
	for attempt := 1; attempt <= opts.Attempts; attempt++ {
		p, err := start(opts)
		if err == nil {
			err = p.ready(ctx)
			if err == nil {
				return p, nil
			}
			_ = p.Close()
		}
		lastErr = err
		opts.Logger.Warn("engine start failed", "attempt", attempt, "command", opts.command(), "err", err)
		if attempt == opts.Attempts {
			break
		}
		select {
		case <-ctx.Done():
			return nil, Wrap(KindUnavailable, "start engine", ctx.Err())
		case <-time.After(time.Duration(attempt) * opts.RetryDelay):
		}
	}
	return nil, Wrap(KindUnavailable, fmt.Sprintf("start %s after %d attempts", opts.command(), opts.Attempts), lastErr)
}

func (o *Options) command() string {
	if strings.TrimSpace(o.Command) != "" {
		return o.Command
	}
	return o.Dialect.Command
}

func (o *Options) args() []string {
	if strings.TrimSpace(o.Command) != "" {
		return o.Args
	}
	if len(o.Args) > 0 {
		return o.Args
	}
	return o.Dialect.Args
}

func start(opts Options) (*Process, error) {
	cmd := exec.Command(opts.command(), opts.args()...)
	if opts.Dir != "" {
		cmd.Dir = opts.Dir
	}
	if len(opts.Env) > 0 {
		cmd.Env = os.Environ()
		for k, v := range opts.Env {
			cmd.Env = append(cmd.Env, k+"="+v)
		}
	}

	p := &Process{
		opts:    opts,
		dialect: opts.Dialect,
		logger:  opts.Logger,
		cmd:     cmd,
		exited:  make(chan struct{}),
	}

	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, fmt.Errorf("stderr pipe: %w", err)
	}
	var stdout io.Reader
	if opts.PTY {
		f, err := startPTY(cmd)
		if err != nil {
			return nil, fmt.Errorf("start pty: %w", err)
		}
		p.ptyFile = f
		p.stdin = f
		stdout = f
	} else {
		stdin, err := cmd.StdinPipe()
		if err != nil {
			return nil, fmt.Errorf("stdin pipe: %w", err)
		}
		out, err := cmd.StdoutPipe()
		if err != nil {
			return nil, fmt.Errorf("stdout pipe: %w", err)
		}
		if err := cmd.Start(); err != nil {
			return nil, fmt.Errorf("start %s: %w", opts.command(), err)
		}
		p.stdin = stdin
		stdout = out
	}

	var wg sync.WaitGroup
	wg.Add(2)
	go p.pump(&wg, streamStdout, stdout)
	go p.pump(&wg, streamStderr, stderr)
	go func() {
		wg.Wait()
		err := cmd.Wait()
		if p.ptyFile != nil {
			_ = p.ptyFile.Close()
		}
		p.mu.Lock()
		p.exitErr = err
		cur := p.current
		p.current = nil
		close(p.exited)
		p.mu.Unlock()
		if cur != nil {
			cur.handle.Finish(Wrap(KindUnavailable, "engine exited during call", err))
		}
		p.logger.Info("engine exited", "command", opts.command(), "err", err)
	}()
	return p, nil
}

func (p *Process) ready(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, p.opts.StartupTimeout)
	defer cancel()
	for _, stmt := range p.dialect.Init {
		if err := p.run(ctx, stmt); err != nil {
			return fmt.Errorf("init %q: %w", stmt, err)
		}
	}
	if err := p.run(ctx, ""); err != nil {
		return fmt.Errorf("readiness check: %w", err)
	}
	if p.opts.Dir != "" {
		if err := p.ChangeDirectory(ctx, p.opts.Dir); err != nil {
			return err
		}
	}
	return nil
}

// run sends a raw statement and waits for it.
func (p *Process) run(ctx context.Context, stmt string) error {
	call, err := p.invoke(stmt)
	if err != nil {
		return err
	}
	select {
	case <-call.Done():
		return call.Err()
	case <-ctx.Done():
		return Wrap(KindTimeout, "waiting for engine", ctx.Err())
	}
}

func (p *Process) Invoke(_ context.Context, name, arg string) (Call, error) {
	return p.invoke(p.dialect.Render(name, arg))
}

func (p *Process) invoke(stmt string) (Call, error) {
	p.mu.Lock()
	select {
	case <-p.exited:
		p.mu.Unlock()
		return nil, Wrap(KindUnavailable, "engine is not running", p.exitErr)
	default:
	}
	if p.current != nil {
		id := p.current.handle.ID()
		p.mu.Unlock()
		return nil, Errorf(KindRejected, "call %s still pending", id)
	}
	id := uuid.NewString()
	marker := "__MSHELL_" + strings.ReplaceAll(id, "-", "") + "__"
	cur := &pending{handle: NewHandle(id), marker: []byte(marker)}
	p.current = cur
	p.mu.Unlock()

	outSentinel, errSentinel := p.dialect.sentinels(marker)
	var b strings.Builder
	if stmt = strings.TrimSpace(stmt); stmt != "" {
		b.WriteString(stmt)
		b.WriteByte('\n')
	}
	b.WriteString(outSentinel)
	b.WriteByte('\n')
	b.WriteString(errSentinel)
	b.WriteByte('\n')

	p.writeMu.Lock()
	_, err := io.WriteString(p.stdin, b.String())
	p.writeMu.Unlock()
	if err != nil {
		p.mu.Lock()
		if p.current == cur {
			p.current = nil
		}
		p.mu.Unlock()
		werr := Wrap(KindUnavailable, "write to engine", err)
		cur.handle.Finish(werr)
		return nil, werr
	}
	return cur.handle, nil
}

func (p *Process) ChangeDirectory(ctx context.Context, dir string) error {
	if strings.TrimSpace(dir) == "" {
		return Errorf(KindSyntax, "directory is required")
	}
	return p.run(ctx, p.dialect.renderChangeDir(dir))
}

// Close asks the interpreter to exit and kills it if it does not.
func (p *Process) Close() error {
	p.closeOnce.Do(func() {
		p.writeMu.Lock()
		_, _ = io.WriteString(p.stdin, "exit\n")
		if p.ptyFile == nil {
			_ = p.stdin.Close()
		}
		p.writeMu.Unlock()
		select {
		case <-p.exited:
		case <-time.After(3 * time.Second):
			if p.cmd.Process != nil {
				_ = p.cmd.Process.Kill()
			}
			<-p.exited
		}
	})
	return nil
}

func (p *Process) pump(wg *sync.WaitGroup, which int, r io.Reader) {
	defer wg.Done()
	buf := make([]byte, 32*1024)
	for {
		n, err := r.Read(buf)
		if n > 0 {
			p.feed(which, buf[:n])
		}
		if err != nil {
			if !errors.Is(err, io.EOF) && !errors.Is(err, os.ErrClosed) {
				p.logger.Debug("engine stream closed", "stream", streamName(which), "err", err)
			}
			return
		}
	}
}

// feed routes bytes read from one stream into the pending call, holding
// back a tail that could be the start of the marker.
func (p *Process) feed(which int, chunk []byte) {
	p.mu.Lock()
	defer p.mu.Unlock()
	cur := p.current
	if cur == nil || cur.scan[which].done {
		p.logger.Debug("engine output outside call", "stream", streamName(which), "bytes", len(chunk))
		return
	}
	sc := &cur.scan[which]
	out := cur.handle.Stdout()
	if which == streamStderr {
		out = cur.handle.Stderr()
	}

	buf := append(sc.carry, chunk...)
	sc.carry = nil
	idx := bytes.Index(buf, cur.marker)
	if idx < 0 {
		keep := len(cur.marker) - 1
		if keep > len(buf) {
			keep = len(buf)
		}
		_, _ = out.Write(buf[:len(buf)-keep])
		sc.carry = append([]byte(nil), buf[len(buf)-keep:]...)
		return
	}
	_, _ = out.Write(buf[:idx])
	rest := buf[idx+len(cur.marker):]
	nl := bytes.IndexByte(rest, '\n')
	if nl < 0 {
		sc.carry = append([]byte(nil), buf[idx:]...)
		return
	}
	if which == streamStdout {
		cur.status = parseStatus(rest[:nl])
	}
	sc.done = true
	if tail := bytes.TrimSpace(rest[nl+1:]); len(tail) > 0 {
		p.logger.Debug("engine output after marker", "stream", streamName(which), "bytes", len(tail))
	}
	if cur.scan[streamStdout].done && cur.scan[streamStderr].done {
		p.current = nil
		stderr, _ := cur.handle.Stderr().ReadFrom(0)
		cur.handle.Finish(p.dialect.Classify(stderr, cur.status))
	}
}

func parseStatus(b []byte) int {
	s := strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(string(b)), ":"))
	if s == "" {
		return 0
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0
	}
	return n
}

func streamName(which int) string {
	if which == streamStderr {
		return "stderr"
	}
	return "stdout"
}

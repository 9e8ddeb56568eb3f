// Package enginetest provides an in-memory engine.Backend for tests. It
// interprets a tiny assignment/disp language, emits output in chunks to
// exercise incremental draining, and counts re-entrant invocations.
package enginetest

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/antonkrylov/mshell/internal/engine"
)

// Invocation records one Invoke call.
type Invocation struct {
	Name string
	Arg  string
}

// Backend is a scripted engine session.
type Backend struct {
	// Delay spreads each call's output over this duration.
	Delay time.Duration
	// Scripts maps a run target to the statements it evaluates.
	Scripts map[string][]string

	mu       sync.Mutex
	vars     map[string]string
	calls    []Invocation
	current  *engine.Handle
	overlaps int
	dir      string
	closed   bool
}

func New() *Backend {
	return &Backend{vars: make(map[string]string), Scripts: make(map[string][]string), dir: "/"}
}

var _ engine.Backend = (*Backend)(nil)

var (
	assignRe = regexp.MustCompile(`^([A-Za-z_]\w*)\s*=\s*(.+)$`)
	callRe   = regexp.MustCompile(`^([A-Za-z_]\w*)\((.*)\)$`)
)

func (b *Backend) Invoke(_ context.Context, name, arg string) (engine.Call, error) {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil, engine.Errorf(engine.KindUnavailable, "session closed")
	}
	if b.current != nil && !b.current.Finished() {
		b.overlaps++
		b.mu.Unlock()
		return nil, engine.Errorf(engine.KindRejected, "call %s still pending", b.current.ID())
	}
	b.calls = append(b.calls, Invocation{Name: name, Arg: arg})
	h := engine.NewHandle(uuid.NewString())
	b.current = h
	stdout, stderr, delay, err := b.evalLocked(name, arg)
	total := b.Delay + delay
	b.mu.Unlock()

	go emit(h, stdout, stderr, total, err)
	return h, nil
}

func (b *Backend) ChangeDirectory(_ context.Context, dir string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.current != nil && !b.current.Finished() {
		b.overlaps++
		return engine.Errorf(engine.KindRejected, "call %s still pending", b.current.ID())
	}
	if strings.TrimSpace(dir) == "" || strings.HasPrefix(dir, "/nonexistent") {
		return engine.Errorf(engine.KindExecution, "cd: %s: no such directory", dir)
	}
	b.dir = dir
	return nil
}

func (b *Backend) Close() error {
	b.mu.Lock()
	b.closed = true
	b.mu.Unlock()
	return nil
}

func (b *Backend) Calls() []Invocation {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]Invocation(nil), b.calls...)
}

// Overlaps counts invocations attempted while another call was pending.
func (b *Backend) Overlaps() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.overlaps
}

func (b *Backend) Dir() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.dir
}

func (b *Backend) Closed() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.closed
}

func (b *Backend) Var(name string) (string, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	v, ok := b.vars[name]
	return v, ok
}

func (b *Backend) evalLocked(name, arg string) (stdout, stderr string, delay time.Duration, err error) {
	switch name {
	case engine.CommandEval:
		return b.evalStmtLocked(strings.TrimSpace(arg))
	case "who":
		names := make([]string, 0, len(b.vars))
		for k := range b.vars {
			names = append(names, k)
		}
		sort.Strings(names)
		if len(names) == 0 {
			return "", "", 0, nil
		}
		return "Variables visible from the current scope:\n\n" + strings.Join(names, "  ") + "\n\n", "", 0, nil
	case "run":
		script, ok := b.Scripts[arg]
		if !ok {
			msg := fmt.Sprintf("error: '%s' undefined", arg)
			return "", msg + "\n", 0, engine.Errorf(engine.KindExecution, "%s", msg)
		}
		var out, errOut strings.Builder
		for _, stmt := range script {
			o, e, d, serr := b.evalStmtLocked(stmt)
			out.WriteString(o)
			errOut.WriteString(e)
			delay += d
			if serr != nil {
				return out.String(), errOut.String(), delay, serr
			}
		}
		return out.String(), errOut.String(), delay, nil
	case "help", "doc":
		topic := strings.TrimSpace(arg)
		if topic == "" {
			topic = "mshell"
		}
		return fmt.Sprintf("%s for %s\n", name, topic), "", 0, nil
	default:
		return fmt.Sprintf("ans = %s(%s)\n", name, arg), "", 0, nil
	}
}

func (b *Backend) evalStmtLocked(stmt string) (string, string, time.Duration, error) {
	if stmt == "" {
		return "", "", 0, nil
	}
	if !balanced(stmt) {
		msg := "parse error: unbalanced parentheses"
		return "", msg + "\n", 0, engine.Errorf(engine.KindSyntax, "%s", msg)
	}
	quiet := strings.HasSuffix(stmt, ";")
	stmt = strings.TrimSpace(strings.TrimSuffix(stmt, ";"))

	if m := callRe.FindStringSubmatch(stmt); m != nil {
		fn, arg := m[1], strings.TrimSpace(m[2])
		switch fn {
		case "disp":
			if unq, ok := unquote(arg); ok {
				return unq + "\n", "", 0, nil
			}
			if v, ok := b.vars[arg]; ok {
				return v + "\n", "", 0, nil
			}
			msg := fmt.Sprintf("error: '%s' undefined", arg)
			return "", msg + "\n", 0, engine.Errorf(engine.KindExecution, "%s", msg)
		case "error":
			text, _ := unquote(arg)
			msg := "error: " + text
			return "", msg + "\n", 0, engine.Errorf(engine.KindExecution, "%s", msg)
		case "pause":
			ms, _ := strconv.Atoi(arg)
			return "", "", time.Duration(ms) * time.Millisecond, nil
		case "lines":
			n, _ := strconv.Atoi(arg)
			var out strings.Builder
			for i := 1; i <= n; i++ {
				fmt.Fprintf(&out, "line %d\n", i)
			}
			return out.String(), "", 0, nil
		case "warn":
			text, _ := unquote(arg)
			return "", "warning: " + text + "\n", 0, nil
		case "crash":
			return "", "", 0, errors.New("fake engine crashed")
		}
	}
	if m := assignRe.FindStringSubmatch(stmt); m != nil {
		b.vars[m[1]] = strings.TrimSpace(m[2])
		if quiet {
			return "", "", 0, nil
		}
		return fmt.Sprintf("%s = %s\n", m[1], b.vars[m[1]]), "", 0, nil
	}
	if v, ok := b.vars[stmt]; ok {
		return fmt.Sprintf("%s = %s\n", stmt, v), "", 0, nil
	}
	if quiet {
		return "", "", 0, nil
	}
	return "ans = " + stmt + "\n", "", 0, nil
}

// emit writes output in several pieces, splitting lines, then resolves h.
func emit(h *engine.Handle, stdout, stderr string, delay time.Duration, err error) {
	const pieces = 4
	step := delay / pieces
	for i := 0; i < pieces; i++ {
		_, _ = h.Stdout().Write([]byte(piece(stdout, i, pieces)))
		_, _ = h.Stderr().Write([]byte(piece(stderr, i, pieces)))
		if step > 0 {
			time.Sleep(step)
		}
	}
	h.Finish(err)
}

func piece(s string, i, n int) string {
	size := (len(s) + n - 1) / n
	lo := i * size
	if lo >= len(s) {
		return ""
	}
	hi := lo + size
	if hi > len(s) {
		hi = len(s)
	}
	return s[lo:hi]
}

func balanced(s string) bool {
	depth := 0
	inQuote := false
	for _, r := range s {
		switch {
		case r == '\'':
			inQuote = !inQuote
		case inQuote:
		case r == '(':
			depth++
		case r == ')':
			depth--
			if depth < 0 {
				return false
			}
		}
	}
	return depth == 0
}

func unquote(s string) (string, bool) {
	if len(s) >= 2 && s[0] == '\'' && s[len(s)-1] == '\'' {
		return s[1 : len(s)-1], true
	}
	return "", false
}

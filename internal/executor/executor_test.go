package executor

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/antonkrylov/mshell/internal/engine"
	"github.com/antonkrylov/mshell/internal/engine/enginetest"
	"github.com/antonkrylov/mshell/internal/journal"
)

type recordedLine struct {
	origin Origin
	stream Stream
	text   string
}

type recordingDisplay struct {
	mu    sync.Mutex
	lines []recordedLine
}

func (d *recordingDisplay) Line(origin Origin, stream Stream, text string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.lines = append(d.lines, recordedLine{origin, stream, text})
}

func (d *recordingDisplay) snapshot() []recordedLine {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]recordedLine(nil), d.lines...)
}

type memRecorder struct {
	mu      sync.Mutex
	entries []journal.Entry
}

func (r *memRecorder) Record(_ context.Context, e journal.Entry) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries = append(r.entries, e)
	return nil
}

func newExecutor(t *testing.T, b *enginetest.Backend, mutate func(*Config)) *Executor {
	t.Helper()
	cfg := Config{Backend: b, SessionName: "test", PollInterval: 5 * time.Millisecond}
	if mutate != nil {
		mutate(&cfg)
	}
	e, err := New(cfg)
	require.NoError(t, err)
	return e
}

func eval(arg string, origin Origin) Request {
	return Request{Name: engine.CommandEval, Arg: arg, Origin: origin}
}

func TestNewRequiresBackend(t *testing.T) {
	_, err := New(Config{})
	require.Error(t, err)
}

func TestExecuteNeverOverlapsAcrossOrigins(t *testing.T) {
	b := enginetest.New()
	b.Delay = 10 * time.Millisecond
	e := newExecutor(t, b, nil)

	const n = 12
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		origin := OriginInteractive
		if i%2 == 1 {
			origin = OriginSocket
		}
		wg.Add(1)
		go func(i int, origin Origin) {
			defer wg.Done()
			res, err := e.Execute(context.Background(), eval(fmt.Sprintf("v%d = %d", i, i), origin))
			assert.NoError(t, err)
			assert.Equal(t, []string{fmt.Sprintf("v%d = %d", i, i)}, res.Stdout)
		}(i, origin)
	}
	wg.Wait()

	require.Len(t, b.Calls(), n)
	require.Zero(t, b.Overlaps())
}

func TestCaptureClearedBetweenCommands(t *testing.T) {
	b := enginetest.New()
	e := newExecutor(t, b, nil)

	res, err := e.Execute(context.Background(), eval("a = 1", OriginSocket))
	require.NoError(t, err)
	require.Equal(t, []string{"a = 1"}, res.Stdout)

	res, err = e.Execute(context.Background(), eval("b = 2;", OriginSocket))
	require.NoError(t, err)
	require.Empty(t, res.Stdout)
	require.Empty(t, res.Stderr)
}

func TestDisplayGetsLinesBeforeCompletion(t *testing.T) {
	b := enginetest.New()
	b.Delay = 80 * time.Millisecond
	d := &recordingDisplay{}
	e := newExecutor(t, b, func(c *Config) { c.Display = d })

	res, err := e.Execute(context.Background(), eval("lines(4)", OriginInteractive))
	require.NoError(t, err)
	require.Equal(t, []string{"line 1", "line 2", "line 3", "line 4"}, res.Stdout)

	got := d.snapshot()
	require.Len(t, got, 4)
	for i, l := range got {
		require.Equal(t, OriginInteractive, l.origin)
		require.Equal(t, Stdout, l.stream)
		require.Equal(t, fmt.Sprintf("line %d", i+1), l.text)
	}
}

func TestExecutionErrorIsCapturedOnce(t *testing.T) {
	e := newExecutor(t, enginetest.New(), nil)
	res, err := e.Execute(context.Background(), eval("error('bad input')", OriginInteractive))
	require.ErrorIs(t, err, engine.ErrExecution)
	require.Equal(t, engine.KindExecution, res.Kind)
	require.Equal(t, []string{"error: bad input"}, res.Stderr)
}

func TestSyntaxErrorDoesNotPoisonSession(t *testing.T) {
	e := newExecutor(t, enginetest.New(), nil)
	res, err := e.Execute(context.Background(), eval("x = (1", OriginInteractive))
	require.ErrorIs(t, err, engine.ErrSyntax)
	require.Contains(t, res.Stderr, "parse error: unbalanced parentheses")

	res, err = e.Execute(context.Background(), eval("x = 1", OriginInteractive))
	require.NoError(t, err)
	require.Equal(t, []string{"x = 1"}, res.Stdout)
}

func TestUnclassifiedFailureIsInternal(t *testing.T) {
	e := newExecutor(t, enginetest.New(), nil)
	res, err := e.Execute(context.Background(), eval("crash()", OriginSocket))
	require.Error(t, err)
	require.Equal(t, engine.KindInternal, res.Kind)
	require.Equal(t, []string{"fake engine crashed"}, res.Stderr)

	_, err = e.Execute(context.Background(), eval("y = 2", OriginSocket))
	require.NoError(t, err)
}

func TestTimeoutRejectsUntilAbandonedCallFinishes(t *testing.T) {
	b := enginetest.New()
	e := newExecutor(t, b, func(c *Config) { c.Timeout = 30 * time.Millisecond })

	res, err := e.Execute(context.Background(), eval("pause(200)", OriginInteractive))
	require.ErrorIs(t, err, engine.ErrTimeout)
	require.Equal(t, engine.KindTimeout, res.Kind)

	_, err = e.Execute(context.Background(), eval("a = 1", OriginInteractive))
	require.ErrorIs(t, err, engine.ErrRejected)

	require.Eventually(t, func() bool {
		_, err := e.Execute(context.Background(), eval("a = 1", OriginInteractive))
		return err == nil
	}, 2*time.Second, 20*time.Millisecond)
	require.Zero(t, b.Overlaps())
}

func TestContextCancelStopsWaiting(t *testing.T) {
	b := enginetest.New()
	e := newExecutor(t, b, nil)
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := e.Execute(ctx, eval("pause(150)", OriginInteractive))
	require.ErrorIs(t, err, engine.ErrTimeout)
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestUnavailableSessionAndAttach(t *testing.T) {
	first := enginetest.New()
	e := newExecutor(t, first, nil)
	require.NoError(t, first.Close())

	_, err := e.Execute(context.Background(), eval("a = 1", OriginInteractive))
	require.ErrorIs(t, err, engine.ErrUnavailable)
	require.False(t, e.Session().Active)

	_, err = e.Execute(context.Background(), eval("a = 1", OriginInteractive))
	require.ErrorIs(t, err, engine.ErrUnavailable)
	require.Len(t, first.Calls(), 0)

	second := enginetest.New()
	require.NoError(t, e.Attach("fresh", second, "/work"))
	require.Equal(t, Session{Name: "fresh", Dir: "/work", Active: true}, e.Session())

	res, err := e.Execute(context.Background(), eval("a = 1", OriginInteractive))
	require.NoError(t, err)
	require.Equal(t, []string{"a = 1"}, res.Stdout)
}

func TestRecorderReceivesEntries(t *testing.T) {
	rec := &memRecorder{}
	e := newExecutor(t, enginetest.New(), func(c *Config) { c.Recorder = rec })

	_, _ = e.Execute(context.Background(), Request{ID: "r1", Name: "who", Origin: OriginSocket})
	_, _ = e.Execute(context.Background(), eval("(", OriginInteractive))

	require.Len(t, rec.entries, 2)
	require.Equal(t, "r1", rec.entries[0].ID)
	require.Equal(t, "socket", rec.entries[0].Origin)
	require.Equal(t, "test", rec.entries[0].Session)
	require.Empty(t, rec.entries[0].Error)
	require.Equal(t, "syntax", rec.entries[1].Error)
	require.NotEmpty(t, rec.entries[1].ID)
}

func TestChangeDirectory(t *testing.T) {
	b := enginetest.New()
	e := newExecutor(t, b, func(c *Config) { c.Dir = "/" })

	require.NoError(t, e.ChangeDirectory(context.Background(), "/data"))
	require.Equal(t, "/data", e.Session().Dir)
	require.Equal(t, "/data", b.Dir())

	err := e.ChangeDirectory(context.Background(), "/nonexistent/dir")
	require.ErrorIs(t, err, engine.ErrExecution)
	require.Equal(t, "/data", e.Session().Dir)
}

func TestCloseDeactivatesSession(t *testing.T) {
	b := enginetest.New()
	e := newExecutor(t, b, nil)
	require.NoError(t, e.Close())
	require.True(t, b.Closed())
	_, err := e.Execute(context.Background(), eval("a = 1", OriginInteractive))
	require.ErrorIs(t, err, engine.ErrUnavailable)
}

package journal

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestFileReplayInOrder(t *testing.T) {
	dir := t.TempDir()
	j, err := OpenFile(dir, "octave")
	require.NoError(t, err)

	started := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	for i, arg := range []string{"a=1", "disp(a)"} {
		require.NoError(t, j.Record(context.Background(), Entry{
			ID:        string(rune('a' + i)),
			Session:   "octave",
			Origin:    "socket",
			Name:      "eval",
			Arg:       arg,
			Stdout:    []string{"line one\nwith newline"},
			StartedAt: started,
		}))
	}
	require.NoError(t, j.Close())
	require.NoError(t, j.Close())

	var got []Entry
	require.NoError(t, Replay(dir, "octave", func(e Entry) error {
		got = append(got, e)
		return nil
	}))
	require.Len(t, got, 2)
	require.Equal(t, "a=1", got[0].Arg)
	require.Equal(t, "disp(a)", got[1].Arg)
	require.Equal(t, []string{"line one\nwith newline"}, got[0].Stdout)
	require.True(t, started.Equal(got[0].StartedAt))

	sessions, err := Sessions(dir)
	require.NoError(t, err)
	require.Equal(t, []string{"octave"}, sessions)
}

func TestReplayToleratesUnclosedFile(t *testing.T) {
	dir := t.TempDir()
	j, err := OpenFile(dir, "s")
	require.NoError(t, err)
	require.NoError(t, j.Record(context.Background(), Entry{ID: "1", Name: "who"}))
	// Simulate a crash: the frame is flushed but never closed.
	require.NoError(t, j.f.Sync())

	var n int
	require.NoError(t, Replay(dir, "s", func(Entry) error { n++; return nil }))
	require.Equal(t, 1, n)
	require.NoError(t, j.Close())
}

func TestReplayStopsOnCallbackError(t *testing.T) {
	dir := t.TempDir()
	j, err := OpenFile(dir, "s")
	require.NoError(t, err)
	require.NoError(t, j.Record(context.Background(), Entry{ID: "1"}))
	require.NoError(t, j.Close())

	boom := errors.New("boom")
	err = Replay(dir, "s", func(Entry) error { return boom })
	require.ErrorIs(t, err, boom)
}

func TestReplayMissingSession(t *testing.T) {
	var n int
	require.NoError(t, Replay(t.TempDir(), "nope", func(Entry) error { n++; return nil }))
	require.Zero(t, n)
}

func TestOpenFileSanitizesSession(t *testing.T) {
	dir := t.TempDir()
	j, err := OpenFile(dir, "../evil name")
	require.NoError(t, err)
	defer j.Close()
	require.Equal(t, filepath.Join(dir, "___evil_name"), filepath.Dir(j.Path()))
	_, err = os.Stat(j.Path())
	require.NoError(t, err)
}

type recorderFunc func(context.Context, Entry) error

func (f recorderFunc) Record(ctx context.Context, e Entry) error { return f(ctx, e) }

func TestMultiJoinsErrors(t *testing.T) {
	boom := errors.New("boom")
	var seen int
	m := Multi{
		recorderFunc(func(context.Context, Entry) error { seen++; return boom }),
		nil,
		recorderFunc(func(context.Context, Entry) error { seen++; return nil }),
	}
	require.ErrorIs(t, m.Record(context.Background(), Entry{}), boom)
	require.Equal(t, 2, seen)
}

func TestSubjectFor(t *testing.T) {
	require.Equal(t, "mshell.my_session.socket", subjectFor("mshell", Entry{Session: "my.session", Origin: "socket"}))
	require.Equal(t, "mshell.default.default", subjectFor("mshell", Entry{}))
}

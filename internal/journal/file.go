package journal

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/klauspost/compress/zstd"
)

const fileSuffix = ".jsonl.zst"

// File appends entries to <dir>/<session>/<timestamp>-<id>.jsonl.zst. Each
// entry is flushed as it is written, so a crashed run leaves a readable
// prefix behind.
type File struct {
	path string

	mu  sync.Mutex
	f   *os.File
	enc *zstd.Encoder
}

// OpenFile creates a new journal file for this run.
func OpenFile(dir, session string) (*File, error) {
	if strings.TrimSpace(dir) == "" {
		return nil, fmt.Errorf("journal dir is required")
	}
	sessDir := filepath.Join(dir, token(session))
	if err := os.MkdirAll(sessDir, 0o755); err != nil {
		return nil, err
	}
	name := fmt.Sprintf("%s-%s%s", time.Now().UTC().Format("20060102T150405.000Z"), uuid.NewString()[:8], fileSuffix)
	path := filepath.Join(sessDir, name)
	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, err
	}
	enc, err := zstd.NewWriter(f, zstd.WithEncoderLevel(zstd.SpeedFastest))
	if err != nil {
		_ = f.Close()
		return nil, err
	}
	return &File{path: path, f: f, enc: enc}, nil
}

func (j *File) Path() string { return j.path }

func (j *File) Record(_ context.Context, e Entry) error {
	b, err := json.Marshal(e)
	if err != nil {
		return err
	}
	b = append(b, '\n')
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.enc == nil {
		return fmt.Errorf("journal closed")
	}
	if _, err := j.enc.Write(b); err != nil {
		return err
	}
	return j.enc.Flush()
}

func (j *File) Close() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.enc == nil {
		return nil
	}
	err := j.enc.Close()
	j.enc = nil
	if serr := j.f.Sync(); err == nil {
		err = serr
	}
	if cerr := j.f.Close(); err == nil {
		err = cerr
	}
	return err
}

// Sessions lists the session names that have journal files under dir.
func Sessions(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var out []string
	for _, e := range entries {
		if e.IsDir() {
			out = append(out, e.Name())
		}
	}
	sort.Strings(out)
	return out, nil
}

// Replay calls fn for every entry of session in write order. A truncated
// tail (from a run that never closed its file) ends that file quietly.
func Replay(dir, session string, fn func(Entry) error) error {
	if fn == nil {
		return fmt.Errorf("replay callback is required")
	}
	files, err := filepath.Glob(filepath.Join(dir, token(session), "*"+fileSuffix))
	if err != nil {
		return err
	}
	sort.Strings(files)
	for _, path := range files {
		if err := replayFile(path, fn); err != nil {
			return fmt.Errorf("%s: %w", filepath.Base(path), err)
		}
	}
	return nil
}

func replayFile(path string, fn func(Entry) error) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	dec, err := zstd.NewReader(f)
	if err != nil {
		return err
	}
	defer dec.Close()

	r := bufio.NewReaderSize(dec, 64*1024)
	for {
		line, rerr := r.ReadBytes('\n')
		if len(line) > 0 && line[len(line)-1] == '\n' {
			var e Entry
			if err := json.Unmarshal(line, &e); err != nil {
				return fmt.Errorf("decode entry: %w", err)
			}
			if err := fn(e); err != nil {
				return err
			}
		}
		if rerr != nil {
			if errors.Is(rerr, io.EOF) {
				return nil
			}
			// Unterminated frame: the writer never closed this file.
			return nil
		}
	}
}

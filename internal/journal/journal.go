// Package journal records every command the executor runs. Entries go to a
// zstd-compressed JSON-lines file per run and, optionally, to a NATS
// JetStream subject so other tools can follow a session.
package journal

import (
	"context"
	"errors"
	"strings"
	"time"
)

// Entry is one executed command.
type Entry struct {
	ID         string    `json:"id"`
	Session    string    `json:"session"`
	Origin     string    `json:"origin"`
	Name       string    `json:"name"`
	Arg        string    `json:"arg,omitempty"`
	Stdout     []string  `json:"stdout,omitempty"`
	Stderr     []string  `json:"stderr,omitempty"`
	Error      string    `json:"error,omitempty"`
	StartedAt  time.Time `json:"startedAt"`
	DurationMs int64     `json:"durationMs"`
}

// Recorder accepts entries. Implementations must be safe for concurrent use.
type Recorder interface {
	Record(ctx context.Context, e Entry) error
}

// Multi fans an entry out to every recorder.
type Multi []Recorder

func (m Multi) Record(ctx context.Context, e Entry) error {
	var errs []error
	for _, r := range m {
		if r == nil {
			continue
		}
		if err := r.Record(ctx, e); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// token makes s safe as a path element or subject token.
func token(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return "default"
	}
	return strings.Map(func(r rune) rune {
		switch r {
		case '.', '*', '>', '/', '\\', ' ', '\t', ':':
			return '_'
		}
		return r
	}, s)
}

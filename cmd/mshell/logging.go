package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
)

// parseLevel maps --log-level values onto slog levels. verbose wins.
func parseLevel(s string, verbose bool) (slog.Level, error) {
	if verbose {
		return slog.LevelDebug, nil
	}
	switch l := strings.ToLower(strings.TrimSpace(s)); l {
	case "debug":
		return slog.LevelDebug, nil
	case "info":
		return slog.LevelInfo, nil
	case "warn", "warning", "":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelWarn, fmt.Errorf("unknown --log-level=%q (expected debug|info|warn|error)", s)
	}
}

// newLogger builds the process logger. Logs go to stderr unless path names
// a file, which is appended to.
func newLogger(level string, verbose bool, path string) (*slog.Logger, func(), error) {
	lvl, lvlErr := parseLevel(level, verbose)
	var out io.Writer = os.Stderr
	closeFn := func() {}
	if p := strings.TrimSpace(path); p != "" {
		f, err := os.OpenFile(p, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return nil, nil, fmt.Errorf("open log file: %w", err)
		}
		out = f
		closeFn = func() { _ = f.Close() }
	}
	logger := slog.New(slog.NewTextHandler(out, &slog.HandlerOptions{Level: lvl}))
	if lvlErr != nil {
		// Keep it user-friendly: warn and continue.
		logger.Warn(lvlErr.Error() + "; defaulting to warn")
	}
	return logger, closeFn, nil
}

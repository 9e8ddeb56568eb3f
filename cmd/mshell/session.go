package main

import (
	"context"
	"log/slog"
	"os"
	"time"

	cliconfig "github.com/antonkrylov/mshell/internal/cli/config"
	"github.com/antonkrylov/mshell/internal/engine"
)

// sessionLabel names an unnamed session in journals and messages.
func sessionLabel(name string) string {
	if name == "" {
		return "default"
	}
	return name
}

// engineOptions turns a session profile into process options. Flag values
// (dialect, workdir) override the profile.
func engineOptions(sess *cliconfig.Session, dialect, workdir string, logger *slog.Logger) (engine.Options, error) {
	if sess == nil {
		sess = &cliconfig.Session{}
	}
	name := sess.DialectName()
	if dialect != "" {
		name = dialect
	}
	d, err := engine.LookupDialect(name)
	if err != nil {
		return engine.Options{}, err
	}
	opts := engine.Options{
		Dialect:  d,
		Command:  sess.Command,
		Args:     sess.Args,
		Env:      sess.Env,
		PTY:      sess.PTY,
		Dir:      sess.Workdir,
		Attempts: sess.StartAttempts,
		Logger:   logger,
	}
	if workdir != "" {
		opts.Dir = workdir
	}
	if opts.Dir != "" {
		if expanded, err := cliconfig.ExpandPath(opts.Dir); err == nil {
			opts.Dir = expanded
		}
	}
	if sess.StartupTimeoutSeconds > 0 {
		opts.StartupTimeout = time.Duration(sess.StartupTimeoutSeconds) * time.Second
	}
	return opts, nil
}

// opener starts engine sessions from config profiles.
type opener struct {
	cfg     *cliconfig.Config
	dialect string
	logger  *slog.Logger
}

// open starts the named profile's engine. The returned directory is where
// the engine was moved to, if anywhere.
func (o *opener) open(ctx context.Context, name, workdir string) (engine.Backend, string, error) {
	sess, _, err := o.cfg.Resolve(name)
	if err != nil {
		return nil, "", engine.Wrap(engine.KindUnavailable, "resolve session", err)
	}
	opts, err := engineOptions(sess, o.dialect, workdir, o.logger)
	if err != nil {
		return nil, "", engine.Wrap(engine.KindUnavailable, "session "+sessionLabel(name), err)
	}
	if opts.Dir != "" {
		if info, err := os.Stat(opts.Dir); err != nil || !info.IsDir() {
			return nil, "", engine.Errorf(engine.KindUnavailable, "working directory %s does not exist", opts.Dir)
		}
	}
	p, err := engine.Open(ctx, opts)
	if err != nil {
		return nil, "", err
	}
	o.logger.Info("engine session started", "session", sessionLabel(name), "dialect", opts.Dialect.Name, "dir", opts.Dir)
	return p, opts.Dir, nil
}

// shellOpener adapts open for !session actions, which use profile defaults.
func (o *opener) shellOpener(ctx context.Context, name string) (engine.Backend, string, error) {
	return o.open(ctx, name, "")
}

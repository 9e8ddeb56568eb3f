package main

import (
	"context"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	cliconfig "github.com/antonkrylov/mshell/internal/cli/config"
	"github.com/antonkrylov/mshell/internal/client"
	"github.com/antonkrylov/mshell/internal/command"
	"github.com/antonkrylov/mshell/internal/engine"
	"github.com/antonkrylov/mshell/internal/executor"
	"github.com/antonkrylov/mshell/internal/journal"
	"github.com/antonkrylov/mshell/internal/server"
	"github.com/antonkrylov/mshell/internal/shell"
)

var version = "dev"

type rootOptions struct {
	configPath string
	session    string
	logLevel   string
	logFile    string
	verbose    bool
}

type shellFlags struct {
	workdir      string
	run          string
	dialect      string
	listen       string
	port         int
	pollInterval time.Duration
	timeout      time.Duration
	journalDir   string
	noJournal    bool
	noBanner     bool
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		log.Fatal(err)
	}
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}
	flags := &shellFlags{}
	rootCmd := &cobra.Command{
		Use:   "mshell [script [workdir]]",
		Short: "Interactive shell for a long-lived numerical engine session",
		Long: `mshell forwards every typed line to one engine session running in the
background. The session can also be shared over a TCP socket (--listen or
!socket start) so other programs submit commands and receive the output.`,
		Args:          cobra.MaximumNArgs(2),
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runShell(cmd.Context(), opts, flags, args)
		},
	}
	defaultConfig := os.Getenv("MSHELL_CONFIG")
	if defaultConfig == "" {
		defaultConfig = cliconfig.DefaultConfigPath()
	}
	pf := rootCmd.PersistentFlags()
	pf.StringVar(&opts.configPath, "config", defaultConfig, "path to mshell config file (default $HOME/.mshell/config)")
	pf.StringVar(&opts.session, "session", "", "session profile within the config (overrides currentSession)")
	pf.StringVar(&opts.logLevel, "log-level", "warn", "log level: debug|info|warn|error")
	pf.StringVar(&opts.logFile, "log-file", "", "append logs to this file instead of stderr")
	pf.BoolVar(&opts.verbose, "verbose", false, "enable verbose debug logging (same as --log-level=debug)")

	f := rootCmd.Flags()
	f.StringVar(&flags.workdir, "workdir", "", "engine working directory (overrides the session profile)")
	f.StringVar(&flags.run, "run", "", "script to run before the first prompt")
	f.StringVar(&flags.dialect, "dialect", "", "engine dialect: "+strings.Join(engine.DialectNames(), "|"))
	f.StringVar(&flags.listen, "listen", "", "start the socket server on this address at startup")
	f.IntVar(&flags.port, "port", 0, "start the socket server on 127.0.0.1:<port> at startup")
	f.DurationVar(&flags.pollInterval, "poll-interval", 0, "output polling interval; defaults to config or 50ms")
	f.DurationVar(&flags.timeout, "timeout", 0, "per-command timeout; defaults to config or none")
	f.StringVar(&flags.journalDir, "journal-dir", "", "command journal directory (default $HOME/.mshell/journal)")
	f.BoolVar(&flags.noJournal, "no-journal", false, "do not record commands")
	f.BoolVar(&flags.noBanner, "no-banner", false, "do not print instructions at startup")

	rootCmd.AddCommand(newSendCmd(opts))
	rootCmd.AddCommand(newHistoryCmd(opts))
	rootCmd.AddCommand(newDoctorCmd(opts))
	rootCmd.AddCommand(newUseCmd(opts))
	return rootCmd
}

func runShell(parent context.Context, opts *rootOptions, flags *shellFlags, args []string) error {
	logger, closeLog, err := newLogger(opts.logLevel, opts.verbose, opts.logFile)
	if err != nil {
		return err
	}
	defer closeLog()

	cfg, err := cliconfig.Load(opts.configPath)
	if err != nil {
		return err
	}
	_, name, err := cfg.Resolve(opts.session)
	if err != nil {
		return err
	}
	script, workdir := flags.run, flags.workdir
	if len(args) > 0 && script == "" {
		script = args[0]
	}
	if len(args) > 1 && workdir == "" {
		workdir = args[1]
	}

	if parent == nil {
		parent = context.Background()
	}
	ctx, cancel := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer cancel()

	printer := shell.NewPrinter(os.Stdout, nil)
	if !flags.noBanner {
		printer.Raw(shell.Instructions + "\n")
	}
	printer.Local("starting engine session %s...", sessionLabel(name))
	op := &opener{cfg: cfg, dialect: flags.dialect, logger: logger}
	backend, dir, err := op.open(ctx, name, workdir)
	if err != nil {
		printer.Local("%v", err)
		return fmt.Errorf("engine session %s unavailable", sessionLabel(name))
	}

	recorder, closeJournal := openJournal(ctx, cfg, flags, name, logger)
	defer closeJournal()

	ex, err := executor.New(executor.Config{
		Backend:      backend,
		SessionName:  name,
		Dir:          dir,
		PollInterval: firstDuration(flags.pollInterval, cfg.PollInterval()),
		Timeout:      firstDuration(flags.timeout, cfg.CommandTimeout()),
		Display:      printer,
		Recorder:     recorder,
		Logger:       logger,
	})
	if err != nil {
		_ = backend.Close()
		return err
	}
	defer func() { _ = ex.Close() }()

	listen := flags.listen
	if listen == "" && flags.port > 0 {
		listen = fmt.Sprintf("127.0.0.1:%d", flags.port)
	}
	addr, err := client.ResolveAddr(opts.configPath, name, listen)
	if err != nil {
		addr = server.DefaultListenAddr
	}
	srv, err := server.New(server.Config{ListenAddr: addr, Executor: ex, Logger: logger})
	if err != nil {
		return err
	}
	defer srv.Stop()
	if listen != "" {
		if err := srv.Start(ctx); err != nil {
			printer.Local("socket server not started: %v", err)
		} else {
			printer.Local("socket server listening on %s", srv.State().Addr())
		}
	}

	if script != "" {
		runStartupScript(ctx, ex, printer, script)
	}

	sh, err := shell.New(shell.Config{
		In:       os.Stdin,
		Out:      os.Stdout,
		Executor: ex,
		Printer:  printer,
		Socket:   srv,
		Opener:   op.shellOpener,
		Logger:   logger,
	})
	if err != nil {
		return err
	}
	return sh.Run(ctx)
}

func runStartupScript(ctx context.Context, ex *executor.Executor, printer *shell.Printer, script string) {
	cmd, err := command.Parse("run " + script)
	if err != nil {
		printer.Local("%v", err)
		return
	}
	printer.Local("running %s", cmd.Arg)
	_, _ = ex.Execute(ctx, executor.Request{Name: cmd.Name, Arg: cmd.Arg, Origin: executor.OriginInteractive})
}

// openJournal builds the recorder chain. Journal failures are logged and
// never stop the shell.
func openJournal(ctx context.Context, cfg *cliconfig.Config, flags *shellFlags, name string, logger *slog.Logger) (journal.Recorder, func()) {
	var jcfg cliconfig.Journal
	if cfg != nil {
		jcfg = cfg.Journal
	}
	if flags.noJournal || jcfg.Disabled {
		return nil, func() {}
	}
	dir := firstString(flags.journalDir, jcfg.Dir, cliconfig.DefaultJournalDir())
	var recs journal.Multi
	var closers []func()
	if f, err := journal.OpenFile(dir, sessionLabel(name)); err != nil {
		logger.Warn("journal disabled", "dir", dir, "err", err)
	} else {
		logger.Debug("journal opened", "path", f.Path())
		recs = append(recs, f)
		closers = append(closers, func() { _ = f.Close() })
	}
	if jcfg.NATS.URL != "" {
		m, err := journal.DialNATS(ctx, journal.NATSOptions{
			URL:      jcfg.NATS.URL,
			User:     jcfg.NATS.User,
			Password: jcfg.NATS.Password,
			Prefix:   jcfg.NATS.Prefix,
			Stream:   jcfg.NATS.Stream,
		}, logger)
		if err != nil {
			logger.Warn("journal mirror disabled", "url", jcfg.NATS.URL, "err", err)
		} else {
			recs = append(recs, m)
			closers = append(closers, m.Close)
		}
	}
	closeAll := func() {
		for _, c := range closers {
			c()
		}
	}
	if len(recs) == 0 {
		return nil, closeAll
	}
	return recs, closeAll
}

func firstDuration(vals ...time.Duration) time.Duration {
	for _, v := range vals {
		if v > 0 {
			return v
		}
	}
	return 0
}

func firstString(vals ...string) string {
	for _, v := range vals {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}

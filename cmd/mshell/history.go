package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/spf13/cobra"

	cliconfig "github.com/antonkrylov/mshell/internal/cli/config"
	"github.com/antonkrylov/mshell/internal/engine"
	"github.com/antonkrylov/mshell/internal/journal"
)

type historyFlags struct {
	dir   string
	limit int
	json  bool
	list  bool
}

func newHistoryCmd(root *rootOptions) *cobra.Command {
	opts := &historyFlags{}
	cmd := &cobra.Command{
		Use:   "history",
		Short: "Show commands recorded in the journal",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := cliconfig.Load(root.configPath)
			if err != nil {
				return err
			}
			var jdir string
			if cfg != nil {
				jdir = cfg.Journal.Dir
			}
			dir := firstString(opts.dir, jdir, cliconfig.DefaultJournalDir())
			out := cmd.OutOrStdout()
			if opts.list {
				names, err := journal.Sessions(dir)
				if err != nil {
					return err
				}
				for _, n := range names {
					fmt.Fprintln(out, n)
				}
				return nil
			}
			name := root.session
			if name == "" && cfg != nil {
				name = cfg.CurrentSession
			}
			entries, err := lastEntries(dir, sessionLabel(name), opts.limit)
			if err != nil {
				return err
			}
			return printHistory(out, entries, opts.json)
		},
	}
	cmd.Flags().StringVar(&opts.dir, "journal-dir", "", "journal directory (default $HOME/.mshell/journal)")
	cmd.Flags().IntVarP(&opts.limit, "limit", "n", 20, "show at most this many recent commands (0 shows all)")
	cmd.Flags().BoolVar(&opts.json, "json", false, "print entries as JSON lines")
	cmd.Flags().BoolVar(&opts.list, "list", false, "list sessions that have a journal")
	return cmd
}

// lastEntries replays a session's journal keeping the newest limit entries.
func lastEntries(dir, session string, limit int) ([]journal.Entry, error) {
	var entries []journal.Entry
	err := journal.Replay(dir, session, func(e journal.Entry) error {
		entries = append(entries, e)
		if limit > 0 && len(entries) > limit {
			entries = entries[1:]
		}
		return nil
	})
	return entries, err
}

func printHistory(out io.Writer, entries []journal.Entry, asJSON bool) error {
	if asJSON {
		enc := json.NewEncoder(out)
		for _, e := range entries {
			if err := enc.Encode(e); err != nil {
				return err
			}
		}
		return nil
	}
	for _, e := range entries {
		line := e.Arg
		if e.Name != engine.CommandEval {
			line = strings.TrimSpace(e.Name + " " + e.Arg)
		}
		status := "ok"
		if e.Error != "" {
			status = e.Error
		}
		fmt.Fprintf(out, "%s [%s] %s (%s, %dms)\n", e.StartedAt.Local().Format(time.DateTime), e.Origin, line, status, e.DurationMs)
		for _, l := range e.Stdout {
			fmt.Fprintf(out, "    %s\n", l)
		}
		for _, l := range e.Stderr {
			fmt.Fprintf(out, "    [engine] %s\n", l)
		}
	}
	return nil
}

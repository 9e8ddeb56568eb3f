package main

import (
	"fmt"
	"os"
	"os/exec"
	"strings"

	"github.com/spf13/cobra"

	cliconfig "github.com/antonkrylov/mshell/internal/cli/config"
	"github.com/antonkrylov/mshell/internal/client"
	"github.com/antonkrylov/mshell/internal/engine"
)

func newDoctorCmd(root *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "doctor",
		Short: "Print local diagnostic information for troubleshooting",
		RunE: func(cmd *cobra.Command, _ []string) error {
			out := cmd.OutOrStdout()
			exe, _ := os.Executable()
			fmt.Fprintf(out, "mshell_executable=%s\n", strings.TrimSpace(exe))
			fmt.Fprintf(out, "mshell_version=%s\n", version)
			fmt.Fprintf(out, "PATH=%s\n", os.Getenv("PATH"))
			for _, name := range engine.DialectNames() {
				d, _ := engine.LookupDialect(name)
				fmt.Fprintf(out, "dialect=%s command=%s on_path=%s\n", name, d.Command, lookPath(d.Command))
			}

			cfgPath := root.configPath
			fmt.Fprintf(out, "config_path=%s\n", cfgPath)
			if addr, err := client.ResolveAddr(cfgPath, root.session, ""); err == nil {
				fmt.Fprintf(out, "socket_addr=%s\n", addr)
			}
			cfg, err := cliconfig.Load(cfgPath)
			if err != nil {
				fmt.Fprintf(out, "config_error=%s\n", err.Error())
				return nil
			}
			journalDir := cliconfig.DefaultJournalDir()
			if cfg != nil && cfg.Journal.Dir != "" {
				journalDir = cfg.Journal.Dir
			}
			fmt.Fprintf(out, "journal_dir=%s\n", journalDir)
			if cfg == nil {
				fmt.Fprintln(out, "config_present=false")
				return nil
			}
			fmt.Fprintln(out, "config_present=true")
			fmt.Fprintf(out, "current_session=%s\n", strings.TrimSpace(cfg.CurrentSession))
			fmt.Fprintf(out, "journal_disabled=%t journal_nats=%s\n", cfg.Journal.Disabled, cfg.Journal.NATS.URL)
			for _, name := range cfg.SessionNames() {
				s := cfg.Sessions[name]
				if s == nil {
					continue
				}
				command := s.Command
				if command == "" {
					if d, err := engine.LookupDialect(s.DialectName()); err == nil {
						command = d.Command
					}
				}
				fmt.Fprintf(out, "session=%s dialect=%s command=%s on_path=%s pty=%t workdir=%s listen=%s\n",
					name,
					s.DialectName(),
					command,
					lookPath(command),
					s.PTY,
					strings.TrimSpace(s.Workdir),
					strings.TrimSpace(s.Listen),
				)
			}
			return nil
		},
	}
	return cmd
}

func lookPath(bin string) string {
	if bin == "" {
		return ""
	}
	p, err := exec.LookPath(bin)
	if err != nil {
		return "missing"
	}
	return p
}

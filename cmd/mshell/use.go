package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	cliconfig "github.com/antonkrylov/mshell/internal/cli/config"
	"github.com/antonkrylov/mshell/internal/engine"
)

func newUseCmd(root *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "use [session]",
		Short: "Show or change the default session profile",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := cliconfig.Load(root.configPath)
			if err != nil {
				return err
			}
			if cfg == nil {
				return fmt.Errorf("no config file at %s", root.configPath)
			}
			out := cmd.OutOrStdout()
			if len(args) == 0 {
				for _, name := range cfg.SessionNames() {
					mark := " "
					if name == cfg.CurrentSession {
						mark = "*"
					}
					fmt.Fprintf(out, "%s %s\n", mark, name)
				}
				return nil
			}
			name := strings.TrimSpace(args[0])
			sess, _, err := cfg.Resolve(name)
			if err != nil {
				return err
			}
			if _, err := engine.LookupDialect(sess.DialectName()); err != nil {
				return fmt.Errorf("session %s: %w", name, err)
			}
			cfg.CurrentSession = name
			if err := cfg.Save(root.configPath); err != nil {
				return err
			}
			fmt.Fprintf(out, "current session: %s\n", name)
			return nil
		},
	}
}

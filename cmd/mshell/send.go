package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/antonkrylov/mshell/internal/client"
	"github.com/antonkrylov/mshell/internal/protocol"
)

type sendFlags struct {
	addr    string
	json    bool
	timeout time.Duration
}

func newSendCmd(root *rootOptions) *cobra.Command {
	opts := &sendFlags{}
	cmd := &cobra.Command{
		Use:   "send [command...]",
		Short: "Send commands to a running mshell socket server",
		Long: `send joins its arguments into one command line and prints the response.
Without arguments it sends every line read from stdin, one at a time.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			addr, err := client.ResolveAddr(root.configPath, root.session, opts.addr)
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			if ctx == nil {
				ctx = context.Background()
			}
			dialCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
			c, err := client.Dial(dialCtx, addr)
			cancel()
			if err != nil {
				return err
			}
			defer c.Close()

			var lines []string
			if len(args) > 0 {
				lines = []string{strings.Join(args, " ")}
			}
			failed, err := sendLines(ctx, c, lines, cmd.InOrStdin(), cmd.OutOrStdout(), cmd.ErrOrStderr(), opts)
			if err != nil {
				return err
			}
			if failed > 0 {
				return fmt.Errorf("%d command(s) failed", failed)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&opts.addr, "addr", "", "socket server address (overrides config and MSHELL_ADDR)")
	cmd.Flags().BoolVar(&opts.json, "json", false, "print raw JSON responses")
	cmd.Flags().DurationVar(&opts.timeout, "timeout", 0, "per-command timeout (0 waits forever)")
	return cmd
}

// sendLines sends lines, or every line of in when lines is empty, and prints
// each response. It returns how many commands failed.
func sendLines(ctx context.Context, c *client.Client, lines []string, in io.Reader, out, errOut io.Writer, opts *sendFlags) (int, error) {
	failed := 0
	send := func(line string) error {
		cctx, cancel := ctx, context.CancelFunc(func() {})
		if opts.timeout > 0 {
			cctx, cancel = context.WithTimeout(ctx, opts.timeout)
		}
		defer cancel()
		resp, err := c.Execute(cctx, line)
		if err != nil {
			return err
		}
		if resp.Error != nil {
			failed++
		}
		if opts.json {
			return protocol.WriteResponse(out, resp)
		}
		for _, l := range resp.Stdout {
			fmt.Fprintln(out, l)
		}
		for _, l := range resp.Stderr {
			fmt.Fprintln(errOut, l)
		}
		return nil
	}
	if len(lines) > 0 {
		for _, l := range lines {
			if err := send(l); err != nil {
				return failed, err
			}
		}
		return failed, nil
	}
	sc := bufio.NewScanner(in)
	sc.Buffer(make([]byte, 0, 64*1024), protocol.MaxLineBytes)
	for sc.Scan() {
		if err := send(sc.Text()); err != nil {
			return failed, err
		}
	}
	return failed, sc.Err()
}

package engine

import (
	"os"
	"os/exec"
	"syscall"

	"github.com/creack/pty"
	"golang.org/x/term"
)

// startPTY starts cmd with stdin and stdout on a fresh pseudo-terminal and
// returns the master side. The slave is switched to raw mode so written
// statements are not echoed back and output newlines are not rewritten.
// cmd.Stderr is left as configured by the caller.
func startPTY(cmd *exec.Cmd) (*os.File, error) {
	ptyFile, ttyFile, err := pty.Open()
	if err != nil {
		return nil, err
	}
	defer func() { _ = ttyFile.Close() }()

	_ = pty.Setsize(ptyFile, &pty.Winsize{Cols: 240, Rows: 50})
	if _, err := term.MakeRaw(int(ttyFile.Fd())); err != nil {
		_ = ptyFile.Close()
		return nil, err
	}

	cmd.Stdin = ttyFile
	cmd.Stdout = ttyFile
	if cmd.SysProcAttr == nil {
		cmd.SysProcAttr = &syscall.SysProcAttr{}
	}
	cmd.SysProcAttr.Setsid = true
	cmd.SysProcAttr.Setctty = true
	// Ctty is a descriptor number in the child: stdin.
	cmd.SysProcAttr.Ctty = 0

	if err := cmd.Start(); err != nil {
		_ = ptyFile.Close()
		return nil, err
	}
	return ptyFile, nil
}

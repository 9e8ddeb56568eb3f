package e2e_test

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/antonkrylov/mshell/internal/client"
	"github.com/antonkrylov/mshell/internal/engine"
	"github.com/antonkrylov/mshell/internal/executor"
	"github.com/antonkrylov/mshell/internal/server"
)

// TestE2E_ProcessOverSocket drives a real interpreter (sh) through the
// executor and the socket server.
func TestE2E_ProcessOverSocket(t *testing.T) {
	if _, err := exec.LookPath("sh"); err != nil {
		t.Skip("sh not available")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	d, err := engine.LookupDialect("sh")
	require.NoError(t, err)
	workdir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(workdir, "setup.sh"), []byte("greeting=hello\necho ready\n"), 0o644))
	p, err := engine.Open(ctx, engine.Options{Dialect: d, Dir: workdir, Attempts: 1})
	require.NoError(t, err, "open engine")
	ex, err := executor.New(executor.Config{Backend: p, SessionName: "e2e", Dir: workdir, PollInterval: 10 * time.Millisecond})
	require.NoError(t, err)
	defer ex.Close()

	srv, err := server.New(server.Config{ListenAddr: "127.0.0.1:0", Executor: ex})
	require.NoError(t, err)
	require.NoError(t, srv.Start(ctx))
	defer srv.Stop()

	c, err := client.Dial(ctx, srv.State().Addr())
	require.NoError(t, err)
	defer c.Close()

	resp, err := c.Execute(ctx, "a=1")
	require.NoError(t, err)
	require.Nil(t, resp.Error)
	require.Empty(t, resp.Stdout)

	resp, err = c.Execute(ctx, "echo $a")
	require.NoError(t, err)
	require.Equal(t, []string{"1"}, resp.Stdout)

	resp, err = c.Execute(ctx, "run ./setup.sh")
	require.NoError(t, err)
	require.Nil(t, resp.Error)
	require.Equal(t, []string{"ready"}, resp.Stdout)

	resp, err = c.Execute(ctx, "echo $greeting; echo oops >&2; false")
	require.NoError(t, err)
	require.NotNil(t, resp.Error)
	require.Equal(t, "execution", resp.Error.Kind)
	require.Equal(t, []string{"hello"}, resp.Stdout)
	require.NotEmpty(t, resp.Stderr)
	require.Equal(t, "oops", resp.Stderr[0])

	resp, err = c.Execute(ctx, "run ./missing.sh")
	require.NoError(t, err)
	require.NotNil(t, resp.Error)
	require.Equal(t, "execution", resp.Error.Kind)

	resp, err = c.Execute(ctx, "echo $greeting")
	require.NoError(t, err)
	require.Nil(t, resp.Error)
	require.Equal(t, []string{"hello"}, resp.Stdout)
}

// TestE2E_Binary builds cmd/mshell and talks to it with `mshell send`.
func TestE2E_Binary(t *testing.T) {
	if os.Getenv("MSHELL_E2E") == "" {
		t.Skip("set MSHELL_E2E=1 to build and run the mshell binary")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	tmp := t.TempDir()
	bin := filepath.Join(tmp, "mshell")
	build := exec.CommandContext(ctx, "go", "build", "-o", bin, "./cmd/mshell")
	build.Dir = repoRoot(t)
	out, err := build.CombinedOutput()
	require.NoError(t, err, "build mshell:\n%s", out)

	port := freeLocalPort(t)
	addr := fmt.Sprintf("127.0.0.1:%d", port)
	shellCmd := exec.CommandContext(ctx, bin,
		"--config", filepath.Join(tmp, "config"),
		"--dialect", "sh",
		"--no-journal",
		"--no-banner",
		"--port", fmt.Sprint(port),
	)
	stdin, err := shellCmd.StdinPipe()
	require.NoError(t, err)
	var shellOut bytes.Buffer
	shellCmd.Stdout = &shellOut
	shellCmd.Stderr = &shellOut
	require.NoError(t, shellCmd.Start(), "start mshell")
	t.Cleanup(func() { _ = shellCmd.Process.Kill() })

	waitForTCP(t, ctx, addr)

	send := exec.CommandContext(ctx, bin, "send", "--addr", addr, "echo", "from-socket")
	sendOut, err := send.CombinedOutput()
	require.NoError(t, err, "mshell send:\n%s", sendOut)
	require.Equal(t, "from-socket", strings.TrimSpace(string(sendOut)))

	_, _ = io.WriteString(stdin, "echo local\nquit\n")
	require.NoError(t, shellCmd.Wait(), "mshell exit:\n%s", shellOut.String())
	require.Contains(t, shellOut.String(), "local\n")
}

func repoRoot(t *testing.T) string {
	t.Helper()
	dir, err := os.Getwd()
	require.NoError(t, err)
	for {
		if _, err := os.Stat(filepath.Join(dir, "go.mod")); err == nil {
			return dir
		}
		parent := filepath.Dir(dir)
		require.NotEqual(t, dir, parent, "could not locate repo root (go.mod)")
		dir = parent
	}
}

func freeLocalPort(t *testing.T) int {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer l.Close()
	return l.Addr().(*net.TCPAddr).Port
}

func waitForTCP(t *testing.T, ctx context.Context, addr string) {
	t.Helper()
	require.Eventually(t, func() bool {
		if ctx.Err() != nil {
			return false
		}
		c, err := net.DialTimeout("tcp", addr, 200*time.Millisecond)
		if err != nil {
			return false
		}
		_ = c.Close()
		return true
	}, 30*time.Second, 100*time.Millisecond, "timeout waiting for tcp %s", addr)
}

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

const sample = `currentSession: lab
listen: 127.0.0.1:4100
pollIntervalMs: 20
commandTimeoutSeconds: 30
sessions:
  lab:
    dialect: octave
    workdir: /data
    pty: true
  shell:
    dialect: sh
    listen: 127.0.0.1:4200
journal:
  dir: /var/mshell
  nats:
    url: nats://127.0.0.1:4222
`

func TestLoadMissingFile(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope"))
	require.NoError(t, err)
	require.Nil(t, cfg)

	cfg, err = Load("  ")
	require.NoError(t, err)
	require.Nil(t, cfg)
}

func TestLoadAndResolve(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config")
	require.NoError(t, os.WriteFile(path, []byte(sample), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, []string{"lab", "shell"}, cfg.SessionNames())
	require.Equal(t, 20*time.Millisecond, cfg.PollInterval())
	require.Equal(t, 30*time.Second, cfg.CommandTimeout())
	require.Equal(t, "nats://127.0.0.1:4222", cfg.Journal.NATS.URL)

	sess, name, err := cfg.Resolve("")
	require.NoError(t, err)
	require.Equal(t, "lab", name)
	require.True(t, sess.PTY)
	require.Equal(t, "/data", sess.Workdir)

	sess, name, err = cfg.Resolve("shell")
	require.NoError(t, err)
	require.Equal(t, "shell", name)
	require.Equal(t, "sh", sess.DialectName())
	require.Equal(t, "127.0.0.1:4200", sess.Listen)

	_, _, err = cfg.Resolve("missing")
	require.ErrorIs(t, err, ErrSessionNotFound)
}

func TestResolveWithoutConfig(t *testing.T) {
	var cfg *Config
	sess, name, err := cfg.Resolve("")
	require.NoError(t, err)
	require.Nil(t, sess)
	require.Empty(t, name)
	require.Equal(t, DefaultDialect, sess.DialectName())

	_, _, err = cfg.Resolve("lab")
	require.ErrorIs(t, err, ErrSessionNotFound)
}

func TestSaveRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config")
	cfg := &Config{
		CurrentSession: "a",
		Sessions:       map[string]*Session{"a": {Dialect: "sh", Args: []string{"-e"}}},
	}
	require.NoError(t, cfg.Save(path))

	info, err := os.Stat(path)
	require.NoError(t, err)
	require.Equal(t, os.FileMode(0o600), info.Mode().Perm())

	got, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, cfg, got)
}

func TestDefaultConfigPathHonoursHome(t *testing.T) {
	t.Setenv("MSHELL_HOME", "/tmp/mshell-home")
	require.Equal(t, "/tmp/mshell-home/config", DefaultConfigPath())
	require.Equal(t, "/tmp/mshell-home/journal", DefaultJournalDir())
}

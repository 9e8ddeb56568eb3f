package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config models the mshell config file: named engine session profiles plus
// shell-wide defaults.
type Config struct {
	CurrentSession        string              `yaml:"currentSession,omitempty"`
	Sessions              map[string]*Session `yaml:"sessions,omitempty"`
	Listen                string              `yaml:"listen,omitempty"`
	PollIntervalMs        int                 `yaml:"pollIntervalMs,omitempty"`
	CommandTimeoutSeconds int                 `yaml:"commandTimeoutSeconds,omitempty"`
	Journal               Journal             `yaml:"journal,omitempty"`
}

// Session describes how to start one engine session.
type Session struct {
	Dialect string            `yaml:"dialect,omitempty"`
	Command string            `yaml:"command,omitempty"`
	Args    []string          `yaml:"args,omitempty"`
	Env     map[string]string `yaml:"env,omitempty"`
	PTY     bool              `yaml:"pty,omitempty"`
	Workdir string            `yaml:"workdir,omitempty"`
	// Listen overrides the top-level socket address for this session.
	Listen                string `yaml:"listen,omitempty"`
	StartupTimeoutSeconds int    `yaml:"startupTimeoutSeconds,omitempty"`
	StartAttempts         int    `yaml:"startAttempts,omitempty"`
}

type Journal struct {
	Dir      string `yaml:"dir,omitempty"`
	Disabled bool   `yaml:"disabled,omitempty"`
	NATS     NATS   `yaml:"nats,omitempty"`
}

// NATS configures the optional JetStream journal mirror. An empty URL
// disables it.
type NATS struct {
	URL      string `yaml:"url,omitempty"`
	User     string `yaml:"user,omitempty"`
	Password string `yaml:"password,omitempty"`
	Prefix   string `yaml:"prefix,omitempty"`
	Stream   string `yaml:"stream,omitempty"`
}

// DefaultDialect is used by sessions that do not name one.
const DefaultDialect = "octave"

// ErrSessionNotFound indicates the requested session profile is missing.
var ErrSessionNotFound = errors.New("session not found")

// Load decodes the config file. Missing files return (nil, nil).
func Load(path string) (*Config, error) {
	trimmed := strings.TrimSpace(path)
	if trimmed == "" {
		return nil, nil
	}
	expanded, err := ExpandPath(trimmed)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(expanded)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	return &cfg, nil
}

// Save writes the config to disk, creating parent directories if needed.
func (c *Config) Save(path string) error {
	if strings.TrimSpace(path) == "" {
		return fmt.Errorf("config path is required")
	}
	expanded, err := ExpandPath(path)
	if err != nil {
		return err
	}
	if c == nil {
		return fmt.Errorf("config is nil")
	}
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(expanded), 0o755); err != nil {
		return err
	}
	if err := os.WriteFile(expanded, data, 0o600); err != nil {
		return err
	}
	return nil
}

// Resolve picks a session either by explicit name or the currentSession
// value. With neither set it returns (nil, "", nil).
func (c *Config) Resolve(name string) (*Session, string, error) {
	if c == nil {
		if strings.TrimSpace(name) != "" {
			return nil, name, fmt.Errorf("%w: %s (no config file)", ErrSessionNotFound, name)
		}
		return nil, "", nil
	}
	sessName := strings.TrimSpace(name)
	if sessName == "" {
		sessName = c.CurrentSession
	}
	if sessName == "" {
		return nil, "", nil
	}
	sess, ok := c.Sessions[sessName]
	if !ok || sess == nil {
		return nil, sessName, fmt.Errorf("%w: %s", ErrSessionNotFound, sessName)
	}
	return sess, sessName, nil
}

// SessionNames lists the configured profiles in order.
func (c *Config) SessionNames() []string {
	if c == nil {
		return nil
	}
	names := make([]string, 0, len(c.Sessions))
	for name := range c.Sessions {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (c *Config) PollInterval() time.Duration {
	if c == nil || c.PollIntervalMs <= 0 {
		return 0
	}
	return time.Duration(c.PollIntervalMs) * time.Millisecond
}

func (c *Config) CommandTimeout() time.Duration {
	if c == nil || c.CommandTimeoutSeconds <= 0 {
		return 0
	}
	return time.Duration(c.CommandTimeoutSeconds) * time.Second
}

// DialectName returns the session's dialect or the default.
func (s *Session) DialectName() string {
	if s == nil || strings.TrimSpace(s.Dialect) == "" {
		return DefaultDialect
	}
	return s.Dialect
}

// ExpandPath resolves "~" and relative paths.
func ExpandPath(path string) (string, error) {
	switch {
	case strings.HasPrefix(path, "~/"):
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		return filepath.Join(home, path[2:]), nil
	case path == "~":
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		return home, nil
	case filepath.IsAbs(path):
		return path, nil
	default:
		cwd, err := os.Getwd()
		if err != nil {
			return "", err
		}
		return filepath.Join(cwd, path), nil
	}
}

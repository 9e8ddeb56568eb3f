package client

import (
	"os"
	"strings"

	cliconfig "github.com/antonkrylov/mshell/internal/cli/config"
)

// DefaultAddr is the socket address used when nothing else is configured.
const DefaultAddr = "127.0.0.1:4000"

// ResolveAddr mirrors cmd/mshell's config semantics:
// 1) the addr flag
// 2) the session profile's listen value
// 3) the config file's listen value
// 4) environment (MSHELL_ADDR)
// 5) default (127.0.0.1:4000)
func ResolveAddr(configPath, session, addr string) (string, error) {
	if strings.TrimSpace(addr) != "" {
		return addr, nil
	}
	cfg, err := cliconfig.Load(configPath)
	if err != nil {
		return "", err
	}
	if cfg != nil {
		sess, _, err := cfg.Resolve(session)
		if err != nil {
			return "", err
		}
		if sess != nil && sess.Listen != "" {
			return sess.Listen, nil
		}
		if cfg.Listen != "" {
			return cfg.Listen, nil
		}
	}
	if v := os.Getenv("MSHELL_ADDR"); v != "" {
		return v, nil
	}
	return DefaultAddr, nil
}

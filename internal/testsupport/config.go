// Package testsupport builds throwaway configurations and stub worker
// executables for tests.
package testsupport

import (
	"path/filepath"
	"testing"

	"mnemo/internal/config"
)

// ConfigOption allows callers to customize the generated test configuration.
type ConfigOption func(*config.Config)

// NewConfig produces a config seeded with unique temp directories per test
// and supervision timings short enough for test suites. It applies any
// provided options last.
func NewConfig(t testing.TB, opts ...ConfigOption) *config.Config {
	t.Helper()

	base := t.TempDir()
	cfg := config.Default()
	cfg.Paths.DataDir = filepath.Join(base, "data")
	cfg.Paths.LogDir = filepath.Join(base, "logs")
	cfg.Daemon.StartupDeadlineSeconds = 5
	cfg.Daemon.HandshakeTimeoutSeconds = 3
	cfg.Daemon.RequestTimeoutSeconds = 5
	cfg.Daemon.IdleTimeoutSeconds = 0
	cfg.Daemon.ShutdownGraceSeconds = 1
	cfg.Recovery.BackoffBaseMs = 10
	cfg.Recovery.BackoffMaxMs = 50
	cfg.Recovery.JitterFactor = 0
	cfg.Recovery.MaxAttempts = 3

	for _, opt := range opts {
		opt(&cfg)
	}

	if err := cfg.EnsureDirectories(); err != nil {
		t.Fatalf("ensure directories: %v", err)
	}
	return &cfg
}

// WithWorkerBinary points the config at a specific worker executable.
func WithWorkerBinary(path string, args ...string) ConfigOption {
	return func(c *config.Config) {
		c.Daemon.WorkerBinary = path
		c.Daemon.WorkerArgs = args
	}
}

// WithDaemonDisabled turns the daemon gate off.
func WithDaemonDisabled() ConfigOption {
	return func(c *config.Config) {
		c.Daemon.Enabled = false
	}
}

// WithMaxAttempts overrides the recovery budget.
func WithMaxAttempts(n int) ConfigOption {
	return func(c *config.Config) {
		c.Recovery.MaxAttempts = n
	}
}

package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"mnemo/internal/config"
)

func TestDefaultValidates(t *testing.T) {
	cfg := config.Default()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config must validate: %v", err)
	}
	if !cfg.Daemon.Enabled {
		t.Fatal("daemon should be enabled by default")
	}
	if cfg.StartupDeadline() != 20*time.Second {
		t.Fatalf("unexpected startup deadline: %s", cfg.StartupDeadline())
	}
	if cfg.BackoffBase() != 500*time.Millisecond {
		t.Fatalf("unexpected backoff base: %s", cfg.BackoffBase())
	}
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	missing := filepath.Join(t.TempDir(), "config.toml")
	cfg, resolved, exists, err := config.Load(missing)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if exists {
		t.Fatal("expected exists=false for missing file")
	}
	if resolved != missing {
		t.Fatalf("expected resolved path %q, got %q", missing, resolved)
	}
	if cfg.Daemon.WorkerBinary != "mnemo-worker" {
		t.Fatalf("unexpected worker binary: %q", cfg.Daemon.WorkerBinary)
	}
}

func TestLoadOverrides(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	content := `
[paths]
data_dir = "` + filepath.Join(dir, "data") + `"
log_dir = "` + filepath.Join(dir, "logs") + `"

[daemon]
worker_binary = "custom-worker"
idle_timeout_seconds = 0

[recovery]
max_attempts = 2

[logging]
format = "json"
level = "debug"
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, _, exists, err := config.Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if !exists {
		t.Fatal("expected exists=true")
	}
	if cfg.Daemon.WorkerBinary != "custom-worker" {
		t.Fatalf("override not applied: %q", cfg.Daemon.WorkerBinary)
	}
	if cfg.IdleTimeout() != 0 {
		t.Fatalf("expected idle watcher disabled, got %s", cfg.IdleTimeout())
	}
	if cfg.Recovery.MaxAttempts != 2 {
		t.Fatalf("expected max_attempts=2, got %d", cfg.Recovery.MaxAttempts)
	}
	if cfg.LockPath() != filepath.Join(dir, "data", "mnemo.lock") {
		t.Fatalf("unexpected lock path: %s", cfg.LockPath())
	}
}

func TestValidateRejectsBadValues(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*config.Config)
	}{
		{"zero startup deadline", func(c *config.Config) { c.Daemon.StartupDeadlineSeconds = 0 }},
		{"handshake exceeds deadline", func(c *config.Config) { c.Daemon.HandshakeTimeoutSeconds = 99 }},
		{"negative idle", func(c *config.Config) { c.Daemon.IdleTimeoutSeconds = -1 }},
		{"multiplier too small", func(c *config.Config) { c.Recovery.BackoffMultiplier = 1.0 }},
		{"jitter out of range", func(c *config.Config) { c.Recovery.JitterFactor = 1.0 }},
		{"zero attempts", func(c *config.Config) { c.Recovery.MaxAttempts = 0 }},
		{"zero stderr lines", func(c *config.Config) { c.Diagnostics.StderrMaxLines = 0 }},
		{"bad log format", func(c *config.Config) { c.Logging.Format = "xml" }},
		{"bad log level", func(c *config.Config) { c.Logging.Level = "verbose" }},
	}
	for _, tc := range cases {
		cfg := config.Default()
		tc.mutate(&cfg)
		if err := cfg.Validate(); err == nil {
			t.Fatalf("%s: expected validation error", tc.name)
		}
	}
}

func TestCreateSampleRoundTrips(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sub", "config.toml")
	if err := config.CreateSample(path); err != nil {
		t.Fatalf("CreateSample: %v", err)
	}
	cfg, _, exists, err := config.Load(path)
	if err != nil {
		t.Fatalf("Load sample: %v", err)
	}
	if !exists {
		t.Fatal("sample file should exist")
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("sample config must validate: %v", err)
	}
}

package config

import (
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
)

//go:embed sample_config.toml
var sampleConfig string

// Paths contains directory configuration.
type Paths struct {
	DataDir string `toml:"data_dir"`
	LogDir  string `toml:"log_dir"`
}

// Daemon contains configuration for the worker process and its supervision.
type Daemon struct {
	Enabled                 bool     `toml:"enabled"`
	WorkerBinary            string   `toml:"worker_binary"`
	WorkerArgs              []string `toml:"worker_args"`
	StartupDeadlineSeconds  int      `toml:"startup_deadline_seconds"`
	HandshakeTimeoutSeconds int      `toml:"handshake_timeout_seconds"`
	RequestTimeoutSeconds   int      `toml:"request_timeout_seconds"`
	IdleTimeoutSeconds      int      `toml:"idle_timeout_seconds"`
	ShutdownGraceSeconds    int      `toml:"shutdown_grace_seconds"`
}

// Recovery contains backoff parameters for automatic restart attempts.
type Recovery struct {
	BackoffBaseMs     int     `toml:"backoff_base_ms"`
	BackoffMultiplier float64 `toml:"backoff_multiplier"`
	BackoffMaxMs      int     `toml:"backoff_max_ms"`
	JitterFactor      float64 `toml:"jitter_factor"`
	MaxAttempts       int     `toml:"max_attempts"`
}

// Diagnostics bounds the stderr capture exposed through diagnostic reports.
type Diagnostics struct {
	StderrMaxLines int `toml:"stderr_max_lines"`
	StderrMaxChars int `toml:"stderr_max_chars"`
}

// Logging contains configuration for log output.
type Logging struct {
	Format string `toml:"format"`
	Level  string `toml:"level"`
}

// Config encapsulates all configuration values for mnemo.
//
// Sections by subsystem:
//   - Paths: data (store, lock) and log directories
//   - Daemon: worker binary and supervision timeouts
//   - Recovery: restart backoff and attempt budget
//   - Diagnostics: stderr capture bounds
//   - Logging: log format and level
type Config struct {
	Paths       Paths       `toml:"paths"`
	Daemon      Daemon      `toml:"daemon"`
	Recovery    Recovery    `toml:"recovery"`
	Diagnostics Diagnostics `toml:"diagnostics"`
	Logging     Logging     `toml:"logging"`
}

// DefaultConfigPath returns the absolute path to the default configuration
// file location.
func DefaultConfigPath() (string, error) {
	return expandPath("~/.config/mnemo/config.toml")
}

// Load locates, parses, and validates a configuration file. The returned
// config has all path fields expanded and normalized. The second return is
// the resolved config path and the third reports whether the file existed.
func Load(path string) (*Config, string, bool, error) {
	cfg := Default()

	resolvedPath, exists, err := resolveConfigPath(path)
	if err != nil {
		return nil, "", false, err
	}

	if exists {
		file, err := os.Open(resolvedPath)
		if err != nil {
			return nil, "", false, fmt.Errorf("open config: %w", err)
		}
		defer file.Close()

		decoder := toml.NewDecoder(file)
		if err := decoder.Decode(&cfg); err != nil {
			return nil, "", false, fmt.Errorf("parse config: %w", err)
		}
	}

	if err := cfg.normalize(); err != nil {
		return nil, "", false, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, "", false, err
	}

	return &cfg, resolvedPath, exists, nil
}

func resolveConfigPath(path string) (string, bool, error) {
	if path != "" {
		expanded, err := expandPath(path)
		if err != nil {
			return "", false, err
		}
		if _, err := os.Stat(expanded); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return expanded, false, nil
			}
			return "", false, fmt.Errorf("stat config: %w", err)
		}
		return expanded, true, nil
	}

	defaultPath, err := DefaultConfigPath()
	if err != nil {
		return "", false, err
	}
	projectPath, err := filepath.Abs("mnemo.toml")
	if err != nil {
		return "", false, err
	}

	if info, err := os.Stat(defaultPath); err == nil && !info.IsDir() {
		return defaultPath, true, nil
	}
	if info, err := os.Stat(projectPath); err == nil && !info.IsDir() {
		return projectPath, true, nil
	}
	return defaultPath, false, nil
}

// EnsureDirectories creates the directories the supervisor and worker need.
func (c *Config) EnsureDirectories() error {
	for _, dir := range []string{c.Paths.DataDir, c.Paths.LogDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create directory %q: %w", dir, err)
		}
	}
	return nil
}

// LockPath returns the cross-window lock file for this workspace.
func (c *Config) LockPath() string {
	return filepath.Join(c.Paths.DataDir, "mnemo.lock")
}

// StorePath returns the worker's memory database location.
func (c *Config) StorePath() string {
	return filepath.Join(c.Paths.DataDir, "memories.db")
}

// LogPath returns the supervisor log file location.
func (c *Config) LogPath() string {
	return filepath.Join(c.Paths.LogDir, "mnemo.log")
}

// StartupDeadline is the hard upper bound on a start attempt.
func (c *Config) StartupDeadline() time.Duration {
	return time.Duration(c.Daemon.StartupDeadlineSeconds) * time.Second
}

// HandshakeTimeout bounds the readiness exchange inside the startup deadline.
func (c *Config) HandshakeTimeout() time.Duration {
	return time.Duration(c.Daemon.HandshakeTimeoutSeconds) * time.Second
}

// RequestTimeout is the default per-request timeout.
func (c *Config) RequestTimeout() time.Duration {
	return time.Duration(c.Daemon.RequestTimeoutSeconds) * time.Second
}

// IdleTimeout is the no-traffic window after which the worker is stopped.
// Zero disables the idle watcher.
func (c *Config) IdleTimeout() time.Duration {
	return time.Duration(c.Daemon.IdleTimeoutSeconds) * time.Second
}

// ShutdownGrace bounds the polite-terminate phase before a forced kill.
func (c *Config) ShutdownGrace() time.Duration {
	return time.Duration(c.Daemon.ShutdownGraceSeconds) * time.Second
}

// BackoffBase returns the first retry delay.
func (c *Config) BackoffBase() time.Duration {
	return time.Duration(c.Recovery.BackoffBaseMs) * time.Millisecond
}

// BackoffMax caps retry delays.
func (c *Config) BackoffMax() time.Duration {
	return time.Duration(c.Recovery.BackoffMaxMs) * time.Millisecond
}

func expandPath(pathValue string) (string, error) {
	if pathValue == "" {
		return pathValue, nil
	}
	if strings.HasPrefix(pathValue, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home directory: %w", err)
		}
		if pathValue == "~" {
			pathValue = home
		} else if len(pathValue) > 1 && (pathValue[1] == '/' || pathValue[1] == '\\') {
			pathValue = filepath.Join(home, pathValue[2:])
		}
	}
	cleaned := filepath.Clean(pathValue)
	absolute, err := filepath.Abs(cleaned)
	if err != nil {
		return "", fmt.Errorf("resolve absolute path for %q: %w", cleaned, err)
	}
	return absolute, nil
}

// ExpandPath exposes the repository path expansion rules for other packages.
func ExpandPath(pathValue string) (string, error) {
	return expandPath(pathValue)
}

// CreateSample writes a sample configuration file to the specified location.
func CreateSample(path string) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create config directory: %w", err)
		}
	}
	if err := os.WriteFile(path, []byte(sampleConfig), 0o644); err != nil {
		return fmt.Errorf("write sample config: %w", err)
	}
	return nil
}

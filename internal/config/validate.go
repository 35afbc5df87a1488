package config

import (
	"errors"
	"fmt"
)

// Validate ensures the configuration is usable.
func (c *Config) Validate() error {
	if err := c.validateDaemon(); err != nil {
		return err
	}
	if err := c.validateRecovery(); err != nil {
		return err
	}
	if err := c.validateDiagnostics(); err != nil {
		return err
	}
	return c.validateLogging()
}

func (c *Config) validateDaemon() error {
	if c.Daemon.Enabled && c.Daemon.WorkerBinary == "" {
		return errors.New("daemon.worker_binary must be set when daemon.enabled is true")
	}
	if c.Daemon.StartupDeadlineSeconds <= 0 {
		return errors.New("daemon.startup_deadline_seconds must be positive")
	}
	if c.Daemon.HandshakeTimeoutSeconds <= 0 {
		return errors.New("daemon.handshake_timeout_seconds must be positive")
	}
	if c.Daemon.HandshakeTimeoutSeconds > c.Daemon.StartupDeadlineSeconds {
		return errors.New("daemon.handshake_timeout_seconds must not exceed daemon.startup_deadline_seconds")
	}
	if c.Daemon.RequestTimeoutSeconds <= 0 {
		return errors.New("daemon.request_timeout_seconds must be positive")
	}
	if c.Daemon.IdleTimeoutSeconds < 0 {
		return errors.New("daemon.idle_timeout_seconds must not be negative")
	}
	if c.Daemon.ShutdownGraceSeconds <= 0 {
		return errors.New("daemon.shutdown_grace_seconds must be positive")
	}
	return nil
}

func (c *Config) validateRecovery() error {
	if c.Recovery.BackoffBaseMs <= 0 {
		return errors.New("recovery.backoff_base_ms must be positive")
	}
	if c.Recovery.BackoffMultiplier <= 1 {
		return errors.New("recovery.backoff_multiplier must be greater than 1")
	}
	if c.Recovery.BackoffMaxMs < c.Recovery.BackoffBaseMs {
		return errors.New("recovery.backoff_max_ms must not be below recovery.backoff_base_ms")
	}
	if c.Recovery.JitterFactor < 0 || c.Recovery.JitterFactor >= 1 {
		return errors.New("recovery.jitter_factor must be in [0, 1)")
	}
	if c.Recovery.MaxAttempts < 1 {
		return errors.New("recovery.max_attempts must be at least 1")
	}
	return nil
}

func (c *Config) validateDiagnostics() error {
	if c.Diagnostics.StderrMaxLines <= 0 {
		return errors.New("diagnostics.stderr_max_lines must be positive")
	}
	if c.Diagnostics.StderrMaxChars <= 0 {
		return errors.New("diagnostics.stderr_max_chars must be positive")
	}
	return nil
}

func (c *Config) validateLogging() error {
	switch c.Logging.Format {
	case "console", "json":
	default:
		return fmt.Errorf("logging.format: unsupported value %q", c.Logging.Format)
	}
	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("logging.level: unsupported value %q", c.Logging.Level)
	}
	return nil
}

package main

import (
	"context"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"

	"mnemo/internal/config"
	"mnemo/internal/logging"
	"mnemo/internal/supervisor"
)

type commandContext struct {
	configFlag *string

	configOnce sync.Once
	config     *config.Config
	configErr  error
}

func newCommandContext(configFlag *string) *commandContext {
	return &commandContext{configFlag: configFlag}
}

func (c *commandContext) ensureConfig() (*config.Config, error) {
	c.configOnce.Do(func() {
		var path string
		if c.configFlag != nil {
			path = strings.TrimSpace(*c.configFlag)
		}
		cfg, _, _, err := config.Load(path)
		if err != nil {
			c.configErr = err
			return
		}
		if err := cfg.EnsureDirectories(); err != nil {
			c.configErr = err
			return
		}
		// The bundled worker takes its store location on the command line.
		if len(cfg.Daemon.WorkerArgs) == 0 {
			cfg.Daemon.WorkerArgs = []string{"--store", cfg.StorePath()}
		}
		c.config = cfg
	})
	return c.config, c.configErr
}

// withSupervisor runs fn against a supervisor owned by this invocation. The
// worker, if started, is torn down before return. The context cancels on
// SIGINT/SIGTERM.
func (c *commandContext) withSupervisor(fn func(ctx context.Context, sup *supervisor.Supervisor) error) error {
	cfg, err := c.ensureConfig()
	if err != nil {
		return err
	}

	logger, err := logging.New(logging.Options{
		Level:            cfg.Logging.Level,
		Format:           cfg.Logging.Format,
		OutputPaths:      []string{cfg.LogPath()},
		ErrorOutputPaths: []string{cfg.LogPath()},
	})
	if err != nil {
		return err
	}

	sup := supervisor.New(cfg, logger, supervisor.Options{})
	defer func() { _ = sup.Dispose() }()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	return fn(ctx, sup)
}

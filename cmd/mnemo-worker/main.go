// Command mnemo-worker is the reference memory worker. The supervisor spawns
// it with stdio pipes; it answers newline-framed JSON-RPC requests against
// the workspace's memory store and logs to stderr.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"mnemo/internal/config"
	"mnemo/internal/logging"
	"mnemo/internal/memstore"
	"mnemo/internal/worker"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run() error {
	storeFlag := flag.String("store", "", "Path to the memory database")
	configFlag := flag.String("config", "", "Configuration file path")
	logLevel := flag.String("log-level", "info", "Log level (debug, info, warn, error)")
	flag.Parse()

	logger, err := logging.New(logging.Options{
		Level:            *logLevel,
		Format:           "console",
		OutputPaths:      []string{"stderr"},
		ErrorOutputPaths: []string{"stderr"},
	})
	if err != nil {
		return err
	}

	storePath := *storeFlag
	if storePath == "" {
		cfg, _, _, err := config.Load(*configFlag)
		if err != nil {
			return err
		}
		storePath = cfg.StorePath()
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	store, err := memstore.Open(ctx, storePath, logger)
	if err != nil {
		return err
	}
	defer store.Close()

	return worker.New(store, logger).Serve(ctx, os.Stdin, os.Stdout)
}

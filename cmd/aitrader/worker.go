package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"go.uber.org/zap"

	"aitrader/internal/config"
	"aitrader/internal/db"
	"aitrader/internal/logger"
	gormrepository "aitrader/internal/repository/gorm"
	"aitrader/internal/worker"
)

// runWorker is the entry point of a worker child process and returns its
// exit code. Stdout is reserved for protocol events.
func runWorker(cfg config.Config, args []string) int {
	fs := flag.NewFlagSet("worker", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)
	simulationID := fs.String("simulation-id", "", "simulation to run")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if strings.TrimSpace(*simulationID) == "" {
		fmt.Fprintln(os.Stderr, "worker: --simulation-id is required")
		return 2
	}

	logger, err := logger.NewWorker(cfg.Log, *simulationID, os.Getpid())
	if err != nil {
		fmt.Fprintln(os.Stderr, "worker: build logger:", err)
		return 1
	}
	defer logger.Sync()

	// Ctrl-C reaches the whole process group; the manager decides when we stop.
	signal.Ignore(syscall.SIGINT)
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM)
	defer stop()

	dbConn, err := db.Open(cfg.DB)
	if err != nil {
		logger.Error("db open failed", zap.Error(err))
		return 1
	}
	defer db.Close(dbConn)
	store := gormrepository.New(dbConn.Gorm)

	deps := newWorkerDeps(cfg, store, logger)
	err = deps.worker(*simulationID, logger).Serve(ctx, os.Stdin, os.Stdout)
	switch {
	case err == nil:
		return 0
	case errors.Is(err, worker.ErrControlLost):
		logger.Warn("manager went away")
		return 1
	default:
		logger.Error("worker exited with error", zap.Error(err))
		return 1
	}
}

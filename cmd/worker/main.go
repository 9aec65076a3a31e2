// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/adiadia/task-timeline/internal/config"
	"github.com/adiadia/task-timeline/internal/logging"
	"github.com/adiadia/task-timeline/internal/persistence"
	"github.com/adiadia/task-timeline/internal/worker"
)

func main() {
	cfg := config.Load()

	ctx, stop := signal.NotifyContext(
		context.Background(),
		os.Interrupt,
		syscall.SIGTERM,
	)
	defer stop()

	logger := logging.NewLogger(cfg.Env)

	backend, err := persistence.Open(ctx, cfg.DatabaseURL, cfg.AutoMigrate, logger)
	if err != nil {
		log.Fatalf("store open failed: %v", err)
	}
	defer backend.Close()

	w := worker.New(worker.Deps{
		Store:         backend.Store,
		Logger:        logger,
		ReclaimAfter:  cfg.WorkerReclaimAfter,
		MaxAttempts:   cfg.WorkerMaxAttempts,
		WebhookSecret: cfg.WebhookSecret,
	})

	logger.Info("worker started",
		"dialect", backend.Dialect,
		"poll_interval", cfg.WorkerPollInterval,
		"max_attempts", cfg.WorkerMaxAttempts,
	)

	w.Run(ctx, cfg.WorkerPollInterval)
	logger.Info("worker stopped")
}

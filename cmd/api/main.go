// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/adiadia/task-timeline/internal/config"
	"github.com/adiadia/task-timeline/internal/logging"
	"github.com/adiadia/task-timeline/internal/persistence"
	httptransport "github.com/adiadia/task-timeline/internal/transport/http"
	"github.com/adiadia/task-timeline/internal/worker"
)

var (
	Version   = "dev"
	Commit    = "none"
	BuildDate = "unknown"
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

	handler := httptransport.NewRouter(httptransport.Deps{
		Store:            backend.Store,
		Health:           backend.Health,
		Logger:           logger,
		IngestToken:      cfg.IngestToken,
		UploadRatePerMin: cfg.UploadRatePerMin,
		MaxUploadBytes:   cfg.MaxUploadBytes,
		Version:          Version,
		Commit:           Commit,
		BuildDate:        BuildDate,
	})

	if cfg.EmbeddedWorker {
		w := worker.New(worker.Deps{
			Store:         backend.Store,
			Logger:        logger.With("component", "worker"),
			ReclaimAfter:  cfg.WorkerReclaimAfter,
			MaxAttempts:   cfg.WorkerMaxAttempts,
			WebhookSecret: cfg.WebhookSecret,
		})
		go w.Run(ctx, cfg.WorkerPollInterval)
	}

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		logger.Info("api listening",
			"addr", cfg.HTTPAddr,
			"dialect", backend.Dialect,
			"embedded_worker", cfg.EmbeddedWorker,
			"version", Version,
			"commit", Commit,
			"build_date", BuildDate,
		)

		if err := srv.ListenAndServe(); err != nil &&
			err != http.ErrServerClosed {
			logger.Error("server failed", "error", err)
			os.Exit(1)
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down server")

	shutdownCtx, cancel := context.WithTimeout(
		context.Background(),
		5*time.Second,
	)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", "error", err)
	}
}

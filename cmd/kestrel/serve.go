package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/opensource-finance/kestrel/internal/api"
	"github.com/opensource-finance/kestrel/internal/bus"
	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/repository"
	"github.com/opensource-finance/kestrel/internal/tracing"
	"github.com/opensource-finance/kestrel/internal/worker"
	"github.com/spf13/cobra"
)

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API server",
		RunE:  runServe,
	}
}

func runServe(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()

	logger.Info("starting kestrel",
		"version", Version,
		"commit", Commit,
		"build_date", BuildDate,
	)

	shutdownTracing, err := tracing.Init(ctx, cfg.Tracing, Version, logger)
	if err != nil {
		return fmt.Errorf("failed to initialize tracing: %w", err)
	}
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracing(flushCtx); err != nil {
			logger.Error("failed to flush traces", "error", err)
		}
	}()

	c, err := buildCore(cfg)
	if err != nil {
		return err
	}
	defer c.Close()

	// Report archive (optional)
	repo, err := repository.New(cfg.Repository)
	if err != nil {
		return fmt.Errorf("failed to initialize repository: %w", err)
	}
	if repo != nil {
		defer repo.Close()
		logger.Info("repository initialized", "driver", cfg.Repository.Driver)
	} else {
		logger.Info("report archive disabled")
	}

	// Event bus and async workers
	var (
		eventBus    domain.EventBus
		asyncWorker *worker.Worker
	)
	if cfg.AsyncWorkers > 0 {
		eventBus, err = bus.New(cfg.EventBus)
		if err != nil {
			return fmt.Errorf("failed to initialize event bus: %w", err)
		}
		defer eventBus.Close()

		asyncWorker = worker.NewWorker(eventBus, repo, c.processor, logger)
		if err := asyncWorker.Start(worker.Config{WorkerCount: cfg.AsyncWorkers}); err != nil {
			return fmt.Errorf("failed to start async worker: %w", err)
		}
		logger.Info("event bus initialized", "type", cfg.EventBus.Type, "workers", cfg.AsyncWorkers)
	}

	srv := api.NewServer(cfg.Server, api.Dependencies{
		Processor:    c.processor,
		Engine:       c.engine,
		Audit:        c.audit,
		Repo:         repo,
		Cache:        c.cache,
		Bus:          eventBus,
		AsyncEnabled: asyncWorker != nil,
		RulesFile:    cfg.Rules.File,
		Version:      Version,
	})

	errCh := make(chan error, 1)
	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	logger.Info("kestrel is ready",
		"host", cfg.Server.Host,
		"port", cfg.Server.Port,
	)

	select {
	case <-ctx.Done():
		logger.Info("shutting down...")
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server failed: %w", err)
		}
	}

	// Stop async workers first
	if asyncWorker != nil {
		if err := asyncWorker.Stop(); err != nil {
			logger.Error("failed to stop async worker", "error", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server forced to shutdown", "error", err)
	}

	logger.Info("kestrel shutdown complete")
	return nil
}

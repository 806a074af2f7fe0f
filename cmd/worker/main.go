package main

import (
	"context"
	"errors"
	"os/signal"
	"syscall"

	"github.com/demoulas/profitsharing-migrator/internal/bootstrap"
	"github.com/demoulas/profitsharing-migrator/internal/config"
	"github.com/demoulas/profitsharing-migrator/internal/logger"
	"github.com/demoulas/profitsharing-migrator/internal/queuefactory"
	"github.com/demoulas/profitsharing-migrator/internal/worker"
)

func main() {
	cfg, err := config.Load(".env")
	if err != nil {
		logger.Fatalf("Failed to load configuration: %v", err)
	}
	if !cfg.Queue.Enabled {
		logger.Fatalf("Queue is not enabled. Set PSM_QUEUE_ENABLED=true to use the worker")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	rt, err := bootstrap.New(ctx, cfg)
	if err != nil {
		logger.Fatalf("Failed to initialize executor: %v", err)
	}
	defer func() {
		if err := rt.Close(); err != nil {
			logger.Warnf("Error during shutdown: %v", err)
		}
	}()
	// Jobs may name SQL-file migrations added after start.
	rt.Loader.StartWatching(ctx, cfg.Server.WatchInterval)

	q, err := queuefactory.NewQueue(cfg.Queue.Factory())
	if err != nil {
		logger.Fatalf("Failed to create queue: %v", err)
	}

	w := worker.NewWorker(rt.Executor, q)
	logger.Infof("Migration worker consuming from %s. Press Ctrl+C to stop.", q.Name())

	if err := w.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Errorf("Worker error: %v", err)
	}

	logger.Info("Shutting down worker...")
	if err := w.Stop(); err != nil {
		logger.Errorf("Error stopping worker: %v", err)
	}
	logger.Info("Worker stopped")
}

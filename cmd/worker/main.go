// Command worker runs the background ingestion pool (C7): it pulls
// document/URL jobs off the Redis-backed queue and drives each attempt
// through internal/ingestion.Orchestrator.ProcessJob to a terminal
// document status, retrying transient failures per the queue's backoff
// policy and leaving fatal failures in the document row for inspection.
package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog/log"

	"github.com/prk2007/ragvault/internal/config"
	"github.com/prk2007/ragvault/internal/logging"
	"github.com/prk2007/ragvault/internal/queue"
	"github.com/prk2007/ragvault/internal/wiring"
)

func main() {
	if err := run(); err != nil {
		log.Fatal().Err(err).Msg("worker")
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	baseLogger := logging.Init("", "info")
	log.Logger = baseLogger

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	svcs, err := wiring.Build(ctx, cfg)
	if err != nil {
		return fmt.Errorf("build services: %w", err)
	}
	defer svcs.Close()

	pool := queue.NewWorkerPool(cfg.Redis.Addr(), cfg.Redis.Password, cfg.QueueConcurrency, cfg.QueueRateLimitPerSec)
	pool.HandleIngestDocument(func(jobCtx context.Context, payload queue.IngestPayload) error {
		jobCtx = logging.WithLogger(jobCtx, baseLogger)
		return svcs.Ingestion.ProcessJob(jobCtx, payload)
	})

	done := make(chan error, 1)
	go func() {
		log.Info().Int("concurrency", cfg.QueueConcurrency).Int("rate_per_sec", cfg.QueueRateLimitPerSec).Msg("worker pool started")
		done <- pool.Run()
	}()

	select {
	case <-ctx.Done():
		log.Info().Msg("shutting down: draining in-flight jobs")
		pool.Shutdown()
		<-done
	case err := <-done:
		if err != nil {
			return fmt.Errorf("worker pool stopped: %w", err)
		}
	}
	log.Info().Msg("worker stopped")
	return nil
}

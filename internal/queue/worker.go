package queue

import (
	"context"
	"fmt"
	"time"

	"github.com/hibiken/asynq"
	"golang.org/x/time/rate"
)

// Handler processes one ingestion job. Returning an error marks the
// attempt failed and lets asynq's retry/backoff policy decide whether to
// try again.
type Handler func(ctx context.Context, payload IngestPayload) error

// WorkerPool runs ingestion jobs off the queue with bounded concurrency
// and a process-wide rate limit.
type WorkerPool struct {
	server  *asynq.Server
	mux     *asynq.ServeMux
	limiter *rate.Limiter
}

// NewWorkerPool constructs a worker pool bound to one Redis instance.
// concurrency and ratePerSecond fall back to defaults (5 workers, 10
// jobs/s) when non-positive.
func NewWorkerPool(addr, password string, concurrency, ratePerSecond int) *WorkerPool {
	if concurrency <= 0 {
		concurrency = 5
	}
	if ratePerSecond <= 0 {
		ratePerSecond = 10
	}

	opt := asynq.RedisClientOpt{Addr: addr, Password: password}
	srv := asynq.NewServer(opt, asynq.Config{
		Concurrency:    concurrency,
		Queues:         map[string]int{defaultQueueName: 1},
		RetryDelayFunc: exponentialBackoffFrom2s,
	})

	return &WorkerPool{
		server:  srv,
		mux:     asynq.NewServeMux(),
		limiter: rate.NewLimiter(rate.Limit(ratePerSecond), ratePerSecond),
	}
}

// exponentialBackoffFrom2s retries at 2s, 4s, 8s, ... matching the
// spec's "3 attempts, exponential backoff starting at 2s".
func exponentialBackoffFrom2s(n int, _ error, _ *asynq.Task) time.Duration {
	return (1 << uint(n)) * 2 * time.Second
}

// HandleIngestDocument registers h as the handler for ingestion jobs,
// throttled to the worker pool's configured rate limit.
func (w *WorkerPool) HandleIngestDocument(h Handler) {
	w.mux.HandleFunc(TaskTypeIngestDocument, func(ctx context.Context, t *asynq.Task) error {
		if err := w.limiter.Wait(ctx); err != nil {
			return fmt.Errorf("queue: rate limiter: %w", err)
		}
		payload, err := UnmarshalIngestPayload(t.Payload())
		if err != nil {
			return fmt.Errorf("queue: decode payload: %w", err)
		}
		return h(ctx, payload)
	})
}

// Run blocks until Shutdown is called or the server hits a fatal error.
func (w *WorkerPool) Run() error {
	return w.server.Run(w.mux)
}

// Shutdown stops accepting new jobs and waits for in-flight attempts to
// finish before returning.
func (w *WorkerPool) Shutdown() {
	w.server.Shutdown()
}

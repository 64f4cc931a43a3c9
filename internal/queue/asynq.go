package queue

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/hibiken/asynq"
)

const defaultQueueName = "ingestion"

// completedRetention approximates a removeOnComplete=100 count cap: asynq
// retires completed tasks by age rather than by count, so the cap is
// approximated with a generous time-based one instead. It is the only
// retention passed to asynq; failedRetention is not applied, and failed
// tasks stay in asynq's archive.
const (
	completedRetention = 1 * time.Hour
	failedRetention     = 24 * time.Hour
	jobTimeout          = 30 * time.Minute
)

// AsynqEnqueuer submits ingestion jobs onto a Redis-backed asynq queue.
type AsynqEnqueuer struct {
	client    *asynq.Client
	inspector *asynq.Inspector
	queue     string
}

func NewAsynqEnqueuer(addr, password string) *AsynqEnqueuer {
	opt := asynq.RedisClientOpt{Addr: addr, Password: password}
	return &AsynqEnqueuer{
		client:    asynq.NewClient(opt),
		inspector: asynq.NewInspector(opt),
		queue:     defaultQueueName,
	}
}

var _ Enqueuer = (*AsynqEnqueuer)(nil)

// EnqueueIngestDocument enqueues the job under documentID as its task ID,
// so re-ingesting a document already queued or running is rejected
// instead of silently running twice.
func (e *AsynqEnqueuer) EnqueueIngestDocument(ctx context.Context, tenantID, documentID, sourceURL string) error {
	payload, err := IngestPayload{TenantID: tenantID, DocumentID: documentID, SourceURL: sourceURL}.Marshal()
	if err != nil {
		return fmt.Errorf("queue: marshal payload: %w", err)
	}
	task := asynq.NewTask(TaskTypeIngestDocument, payload)
	_, err = e.client.EnqueueContext(ctx, task,
		asynq.TaskID(documentID),
		asynq.Queue(e.queue),
		asynq.MaxRetry(2),
		asynq.Timeout(jobTimeout),
		asynq.Retention(completedRetention),
	)
	if errors.Is(err, asynq.ErrTaskIDConflict) {
		return fmt.Errorf("%w: %s", ErrAlreadyEnqueued, documentID)
	}
	return err
}

// Cancel removes a queued or scheduled job by ID. A job already being
// processed by a worker finishes its current attempt; asynq has no
// preemption primitive for a running handler.
func (e *AsynqEnqueuer) Cancel(_ context.Context, documentID string) error {
	if err := e.inspector.DeleteTask(e.queue, documentID); err != nil && !errors.Is(err, asynq.ErrTaskNotFound) {
		return err
	}
	return nil
}

func (e *AsynqEnqueuer) Close() error {
	if err := e.inspector.Close(); err != nil {
		return err
	}
	return e.client.Close()
}

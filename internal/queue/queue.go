// Package queue enqueues and processes document ingestion jobs on a
// Redis-backed work queue, tracking per-document processing stage so
// clients can poll progress without holding a connection open.
package queue

import (
	"context"
	"encoding/json"
	"errors"
)

// TaskTypeIngestDocument identifies the one job type this queue runs.
const TaskTypeIngestDocument = "ingest:document"

// Stage is a coarse-grained processing checkpoint for one ingestion job.
type Stage string

const (
	StageDownloading Stage = "downloading"
	StageFetching    Stage = "fetching" // URL-ingest jobs use this in place of StageDownloading
	StageParsing     Stage = "parsing"
	StageEmbedding   Stage = "embedding"
	StageStoring     Stage = "storing"
	StageFinalizing  Stage = "finalizing"
	StageCompleted   Stage = "completed"
)

var (
	// ErrAlreadyEnqueued is returned when a document_id is enqueued twice;
	// job IDs are the document ID, so re-ingesting an in-flight document
	// is a conflict rather than a duplicate job.
	ErrAlreadyEnqueued = errors.New("queue: document already enqueued")
	// ErrNoProgress is returned when no stage has been recorded for a
	// document, e.g. before its job starts or after its TTL expires.
	ErrNoProgress = errors.New("queue: no progress recorded")
)

// IngestPayload is the job body for TaskTypeIngestDocument. It carries one
// of two job variants (spec's ProcessDocument | ScrapeUrl tagged union):
// SourceURL empty means "process the already-uploaded blob"; SourceURL set
// means "fetch the URL, then process it".
type IngestPayload struct {
	TenantID   string `json:"tenant_id"`
	DocumentID string `json:"document_id"`
	SourceURL  string `json:"source_url,omitempty"`
}

// IsURLJob reports whether this payload is a scrape_url job rather than a
// process_document job.
func (p IngestPayload) IsURLJob() bool { return p.SourceURL != "" }

func (p IngestPayload) Marshal() ([]byte, error) { return json.Marshal(p) }

func UnmarshalIngestPayload(b []byte) (IngestPayload, error) {
	var p IngestPayload
	err := json.Unmarshal(b, &p)
	return p, err
}

// Enqueuer submits ingestion jobs and cancels pending or in-flight ones.
type Enqueuer interface {
	// EnqueueIngestDocument submits a job for documentID, idempotent on
	// documentID. sourceURL is empty for an upload-based job (bytes
	// already in the blob store) or set for a scrape_url job (worker
	// fetches sourceURL before parsing).
	EnqueueIngestDocument(ctx context.Context, tenantID, documentID, sourceURL string) error
	Cancel(ctx context.Context, documentID string) error
	Close() error
}

// ProgressTracker records which stage a document's ingestion job has
// reached, so status endpoints can report progress without querying the
// job backend directly.
type ProgressTracker interface {
	SetStage(ctx context.Context, documentID string, stage Stage) error
	GetStage(ctx context.Context, documentID string) (Stage, error)
}

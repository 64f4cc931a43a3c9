package queue

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestMemoryEnqueuer_RejectsDuplicateDocumentID(t *testing.T) {
	e := NewMemoryEnqueuer()
	ctx := context.Background()

	require.NoError(t, e.EnqueueIngestDocument(ctx, "tenant-1", "doc-1", ""))
	err := e.EnqueueIngestDocument(ctx, "tenant-1", "doc-1", "")
	require.ErrorIs(t, err, ErrAlreadyEnqueued)
	require.Len(t, e.Jobs(), 1)
}

func TestMemoryEnqueuer_CancelRemovesJobAndRecordsIt(t *testing.T) {
	e := NewMemoryEnqueuer()
	ctx := context.Background()

	require.NoError(t, e.EnqueueIngestDocument(ctx, "tenant-1", "doc-1", ""))
	require.NoError(t, e.Cancel(ctx, "doc-1"))

	require.Empty(t, e.Jobs())
	require.True(t, e.WasCancelled("doc-1"))

	require.NoError(t, e.EnqueueIngestDocument(ctx, "tenant-1", "doc-1", ""))
	require.False(t, e.WasCancelled("doc-1"))
}

func TestMemoryProgressTracker_GetBeforeSetReturnsErrNoProgress(t *testing.T) {
	p := NewMemoryProgressTracker()
	_, err := p.GetStage(context.Background(), "doc-1")
	require.ErrorIs(t, err, ErrNoProgress)
}

func TestMemoryProgressTracker_TracksStageTransitions(t *testing.T) {
	p := NewMemoryProgressTracker()
	ctx := context.Background()

	for _, stage := range []Stage{StageDownloading, StageParsing, StageEmbedding, StageStoring, StageFinalizing, StageCompleted} {
		require.NoError(t, p.SetStage(ctx, "doc-1", stage))
		got, err := p.GetStage(ctx, "doc-1")
		require.NoError(t, err)
		require.Equal(t, stage, got)
	}
}

func TestIngestPayload_RoundTripsThroughJSON(t *testing.T) {
	p := IngestPayload{TenantID: "tenant-1", DocumentID: "doc-1"}
	b, err := p.Marshal()
	require.NoError(t, err)

	got, err := UnmarshalIngestPayload(b)
	require.NoError(t, err)
	require.Equal(t, p, got)
}

func TestExponentialBackoffFrom2s_DoublesEachAttempt(t *testing.T) {
	require.Equal(t, 2*time.Second, exponentialBackoffFrom2s(0, nil, nil))
	require.Equal(t, 4*time.Second, exponentialBackoffFrom2s(1, nil, nil))
	require.Equal(t, 8*time.Second, exponentialBackoffFrom2s(2, nil, nil))
}

package ingestion

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/prk2007/ragvault/internal/blobstore"
	"github.com/prk2007/ragvault/internal/catalog"
	"github.com/prk2007/ragvault/internal/embedder"
	"github.com/prk2007/ragvault/internal/fetcher"
	"github.com/prk2007/ragvault/internal/queue"
	"github.com/prk2007/ragvault/internal/vectorstore"
)

func newTestOrchestrator(t *testing.T) (*Orchestrator, catalog.Store, *queue.MemoryEnqueuer) {
	t.Helper()
	store := catalog.NewMemoryStore()
	enq := queue.NewMemoryEnqueuer()
	o := New(
		store,
		blobstore.NewMemoryStore(),
		vectorstore.NewMemoryStore(),
		enq,
		queue.NewMemoryProgressTracker(),
		fetcher.New(time.Second, 0),
		func(catalog.Tenant, string) (embedder.Embedder, error) {
			return embedder.NewDeterministic(1536), nil
		},
	)
	return o, store, enq
}

func testTenant(id string) catalog.Tenant {
	return catalog.Tenant{
		ID:     id,
		Email:  id + "@x.com",
		Status: catalog.StatusActive,
		Config: catalog.TenantConfig{
			MaxDocuments:  10,
			MaxFileSizeMB: 10,
			ChunkSize:     200,
			ChunkOverlap:  20,
		},
	}
}

func TestIngestUpload_CreatesDocumentAndEnqueues(t *testing.T) {
	o, store, enq := newTestOrchestrator(t)
	ctx := context.Background()
	tenant := testTenant("t1")

	doc, err := o.IngestUpload(ctx, tenant, UploadRequest{
		TenantID: tenant.ID,
		Filename: "notes.txt",
		Content:  []byte("hello world, this is a test document."),
	})
	require.NoError(t, err)
	require.NotEmpty(t, doc.BlobKey)
	require.Equal(t, catalog.DocProcessing, doc.Status)

	stored, err := store.GetDocument(ctx, tenant.ID, doc.ID)
	require.NoError(t, err)
	require.Equal(t, doc.BlobKey, stored.BlobKey)

	jobs := enq.Jobs()
	require.Len(t, jobs, 1)
	require.Equal(t, doc.ID, jobs[0].DocumentID)
	require.False(t, jobs[0].IsURLJob())
}

func TestIngestUpload_RejectsUnsupportedExtension(t *testing.T) {
	o, _, _ := newTestOrchestrator(t)
	_, err := o.IngestUpload(context.Background(), testTenant("t1"), UploadRequest{Filename: "video.mp4", Content: []byte("x")})
	require.Error(t, err)
}

func TestIngestUpload_DuplicateContentConflicts(t *testing.T) {
	o, _, _ := newTestOrchestrator(t)
	ctx := context.Background()
	tenant := testTenant("t1")
	content := []byte("duplicate me")

	_, err := o.IngestUpload(ctx, tenant, UploadRequest{Filename: "a.txt", Content: content})
	require.NoError(t, err)

	_, err = o.IngestUpload(ctx, tenant, UploadRequest{Filename: "b.txt", Content: content})
	require.ErrorIs(t, err, ErrDuplicateContent)
}

func TestIngestUpload_QuotaExceeded(t *testing.T) {
	o, _, _ := newTestOrchestrator(t)
	ctx := context.Background()
	tenant := testTenant("t1")
	tenant.Config.MaxDocuments = 1

	_, err := o.IngestUpload(ctx, tenant, UploadRequest{Filename: "a.txt", Content: []byte("first")})
	require.NoError(t, err)

	_, err = o.IngestUpload(ctx, tenant, UploadRequest{Filename: "b.txt", Content: []byte("second")})
	require.Error(t, err)
}

func TestProcessJob_UploadCompletesSuccessfully(t *testing.T) {
	o, store, _ := newTestOrchestrator(t)
	ctx := context.Background()
	tenant := testTenant("t1")

	content := []byte("Paragraph one has some words in it.\n\nParagraph two follows along after a blank line.")
	doc, err := o.IngestUpload(ctx, tenant, UploadRequest{Filename: "a.txt", Content: content})
	require.NoError(t, err)

	require.NoError(t, o.ProcessJob(ctx, queue.IngestPayload{TenantID: tenant.ID, DocumentID: doc.ID}))

	got, err := store.GetDocument(ctx, tenant.ID, doc.ID)
	require.NoError(t, err)
	require.Equal(t, catalog.DocCompleted, got.Status)
	require.Greater(t, got.ChunkCount, 0)
	require.Greater(t, got.CharacterCount, 0)
}

func TestProcessJob_NoChunksIsFatal(t *testing.T) {
	o, store, _ := newTestOrchestrator(t)
	ctx := context.Background()
	tenant := testTenant("t1")

	doc, err := o.IngestUpload(ctx, tenant, UploadRequest{Filename: "a.txt", Content: []byte("   ")})
	require.NoError(t, err)

	require.NoError(t, o.ProcessJob(ctx, queue.IngestPayload{TenantID: tenant.ID, DocumentID: doc.ID}))

	got, err := store.GetDocument(ctx, tenant.ID, doc.ID)
	require.NoError(t, err)
	require.Equal(t, catalog.DocFailed, got.Status)
	require.NotEmpty(t, got.ErrorMessage)
}

func TestDeleteDocument_RemovesVectorsBlobAndRow(t *testing.T) {
	o, store, _ := newTestOrchestrator(t)
	ctx := context.Background()
	tenant := testTenant("t1")

	content := []byte("Some content that will be chunked and embedded for deletion testing.")
	doc, err := o.IngestUpload(ctx, tenant, UploadRequest{Filename: "a.txt", Content: content})
	require.NoError(t, err)
	require.NoError(t, o.ProcessJob(ctx, queue.IngestPayload{TenantID: tenant.ID, DocumentID: doc.ID}))

	require.NoError(t, o.DeleteDocument(ctx, tenant, doc.ID))

	_, err = store.GetDocument(ctx, tenant.ID, doc.ID)
	require.ErrorIs(t, err, catalog.ErrNotFound)
}

func TestIsFatal_ClassifiesErrors(t *testing.T) {
	require.True(t, IsFatal(fatal(embedder.ErrBadRequest)))
	require.True(t, IsFatal(embedder.ErrBadRequest))
	require.True(t, IsFatal(fetcher.ErrUnsupportedContentType))
	require.False(t, IsFatal(embedder.ErrUnavailable))
}

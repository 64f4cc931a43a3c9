// Package ingestion implements the document lifecycle state machine (C11):
// it validates and enqueues uploads/URL ingests, then drives each worker
// attempt through fetch/parse/chunk/embed/store to a terminal document
// status. It is the only package that calls internal/parsers,
// internal/chunker, internal/embedder, internal/fetcher, internal/queue,
// internal/blobstore, internal/vectorstore, and internal/catalog together.
package ingestion

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/google/uuid"

	"github.com/prk2007/ragvault/internal/apierr"
	"github.com/prk2007/ragvault/internal/blobstore"
	"github.com/prk2007/ragvault/internal/catalog"
	"github.com/prk2007/ragvault/internal/chunker"
	"github.com/prk2007/ragvault/internal/crypto"
	"github.com/prk2007/ragvault/internal/embedder"
	"github.com/prk2007/ragvault/internal/fetcher"
	"github.com/prk2007/ragvault/internal/logging"
	"github.com/prk2007/ragvault/internal/parsers"
	"github.com/prk2007/ragvault/internal/queue"
	"github.com/prk2007/ragvault/internal/vectorstore"
)

// EmbedderFactory constructs the Embedder to use for one tenant's
// documents: the tenant's own decrypted key when configured, otherwise the
// platform default. Callers pass the tenant config's embedding model as
// model; when that is "", the factory picks its own default model.
type EmbedderFactory func(tenant catalog.Tenant, model string) (embedder.Embedder, error)

// Orchestrator ties the catalog, blob store, vector index, queue, parsers,
// and embedder client into the document ingestion lifecycle.
type Orchestrator struct {
	Catalog     catalog.Store
	Blobs       blobstore.Store
	Vectors     vectorstore.Store
	Enqueuer    queue.Enqueuer
	Progress    queue.ProgressTracker
	Fetcher     *fetcher.Fetcher
	NewEmbedder EmbedderFactory
	Now         func() time.Time
}

func New(catalogStore catalog.Store, blobs blobstore.Store, vectors vectorstore.Store, enq queue.Enqueuer, progress queue.ProgressTracker, f *fetcher.Fetcher, newEmbedder EmbedderFactory) *Orchestrator {
	return &Orchestrator{
		Catalog: catalogStore, Blobs: blobs, Vectors: vectors,
		Enqueuer: enq, Progress: progress, Fetcher: f,
		NewEmbedder: newEmbedder, Now: time.Now,
	}
}

// UploadRequest is the synchronous-validation input for a file upload.
type UploadRequest struct {
	TenantID string
	Filename string
	Title    string
	Content  []byte
}

// IngestUpload validates doc_type/size/quota, computes the content hash
// for deduplication, creates the document row, stores the bytes, and
// enqueues the processing job. Returns ErrDuplicateContent (its message
// naming the existing document's ID) when the tenant already has this
// exact content.
func (o *Orchestrator) IngestUpload(ctx context.Context, tenant catalog.Tenant, req UploadRequest) (catalog.Document, error) {
	docType, ok := parsers.DetectDocType(req.Filename)
	if !ok {
		return catalog.Document{}, apierr.Validation("unsupported document type", "filename")
	}
	if !allowedDocType(tenant.Config.AllowedDocTypes, docType) {
		return catalog.Document{}, apierr.Validation("document type not allowed for this tenant", "filename")
	}

	maxBytes := int64(tenant.Config.MaxFileSizeMB) * 1024 * 1024
	if maxBytes > 0 && int64(len(req.Content)) > maxBytes {
		return catalog.Document{}, apierr.Validation(fmt.Sprintf("file exceeds maximum size of %d MB", tenant.Config.MaxFileSizeMB), "file")
	}

	count, err := o.Catalog.CountActiveDocuments(ctx, tenant.ID)
	if err != nil {
		return catalog.Document{}, err
	}
	if tenant.Config.MaxDocuments > 0 && count >= tenant.Config.MaxDocuments {
		return catalog.Document{}, apierr.Forbidden("document quota exceeded")
	}

	contentHash := crypto.SHA256Hex(req.Content)
	if existing, err := o.Catalog.GetDocumentByContentHash(ctx, tenant.ID, contentHash); err == nil {
		return catalog.Document{}, fmt.Errorf("%w: existing document %s", ErrDuplicateContent, existing.ID)
	} else if !errors.Is(err, catalog.ErrNotFound) {
		return catalog.Document{}, err
	}

	doc := catalog.Document{
		ID:          uuid.NewString(),
		TenantID:    tenant.ID,
		Title:       titleOrFilename(req.Title, req.Filename),
		DocType:     docType,
		ContentHash: contentHash,
		SizeBytes:   int64(len(req.Content)),
		Status:      catalog.DocProcessing,
	}
	if err := o.Catalog.CreateDocument(ctx, doc); err != nil {
		return catalog.Document{}, err
	}

	blobKey := blobstore.Key(tenant.ID, doc.ID, req.Filename)
	if err := o.Blobs.Put(ctx, blobKey, bytes.NewReader(req.Content), contentTypeFor(docType)); err != nil {
		return catalog.Document{}, err
	}
	if err := o.Catalog.SetDocumentBlobKey(ctx, tenant.ID, doc.ID, blobKey); err != nil {
		return catalog.Document{}, err
	}
	doc.BlobKey = blobKey

	if err := o.Enqueuer.EnqueueIngestDocument(ctx, tenant.ID, doc.ID, ""); err != nil {
		return catalog.Document{}, err
	}

	return doc, nil
}

// IngestURL validates the URL and doc-type-eligibility, creates the
// document row, and enqueues a scrape_url job. The document's type and
// content hash are not known until the worker fetches it.
func (o *Orchestrator) IngestURL(ctx context.Context, tenant catalog.Tenant, sourceURL, title string) (catalog.Document, error) {
	if sourceURL == "" {
		return catalog.Document{}, apierr.Validation("url is required", "url")
	}

	count, err := o.Catalog.CountActiveDocuments(ctx, tenant.ID)
	if err != nil {
		return catalog.Document{}, err
	}
	if tenant.Config.MaxDocuments > 0 && count >= tenant.Config.MaxDocuments {
		return catalog.Document{}, apierr.Forbidden("document quota exceeded")
	}

	doc := catalog.Document{
		ID:        uuid.NewString(),
		TenantID:  tenant.ID,
		Title:     title,
		DocType:   catalog.DocHTML, // provisional; worker corrects from the fetched content-type
		SourceURL: sourceURL,
		Status:    catalog.DocProcessing,
	}
	if err := o.Catalog.CreateDocument(ctx, doc); err != nil {
		return catalog.Document{}, err
	}

	if err := o.Enqueuer.EnqueueIngestDocument(ctx, tenant.ID, doc.ID, sourceURL); err != nil {
		return catalog.Document{}, err
	}
	return doc, nil
}

// ErrDuplicateContent is returned when a tenant re-uploads bytes matching
// an existing document's content hash.
var ErrDuplicateContent = errors.New("ingestion: duplicate content")

// fatalError marks a failure as non-retryable: the worker should call
// markFailed immediately rather than let the queue retry it.
type fatalError struct{ err error }

func (f fatalError) Error() string { return f.err.Error() }
func (f fatalError) Unwrap() error { return f.err }

func fatal(err error) error {
	if err == nil {
		return nil
	}
	return fatalError{err}
}

// IsFatal reports whether err should short-circuit retries (parse error,
// embedder 4xx, quota) rather than be retried by the queue's backoff
// policy.
func IsFatal(err error) bool {
	var fe fatalError
	if errors.As(err, &fe) {
		return true
	}
	var perr *parsers.ParseError
	if errors.As(err, &perr) {
		return true
	}
	return errors.Is(err, embedder.ErrBadRequest) || errors.Is(err, embedder.ErrAuth) || errors.Is(err, fetcher.ErrUnsupportedContentType)
}

// ProcessJob runs one worker attempt for payload to a terminal outcome:
// on success it marks the document completed and records usage; on a
// fatal error it marks the document failed (consuming the attempt) and
// returns nil so the queue does not retry; on a transient error it
// returns the error so the queue's backoff policy retries the job.
func (o *Orchestrator) ProcessJob(ctx context.Context, payload queue.IngestPayload) error {
	log := logging.FromContext(ctx).With().Str("tenant_id", payload.TenantID).Str("document_id", payload.DocumentID).Logger()

	tenant, err := o.Catalog.GetTenantByID(ctx, payload.TenantID)
	if err != nil {
		return err // tenant row missing is an infra inconsistency, not fatal-for-this-doc
	}
	doc, err := o.Catalog.GetDocument(ctx, tenant.ID, payload.DocumentID)
	if err != nil {
		return err
	}

	start := o.now()
	result, attemptErr := o.attempt(ctx, tenant, doc, payload)
	if attemptErr != nil {
		if IsFatal(attemptErr) {
			msg := attemptErr.Error()
			if merr := o.Catalog.MarkDocumentFailed(ctx, tenant.ID, doc.ID, msg); merr != nil {
				log.Error().Err(merr).Msg("mark document failed")
			}
			o.recordUsage(ctx, tenant.ID, doc.ID, catalog.MetricDocumentProcessed, 0, 0, map[string]string{"error": msg})
			return nil
		}
		log.Warn().Err(attemptErr).Msg("ingestion attempt failed, will retry")
		return attemptErr
	}

	if result.DocType != "" && result.DocType != doc.DocType {
		if err := o.Catalog.SetDocumentType(ctx, tenant.ID, doc.ID, result.DocType); err != nil {
			log.Error().Err(err).Msg("set document type")
		}
	}

	processingMS := o.now().Sub(start).Milliseconds()
	if err := o.Catalog.MarkDocumentCompleted(ctx, tenant.ID, doc.ID,
		result.ChunkCount, result.CharacterCount, result.PageCount,
		result.EmbeddingTokens, result.EmbeddingCostUSD, processingMS); err != nil {
		return err
	}
	_ = o.Progress.SetStage(ctx, doc.ID, queue.StageCompleted)
	o.recordUsage(ctx, tenant.ID, doc.ID, catalog.MetricEmbeddingTokens, float64(result.EmbeddingTokens), result.EmbeddingCostUSD, nil)
	o.recordUsage(ctx, tenant.ID, doc.ID, catalog.MetricDocumentProcessed, 1, 0, nil)
	return nil
}

type attemptResult struct {
	ChunkCount       int
	CharacterCount   int
	PageCount        int
	EmbeddingTokens  int
	EmbeddingCostUSD float64
	DocType          catalog.DocType
}

func (o *Orchestrator) attempt(ctx context.Context, tenant catalog.Tenant, doc catalog.Document, payload queue.IngestPayload) (attemptResult, error) {
	content, docType, err := o.acquireContent(ctx, tenant, doc, payload)
	if err != nil {
		return attemptResult{}, err
	}

	_ = o.Progress.SetStage(ctx, doc.ID, queue.StageParsing)
	parsed, err := parsers.Parse(docType, content)
	if err != nil {
		return attemptResult{}, fatal(err)
	}

	chunkSize, overlap := tenant.Config.ChunkSize, tenant.Config.ChunkOverlap
	if chunkSize <= 0 {
		chunkSize = 1000
	}
	chunks := chunker.ChunkText(parsed.Content, chunker.Options{ChunkSize: chunkSize, Overlap: overlap})
	if len(chunks) == 0 {
		return attemptResult{}, fatal(fmt.Errorf("ingestion: document produced no chunks"))
	}

	_ = o.Progress.SetStage(ctx, doc.ID, queue.StageEmbedding)
	emb, err := o.NewEmbedder(tenant, tenant.Config.EmbeddingModel)
	if err != nil {
		return attemptResult{}, fatal(err)
	}

	texts := make([]string, len(chunks))
	for i, c := range chunks {
		texts[i] = c.Content
	}
	embedResult, err := emb.EmbedBatch(ctx, texts)
	if err != nil {
		if errors.Is(err, embedder.ErrAuth) || errors.Is(err, embedder.ErrBadRequest) {
			return attemptResult{}, fatal(err)
		}
		return attemptResult{}, err // ErrUnavailable: retryable
	}
	if len(embedResult.Vectors) != len(chunks) {
		return attemptResult{}, fatal(fmt.Errorf("ingestion: embedder returned %d vectors for %d chunks", len(embedResult.Vectors), len(chunks)))
	}

	_ = o.Progress.SetStage(ctx, doc.ID, queue.StageStoring)
	vecChunks := make([]vectorstore.Chunk, len(chunks))
	for i, c := range chunks {
		vecChunks[i] = vectorstore.Chunk{
			DocumentID: doc.ID,
			ChunkIndex: c.Index,
			Content:    c.Content,
			Embedding:  embedResult.Vectors[i],
			StartChar:  c.StartChar,
			EndChar:    c.EndChar,
			Title:      parsed.Title,
		}
	}
	if err := o.Vectors.AddChunks(ctx, tenant.ID, vecChunks); err != nil {
		return attemptResult{}, err
	}

	_ = o.Progress.SetStage(ctx, doc.ID, queue.StageFinalizing)

	return attemptResult{
		ChunkCount:       len(chunks),
		CharacterCount:   parsed.CharacterCount,
		PageCount:        parsed.PageCount,
		EmbeddingTokens:  embedResult.TokensUsed,
		EmbeddingCostUSD: embedResult.CostUSD,
		DocType:          docType,
	}, nil
}

func (o *Orchestrator) acquireContent(ctx context.Context, tenant catalog.Tenant, doc catalog.Document, payload queue.IngestPayload) ([]byte, catalog.DocType, error) {
	if payload.IsURLJob() {
		_ = o.Progress.SetStage(ctx, doc.ID, queue.StageFetching)
		res, err := o.Fetcher.Fetch(ctx, payload.SourceURL)
		if err != nil {
			if errors.Is(err, fetcher.ErrUnsupportedContentType) {
				return nil, "", fatal(err)
			}
			return nil, "", err // network failure: retryable
		}
		var dt catalog.DocType
		switch res.ContentType {
		case "text/html":
			dt = catalog.DocHTML
		case "text/plain":
			dt = catalog.DocTXT
		default:
			return nil, "", fatal(fmt.Errorf("%w: %s", fetcher.ErrUnsupportedContentType, res.ContentType))
		}

		contentHash := crypto.SHA256Hex(res.Content)
		if existing, err := o.Catalog.GetDocumentByContentHash(ctx, tenant.ID, contentHash); err == nil && existing.ID != doc.ID {
			return nil, "", fatal(fmt.Errorf("%w: existing document %s", ErrDuplicateContent, existing.ID))
		}

		return res.Content, dt, nil
	}

	_ = o.Progress.SetStage(ctx, doc.ID, queue.StageDownloading)
	rc, _, err := o.Blobs.Get(ctx, doc.BlobKey)
	if err != nil {
		return nil, "", err // storage I/O failure: retryable
	}
	defer rc.Close()
	data, err := io.ReadAll(rc)
	if err != nil {
		return nil, "", err
	}
	return data, doc.DocType, nil
}

// DeleteDocument removes a document's vectors, blob, and catalog row. The
// vector and blob deletions are both attempted regardless of each other's
// failure; if either fails, the first error is returned and the catalog
// row is left in place for retry (so a partial delete never silently
// succeeds). The row is deleted only after both succeed.
func (o *Orchestrator) DeleteDocument(ctx context.Context, tenant catalog.Tenant, documentID string) error {
	doc, err := o.Catalog.GetDocument(ctx, tenant.ID, documentID)
	if err != nil {
		return err
	}

	var firstErr error
	if _, err := o.Vectors.DeleteDocument(ctx, tenant.ID, documentID); err != nil {
		firstErr = err
		logging.FromContext(ctx).Error().Err(err).Str("document_id", documentID).Msg("delete vectors failed")
	}
	if doc.BlobKey != "" {
		if err := o.Blobs.Delete(ctx, doc.BlobKey); err != nil && firstErr == nil {
			firstErr = err
			logging.FromContext(ctx).Error().Err(err).Str("document_id", documentID).Msg("delete blob failed")
		}
	}
	if firstErr != nil {
		return firstErr
	}

	_ = o.Enqueuer.Cancel(ctx, documentID)
	return o.Catalog.DeleteDocument(ctx, tenant.ID, documentID)
}

func (o *Orchestrator) recordUsage(ctx context.Context, tenantID, documentID string, t catalog.UsageMetricType, value, cost float64, metadata map[string]string) {
	if err := o.Catalog.RecordUsageMetric(ctx, catalog.UsageMetric{
		TenantID: tenantID, DocumentID: documentID, Type: t, Value: value, CostUSD: cost,
		Metadata: metadata, Timestamp: o.now(),
	}); err != nil {
		logging.FromContext(ctx).Error().Err(err).Msg("usage metric write failed")
	}
}

func (o *Orchestrator) now() time.Time {
	if o.Now != nil {
		return o.Now()
	}
	return time.Now()
}

func allowedDocType(allowed []string, dt catalog.DocType) bool {
	if len(allowed) == 0 {
		return true
	}
	for _, a := range allowed {
		if a == string(dt) {
			return true
		}
	}
	return false
}

func titleOrFilename(title, filename string) string {
	if title != "" {
		return title
	}
	return filename
}

func contentTypeFor(dt catalog.DocType) string {
	switch dt {
	case catalog.DocPDF:
		return "application/pdf"
	case catalog.DocHTML:
		return "text/html"
	case catalog.DocMD:
		return "text/markdown"
	default:
		return "text/plain"
	}
}


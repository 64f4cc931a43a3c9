// Package wiring constructs the shared set of services (catalog, vector
// index, blob store, queue, crypto, tenant auth) from process config so
// cmd/server and cmd/worker build identical dependency graphs instead of
// duplicating the construction logic.
package wiring

import (
	"context"
	"fmt"
	"net/http"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/prk2007/ragvault/internal/blobstore"
	"github.com/prk2007/ragvault/internal/catalog"
	"github.com/prk2007/ragvault/internal/config"
	"github.com/prk2007/ragvault/internal/crypto"
	"github.com/prk2007/ragvault/internal/embedder"
	"github.com/prk2007/ragvault/internal/fetcher"
	"github.com/prk2007/ragvault/internal/ingestion"
	"github.com/prk2007/ragvault/internal/queue"
	"github.com/prk2007/ragvault/internal/ratelimit"
	"github.com/prk2007/ragvault/internal/retrieval"
	"github.com/prk2007/ragvault/internal/vectorstore"
)

// Services is every shared dependency the HTTP and worker processes build
// once at startup and thread through their handlers.
type Services struct {
	Cfg config.Config

	Pool    *pgxpool.Pool
	Catalog catalog.Store
	Vectors vectorstore.Store
	Blobs   blobstore.Store
	Sealer  *crypto.Sealer

	Enqueuer queue.Enqueuer
	Progress queue.ProgressTracker
	Fetcher  *fetcher.Fetcher

	Ingestion *ingestion.Orchestrator
	Retrieval *retrieval.Service
}

// Build constructs every shared service from cfg. Callers are responsible
// for closing Services.Pool (and any vector-store-specific connection) on
// shutdown.
func Build(ctx context.Context, cfg config.Config) (*Services, error) {
	sealer, err := crypto.NewSealer(cfg.MasterEncryptionKey)
	if err != nil {
		return nil, fmt.Errorf("wiring: crypto: %w", err)
	}

	pool, err := catalog.OpenPool(ctx, cfg.DB.DSN())
	if err != nil {
		return nil, fmt.Errorf("wiring: open catalog pool: %w", err)
	}
	cat, err := catalog.NewPostgresStore(ctx, pool)
	if err != nil {
		pool.Close()
		return nil, fmt.Errorf("wiring: catalog store: %w", err)
	}

	vectors, err := newVectorStore(cfg, pool)
	if err != nil {
		pool.Close()
		return nil, fmt.Errorf("wiring: vector store: %w", err)
	}

	blobs, err := blobstore.NewS3Store(ctx, cfg.Blob)
	if err != nil {
		pool.Close()
		return nil, fmt.Errorf("wiring: blob store: %w", err)
	}

	enq := queue.NewAsynqEnqueuer(cfg.Redis.Addr(), cfg.Redis.Password)
	progress := queue.NewRedisProgressTracker(cfg.Redis.Addr(), cfg.Redis.Password, 0)
	fetch := fetcher.New(0, 0)

	newEmbedder := embedderFactory(cfg, sealer)

	orch := ingestion.New(cat, blobs, vectors, enq, progress, fetch, ingestion.EmbedderFactory(newEmbedder))
	retr := retrieval.New(cat, vectors, retrieval.EmbedderFactory(newEmbedder))

	return &Services{
		Cfg: cfg, Pool: pool, Catalog: cat, Vectors: vectors, Blobs: blobs, Sealer: sealer,
		Enqueuer: enq, Progress: progress, Fetcher: fetch,
		Ingestion: orch, Retrieval: retr,
	}, nil
}

func newVectorStore(cfg config.Config, pool *pgxpool.Pool) (vectorstore.Store, error) {
	switch cfg.VectorBackend {
	case "qdrant":
		return vectorstore.NewQdrantStore("qdrant://" + cfg.QdrantAddr)
	default:
		return vectorstore.NewPostgresStore(pool), nil
	}
}

// embedderFactory resolves the embedder a tenant should use: its own
// decrypted external-provider key when configured, otherwise the platform
// default. The deterministic embedder backs local/dev deployments with no
// external provider configured.
func embedderFactory(cfg config.Config, sealer *crypto.Sealer) func(tenant catalog.Tenant, model string) (embedder.Embedder, error) {
	return func(tenant catalog.Tenant, model string) (embedder.Embedder, error) {
		if model == "" {
			model = "text-embedding-3-small"
		}
		if cfg.EmbedderProvider != "openai" {
			return embedder.NewDeterministic(embedder.DimensionForModel(model)), nil
		}
		apiKey := ""
		if tenant.EmbedderAPIKey != "" {
			plain, err := sealer.Open(tenant.EmbedderAPIKey)
			if err != nil {
				return nil, fmt.Errorf("wiring: decrypt tenant embedder key: %w", err)
			}
			apiKey = string(plain)
		}
		if apiKey == "" {
			apiKey = cfg.PlatformEmbedderAPIKey
		}
		if apiKey == "" {
			return nil, fmt.Errorf("wiring: no embedder API key available for tenant %s", tenant.ID)
		}
		return embedder.NewOpenAICompatible(apiKey, "", model, http.DefaultClient), nil
	}
}

// Close releases every pooled connection owned by Services.
func (s *Services) Close() {
	if s.Pool != nil {
		s.Pool.Close()
	}
}

// Package vectorstore implements the tenant-isolated, per-dimension chunk
// index described by the vector index component: batched upsert, similarity
// search, contiguous range reads for context expansion, and whole-document
// deletion.
package vectorstore

import (
	"context"
	"errors"
	"fmt"
)

// ErrDimensionMismatch is returned by AddChunks when chunks in the same
// batch declare different vector lengths, or a query vector's dimension has
// no backing table.
var ErrDimensionMismatch = errors.New("vectorstore: dimension mismatch")

// Chunk is a single embedded passage pending insertion.
type Chunk struct {
	DocumentID string
	ChunkIndex int
	Content    string
	Embedding  []float32
	StartChar  int
	EndChar    int
	Title      string
}

// SearchResult is a ranked hit from Search.
type SearchResult struct {
	DocumentID string
	ChunkIndex int
	Content    string
	Score      float64
	StartChar  int
	EndChar    int
	Title      string
}

// ChunkRef is a chunk without its embedding vector, returned by GetChunkRange
// so context-expansion reads never transfer vector payloads.
type ChunkRef struct {
	DocumentID string
	ChunkIndex int
	Content    string
	StartChar  int
	EndChar    int
	Title      string
}

// SearchOptions narrows a Search call.
type SearchOptions struct {
	Limit      int
	DocumentID string // optional; "" means unfiltered
	MinScore   float64
}

// Store is the tenant-isolated vector index contract. Every method takes a
// tenantID and every implementation must filter by it; there is no
// unscoped read path.
type Store interface {
	// AddChunks upserts a batch keyed on (document_id, chunk_index). The
	// whole batch is atomic: all chunks land or none do. All chunks in one
	// call must share an embedding dimension.
	AddChunks(ctx context.Context, tenantID string, chunks []Chunk) error

	// Search performs cosine-similarity nearest-neighbor search scoped to
	// tenantID, filtered by dimension (inferred from queryVec) and by
	// opts.DocumentID when set. Results are ordered by descending score,
	// ties broken by ascending (document_id, chunk_index).
	Search(ctx context.Context, tenantID string, queryVec []float32, opts SearchOptions) ([]SearchResult, error)

	// GetChunkRange returns the contiguous chunks [startIndex, endIndex] of
	// a document, omitting embeddings.
	GetChunkRange(ctx context.Context, tenantID, documentID string, startIndex, endIndex int) ([]ChunkRef, error)

	// DeleteDocument removes every chunk of documentID across all
	// dimension tables and returns the count deleted.
	DeleteDocument(ctx context.Context, tenantID, documentID string) (int, error)

	// ChunkCount returns the number of stored chunks for a document,
	// across whichever dimension table holds it.
	ChunkCount(ctx context.Context, tenantID, documentID string) (int, error)
}

func clampScore(score float64) float64 {
	if score > 1 {
		return 1
	}
	if score < -1 {
		return -1
	}
	return score
}

func validateBatch(chunks []Chunk) (dimension int, err error) {
	if len(chunks) == 0 {
		return 0, nil
	}
	dimension = len(chunks[0].Embedding)
	for _, c := range chunks {
		if len(c.Embedding) != dimension {
			return 0, ErrDimensionMismatch
		}
	}
	if dimension == 0 {
		return 0, fmt.Errorf("vectorstore: empty embedding vector")
	}
	return dimension, nil
}

package vectorstore

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func vec1536(seed float32) []float32 {
	v := make([]float32, 1536)
	v[0] = seed
	v[1] = 1
	return v
}

func TestAddChunks_RejectsDimensionMismatch(t *testing.T) {
	s := NewMemoryStore()
	err := s.AddChunks(context.Background(), "tenant-a", []Chunk{
		{DocumentID: "doc1", ChunkIndex: 0, Embedding: vec1536(1)},
		{DocumentID: "doc1", ChunkIndex: 1, Embedding: []float32{1, 2, 3}},
	})
	require.ErrorIs(t, err, ErrDimensionMismatch)
}

func TestSearch_TenantIsolation(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	require.NoError(t, s.AddChunks(ctx, "tenant-a", []Chunk{
		{DocumentID: "doc1", ChunkIndex: 0, Content: "alpha", Embedding: vec1536(5)},
	}))
	require.NoError(t, s.AddChunks(ctx, "tenant-b", []Chunk{
		{DocumentID: "doc1", ChunkIndex: 0, Content: "alpha", Embedding: vec1536(5)},
	}))

	resA, err := s.Search(ctx, "tenant-a", vec1536(5), SearchOptions{Limit: 10})
	require.NoError(t, err)
	require.Len(t, resA, 1)

	resB, err := s.Search(ctx, "tenant-c", vec1536(5), SearchOptions{Limit: 10})
	require.NoError(t, err)
	require.Empty(t, resB)
}

func TestSearch_OrdersByScoreThenTieBreak(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	require.NoError(t, s.AddChunks(ctx, "tenant-a", []Chunk{
		{DocumentID: "doc2", ChunkIndex: 0, Content: "same", Embedding: vec1536(5)},
		{DocumentID: "doc1", ChunkIndex: 0, Content: "same", Embedding: vec1536(5)},
	}))

	res, err := s.Search(ctx, "tenant-a", vec1536(5), SearchOptions{Limit: 10})
	require.NoError(t, err)
	require.Len(t, res, 2)
	require.Equal(t, "doc1", res[0].DocumentID)
	require.Equal(t, "doc2", res[1].DocumentID)
}

func TestSearch_FiltersByMinScore(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	require.NoError(t, s.AddChunks(ctx, "tenant-a", []Chunk{
		{DocumentID: "doc1", ChunkIndex: 0, Embedding: vec1536(5)},
	}))

	orthogonal := make([]float32, 1536)
	orthogonal[2] = 1

	res, err := s.Search(ctx, "tenant-a", orthogonal, SearchOptions{Limit: 10, MinScore: 0.5})
	require.NoError(t, err)
	require.Empty(t, res)
}

func TestGetChunkRange_OmitsEmbeddingsAndStaysInBounds(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	var chunks []Chunk
	for i := 0; i < 5; i++ {
		chunks = append(chunks, Chunk{DocumentID: "doc1", ChunkIndex: i, Content: "c", Embedding: vec1536(float32(i))})
	}
	require.NoError(t, s.AddChunks(ctx, "tenant-a", chunks))

	refs, err := s.GetChunkRange(ctx, "tenant-a", "doc1", 3, 10)
	require.NoError(t, err)
	require.Len(t, refs, 2)
	require.Equal(t, 3, refs[0].ChunkIndex)
	require.Equal(t, 4, refs[1].ChunkIndex)
}

func TestDeleteDocument_RemovesAllChunks(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	require.NoError(t, s.AddChunks(ctx, "tenant-a", []Chunk{
		{DocumentID: "doc1", ChunkIndex: 0, Embedding: vec1536(1)},
		{DocumentID: "doc1", ChunkIndex: 1, Embedding: vec1536(2)},
	}))

	n, err := s.DeleteDocument(ctx, "tenant-a", "doc1")
	require.NoError(t, err)
	require.Equal(t, 2, n)

	count, err := s.ChunkCount(ctx, "tenant-a", "doc1")
	require.NoError(t, err)
	require.Equal(t, 0, count)
}

func TestAddChunks_UpsertIsIdempotentPerIndex(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	require.NoError(t, s.AddChunks(ctx, "tenant-a", []Chunk{
		{DocumentID: "doc1", ChunkIndex: 0, Content: "first", Embedding: vec1536(1)},
	}))
	require.NoError(t, s.AddChunks(ctx, "tenant-a", []Chunk{
		{DocumentID: "doc1", ChunkIndex: 0, Content: "second", Embedding: vec1536(1)},
	}))

	count, err := s.ChunkCount(ctx, "tenant-a", "doc1")
	require.NoError(t, err)
	require.Equal(t, 1, count)
}

package vectorstore

import (
	"context"
	"math"
	"sync"
)

type memoryChunk struct {
	Chunk
	tenantID string
}

// MemoryStore is a pure in-memory Store implementation used only by tests,
// mirroring the production contract without a database dependency.
type MemoryStore struct {
	mu     sync.RWMutex
	chunks map[string]memoryChunk // key: tenantID + "/" + documentID + "/" + chunkIndex
}

// NewMemoryStore builds an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{chunks: make(map[string]memoryChunk)}
}

func memKey(tenantID, documentID string, chunkIndex int) string {
	return tenantID + "/" + documentID + "/" + itoa(chunkIndex)
}

func itoa(n int) string {
	if n == 0 {
		return "0"
	}
	neg := n < 0
	if neg {
		n = -n
	}
	var buf [20]byte
	i := len(buf)
	for n > 0 {
		i--
		buf[i] = byte('0' + n%10)
		n /= 10
	}
	if neg {
		i--
		buf[i] = '-'
	}
	return string(buf[i:])
}

func (m *MemoryStore) AddChunks(_ context.Context, tenantID string, chunks []Chunk) error {
	if _, err := validateBatch(chunks); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, c := range chunks {
		cp := make([]float32, len(c.Embedding))
		copy(cp, c.Embedding)
		c.Embedding = cp
		m.chunks[memKey(tenantID, c.DocumentID, c.ChunkIndex)] = memoryChunk{Chunk: c, tenantID: tenantID}
	}
	return nil
}

func (m *MemoryStore) Search(_ context.Context, tenantID string, queryVec []float32, opts SearchOptions) ([]SearchResult, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	limit := opts.Limit
	if limit <= 0 {
		limit = 10
	}

	qnorm := vecNorm(queryVec)
	var out []SearchResult
	for _, c := range m.chunks {
		if c.tenantID != tenantID {
			continue
		}
		if len(c.Embedding) != len(queryVec) {
			continue
		}
		if opts.DocumentID != "" && c.DocumentID != opts.DocumentID {
			continue
		}
		score := clampScore(cosineSim(queryVec, c.Embedding, qnorm))
		if score < opts.MinScore {
			continue
		}
		out = append(out, SearchResult{
			DocumentID: c.DocumentID,
			ChunkIndex: c.ChunkIndex,
			Content:    c.Content,
			Score:      score,
			StartChar:  c.StartChar,
			EndChar:    c.EndChar,
			Title:      c.Title,
		})
	}
	sortResults(out)
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *MemoryStore) GetChunkRange(_ context.Context, tenantID, documentID string, startIndex, endIndex int) ([]ChunkRef, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []ChunkRef
	for _, c := range m.chunks {
		if c.tenantID != tenantID || c.DocumentID != documentID {
			continue
		}
		if c.ChunkIndex < startIndex || c.ChunkIndex > endIndex {
			continue
		}
		out = append(out, ChunkRef{
			DocumentID: c.DocumentID,
			ChunkIndex: c.ChunkIndex,
			Content:    c.Content,
			StartChar:  c.StartChar,
			EndChar:    c.EndChar,
			Title:      c.Title,
		})
	}
	sortRefs(out)
	return out, nil
}

func (m *MemoryStore) DeleteDocument(_ context.Context, tenantID, documentID string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for k, c := range m.chunks {
		if c.tenantID == tenantID && c.DocumentID == documentID {
			delete(m.chunks, k)
			n++
		}
	}
	return n, nil
}

func (m *MemoryStore) ChunkCount(_ context.Context, tenantID, documentID string) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	n := 0
	for _, c := range m.chunks {
		if c.tenantID == tenantID && c.DocumentID == documentID {
			n++
		}
	}
	return n, nil
}

func sortRefs(refs []ChunkRef) {
	for i := 1; i < len(refs); i++ {
		for j := i; j > 0 && refs[j-1].ChunkIndex > refs[j].ChunkIndex; j-- {
			refs[j-1], refs[j] = refs[j], refs[j-1]
		}
	}
}

func vecNorm(a []float32) float64 {
	var s float64
	for _, x := range a {
		s += float64(x) * float64(x)
	}
	return math.Sqrt(s)
}

func cosineSim(a, b []float32, anorm float64) float64 {
	if anorm == 0 {
		anorm = vecNorm(a)
	}
	bnorm := vecNorm(b)
	if anorm == 0 || bnorm == 0 {
		return 0
	}
	var dot float64
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	for i := 0; i < n; i++ {
		dot += float64(a[i]) * float64(b[i])
	}
	return dot / (anorm * bnorm)
}

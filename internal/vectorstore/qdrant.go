package vectorstore

import (
	"context"
	"fmt"
	"net/url"
	"sort"
	"strconv"
	"sync"

	"github.com/google/uuid"
	"github.com/qdrant/go-client/qdrant"
)

// payloadOriginalID stores the caller-supplied chunk id, since Qdrant point
// ids must be UUIDs or positive integers.
const payloadOriginalID = "_original_id"

// QdrantStore is an alternate Store implementation backed by Qdrant,
// selectable behind the same contract as PostgresStore (config:
// VECTOR_BACKEND=qdrant). One collection per embedding dimension, with
// tenant_id/document_id/chunk_index carried in the point payload and
// enforced via a payload filter on every read.
type QdrantStore struct {
	client *qdrant.Client

	mu          sync.Mutex
	collections map[int]bool
}

// NewQdrantStore connects to a Qdrant instance over gRPC (default port
// 6334). An optional api_key query parameter on dsn is forwarded as the
// client API key.
func NewQdrantStore(dsn string) (*QdrantStore, error) {
	parsed, err := url.Parse(dsn)
	if err != nil {
		return nil, fmt.Errorf("vectorstore: parse qdrant dsn: %w", err)
	}
	host := parsed.Hostname()
	if host == "" {
		host = "localhost"
	}
	port := parsed.Port()
	if port == "" {
		port = "6334"
	}
	portNum, err := strconv.Atoi(port)
	if err != nil {
		return nil, fmt.Errorf("vectorstore: invalid qdrant port: %w", err)
	}
	cfg := &qdrant.Config{Host: host, Port: portNum}
	if parsed.Scheme == "https" {
		cfg.UseTLS = true
	}
	if apiKey := parsed.Query().Get("api_key"); apiKey != "" {
		cfg.APIKey = apiKey
	}
	client, err := qdrant.NewClient(cfg)
	if err != nil {
		return nil, fmt.Errorf("vectorstore: create qdrant client: %w", err)
	}
	return &QdrantStore{client: client, collections: make(map[int]bool)}, nil
}

func qdrantCollection(dimension int) string {
	return fmt.Sprintf("document_chunks_%d", dimension)
}

func (q *QdrantStore) ensureCollection(ctx context.Context, dimension int) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.collections[dimension] {
		return nil
	}
	name := qdrantCollection(dimension)
	exists, err := q.client.CollectionExists(ctx, name)
	if err != nil {
		return fmt.Errorf("vectorstore: check collection %s: %w", name, err)
	}
	if !exists {
		err = q.client.CreateCollection(ctx, &qdrant.CreateCollection{
			CollectionName: name,
			VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
				Size:     uint64(dimension),
				Distance: qdrant.Distance_Cosine,
			}),
		})
		if err != nil {
			return fmt.Errorf("vectorstore: create collection %s: %w", name, err)
		}
	}
	q.collections[dimension] = true
	return nil
}

func chunkPointID(documentID string, chunkIndex int) string {
	id := fmt.Sprintf("%s_%d", documentID, chunkIndex)
	if _, err := uuid.Parse(id); err == nil {
		return id
	}
	return uuid.NewSHA1(uuid.NameSpaceOID, []byte(id)).String()
}

func (q *QdrantStore) AddChunks(ctx context.Context, tenantID string, chunks []Chunk) error {
	if len(chunks) == 0 {
		return nil
	}
	dimension, err := validateBatch(chunks)
	if err != nil {
		return err
	}
	if err := q.ensureCollection(ctx, dimension); err != nil {
		return err
	}

	points := make([]*qdrant.PointStruct, 0, len(chunks))
	for _, c := range chunks {
		originalID := fmt.Sprintf("%s_%d", c.DocumentID, c.ChunkIndex)
		payload := qdrant.NewValueMap(map[string]any{
			payloadOriginalID: originalID,
			"tenant_id":       tenantID,
			"document_id":     c.DocumentID,
			"chunk_index":     c.ChunkIndex,
			"content":         c.Content,
			"start_char":      c.StartChar,
			"end_char":        c.EndChar,
			"title":           c.Title,
		})
		vec := make([]float32, len(c.Embedding))
		copy(vec, c.Embedding)
		points = append(points, &qdrant.PointStruct{
			Id:      qdrant.NewIDUUID(chunkPointID(c.DocumentID, c.ChunkIndex)),
			Vectors: qdrant.NewVectorsDense(vec),
			Payload: payload,
		})
	}

	_, err = q.client.Upsert(ctx, &qdrant.UpsertPoints{
		CollectionName: qdrantCollection(dimension),
		Points:         points,
	})
	if err != nil {
		return fmt.Errorf("vectorstore: qdrant upsert: %w", err)
	}
	return nil
}

func (q *QdrantStore) Search(ctx context.Context, tenantID string, queryVec []float32, opts SearchOptions) ([]SearchResult, error) {
	dimension := len(queryVec)
	if !dimensionSupported(dimension) {
		return nil, ErrDimensionMismatch
	}
	if err := q.ensureCollection(ctx, dimension); err != nil {
		return nil, err
	}

	limit := opts.Limit
	if limit <= 0 {
		limit = 10
	}

	must := []*qdrant.Condition{qdrant.NewMatch("tenant_id", tenantID)}
	if opts.DocumentID != "" {
		must = append(must, qdrant.NewMatch("document_id", opts.DocumentID))
	}

	vec := make([]float32, len(queryVec))
	copy(vec, queryVec)
	qlimit := uint64(limit)
	res, err := q.client.Query(ctx, &qdrant.QueryPoints{
		CollectionName: qdrantCollection(dimension),
		Query:          qdrant.NewQueryDense(vec),
		Limit:          &qlimit,
		Filter:         &qdrant.Filter{Must: must},
		WithPayload:    qdrant.NewWithPayload(true),
	})
	if err != nil {
		return nil, fmt.Errorf("vectorstore: qdrant query: %w", err)
	}

	out := make([]SearchResult, 0, len(res))
	for _, hit := range res {
		score := clampScore(float64(hit.Score))
		if score < opts.MinScore {
			continue
		}
		r := SearchResult{Score: score}
		if hit.Payload != nil {
			if v, ok := hit.Payload["document_id"]; ok {
				r.DocumentID = v.GetStringValue()
			}
			if v, ok := hit.Payload["chunk_index"]; ok {
				r.ChunkIndex = int(v.GetIntegerValue())
			}
			if v, ok := hit.Payload["content"]; ok {
				r.Content = v.GetStringValue()
			}
			if v, ok := hit.Payload["start_char"]; ok {
				r.StartChar = int(v.GetIntegerValue())
			}
			if v, ok := hit.Payload["end_char"]; ok {
				r.EndChar = int(v.GetIntegerValue())
			}
			if v, ok := hit.Payload["title"]; ok {
				r.Title = v.GetStringValue()
			}
		}
		out = append(out, r)
	}
	sortResults(out)
	return out, nil
}

func (q *QdrantStore) GetChunkRange(ctx context.Context, tenantID, documentID string, startIndex, endIndex int) ([]ChunkRef, error) {
	var out []ChunkRef
	for _, dim := range supportedDimensions {
		if err := q.ensureCollection(ctx, dim); err != nil {
			return nil, err
		}
		gte, lte := float64(startIndex), float64(endIndex)
		must := []*qdrant.Condition{
			qdrant.NewMatch("tenant_id", tenantID),
			qdrant.NewMatch("document_id", documentID),
			qdrant.NewRange("chunk_index", &qdrant.Range{Gte: &gte, Lte: &lte}),
		}
		limit := uint32(endIndex - startIndex + 1)
		if limit <= 0 {
			continue
		}
		points, err := q.client.Scroll(ctx, &qdrant.ScrollPoints{
			CollectionName: qdrantCollection(dim),
			Filter:         &qdrant.Filter{Must: must},
			WithPayload:    qdrant.NewWithPayload(true),
			Limit:          &limit,
		})
		if err != nil {
			return nil, fmt.Errorf("vectorstore: qdrant scroll: %w", err)
		}
		for _, pt := range points {
			var c ChunkRef
			if pt.Payload != nil {
				if v, ok := pt.Payload["document_id"]; ok {
					c.DocumentID = v.GetStringValue()
				}
				if v, ok := pt.Payload["chunk_index"]; ok {
					c.ChunkIndex = int(v.GetIntegerValue())
				}
				if v, ok := pt.Payload["content"]; ok {
					c.Content = v.GetStringValue()
				}
				if v, ok := pt.Payload["start_char"]; ok {
					c.StartChar = int(v.GetIntegerValue())
				}
				if v, ok := pt.Payload["end_char"]; ok {
					c.EndChar = int(v.GetIntegerValue())
				}
				if v, ok := pt.Payload["title"]; ok {
					c.Title = v.GetStringValue()
				}
			}
			if c.ChunkIndex >= startIndex && c.ChunkIndex <= endIndex {
				out = append(out, c)
			}
		}
		if len(out) > 0 {
			break
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ChunkIndex < out[j].ChunkIndex })
	return out, nil
}

func (q *QdrantStore) DeleteDocument(ctx context.Context, tenantID, documentID string) (int, error) {
	total := 0
	for _, dim := range supportedDimensions {
		if err := q.ensureCollection(ctx, dim); err != nil {
			return total, err
		}
		must := []*qdrant.Condition{
			qdrant.NewMatch("tenant_id", tenantID),
			qdrant.NewMatch("document_id", documentID),
		}
		before, err := q.countPoints(ctx, dim, must)
		if err != nil {
			return total, err
		}
		_, err = q.client.Delete(ctx, &qdrant.DeletePoints{
			CollectionName: qdrantCollection(dim),
			Points:         qdrant.NewPointsSelectorFilter(&qdrant.Filter{Must: must}),
		})
		if err != nil {
			return total, fmt.Errorf("vectorstore: qdrant delete: %w", err)
		}
		total += before
	}
	return total, nil
}

func (q *QdrantStore) ChunkCount(ctx context.Context, tenantID, documentID string) (int, error) {
	for _, dim := range supportedDimensions {
		if err := q.ensureCollection(ctx, dim); err != nil {
			return 0, err
		}
		must := []*qdrant.Condition{
			qdrant.NewMatch("tenant_id", tenantID),
			qdrant.NewMatch("document_id", documentID),
		}
		count, err := q.countPoints(ctx, dim, must)
		if err != nil {
			return 0, err
		}
		if count > 0 {
			return count, nil
		}
	}
	return 0, nil
}

func (q *QdrantStore) countPoints(ctx context.Context, dimension int, must []*qdrant.Condition) (int, error) {
	exact := true
	res, err := q.client.Count(ctx, &qdrant.CountPoints{
		CollectionName: qdrantCollection(dimension),
		Filter:         &qdrant.Filter{Must: must},
		Exact:          &exact,
	})
	if err != nil {
		return 0, fmt.Errorf("vectorstore: qdrant count: %w", err)
	}
	return int(res), nil
}

func (q *QdrantStore) Close() error {
	return q.client.Close()
}

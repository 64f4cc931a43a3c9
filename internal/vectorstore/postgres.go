package vectorstore

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// supportedDimensions lists the embedding dimensions this deployment
// maintains a physical table for, matching the known-model dimension table
// in the embedder component (small/ada=1536, large=3072).
var supportedDimensions = []int{1536, 3072}

// PostgresStore is the pgvector-backed Store implementation: one physical
// table per supported dimension, an HNSW index on the vector column, and a
// btree index on (tenant_id, document_id, chunk_index).
type PostgresStore struct {
	pool *pgxpool.Pool

	mu       sync.Mutex
	ensured  map[int]bool
}

// NewPostgresStore constructs a PostgresStore. Tables are created lazily,
// the first time a dimension is seen, to avoid paying DDL cost for
// dimensions a deployment never uses.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool, ensured: make(map[int]bool)}
}

func tableName(dimension int) string {
	if dimension == 1536 {
		return "document_chunks"
	}
	return fmt.Sprintf("document_chunks_%d", dimension)
}

func (p *PostgresStore) ensureTable(ctx context.Context, dimension int) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.ensured[dimension] {
		return nil
	}

	table := tableName(dimension)
	if _, err := p.pool.Exec(ctx, `CREATE EXTENSION IF NOT EXISTS vector`); err != nil {
		return fmt.Errorf("vectorstore: create vector extension: %w", err)
	}
	ddl := fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS %s (
  id TEXT PRIMARY KEY,
  tenant_id TEXT NOT NULL,
  document_id TEXT NOT NULL,
  chunk_index INT NOT NULL,
  content TEXT NOT NULL,
  embedding vector(%d) NOT NULL,
  start_char INT NOT NULL,
  end_char INT NOT NULL,
  title TEXT NOT NULL DEFAULT '',
  created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
  UNIQUE (document_id, chunk_index)
);
CREATE INDEX IF NOT EXISTS %s_ann_idx ON %s USING hnsw (embedding vector_cosine_ops);
CREATE INDEX IF NOT EXISTS %s_scope_idx ON %s (tenant_id, document_id, chunk_index);
`, table, dimension, table, table, table, table)
	if _, err := p.pool.Exec(ctx, ddl); err != nil {
		return fmt.Errorf("vectorstore: ensure table %s: %w", table, err)
	}
	p.ensured[dimension] = true
	return nil
}

func (p *PostgresStore) AddChunks(ctx context.Context, tenantID string, chunks []Chunk) error {
	if len(chunks) == 0 {
		return nil
	}
	dimension, err := validateBatch(chunks)
	if err != nil {
		return err
	}
	if err := p.ensureTable(ctx, dimension); err != nil {
		return err
	}
	table := tableName(dimension)

	tx, err := p.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("vectorstore: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	stmt := fmt.Sprintf(`
INSERT INTO %s (id, tenant_id, document_id, chunk_index, content, embedding, start_char, end_char, title)
VALUES ($1, $2, $3, $4, $5, $6::vector, $7, $8, $9)
ON CONFLICT (document_id, chunk_index) DO UPDATE SET
  content = EXCLUDED.content, embedding = EXCLUDED.embedding,
  start_char = EXCLUDED.start_char, end_char = EXCLUDED.end_char, title = EXCLUDED.title
`, table)

	for _, c := range chunks {
		id := fmt.Sprintf("%s_%d", c.DocumentID, c.ChunkIndex)
		if _, err := tx.Exec(ctx, stmt, id, tenantID, c.DocumentID, c.ChunkIndex, c.Content,
			toVectorLiteral(c.Embedding), c.StartChar, c.EndChar, c.Title); err != nil {
			return fmt.Errorf("vectorstore: upsert chunk %s: %w", id, err)
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("vectorstore: commit tx: %w", err)
	}
	return nil
}

func (p *PostgresStore) Search(ctx context.Context, tenantID string, queryVec []float32, opts SearchOptions) ([]SearchResult, error) {
	dimension := len(queryVec)
	if !dimensionSupported(dimension) {
		return nil, ErrDimensionMismatch
	}
	if err := p.ensureTable(ctx, dimension); err != nil {
		return nil, err
	}
	table := tableName(dimension)

	limit := opts.Limit
	if limit <= 0 {
		limit = 10
	}

	where := "WHERE tenant_id = $2"
	args := []any{toVectorLiteral(queryVec), tenantID, limit}
	if opts.DocumentID != "" {
		where += " AND document_id = $4"
		args = append(args, opts.DocumentID)
	}

	query := fmt.Sprintf(`
SELECT document_id, chunk_index, content, start_char, end_char, title,
       1 - (embedding <=> $1::vector) AS score
FROM %s
%s
ORDER BY embedding <=> $1::vector, document_id ASC, chunk_index ASC
LIMIT $3
`, table, where)

	rows, err := p.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("vectorstore: search: %w", err)
	}
	defer rows.Close()

	out := make([]SearchResult, 0, limit)
	for rows.Next() {
		var r SearchResult
		if err := rows.Scan(&r.DocumentID, &r.ChunkIndex, &r.Content, &r.StartChar, &r.EndChar, &r.Title, &r.Score); err != nil {
			return nil, fmt.Errorf("vectorstore: scan search row: %w", err)
		}
		r.Score = clampScore(r.Score)
		if r.Score >= opts.MinScore {
			out = append(out, r)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	sortResults(out)
	return out, nil
}

func (p *PostgresStore) GetChunkRange(ctx context.Context, tenantID, documentID string, startIndex, endIndex int) ([]ChunkRef, error) {
	var out []ChunkRef
	for _, dim := range supportedDimensions {
		if err := p.ensureTable(ctx, dim); err != nil {
			return nil, err
		}
		table := tableName(dim)
		query := fmt.Sprintf(`
SELECT document_id, chunk_index, content, start_char, end_char, title
FROM %s
WHERE tenant_id = $1 AND document_id = $2 AND chunk_index BETWEEN $3 AND $4
ORDER BY chunk_index ASC
`, table)
		rows, err := p.pool.Query(ctx, query, tenantID, documentID, startIndex, endIndex)
		if err != nil {
			return nil, fmt.Errorf("vectorstore: get chunk range: %w", err)
		}
		for rows.Next() {
			var c ChunkRef
			if err := rows.Scan(&c.DocumentID, &c.ChunkIndex, &c.Content, &c.StartChar, &c.EndChar, &c.Title); err != nil {
				rows.Close()
				return nil, err
			}
			out = append(out, c)
		}
		rowsErr := rows.Err()
		rows.Close()
		if rowsErr != nil {
			return nil, rowsErr
		}
		if len(out) > 0 {
			break
		}
	}
	return out, nil
}

func (p *PostgresStore) DeleteDocument(ctx context.Context, tenantID, documentID string) (int, error) {
	total := 0
	for _, dim := range supportedDimensions {
		if err := p.ensureTable(ctx, dim); err != nil {
			return total, err
		}
		table := tableName(dim)
		tag, err := p.pool.Exec(ctx, fmt.Sprintf(`DELETE FROM %s WHERE tenant_id = $1 AND document_id = $2`, table), tenantID, documentID)
		if err != nil {
			return total, fmt.Errorf("vectorstore: delete document from %s: %w", table, err)
		}
		total += int(tag.RowsAffected())
	}
	return total, nil
}

func (p *PostgresStore) ChunkCount(ctx context.Context, tenantID, documentID string) (int, error) {
	for _, dim := range supportedDimensions {
		if err := p.ensureTable(ctx, dim); err != nil {
			return 0, err
		}
		table := tableName(dim)
		var count int
		err := p.pool.QueryRow(ctx, fmt.Sprintf(`SELECT count(*) FROM %s WHERE tenant_id = $1 AND document_id = $2`, table), tenantID, documentID).Scan(&count)
		if err != nil && err != pgx.ErrNoRows {
			return 0, fmt.Errorf("vectorstore: chunk count from %s: %w", table, err)
		}
		if count > 0 {
			return count, nil
		}
	}
	return 0, nil
}

func dimensionSupported(d int) bool {
	for _, s := range supportedDimensions {
		if s == d {
			return true
		}
	}
	return false
}

func sortResults(results []SearchResult) {
	sort.SliceStable(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		if results[i].DocumentID != results[j].DocumentID {
			return results[i].DocumentID < results[j].DocumentID
		}
		return results[i].ChunkIndex < results[j].ChunkIndex
	})
}

func toVectorLiteral(v []float32) string {
	if len(v) == 0 {
		return "[]"
	}
	var b strings.Builder
	b.WriteByte('[')
	for i, x := range v {
		if i > 0 {
			b.WriteByte(',')
		}
		fmt.Fprintf(&b, "%g", x)
	}
	b.WriteByte(']')
	return b.String()
}

// Package retrieval implements the read-side operations shared by the REST
// and MCP surfaces: semantic search, document listing/metadata, corpus
// statistics, document overviews, and multi-document comparison. Both
// internal/httpapi and internal/mcp call this package rather than
// duplicating query logic across the two transports.
package retrieval

import (
	"context"
	"errors"
	"sort"

	"github.com/prk2007/ragvault/internal/apierr"
	"github.com/prk2007/ragvault/internal/catalog"
	"github.com/prk2007/ragvault/internal/embedder"
	"github.com/prk2007/ragvault/internal/vectorstore"
)

// EmbedderFactory resolves the Embedder to query with for one tenant.
type EmbedderFactory func(tenant catalog.Tenant, model string) (embedder.Embedder, error)

// Service answers read queries over a tenant's ingested corpus.
type Service struct {
	Catalog     catalog.Store
	Vectors     vectorstore.Store
	NewEmbedder EmbedderFactory
}

func New(catalogStore catalog.Store, vectors vectorstore.Store, newEmbedder EmbedderFactory) *Service {
	return &Service{Catalog: catalogStore, Vectors: vectors, NewEmbedder: newEmbedder}
}

// SearchParams narrows a Search call; Search itself replaces an out-of-range
// Limit with 10 and clamps ContextChunks into [0,3].
type SearchParams struct {
	Query          string
	Limit          int
	DocumentID     string
	ContextChunks  int // [0,3]
	MinScore       float64
	GroupByDocument bool
}

// Passage is one ranked hit, optionally carrying surrounding context
// chunks read via vectorstore.GetChunkRange.
type Passage struct {
	DocumentID   string
	DocumentTitle string
	DocType      catalog.DocType
	ChunkIndex   int
	Content      string
	Score        float64
	StartChar    int
	EndChar      int
	ContextBefore []string
	ContextAfter  []string
}

// DocumentGroup bundles passages that share a document, for
// group_by_document responses.
type DocumentGroup struct {
	DocumentID    string
	DocumentTitle string
	Passages      []Passage
}

// SearchResult is the outcome of Search: either a flat passage list or,
// when GroupByDocument is set, grouped passages.
type SearchResult struct {
	Passages []Passage
	Groups   []DocumentGroup
}

// Search embeds query with the tenant's configured embedder, runs a
// similarity search scoped to the tenant (and optionally one document),
// and optionally expands each hit with surrounding chunks.
func (s *Service) Search(ctx context.Context, tenant catalog.Tenant, p SearchParams) (SearchResult, error) {
	if p.Query == "" {
		return SearchResult{}, apierr.Validation("query is required", "query")
	}
	if p.Limit <= 0 || p.Limit > 50 {
		p.Limit = 10
	}
	if p.ContextChunks < 0 {
		p.ContextChunks = 0
	}
	if p.ContextChunks > 3 {
		p.ContextChunks = 3
	}

	emb, err := s.NewEmbedder(tenant, tenant.Config.EmbeddingModel)
	if err != nil {
		return SearchResult{}, err
	}
	embedded, err := emb.EmbedBatch(ctx, []string{p.Query})
	if err != nil {
		return SearchResult{}, err
	}
	if len(embedded.Vectors) != 1 {
		return SearchResult{}, apierr.Internal(errors.New("retrieval: embedder returned no vector for query"))
	}

	hits, err := s.Vectors.Search(ctx, tenant.ID, embedded.Vectors[0], vectorstore.SearchOptions{
		Limit: p.Limit, DocumentID: p.DocumentID, MinScore: p.MinScore,
	})
	if err != nil {
		return SearchResult{}, err
	}

	passages := make([]Passage, 0, len(hits))
	titleCache := map[string]catalog.Document{}
	for _, h := range hits {
		doc, ok := titleCache[h.DocumentID]
		if !ok {
			doc, err = s.Catalog.GetDocument(ctx, tenant.ID, h.DocumentID)
			if err != nil {
				continue
			}
			titleCache[h.DocumentID] = doc
		}
		pg := Passage{
			DocumentID: h.DocumentID, DocumentTitle: doc.Title, DocType: doc.DocType,
			ChunkIndex: h.ChunkIndex, Content: h.Content, Score: h.Score,
			StartChar: h.StartChar, EndChar: h.EndChar,
		}
		if p.ContextChunks > 0 {
			pg.ContextBefore, pg.ContextAfter = s.contextAround(ctx, tenant.ID, h, p.ContextChunks)
		}
		passages = append(passages, pg)
	}

	if !p.GroupByDocument {
		return SearchResult{Passages: passages}, nil
	}
	return SearchResult{Groups: groupByDocument(passages)}, nil
}

func (s *Service) contextAround(ctx context.Context, tenantID string, hit vectorstore.SearchResult, n int) (before, after []string) {
	start := hit.ChunkIndex - n
	if start < 0 {
		start = 0
	}
	refs, err := s.Vectors.GetChunkRange(ctx, tenantID, hit.DocumentID, start, hit.ChunkIndex+n)
	if err != nil {
		return nil, nil
	}
	for _, r := range refs {
		switch {
		case r.ChunkIndex < hit.ChunkIndex:
			before = append(before, r.Content)
		case r.ChunkIndex > hit.ChunkIndex:
			after = append(after, r.Content)
		}
	}
	return before, after
}

func groupByDocument(passages []Passage) []DocumentGroup {
	order := []string{}
	byDoc := map[string]*DocumentGroup{}
	for _, p := range passages {
		g, ok := byDoc[p.DocumentID]
		if !ok {
			g = &DocumentGroup{DocumentID: p.DocumentID, DocumentTitle: p.DocumentTitle}
			byDoc[p.DocumentID] = g
			order = append(order, p.DocumentID)
		}
		g.Passages = append(g.Passages, p)
	}
	out := make([]DocumentGroup, 0, len(order))
	for _, id := range order {
		out = append(out, *byDoc[id])
	}
	return out
}

// ListDocuments paginates a tenant's documents.
func (s *Service) ListDocuments(ctx context.Context, tenant catalog.Tenant, filter catalog.DocumentFilter) ([]catalog.Document, int, error) {
	if filter.Limit <= 0 || filter.Limit > 100 {
		filter.Limit = 50
	}
	if filter.Page <= 0 {
		filter.Page = 1
	}
	return s.Catalog.ListDocuments(ctx, tenant.ID, filter)
}

// GetDocument returns one document's full metadata, translating a missing
// row into a tenant-scoped 404.
func (s *Service) GetDocument(ctx context.Context, tenant catalog.Tenant, documentID string) (catalog.Document, error) {
	doc, err := s.Catalog.GetDocument(ctx, tenant.ID, documentID)
	if errors.Is(err, catalog.ErrNotFound) {
		return catalog.Document{}, apierr.NotFound("document not found")
	}
	return doc, err
}

// GetStats returns corpus-wide totals for the tenant.
func (s *Service) GetStats(ctx context.Context, tenant catalog.Tenant) (catalog.DocumentStats, error) {
	return s.Catalog.DocumentStats(ctx, tenant.ID)
}

// Overview is an evenly-spaced sample of a document's chunks, giving a
// caller a quick sense of the document's contents without a full read.
type Overview struct {
	Document catalog.Document
	Samples  []vectorstore.ChunkRef
}

// GetDocumentOverview samples sampleSize chunks, evenly spaced across the
// document's full chunk range.
func (s *Service) GetDocumentOverview(ctx context.Context, tenant catalog.Tenant, documentID string, sampleSize int) (Overview, error) {
	if sampleSize < 3 || sampleSize > 10 {
		sampleSize = 5
	}
	doc, err := s.GetDocument(ctx, tenant, documentID)
	if err != nil {
		return Overview{}, err
	}
	if doc.ChunkCount == 0 {
		return Overview{Document: doc}, nil
	}

	indices := evenlySpacedIndices(doc.ChunkCount, sampleSize)
	samples := make([]vectorstore.ChunkRef, 0, len(indices))
	for _, idx := range indices {
		refs, err := s.Vectors.GetChunkRange(ctx, tenant.ID, documentID, idx, idx)
		if err != nil {
			return Overview{}, err
		}
		samples = append(samples, refs...)
	}
	return Overview{Document: doc, Samples: samples}, nil
}

func evenlySpacedIndices(total, count int) []int {
	if count >= total {
		out := make([]int, total)
		for i := range out {
			out[i] = i
		}
		return out
	}
	out := make([]int, 0, count)
	seen := map[int]bool{}
	for i := 0; i < count; i++ {
		idx := i * (total - 1) / max1(count-1)
		if !seen[idx] {
			seen[idx] = true
			out = append(out, idx)
		}
	}
	sort.Ints(out)
	return out
}

func max1(n int) int {
	if n < 1 {
		return 1
	}
	return n
}

// ComparisonParams narrows a CompareDocuments call.
type ComparisonParams struct {
	Query              string
	DocumentIDs        []string // 2-10
	ResultsPerDocument int
}

// CompareDocuments runs the same query against each of several documents
// independently, returning each document's own top passages.
func (s *Service) CompareDocuments(ctx context.Context, tenant catalog.Tenant, p ComparisonParams) ([]DocumentGroup, error) {
	if len(p.DocumentIDs) < 2 || len(p.DocumentIDs) > 10 {
		return nil, apierr.Validation("document_ids must list between 2 and 10 documents", "document_ids")
	}
	if p.ResultsPerDocument <= 0 || p.ResultsPerDocument > 10 {
		p.ResultsPerDocument = 3
	}

	groups := make([]DocumentGroup, 0, len(p.DocumentIDs))
	for _, docID := range p.DocumentIDs {
		res, err := s.Search(ctx, tenant, SearchParams{Query: p.Query, Limit: p.ResultsPerDocument, DocumentID: docID})
		if err != nil {
			return nil, err
		}
		title := ""
		if len(res.Passages) > 0 {
			title = res.Passages[0].DocumentTitle
		}
		groups = append(groups, DocumentGroup{DocumentID: docID, DocumentTitle: title, Passages: res.Passages})
	}
	return groups, nil
}

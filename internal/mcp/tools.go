package mcp

import (
	"context"
	"encoding/json"

	"github.com/prk2007/ragvault/internal/catalog"
	"github.com/prk2007/ragvault/internal/retrieval"
)

func toolCatalog() []toolDescriptor {
	return []toolDescriptor{
		{
			Name:        "search_documents",
			Description: "Semantic search over the tenant's ingested documents, returning ranked passages.",
			InputSchema: schema(
				[]string{"query"},
				props{
					"query":             stringProp("the search query"),
					"limit":             intProp("max results, default 10, max 50"),
					"document_id":       stringProp("restrict the search to one document"),
					"context_chunks":    intProp("surrounding chunks to include, 0-3, default 0"),
					"output_format":     enumProp("text or json; accepted, but results are always returned as JSON text", "text", "json"),
					"rerank":            boolProp("accepted but not applied; results keep similarity-score order"),
					"min_score":         numberProp("minimum similarity score, 0-1"),
					"group_by_document": boolProp("group passages by their source document"),
				},
			),
		},
		{
			Name:        "list_documents",
			Description: "List the tenant's documents with optional status/type filters and pagination.",
			InputSchema: schema(nil, props{
				"status":   stringProp("filter by ingestion status"),
				"doc_type": stringProp("filter by document type"),
				"limit":    intProp("page size, default 50, max 100"),
				"page":     intProp("1-based page number, default 1"),
			}),
		},
		{
			Name:        "get_document",
			Description: "Fetch one document's full metadata, including ingestion stats.",
			InputSchema: schema([]string{"document_id"}, props{
				"document_id": stringProp("the document's ID"),
			}),
		},
		{
			Name:        "get_stats",
			Description: "Return corpus-wide totals: document counts by status and type, chunk counts.",
			InputSchema: schema(nil, props{}),
		},
		{
			Name:        "get_document_overview",
			Description: "Sample evenly-spaced chunks from a document to preview its contents.",
			InputSchema: schema([]string{"document_id"}, props{
				"document_id": stringProp("the document's ID"),
				"sample_size": intProp("number of samples, 3-10, default 5"),
			}),
		},
		{
			Name:        "compare_documents",
			Description: "Run the same query against several documents independently and compare their top passages.",
			InputSchema: schema([]string{"query", "document_ids"}, props{
				"query":                stringProp("the search query"),
				"document_ids":         arrayProp("2-10 document IDs to compare"),
				"results_per_document": intProp("results per document, default 3, max 10"),
			}),
		},
	}
}

// paramError signals that a tool's required parameters were missing or
// malformed: per the tool dispatch contract, this is reported as a
// JSON-RPC -32602 error, not as a tool-level isError result. Any other
// failure (a downstream lookup error, an empty result set) is a normal
// tool outcome and stays wrapped as an isError content block.
type paramError struct{ msg string }

func (e *paramError) Error() string { return e.msg }

func missingParam(msg string) (toolCallResult, error) { return toolCallResult{}, &paramError{msg: msg} }

// dispatchTool runs one tools/call against the shared retrieval service,
// returning the wrapped content-block result. The returned error is
// non-nil only for a *paramError (missing/malformed required parameters);
// callers translate that into a JSON-RPC -32602 response before dispatch
// ever reaches the retrieval service.
func dispatchTool(ctx context.Context, svc *retrieval.Service, tenant catalog.Tenant, name string, args json.RawMessage) (toolCallResult, error) {
	switch name {
	case "search_documents":
		return callSearchDocuments(ctx, svc, tenant, args)
	case "list_documents":
		return callListDocuments(ctx, svc, tenant, args)
	case "get_document":
		return callGetDocument(ctx, svc, tenant, args)
	case "get_stats":
		return callGetStats(ctx, svc, tenant), nil
	case "get_document_overview":
		return callGetDocumentOverview(ctx, svc, tenant, args)
	case "compare_documents":
		return callCompareDocuments(ctx, svc, tenant, args)
	default:
		return errorResult("unknown tool: " + name), nil
	}
}

type searchDocumentsArgs struct {
	Query           string  `json:"query"`
	Limit           int     `json:"limit"`
	DocumentID      string  `json:"document_id"`
	ContextChunks   int     `json:"context_chunks"`
	MinScore        float64 `json:"min_score"`
	GroupByDocument bool    `json:"group_by_document"`
}

func callSearchDocuments(ctx context.Context, svc *retrieval.Service, tenant catalog.Tenant, raw json.RawMessage) (toolCallResult, error) {
	var a searchDocumentsArgs
	if err := json.Unmarshal(raw, &a); err != nil {
		return missingParam("invalid arguments: " + err.Error())
	}
	if a.Query == "" {
		return missingParam("query is required")
	}
	result, err := svc.Search(ctx, tenant, retrieval.SearchParams{
		Query: a.Query, Limit: a.Limit, DocumentID: a.DocumentID,
		ContextChunks: a.ContextChunks, MinScore: a.MinScore, GroupByDocument: a.GroupByDocument,
	})
	if err != nil {
		return errorResult(err.Error()), nil
	}
	if a.GroupByDocument {
		return textResult(result.Groups), nil
	}
	return textResult(result.Passages), nil
}

type listDocumentsArgs struct {
	Status  string `json:"status"`
	DocType string `json:"doc_type"`
	Limit   int    `json:"limit"`
	Page    int    `json:"page"`
}

func callListDocuments(ctx context.Context, svc *retrieval.Service, tenant catalog.Tenant, raw json.RawMessage) (toolCallResult, error) {
	var a listDocumentsArgs
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &a); err != nil {
			return missingParam("invalid arguments: " + err.Error())
		}
	}
	docs, total, err := svc.ListDocuments(ctx, tenant, catalog.DocumentFilter{
		Status: catalog.DocStatus(a.Status), DocType: catalog.DocType(a.DocType),
		Limit: a.Limit, Page: a.Page,
	})
	if err != nil {
		return errorResult(err.Error()), nil
	}
	return textResult(map[string]any{"documents": docs, "total": total}), nil
}

func callGetDocument(ctx context.Context, svc *retrieval.Service, tenant catalog.Tenant, raw json.RawMessage) (toolCallResult, error) {
	var a struct {
		DocumentID string `json:"document_id"`
	}
	if err := json.Unmarshal(raw, &a); err != nil || a.DocumentID == "" {
		return missingParam("document_id is required")
	}
	doc, err := svc.GetDocument(ctx, tenant, a.DocumentID)
	if err != nil {
		return errorResult(err.Error()), nil
	}
	return textResult(doc), nil
}

func callGetStats(ctx context.Context, svc *retrieval.Service, tenant catalog.Tenant) toolCallResult {
	stats, err := svc.GetStats(ctx, tenant)
	if err != nil {
		return errorResult(err.Error())
	}
	return textResult(stats)
}

func callGetDocumentOverview(ctx context.Context, svc *retrieval.Service, tenant catalog.Tenant, raw json.RawMessage) (toolCallResult, error) {
	var a struct {
		DocumentID string `json:"document_id"`
		SampleSize int    `json:"sample_size"`
	}
	if err := json.Unmarshal(raw, &a); err != nil || a.DocumentID == "" {
		return missingParam("document_id is required")
	}
	overview, err := svc.GetDocumentOverview(ctx, tenant, a.DocumentID, a.SampleSize)
	if err != nil {
		return errorResult(err.Error()), nil
	}
	return textResult(overview), nil
}

func callCompareDocuments(ctx context.Context, svc *retrieval.Service, tenant catalog.Tenant, raw json.RawMessage) (toolCallResult, error) {
	var a struct {
		Query              string   `json:"query"`
		DocumentIDs        []string `json:"document_ids"`
		ResultsPerDocument int      `json:"results_per_document"`
	}
	if err := json.Unmarshal(raw, &a); err != nil {
		return missingParam("invalid arguments: " + err.Error())
	}
	if a.Query == "" {
		return missingParam("query is required")
	}
	if len(a.DocumentIDs) < 2 || len(a.DocumentIDs) > 10 {
		return missingParam("document_ids must list between 2 and 10 documents")
	}
	groups, err := svc.CompareDocuments(ctx, tenant, retrieval.ComparisonParams{
		Query: a.Query, DocumentIDs: a.DocumentIDs, ResultsPerDocument: a.ResultsPerDocument,
	})
	if err != nil {
		return errorResult(err.Error()), nil
	}
	return textResult(groups), nil
}

// --- minimal JSON Schema builders, just enough for the fixed tool catalog ---

type props map[string]map[string]any

func schema(required []string, properties props) map[string]any {
	s := map[string]any{
		"type":       "object",
		"properties": properties,
	}
	if len(required) > 0 {
		s["required"] = required
	}
	return s
}

func stringProp(desc string) map[string]any { return map[string]any{"type": "string", "description": desc} }
func intProp(desc string) map[string]any {
	return map[string]any{"type": "integer", "description": desc}
}
func numberProp(desc string) map[string]any {
	return map[string]any{"type": "number", "description": desc}
}
func boolProp(desc string) map[string]any {
	return map[string]any{"type": "boolean", "description": desc}
}
func arrayProp(desc string) map[string]any {
	return map[string]any{"type": "array", "items": map[string]any{"type": "string"}, "description": desc}
}
func enumProp(desc string, values ...string) map[string]any {
	return map[string]any{"type": "string", "enum": values, "description": desc}
}

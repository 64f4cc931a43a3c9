package mcp

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/prk2007/ragvault/internal/catalog"
	"github.com/prk2007/ragvault/internal/embedder"
	"github.com/prk2007/ragvault/internal/retrieval"
	"github.com/prk2007/ragvault/internal/vectorstore"
)

func contextBG() context.Context { return context.Background() }

func jsonBody(s string) io.Reader { return strings.NewReader(s) }

func newTestMCPServer(t *testing.T) (*Server, catalog.Store, catalog.Tenant) {
	t.Helper()
	store := catalog.NewMemoryStore()
	tenant := catalog.Tenant{
		ID: "t1", Email: "t1@x.com", APIKey: "test-api-key", Status: catalog.StatusActive,
		Config: catalog.TenantConfig{EmbeddingModel: "test"},
	}
	require.NoError(t, store.CreateTenant(contextBG(), tenant))

	retr := retrieval.New(store, vectorstore.NewMemoryStore(), func(catalog.Tenant, string) (embedder.Embedder, error) {
		return embedder.NewDeterministic(8), nil
	})
	return NewServer(store, retr), store, tenant
}

func TestHandleStreamableHTTP_Initialize(t *testing.T) {
	srv, _, tenant := newTestMCPServer(t)
	mux := http.NewServeMux()
	srv.RegisterRoutes(mux, "/mcp")

	req := httptest.NewRequest(http.MethodPost, "/mcp", jsonBody(`{"jsonrpc":"2.0","id":1,"method":"initialize"}`))
	req.Header.Set("Authorization", "Bearer "+tenant.APIKey)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var resp Response
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Nil(t, resp.Error)
}

func TestHandleStreamableHTTP_RejectsMissingAuth(t *testing.T) {
	srv, _, _ := newTestMCPServer(t)
	mux := http.NewServeMux()
	srv.RegisterRoutes(mux, "/mcp")

	req := httptest.NewRequest(http.MethodPost, "/mcp", jsonBody(`{"jsonrpc":"2.0","id":1,"method":"ping"}`))
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	require.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestHandleStreamableHTTP_UnknownMethod(t *testing.T) {
	srv, _, tenant := newTestMCPServer(t)
	mux := http.NewServeMux()
	srv.RegisterRoutes(mux, "/mcp")

	req := httptest.NewRequest(http.MethodPost, "/mcp", jsonBody(`{"jsonrpc":"2.0","id":1,"method":"bogus"}`))
	req.Header.Set("Authorization", "Bearer "+tenant.APIKey)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	var resp Response
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.NotNil(t, resp.Error)
	require.Equal(t, codeMethodNotFound, resp.Error.Code)
}

func TestHandleStreamableHTTP_ToolsListIncludesFixedCatalog(t *testing.T) {
	srv, _, tenant := newTestMCPServer(t)
	mux := http.NewServeMux()
	srv.RegisterRoutes(mux, "/mcp")

	req := httptest.NewRequest(http.MethodPost, "/mcp", jsonBody(`{"jsonrpc":"2.0","id":1,"method":"tools/list"}`))
	req.Header.Set("Authorization", "Bearer "+tenant.APIKey)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	var resp Response
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	raw, err := json.Marshal(resp.Result)
	require.NoError(t, err)
	var result toolsListResult
	require.NoError(t, json.Unmarshal(raw, &result))
	require.Len(t, result.Tools, 6)
}

func TestHandleStreamableHTTP_ToolsCallSearchDocumentsMissingQuery(t *testing.T) {
	srv, _, tenant := newTestMCPServer(t)
	mux := http.NewServeMux()
	srv.RegisterRoutes(mux, "/mcp")

	req := httptest.NewRequest(http.MethodPost, "/mcp", jsonBody(`{"jsonrpc":"2.0","id":1,"method":"tools/call","params":{"name":"search_documents","arguments":{}}}`))
	req.Header.Set("Authorization", "Bearer "+tenant.APIKey)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	var resp Response
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.NotNil(t, resp.Error)
	require.Equal(t, codeInvalidParams, resp.Error.Code)
}

func TestHandleStreamableHTTP_ToolsCallCompareDocumentsInvalidCount(t *testing.T) {
	srv, _, tenant := newTestMCPServer(t)
	mux := http.NewServeMux()
	srv.RegisterRoutes(mux, "/mcp")

	req := httptest.NewRequest(http.MethodPost, "/mcp", jsonBody(`{"jsonrpc":"2.0","id":1,"method":"tools/call","params":{"name":"compare_documents","arguments":{"query":"q","document_ids":["a"]}}}`))
	req.Header.Set("Authorization", "Bearer "+tenant.APIKey)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	var resp Response
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.NotNil(t, resp.Error)
	require.Equal(t, codeInvalidParams, resp.Error.Code)
}

func TestHandleStreamableHTTP_NotificationProducesNoBody(t *testing.T) {
	srv, _, tenant := newTestMCPServer(t)
	mux := http.NewServeMux()
	srv.RegisterRoutes(mux, "/mcp")

	req := httptest.NewRequest(http.MethodPost, "/mcp", jsonBody(`{"jsonrpc":"2.0","method":"notifications/initialized"}`))
	req.Header.Set("Authorization", "Bearer "+tenant.APIKey)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	require.Equal(t, http.StatusAccepted, rec.Code)
	require.Empty(t, rec.Body.Bytes())
}

package mcp

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/prk2007/ragvault/internal/catalog"
	"github.com/prk2007/ragvault/internal/logging"
	"github.com/prk2007/ragvault/internal/retrieval"
)

// Server is the inbound MCP tool server: one JSON-RPC request handler
// shared by the Streamable HTTP and SSE transports, authenticated by
// tenant API key.
type Server struct {
	Catalog   catalog.Store
	Retrieval *retrieval.Service

	mu       sync.Mutex
	sessions map[string]*sseSession
}

// NewServer wires a Server ready to be mounted at an HTTP prefix.
func NewServer(store catalog.Store, retrievalSvc *retrieval.Service) *Server {
	return &Server{Catalog: store, Retrieval: retrievalSvc, sessions: map[string]*sseSession{}}
}

// RegisterRoutes mounts the MCP endpoints on mux under prefix (e.g. "/mcp").
func (s *Server) RegisterRoutes(mux *http.ServeMux, prefix string) {
	mux.HandleFunc("POST "+prefix, s.handleStreamableHTTP)
	mux.HandleFunc("GET "+prefix, s.handleSSEOpen)
	mux.HandleFunc("POST "+prefix+"/session/{sessionID}", s.handleSSEPost)
}

func (s *Server) authenticate(r *http.Request) (catalog.Tenant, bool) {
	h := r.Header.Get("Authorization")
	const prefix = "Bearer "
	if !strings.HasPrefix(h, prefix) {
		return catalog.Tenant{}, false
	}
	apiKey := strings.TrimPrefix(h, prefix)
	tenant, err := s.Catalog.GetTenantByAPIKey(r.Context(), apiKey)
	if err != nil {
		return catalog.Tenant{}, false
	}
	return tenant, true
}

// handleStreamableHTTP implements the Streamable HTTP transport: a single
// POST carrying one JSON-RPC message or a batch array, answered inline.
func (s *Server) handleStreamableHTTP(w http.ResponseWriter, r *http.Request) {
	tenant, ok := s.authenticate(r)
	if !ok {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	body, err := readAll(r)
	if err != nil {
		http.Error(w, "failed to read body", http.StatusBadRequest)
		return
	}

	responses, allNotifications, err := s.handleBatch(r.Context(), tenant, body)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if allNotifications {
		w.WriteHeader(http.StatusAccepted)
		return
	}
	writeJSONBody(w, http.StatusOK, responses)
}

// handleBatch parses body as either one Request or a JSON array of
// Requests, dispatches each, and returns the responses due back (skipping
// notifications, which produce no response).
func (s *Server) handleBatch(ctx context.Context, tenant catalog.Tenant, body []byte) (any, bool, error) {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 {
		return nil, true, nil
	}

	if trimmed[0] == '[' {
		var reqs []Request
		if err := json.Unmarshal(trimmed, &reqs); err != nil {
			return nil, false, fmt.Errorf("malformed batch request: %w", err)
		}
		var out []Response
		for _, req := range reqs {
			if resp, ok := s.dispatch(ctx, tenant, req); ok {
				out = append(out, resp)
			}
		}
		return out, len(out) == 0, nil
	}

	var req Request
	if err := json.Unmarshal(trimmed, &req); err != nil {
		return nil, false, fmt.Errorf("malformed request: %w", err)
	}
	resp, ok := s.dispatch(ctx, tenant, req)
	if !ok {
		return nil, true, nil
	}
	return resp, false, nil
}

// dispatch runs one JSON-RPC request against the method table. The second
// return value is false for notifications, which never produce a response.
func (s *Server) dispatch(ctx context.Context, tenant catalog.Tenant, req Request) (Response, bool) {
	switch req.Method {
	case "initialize":
		return resultResponse(req.ID, initializeResult{
			ProtocolVersion: protocolVersion,
			Capabilities:    capabilities{Tools: toolsCapability{ListChanged: false}},
			ServerInfo:      serverInfo{Name: "ragvault-mcp", Version: "1"},
		}), !req.isNotification()

	case "ping":
		return resultResponse(req.ID, map[string]any{}), !req.isNotification()

	case "notifications/initialized", "notifications/cancelled":
		return Response{}, false

	case "tools/list":
		return resultResponse(req.ID, toolsListResult{Tools: toolCatalog()}), !req.isNotification()

	case "tools/call":
		var params toolCallParams
		if err := json.Unmarshal(req.Params, &params); err != nil {
			return errorResponse(req.ID, codeInvalidParams, "malformed tools/call params"), !req.isNotification()
		}
		if params.Name == "" {
			return errorResponse(req.ID, codeInvalidParams, "tool name is required"), !req.isNotification()
		}
		result, perr := dispatchTool(ctx, s.Retrieval, tenant, params.Name, params.Arguments)
		if perr != nil {
			return errorResponse(req.ID, codeInvalidParams, perr.Error()), !req.isNotification()
		}
		return resultResponse(req.ID, result), !req.isNotification()

	default:
		return errorResponse(req.ID, codeMethodNotFound, "unknown method: "+req.Method), !req.isNotification()
	}
}

// --- SSE transport ---

type sseSession struct {
	id      string
	tenant  catalog.Tenant
	events  chan []byte
	closeCh chan struct{}
}

// handleSSEOpen opens the long-lived event stream and announces the
// session's POST-target URL via an initial "endpoint" event, per the MCP
// SSE transport.
func (s *Server) handleSSEOpen(w http.ResponseWriter, r *http.Request) {
	tenant, ok := s.authenticate(r)
	if !ok {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	session := &sseSession{
		id:      uuid.NewString(),
		tenant:  tenant,
		events:  make(chan []byte, 16),
		closeCh: make(chan struct{}),
	}
	s.mu.Lock()
	s.sessions[session.id] = session
	s.mu.Unlock()
	defer s.closeSession(session.id)

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	endpointPath := strings.TrimSuffix(r.URL.Path, "/") + "/session/" + session.id
	fmt.Fprintf(w, "event: endpoint\ndata: %s\n\n", endpointPath)
	flusher.Flush()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-session.closeCh:
			return
		case msg := <-session.events:
			fmt.Fprintf(w, "event: message\ndata: %s\n\n", msg)
			flusher.Flush()
		}
	}
}

func (s *Server) closeSession(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if sess, ok := s.sessions[id]; ok {
		close(sess.closeCh)
		delete(s.sessions, id)
	}
}

// handleSSEPost accepts a JSON-RPC message posted to a session's endpoint,
// dispatches it, writes the response both as the POST body and onto the
// session's open event stream.
func (s *Server) handleSSEPost(w http.ResponseWriter, r *http.Request) {
	sessionID := r.PathValue("sessionID")
	s.mu.Lock()
	session, ok := s.sessions[sessionID]
	s.mu.Unlock()
	if !ok {
		http.Error(w, "unknown session", http.StatusNotFound)
		return
	}

	body, err := readAll(r)
	if err != nil {
		http.Error(w, "failed to read body", http.StatusBadRequest)
		return
	}

	responses, allNotifications, err := s.handleBatch(r.Context(), session.tenant, body)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if allNotifications {
		w.WriteHeader(http.StatusAccepted)
		return
	}

	encoded, err := json.Marshal(responses)
	if err != nil {
		http.Error(w, "failed to encode response", http.StatusInternalServerError)
		return
	}
	select {
	case session.events <- encoded:
	default:
		logging.FromContext(r.Context()).Warn().Str("session_id", sessionID).Msg("mcp sse event buffer full, dropping duplicate frame")
	}
	writeJSONBody(w, http.StatusOK, responses)
}

const maxRequestBytes = 10 << 20

func readAll(r *http.Request) ([]byte, error) {
	defer r.Body.Close()
	buf := new(bytes.Buffer)
	if _, err := buf.ReadFrom(io.LimitReader(r.Body, maxRequestBytes)); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func writeJSONBody(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

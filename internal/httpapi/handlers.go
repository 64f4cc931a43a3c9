package httpapi

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/prk2007/ragvault/internal/apierr"
	"github.com/prk2007/ragvault/internal/catalog"
	"github.com/prk2007/ragvault/internal/crypto"
	"github.com/prk2007/ragvault/internal/ingestion"
	"github.com/prk2007/ragvault/internal/retrieval"
	"github.com/prk2007/ragvault/internal/tenantauth"
)

// --- Auth ---

type signupRequest struct {
	Email       string `json:"email"`
	Password    string `json:"password"`
	CompanyName string `json:"company_name"`
}

func (s *Server) handleSignup(w http.ResponseWriter, r *http.Request) {
	var req signupRequest
	if err := decodeJSON(r, &req); err != nil {
		writeErr(w, apierr.Validation("malformed request body"))
		return
	}
	if req.Email == "" {
		writeErr(w, apierr.Validation("email is required", "email"))
		return
	}
	if !tenantauth.ValidatePassword(req.Password) {
		writeErr(w, apierr.Validation("password must be at least 8 characters with upper, lower, digit, and symbol", "password"))
		return
	}

	if _, err := s.Catalog.GetTenantByEmail(r.Context(), req.Email); err == nil {
		writeErr(w, apierr.Conflict("an account with this email already exists"))
		return
	} else if !errors.Is(err, catalog.ErrNotFound) {
		writeErr(w, apierr.Internal(err))
		return
	}

	hash, err := crypto.HashPassword(req.Password)
	if err != nil {
		writeErr(w, apierr.Internal(err))
		return
	}
	sealedAccess, sealedRefresh, err := s.Auth.GenerateTenantSecrets()
	if err != nil {
		writeErr(w, apierr.Internal(err))
		return
	}
	apiKey, err := crypto.RandomToken(32)
	if err != nil {
		writeErr(w, apierr.Internal(err))
		return
	}

	tenant := catalog.Tenant{
		ID:               uuid.NewString(),
		Email:            req.Email,
		PasswordHash:     hash,
		JWTSecret:        sealedAccess,
		JWTRefreshSecret: sealedRefresh,
		APIKey:           apiKey,
		Status:           catalog.StatusPendingVerification,
		EmailVerified:    false,
		CompanyName:      req.CompanyName,
		Config: catalog.TenantConfig{
			MaxDocuments:   10000,
			MaxFileSizeMB:  50,
			ChunkSize:      1000,
			ChunkOverlap:   100,
			EmbeddingModel: "text-embedding-3-small",
		},
	}
	if err := s.Catalog.CreateTenant(r.Context(), tenant); err != nil {
		writeErr(w, apierr.Internal(err))
		return
	}

	if _, err := s.Auth.RequestEmailVerification(r.Context(), tenant.ID, clientIP(r), r.UserAgent()); err != nil {
		writeErr(w, apierr.Internal(err))
		return
	}

	writeJSON(w, http.StatusCreated, map[string]any{
		"customer": publicTenant(tenant),
		"message":  "account created; check your email to verify",
	})
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := decodeJSON(r, &req); err != nil {
		writeErr(w, apierr.Validation("malformed request body"))
		return
	}

	pair, tenant, err := s.Auth.Login(r.Context(), req.Email, req.Password)
	if err != nil {
		writeErr(w, translateLoginErr(err))
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"customer":     publicTenant(tenant),
		"accessToken":  pair.AccessToken,
		"refreshToken": pair.RefreshToken,
		"expiresIn":    pair.ExpiresIn,
	})
}

func translateLoginErr(err error) *apierr.Error {
	switch {
	case errors.Is(err, tenantauth.ErrEmailNotVerified):
		return apierr.Forbidden("email not verified")
	case errors.Is(err, tenantauth.ErrAccountNotActive):
		return apierr.Forbidden("account is not active")
	case errors.Is(err, tenantauth.ErrInvalidCredentials):
		return apierr.Auth("invalid email or password", err)
	default:
		return apierr.Internal(err)
	}
}

type refreshRequest struct {
	RefreshToken string `json:"refreshToken"`
}

func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	var req refreshRequest
	if err := decodeJSON(r, &req); err != nil {
		writeErr(w, apierr.Validation("malformed request body"))
		return
	}
	pair, err := s.Auth.Refresh(r.Context(), req.RefreshToken)
	if err != nil {
		writeErr(w, apierr.Auth("invalid or expired refresh token", err))
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"accessToken":  pair.AccessToken,
		"refreshToken": pair.RefreshToken,
		"expiresIn":    pair.ExpiresIn,
	})
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	var req refreshRequest
	if err := decodeJSON(r, &req); err != nil {
		writeErr(w, apierr.Validation("malformed request body"))
		return
	}
	if err := s.Auth.RevokeOne(r.Context(), req.RefreshToken); err != nil {
		writeErr(w, apierr.Internal(err))
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (s *Server) handleLogoutAll(w http.ResponseWriter, r *http.Request) {
	tenant := tenantFromContext(r.Context())
	if err := s.Auth.RevokeAll(r.Context(), tenant.ID); err != nil {
		writeErr(w, apierr.Internal(err))
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (s *Server) handleVerifyEmail(w http.ResponseWriter, r *http.Request) {
	token := r.URL.Query().Get("token")
	if err := s.Auth.VerifyEmail(r.Context(), token); err != nil {
		writeErr(w, translateVerifyErr(err))
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func translateVerifyErr(err error) *apierr.Error {
	switch {
	case errors.Is(err, tenantauth.ErrVerificationMalformed):
		return apierr.Validation("malformed verification token", "token")
	case errors.Is(err, tenantauth.ErrVerificationExpired):
		return apierr.Validation("verification token expired", "token")
	case errors.Is(err, tenantauth.ErrTokenInvalidOrExpired):
		return apierr.NotFound("verification token not found")
	default:
		return apierr.Internal(err)
	}
}

type resendRequest struct {
	Email string `json:"email"`
}

func (s *Server) handleResendVerification(w http.ResponseWriter, r *http.Request) {
	var req resendRequest
	if err := decodeJSON(r, &req); err != nil {
		writeErr(w, apierr.Validation("malformed request body"))
		return
	}
	_, err := s.Auth.ResendVerification(r.Context(), req.Email, clientIP(r), r.UserAgent(), s.EmailResendLimit)
	if err != nil {
		var rl *tenantauth.RateLimitedError
		if errors.As(err, &rl) {
			writeErr(w, apierr.RateLimited("resend rate limited", rl.RetryAfter))
			return
		}
		if errors.Is(err, tenantauth.ErrInvalidCredentials) {
			// Do not reveal whether the email exists.
			writeJSON(w, http.StatusOK, map[string]any{"ok": true})
			return
		}
		writeErr(w, apierr.Internal(err))
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (s *Server) handleMe(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, publicTenant(tenantFromContext(r.Context())))
}

// --- Documents ---

const maxUploadBytes = 200 << 20 // 200MB multipart form ceiling; per-tenant MaxFileSizeMB enforced by the orchestrator

func (s *Server) handleUploadDocument(w http.ResponseWriter, r *http.Request) {
	tenant := tenantFromContext(r.Context())

	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		writeErr(w, apierr.Validation("malformed multipart form"))
		return
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		writeErr(w, apierr.Validation("file is required", "file"))
		return
	}
	defer file.Close()

	content, err := io.ReadAll(file)
	if err != nil {
		writeErr(w, apierr.Internal(err))
		return
	}

	doc, err := s.Ingestion.IngestUpload(r.Context(), tenant, ingestion.UploadRequest{
		TenantID: tenant.ID,
		Filename: header.Filename,
		Title:    r.FormValue("title"),
		Content:  content,
	})
	if err != nil {
		writeErr(w, translateIngestErr(err))
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]any{"document": doc, "job_id": doc.ID})
}

type ingestURLRequest struct {
	URL   string `json:"url"`
	Title string `json:"title"`
}

func (s *Server) handleIngestURL(w http.ResponseWriter, r *http.Request) {
	tenant := tenantFromContext(r.Context())
	var req ingestURLRequest
	if err := decodeJSON(r, &req); err != nil {
		writeErr(w, apierr.Validation("malformed request body"))
		return
	}
	doc, err := s.Ingestion.IngestURL(r.Context(), tenant, req.URL, req.Title)
	if err != nil {
		writeErr(w, translateIngestErr(err))
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]any{"document": doc, "job_id": doc.ID})
}

func translateIngestErr(err error) *apierr.Error {
	if errors.Is(err, ingestion.ErrDuplicateContent) {
		return apierr.Conflict("a document with this content already exists")
	}
	var ae *apierr.Error
	if errors.As(err, &ae) {
		return ae
	}
	return apierr.Internal(err)
}

func (s *Server) handleListDocuments(w http.ResponseWriter, r *http.Request) {
	tenant := tenantFromContext(r.Context())
	q := r.URL.Query()
	filter := catalog.DocumentFilter{
		Status:  catalog.DocStatus(q.Get("status")),
		DocType: catalog.DocType(q.Get("type")),
		Page:    atoiOr(q.Get("page"), 1),
		Limit:   atoiOr(q.Get("limit"), 50),
	}
	docs, total, err := s.Retrieval.ListDocuments(r.Context(), tenant, filter)
	if err != nil {
		writeErr(w, apierr.Internal(err))
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"documents": docs, "total": total, "page": filter.Page, "limit": filter.Limit})
}

func (s *Server) handleDocumentStats(w http.ResponseWriter, r *http.Request) {
	tenant := tenantFromContext(r.Context())
	stats, err := s.Retrieval.GetStats(r.Context(), tenant)
	if err != nil {
		writeErr(w, apierr.Internal(err))
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (s *Server) handleGetDocument(w http.ResponseWriter, r *http.Request) {
	tenant := tenantFromContext(r.Context())
	doc, err := s.Retrieval.GetDocument(r.Context(), tenant, r.PathValue("id"))
	if err != nil {
		writeErr(w, apierr.As(err))
		return
	}
	writeJSON(w, http.StatusOK, doc)
}

func (s *Server) handleDocumentStatus(w http.ResponseWriter, r *http.Request) {
	tenant := tenantFromContext(r.Context())
	doc, err := s.Retrieval.GetDocument(r.Context(), tenant, r.PathValue("id"))
	if err != nil {
		writeErr(w, apierr.As(err))
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status": doc.Status, "error_message": doc.ErrorMessage,
		"chunk_count": doc.ChunkCount, "processing_time_ms": doc.ProcessingTimeMS,
	})
}

func (s *Server) handleDeleteDocument(w http.ResponseWriter, r *http.Request) {
	tenant := tenantFromContext(r.Context())
	if err := s.Ingestion.DeleteDocument(r.Context(), tenant, r.PathValue("id")); err != nil {
		writeErr(w, apierr.As(err))
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (s *Server) handleDownloadDocument(w http.ResponseWriter, r *http.Request) {
	tenant := tenantFromContext(r.Context())
	doc, err := s.Retrieval.GetDocument(r.Context(), tenant, r.PathValue("id"))
	if err != nil {
		writeErr(w, apierr.As(err))
		return
	}
	if doc.BlobKey == "" {
		writeErr(w, apierr.NotFound("document has no stored file"))
		return
	}
	url, err := s.Ingestion.Blobs.PresignGet(r.Context(), doc.BlobKey, 15*time.Minute)
	if err != nil {
		writeErr(w, apierr.Internal(err))
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"url": url, "expires_in_seconds": 900})
}

type searchRequest struct {
	Query      string `json:"query"`
	Limit      int    `json:"limit"`
	DocumentID string `json:"document_id"`
}

func (s *Server) handleSearchDocuments(w http.ResponseWriter, r *http.Request) {
	tenant := tenantFromContext(r.Context())
	var req searchRequest
	if err := decodeJSON(r, &req); err != nil {
		writeErr(w, apierr.Validation("malformed request body"))
		return
	}
	result, err := s.Retrieval.Search(r.Context(), tenant, retrieval.SearchParams{
		Query: req.Query, Limit: req.Limit, DocumentID: req.DocumentID,
	})
	if err != nil {
		writeErr(w, apierr.As(err))
		return
	}
	s.Usage.Record(r.Context(), catalog.UsageMetric{TenantID: tenant.ID, Type: catalog.MetricSearchQuery, Value: 1})
	writeJSON(w, http.StatusOK, map[string]any{"results": result.Passages})
}

// --- Profile ---

type embedderKeyRequest struct {
	APIKey string `json:"api_key"`
}

func (s *Server) handleSetEmbedderKey(w http.ResponseWriter, r *http.Request) {
	tenant := tenantFromContext(r.Context())
	var req embedderKeyRequest
	if err := decodeJSON(r, &req); err != nil || req.APIKey == "" {
		writeErr(w, apierr.Validation("api_key is required", "api_key"))
		return
	}
	sealed, err := s.encryptEmbedderKey(req.APIKey)
	if err != nil {
		writeErr(w, apierr.Internal(err))
		return
	}
	if err := s.Catalog.SetTenantEmbedderKey(r.Context(), tenant.ID, sealed); err != nil {
		writeErr(w, apierr.Internal(err))
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (s *Server) handleRemoveEmbedderKey(w http.ResponseWriter, r *http.Request) {
	tenant := tenantFromContext(r.Context())
	if err := s.Catalog.ClearTenantEmbedderKey(r.Context(), tenant.ID); err != nil {
		writeErr(w, apierr.Internal(err))
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (s *Server) handleGetEmbedderKeyStatus(w http.ResponseWriter, r *http.Request) {
	tenant := tenantFromContext(r.Context())
	writeJSON(w, http.StatusOK, map[string]any{"configured": tenant.EmbedderAPIKey != ""})
}

func (s *Server) handleUsageSummary(w http.ResponseWriter, r *http.Request) {
	tenant := tenantFromContext(r.Context())
	since := time.Now().Add(-30 * 24 * time.Hour)
	apiCalls, err := s.Catalog.SumUsage(r.Context(), tenant.ID, catalog.MetricAPICall, since)
	if err != nil {
		writeErr(w, apierr.Internal(err))
		return
	}
	tokens, err := s.Catalog.SumUsage(r.Context(), tenant.ID, catalog.MetricEmbeddingTokens, since)
	if err != nil {
		writeErr(w, apierr.Internal(err))
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"api_calls_30d":        apiCalls,
		"embedding_tokens_30d": tokens,
	})
}

// --- helpers ---

func decodeJSON(r *http.Request, v any) error {
	defer r.Body.Close()
	return json.NewDecoder(r.Body).Decode(v)
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeErr(w http.ResponseWriter, e *apierr.Error) {
	if e.RetryAfter > 0 {
		w.Header().Set("Retry-After", strconv.Itoa(int(e.RetryAfter.Seconds())))
	}
	writeJSON(w, e.Status, map[string]any{"error": e.Message, "tag": e.Tag, "fields": e.Fields})
}

func clientIP(r *http.Request) string {
	if ip := r.Header.Get("X-Forwarded-For"); ip != "" {
		return ip
	}
	return r.RemoteAddr
}

func atoiOr(s string, def int) int {
	n, err := strconv.Atoi(s)
	if err != nil {
		return def
	}
	return n
}

type publicTenantView struct {
	ID            string    `json:"id"`
	Email         string    `json:"email"`
	CompanyName   string    `json:"company_name,omitempty"`
	Status        string    `json:"status"`
	EmailVerified bool      `json:"email_verified"`
	APIKey        string    `json:"api_key"`
	CreatedAt     time.Time `json:"created_at"`
}

func publicTenant(t catalog.Tenant) publicTenantView {
	return publicTenantView{
		ID: t.ID, Email: t.Email, CompanyName: t.CompanyName,
		Status: string(t.Status), EmailVerified: t.EmailVerified,
		APIKey: t.APIKey, CreatedAt: t.CreatedAt,
	}
}

func (s *Server) encryptEmbedderKey(plaintext string) (string, error) {
	return s.Sealer.Seal([]byte(plaintext))
}

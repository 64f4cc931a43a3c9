// Package httpapi is the REST surface (C10's HTTP half): tenant
// signup/login/session management, document upload/URL-ingest/listing/
// search, and usage/profile reads. Every authenticated route runs through
// auth-then-rate-limit before reaching its handler.
package httpapi

import (
	"context"
	"net/http"
	"strconv"
	"strings"

	"github.com/prk2007/ragvault/internal/apierr"
	"github.com/prk2007/ragvault/internal/catalog"
	"github.com/prk2007/ragvault/internal/crypto"
	"github.com/prk2007/ragvault/internal/ingestion"
	"github.com/prk2007/ragvault/internal/logging"
	"github.com/prk2007/ragvault/internal/ratelimit"
	"github.com/prk2007/ragvault/internal/retrieval"
	"github.com/prk2007/ragvault/internal/tenantauth"
)

// Server exposes the tenant-facing REST API.
type Server struct {
	Catalog     catalog.Store
	Auth        *tenantauth.Engine
	Sealer      *crypto.Sealer
	RateLimiter *ratelimit.Limiter
	Usage       *ratelimit.UsageTracker
	Ingestion   *ingestion.Orchestrator
	Retrieval   *retrieval.Service

	AllowedOrigins   []string
	EmailResendLimit int
	DefaultLimits    ratelimit.Limits

	mux *http.ServeMux
}

// NewServer wires a Server and registers its routes.
func NewServer(s *Server) *Server {
	s.mux = http.NewServeMux()
	s.registerRoutes()
	return s
}

// ServeHTTP satisfies http.Handler, applying CORS before dispatch.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.withCORS(w, r)
	if r.Method == http.MethodOptions {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	s.mux.ServeHTTP(w, r)
}

func (s *Server) withCORS(w http.ResponseWriter, r *http.Request) {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return
	}
	for _, allowed := range s.AllowedOrigins {
		if allowed == "*" || strings.EqualFold(allowed, origin) {
			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Authorization, Content-Type")
			return
		}
	}
}

func (s *Server) registerRoutes() {
	// Auth
	s.mux.HandleFunc("POST /api/auth/signup", s.handleSignup)
	s.mux.HandleFunc("POST /api/auth/login", s.handleLogin)
	s.mux.HandleFunc("POST /api/auth/refresh", s.handleRefresh)
	s.mux.HandleFunc("POST /api/auth/logout", s.handleLogout)
	s.mux.HandleFunc("POST /api/auth/logout-all", s.withAuth(s.handleLogoutAll))
	s.mux.HandleFunc("GET /api/auth/verify-email", s.handleVerifyEmail)
	s.mux.HandleFunc("POST /api/auth/resend-verification", s.handleResendVerification)
	s.mux.HandleFunc("GET /api/auth/me", s.withAuth(s.handleMe))

	// Documents
	s.mux.HandleFunc("POST /api/documents/upload", s.withAuth(s.handleUploadDocument))
	s.mux.HandleFunc("POST /api/documents/url", s.withAuth(s.handleIngestURL))
	s.mux.HandleFunc("GET /api/documents", s.withAuth(s.handleListDocuments))
	s.mux.HandleFunc("GET /api/documents/stats", s.withAuth(s.handleDocumentStats))
	s.mux.HandleFunc("GET /api/documents/{id}", s.withAuth(s.handleGetDocument))
	s.mux.HandleFunc("GET /api/documents/{id}/status", s.withAuth(s.handleDocumentStatus))
	s.mux.HandleFunc("DELETE /api/documents/{id}", s.withAuth(s.handleDeleteDocument))
	s.mux.HandleFunc("GET /api/documents/{id}/download", s.withAuth(s.handleDownloadDocument))
	s.mux.HandleFunc("POST /api/documents/search", s.withAuth(s.handleSearchDocuments))

	// Profile & usage
	s.mux.HandleFunc("GET /api/profile/embedder-key", s.withAuth(s.handleGetEmbedderKeyStatus))
	s.mux.HandleFunc("POST /api/profile/embedder-key", s.withAuth(s.handleSetEmbedderKey))
	s.mux.HandleFunc("DELETE /api/profile/embedder-key", s.withAuth(s.handleRemoveEmbedderKey))
	s.mux.HandleFunc("GET /api/usage", s.withAuth(s.handleUsageSummary))
}

type tenantCtxKey struct{}

func tenantFromContext(ctx context.Context) catalog.Tenant {
	t, _ := ctx.Value(tenantCtxKey{}).(catalog.Tenant)
	return t
}

// withAuth verifies the bearer access token, then applies the
// per-(tenant,endpoint) rate limiter, before calling next: an
// unauthenticated request is rejected before it can consume any quota.
func (s *Server) withAuth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		token, ok := bearerToken(r)
		if !ok {
			writeErr(w, apierr.Auth("missing bearer token", nil))
			return
		}
		tenant, err := s.Auth.VerifyAccessToken(r.Context(), token)
		if err != nil {
			writeErr(w, apierr.Auth("invalid or expired access token", err))
			return
		}

		limits := s.limitsFor(tenant)
		decision, err := s.RateLimiter.Check(r.Context(), tenant.ID, r.URL.Path, limits)
		if err != nil {
			writeErr(w, apierr.Internal(err))
			return
		}
		w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(decision.RemainingMinute))
		w.Header().Set("X-RateLimit-Remaining-Minute", strconv.Itoa(decision.RemainingMinute))
		w.Header().Set("X-RateLimit-Remaining-Day", strconv.Itoa(decision.RemainingDay))
		if !decision.Allowed {
			writeErr(w, apierr.RateLimited("rate limit exceeded", decision.RetryAfter))
			return
		}

		s.Usage.Record(r.Context(), catalog.UsageMetric{TenantID: tenant.ID, Type: catalog.MetricAPICall, Value: 1})

		log := logging.FromContext(r.Context()).With().Str("tenant_id", tenant.ID).Logger()
		ctx := logging.WithLogger(r.Context(), log)
		ctx = context.WithValue(ctx, tenantCtxKey{}, tenant)
		next(w, r.WithContext(ctx))
	}
}

func (s *Server) limitsFor(tenant catalog.Tenant) ratelimit.Limits {
	limits := s.DefaultLimits
	if tenant.Config.RateLimitPerMinute > 0 {
		limits.PerMinute = tenant.Config.RateLimitPerMinute
	}
	if tenant.Config.RateLimitPerDay > 0 {
		limits.PerDay = tenant.Config.RateLimitPerDay
	}
	return limits
}

func bearerToken(r *http.Request) (string, bool) {
	h := r.Header.Get("Authorization")
	const prefix = "Bearer "
	if !strings.HasPrefix(h, prefix) {
		return "", false
	}
	return strings.TrimPrefix(h, prefix), true
}

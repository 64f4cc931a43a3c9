package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/prk2007/ragvault/internal/blobstore"
	"github.com/prk2007/ragvault/internal/catalog"
	"github.com/prk2007/ragvault/internal/crypto"
	"github.com/prk2007/ragvault/internal/embedder"
	"github.com/prk2007/ragvault/internal/fetcher"
	"github.com/prk2007/ragvault/internal/ingestion"
	"github.com/prk2007/ragvault/internal/queue"
	"github.com/prk2007/ragvault/internal/ratelimit"
	"github.com/prk2007/ragvault/internal/retrieval"
	"github.com/prk2007/ragvault/internal/tenantauth"
	"github.com/prk2007/ragvault/internal/vectorstore"
)

func newTestServer(t *testing.T) (*Server, catalog.Store) {
	t.Helper()
	store := catalog.NewMemoryStore()

	var masterKey [32]byte
	copy(masterKey[:], []byte("0123456789abcdef0123456789abcdef"))
	sealer, err := crypto.NewSealer(masterKey)
	require.NoError(t, err)

	auth := tenantauth.NewEngine(store, sealer, 15*time.Minute, 30*24*time.Hour)
	limiter := ratelimit.New(store)
	usage := ratelimit.NewUsageTracker(store)

	newEmbedder := func(catalog.Tenant, string) (embedder.Embedder, error) {
		return embedder.NewDeterministic(1536), nil
	}
	ing := ingestion.New(store, blobstore.NewMemoryStore(), vectorstore.NewMemoryStore(),
		queue.NewMemoryEnqueuer(), queue.NewMemoryProgressTracker(), fetcher.New(time.Second, 0), newEmbedder)
	retr := retrieval.New(store, vectorstore.NewMemoryStore(), newEmbedder)

	srv := NewServer(&Server{
		Catalog:          store,
		Auth:             auth,
		Sealer:           sealer,
		RateLimiter:      limiter,
		Usage:            usage,
		Ingestion:        ing,
		Retrieval:        retr,
		AllowedOrigins:   []string{"*"},
		EmailResendLimit: 3,
		DefaultLimits:    ratelimit.Limits{PerMinute: 1000, PerDay: 100000},
	})
	return srv, store
}

func doJSON(t *testing.T, srv *Server, method, path string, body any, token string) *httptest.ResponseRecorder {
	t.Helper()
	var r *bytes.Reader
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(t, err)
		r = bytes.NewReader(b)
	} else {
		r = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, r)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)
	return rec
}

func TestSignupAndLoginFlow(t *testing.T) {
	srv, store := newTestServer(t)

	rec := doJSON(t, srv, http.MethodPost, "/api/auth/signup", signupRequest{
		Email: "a@example.com", Password: "Abcdef1!", CompanyName: "Acme",
	}, "")
	require.Equal(t, http.StatusCreated, rec.Code)

	tenant, err := store.GetTenantByEmail(context.Background(), "a@example.com")
	require.NoError(t, err)
	require.False(t, tenant.EmailVerified)

	// Login should fail before verification.
	rec = doJSON(t, srv, http.MethodPost, "/api/auth/login", loginRequest{Email: "a@example.com", Password: "Abcdef1!"}, "")
	require.Equal(t, http.StatusForbidden, rec.Code)

	ev, err := srv.Auth.RequestEmailVerification(context.Background(), tenant.ID, "127.0.0.1", "test-agent")
	require.NoError(t, err)
	require.NoError(t, srv.Auth.VerifyEmail(context.Background(), ev.Token))

	rec = doJSON(t, srv, http.MethodPost, "/api/auth/login", loginRequest{Email: "a@example.com", Password: "Abcdef1!"}, "")
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		AccessToken string `json:"accessToken"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.NotEmpty(t, resp.AccessToken)

	rec = doJSON(t, srv, http.MethodGet, "/api/auth/me", nil, resp.AccessToken)
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestSignupRejectsWeakPassword(t *testing.T) {
	srv, _ := newTestServer(t)
	rec := doJSON(t, srv, http.MethodPost, "/api/auth/signup", signupRequest{Email: "b@example.com", Password: "weak"}, "")
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestUploadDocumentRequiresAuth(t *testing.T) {
	srv, _ := newTestServer(t)
	req := httptest.NewRequest(http.MethodPost, "/api/documents/upload", bytes.NewReader(nil))
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)
	require.Equal(t, http.StatusUnauthorized, rec.Code)
}

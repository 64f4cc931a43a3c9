package catalog

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func newTenant(id, email string) Tenant {
	now := time.Now()
	return Tenant{
		ID:               id,
		Email:            email,
		PasswordHash:     "hashed",
		JWTSecret:        "sealed-access-secret",
		JWTRefreshSecret: "sealed-refresh-secret",
		APIKey:           "key-" + id,
		Status:           StatusPendingVerification,
		Config: TenantConfig{
			RateLimitPerMinute: 60,
			RateLimitPerDay:    10000,
			MaxDocuments:       1000,
			MaxFileSizeMB:      50,
			AllowedDocTypes:    []string{"pdf", "txt"},
			ChunkSize:          1000,
			ChunkOverlap:       200,
			EmbeddingModel:     "text-embedding-3-small",
		},
		CreatedAt: now,
	}
}

func TestCreateTenant_RejectsDuplicateEmail(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	require.NoError(t, s.CreateTenant(ctx, newTenant("t1", "a@example.com")))
	err := s.CreateTenant(ctx, newTenant("t2", "a@example.com"))
	require.ErrorIs(t, err, ErrConflict)
}

func TestGetTenant_IsolatesByID(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	require.NoError(t, s.CreateTenant(ctx, newTenant("t1", "a@example.com")))

	_, err := s.GetTenantByID(ctx, "missing")
	require.ErrorIs(t, err, ErrNotFound)

	got, err := s.GetTenantByEmail(ctx, "a@example.com")
	require.NoError(t, err)
	require.Equal(t, "t1", got.ID)
}

func TestEmailVerification_ActivatesTenantIdempotently(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	require.NoError(t, s.CreateTenant(ctx, newTenant("t1", "a@example.com")))

	ev, err := s.CreateEmailVerification(ctx, EmailVerification{
		ID:        "ev1",
		TenantID:  "t1",
		Token:     "abc123",
		ExpiresAt: time.Now().Add(24 * time.Hour),
	})
	require.NoError(t, err)

	require.NoError(t, s.MarkEmailVerified(ctx, ev.ID, "t1", time.Now()))
	tenant, err := s.GetTenantByID(ctx, "t1")
	require.NoError(t, err)
	require.Equal(t, StatusActive, tenant.Status)
	require.True(t, tenant.EmailVerified)

	// Idempotent: verifying again does not error and does not flip status away.
	require.NoError(t, s.MarkEmailVerified(ctx, ev.ID, "t1", time.Now()))
	tenant, err = s.GetTenantByID(ctx, "t1")
	require.NoError(t, err)
	require.Equal(t, StatusActive, tenant.Status)
}

func TestRefreshToken_RotationInvalidatesOldToken(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	require.NoError(t, s.CreateTenant(ctx, newTenant("t1", "a@example.com")))

	old := RefreshToken{TokenHash: "hash-old", TenantID: "t1", ExpiresAt: time.Now().Add(time.Hour)}
	require.NoError(t, s.InsertRefreshToken(ctx, old))

	next := RefreshToken{TokenHash: "hash-new", TenantID: "t1", ExpiresAt: time.Now().Add(time.Hour)}
	require.NoError(t, s.RotateRefreshToken(ctx, "t1", "hash-old", next))

	_, err := s.GetRefreshToken(ctx, "hash-old")
	require.NoError(t, err)
	oldAfter, _ := s.GetRefreshToken(ctx, "hash-old")
	require.True(t, oldAfter.Revoked)

	// Rotating the already-revoked token again must fail.
	err = s.RotateRefreshToken(ctx, "t1", "hash-old", RefreshToken{TokenHash: "hash-new-2", TenantID: "t1", ExpiresAt: time.Now().Add(time.Hour)})
	require.ErrorIs(t, err, ErrNotFound)
}

func TestRefreshToken_RotationRejectsWrongTenant(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	require.NoError(t, s.InsertRefreshToken(ctx, RefreshToken{TokenHash: "hash-old", TenantID: "t1", ExpiresAt: time.Now().Add(time.Hour)}))

	err := s.RotateRefreshToken(ctx, "t2", "hash-old", RefreshToken{TokenHash: "hash-new", TenantID: "t2", ExpiresAt: time.Now().Add(time.Hour)})
	require.ErrorIs(t, err, ErrNotFound)
}

func TestDocument_DedupByContentHashPerTenant(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	doc := Document{ID: "d1", TenantID: "t1", Title: "a.txt", DocType: DocTXT, ContentHash: "hash1", Status: DocProcessing}
	require.NoError(t, s.CreateDocument(ctx, doc))

	dup := doc
	dup.ID = "d2"
	err := s.CreateDocument(ctx, dup)
	require.ErrorIs(t, err, ErrConflict)

	// Same content hash, different tenant: allowed.
	otherTenant := doc
	otherTenant.ID = "d3"
	otherTenant.TenantID = "t2"
	require.NoError(t, s.CreateDocument(ctx, otherTenant))
}

func TestDocument_ListFiltersAndPaginates(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		status := DocCompleted
		if i%2 == 0 {
			status = DocProcessing
		}
		require.NoError(t, s.CreateDocument(ctx, Document{
			ID: "d" + string(rune('0'+i)), TenantID: "t1", DocType: DocTXT,
			ContentHash: "hash" + string(rune('0'+i)), Status: status,
		}))
	}

	docs, total, err := s.ListDocuments(ctx, "t1", DocumentFilter{Status: DocCompleted, Page: 1, Limit: 10})
	require.NoError(t, err)
	require.Equal(t, 2, total)
	require.Len(t, docs, 2)

	docs, total, err = s.ListDocuments(ctx, "t1", DocumentFilter{Page: 1, Limit: 2})
	require.NoError(t, err)
	require.Equal(t, 5, total)
	require.Len(t, docs, 2)
}

func TestDocument_MarkCompletedAndFailed(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	require.NoError(t, s.CreateDocument(ctx, Document{ID: "d1", TenantID: "t1", ContentHash: "h", Status: DocProcessing}))

	require.NoError(t, s.MarkDocumentCompleted(ctx, "t1", "d1", 10, 5000, 3, 1200, 0.002, 450))
	doc, err := s.GetDocument(ctx, "t1", "d1")
	require.NoError(t, err)
	require.Equal(t, DocCompleted, doc.Status)
	require.Equal(t, 10, doc.ChunkCount)

	require.NoError(t, s.MarkDocumentFailed(ctx, "t1", "d1", "parse error"))
	doc, err = s.GetDocument(ctx, "t1", "d1")
	require.NoError(t, err)
	require.Equal(t, DocFailed, doc.Status)
	require.Equal(t, "parse error", doc.ErrorMessage)
}

func TestDocument_SetDocumentType(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	require.NoError(t, s.CreateDocument(ctx, Document{ID: "d1", TenantID: "t1", ContentHash: "h", DocType: DocHTML, Status: DocProcessing}))

	require.NoError(t, s.SetDocumentType(ctx, "t1", "d1", DocTXT))
	doc, err := s.GetDocument(ctx, "t1", "d1")
	require.NoError(t, err)
	require.Equal(t, DocTXT, doc.DocType)

	require.ErrorIs(t, s.SetDocumentType(ctx, "other-tenant", "d1", DocTXT), ErrNotFound)
}

func TestEmailVerification_LatestAttemptTracksMostRecent(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	require.NoError(t, s.CreateTenant(ctx, newTenant("t1", "a@example.com")))

	_, err := s.CreateEmailVerification(ctx, EmailVerification{ID: "v1", TenantID: "t1", Token: "tok1", ExpiresAt: time.Now().Add(time.Hour), CreatedAt: time.Now().Add(-time.Minute)})
	require.NoError(t, err)
	_, err = s.CreateEmailVerification(ctx, EmailVerification{ID: "v2", TenantID: "t1", Token: "tok2", ExpiresAt: time.Now().Add(time.Hour), CreatedAt: time.Now()})
	require.NoError(t, err)

	latest, err := s.LatestVerificationAttempt(ctx, "t1")
	require.NoError(t, err)
	require.WithinDuration(t, time.Now(), latest, 2*time.Second)
}

func TestDocument_GetIsolatesByTenant(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	require.NoError(t, s.CreateDocument(ctx, Document{ID: "d1", TenantID: "t1", ContentHash: "h", Status: DocProcessing}))

	_, err := s.GetDocument(ctx, "t2", "d1")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestUsageMetric_SumsOnlySinceWindow(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	old := time.Now().Add(-48 * time.Hour)
	recent := time.Now().Add(-time.Minute)

	require.NoError(t, s.RecordUsageMetric(ctx, UsageMetric{ID: "m1", TenantID: "t1", Type: MetricEmbeddingTokens, Value: 100, Timestamp: old}))
	require.NoError(t, s.RecordUsageMetric(ctx, UsageMetric{ID: "m2", TenantID: "t1", Type: MetricEmbeddingTokens, Value: 50, Timestamp: recent}))

	total, err := s.SumUsage(ctx, "t1", MetricEmbeddingTokens, time.Now().Add(-24*time.Hour))
	require.NoError(t, err)
	require.Equal(t, float64(50), total)
}

func TestRateLimitWindow_IncrementAndSum(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	windowStart := time.Now().Truncate(time.Minute)
	windowEnd := windowStart.Add(time.Minute)

	for i := 0; i < 3; i++ {
		require.NoError(t, s.IncrementRateLimitWindow(ctx, "t1", "/search", windowStart, windowEnd))
	}

	total, err := s.SumRequestCount(ctx, "t1", "/search", windowStart.Add(-time.Hour))
	require.NoError(t, err)
	require.Equal(t, 3, total)

	// A different tenant's count is isolated.
	total, err = s.SumRequestCount(ctx, "t2", "/search", windowStart.Add(-time.Hour))
	require.NoError(t, err)
	require.Equal(t, 0, total)
}

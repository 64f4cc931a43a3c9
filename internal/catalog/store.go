package catalog

import (
	"context"
	"errors"
	"time"
)

// Sentinel errors returned by Store implementations. Callers at the edge
// translate these into the taxonomy in internal/apierr.
var (
	ErrNotFound = errors.New("catalog: not found")
	ErrConflict = errors.New("catalog: conflict")
)

// Store is the relational catalog contract. Every tenant-scoped method
// takes a tenantID and every implementation must filter by it.
type Store interface {
	// Tenants

	CreateTenant(ctx context.Context, t Tenant) error
	GetTenantByID(ctx context.Context, id string) (Tenant, error)
	GetTenantByEmail(ctx context.Context, email string) (Tenant, error)
	GetTenantByAPIKey(ctx context.Context, apiKey string) (Tenant, error)
	SetTenantEmbedderKey(ctx context.Context, tenantID, encryptedKey string) error
	ClearTenantEmbedderKey(ctx context.Context, tenantID string) error
	CountActiveDocuments(ctx context.Context, tenantID string) (int, error)

	// Refresh tokens

	InsertRefreshToken(ctx context.Context, rt RefreshToken) error
	GetRefreshToken(ctx context.Context, tokenHash string) (RefreshToken, error)
	// RotateRefreshToken atomically revokes oldTokenHash (owned by
	// tenantID) and inserts newToken, within one transaction, taking a
	// row-level lock on the old row to serialize concurrent refresh
	// attempts. Returns ErrNotFound if the old row is missing, revoked,
	// expired, or not owned by tenantID.
	RotateRefreshToken(ctx context.Context, tenantID, oldTokenHash string, newToken RefreshToken) error
	RevokeRefreshToken(ctx context.Context, tokenHash string) error
	RevokeAllRefreshTokens(ctx context.Context, tenantID string) error
	PruneExpiredRefreshTokens(ctx context.Context, before time.Time) (int, error)

	// Email verification

	CreateEmailVerification(ctx context.Context, ev EmailVerification) (EmailVerification, error)
	GetLatestEmailVerificationByToken(ctx context.Context, token string) (EmailVerification, error)
	CountVerificationAttemptsSince(ctx context.Context, tenantID string, since time.Time) (int, error)
	// LatestVerificationAttempt returns the created_at of the most recent
	// verification row for tenantID, used to compute a resend-rate-limit
	// retry_after anchored to the actual last attempt rather than the
	// window boundary.
	LatestVerificationAttempt(ctx context.Context, tenantID string) (time.Time, error)
	// MarkEmailVerified atomically sets ev.verified_at and activates the
	// tenant (email_verified=true, status=active) in one transaction.
	MarkEmailVerified(ctx context.Context, verificationID, tenantID string, verifiedAt time.Time) error

	// Documents

	CreateDocument(ctx context.Context, d Document) error
	GetDocumentByContentHash(ctx context.Context, tenantID, contentHash string) (Document, error)
	GetDocument(ctx context.Context, tenantID, id string) (Document, error)
	ListDocuments(ctx context.Context, tenantID string, filter DocumentFilter) ([]Document, int, error)
	SetDocumentBlobKey(ctx context.Context, tenantID, id, blobKey string) error
	// SetDocumentType corrects the provisional doc_type recorded at
	// enqueue time once a URL ingest's actual content-type is known.
	SetDocumentType(ctx context.Context, tenantID, id string, docType DocType) error
	MarkDocumentCompleted(ctx context.Context, tenantID, id string, chunkCount, characterCount, pageCount, embeddingTokens int, embeddingCostUSD float64, processingTimeMS int64) error
	MarkDocumentFailed(ctx context.Context, tenantID, id, errorMessage string) error
	DeleteDocument(ctx context.Context, tenantID, id string) error
	DocumentStats(ctx context.Context, tenantID string) (DocumentStats, error)

	// Usage metrics

	RecordUsageMetric(ctx context.Context, m UsageMetric) error
	SumUsage(ctx context.Context, tenantID string, metricType UsageMetricType, since time.Time) (float64, error)

	// Rate limiting

	SumRequestCount(ctx context.Context, tenantID, endpoint string, since time.Time) (int, error)
	IncrementRateLimitWindow(ctx context.Context, tenantID, endpoint string, windowStart, windowEnd time.Time) error
	PruneRateLimitWindows(ctx context.Context, before time.Time) (int, error)

	Close()
}

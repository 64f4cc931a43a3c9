// Package catalog implements the relational catalog: tenants, refresh
// tokens, email verifications, documents, usage metrics, and rate-limit
// windows. Every tenant-scoped query carries a tenant_id predicate; there is
// no unscoped read path.
package catalog

import "time"

// TenantStatus is the tenant lifecycle state.
type TenantStatus string

const (
	StatusPendingVerification TenantStatus = "pending_verification"
	StatusActive              TenantStatus = "active"
	StatusSuspended           TenantStatus = "suspended"
	StatusDeleted             TenantStatus = "deleted"
)

// Tenant is a customer account: identity, encrypted secret material, API
// key, lifecycle state, and its associated resource configuration.
type Tenant struct {
	ID           string
	Email        string
	PasswordHash string

	// JWTSecret and JWTRefreshSecret are AEAD-sealed blobs
	// (hex(nonce):hex(tag):hex(ciphertext)); decrypt via internal/crypto.
	JWTSecret        string
	JWTRefreshSecret string
	// EmbedderAPIKey is an optional AEAD-sealed external embedder key; empty
	// when the tenant has not configured one and falls back to the
	// platform key.
	EmbedderAPIKey string

	APIKey string // opaque, unencrypted, used by MCP clients

	Status        TenantStatus
	EmailVerified bool

	CompanyName string

	Config TenantConfig

	CreatedAt time.Time
	UpdatedAt time.Time
}

// TenantConfig holds the per-tenant resource limits and ingestion
// parameters. Exactly one row exists per non-deleted tenant.
type TenantConfig struct {
	RateLimitPerMinute int
	RateLimitPerDay    int
	MaxDocuments       int
	MaxFileSizeMB      int
	AllowedDocTypes    []string
	ChunkSize          int
	ChunkOverlap       int
	EmbeddingModel     string
	MonthlyBudgetUSD   float64
}

// RefreshToken is a persisted, hashed refresh-token record. Only
// sha256(token) is stored; a token is valid iff its hash is present, not
// revoked, and not expired.
type RefreshToken struct {
	TokenHash string
	TenantID  string
	ExpiresAt time.Time
	Revoked   bool
	CreatedAt time.Time
}

// EmailVerification is one verification attempt. Multiple unverified
// records may exist per tenant; resend is rate-limited separately.
type EmailVerification struct {
	ID         string
	TenantID   string
	Token      string
	ExpiresAt  time.Time
	VerifiedAt *time.Time
	IssuerIP   string
	IssuerUA   string
	CreatedAt  time.Time
}

// DocStatus is the ingestion lifecycle state of a Document.
type DocStatus string

const (
	DocProcessing DocStatus = "processing"
	DocCompleted  DocStatus = "completed"
	DocFailed     DocStatus = "failed"
)

// DocType is the set of ingestible document kinds.
type DocType string

const (
	DocPDF  DocType = "pdf"
	DocTXT  DocType = "txt"
	DocHTML DocType = "html"
	DocMD   DocType = "md"
)

// Document is a tenant-owned ingested source: one row per upload or
// URL-fetch, tracking lifecycle, content identity, and processing stats.
type Document struct {
	ID        string
	TenantID  string
	Title     string
	DocType   DocType
	SourceURL string // optional, set for URL ingests
	BlobKey   string // authoritative; set on every successful upload

	ContentHash string // sha256(content) hex; unique per (tenant_id, content_hash)
	SizeBytes   int64

	Status DocStatus

	ChunkCount          int
	CharacterCount      int
	PageCount           int
	EmbeddingTokensUsed int
	EmbeddingCostUSD    float64
	ProcessingTimeMS    int64
	ErrorMessage        string

	CreatedAt time.Time
	UpdatedAt time.Time
}

// UsageMetricType enumerates the metric kinds usage metrics may record.
type UsageMetricType string

const (
	MetricAPICall            UsageMetricType = "api_call"
	MetricEmbeddingTokens     UsageMetricType = "embedding_tokens"
	MetricStorageBytes        UsageMetricType = "storage_bytes"
	MetricDocumentProcessed   UsageMetricType = "document_processed"
	MetricSearchQuery         UsageMetricType = "search_query"
)

// UsageMetric is one append-only usage record.
type UsageMetric struct {
	ID         string
	TenantID   string
	DocumentID string // optional
	Type       UsageMetricType
	Value      float64
	CostUSD    float64
	Metadata   map[string]string
	Timestamp  time.Time
}

// RateLimitWindow is one minute-aligned request-count bucket for a
// (tenant, endpoint) pair.
type RateLimitWindow struct {
	TenantID     string
	Endpoint     string
	WindowStart  time.Time
	WindowEnd    time.Time
	RequestCount int
}

// DocumentFilter narrows a document listing.
type DocumentFilter struct {
	Status  DocStatus // "" = any
	DocType DocType   // "" = any
	Page    int       // 1-based
	Limit   int
}

// DocumentStats summarizes a tenant's document corpus.
type DocumentStats struct {
	Total        int
	ByStatus     map[DocStatus]int
	ByType       map[DocType]int
	TotalChunks  int
	TotalBytes   int64
}

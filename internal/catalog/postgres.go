package catalog

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore is the production Store backed by a pooled pgx connection.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore wraps an already-opened pool (see OpenPool) and ensures
// the catalog schema exists.
func NewPostgresStore(ctx context.Context, pool *pgxpool.Pool) (*PostgresStore, error) {
	s := &PostgresStore{pool: pool}
	if err := s.ensureSchema(ctx); err != nil {
		return nil, fmt.Errorf("catalog: ensure schema: %w", err)
	}
	return s, nil
}

var _ Store = (*PostgresStore)(nil)

func (s *PostgresStore) Close() { s.pool.Close() }

func (s *PostgresStore) ensureSchema(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `
CREATE TABLE IF NOT EXISTS tenants (
	id                 TEXT PRIMARY KEY,
	email              TEXT NOT NULL UNIQUE,
	password_hash      TEXT NOT NULL,
	jwt_secret         TEXT NOT NULL,
	jwt_refresh_secret TEXT NOT NULL,
	embedder_api_key   TEXT NOT NULL DEFAULT '',
	api_key            TEXT NOT NULL UNIQUE,
	status             TEXT NOT NULL,
	email_verified     BOOLEAN NOT NULL DEFAULT FALSE,
	company_name       TEXT NOT NULL DEFAULT '',
	rate_limit_per_minute INT NOT NULL DEFAULT 60,
	rate_limit_per_day    INT NOT NULL DEFAULT 10000,
	max_documents         INT NOT NULL DEFAULT 1000,
	max_file_size_mb      INT NOT NULL DEFAULT 50,
	allowed_doc_types     TEXT NOT NULL DEFAULT '[]',
	chunk_size            INT NOT NULL DEFAULT 1000,
	chunk_overlap         INT NOT NULL DEFAULT 200,
	embedding_model       TEXT NOT NULL DEFAULT 'text-embedding-3-small',
	monthly_budget_usd    DOUBLE PRECISION NOT NULL DEFAULT 0,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS refresh_tokens (
	token_hash TEXT PRIMARY KEY,
	tenant_id  TEXT NOT NULL REFERENCES tenants(id),
	expires_at TIMESTAMPTZ NOT NULL,
	revoked    BOOLEAN NOT NULL DEFAULT FALSE,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS idx_refresh_tokens_tenant ON refresh_tokens(tenant_id);

CREATE TABLE IF NOT EXISTS email_verifications (
	id          TEXT PRIMARY KEY,
	tenant_id   TEXT NOT NULL REFERENCES tenants(id),
	token       TEXT NOT NULL UNIQUE,
	expires_at  TIMESTAMPTZ NOT NULL,
	verified_at TIMESTAMPTZ,
	issuer_ip   TEXT NOT NULL DEFAULT '',
	issuer_ua   TEXT NOT NULL DEFAULT '',
	created_at  TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS idx_email_verifications_tenant ON email_verifications(tenant_id, created_at);

CREATE TABLE IF NOT EXISTS documents (
	id                    TEXT PRIMARY KEY,
	tenant_id             TEXT NOT NULL REFERENCES tenants(id),
	title                 TEXT NOT NULL,
	doc_type              TEXT NOT NULL,
	source_url            TEXT NOT NULL DEFAULT '',
	blob_key              TEXT NOT NULL DEFAULT '',
	content_hash          TEXT NOT NULL,
	size_bytes            BIGINT NOT NULL DEFAULT 0,
	status                TEXT NOT NULL,
	chunk_count           INT NOT NULL DEFAULT 0,
	character_count       INT NOT NULL DEFAULT 0,
	page_count            INT NOT NULL DEFAULT 0,
	embedding_tokens_used INT NOT NULL DEFAULT 0,
	embedding_cost_usd    DOUBLE PRECISION NOT NULL DEFAULT 0,
	processing_time_ms    BIGINT NOT NULL DEFAULT 0,
	error_message         TEXT NOT NULL DEFAULT '',
	created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	UNIQUE (tenant_id, content_hash)
);
CREATE INDEX IF NOT EXISTS idx_documents_tenant_status ON documents(tenant_id, status);

CREATE TABLE IF NOT EXISTS usage_metrics (
	id          TEXT PRIMARY KEY,
	tenant_id   TEXT NOT NULL REFERENCES tenants(id),
	document_id TEXT NOT NULL DEFAULT '',
	type        TEXT NOT NULL,
	value       DOUBLE PRECISION NOT NULL DEFAULT 0,
	cost_usd    DOUBLE PRECISION NOT NULL DEFAULT 0,
	metadata    TEXT NOT NULL DEFAULT '{}',
	ts          TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS idx_usage_metrics_tenant_type_ts ON usage_metrics(tenant_id, type, ts);

CREATE TABLE IF NOT EXISTS rate_limit_tracker (
	tenant_id     TEXT NOT NULL,
	endpoint      TEXT NOT NULL,
	window_start  TIMESTAMPTZ NOT NULL,
	window_end    TIMESTAMPTZ NOT NULL,
	request_count INT NOT NULL DEFAULT 0,
	PRIMARY KEY (tenant_id, endpoint, window_start)
);
`)
	return err
}

// --- Tenants ---

func (s *PostgresStore) CreateTenant(ctx context.Context, t Tenant) error {
	allowed, err := json.Marshal(t.Config.AllowedDocTypes)
	if err != nil {
		return err
	}
	_, err = s.pool.Exec(ctx, `
INSERT INTO tenants (
	id, email, password_hash, jwt_secret, jwt_refresh_secret, embedder_api_key,
	api_key, status, email_verified, company_name,
	rate_limit_per_minute, rate_limit_per_day, max_documents, max_file_size_mb,
	allowed_doc_types, chunk_size, chunk_overlap, embedding_model, monthly_budget_usd
) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19)`,
		t.ID, t.Email, t.PasswordHash, t.JWTSecret, t.JWTRefreshSecret, t.EmbedderAPIKey,
		t.APIKey, t.Status, t.EmailVerified, t.CompanyName,
		t.Config.RateLimitPerMinute, t.Config.RateLimitPerDay, t.Config.MaxDocuments, t.Config.MaxFileSizeMB,
		string(allowed), t.Config.ChunkSize, t.Config.ChunkOverlap, t.Config.EmbeddingModel, t.Config.MonthlyBudgetUSD,
	)
	if isUniqueViolation(err) {
		return ErrConflict
	}
	return err
}

const tenantColumns = `id, email, password_hash, jwt_secret, jwt_refresh_secret, embedder_api_key,
	api_key, status, email_verified, company_name,
	rate_limit_per_minute, rate_limit_per_day, max_documents, max_file_size_mb,
	allowed_doc_types, chunk_size, chunk_overlap, embedding_model, monthly_budget_usd,
	created_at, updated_at`

func scanTenant(row pgx.Row) (Tenant, error) {
	var t Tenant
	var allowed string
	err := row.Scan(
		&t.ID, &t.Email, &t.PasswordHash, &t.JWTSecret, &t.JWTRefreshSecret, &t.EmbedderAPIKey,
		&t.APIKey, &t.Status, &t.EmailVerified, &t.CompanyName,
		&t.Config.RateLimitPerMinute, &t.Config.RateLimitPerDay, &t.Config.MaxDocuments, &t.Config.MaxFileSizeMB,
		&allowed, &t.Config.ChunkSize, &t.Config.ChunkOverlap, &t.Config.EmbeddingModel, &t.Config.MonthlyBudgetUSD,
		&t.CreatedAt, &t.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return Tenant{}, ErrNotFound
	}
	if err != nil {
		return Tenant{}, err
	}
	_ = json.Unmarshal([]byte(allowed), &t.Config.AllowedDocTypes)
	return t, nil
}

func (s *PostgresStore) GetTenantByID(ctx context.Context, id string) (Tenant, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+tenantColumns+` FROM tenants WHERE id=$1`, id)
	return scanTenant(row)
}

func (s *PostgresStore) GetTenantByEmail(ctx context.Context, email string) (Tenant, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+tenantColumns+` FROM tenants WHERE email=$1`, email)
	return scanTenant(row)
}

func (s *PostgresStore) GetTenantByAPIKey(ctx context.Context, apiKey string) (Tenant, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+tenantColumns+` FROM tenants WHERE api_key=$1`, apiKey)
	return scanTenant(row)
}

func (s *PostgresStore) SetTenantEmbedderKey(ctx context.Context, tenantID, encryptedKey string) error {
	ct, err := s.pool.Exec(ctx, `UPDATE tenants SET embedder_api_key=$1, updated_at=now() WHERE id=$2`, encryptedKey, tenantID)
	return checkAffected(ct, err)
}

func (s *PostgresStore) ClearTenantEmbedderKey(ctx context.Context, tenantID string) error {
	return s.SetTenantEmbedderKey(ctx, tenantID, "")
}

func (s *PostgresStore) CountActiveDocuments(ctx context.Context, tenantID string) (int, error) {
	var n int
	err := s.pool.QueryRow(ctx, `SELECT count(*) FROM documents WHERE tenant_id=$1 AND status != 'failed'`, tenantID).Scan(&n)
	return n, err
}

// --- Refresh tokens ---

func (s *PostgresStore) InsertRefreshToken(ctx context.Context, rt RefreshToken) error {
	_, err := s.pool.Exec(ctx, `INSERT INTO refresh_tokens (token_hash, tenant_id, expires_at, revoked) VALUES ($1,$2,$3,$4)`,
		rt.TokenHash, rt.TenantID, rt.ExpiresAt, rt.Revoked)
	return err
}

func (s *PostgresStore) GetRefreshToken(ctx context.Context, tokenHash string) (RefreshToken, error) {
	var rt RefreshToken
	err := s.pool.QueryRow(ctx, `SELECT token_hash, tenant_id, expires_at, revoked, created_at FROM refresh_tokens WHERE token_hash=$1`, tokenHash).
		Scan(&rt.TokenHash, &rt.TenantID, &rt.ExpiresAt, &rt.Revoked, &rt.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return RefreshToken{}, ErrNotFound
	}
	return rt, err
}

func (s *PostgresStore) RotateRefreshToken(ctx context.Context, tenantID, oldTokenHash string, newToken RefreshToken) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	var revoked bool
	var expiresAt time.Time
	var owner string
	err = tx.QueryRow(ctx, `SELECT tenant_id, expires_at, revoked FROM refresh_tokens WHERE token_hash=$1 FOR UPDATE`, oldTokenHash).
		Scan(&owner, &expiresAt, &revoked)
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return err
	}
	if owner != tenantID || revoked || expiresAt.Before(time.Now()) {
		return ErrNotFound
	}

	if _, err := tx.Exec(ctx, `UPDATE refresh_tokens SET revoked=true WHERE token_hash=$1`, oldTokenHash); err != nil {
		return err
	}
	if _, err := tx.Exec(ctx, `INSERT INTO refresh_tokens (token_hash, tenant_id, expires_at, revoked) VALUES ($1,$2,$3,$4)`,
		newToken.TokenHash, newToken.TenantID, newToken.ExpiresAt, newToken.Revoked); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func (s *PostgresStore) RevokeRefreshToken(ctx context.Context, tokenHash string) error {
	_, err := s.pool.Exec(ctx, `UPDATE refresh_tokens SET revoked=true WHERE token_hash=$1`, tokenHash)
	return err
}

func (s *PostgresStore) RevokeAllRefreshTokens(ctx context.Context, tenantID string) error {
	_, err := s.pool.Exec(ctx, `UPDATE refresh_tokens SET revoked=true WHERE tenant_id=$1`, tenantID)
	return err
}

func (s *PostgresStore) PruneExpiredRefreshTokens(ctx context.Context, before time.Time) (int, error) {
	ct, err := s.pool.Exec(ctx, `DELETE FROM refresh_tokens WHERE expires_at < $1`, before)
	if err != nil {
		return 0, err
	}
	return int(ct.RowsAffected()), nil
}

// --- Email verification ---

func (s *PostgresStore) CreateEmailVerification(ctx context.Context, ev EmailVerification) (EmailVerification, error) {
	_, err := s.pool.Exec(ctx, `
INSERT INTO email_verifications (id, tenant_id, token, expires_at, issuer_ip, issuer_ua)
VALUES ($1,$2,$3,$4,$5,$6)`,
		ev.ID, ev.TenantID, ev.Token, ev.ExpiresAt, ev.IssuerIP, ev.IssuerUA)
	if err != nil {
		return EmailVerification{}, err
	}
	return ev, nil
}

func (s *PostgresStore) GetLatestEmailVerificationByToken(ctx context.Context, token string) (EmailVerification, error) {
	var ev EmailVerification
	err := s.pool.QueryRow(ctx, `
SELECT id, tenant_id, token, expires_at, verified_at, issuer_ip, issuer_ua, created_at
FROM email_verifications WHERE token=$1`, token).
		Scan(&ev.ID, &ev.TenantID, &ev.Token, &ev.ExpiresAt, &ev.VerifiedAt, &ev.IssuerIP, &ev.IssuerUA, &ev.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return EmailVerification{}, ErrNotFound
	}
	return ev, err
}

func (s *PostgresStore) CountVerificationAttemptsSince(ctx context.Context, tenantID string, since time.Time) (int, error) {
	var n int
	err := s.pool.QueryRow(ctx, `SELECT count(*) FROM email_verifications WHERE tenant_id=$1 AND created_at >= $2`, tenantID, since).Scan(&n)
	return n, err
}

func (s *PostgresStore) LatestVerificationAttempt(ctx context.Context, tenantID string) (time.Time, error) {
	var t time.Time
	err := s.pool.QueryRow(ctx, `SELECT max(created_at) FROM email_verifications WHERE tenant_id=$1`, tenantID).Scan(&t)
	return t, err
}

func (s *PostgresStore) MarkEmailVerified(ctx context.Context, verificationID, tenantID string, verifiedAt time.Time) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	ct, err := tx.Exec(ctx, `UPDATE email_verifications SET verified_at=$1 WHERE id=$2 AND tenant_id=$3 AND verified_at IS NULL`,
		verifiedAt, verificationID, tenantID)
	if err != nil {
		return err
	}
	if ct.RowsAffected() == 0 {
		// Already verified or unknown: treat as idempotent success only if
		// already verified, otherwise not found.
		var alreadyVerified bool
		err := tx.QueryRow(ctx, `SELECT verified_at IS NOT NULL FROM email_verifications WHERE id=$1 AND tenant_id=$2`, verificationID, tenantID).Scan(&alreadyVerified)
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrNotFound
		}
		if err != nil {
			return err
		}
		if !alreadyVerified {
			return ErrNotFound
		}
		return tx.Commit(ctx)
	}

	if _, err := tx.Exec(ctx, `UPDATE tenants SET email_verified=true, status=$1, updated_at=now() WHERE id=$2 AND status=$3`,
		StatusActive, tenantID, StatusPendingVerification); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

// --- Documents ---

func (s *PostgresStore) CreateDocument(ctx context.Context, d Document) error {
	_, err := s.pool.Exec(ctx, `
INSERT INTO documents (id, tenant_id, title, doc_type, source_url, blob_key, content_hash, size_bytes, status)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)`,
		d.ID, d.TenantID, d.Title, d.DocType, d.SourceURL, d.BlobKey, d.ContentHash, d.SizeBytes, d.Status)
	if isUniqueViolation(err) {
		return ErrConflict
	}
	return err
}

const documentColumns = `id, tenant_id, title, doc_type, source_url, blob_key, content_hash, size_bytes, status,
	chunk_count, character_count, page_count, embedding_tokens_used, embedding_cost_usd, processing_time_ms,
	error_message, created_at, updated_at`

func scanDocument(row pgx.Row) (Document, error) {
	var d Document
	err := row.Scan(
		&d.ID, &d.TenantID, &d.Title, &d.DocType, &d.SourceURL, &d.BlobKey, &d.ContentHash, &d.SizeBytes, &d.Status,
		&d.ChunkCount, &d.CharacterCount, &d.PageCount, &d.EmbeddingTokensUsed, &d.EmbeddingCostUSD, &d.ProcessingTimeMS,
		&d.ErrorMessage, &d.CreatedAt, &d.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return Document{}, ErrNotFound
	}
	return d, err
}

func (s *PostgresStore) GetDocumentByContentHash(ctx context.Context, tenantID, contentHash string) (Document, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+documentColumns+` FROM documents WHERE tenant_id=$1 AND content_hash=$2`, tenantID, contentHash)
	return scanDocument(row)
}

func (s *PostgresStore) GetDocument(ctx context.Context, tenantID, id string) (Document, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+documentColumns+` FROM documents WHERE tenant_id=$1 AND id=$2`, tenantID, id)
	return scanDocument(row)
}

func (s *PostgresStore) ListDocuments(ctx context.Context, tenantID string, filter DocumentFilter) ([]Document, int, error) {
	page, limit := filter.Page, filter.Limit
	if page < 1 {
		page = 1
	}
	if limit < 1 {
		limit = 20
	}
	offset := (page - 1) * limit

	where := `tenant_id=$1`
	args := []any{tenantID}
	if filter.Status != "" {
		args = append(args, filter.Status)
		where += fmt.Sprintf(" AND status=$%d", len(args))
	}
	if filter.DocType != "" {
		args = append(args, filter.DocType)
		where += fmt.Sprintf(" AND doc_type=$%d", len(args))
	}

	var total int
	if err := s.pool.QueryRow(ctx, `SELECT count(*) FROM documents WHERE `+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	args = append(args, limit, offset)
	rows, err := s.pool.Query(ctx, fmt.Sprintf(
		`SELECT %s FROM documents WHERE %s ORDER BY created_at DESC LIMIT $%d OFFSET $%d`,
		documentColumns, where, len(args)-1, len(args)), args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var docs []Document
	for rows.Next() {
		d, err := scanDocument(rows)
		if err != nil {
			return nil, 0, err
		}
		docs = append(docs, d)
	}
	return docs, total, rows.Err()
}

func (s *PostgresStore) SetDocumentBlobKey(ctx context.Context, tenantID, id, blobKey string) error {
	ct, err := s.pool.Exec(ctx, `UPDATE documents SET blob_key=$1, updated_at=now() WHERE tenant_id=$2 AND id=$3`, blobKey, tenantID, id)
	return checkAffected(ct, err)
}

func (s *PostgresStore) SetDocumentType(ctx context.Context, tenantID, id string, docType DocType) error {
	ct, err := s.pool.Exec(ctx, `UPDATE documents SET doc_type=$1, updated_at=now() WHERE tenant_id=$2 AND id=$3`, docType, tenantID, id)
	return checkAffected(ct, err)
}

func (s *PostgresStore) MarkDocumentCompleted(ctx context.Context, tenantID, id string, chunkCount, characterCount, pageCount, embeddingTokens int, embeddingCostUSD float64, processingTimeMS int64) error {
	ct, err := s.pool.Exec(ctx, `
UPDATE documents SET status=$1, chunk_count=$2, character_count=$3, page_count=$4,
	embedding_tokens_used=$5, embedding_cost_usd=$6, processing_time_ms=$7, error_message='', updated_at=now()
WHERE tenant_id=$8 AND id=$9`,
		DocCompleted, chunkCount, characterCount, pageCount, embeddingTokens, embeddingCostUSD, processingTimeMS, tenantID, id)
	return checkAffected(ct, err)
}

func (s *PostgresStore) MarkDocumentFailed(ctx context.Context, tenantID, id, errorMessage string) error {
	ct, err := s.pool.Exec(ctx, `UPDATE documents SET status=$1, error_message=$2, updated_at=now() WHERE tenant_id=$3 AND id=$4`,
		DocFailed, errorMessage, tenantID, id)
	return checkAffected(ct, err)
}

func (s *PostgresStore) DeleteDocument(ctx context.Context, tenantID, id string) error {
	ct, err := s.pool.Exec(ctx, `DELETE FROM documents WHERE tenant_id=$1 AND id=$2`, tenantID, id)
	return checkAffected(ct, err)
}

func (s *PostgresStore) DocumentStats(ctx context.Context, tenantID string) (DocumentStats, error) {
	stats := DocumentStats{ByStatus: map[DocStatus]int{}, ByType: map[DocType]int{}}

	rows, err := s.pool.Query(ctx, `SELECT status, doc_type, count(*), coalesce(sum(chunk_count),0), coalesce(sum(size_bytes),0)
FROM documents WHERE tenant_id=$1 GROUP BY status, doc_type`, tenantID)
	if err != nil {
		return stats, err
	}
	defer rows.Close()

	for rows.Next() {
		var status DocStatus
		var docType DocType
		var count, chunks int
		var bytes int64
		if err := rows.Scan(&status, &docType, &count, &chunks, &bytes); err != nil {
			return stats, err
		}
		stats.Total += count
		stats.ByStatus[status] += count
		stats.ByType[docType] += count
		stats.TotalChunks += chunks
		stats.TotalBytes += bytes
	}
	return stats, rows.Err()
}

// --- Usage metrics ---

func (s *PostgresStore) RecordUsageMetric(ctx context.Context, m UsageMetric) error {
	if m.ID == "" {
		m.ID = uuid.NewString()
	}
	meta, err := json.Marshal(m.Metadata)
	if err != nil {
		return err
	}
	_, err = s.pool.Exec(ctx, `
INSERT INTO usage_metrics (id, tenant_id, document_id, type, value, cost_usd, metadata, ts)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8)`,
		m.ID, m.TenantID, m.DocumentID, m.Type, m.Value, m.CostUSD, string(meta), m.Timestamp)
	return err
}

func (s *PostgresStore) SumUsage(ctx context.Context, tenantID string, metricType UsageMetricType, since time.Time) (float64, error) {
	var total float64
	err := s.pool.QueryRow(ctx, `SELECT coalesce(sum(value),0) FROM usage_metrics WHERE tenant_id=$1 AND type=$2 AND ts >= $3`,
		tenantID, metricType, since).Scan(&total)
	return total, err
}

// --- Rate limiting ---

func (s *PostgresStore) SumRequestCount(ctx context.Context, tenantID, endpoint string, since time.Time) (int, error) {
	var total int
	err := s.pool.QueryRow(ctx, `SELECT coalesce(sum(request_count),0) FROM rate_limit_tracker
WHERE tenant_id=$1 AND endpoint=$2 AND window_start >= $3`, tenantID, endpoint, since).Scan(&total)
	return total, err
}

func (s *PostgresStore) IncrementRateLimitWindow(ctx context.Context, tenantID, endpoint string, windowStart, windowEnd time.Time) error {
	_, err := s.pool.Exec(ctx, `
INSERT INTO rate_limit_tracker (tenant_id, endpoint, window_start, window_end, request_count)
VALUES ($1,$2,$3,$4,1)
ON CONFLICT (tenant_id, endpoint, window_start)
DO UPDATE SET request_count = rate_limit_tracker.request_count + 1`,
		tenantID, endpoint, windowStart, windowEnd)
	return err
}

func (s *PostgresStore) PruneRateLimitWindows(ctx context.Context, before time.Time) (int, error) {
	ct, err := s.pool.Exec(ctx, `DELETE FROM rate_limit_tracker WHERE window_end < $1`, before)
	if err != nil {
		return 0, err
	}
	return int(ct.RowsAffected()), nil
}

// --- helpers ---

func checkAffected(ct interface{ RowsAffected() int64 }, err error) error {
	if err != nil {
		return err
	}
	if ct.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

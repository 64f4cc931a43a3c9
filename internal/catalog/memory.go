package catalog

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryStore is an in-memory Store used in tests. It enforces the same
// uniqueness and tenant-scoping rules as PostgresStore.
type MemoryStore struct {
	mu sync.Mutex

	tenants      map[string]Tenant
	emailIndex   map[string]string // email -> tenant id
	apiKeyIndex  map[string]string // api key -> tenant id
	refreshToks  map[string]RefreshToken
	verifications map[string]EmailVerification // token -> verification
	verByID      map[string]string             // id -> token
	documents    map[string]Document           // id -> document
	usage        []UsageMetric
	rateWindows  map[string]RateLimitWindow // tenant|endpoint|windowStart -> window
}

// NewMemoryStore constructs an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		tenants:       map[string]Tenant{},
		emailIndex:    map[string]string{},
		apiKeyIndex:   map[string]string{},
		refreshToks:   map[string]RefreshToken{},
		verifications: map[string]EmailVerification{},
		verByID:       map[string]string{},
		documents:     map[string]Document{},
		rateWindows:   map[string]RateLimitWindow{},
	}
}

func (s *MemoryStore) Close() {}

// --- Tenants ---

func (s *MemoryStore) CreateTenant(_ context.Context, t Tenant) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.emailIndex[t.Email]; ok {
		return ErrConflict
	}
	now := time.Now()
	if t.CreatedAt.IsZero() {
		t.CreatedAt = now
	}
	t.UpdatedAt = now
	s.tenants[t.ID] = t
	s.emailIndex[t.Email] = t.ID
	s.apiKeyIndex[t.APIKey] = t.ID
	return nil
}

func (s *MemoryStore) GetTenantByID(_ context.Context, id string) (Tenant, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tenants[id]
	if !ok {
		return Tenant{}, ErrNotFound
	}
	return t, nil
}

func (s *MemoryStore) GetTenantByEmail(_ context.Context, email string) (Tenant, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.emailIndex[email]
	if !ok {
		return Tenant{}, ErrNotFound
	}
	return s.tenants[id], nil
}

func (s *MemoryStore) GetTenantByAPIKey(_ context.Context, apiKey string) (Tenant, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.apiKeyIndex[apiKey]
	if !ok {
		return Tenant{}, ErrNotFound
	}
	return s.tenants[id], nil
}

func (s *MemoryStore) SetTenantEmbedderKey(_ context.Context, tenantID, encryptedKey string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tenants[tenantID]
	if !ok {
		return ErrNotFound
	}
	t.EmbedderAPIKey = encryptedKey
	t.UpdatedAt = time.Now()
	s.tenants[tenantID] = t
	return nil
}

func (s *MemoryStore) ClearTenantEmbedderKey(ctx context.Context, tenantID string) error {
	return s.SetTenantEmbedderKey(ctx, tenantID, "")
}

func (s *MemoryStore) CountActiveDocuments(_ context.Context, tenantID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, d := range s.documents {
		if d.TenantID == tenantID && d.Status != DocFailed {
			n++
		}
	}
	return n, nil
}

// --- Refresh tokens ---

func (s *MemoryStore) InsertRefreshToken(_ context.Context, rt RefreshToken) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if rt.CreatedAt.IsZero() {
		rt.CreatedAt = time.Now()
	}
	s.refreshToks[rt.TokenHash] = rt
	return nil
}

func (s *MemoryStore) GetRefreshToken(_ context.Context, tokenHash string) (RefreshToken, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rt, ok := s.refreshToks[tokenHash]
	if !ok {
		return RefreshToken{}, ErrNotFound
	}
	return rt, nil
}

func (s *MemoryStore) RotateRefreshToken(_ context.Context, tenantID, oldTokenHash string, newToken RefreshToken) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	old, ok := s.refreshToks[oldTokenHash]
	if !ok || old.TenantID != tenantID || old.Revoked || old.ExpiresAt.Before(time.Now()) {
		return ErrNotFound
	}
	old.Revoked = true
	s.refreshToks[oldTokenHash] = old
	if newToken.CreatedAt.IsZero() {
		newToken.CreatedAt = time.Now()
	}
	s.refreshToks[newToken.TokenHash] = newToken
	return nil
}

func (s *MemoryStore) RevokeRefreshToken(_ context.Context, tokenHash string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rt, ok := s.refreshToks[tokenHash]
	if !ok {
		return nil
	}
	rt.Revoked = true
	s.refreshToks[tokenHash] = rt
	return nil
}

func (s *MemoryStore) RevokeAllRefreshTokens(_ context.Context, tenantID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for hash, rt := range s.refreshToks {
		if rt.TenantID == tenantID {
			rt.Revoked = true
			s.refreshToks[hash] = rt
		}
	}
	return nil
}

func (s *MemoryStore) PruneExpiredRefreshTokens(_ context.Context, before time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for hash, rt := range s.refreshToks {
		if rt.ExpiresAt.Before(before) {
			delete(s.refreshToks, hash)
			n++
		}
	}
	return n, nil
}

// --- Email verification ---

func (s *MemoryStore) CreateEmailVerification(_ context.Context, ev EmailVerification) (EmailVerification, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if ev.CreatedAt.IsZero() {
		ev.CreatedAt = time.Now()
	}
	s.verifications[ev.Token] = ev
	s.verByID[ev.ID] = ev.Token
	return ev, nil
}

func (s *MemoryStore) GetLatestEmailVerificationByToken(_ context.Context, token string) (EmailVerification, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ev, ok := s.verifications[token]
	if !ok {
		return EmailVerification{}, ErrNotFound
	}
	return ev, nil
}

func (s *MemoryStore) CountVerificationAttemptsSince(_ context.Context, tenantID string, since time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, ev := range s.verifications {
		if ev.TenantID == tenantID && !ev.CreatedAt.Before(since) {
			n++
		}
	}
	return n, nil
}

func (s *MemoryStore) LatestVerificationAttempt(_ context.Context, tenantID string) (time.Time, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var latest time.Time
	for _, ev := range s.verifications {
		if ev.TenantID == tenantID && ev.CreatedAt.After(latest) {
			latest = ev.CreatedAt
		}
	}
	return latest, nil
}

func (s *MemoryStore) MarkEmailVerified(_ context.Context, verificationID, tenantID string, verifiedAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	token, ok := s.verByID[verificationID]
	if !ok {
		return ErrNotFound
	}
	ev, ok := s.verifications[token]
	if !ok || ev.TenantID != tenantID {
		return ErrNotFound
	}
	if ev.VerifiedAt == nil {
		ev.VerifiedAt = &verifiedAt
		s.verifications[token] = ev

		t, ok := s.tenants[tenantID]
		if !ok {
			return ErrNotFound
		}
		if t.Status == StatusPendingVerification {
			t.Status = StatusActive
			t.EmailVerified = true
			t.UpdatedAt = time.Now()
			s.tenants[tenantID] = t
		}
	}
	return nil
}

// --- Documents ---

func (s *MemoryStore) CreateDocument(_ context.Context, d Document) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.documents {
		if existing.TenantID == d.TenantID && existing.ContentHash == d.ContentHash {
			return ErrConflict
		}
	}
	now := time.Now()
	if d.CreatedAt.IsZero() {
		d.CreatedAt = now
	}
	d.UpdatedAt = now
	s.documents[d.ID] = d
	return nil
}

func (s *MemoryStore) GetDocumentByContentHash(_ context.Context, tenantID, contentHash string) (Document, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, d := range s.documents {
		if d.TenantID == tenantID && d.ContentHash == contentHash {
			return d, nil
		}
	}
	return Document{}, ErrNotFound
}

func (s *MemoryStore) GetDocument(_ context.Context, tenantID, id string) (Document, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.documents[id]
	if !ok || d.TenantID != tenantID {
		return Document{}, ErrNotFound
	}
	return d, nil
}

func (s *MemoryStore) ListDocuments(_ context.Context, tenantID string, filter DocumentFilter) ([]Document, int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var matched []Document
	for _, d := range s.documents {
		if d.TenantID != tenantID {
			continue
		}
		if filter.Status != "" && d.Status != filter.Status {
			continue
		}
		if filter.DocType != "" && d.DocType != filter.DocType {
			continue
		}
		matched = append(matched, d)
	}
	total := len(matched)

	page, limit := filter.Page, filter.Limit
	if page < 1 {
		page = 1
	}
	if limit < 1 {
		limit = 20
	}
	start := (page - 1) * limit
	if start >= len(matched) {
		return nil, total, nil
	}
	end := start + limit
	if end > len(matched) {
		end = len(matched)
	}
	return matched[start:end], total, nil
}

func (s *MemoryStore) SetDocumentType(_ context.Context, tenantID, id string, docType DocType) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.documents[id]
	if !ok || d.TenantID != tenantID {
		return ErrNotFound
	}
	d.DocType = docType
	d.UpdatedAt = time.Now()
	s.documents[id] = d
	return nil
}

func (s *MemoryStore) SetDocumentBlobKey(_ context.Context, tenantID, id, blobKey string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.documents[id]
	if !ok || d.TenantID != tenantID {
		return ErrNotFound
	}
	d.BlobKey = blobKey
	d.UpdatedAt = time.Now()
	s.documents[id] = d
	return nil
}

func (s *MemoryStore) MarkDocumentCompleted(_ context.Context, tenantID, id string, chunkCount, characterCount, pageCount, embeddingTokens int, embeddingCostUSD float64, processingTimeMS int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.documents[id]
	if !ok || d.TenantID != tenantID {
		return ErrNotFound
	}
	d.Status = DocCompleted
	d.ChunkCount = chunkCount
	d.CharacterCount = characterCount
	d.PageCount = pageCount
	d.EmbeddingTokensUsed = embeddingTokens
	d.EmbeddingCostUSD = embeddingCostUSD
	d.ProcessingTimeMS = processingTimeMS
	d.ErrorMessage = ""
	d.UpdatedAt = time.Now()
	s.documents[id] = d
	return nil
}

func (s *MemoryStore) MarkDocumentFailed(_ context.Context, tenantID, id, errorMessage string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.documents[id]
	if !ok || d.TenantID != tenantID {
		return ErrNotFound
	}
	d.Status = DocFailed
	d.ErrorMessage = errorMessage
	d.UpdatedAt = time.Now()
	s.documents[id] = d
	return nil
}

func (s *MemoryStore) DeleteDocument(_ context.Context, tenantID, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.documents[id]
	if !ok || d.TenantID != tenantID {
		return ErrNotFound
	}
	delete(s.documents, id)
	return nil
}

func (s *MemoryStore) DocumentStats(_ context.Context, tenantID string) (DocumentStats, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	stats := DocumentStats{ByStatus: map[DocStatus]int{}, ByType: map[DocType]int{}}
	for _, d := range s.documents {
		if d.TenantID != tenantID {
			continue
		}
		stats.Total++
		stats.ByStatus[d.Status]++
		stats.ByType[d.DocType]++
		stats.TotalChunks += d.ChunkCount
		stats.TotalBytes += d.SizeBytes
	}
	return stats, nil
}

// --- Usage metrics ---

func (s *MemoryStore) RecordUsageMetric(_ context.Context, m UsageMetric) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if m.ID == "" {
		m.ID = uuid.NewString()
	}
	if m.Timestamp.IsZero() {
		m.Timestamp = time.Now()
	}
	s.usage = append(s.usage, m)
	return nil
}

func (s *MemoryStore) SumUsage(_ context.Context, tenantID string, metricType UsageMetricType, since time.Time) (float64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var total float64
	for _, m := range s.usage {
		if m.TenantID == tenantID && m.Type == metricType && !m.Timestamp.Before(since) {
			total += m.Value
		}
	}
	return total, nil
}

// --- Rate limiting ---

func rateWindowKey(tenantID, endpoint string, windowStart time.Time) string {
	return tenantID + "|" + endpoint + "|" + windowStart.Format(time.RFC3339Nano)
}

func (s *MemoryStore) SumRequestCount(_ context.Context, tenantID, endpoint string, since time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	total := 0
	for _, w := range s.rateWindows {
		if w.TenantID == tenantID && w.Endpoint == endpoint && !w.WindowStart.Before(since) {
			total += w.RequestCount
		}
	}
	return total, nil
}

func (s *MemoryStore) IncrementRateLimitWindow(_ context.Context, tenantID, endpoint string, windowStart, windowEnd time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := rateWindowKey(tenantID, endpoint, windowStart)
	w, ok := s.rateWindows[key]
	if !ok {
		w = RateLimitWindow{TenantID: tenantID, Endpoint: endpoint, WindowStart: windowStart, WindowEnd: windowEnd}
	}
	w.RequestCount++
	s.rateWindows[key] = w
	return nil
}

func (s *MemoryStore) PruneRateLimitWindows(_ context.Context, before time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for key, w := range s.rateWindows {
		if w.WindowEnd.Before(before) {
			delete(s.rateWindows, key)
			n++
		}
	}
	return n, nil
}

var _ Store = (*MemoryStore)(nil)

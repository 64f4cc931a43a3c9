// Package tenantauth implements the tenant auth & token engine: per-tenant
// JWT secret material, access/refresh token issuance and rotation, login
// guards, and the email-verification state machine. Every tenant signs its
// own tokens with its own secret, so compromising one tenant's signing
// material never lets an attacker forge tokens for another tenant.
package tenantauth

import (
	"context"
	cryptorand "crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"regexp"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/prk2007/ragvault/internal/catalog"
	"github.com/prk2007/ragvault/internal/crypto"
)

// TokenPair is an access/refresh token issued or rotated together.
type TokenPair struct {
	AccessToken  string
	RefreshToken string
	ExpiresIn    int64 // access token TTL, seconds
}

// Engine issues and verifies tenant-scoped tokens and drives the
// email-verification state machine on top of internal/catalog.
type Engine struct {
	store      catalog.Store
	sealer     *crypto.Sealer
	accessTTL  time.Duration
	refreshTTL time.Duration
	now        func() time.Time
}

const (
	secretLengthBytes      = 64
	verificationTTL        = 24 * time.Hour
	defaultResendPerHour   = 3
	verificationTokenBytes = 32 // 64 hex chars
)

func NewEngine(store catalog.Store, sealer *crypto.Sealer, accessTTL, refreshTTL time.Duration) *Engine {
	return &Engine{store: store, sealer: sealer, accessTTL: accessTTL, refreshTTL: refreshTTL, now: time.Now}
}

// GenerateTenantSecrets produces the two independent, AEAD-sealed signing
// secrets a newly created tenant is given: one for access tokens, one for
// refresh tokens.
func (e *Engine) GenerateTenantSecrets() (sealedAccess, sealedRefresh string, err error) {
	accessSecret := make([]byte, secretLengthBytes)
	refreshSecret := make([]byte, secretLengthBytes)
	if _, err := cryptorand.Read(accessSecret); err != nil {
		return "", "", fmt.Errorf("tenantauth: generate access secret: %w", err)
	}
	if _, err := cryptorand.Read(refreshSecret); err != nil {
		return "", "", fmt.Errorf("tenantauth: generate refresh secret: %w", err)
	}
	sealedAccess, err = e.sealer.Seal(accessSecret)
	if err != nil {
		return "", "", err
	}
	sealedRefresh, err = e.sealer.Seal(refreshSecret)
	if err != nil {
		return "", "", err
	}
	return sealedAccess, sealedRefresh, nil
}

// IssueTokenPair signs a fresh access+refresh pair for tenant and persists
// the refresh token's hash (never the plaintext).
func (e *Engine) IssueTokenPair(ctx context.Context, tenant catalog.Tenant) (TokenPair, error) {
	accessSecret, err := e.sealer.Open(tenant.JWTSecret)
	if err != nil {
		return TokenPair{}, fmt.Errorf("tenantauth: open access secret: %w", err)
	}
	refreshSecret, err := e.sealer.Open(tenant.JWTRefreshSecret)
	if err != nil {
		return TokenPair{}, fmt.Errorf("tenantauth: open refresh secret: %w", err)
	}

	now := e.now()
	access, err := signToken(tenant.ID, tenant.Email, now, e.accessTTL, accessSecret)
	if err != nil {
		return TokenPair{}, err
	}
	refresh, err := signToken(tenant.ID, tenant.Email, now, e.refreshTTL, refreshSecret)
	if err != nil {
		return TokenPair{}, err
	}

	if err := e.store.InsertRefreshToken(ctx, catalog.RefreshToken{
		TokenHash: sha256Hex(refresh),
		TenantID:  tenant.ID,
		ExpiresAt: now.Add(e.refreshTTL),
	}); err != nil {
		return TokenPair{}, err
	}

	return TokenPair{AccessToken: access, RefreshToken: refresh, ExpiresIn: int64(e.accessTTL.Seconds())}, nil
}

func signToken(tenantID, email string, now time.Time, ttl time.Duration, secret []byte) (string, error) {
	claims := Claims{
		Email: email,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   tenantID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(secret)
}

// VerifyAccessToken never trusts the token's claimed secret: decode
// without verifying to recover the tenant id, load that tenant's secret,
// then verify signature and expiry against it. Any failure collapses to
// ErrTokenInvalidOrExpired so callers cannot distinguish "wrong tenant"
// from "bad signature" from "expired".
func (e *Engine) VerifyAccessToken(ctx context.Context, token string) (catalog.Tenant, error) {
	return e.verify(ctx, token, func(t catalog.Tenant) (string, error) { return t.JWTSecret, nil })
}

func (e *Engine) verify(ctx context.Context, token string, sealedSecretOf func(catalog.Tenant) (string, error)) (catalog.Tenant, error) {
	sub, err := unverifiedSubject(token)
	if err != nil {
		return catalog.Tenant{}, ErrTokenInvalidOrExpired
	}

	tenant, err := e.store.GetTenantByID(ctx, sub)
	if err != nil {
		return catalog.Tenant{}, ErrTokenInvalidOrExpired
	}

	sealedSecret, err := sealedSecretOf(tenant)
	if err != nil {
		return catalog.Tenant{}, ErrTokenInvalidOrExpired
	}
	secret, err := e.sealer.Open(sealedSecret)
	if err != nil {
		return catalog.Tenant{}, ErrTokenInvalidOrExpired
	}

	var claims Claims
	_, err = jwt.ParseWithClaims(token, &claims, func(*jwt.Token) (any, error) { return secret, nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return catalog.Tenant{}, ErrTokenInvalidOrExpired
	}
	// The claimed subject must match the tenant whose secret we just used
	// to verify: this is what makes a forged sub on tenant B's secret fail
	// even though signature verification alone would otherwise pass it.
	if claims.Subject != tenant.ID {
		return catalog.Tenant{}, ErrTokenInvalidOrExpired
	}

	return tenant, nil
}

func unverifiedSubject(token string) (string, error) {
	parser := jwt.NewParser()
	var claims Claims
	if _, _, err := parser.ParseUnverified(token, &claims); err != nil {
		return "", err
	}
	if claims.Subject == "" {
		return "", errors.New("tenantauth: token has no subject")
	}
	return claims.Subject, nil
}

// Refresh verifies refreshToken against its tenant's refresh secret, looks
// up the stored hash row (rejecting missing/revoked/expired), and rotates
// it: within one transaction the old row is revoked and a new one
// inserted, and a fresh access+refresh pair is returned. The old token
// cannot be used again after this call.
func (e *Engine) Refresh(ctx context.Context, refreshToken string) (TokenPair, error) {
	tenant, err := e.verify(ctx, refreshToken, func(t catalog.Tenant) (string, error) { return t.JWTRefreshSecret, nil })
	if err != nil {
		return TokenPair{}, err
	}

	oldHash := sha256Hex(refreshToken)
	row, err := e.store.GetRefreshToken(ctx, oldHash)
	if err != nil || row.Revoked || e.now().After(row.ExpiresAt) || row.TenantID != tenant.ID {
		return TokenPair{}, ErrTokenInvalidOrExpired
	}

	refreshSecret, err := e.sealer.Open(tenant.JWTRefreshSecret)
	if err != nil {
		return TokenPair{}, err
	}
	accessSecret, err := e.sealer.Open(tenant.JWTSecret)
	if err != nil {
		return TokenPair{}, err
	}

	now := e.now()
	newAccess, err := signToken(tenant.ID, tenant.Email, now, e.accessTTL, accessSecret)
	if err != nil {
		return TokenPair{}, err
	}
	newRefresh, err := signToken(tenant.ID, tenant.Email, now, e.refreshTTL, refreshSecret)
	if err != nil {
		return TokenPair{}, err
	}

	if err := e.store.RotateRefreshToken(ctx, tenant.ID, oldHash, catalog.RefreshToken{
		TokenHash: sha256Hex(newRefresh),
		TenantID:  tenant.ID,
		ExpiresAt: now.Add(e.refreshTTL),
	}); err != nil {
		if errors.Is(err, catalog.ErrNotFound) {
			return TokenPair{}, ErrTokenInvalidOrExpired
		}
		return TokenPair{}, err
	}

	return TokenPair{AccessToken: newAccess, RefreshToken: newRefresh, ExpiresIn: int64(e.accessTTL.Seconds())}, nil
}

// RevokeOne logs a single refresh token out.
func (e *Engine) RevokeOne(ctx context.Context, refreshToken string) error {
	return e.store.RevokeRefreshToken(ctx, sha256Hex(refreshToken))
}

// RevokeAll logs a tenant out everywhere.
func (e *Engine) RevokeAll(ctx context.Context, tenantID string) error {
	return e.store.RevokeAllRefreshTokens(ctx, tenantID)
}

// Login runs the guard chain in order: tenant exists, email verified,
// status active, password matches — then issues tokens.
func (e *Engine) Login(ctx context.Context, email, password string) (TokenPair, catalog.Tenant, error) {
	tenant, err := e.store.GetTenantByEmail(ctx, email)
	if err != nil {
		return TokenPair{}, catalog.Tenant{}, ErrInvalidCredentials
	}
	if !tenant.EmailVerified {
		return TokenPair{}, catalog.Tenant{}, ErrEmailNotVerified
	}
	if tenant.Status != catalog.StatusActive {
		return TokenPair{}, catalog.Tenant{}, ErrAccountNotActive
	}
	if !crypto.VerifyPassword(password, tenant.PasswordHash) {
		return TokenPair{}, catalog.Tenant{}, ErrInvalidCredentials
	}
	pair, err := e.IssueTokenPair(ctx, tenant)
	return pair, tenant, err
}

// RequestEmailVerification creates a new verification row for tenantID,
// idempotent in the sense that the latest row always wins at verify time.
func (e *Engine) RequestEmailVerification(ctx context.Context, tenantID, issuerIP, issuerUA string) (catalog.EmailVerification, error) {
	token, err := randomHexToken(verificationTokenBytes)
	if err != nil {
		return catalog.EmailVerification{}, err
	}
	return e.store.CreateEmailVerification(ctx, catalog.EmailVerification{
		ID:        uuid.NewString(),
		TenantID:  tenantID,
		Token:     token,
		ExpiresAt: e.now().Add(verificationTTL),
		IssuerIP:  issuerIP,
		IssuerUA:  issuerUA,
	})
}

// ResendVerification re-issues a verification token for email, rate
// limited to resendLimit attempts per rolling hour.
func (e *Engine) ResendVerification(ctx context.Context, email, issuerIP, issuerUA string, resendLimit int) (catalog.EmailVerification, error) {
	tenant, err := e.store.GetTenantByEmail(ctx, email)
	if err != nil {
		return catalog.EmailVerification{}, ErrInvalidCredentials
	}
	if resendLimit <= 0 {
		resendLimit = defaultResendPerHour
	}

	since := e.now().Add(-time.Hour)
	count, err := e.store.CountVerificationAttemptsSince(ctx, tenant.ID, since)
	if err != nil {
		return catalog.EmailVerification{}, err
	}
	if count >= resendLimit {
		latest, err := e.store.LatestVerificationAttempt(ctx, tenant.ID)
		if err != nil {
			return catalog.EmailVerification{}, err
		}
		return catalog.EmailVerification{}, &RateLimitedError{
			Err:        ErrResendRateLimited,
			RetryAfter: latest.Add(time.Hour).Sub(e.now()),
		}
	}

	return e.RequestEmailVerification(ctx, tenant.ID, issuerIP, issuerUA)
}

var tokenFormat = regexp.MustCompile(`^[0-9a-f]{64}$`)

// VerifyEmail validates token format, rejects malformed tokens, treats an
// already-verified tenant as an idempotent success, rejects expired
// tokens, and otherwise activates the tenant and marks the row verified in
// one transaction.
func (e *Engine) VerifyEmail(ctx context.Context, token string) error {
	if !tokenFormat.MatchString(token) {
		return ErrVerificationMalformed
	}

	ev, err := e.store.GetLatestEmailVerificationByToken(ctx, token)
	if err != nil {
		return ErrTokenInvalidOrExpired
	}

	if ev.VerifiedAt != nil {
		return nil // already verified; idempotent replay
	}

	tenant, err := e.store.GetTenantByID(ctx, ev.TenantID)
	if err != nil {
		return ErrTokenInvalidOrExpired
	}
	if tenant.EmailVerified {
		return nil // tenant already active via a different verification row
	}

	if e.now().After(ev.ExpiresAt) {
		return ErrVerificationExpired
	}

	return e.store.MarkEmailVerified(ctx, ev.ID, ev.TenantID, e.now())
}

func sha256Hex(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])
}

func randomHexToken(n int) (string, error) {
	return crypto.RandomToken(n)
}

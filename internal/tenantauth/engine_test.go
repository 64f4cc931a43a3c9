package tenantauth

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/prk2007/ragvault/internal/catalog"
	"github.com/prk2007/ragvault/internal/crypto"
)

func newTestEngine(t *testing.T) (*Engine, catalog.Store) {
	t.Helper()
	var key [32]byte
	copy(key[:], []byte("0123456789abcdef0123456789abcdef"))
	sealer, err := crypto.NewSealer(key)
	require.NoError(t, err)

	store := catalog.NewMemoryStore()
	e := NewEngine(store, sealer, time.Hour, 7*24*time.Hour)
	return e, store
}

func mustCreateTenant(t *testing.T, e *Engine, store catalog.Store, email string) catalog.Tenant {
	t.Helper()
	sealedAccess, sealedRefresh, err := e.GenerateTenantSecrets()
	require.NoError(t, err)

	hash, err := crypto.HashPassword("Abcd1234!")
	require.NoError(t, err)

	tenant := catalog.Tenant{
		ID:               "tenant-" + email,
		Email:            email,
		PasswordHash:     hash,
		JWTSecret:        sealedAccess,
		JWTRefreshSecret: sealedRefresh,
		APIKey:           "key-" + email,
		Status:           catalog.StatusActive,
		EmailVerified:    true,
		Config:           catalog.TenantConfig{},
	}
	require.NoError(t, store.CreateTenant(context.Background(), tenant))
	return tenant
}

func TestIssueAndVerifyAccessToken(t *testing.T) {
	e, store := newTestEngine(t)
	tenant := mustCreateTenant(t, e, store, "a@x.com")

	pair, err := e.IssueTokenPair(context.Background(), tenant)
	require.NoError(t, err)
	require.NotEmpty(t, pair.AccessToken)
	require.NotEmpty(t, pair.RefreshToken)

	got, err := e.VerifyAccessToken(context.Background(), pair.AccessToken)
	require.NoError(t, err)
	require.Equal(t, tenant.ID, got.ID)
}

func TestCrossTenantSecretSwapFails(t *testing.T) {
	e, store := newTestEngine(t)
	tenantA := mustCreateTenant(t, e, store, "a@x.com")
	tenantB := mustCreateTenant(t, e, store, "b@x.com")

	pairA, err := e.IssueTokenPair(context.Background(), tenantA)
	require.NoError(t, err)

	got, err := e.VerifyAccessToken(context.Background(), pairA.AccessToken)
	require.NoError(t, err)
	require.Equal(t, tenantA.ID, got.ID)

	// Forging sub=tenantB against a token actually signed by tenantA's
	// secret is exactly what VerifyAccessToken must reject: it loads
	// tenant B's secret (from the forged sub) and the signature made with
	// tenant A's secret will not validate against it.
	secretA, err := e.sealer.Open(tenantA.JWTSecret)
	require.NoError(t, err)
	forged, err := signToken(tenantB.ID, tenantB.Email, time.Now(), time.Hour, secretA)
	require.NoError(t, err)
	_, err = e.VerifyAccessToken(context.Background(), forged)
	require.ErrorIs(t, err, ErrTokenInvalidOrExpired)
}

func TestRefreshRotation_OldTokenCannotBeReused(t *testing.T) {
	e, store := newTestEngine(t)
	tenant := mustCreateTenant(t, e, store, "a@x.com")

	pair1, err := e.IssueTokenPair(context.Background(), tenant)
	require.NoError(t, err)

	pair2, err := e.Refresh(context.Background(), pair1.RefreshToken)
	require.NoError(t, err)
	require.NotEqual(t, pair1.RefreshToken, pair2.RefreshToken)

	_, err = e.Refresh(context.Background(), pair1.RefreshToken)
	require.ErrorIs(t, err, ErrTokenInvalidOrExpired)

	pair3, err := e.Refresh(context.Background(), pair2.RefreshToken)
	require.NoError(t, err)
	require.NotEmpty(t, pair3.AccessToken)

	_ = store
}

func TestLoginGuards(t *testing.T) {
	e, store := newTestEngine(t)
	ctx := context.Background()

	hash, err := crypto.HashPassword("Abcd1234!")
	require.NoError(t, err)
	sealedAccess, sealedRefresh, err := e.GenerateTenantSecrets()
	require.NoError(t, err)

	unverified := catalog.Tenant{
		ID: "t-unverified", Email: "u@x.com", PasswordHash: hash,
		JWTSecret: sealedAccess, JWTRefreshSecret: sealedRefresh,
		APIKey: "k1", Status: catalog.StatusPendingVerification, EmailVerified: false,
	}
	require.NoError(t, store.CreateTenant(ctx, unverified))

	_, _, err = e.Login(ctx, "u@x.com", "Abcd1234!")
	require.ErrorIs(t, err, ErrEmailNotVerified)

	active := catalog.Tenant{
		ID: "t-active", Email: "v@x.com", PasswordHash: hash,
		JWTSecret: sealedAccess, JWTRefreshSecret: sealedRefresh,
		APIKey: "k2", Status: catalog.StatusActive, EmailVerified: true,
	}
	require.NoError(t, store.CreateTenant(ctx, active))

	_, _, err = e.Login(ctx, "v@x.com", "wrong-password")
	require.ErrorIs(t, err, ErrInvalidCredentials)

	pair, got, err := e.Login(ctx, "v@x.com", "Abcd1234!")
	require.NoError(t, err)
	require.Equal(t, active.ID, got.ID)
	require.NotEmpty(t, pair.AccessToken)
}

func TestVerifyEmail_IdempotentReplay(t *testing.T) {
	e, store := newTestEngine(t)
	ctx := context.Background()
	tenant := mustCreateTenant(t, e, store, "a@x.com")

	ev, err := e.RequestEmailVerification(ctx, tenant.ID, "127.0.0.1", "test-agent")
	require.NoError(t, err)

	require.NoError(t, e.VerifyEmail(ctx, ev.Token))
	// replay
	require.NoError(t, e.VerifyEmail(ctx, ev.Token))
}

func TestVerifyEmail_MalformedToken(t *testing.T) {
	e, _ := newTestEngine(t)
	err := e.VerifyEmail(context.Background(), "not-hex")
	require.ErrorIs(t, err, ErrVerificationMalformed)
}

func TestResendVerification_RateLimited(t *testing.T) {
	e, store := newTestEngine(t)
	ctx := context.Background()
	mustCreateTenant(t, e, store, "a@x.com")

	for i := 0; i < 3; i++ {
		_, err := e.ResendVerification(ctx, "a@x.com", "127.0.0.1", "ua", 3)
		require.NoError(t, err)
	}
	_, err := e.ResendVerification(ctx, "a@x.com", "127.0.0.1", "ua", 3)
	require.Error(t, err)
	var rl *RateLimitedError
	require.ErrorAs(t, err, &rl)
}

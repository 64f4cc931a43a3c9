package config

import (
	"encoding/hex"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func clearEnv(t *testing.T) {
	t.Helper()
	keys := []string{
		"MASTER_ENCRYPTION_KEY", "PORT", "DB_HOST", "DB_PORT", "DB_USER",
		"DB_PASSWORD", "DB_NAME", "REDIS_HOST", "REDIS_PORT", "REDIS_PASSWORD",
		"BLOB_ENDPOINT", "BLOB_REGION", "BLOB_ACCESS_KEY", "BLOB_SECRET_KEY",
		"BLOB_BUCKET", "BLOB_USE_SSL", "BLOB_FORCE_PATH_STYLE",
		"ACCESS_TOKEN_TTL", "REFRESH_TOKEN_TTL",
		"DEFAULT_RATE_LIMIT_PER_MINUTE", "DEFAULT_RATE_LIMIT_PER_DAY",
		"DEFAULT_MAX_DOCUMENTS", "DEFAULT_MAX_FILE_SIZE_MB",
		"EMAIL_RESEND_LIMIT_PER_HOUR", "FRONTEND_URL", "ALLOWED_ORIGINS",
		"VECTOR_BACKEND", "EMBEDDER_PROVIDER",
	}
	for _, k := range keys {
		t.Setenv(k, "")
		os.Unsetenv(k)
	}
}

func randomKeyHex() string {
	b := make([]byte, 32)
	for i := range b {
		b[i] = byte(i)
	}
	return hex.EncodeToString(b)
}

func TestLoad_RequiresMasterKey(t *testing.T) {
	clearEnv(t)
	_, err := Load()
	require.Error(t, err)
	require.Contains(t, err.Error(), "MASTER_ENCRYPTION_KEY")
}

func TestLoad_RejectsWrongKeyLength(t *testing.T) {
	clearEnv(t)
	t.Setenv("MASTER_ENCRYPTION_KEY", "deadbeef")
	_, err := Load()
	require.Error(t, err)
}

func TestLoad_Defaults(t *testing.T) {
	clearEnv(t)
	t.Setenv("MASTER_ENCRYPTION_KEY", randomKeyHex())

	cfg, err := Load()
	require.NoError(t, err)

	require.Equal(t, 8080, cfg.Port)
	require.Equal(t, "localhost", cfg.DB.Host)
	require.Equal(t, 5432, cfg.DB.Port)
	require.Equal(t, 24*time.Hour, cfg.AccessTokenTTL)
	require.Equal(t, 7*24*time.Hour, cfg.RefreshTokenTTL)
	require.Equal(t, 60, cfg.DefaultRateLimitPerMinute)
	require.Equal(t, 10000, cfg.DefaultRateLimitPerDay)
	require.Equal(t, []string{"*"}, cfg.AllowedOrigins)
	require.Equal(t, "postgres", cfg.VectorBackend)
}

func TestLoad_OverridesFromEnv(t *testing.T) {
	clearEnv(t)
	t.Setenv("MASTER_ENCRYPTION_KEY", randomKeyHex())
	t.Setenv("PORT", "9090")
	t.Setenv("DB_HOST", "db.internal")
	t.Setenv("ALLOWED_ORIGINS", "https://a.example, https://b.example")
	t.Setenv("ACCESS_TOKEN_TTL", "1h")
	t.Setenv("VECTOR_BACKEND", "qdrant")

	cfg, err := Load()
	require.NoError(t, err)

	require.Equal(t, 9090, cfg.Port)
	require.Equal(t, "db.internal", cfg.DB.Host)
	require.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.AllowedOrigins)
	require.Equal(t, time.Hour, cfg.AccessTokenTTL)
	require.Equal(t, "qdrant", cfg.VectorBackend)
}

func TestDatabaseConfig_DSN(t *testing.T) {
	d := DatabaseConfig{Host: "h", Port: 5432, User: "u", Password: "p", Name: "n"}
	require.Equal(t, "postgres://u:p@h:5432/n?sslmode=disable", d.DSN())
}

func TestRedisConfig_Addr(t *testing.T) {
	r := RedisConfig{Host: "h", Port: 6379}
	require.Equal(t, "h:6379", r.Addr())
}

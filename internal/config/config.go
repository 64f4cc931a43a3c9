// Package config loads process configuration from environment variables
// (optionally via a local .env file), applying the defaults from §6.1.
package config

import (
	"encoding/hex"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config is the fully-resolved process configuration.
type Config struct {
	Port int

	MasterEncryptionKey [32]byte

	DB    DatabaseConfig
	Redis RedisConfig
	Blob  BlobConfig

	AccessTokenTTL  time.Duration
	RefreshTokenTTL time.Duration

	DefaultRateLimitPerMinute int
	DefaultRateLimitPerDay    int
	DefaultMaxDocuments       int
	DefaultMaxFileSizeMB      int

	EmailResendLimitPerHour int
	FrontendURL             string

	AllowedOrigins []string

	VectorBackend string // "postgres" | "qdrant"
	QdrantAddr    string // host:port, used only when VectorBackend == "qdrant"

	EmbedderProvider       string // "openai" | "deterministic"
	PlatformEmbedderAPIKey string // fallback key used when a tenant has no key of its own

	QueueConcurrency    int
	QueueRateLimitPerSec int
}

// DatabaseConfig configures the Postgres catalog store.
type DatabaseConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	Name     string
}

// DSN renders a libpq-style connection string.
func (d DatabaseConfig) DSN() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=disable",
		d.User, d.Password, d.Host, d.Port, d.Name)
}

// RedisConfig configures the queue backend.
type RedisConfig struct {
	Host     string
	Port     int
	Password string
}

// Addr renders host:port.
func (r RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%d", r.Host, r.Port)
}

// BlobConfig configures the S3-compatible object store.
type BlobConfig struct {
	Endpoint        string
	Region          string
	AccessKey       string
	SecretKey       string
	Bucket          string
	UseSSL          bool
	ForcePathStyle  bool
}

// Load reads configuration from the environment, applying an optional local
// .env file first (values already present in the OS environment win).
func Load() (Config, error) {
	_ = godotenv.Load()

	cfg := Config{
		Port: envInt("PORT", 8080),
		DB: DatabaseConfig{
			Host:     envStr("DB_HOST", "localhost"),
			Port:     envInt("DB_PORT", 5432),
			User:     envStr("DB_USER", "postgres"),
			Password: envStr("DB_PASSWORD", ""),
			Name:     envStr("DB_NAME", "ragvault"),
		},
		Redis: RedisConfig{
			Host:     envStr("REDIS_HOST", "localhost"),
			Port:     envInt("REDIS_PORT", 6379),
			Password: envStr("REDIS_PASSWORD", ""),
		},
		Blob: BlobConfig{
			Endpoint:       envStr("BLOB_ENDPOINT", ""),
			Region:         envStr("BLOB_REGION", "us-east-1"),
			AccessKey:      envStr("BLOB_ACCESS_KEY", ""),
			SecretKey:      envStr("BLOB_SECRET_KEY", ""),
			Bucket:         envStr("BLOB_BUCKET", "ragvault"),
			UseSSL:         envBool("BLOB_USE_SSL", true),
			ForcePathStyle: envBool("BLOB_FORCE_PATH_STYLE", true),
		},
		AccessTokenTTL:            envDuration("ACCESS_TOKEN_TTL", 24*time.Hour),
		RefreshTokenTTL:           envDuration("REFRESH_TOKEN_TTL", 7*24*time.Hour),
		DefaultRateLimitPerMinute: envInt("DEFAULT_RATE_LIMIT_PER_MINUTE", 60),
		DefaultRateLimitPerDay:    envInt("DEFAULT_RATE_LIMIT_PER_DAY", 10000),
		DefaultMaxDocuments:       envInt("DEFAULT_MAX_DOCUMENTS", 10000),
		DefaultMaxFileSizeMB:      envInt("DEFAULT_MAX_FILE_SIZE_MB", 50),
		EmailResendLimitPerHour:   envInt("EMAIL_RESEND_LIMIT_PER_HOUR", 3),
		FrontendURL:               envStr("FRONTEND_URL", "http://localhost:3000"),
		AllowedOrigins:            envList("ALLOWED_ORIGINS", []string{"*"}),
		VectorBackend:             envStr("VECTOR_BACKEND", "postgres"),
		QdrantAddr:                envStr("QDRANT_ADDR", "localhost:6334"),
		EmbedderProvider:          envStr("EMBEDDER_PROVIDER", "deterministic"),
		PlatformEmbedderAPIKey:    envStr("PLATFORM_EMBEDDER_API_KEY", ""),
		QueueConcurrency:          envInt("QUEUE_CONCURRENCY", 5),
		QueueRateLimitPerSec:      envInt("QUEUE_RATE_LIMIT_PER_SEC", 10),
	}

	keyHex := envStr("MASTER_ENCRYPTION_KEY", "")
	if keyHex == "" {
		return cfg, fmt.Errorf("config: MASTER_ENCRYPTION_KEY is required")
	}
	key, err := decodeHexKey(keyHex)
	if err != nil {
		return cfg, fmt.Errorf("config: MASTER_ENCRYPTION_KEY: %w", err)
	}
	cfg.MasterEncryptionKey = key

	return cfg, nil
}

func decodeHexKey(s string) ([32]byte, error) {
	var out [32]byte
	b, err := hex.DecodeString(s)
	if err != nil {
		return out, err
	}
	if len(b) != 32 {
		return out, fmt.Errorf("expected 32 bytes (64 hex chars), got %d bytes", len(b))
	}
	copy(out[:], b)
	return out, nil
}

func envStr(key, def string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return def
}

func envInt(key string, def int) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

func envBool(key string, def bool) bool {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}

func envDuration(key string, def time.Duration) time.Duration {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return def
	}
	return d
}

func envList(key string, def []string) []string {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

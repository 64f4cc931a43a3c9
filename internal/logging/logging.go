// Package logging configures the process-wide structured logger and carries
// request/job-scoped fields through context.Context.
package logging

import (
	"context"
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

type ctxKey struct{}

// Init configures zerolog with sane defaults and returns the base logger.
// If logPath is non-empty, logs are additionally written to that file
// (append mode); if the file cannot be opened, logging falls back to stdout.
func Init(logPath string, level string) zerolog.Logger {
	zerolog.TimeFieldFormat = time.RFC3339Nano

	var w io.Writer = os.Stdout
	if logPath != "" {
		if f, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644); err == nil {
			w = io.MultiWriter(os.Stdout, f)
		}
	}

	lvl := zerolog.InfoLevel
	if level = strings.ToLower(strings.TrimSpace(level)); level != "" {
		if parsed, err := zerolog.ParseLevel(level); err == nil {
			lvl = parsed
		}
	}
	zerolog.SetGlobalLevel(lvl)

	return zerolog.New(w).With().Timestamp().Logger()
}

// WithLogger attaches l to ctx, to be retrieved with FromContext.
func WithLogger(ctx context.Context, l zerolog.Logger) context.Context {
	return context.WithValue(ctx, ctxKey{}, l)
}

// FromContext returns the logger attached to ctx, or a disabled logger if
// none was attached.
func FromContext(ctx context.Context) zerolog.Logger {
	if l, ok := ctx.Value(ctxKey{}).(zerolog.Logger); ok {
		return l
	}
	return zerolog.Nop()
}

// sensitiveKeys lists JSON field names that must never appear verbatim in a
// log line; matched case-insensitively, and by substring so header forms
// like "X-Api-Key" are also caught.
var sensitiveKeys = []string{
	"api_key", "apikey", "authorization", "auth", "token", "password",
	"secret", "bearer", "jwt_secret", "jwt_refresh_secret",
}

// Redact returns a copy of v with sensitive map keys replaced, for safe
// inclusion in a log event. Used whenever request/response payloads that may
// carry tenant secrets are logged (never passwords or decrypted JWT secrets,
// per the password-secrecy invariant).
func Redact(v any) any {
	switch val := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, vv := range val {
			if isSensitiveKey(k) {
				out[k] = "[REDACTED]"
			} else {
				out[k] = Redact(vv)
			}
		}
		return out
	case []any:
		out := make([]any, len(val))
		for i := range val {
			out[i] = Redact(val[i])
		}
		return out
	default:
		return v
	}
}

func isSensitiveKey(k string) bool {
	low := strings.ToLower(k)
	for _, s := range sensitiveKeys {
		if strings.Contains(low, s) {
			return true
		}
	}
	return false
}

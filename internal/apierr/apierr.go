// Package apierr is the single edge-translation point between internal
// errors and the taxonomy the HTTP and MCP surfaces expose to clients.
// Background workers never import this package: they annotate
// Document.ErrorMessage and UsageMetric.Metadata["error"] directly instead
// of translating to HTTP.
package apierr

import (
	"errors"
	"fmt"
	"time"
)

// Tag is the stable, machine-readable error identifier returned to clients.
type Tag string

const (
	TagValidation         Tag = "validation_error"
	TagAuth               Tag = "auth_error"
	TagForbidden          Tag = "forbidden"
	TagNotFound           Tag = "not_found"
	TagConflict           Tag = "conflict"
	TagRateLimited        Tag = "rate_limited"
	TagInternal           Tag = "internal_error"
	TagServiceUnavailable Tag = "service_unavailable"
)

// Error is the common shape every taxonomy entry implements: a stable tag,
// an HTTP status, a client-safe message, and an optional cause kept out of
// the client-visible body.
type Error struct {
	Tag        Tag
	Status     int
	Message    string
	Fields     []string // field-level validation errors, e.g. password rules
	RetryAfter time.Duration
	cause      error
}

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("apierr: %s: %v", e.Tag, e.cause)
	}
	return fmt.Sprintf("apierr: %s: %s", e.Tag, e.Message)
}

func (e *Error) Unwrap() error { return e.cause }

func newErr(tag Tag, status int, message string, cause error) *Error {
	return &Error{Tag: tag, Status: status, Message: message, cause: cause}
}

// Validation wraps a 400: missing/invalid fields, malformed token format,
// unsupported doc_type, oversized file, URL parse failure.
func Validation(message string, fields ...string) *Error {
	e := newErr(TagValidation, 400, message, nil)
	e.Fields = fields
	return e
}

// Auth wraps a 401: bad credentials, invalid/expired access token,
// invalid/revoked refresh token, missing bearer.
func Auth(message string, cause error) *Error { return newErr(TagAuth, 401, message, cause) }

// Forbidden wraps a 403: unverified email, non-active status, disabled
// feature.
func Forbidden(message string) *Error { return newErr(TagForbidden, 403, message, nil) }

// NotFound wraps a 404: absent tenant/document under the requesting
// tenant's own scope.
func NotFound(message string) *Error { return newErr(TagNotFound, 404, message, nil) }

// Conflict wraps a 409: duplicate email, duplicate content hash.
func Conflict(message string) *Error { return newErr(TagConflict, 409, message, nil) }

// RateLimited wraps a 429 carrying how long the caller should wait.
func RateLimited(message string, retryAfter time.Duration) *Error {
	e := newErr(TagRateLimited, 429, message, nil)
	e.RetryAfter = retryAfter
	return e
}

// Internal wraps a 500. The underlying cause is logged server-side; the
// client sees only the generic message.
func Internal(cause error) *Error {
	return newErr(TagInternal, 500, "an internal error occurred", cause)
}

// ServiceUnavailable wraps a 503: catalog or queue backend unhealthy.
func ServiceUnavailable(message string, cause error) *Error {
	return newErr(TagServiceUnavailable, 503, message, cause)
}

// As extracts an *Error from err, translating unrecognized errors to a 500
// Internal wrapping the original cause. This is the single function
// internal/httpapi and internal/mcp call to translate any error at the
// edge.
func As(err error) *Error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		return e
	}
	return Internal(err)
}

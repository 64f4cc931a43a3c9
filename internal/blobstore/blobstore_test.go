package blobstore

import (
	"context"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestSanitizeFilename_ReplacesUnsafeCharacters(t *testing.T) {
	require.Equal(t, "my_report__2024_.pdf", SanitizeFilename("my report (2024).pdf"))
	require.Equal(t, ".._.._etc_passwd", SanitizeFilename("../../etc/passwd"))
	require.Equal(t, "unnamed", SanitizeFilename(""))
}

func TestKey_IsContentAddressedByTenantAndDocument(t *testing.T) {
	require.Equal(t, "tenant-a/documents/doc-1/report.pdf", Key("tenant-a", "doc-1", "report.pdf"))
}

func TestMemoryStore_PutGetRoundTrip(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	require.NoError(t, s.Put(ctx, "tenant-a/documents/d1/a.txt", strings.NewReader("hello"), "text/plain"))

	r, attrs, err := s.Get(ctx, "tenant-a/documents/d1/a.txt")
	require.NoError(t, err)
	defer r.Close()
	data, err := io.ReadAll(r)
	require.NoError(t, err)
	require.Equal(t, "hello", string(data))
	require.Equal(t, int64(5), attrs.Size)
	require.Equal(t, "text/plain", attrs.ContentType)
}

func TestMemoryStore_GetMissingReturnsErrNotFound(t *testing.T) {
	s := NewMemoryStore()
	_, _, err := s.Get(context.Background(), "missing")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestMemoryStore_DeleteIsIdempotent(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	require.NoError(t, s.Put(ctx, "k", strings.NewReader("x"), ""))
	require.NoError(t, s.Delete(ctx, "k"))
	require.NoError(t, s.Delete(ctx, "k"))

	_, err := s.Head(ctx, "k")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestMemoryStore_PresignGetRequiresExistingKey(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	require.NoError(t, s.Put(ctx, "k", strings.NewReader("x"), ""))

	url, err := s.PresignGet(ctx, "k", 10*time.Minute)
	require.NoError(t, err)
	require.Contains(t, url, "k")

	_, err = s.PresignGet(ctx, "missing", 10*time.Minute)
	require.ErrorIs(t, err, ErrNotFound)
}

func TestClampTTL_BoundsToOneHour(t *testing.T) {
	require.Equal(t, maxPresignTTL, clampTTL(2*time.Hour))
	require.Equal(t, maxPresignTTL, clampTTL(0))
	require.Equal(t, 5*time.Minute, clampTTL(5*time.Minute))
}

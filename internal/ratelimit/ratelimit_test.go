package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/prk2007/ragvault/internal/catalog"
)

func TestLimiter_AllowsUpToPerMinuteThenRejects(t *testing.T) {
	store := catalog.NewMemoryStore()
	l := New(store)
	ctx := context.Background()
	limits := Limits{PerMinute: 5, PerDay: 10000}

	for i := 0; i < 5; i++ {
		d, err := l.Check(ctx, "tenant-1", "/api/documents", limits)
		require.NoError(t, err)
		require.True(t, d.Allowed, "request %d should be allowed", i+1)
	}

	d, err := l.Check(ctx, "tenant-1", "/api/documents", limits)
	require.NoError(t, err)
	require.False(t, d.Allowed)
	require.LessOrEqual(t, d.RetryAfter.Seconds(), float64(60))
	require.Equal(t, 0, d.RemainingMinute)
}

func TestLimiter_PerEndpointIsolation(t *testing.T) {
	store := catalog.NewMemoryStore()
	l := New(store)
	ctx := context.Background()
	limits := Limits{PerMinute: 1, PerDay: 10000}

	d1, err := l.Check(ctx, "tenant-1", "/api/documents", limits)
	require.NoError(t, err)
	require.True(t, d1.Allowed)

	d2, err := l.Check(ctx, "tenant-1", "/api/documents/search", limits)
	require.NoError(t, err)
	require.True(t, d2.Allowed, "a different endpoint has its own window")
}

func TestLimiter_PerTenantIsolation(t *testing.T) {
	store := catalog.NewMemoryStore()
	l := New(store)
	ctx := context.Background()
	limits := Limits{PerMinute: 1, PerDay: 10000}

	d1, err := l.Check(ctx, "tenant-1", "/api/documents", limits)
	require.NoError(t, err)
	require.True(t, d1.Allowed)

	d2, err := l.Check(ctx, "tenant-2", "/api/documents", limits)
	require.NoError(t, err)
	require.True(t, d2.Allowed, "a different tenant has its own window")
}

func TestLimiter_PerDayLimitCapsRetryAfterAtOneHour(t *testing.T) {
	store := catalog.NewMemoryStore()
	l := New(store)
	ctx := context.Background()
	limits := Limits{PerMinute: 10000, PerDay: 2}

	for i := 0; i < 2; i++ {
		d, err := l.Check(ctx, "tenant-1", "/api/documents", limits)
		require.NoError(t, err)
		require.True(t, d.Allowed)
	}

	d, err := l.Check(ctx, "tenant-1", "/api/documents", limits)
	require.NoError(t, err)
	require.False(t, d.Allowed)
	require.Equal(t, 0, d.RemainingDay)
	require.Equal(t, time.Hour, d.RetryAfter)
}

func TestUsageTracker_RecordSwallowsNothingOnSuccess(t *testing.T) {
	store := catalog.NewMemoryStore()
	u := NewUsageTracker(store)
	u.Record(context.Background(), catalog.UsageMetric{
		TenantID: "tenant-1",
		Type:     catalog.MetricAPICall,
		Value:    1,
	})

	total, err := store.SumUsage(context.Background(), "tenant-1", catalog.MetricAPICall, time.Time{})
	require.NoError(t, err)
	require.Equal(t, float64(1), total)
}

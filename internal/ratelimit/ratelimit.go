// Package ratelimit implements the sliding-window per-tenant per-endpoint
// request limiter and the usage-metric writer. Both ride on top of
// internal/catalog: the catalog rows are the source of truth, there is no
// separate in-memory limiter state to keep consistent across replicas.
package ratelimit

import (
	"context"
	"time"

	"github.com/prk2007/ragvault/internal/catalog"
	"github.com/prk2007/ragvault/internal/logging"
)

// Limits is the per-tenant ceiling checked on every authenticated request.
type Limits struct {
	PerMinute int
	PerDay    int
}

// Decision is the outcome of one Check call.
type Decision struct {
	Allowed         bool
	RemainingMinute int
	RemainingDay    int
	ResetMinute     time.Time // when the current minute bucket rolls over
	RetryAfter      time.Duration
}

// Limiter enforces Limits.PerMinute/PerDay over rolling 60s/24h windows
// backed by catalog.RateLimitWindow rows.
type Limiter struct {
	store catalog.Store
	now   func() time.Time
}

func New(store catalog.Store) *Limiter {
	return &Limiter{store: store, now: time.Now}
}

// Check sums request counts over the last minute and the last 24h for
// (tenantID, endpoint). If under both limits, it upserts the current
// minute-aligned bucket and reports the request as counted; otherwise it
// reports RateLimited and does not increment anything (a rejected request
// does not itself consume quota).
func (l *Limiter) Check(ctx context.Context, tenantID, endpoint string, limits Limits) (Decision, error) {
	now := l.now()

	minuteCount, err := l.store.SumRequestCount(ctx, tenantID, endpoint, now.Add(-time.Minute))
	if err != nil {
		return Decision{}, err
	}
	dayCount, err := l.store.SumRequestCount(ctx, tenantID, endpoint, now.Add(-24*time.Hour))
	if err != nil {
		return Decision{}, err
	}

	windowStart := now.Truncate(time.Minute)
	resetAt := windowStart.Add(time.Minute)

	if minuteCount >= limits.PerMinute {
		return Decision{
			Allowed:         false,
			RemainingMinute: 0,
			RemainingDay:    max0(limits.PerDay - dayCount),
			ResetMinute:     resetAt,
			RetryAfter:      resetAt.Sub(now),
		}, nil
	}
	if dayCount >= limits.PerDay {
		retryAfter := 24 * time.Hour
		if retryAfter > time.Hour {
			retryAfter = time.Hour // cap the reported wait so a day-quota rejection doesn't ask clients to sleep 24h
		}
		return Decision{
			Allowed:         false,
			RemainingMinute: max0(limits.PerMinute - minuteCount),
			RemainingDay:    0,
			ResetMinute:     resetAt,
			RetryAfter:      retryAfter,
		}, nil
	}

	if err := l.store.IncrementRateLimitWindow(ctx, tenantID, endpoint, windowStart, resetAt); err != nil {
		return Decision{}, err
	}

	return Decision{
		Allowed:         true,
		RemainingMinute: max0(limits.PerMinute - minuteCount - 1),
		RemainingDay:    max0(limits.PerDay - dayCount - 1),
		ResetMinute:     resetAt,
	}, nil
}

func max0(n int) int {
	if n < 0 {
		return 0
	}
	return n
}

// UsageTracker records usage metrics after a response has already been
// sent. Write failures are logged and swallowed: usage accounting never
// fails the user-facing action.
type UsageTracker struct {
	store catalog.Store
}

func NewUsageTracker(store catalog.Store) *UsageTracker {
	return &UsageTracker{store: store}
}

func (u *UsageTracker) Record(ctx context.Context, m catalog.UsageMetric) {
	if m.Timestamp.IsZero() {
		m.Timestamp = time.Now()
	}
	if err := u.store.RecordUsageMetric(ctx, m); err != nil {
		logging.FromContext(ctx).Error().Err(err).
			Str("tenant_id", m.TenantID).
			Str("metric_type", string(m.Type)).
			Msg("usage metric write failed")
	}
}

// PruneLoop periodically removes rate-limit windows older than 24h. Callers
// run it in a background goroutine for the process lifetime.
func PruneLoop(ctx context.Context, store catalog.Store, interval time.Duration) {
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			if _, err := store.PruneRateLimitWindows(ctx, time.Now().Add(-24*time.Hour)); err != nil {
				logging.FromContext(ctx).Error().Err(err).Msg("rate limit window prune failed")
			}
		}
	}
}

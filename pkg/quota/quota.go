// Package quota implements the Quota Tracker: per-provider daily/hourly
// token and request counters with atomic increments.
package quota

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"
)

// Period distinguishes the two counter windows tracked per provider.
type Period string

const (
	PeriodDaily  Period = "daily"
	PeriodHourly Period = "hourly"
)

// warnThresholds are logged but never deny a request.
var warnThresholds = []float64{0.75, 0.90}

// Limits caps token and request usage for one provider across both periods.
type Limits struct {
	DailyTokens    int64
	DailyRequests  int64
	HourlyTokens   int64
	HourlyRequests int64
}

// Usage is a point-in-time read of a provider's counters for both periods.
type Usage struct {
	DailyTokens    int64
	DailyRequests  int64
	HourlyTokens   int64
	HourlyRequests int64
}

// UtilizationRatio reports the highest fraction of any configured cap
// currently consumed, used by the health endpoint's "quota below 100%" check.
func (u Usage) UtilizationRatio(limits Limits) float64 {
	ratio := 0.0
	bump := func(used, cap int64) {
		if cap <= 0 {
			return
		}
		r := float64(used) / float64(cap)
		if r > ratio {
			ratio = r
		}
	}
	bump(u.DailyTokens, limits.DailyTokens)
	bump(u.DailyRequests, limits.DailyRequests)
	bump(u.HourlyTokens, limits.HourlyTokens)
	bump(u.HourlyRequests, limits.HourlyRequests)
	return ratio
}

// DenyReason classifies why Check refused a request.
type DenyReason string

const (
	DenyReasonDailyTokens    DenyReason = "daily_token_cap"
	DenyReasonDailyRequests  DenyReason = "daily_request_cap"
	DenyReasonHourlyTokens   DenyReason = "hourly_token_cap"
	DenyReasonHourlyRequests DenyReason = "hourly_request_cap"
)

// Decision is the outcome of Check.
type Decision struct {
	Allowed bool
	Reason  DenyReason
}

// Tracker persists counters in the quota_counters table, keyed by
// (provider_id, period_type, period_key). Clock is injectable for testing.
type Tracker struct {
	db     *sql.DB
	limits map[string]Limits
	now    func() time.Time
}

// NewTracker constructs a Tracker with the given per-provider limits.
func NewTracker(db *sql.DB, limits map[string]Limits) *Tracker {
	return &Tracker{db: db, limits: limits, now: time.Now}
}

func dailyKey(t time.Time) string  { return t.UTC().Format("2006-01-02") }
func hourlyKey(t time.Time) string { return t.UTC().Format("2006-01-02T15") }

func periodExpiry(period Period, now time.Time) time.Time {
	if period == PeriodHourly {
		return now.UTC().Truncate(time.Hour).Add(2 * time.Hour)
	}
	y, m, d := now.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC).Add(48 * time.Hour)
}

func (t *Tracker) readCounter(ctx context.Context, provider string, period Period, key string) (tokens, requests int64, err error) {
	err = t.db.QueryRowContext(ctx, `
		SELECT tokens, requests FROM quota_counters
		WHERE provider_id = $1 AND period_type = $2 AND period_key = $3 AND expires_at > now()
	`, provider, string(period), key).Scan(&tokens, &requests)
	if err == sql.ErrNoRows {
		return 0, 0, nil
	}
	if err != nil {
		return 0, 0, fmt.Errorf("quota: read counter (%s, %s, %s): %w", provider, period, key, err)
	}
	return tokens, requests, nil
}

// Check reports whether provider's current usage is still below every
// configured cap, without mutating any counter. estimatedTokens is not
// compared against the remaining headroom. Denies are classified
// quota_exceeded by the caller (Provider Manager). Invariant:
// since Check only denies once usage has already reached a cap, a single
// Record call following an allowed Check can overshoot the cap by at most
// estimatedTokens — never by two successive overshoots.
func (t *Tracker) Check(ctx context.Context, provider string, estimatedTokens int64) (Decision, error) {
	limits, ok := t.limits[provider]
	if !ok {
		return Decision{Allowed: true}, nil
	}
	now := t.now()

	dTokens, dReqs, err := t.readCounter(ctx, provider, PeriodDaily, dailyKey(now))
	if err != nil {
		return Decision{}, err
	}
	hTokens, hReqs, err := t.readCounter(ctx, provider, PeriodHourly, hourlyKey(now))
	if err != nil {
		return Decision{}, err
	}

	switch {
	case limits.DailyTokens > 0 && dTokens >= limits.DailyTokens:
		return Decision{Allowed: false, Reason: DenyReasonDailyTokens}, nil
	case limits.DailyRequests > 0 && dReqs >= limits.DailyRequests:
		return Decision{Allowed: false, Reason: DenyReasonDailyRequests}, nil
	case limits.HourlyTokens > 0 && hTokens >= limits.HourlyTokens:
		return Decision{Allowed: false, Reason: DenyReasonHourlyTokens}, nil
	case limits.HourlyRequests > 0 && hReqs >= limits.HourlyRequests:
		return Decision{Allowed: false, Reason: DenyReasonHourlyRequests}, nil
	}

	t.logWarnings(provider, "daily", dTokens, limits.DailyTokens)
	t.logWarnings(provider, "hourly", hTokens, limits.HourlyTokens)

	return Decision{Allowed: true}, nil
}

func (t *Tracker) logWarnings(provider, period string, used, cap int64) {
	if cap <= 0 {
		return
	}
	ratio := float64(used) / float64(cap)
	for _, threshold := range warnThresholds {
		if ratio >= threshold && ratio < threshold+0.05 {
			slog.Warn("provider quota approaching cap",
				"provider", provider, "period", period, "ratio", ratio, "threshold", threshold)
		}
	}
}

// Record atomically increments a provider's daily and hourly counters by an
// actual usage amount. requests defaults to 1 when zero.
func (t *Tracker) Record(ctx context.Context, provider string, actualTokens, requests int64) error {
	if requests == 0 {
		requests = 1
	}
	now := t.now()

	if err := t.upsertIncrement(ctx, provider, PeriodDaily, dailyKey(now), actualTokens, requests, now); err != nil {
		return err
	}
	return t.upsertIncrement(ctx, provider, PeriodHourly, hourlyKey(now), actualTokens, requests, now)
}

func (t *Tracker) upsertIncrement(ctx context.Context, provider string, period Period, key string, tokens, requests int64, now time.Time) error {
	_, err := t.db.ExecContext(ctx, `
		INSERT INTO quota_counters (provider_id, period_type, period_key, tokens, requests, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (provider_id, period_type, period_key) DO UPDATE
		SET tokens = quota_counters.tokens + EXCLUDED.tokens,
		    requests = quota_counters.requests + EXCLUDED.requests,
		    expires_at = GREATEST(quota_counters.expires_at, EXCLUDED.expires_at)
	`, provider, string(period), key, tokens, requests, periodExpiry(period, now))
	if err != nil {
		return fmt.Errorf("quota: record (%s, %s, %s): %w", provider, period, key, err)
	}
	return nil
}

// Snapshot returns the current counters for both periods. Readers may
// observe a value that lags a concurrent Record, but it is never negative.
func (t *Tracker) Snapshot(ctx context.Context, provider string) (Usage, error) {
	now := t.now()
	var usage Usage
	var err error
	usage.DailyTokens, usage.DailyRequests, err = t.readCounter(ctx, provider, PeriodDaily, dailyKey(now))
	if err != nil {
		return usage, err
	}
	usage.HourlyTokens, usage.HourlyRequests, err = t.readCounter(ctx, provider, PeriodHourly, hourlyKey(now))
	if err != nil {
		return usage, err
	}
	return usage, nil
}

// Reset zeroes every live counter for a provider. Used by operators and by
// tests that need a clean quota state.
func (t *Tracker) Reset(ctx context.Context, provider string) error {
	_, err := t.db.ExecContext(ctx, `DELETE FROM quota_counters WHERE provider_id = $1`, provider)
	if err != nil {
		return fmt.Errorf("quota: reset %q: %w", provider, err)
	}
	return nil
}

// Limits returns the configured caps for provider, or the zero value (no
// caps enforced) if the provider is unconfigured.
func (t *Tracker) Limits(provider string) Limits {
	return t.limits[provider]
}

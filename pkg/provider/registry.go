// Package provider implements the Provider Registry, the error Classifier,
// and the Provider Manager that ties them together.
package provider

import (
	"errors"
	"sync"
	"time"

	"github.com/sony/gobreaker"
)

// defaultBlacklistDuration is the cooldown applied after a service-crash
// class failure.
// It doubles as the gobreaker open→half-open Timeout so the breaker's own
// recovery probe lines up with the configured cooldown.
const defaultBlacklistDuration = 5 * time.Minute

// errServiceCrash is the sentinel fed into each provider's breaker to drive
// its trip counting; the breaker never sees or classifies the real error,
// only whether this call-site counted as a crash-class failure.
var errServiceCrash = errors.New("provider: service crash class failure")

// Health is a snapshot of one provider's failover state, mirroring the
// ProviderHealth record.
type Health struct {
	ProviderID          string
	IsPrimary           bool
	ConsecutiveFailures int
	BlacklistedUntil    time.Time
	SuccessCount        int64
	FailureCount        int64
	CircuitState        string
}

func (h Health) blacklisted(now time.Time) bool {
	return !h.BlacklistedUntil.IsZero() && now.Before(h.BlacklistedUntil)
}

// entry is the registry's mutable per-provider state, guarded by its own lock
// so selection never blocks on an unrelated provider's update. breaker is the
// gobreaker state machine that actually decides trip/reset on service-crash
// class failures; BlacklistedUntil above remains the source of truth Select()
// reads, kept on the registry's own (test-injectable) clock.
type entry struct {
	mu      sync.Mutex
	health  Health
	breaker *gobreaker.CircuitBreaker[struct{}]
}

// newBreaker builds the per-provider circuit breaker. It trips on the very
// first reported crash-class failure ( has no "N consecutive
// failures" grace window) and probes again after blacklistDuration.
func newBreaker(providerID string, blacklistDuration time.Duration, onChange func(from, to gobreaker.State)) *gobreaker.CircuitBreaker[struct{}] {
	return gobreaker.NewCircuitBreaker[struct{}](gobreaker.Settings{
		Name:        providerID,
		MaxRequests: 1,
		Timeout:     blacklistDuration,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 1
		},
		OnStateChange: func(_ string, from, to gobreaker.State) {
			onChange(from, to)
		},
	})
}

// ErrNoProvider is returned by Select when every registered provider is
// currently blacklisted.
type ErrNoProvider struct{}

func (ErrNoProvider) Error() string { return "provider registry: no non-blacklisted provider available" }

// Registry holds an ordered list of providers with a designated primary.
// Select is a pure function of the clock and each provider's blacklist timer,
// which keeps failover behavior deterministic and testable.
type Registry struct {
	mu                sync.RWMutex
	order             []string // provider IDs in configured precedence order
	primary           string
	entries           map[string]*entry
	now               func() time.Time
	blacklistDuration time.Duration
}

// RegistryOption configures a Registry at construction.
type RegistryOption func(*Registry)

// WithBlacklistDuration overrides the default 5-minute cooldown.
func WithBlacklistDuration(d time.Duration) RegistryOption {
	return func(r *Registry) { r.blacklistDuration = d }
}

// WithPrimary overrides the default "first in list" primary selection.
func WithPrimary(providerID string) RegistryOption {
	return func(r *Registry) { r.primary = providerID }
}

// NewRegistry builds a registry from an ordered list of provider IDs. The
// first entry is the initial primary unless overridden by WithPrimary.
func NewRegistry(providerIDs []string, opts ...RegistryOption) *Registry {
	r := &Registry{
		order:             append([]string(nil), providerIDs...),
		now:               time.Now,
		blacklistDuration: defaultBlacklistDuration,
	}
	if len(providerIDs) > 0 {
		r.primary = providerIDs[0]
	}
	for _, opt := range opts {
		opt(r)
	}

	entries := make(map[string]*entry, len(providerIDs))
	for _, id := range providerIDs {
		id := id
		e := &entry{health: Health{ProviderID: id, IsPrimary: id == r.primary}}
		e.breaker = newBreaker(id, r.blacklistDuration, func(_, to gobreaker.State) {
			e.mu.Lock()
			e.health.CircuitState = to.String()
			e.mu.Unlock()
		})
		entries[id] = e
	}
	r.entries = entries
	return r
}

// Select returns the first available provider: the primary if it is not
// currently blacklisted or excluded, otherwise the first non-blacklisted,
// non-excluded secondary in configured order. exclude lets a single call's
// failover loop skip providers it has already attempted (e.g. a quota deny,
// which does not blacklist) so it advances to the next candidate instead of
// selecting the same provider forever; pass nil when no provider has been
// attempted yet. Returns ErrNoProvider if no provider is both
// non-blacklisted and non-excluded.
func (r *Registry) Select(exclude map[string]bool) (string, error) {
	r.mu.RLock()
	order := r.order
	primary := r.primary
	r.mu.RUnlock()

	now := r.now()

	if e, ok := r.entries[primary]; ok && !exclude[primary] {
		e.mu.Lock()
		available := !e.health.blacklisted(now)
		e.mu.Unlock()
		if available {
			return primary, nil
		}
	}

	for _, id := range order {
		if id == primary || exclude[id] {
			continue
		}
		e := r.entries[id]
		e.mu.Lock()
		available := !e.health.blacklisted(now)
		e.mu.Unlock()
		if available {
			return id, nil
		}
	}

	return "", ErrNoProvider{}
}

// MarkSuccess clears a provider's failure streak and records the success.
func (r *Registry) MarkSuccess(providerID string) {
	e, ok := r.entries[providerID]
	if !ok {
		return
	}
	// Report the success through the breaker first (no lock held): this
	// resets its internal counts and, from half-open, closes it again.
	_, _ = e.breaker.Execute(func() (struct{}, error) { return struct{}{}, nil })

	e.mu.Lock()
	defer e.mu.Unlock()
	e.health.ConsecutiveFailures = 0
	e.health.BlacklistedUntil = time.Time{}
	e.health.SuccessCount++
}

// FailureReason classifies why a call failed, determining whether the
// provider is blacklisted.
type FailureReason string

const (
	FailureReasonServerError FailureReason = "server_error"
	FailureReasonTimeout     FailureReason = "timeout"
	FailureReasonNetwork     FailureReason = "network"
	FailureReasonQuota       FailureReason = "quota_exceeded"
	FailureReasonAuth        FailureReason = "authentication"
	FailureReasonOther       FailureReason = "other"
)

// serviceCrashReasons blacklist the provider; the rest only count toward the
// failure streak without removing the provider from rotation.
var serviceCrashReasons = map[FailureReason]bool{
	FailureReasonServerError: true,
	FailureReasonTimeout:     true,
}

// MarkFailure records a failed call. Server-error or repeated-timeout class
// failures trip the provider's breaker and blacklist it for blacklistDuration.
func (r *Registry) MarkFailure(providerID string, reason FailureReason) {
	e, ok := r.entries[providerID]
	if !ok {
		return
	}
	if serviceCrashReasons[reason] {
		// Drives the breaker's own trip/half-open bookkeeping; Select()
		// still gates on the registry's own (test-injectable) clock below,
		// not on the breaker's real-time Timeout.
		_, _ = e.breaker.Execute(func() (struct{}, error) { return struct{}{}, errServiceCrash })
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	e.health.FailureCount++
	e.health.ConsecutiveFailures++
	if serviceCrashReasons[reason] {
		e.health.BlacklistedUntil = r.now().Add(r.blacklistDuration)
	}
}

// SwitchPrimary designates providerID as the new primary, if registered.
func (r *Registry) SwitchPrimary(providerID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.entries[providerID]; !ok {
		return
	}
	if old, ok := r.entries[r.primary]; ok {
		old.mu.Lock()
		old.health.IsPrimary = false
		old.mu.Unlock()
	}
	r.primary = providerID
	e := r.entries[providerID]
	e.mu.Lock()
	e.health.IsPrimary = true
	e.mu.Unlock()
}

// Health returns a snapshot of a single provider's state.
func (r *Registry) Health(providerID string) (Health, bool) {
	e, ok := r.entries[providerID]
	if !ok {
		return Health{}, false
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.health, true
}

// AllHealth returns a snapshot of every registered provider, in configured
// order, for the health endpoint and metrics exporter.
func (r *Registry) AllHealth() []Health {
	r.mu.RLock()
	order := r.order
	r.mu.RUnlock()

	out := make([]Health, 0, len(order))
	for _, id := range order {
		e := r.entries[id]
		e.mu.Lock()
		out = append(out, e.health)
		e.mu.Unlock()
	}
	return out
}

// AnyAvailable reports whether at least one provider is not currently
// blacklisted — the health endpoint's provider-reachability signal.
func (r *Registry) AnyAvailable() bool {
	now := r.now()
	for _, h := range r.AllHealth() {
		if !h.blacklisted(now) {
			return true
		}
	}
	return false
}

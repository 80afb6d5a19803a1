package provider

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/shopcompliance/engine/pkg/model"
	"github.com/shopcompliance/engine/pkg/quota"
)

// defaultCallDeadline bounds a single provider call.
const defaultCallDeadline = 120 * time.Second

// Request is the opaque payload sent to a provider. The prompt text itself
// is produced by pkg/prompt and is never inspected here.
type Request struct {
	Prompt          string
	EstimatedTokens int64
}

// Response is what a successful provider call returns.
type Response struct {
	Text         string
	ActualTokens int64
}

// Provider is implemented by each concrete LLM backend (HTTP adapters for
// hosted providers, a gRPC adapter for a self-hosted model).
type Provider interface {
	// ID matches the provider identifier used by the Registry and Quota Tracker.
	ID() string
	// Call issues one request and blocks until completion, error, or ctx
	// cancellation.
	Call(ctx context.Context, req Request) (Response, error)
}

// ErrUnavailable is returned when no provider is selectable at all.
var ErrUnavailable = errors.New("provider manager: no provider available")

// Manager implements the call(prompt, estimated_tokens) -> response
// algorithm, composing the Registry, Quota Tracker, and Error Classifier.
type Manager struct {
	registry     *Registry
	quota        *quota.Tracker
	providers    map[string]Provider
	callDeadline time.Duration
	retrySpacing func() backoff.BackOff
	logger       *slog.Logger
}

// Option configures a Manager.
type Option func(*Manager)

// WithCallDeadline overrides the default 120s per-call deadline.
func WithCallDeadline(d time.Duration) Option {
	return func(m *Manager) { m.callDeadline = d }
}

// WithLogger attaches a structured logger; defaults to slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(m *Manager) { m.logger = l }
}

// NewManager builds a Provider Manager over a registry, quota tracker, and
// the set of concrete provider adapters keyed by provider ID.
func NewManager(registry *Registry, tracker *quota.Tracker, providers map[string]Provider, opts ...Option) *Manager {
	m := &Manager{
		registry:     registry,
		quota:        tracker,
		providers:    providers,
		callDeadline: defaultCallDeadline,
		retrySpacing: func() backoff.BackOff {
			b := backoff.NewExponentialBackOff()
			b.InitialInterval = 200 * time.Millisecond
			b.MaxInterval = 5 * time.Second
			b.MaxElapsedTime = 0 // caller-provided ctx governs overall deadline
			return b
		},
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Call selects a provider, enforces quota, issues the call under a per-call
// deadline, and fails over across providers on retryable errors or a quota
// deny. It never retries the same provider twice within one Call: tried
// accumulates every provider Select has handed out so far (quota denies
// included, since a quota deny does not blacklist the provider on its own)
// and is passed back into Select to advance past it. Once every registered
// provider has been tried, Select returns ErrNoProvider and the loop exits.
func (m *Manager) Call(ctx context.Context, req Request) (Response, error) {
	spacer := m.retrySpacing()
	tried := make(map[string]bool, len(m.providers))
	var lastErr error

	for {
		providerID, err := m.registry.Select(tried)
		if err != nil {
			if lastErr != nil {
				return Response{}, fmt.Errorf("provider manager: all providers exhausted: %w", lastErr)
			}
			return Response{}, fmt.Errorf("%w: %s", ErrUnavailable, err)
		}

		decision, err := m.quota.Check(ctx, providerID, req.EstimatedTokens)
		if err != nil {
			return Response{}, fmt.Errorf("provider manager: quota check for %q: %w", providerID, err)
		}
		if !decision.Allowed {
			m.registry.MarkFailure(providerID, FailureReasonQuota)
			tried[providerID] = true
			lastErr = fmt.Errorf("provider %q: %s: %s", providerID, model.ErrorKindQuotaExceeded, decision.Reason)
			m.logger.Warn("provider quota denied, trying next", "provider", providerID, "reason", decision.Reason)
			if !m.waitBeforeRetry(ctx, spacer) {
				return Response{}, ctx.Err()
			}
			continue
		}

		impl, ok := m.providers[providerID]
		if !ok {
			return Response{}, fmt.Errorf("provider manager: no adapter registered for %q", providerID)
		}

		callCtx, cancel := context.WithTimeout(ctx, m.callDeadline)
		resp, callErr := impl.Call(callCtx, req)
		cancel()

		if callErr == nil {
			if err := m.quota.Record(ctx, providerID, resp.ActualTokens, 1); err != nil {
				m.logger.Error("failed to record quota usage", "provider", providerID, "error", err)
			}
			m.registry.MarkSuccess(providerID)
			return resp, nil
		}

		classification := Classify(callErr.Error())
		m.registry.MarkFailure(providerID, classification.RegistryReason())
		tried[providerID] = true
		lastErr = callErr

		m.logger.Warn("provider call failed",
			"provider", providerID, "kind", classification.Kind, "retryable", classification.Retryable, "error", callErr)

		if !classification.Retryable {
			return Response{}, fmt.Errorf("provider manager: %s: %w", classification.Kind, callErr)
		}

		if !m.waitBeforeRetry(ctx, spacer) {
			return Response{}, ctx.Err()
		}
	}
}

func (m *Manager) waitBeforeRetry(ctx context.Context, spacer backoff.BackOff) bool {
	d := spacer.NextBackOff()
	if d == backoff.Stop {
		return true
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}

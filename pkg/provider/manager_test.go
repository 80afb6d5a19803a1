package provider

import (
	"context"
	"errors"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/shopcompliance/engine/pkg/quota"
	"github.com/stretchr/testify/require"
)

// fakeProvider is a hand-written stand-in for a concrete LLM adapter,
// matching the Provider interface boundary.
type fakeProvider struct {
	id    string
	calls int
	fn    func(call int) (Response, error)
}

func (f *fakeProvider) ID() string { return f.id }

func (f *fakeProvider) Call(_ context.Context, _ Request) (Response, error) {
	f.calls++
	return f.fn(f.calls)
}

func newMockTracker(t *testing.T) *quota.Tracker {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	mock.MatchExpectationsInOrder(false)
	mock.ExpectExec("INSERT INTO quota_counters").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT INTO quota_counters").WillReturnResult(sqlmock.NewResult(0, 1))
	return quota.NewTracker(db, nil)
}

func TestManager_Call_SucceedsOnFirstProvider(t *testing.T) {
	tracker := newMockTracker(t)
	registry := NewRegistry([]string{"openai"})
	openai := &fakeProvider{id: "openai", fn: func(int) (Response, error) {
		return Response{Text: "ok", ActualTokens: 42}, nil
	}}
	m := NewManager(registry, tracker, map[string]Provider{"openai": openai})

	resp, err := m.Call(context.Background(), Request{Prompt: "x", EstimatedTokens: 100})
	require.NoError(t, err)
	require.Equal(t, "ok", resp.Text)
	require.Equal(t, 1, openai.calls)
}

func TestManager_Call_FailsOverToSecondProviderOnServerError(t *testing.T) {
	tracker := newMockTracker(t)
	registry := NewRegistry([]string{"openai", "anthropic"})

	openai := &fakeProvider{id: "openai", fn: func(int) (Response, error) {
		return Response{}, errors.New("503 Service Unavailable")
	}}
	anthropic := &fakeProvider{id: "anthropic", fn: func(int) (Response, error) {
		return Response{Text: "fallback", ActualTokens: 10}, nil
	}}

	m := NewManager(registry, tracker, map[string]Provider{"openai": openai, "anthropic": anthropic})
	resp, err := m.Call(context.Background(), Request{Prompt: "x", EstimatedTokens: 100})
	require.NoError(t, err)
	require.Equal(t, "fallback", resp.Text)
	require.Equal(t, 1, openai.calls)
	require.Equal(t, 1, anthropic.calls)

	health, ok := registry.Health("openai")
	require.True(t, ok)
	require.False(t, health.BlacklistedUntil.IsZero())
}

func TestManager_Call_DoesNotRetrySameProviderForNonTransientError(t *testing.T) {
	registry := NewRegistry([]string{"openai"})
	openai := &fakeProvider{id: "openai", fn: func(int) (Response, error) {
		return Response{}, errors.New("401 Unauthorized")
	}}
	tracker := quota.NewTracker(nil, nil)
	m := NewManager(registry, tracker, map[string]Provider{"openai": openai})

	_, err := m.Call(context.Background(), Request{Prompt: "x", EstimatedTokens: 10})
	require.Error(t, err)
	require.Equal(t, 1, openai.calls, "auth errors must not be retried against the same provider")
}

func TestManager_Call_AllProvidersExhaustedPropagatesLastError(t *testing.T) {
	registry := NewRegistry([]string{"openai", "anthropic"})
	openai := &fakeProvider{id: "openai", fn: func(int) (Response, error) {
		return Response{}, errors.New("network: connection refused")
	}}
	anthropic := &fakeProvider{id: "anthropic", fn: func(int) (Response, error) {
		return Response{}, errors.New("network: connection refused")
	}}
	tracker := quota.NewTracker(nil, nil)
	m := NewManager(registry, tracker, map[string]Provider{"openai": openai, "anthropic": anthropic})

	_, err := m.Call(context.Background(), Request{Prompt: "x", EstimatedTokens: 10})
	require.Error(t, err)
	require.Equal(t, 1, openai.calls)
	require.Equal(t, 1, anthropic.calls)
}

func TestManager_Call_FailsOverToSecondProviderOnQuotaDeny(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	mock.MatchExpectationsInOrder(false)

	// openai has exhausted its daily request cap; anthropic is unconfigured
	// (no limits entry), so Check allows it without touching the database.
	mock.ExpectQuery("SELECT tokens, requests FROM quota_counters").
		WithArgs("openai", "daily", sqlmock.AnyArg()).
		WillReturnRows(sqlmock.NewRows([]string{"tokens", "requests"}).AddRow(0, 1))
	mock.ExpectQuery("SELECT tokens, requests FROM quota_counters").
		WithArgs("openai", "hourly", sqlmock.AnyArg()).
		WillReturnRows(sqlmock.NewRows([]string{"tokens", "requests"}).AddRow(0, 0))
	mock.ExpectExec("INSERT INTO quota_counters").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT INTO quota_counters").WillReturnResult(sqlmock.NewResult(0, 1))

	tracker := quota.NewTracker(db, map[string]quota.Limits{"openai": {DailyRequests: 1}})
	registry := NewRegistry([]string{"openai", "anthropic"})

	openai := &fakeProvider{id: "openai", fn: func(int) (Response, error) {
		t.Fatal("openai must not be called once its quota check denies")
		return Response{}, nil
	}}
	anthropic := &fakeProvider{id: "anthropic", fn: func(int) (Response, error) {
		return Response{Text: "fallback", ActualTokens: 10}, nil
	}}

	m := NewManager(registry, tracker, map[string]Provider{"openai": openai, "anthropic": anthropic})
	resp, err := m.Call(context.Background(), Request{Prompt: "x", EstimatedTokens: 100})
	require.NoError(t, err)
	require.Equal(t, "fallback", resp.Text)
	require.Equal(t, 0, openai.calls)
	require.Equal(t, 1, anthropic.calls)
}

func TestManager_Call_AllProvidersQuotaDeniedReturnsError(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	mock.MatchExpectationsInOrder(false)

	denyRows := func() *sqlmock.Rows { return sqlmock.NewRows([]string{"tokens", "requests"}).AddRow(0, 1) }
	mock.ExpectQuery("SELECT tokens, requests FROM quota_counters").
		WithArgs("openai", "daily", sqlmock.AnyArg()).WillReturnRows(denyRows())
	mock.ExpectQuery("SELECT tokens, requests FROM quota_counters").
		WithArgs("openai", "hourly", sqlmock.AnyArg()).
		WillReturnRows(sqlmock.NewRows([]string{"tokens", "requests"}).AddRow(0, 0))
	mock.ExpectQuery("SELECT tokens, requests FROM quota_counters").
		WithArgs("anthropic", "daily", sqlmock.AnyArg()).WillReturnRows(denyRows())
	mock.ExpectQuery("SELECT tokens, requests FROM quota_counters").
		WithArgs("anthropic", "hourly", sqlmock.AnyArg()).
		WillReturnRows(sqlmock.NewRows([]string{"tokens", "requests"}).AddRow(0, 0))

	limits := map[string]quota.Limits{"openai": {DailyRequests: 1}, "anthropic": {DailyRequests: 1}}
	tracker := quota.NewTracker(db, limits)
	registry := NewRegistry([]string{"openai", "anthropic"})

	openai := &fakeProvider{id: "openai", fn: func(int) (Response, error) { return Response{}, nil }}
	anthropic := &fakeProvider{id: "anthropic", fn: func(int) (Response, error) { return Response{}, nil }}
	m := NewManager(registry, tracker, map[string]Provider{"openai": openai, "anthropic": anthropic})

	_, err = m.Call(context.Background(), Request{Prompt: "x", EstimatedTokens: 100})
	require.Error(t, err)
	require.Equal(t, 0, openai.calls)
	require.Equal(t, 0, anthropic.calls)
}

func TestManager_Call_NoProviderRegisteredReturnsUnavailable(t *testing.T) {
	registry := NewRegistry(nil)
	tracker := quota.NewTracker(nil, nil)
	m := NewManager(registry, tracker, map[string]Provider{})

	_, err := m.Call(context.Background(), Request{Prompt: "x"})
	require.ErrorIs(t, err, ErrUnavailable)
}

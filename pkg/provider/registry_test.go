package provider

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestRegistry_SelectPrefersPrimary(t *testing.T) {
	r := NewRegistry([]string{"openai", "anthropic", "local"})
	id, err := r.Select(nil)
	require.NoError(t, err)
	require.Equal(t, "openai", id)
}

func TestRegistry_SelectSkipsBlacklistedPrimary(t *testing.T) {
	r := NewRegistry([]string{"openai", "anthropic"})
	fixed := time.Date(2026, 7, 30, 12, 0, 0, 0, time.UTC)
	r.now = func() time.Time { return fixed }

	r.MarkFailure("openai", FailureReasonServerError)

	id, err := r.Select(nil)
	require.NoError(t, err)
	require.Equal(t, "anthropic", id)
}

func TestRegistry_BlacklistExpiresAfterDuration(t *testing.T) {
	r := NewRegistry([]string{"openai", "anthropic"})
	now := time.Date(2026, 7, 30, 12, 0, 0, 0, time.UTC)
	r.now = func() time.Time { return now }

	r.MarkFailure("openai", FailureReasonTimeout)

	id, err := r.Select(nil)
	require.NoError(t, err)
	require.Equal(t, "anthropic", id)

	now = now.Add(defaultBlacklistDuration + time.Second)
	id, err = r.Select(nil)
	require.NoError(t, err)
	require.Equal(t, "openai", id)
}

func TestRegistry_NonCrashFailureDoesNotBlacklist(t *testing.T) {
	r := NewRegistry([]string{"openai", "anthropic"})
	r.MarkFailure("openai", FailureReasonAuth)

	id, err := r.Select(nil)
	require.NoError(t, err)
	require.Equal(t, "openai", id)

	health, ok := r.Health("openai")
	require.True(t, ok)
	require.Equal(t, 1, health.ConsecutiveFailures)
	require.True(t, health.BlacklistedUntil.IsZero())
}

func TestRegistry_AllBlacklistedReturnsErrNoProvider(t *testing.T) {
	r := NewRegistry([]string{"openai", "anthropic"})
	r.MarkFailure("openai", FailureReasonServerError)
	r.MarkFailure("anthropic", FailureReasonServerError)

	_, err := r.Select(nil)
	require.Error(t, err)
	_, ok := err.(ErrNoProvider)
	require.True(t, ok)
}

func TestRegistry_MarkSuccessResetsFailureStreak(t *testing.T) {
	r := NewRegistry([]string{"openai"})
	r.MarkFailure("openai", FailureReasonAuth)
	r.MarkSuccess("openai")

	health, ok := r.Health("openai")
	require.True(t, ok)
	require.Zero(t, health.ConsecutiveFailures)
	require.Equal(t, int64(1), health.SuccessCount)
}

func TestRegistry_ServiceCrashFailureTripsBreaker(t *testing.T) {
	r := NewRegistry([]string{"openai", "anthropic"})

	r.MarkFailure("openai", FailureReasonServerError)

	health, ok := r.Health("openai")
	require.True(t, ok)
	require.Equal(t, "open", health.CircuitState)

	// A never-failed provider has not transitioned states yet, so its
	// CircuitState is still unset: the field is only written on a breaker
	// state change.
	health, ok = r.Health("anthropic")
	require.True(t, ok)
	require.Empty(t, health.CircuitState)
}

func TestRegistry_SwitchPrimary(t *testing.T) {
	r := NewRegistry([]string{"openai", "anthropic"})
	r.SwitchPrimary("anthropic")

	oldPrimary, ok := r.Health("openai")
	require.True(t, ok)
	require.False(t, oldPrimary.IsPrimary)

	newPrimary, ok := r.Health("anthropic")
	require.True(t, ok)
	require.True(t, newPrimary.IsPrimary)
}

func TestRegistry_AnyAvailable(t *testing.T) {
	r := NewRegistry([]string{"openai"})
	require.True(t, r.AnyAvailable())

	r.MarkFailure("openai", FailureReasonServerError)
	require.False(t, r.AnyAvailable())
}

func TestRegistry_WithPrimaryOverridesFirstInList(t *testing.T) {
	r := NewRegistry([]string{"openai", "anthropic"}, WithPrimary("anthropic"))
	id, err := r.Select(nil)
	require.NoError(t, err)
	require.Equal(t, "anthropic", id)

	health, ok := r.Health("anthropic")
	require.True(t, ok)
	require.True(t, health.IsPrimary)
}

func TestRegistry_WithBlacklistDurationOverridesCooldown(t *testing.T) {
	r := NewRegistry([]string{"openai", "anthropic"}, WithBlacklistDuration(time.Minute))
	now := time.Date(2026, 7, 30, 12, 0, 0, 0, time.UTC)
	r.now = func() time.Time { return now }

	r.MarkFailure("openai", FailureReasonTimeout)
	id, err := r.Select(nil)
	require.NoError(t, err)
	require.Equal(t, "anthropic", id)

	now = now.Add(time.Minute + time.Second)
	id, err = r.Select(nil)
	require.NoError(t, err)
	require.Equal(t, "openai", id)
}

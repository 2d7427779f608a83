package resiliency_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/concordhq/concord/pkg/resiliency"
)

var errUpstream = errors.New("upstream unavailable")

func failingCall(ctx context.Context) error { return errUpstream }
func okCall(ctx context.Context) error      { return nil }

func newBreaker(now *time.Time) *resiliency.Breaker {
	return resiliency.NewBreaker("llm", resiliency.Settings{
		FailureThreshold:         3,
		RecoveryTimeout:          time.Minute,
		HalfOpenSuccessThreshold: 2,
	}).WithClock(func() time.Time { return *now })
}

func TestBreaker_TripsAfterConsecutiveFailures(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)
	b := newBreaker(&now)

	for i := 0; i < 2; i++ {
		assert.ErrorIs(t, b.Execute(ctx, failingCall), errUpstream)
		assert.Equal(t, resiliency.StateClosed, b.State())
	}

	// A success in between resets the consecutive count.
	require.NoError(t, b.Execute(ctx, okCall))
	for i := 0; i < 2; i++ {
		assert.ErrorIs(t, b.Execute(ctx, failingCall), errUpstream)
	}
	assert.Equal(t, resiliency.StateClosed, b.State())

	// Third consecutive failure trips the circuit.
	assert.ErrorIs(t, b.Execute(ctx, failingCall), errUpstream)
	assert.Equal(t, resiliency.StateOpen, b.State())

	// Open circuit fails fast without invoking the call.
	invoked := false
	err := b.Execute(ctx, func(ctx context.Context) error {
		invoked = true
		return nil
	})
	assert.ErrorIs(t, err, resiliency.ErrCircuitOpen)
	assert.False(t, invoked)
}

func TestBreaker_Recovery(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)
	b := newBreaker(&now)

	for i := 0; i < 3; i++ {
		_ = b.Execute(ctx, failingCall)
	}
	require.Equal(t, resiliency.StateOpen, b.State())

	t.Run("half-open after the recovery timeout", func(t *testing.T) {
		now = now.Add(time.Minute)
		assert.Equal(t, resiliency.StateHalfOpen, b.State())
	})

	t.Run("half-open failure reopens immediately", func(t *testing.T) {
		assert.ErrorIs(t, b.Execute(ctx, failingCall), errUpstream)
		assert.Equal(t, resiliency.StateOpen, b.State())
	})

	t.Run("enough half-open successes close the circuit", func(t *testing.T) {
		now = now.Add(time.Minute)
		require.Equal(t, resiliency.StateHalfOpen, b.State())
		require.NoError(t, b.Execute(ctx, okCall))
		assert.Equal(t, resiliency.StateHalfOpen, b.State())
		require.NoError(t, b.Execute(ctx, okCall))
		assert.Equal(t, resiliency.StateClosed, b.State())
	})
}

func TestBreaker_ShouldTrip(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)
	errValidation := errors.New("bad request")

	b := resiliency.NewBreaker("llm", resiliency.Settings{
		FailureThreshold: 2,
		RecoveryTimeout:  time.Minute,
		ShouldTrip:       func(err error) bool { return !errors.Is(err, errValidation) },
	}).WithClock(func() time.Time { return now })

	// Validation failures surface to the caller but never trip the circuit.
	for i := 0; i < 5; i++ {
		assert.ErrorIs(t, b.Execute(ctx, func(ctx context.Context) error { return errValidation }), errValidation)
	}
	assert.Equal(t, resiliency.StateClosed, b.State())

	for i := 0; i < 2; i++ {
		_ = b.Execute(ctx, failingCall)
	}
	assert.Equal(t, resiliency.StateOpen, b.State())
}

func TestRegistry_OneBreakerPerService(t *testing.T) {
	r := resiliency.NewRegistry(resiliency.DefaultSettings())
	a := r.Get("llm")
	b := r.Get("calendar")
	assert.NotSame(t, a, b)
	assert.Same(t, a, r.Get("llm"))
	assert.Equal(t, "llm", a.Name())
}

func TestClient_RateCapAndBreaker(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)

	t.Run("rate rejections do not count against the breaker", func(t *testing.T) {
		b := newBreaker(&now)
		c := resiliency.NewClient(b, 1, 1)

		require.NoError(t, c.Do(ctx, okCall))
		// The burst token is spent; further calls are rejected at the cap.
		for i := 0; i < 10; i++ {
			assert.ErrorIs(t, c.Do(ctx, failingCall), resiliency.ErrRateLimited)
		}
		assert.Equal(t, resiliency.StateClosed, b.State())
	})

	t.Run("no cap when rps is zero", func(t *testing.T) {
		b := newBreaker(&now)
		c := resiliency.NewClient(b, 0, 0)
		for i := 0; i < 20; i++ {
			require.NoError(t, c.Do(ctx, okCall))
		}
	})
}

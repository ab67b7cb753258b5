package gateway

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestBreaker_OpensAtThreshold(t *testing.T) {
	t.Parallel()
	clock := newFakeClock()
	b := newCircuitBreaker(3, time.Minute, clock)

	require.Equal(t, PhaseClosed, b.Phase())
	require.False(t, b.RecordFailure())
	require.False(t, b.RecordFailure())
	require.True(t, b.RecordFailure())
	require.Equal(t, PhaseOpen, b.Phase())
	require.Equal(t, 3, b.ConsecutiveFailures())

	ok, retryAfter := b.Allow()
	require.False(t, ok)
	require.Equal(t, time.Minute, retryAfter)
}

func TestBreaker_SuccessResetsFailureStreak(t *testing.T) {
	t.Parallel()
	clock := newFakeClock()
	b := newCircuitBreaker(3, time.Minute, clock)

	b.RecordFailure()
	b.RecordFailure()
	b.RecordSuccess()
	require.Zero(t, b.ConsecutiveFailures())

	// The streak starts over, so two more failures do not trip.
	b.RecordFailure()
	b.RecordFailure()
	require.Equal(t, PhaseClosed, b.Phase())
}

func TestBreaker_HalfOpenAfterCooldown(t *testing.T) {
	t.Parallel()
	clock := newFakeClock()
	b := newCircuitBreaker(1, time.Minute, clock)

	require.True(t, b.RecordFailure())
	ok, _ := b.Allow()
	require.False(t, ok)

	clock.Advance(time.Minute)
	ok, retryAfter := b.Allow()
	require.True(t, ok)
	require.Zero(t, retryAfter)
	require.Equal(t, PhaseHalfOpen, b.Phase())
}

func TestBreaker_HalfOpenSuccessCloses(t *testing.T) {
	t.Parallel()
	clock := newFakeClock()
	b := newCircuitBreaker(1, time.Minute, clock)

	b.RecordFailure()
	clock.Advance(time.Minute)
	b.Allow()

	b.RecordSuccess()
	require.Equal(t, PhaseClosed, b.Phase())
	ok, _ := b.Allow()
	require.True(t, ok)
}

func TestBreaker_HalfOpenFailureReopens(t *testing.T) {
	t.Parallel()
	clock := newFakeClock()
	b := newCircuitBreaker(1, time.Minute, clock)

	b.RecordFailure()
	clock.Advance(time.Minute)
	b.Allow()

	require.True(t, b.RecordFailure())
	require.Equal(t, PhaseOpen, b.Phase())

	// The cooldown restarts from the reopen, not the original trip.
	clock.Advance(30 * time.Second)
	ok, retryAfter := b.Allow()
	require.False(t, ok)
	require.Equal(t, 30*time.Second, retryAfter)
}

func TestRetryableClassification(t *testing.T) {
	t.Parallel()
	require.False(t, retryable(nil))
	require.False(t, retryable(context.Canceled))
	require.False(t, retryable(ErrServiceDisabled))
	require.True(t, retryable(Transient("navigate", errors.New("timeout"))))
	require.True(t, retryable(&CaptchaSolveError{Timeout: true}))
	require.True(t, retryable(&ParseError{Reason: "layout drift"}))
	require.True(t, retryable(context.DeadlineExceeded))
}

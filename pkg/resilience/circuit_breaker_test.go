package resilience

import (
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestBreaker(t *testing.T, config BreakerConfig) (*CircuitBreaker, *time.Time) {
	t.Helper()
	cb := NewCircuitBreaker("test-endpoint", config, zerolog.Nop())
	now := time.Now()
	cb.clock = func() time.Time { return now }
	return cb, &now
}

func TestBreakerOpensAfterConsecutiveFailures(t *testing.T) {
	cb, _ := newTestBreaker(t, BreakerConfig{FailureThreshold: 3, SuccessThreshold: 2, OpenTimeout: 30 * time.Second, HalfOpenMaxCalls: 1})

	for i := 0; i < 2; i++ {
		allowed, _ := cb.Allow()
		require.True(t, allowed)
		cb.RecordFailure()
		assert.Equal(t, StateClosed, cb.State())
	}

	allowed, _ := cb.Allow()
	require.True(t, allowed)
	cb.RecordFailure()
	assert.Equal(t, StateOpen, cb.State())

	allowed, retryAfter := cb.Allow()
	assert.False(t, allowed)
	assert.Greater(t, retryAfter, time.Duration(0))
}

func TestBreakerSuccessResetsFailureCount(t *testing.T) {
	cb, _ := newTestBreaker(t, BreakerConfig{FailureThreshold: 3, SuccessThreshold: 2, OpenTimeout: 30 * time.Second, HalfOpenMaxCalls: 1})

	cb.Allow()
	cb.RecordFailure()
	cb.Allow()
	cb.RecordFailure()
	cb.Allow()
	cb.RecordSuccess()

	// Counter reset; two more failures must not trip a threshold of 3.
	cb.Allow()
	cb.RecordFailure()
	cb.Allow()
	cb.RecordFailure()
	assert.Equal(t, StateClosed, cb.State())
}

func TestBreakerHalfOpenRecovery(t *testing.T) {
	cb, now := newTestBreaker(t, BreakerConfig{FailureThreshold: 1, SuccessThreshold: 2, OpenTimeout: 30 * time.Second, HalfOpenMaxCalls: 3})

	cb.Allow()
	cb.RecordFailure()
	require.Equal(t, StateOpen, cb.State())

	// Before the timeout the breaker stays shut.
	allowed, _ := cb.Allow()
	assert.False(t, allowed)

	*now = now.Add(31 * time.Second)
	allowed, _ = cb.Allow()
	require.True(t, allowed)
	assert.Equal(t, StateHalfOpen, cb.State())
	cb.RecordSuccess()
	assert.Equal(t, StateHalfOpen, cb.State())

	allowed, _ = cb.Allow()
	require.True(t, allowed)
	cb.RecordSuccess()
	assert.Equal(t, StateClosed, cb.State())
}

func TestBreakerHalfOpenFailureReopens(t *testing.T) {
	cb, now := newTestBreaker(t, BreakerConfig{FailureThreshold: 1, SuccessThreshold: 2, OpenTimeout: 30 * time.Second, HalfOpenMaxCalls: 3})

	cb.Allow()
	cb.RecordFailure()
	*now = now.Add(31 * time.Second)

	allowed, _ := cb.Allow()
	require.True(t, allowed)
	cb.RecordFailure()
	assert.Equal(t, StateOpen, cb.State())

	// A fresh open interval starts from the probe failure.
	allowed, _ = cb.Allow()
	assert.False(t, allowed)
}

func TestBreakerHalfOpenProbeBudget(t *testing.T) {
	cb, now := newTestBreaker(t, BreakerConfig{FailureThreshold: 1, SuccessThreshold: 5, OpenTimeout: 30 * time.Second, HalfOpenMaxCalls: 2})

	cb.Allow()
	cb.RecordFailure()
	*now = now.Add(31 * time.Second)

	a1, _ := cb.Allow()
	a2, _ := cb.Allow()
	a3, _ := cb.Allow()
	assert.True(t, a1)
	assert.True(t, a2)
	assert.False(t, a3, "third concurrent probe must be rejected")

	// Finishing a probe frees its slot.
	cb.RecordSuccess()
	a4, _ := cb.Allow()
	assert.True(t, a4)
}

func TestBreakerReset(t *testing.T) {
	cb, _ := newTestBreaker(t, BreakerConfig{FailureThreshold: 1, SuccessThreshold: 2, OpenTimeout: time.Hour, HalfOpenMaxCalls: 1})

	cb.Allow()
	cb.RecordFailure()
	require.Equal(t, StateOpen, cb.State())

	cb.Reset()
	assert.Equal(t, StateClosed, cb.State())
	allowed, _ := cb.Allow()
	assert.True(t, allowed)
}

func TestBreakerMetricsSnapshot(t *testing.T) {
	cb, _ := newTestBreaker(t, BreakerConfig{FailureThreshold: 2, SuccessThreshold: 1, OpenTimeout: time.Hour, HalfOpenMaxCalls: 1})

	cb.Allow()
	cb.RecordFailure()
	cb.Allow()
	cb.RecordFailure()
	cb.Allow() // rejected

	m := cb.Metrics()
	assert.Equal(t, StateOpen, m.State)
	assert.Equal(t, uint64(2), m.TotalCalls)
	assert.Equal(t, uint64(1), m.TotalRejections)
	assert.False(t, m.LastFailure.IsZero())
}

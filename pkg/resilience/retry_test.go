package resilience

import (
	"context"
	"io"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wardgate/mcp-gateway-go/pkg/errors"
)

func newTestRetrier(t *testing.T, config RetryConfig) (*Retrier, *[]time.Duration) {
	t.Helper()
	r := NewRetrier(config, zerolog.Nop())
	var delays []time.Duration
	r.sleep = func(ctx context.Context, d time.Duration) error {
		delays = append(delays, d)
		return ctx.Err()
	}
	return r, &delays
}

func TestRetrySucceedsAfterTransientFailures(t *testing.T) {
	r, delays := newTestRetrier(t, RetryConfig{MaxAttempts: 3, BaseDelay: 100 * time.Millisecond, MaxDelay: time.Second})

	calls := 0
	err := r.Do(context.Background(), func(ctx context.Context) error {
		calls++
		if calls < 3 {
			return errors.Transport("http", io.EOF)
		}
		return nil
	}, nil)

	require.NoError(t, err)
	assert.Equal(t, 3, calls)
	assert.Len(t, *delays, 2)
}

func TestRetryExhaustionIsTagged(t *testing.T) {
	r, _ := newTestRetrier(t, RetryConfig{MaxAttempts: 3, BaseDelay: time.Millisecond, MaxDelay: time.Second})

	calls := 0
	cause := errors.Transport("http", io.ErrUnexpectedEOF)
	err := r.Do(context.Background(), func(ctx context.Context) error {
		calls++
		return cause
	}, nil)

	assert.Equal(t, 3, calls)
	assert.True(t, errors.IsRetryExhausted(err))
	assert.ErrorIs(t, err, cause)
}

func TestRetryNonRetryablePropagatesImmediately(t *testing.T) {
	r, delays := newTestRetrier(t, RetryConfig{MaxAttempts: 3, BaseDelay: time.Millisecond, MaxDelay: time.Second})

	calls := 0
	err := r.Do(context.Background(), func(ctx context.Context) error {
		calls++
		return errors.AuthorizationDenied("no")
	}, nil)

	assert.Equal(t, 1, calls)
	assert.True(t, errors.IsAuthorizationDenied(err))
	assert.False(t, errors.IsRetryExhausted(err))
	assert.Empty(t, *delays)
}

func TestRetryBackoffDoublesAndCaps(t *testing.T) {
	r, _ := newTestRetrier(t, RetryConfig{MaxAttempts: 6, BaseDelay: 100 * time.Millisecond, MaxDelay: 500 * time.Millisecond, JitterFraction: 0})

	assert.Equal(t, 100*time.Millisecond, r.backoff(1))
	assert.Equal(t, 200*time.Millisecond, r.backoff(2))
	assert.Equal(t, 400*time.Millisecond, r.backoff(3))
	assert.Equal(t, 500*time.Millisecond, r.backoff(4))
	assert.Equal(t, 500*time.Millisecond, r.backoff(5))
}

func TestRetryBackoffJitterStaysInBounds(t *testing.T) {
	r, _ := newTestRetrier(t, RetryConfig{MaxAttempts: 3, BaseDelay: 100 * time.Millisecond, MaxDelay: time.Second, JitterFraction: 0.25})

	for i := 0; i < 200; i++ {
		d := r.backoff(2) // nominal 200ms
		assert.GreaterOrEqual(t, d, 150*time.Millisecond)
		assert.LessOrEqual(t, d, 250*time.Millisecond)
	}
}

func TestRetryStopsOnContextCancel(t *testing.T) {
	r := NewRetrier(RetryConfig{MaxAttempts: 5, BaseDelay: 50 * time.Millisecond, MaxDelay: time.Second}, zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	err := r.Do(ctx, func(ctx context.Context) error {
		calls++
		cancel()
		return errors.Transport("http", io.EOF)
	}, nil)

	assert.Equal(t, 1, calls)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestRetryPerAttemptHookObservesEveryOutcome(t *testing.T) {
	r, _ := newTestRetrier(t, RetryConfig{MaxAttempts: 3, BaseDelay: time.Millisecond, MaxDelay: time.Second})

	var outcomes []bool
	calls := 0
	err := r.Do(context.Background(), func(ctx context.Context) error {
		calls++
		if calls < 2 {
			return errors.Transport("http", io.EOF)
		}
		return nil
	}, func(err error) {
		outcomes = append(outcomes, err == nil)
	})

	require.NoError(t, err)
	assert.Equal(t, []bool{false, true}, outcomes)
}

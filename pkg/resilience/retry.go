package resilience

import (
	"context"
	"math/rand"
	"time"

	"github.com/rs/zerolog"

	"github.com/wardgate/mcp-gateway-go/pkg/errors"
)

// RetryConfig controls the exponential backoff retry policy.
type RetryConfig struct {
	// MaxAttempts is the total number of attempts including the first.
	MaxAttempts int `yaml:"max_attempts" validate:"omitempty,min=1"`
	// BaseDelay is the delay before the second attempt.
	BaseDelay time.Duration `yaml:"base_delay" validate:"min=0"`
	// MaxDelay caps the computed backoff.
	MaxDelay time.Duration `yaml:"max_delay" validate:"min=0"`
	// JitterFraction randomizes each delay by +/- this fraction to avoid
	// thundering herds. 0.25 means +/-25%.
	JitterFraction float64 `yaml:"jitter_fraction" validate:"min=0,max=1"`
}

// DefaultJitterFraction randomizes backoff by +/-25%.
const DefaultJitterFraction = 0.25

// DefaultRetryConfig returns the production defaults.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts:    3,
		BaseDelay:      500 * time.Millisecond,
		MaxDelay:       10 * time.Second,
		JitterFraction: DefaultJitterFraction,
	}
}

// Retrier executes operations with exponential backoff. Only errors that
// errors.IsRetryable classifies as transient are retried; everything else
// propagates from the failing attempt.
type Retrier struct {
	config RetryConfig
	logger zerolog.Logger
	// sleep is swappable for tests.
	sleep func(ctx context.Context, d time.Duration) error
}

// NewRetrier creates a Retrier with the given policy.
func NewRetrier(config RetryConfig, logger zerolog.Logger) *Retrier {
	if config.MaxAttempts <= 0 {
		config.MaxAttempts = 3
	}
	if config.BaseDelay <= 0 {
		config.BaseDelay = 500 * time.Millisecond
	}
	if config.MaxDelay <= 0 {
		config.MaxDelay = 10 * time.Second
	}
	if config.JitterFraction < 0 || config.JitterFraction > 1 {
		config.JitterFraction = DefaultJitterFraction
	}
	return &Retrier{
		config: config,
		logger: logger.With().Str("component", "retry").Logger(),
		sleep:  sleepContext,
	}
}

// Do runs op until it succeeds, returns a non-retryable error, exhausts the
// attempt budget, or ctx is done. perAttempt, when non-nil, observes the
// outcome of every attempt; the circuit breaker hooks in here so each real
// call counts toward its failure threshold.
func (r *Retrier) Do(ctx context.Context, op func(ctx context.Context) error, perAttempt func(err error)) error {
	var lastErr error
	for attempt := 1; attempt <= r.config.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		lastErr = op(ctx)
		if perAttempt != nil {
			perAttempt(lastErr)
		}
		if lastErr == nil {
			return nil
		}
		if !errors.IsRetryable(lastErr) {
			return lastErr
		}
		if attempt == r.config.MaxAttempts {
			break
		}

		delay := r.backoff(attempt)
		r.logger.Debug().
			Int("attempt", attempt).
			Dur("delay", delay).
			Err(lastErr).
			Msg("retrying after transient failure")
		if err := r.sleep(ctx, delay); err != nil {
			return err
		}
	}
	return errors.RetryExhausted(r.config.MaxAttempts, lastErr)
}

// backoff computes min(base * 2^(attempt-1), max) with jitter applied.
func (r *Retrier) backoff(attempt int) time.Duration {
	d := r.config.BaseDelay
	for i := 1; i < attempt; i++ {
		d *= 2
		if d >= r.config.MaxDelay {
			d = r.config.MaxDelay
			break
		}
	}
	if r.config.JitterFraction > 0 {
		// Uniform in [1-f, 1+f].
		factor := 1 + r.config.JitterFraction*(2*rand.Float64()-1)
		d = time.Duration(float64(d) * factor)
	}
	if d > r.config.MaxDelay {
		d = r.config.MaxDelay
	}
	return d
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

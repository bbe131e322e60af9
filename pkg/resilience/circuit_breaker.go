package resilience

import (
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// State is the circuit breaker state.
type State int32

const (
	// StateClosed admits all calls and counts consecutive failures.
	StateClosed State = iota
	// StateOpen rejects all calls until the open timeout elapses.
	StateOpen
	// StateHalfOpen admits a bounded number of probe calls.
	StateHalfOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half_open"
	default:
		return "unknown"
	}
}

// BreakerConfig controls a single circuit breaker instance.
type BreakerConfig struct {
	// FailureThreshold is the number of consecutive failures in CLOSED
	// state that trips the breaker.
	FailureThreshold int `yaml:"failure_threshold" validate:"omitempty,min=1"`
	// SuccessThreshold is the number of consecutive probe successes in
	// HALF_OPEN state that closes the breaker.
	SuccessThreshold int `yaml:"success_threshold" validate:"omitempty,min=1"`
	// OpenTimeout is how long the breaker stays OPEN before admitting
	// probes.
	OpenTimeout time.Duration `yaml:"open_timeout" validate:"min=0"`
	// HalfOpenMaxCalls bounds concurrent in-flight probes in HALF_OPEN
	// state. Calls beyond the budget are rejected as if OPEN.
	HalfOpenMaxCalls int `yaml:"half_open_max_calls" validate:"omitempty,min=1"`
}

// DefaultBreakerConfig returns the production defaults.
func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{
		FailureThreshold: 5,
		SuccessThreshold: 2,
		OpenTimeout:      30 * time.Second,
		HalfOpenMaxCalls: 3,
	}
}

// BreakerMetrics is a point-in-time snapshot of a breaker's counters.
type BreakerMetrics struct {
	State               State     `json:"state"`
	ConsecutiveFailures int       `json:"consecutive_failures"`
	ConsecutiveSuccess  int       `json:"consecutive_successes"`
	TotalCalls          uint64    `json:"total_calls"`
	TotalRejections     uint64    `json:"total_rejections"`
	LastStateChange     time.Time `json:"last_state_change"`
	LastFailure         time.Time `json:"last_failure,omitempty"`
}

// CircuitBreaker implements the CLOSED -> OPEN -> HALF_OPEN state machine.
// One instance guards one endpoint; create per-endpoint instances so a
// failing server cannot block calls to healthy ones.
//
// All state is guarded by a single mutex. Allow and the record methods are
// safe for concurrent use.
type CircuitBreaker struct {
	name   string
	config BreakerConfig
	logger zerolog.Logger
	clock  func() time.Time

	mu              sync.Mutex
	state           State
	failures        int
	successes       int
	halfOpenCalls   int
	openedAt        time.Time
	lastStateChange time.Time
	lastFailure     time.Time
	totalCalls      uint64
	totalRejections uint64

	onStateChange func(name string, from, to State)
}

// NewCircuitBreaker creates a breaker named for the endpoint it guards.
func NewCircuitBreaker(name string, config BreakerConfig, logger zerolog.Logger) *CircuitBreaker {
	if config.FailureThreshold <= 0 {
		config.FailureThreshold = 5
	}
	if config.SuccessThreshold <= 0 {
		config.SuccessThreshold = 2
	}
	if config.OpenTimeout <= 0 {
		config.OpenTimeout = 30 * time.Second
	}
	if config.HalfOpenMaxCalls <= 0 {
		config.HalfOpenMaxCalls = 3
	}
	return &CircuitBreaker{
		name:            name,
		config:          config,
		logger:          logger.With().Str("component", "circuit_breaker").Str("endpoint", name).Logger(),
		clock:           time.Now,
		state:           StateClosed,
		lastStateChange: time.Now(),
	}
}

// OnStateChange registers a callback invoked (outside the lock) on every
// transition. Used by the metrics layer to keep a state gauge current.
func (cb *CircuitBreaker) OnStateChange(fn func(name string, from, to State)) {
	cb.mu.Lock()
	cb.onStateChange = fn
	cb.mu.Unlock()
}

// Allow reports whether a call may proceed. When it returns false the second
// value hints how long until the breaker next admits a probe. Every Allow
// that returns true must be paired with exactly one RecordSuccess or
// RecordFailure.
func (cb *CircuitBreaker) Allow() (bool, time.Duration) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	now := cb.clock()
	switch cb.state {
	case StateClosed:
		cb.totalCalls++
		return true, 0
	case StateOpen:
		if wait := cb.config.OpenTimeout - now.Sub(cb.openedAt); wait > 0 {
			cb.totalRejections++
			return false, wait
		}
		cb.transition(StateHalfOpen, now)
		fallthrough
	case StateHalfOpen:
		if cb.halfOpenCalls >= cb.config.HalfOpenMaxCalls {
			cb.totalRejections++
			return false, 0
		}
		cb.halfOpenCalls++
		cb.totalCalls++
		return true, 0
	default:
		cb.totalRejections++
		return false, 0
	}
}

// RecordSuccess records a successful call admitted by Allow.
func (cb *CircuitBreaker) RecordSuccess() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case StateClosed:
		cb.failures = 0
	case StateHalfOpen:
		cb.halfOpenCalls--
		cb.successes++
		if cb.successes >= cb.config.SuccessThreshold {
			cb.transition(StateClosed, cb.clock())
		}
	}
}

// RecordFailure records a failed call admitted by Allow.
func (cb *CircuitBreaker) RecordFailure() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	now := cb.clock()
	cb.lastFailure = now
	switch cb.state {
	case StateClosed:
		cb.failures++
		if cb.failures >= cb.config.FailureThreshold {
			cb.transition(StateOpen, now)
		}
	case StateHalfOpen:
		// Any probe failure reopens immediately.
		cb.halfOpenCalls--
		cb.transition(StateOpen, now)
	}
}

// Reset forces the breaker back to CLOSED and clears all counters. Intended
// for operator intervention after a known-fixed outage.
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	if cb.state != StateClosed {
		cb.transition(StateClosed, cb.clock())
	}
	cb.failures = 0
	cb.successes = 0
	cb.halfOpenCalls = 0
}

// State returns the current state.
func (cb *CircuitBreaker) State() State {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

// Metrics returns a snapshot of the breaker's counters.
func (cb *CircuitBreaker) Metrics() BreakerMetrics {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return BreakerMetrics{
		State:               cb.state,
		ConsecutiveFailures: cb.failures,
		ConsecutiveSuccess:  cb.successes,
		TotalCalls:          cb.totalCalls,
		TotalRejections:     cb.totalRejections,
		LastStateChange:     cb.lastStateChange,
		LastFailure:         cb.lastFailure,
	}
}

// transition must be called with cb.mu held.
func (cb *CircuitBreaker) transition(to State, now time.Time) {
	from := cb.state
	if from == to {
		return
	}
	cb.state = to
	cb.lastStateChange = now
	switch to {
	case StateOpen:
		cb.openedAt = now
		cb.successes = 0
		cb.halfOpenCalls = 0
	case StateHalfOpen:
		cb.successes = 0
		cb.halfOpenCalls = 0
	case StateClosed:
		cb.failures = 0
		cb.successes = 0
		cb.halfOpenCalls = 0
	}

	cb.logger.Warn().
		Str("from", from.String()).
		Str("to", to.String()).
		Int("consecutive_failures", cb.failures).
		Msg("circuit breaker state change")

	if cb.onStateChange != nil {
		fn := cb.onStateChange
		go fn(cb.name, from, to)
	}
}

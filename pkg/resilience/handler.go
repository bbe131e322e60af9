package resilience

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/wardgate/mcp-gateway-go/pkg/errors"
)

// HandlerConfig bundles the policies a Handler applies to every call.
type HandlerConfig struct {
	Breaker BreakerConfig `yaml:"circuit_breaker"`
	Retry   RetryConfig   `yaml:"retry"`
	// OperationTimeout bounds the whole pipeline, retries included.
	OperationTimeout time.Duration `yaml:"operation_timeout" validate:"min=0"`
	// FinalOutcomeOnly settles the breaker once per Execute instead of
	// feeding every retry attempt into its failure accounting. Off by
	// default so a flapping endpoint trips the breaker at the rate it
	// actually fails.
	FinalOutcomeOnly bool `yaml:"final_outcome_only"`
}

// DefaultHandlerConfig returns the production defaults.
func DefaultHandlerConfig() HandlerConfig {
	return HandlerConfig{
		Breaker:          DefaultBreakerConfig(),
		Retry:            DefaultRetryConfig(),
		OperationTimeout: DefaultOperationTimeout,
	}
}

// HandlerMetrics aggregates outcomes across all endpoints of a Handler.
type HandlerMetrics struct {
	TotalOperations    uint64                    `json:"total_operations"`
	TotalFailures      uint64                    `json:"total_failures"`
	TotalRejections    uint64                    `json:"total_rejections"`
	TotalRetries       uint64                    `json:"total_retries"`
	BreakersByEndpoint map[string]BreakerMetrics `json:"breakers_by_endpoint"`
}

// Handler composes the breaker, retry policy and timeout into one pipeline:
// the breaker gates admission, the retry loop runs inside it, and the whole
// thing runs under a single deadline. Failure ordering follows from that
// shape: an OPEN breaker rejects before any attempt is made, and retry
// exhaustion surfaces as one breaker-visible failure per attempt.
//
// Breakers are per-endpoint and created lazily, so one failing endpoint
// never rejects calls bound for a healthy one.
type Handler struct {
	config HandlerConfig
	logger zerolog.Logger

	retrier *Retrier

	mu       sync.RWMutex
	breakers map[string]*CircuitBreaker

	metricsMu       sync.Mutex
	totalOperations uint64
	totalFailures   uint64
	totalRejections uint64
	totalRetries    uint64

	onStateChange func(endpoint string, from, to State)
	onRetry       func(endpoint string)
}

// NewHandler creates a Handler with the given policies.
func NewHandler(config HandlerConfig, logger zerolog.Logger) *Handler {
	if config.OperationTimeout <= 0 {
		config.OperationTimeout = DefaultOperationTimeout
	}
	return &Handler{
		config:   config,
		logger:   logger.With().Str("component", "resilience").Logger(),
		retrier:  NewRetrier(config.Retry, logger),
		breakers: make(map[string]*CircuitBreaker),
	}
}

// OnStateChange registers a callback forwarded to every breaker, current and
// future.
func (h *Handler) OnStateChange(fn func(endpoint string, from, to State)) {
	h.mu.Lock()
	h.onStateChange = fn
	for _, cb := range h.breakers {
		cb.OnStateChange(fn)
	}
	h.mu.Unlock()
}

// OnRetry registers a callback invoked once per retry attempt, with the
// endpoint being retried.
func (h *Handler) OnRetry(fn func(endpoint string)) {
	h.mu.Lock()
	h.onRetry = fn
	h.mu.Unlock()
}

// Breaker returns the breaker guarding endpoint, creating it on first use.
func (h *Handler) Breaker(endpoint string) *CircuitBreaker {
	h.mu.RLock()
	cb, ok := h.breakers[endpoint]
	h.mu.RUnlock()
	if ok {
		return cb
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if cb, ok = h.breakers[endpoint]; ok {
		return cb
	}
	cb = NewCircuitBreaker(endpoint, h.config.Breaker, h.logger)
	if h.onStateChange != nil {
		cb.OnStateChange(h.onStateChange)
	}
	h.breakers[endpoint] = cb
	return cb
}

// Execute runs op against endpoint with the full pipeline applied. A rejected
// call returns a circuit-open error without invoking op at all.
func (h *Handler) Execute(ctx context.Context, endpoint string, op func(ctx context.Context) error) error {
	h.countOperation()

	cb := h.Breaker(endpoint)
	allowed, retryAfter := cb.Allow()
	if !allowed {
		h.countRejection()
		return errors.CircuitOpen(endpoint, retryAfter)
	}

	perAttempt := h.attemptRecorder(cb, endpoint)
	err := WithTimeout(ctx, "execute "+endpoint, h.config.OperationTimeout, func(ctx context.Context) error {
		return h.retrier.Do(ctx, op, perAttempt)
	})

	if h.config.FinalOutcomeOnly {
		// Every admitted call settles its slot exactly once; a leaked
		// slot would shrink the HALF_OPEN call budget for good.
		switch {
		case err == nil, errors.IsValidation(err), errors.IsAuthorizationDenied(err):
			cb.RecordSuccess()
		default:
			cb.RecordFailure()
		}
	}
	if err != nil {
		h.countFailure()
	}
	return err
}

// attemptRecorder returns the per-attempt hook the retry loop feeds, or a
// one-shot settle of the breaker's admission slot in final-outcome mode.
func (h *Handler) attemptRecorder(cb *CircuitBreaker, endpoint string) func(err error) {
	if h.config.FinalOutcomeOnly {
		// The Allow slot is settled once at the end of Execute; just
		// count retries here.
		first := true
		return func(err error) {
			if !first {
				h.countRetry(endpoint)
			}
			first = false
		}
	}

	// Per-attempt mode: the breaker's Allow admitted the pipeline once,
	// but each real call feeds its accounting, so a flapping endpoint
	// trips the breaker at the rate it actually fails.
	first := true
	return func(err error) {
		if !first {
			h.countRetry(endpoint)
		}
		first = false
		if err == nil {
			cb.RecordSuccess()
			return
		}
		if errors.IsValidation(err) || errors.IsAuthorizationDenied(err) {
			// Not a service failure; leave the breaker alone.
			cb.RecordSuccess()
			return
		}
		cb.RecordFailure()
	}
}

// ResetBreaker forces the named endpoint's breaker back to CLOSED. No-op if
// the endpoint has never been called.
func (h *Handler) ResetBreaker(endpoint string) {
	h.mu.RLock()
	cb, ok := h.breakers[endpoint]
	h.mu.RUnlock()
	if ok {
		cb.Reset()
	}
}

// Metrics returns aggregate counters plus a per-endpoint breaker snapshot.
func (h *Handler) Metrics() HandlerMetrics {
	h.metricsMu.Lock()
	m := HandlerMetrics{
		TotalOperations: h.totalOperations,
		TotalFailures:   h.totalFailures,
		TotalRejections: h.totalRejections,
		TotalRetries:    h.totalRetries,
	}
	h.metricsMu.Unlock()

	h.mu.RLock()
	m.BreakersByEndpoint = make(map[string]BreakerMetrics, len(h.breakers))
	for name, cb := range h.breakers {
		m.BreakersByEndpoint[name] = cb.Metrics()
	}
	h.mu.RUnlock()
	return m
}

func (h *Handler) countOperation() {
	h.metricsMu.Lock()
	h.totalOperations++
	h.metricsMu.Unlock()
}

func (h *Handler) countFailure() {
	h.metricsMu.Lock()
	h.totalFailures++
	h.metricsMu.Unlock()
}

func (h *Handler) countRejection() {
	h.metricsMu.Lock()
	h.totalRejections++
	h.metricsMu.Unlock()
}

func (h *Handler) countRetry(endpoint string) {
	h.metricsMu.Lock()
	h.totalRetries++
	h.metricsMu.Unlock()

	h.mu.RLock()
	fn := h.onRetry
	h.mu.RUnlock()
	if fn != nil {
		fn(endpoint)
	}
}

// Package observability provides the gateway's Prometheus metrics and
// OpenTelemetry tracing providers.
package observability

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// MetricsConfig configures the metrics provider.
type MetricsConfig struct {
	ServiceName string
	Environment string

	// MetricsPath and MetricsPort expose the scrape endpoint; port 0
	// disables the HTTP server (metrics are still collected).
	MetricsPath string
	MetricsPort int

	// Namespace defaults to "wardgate".
	Namespace        string
	HistogramBuckets []float64
	ConstLabels      prometheus.Labels
}

// MetricsProvider records the gateway's operational metrics.
type MetricsProvider interface {
	RecordInvocation(server, tool, transport, status string, duration time.Duration)
	RecordAuthzDecision(decision string, duration time.Duration)
	RecordBreakerState(endpoint string, state string)
	RecordRetry(endpoint string)
	RecordCacheHit()
	RecordCacheMiss()
	RecordActiveStreams(n int)

	Start(ctx context.Context) error
	Shutdown(ctx context.Context) error
}

// PrometheusMetricsProvider implements MetricsProvider on a private registry
// so tests can create providers freely without duplicate-registration panics.
type PrometheusMetricsProvider struct {
	config   MetricsConfig
	registry *prometheus.Registry
	server   *http.Server

	invocationDuration *prometheus.HistogramVec
	invocationTotal    *prometheus.CounterVec
	authzDuration      *prometheus.HistogramVec
	authzTotal         *prometheus.CounterVec
	breakerState       *prometheus.GaugeVec
	retryTotal         *prometheus.CounterVec
	cacheHits          prometheus.Counter
	cacheMisses        prometheus.Counter
	activeStreams      prometheus.Gauge
}

// breakerStateValue maps a state name to the gauge encoding.
var breakerStateValue = map[string]float64{
	"closed":    0,
	"open":      1,
	"half_open": 2,
}

// NewMetricsProvider creates a Prometheus-backed provider.
func NewMetricsProvider(config MetricsConfig) (*PrometheusMetricsProvider, error) {
	if config.Namespace == "" {
		config.Namespace = "wardgate"
	}
	if config.MetricsPath == "" {
		config.MetricsPath = "/metrics"
	}
	if len(config.HistogramBuckets) == 0 {
		config.HistogramBuckets = []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10, 30}
	}

	p := &PrometheusMetricsProvider{
		config:   config,
		registry: prometheus.NewRegistry(),
	}
	ns := config.Namespace

	p.invocationDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace:   ns,
		Name:        "invocation_duration_seconds",
		Help:        "Tool invocation latency by server, tool, transport and status.",
		Buckets:     config.HistogramBuckets,
		ConstLabels: config.ConstLabels,
	}, []string{"server", "tool", "transport", "status"})

	p.invocationTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace:   ns,
		Name:        "invocations_total",
		Help:        "Total tool invocations by server, tool, transport and status.",
		ConstLabels: config.ConstLabels,
	}, []string{"server", "tool", "transport", "status"})

	p.authzDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace:   ns,
		Name:        "authz_decision_duration_seconds",
		Help:        "Policy decision latency by decision.",
		Buckets:     config.HistogramBuckets,
		ConstLabels: config.ConstLabels,
	}, []string{"decision"})

	p.authzTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace:   ns,
		Name:        "authz_decisions_total",
		Help:        "Total policy decisions by decision.",
		ConstLabels: config.ConstLabels,
	}, []string{"decision"})

	p.breakerState = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace:   ns,
		Name:        "circuit_breaker_state",
		Help:        "Circuit breaker state per endpoint (0=closed, 1=open, 2=half_open).",
		ConstLabels: config.ConstLabels,
	}, []string{"endpoint"})

	p.retryTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace:   ns,
		Name:        "retries_total",
		Help:        "Total retry attempts per endpoint.",
		ConstLabels: config.ConstLabels,
	}, []string{"endpoint"})

	p.cacheHits = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace:   ns,
		Name:        "cache_hits_total",
		Help:        "Response cache hits.",
		ConstLabels: config.ConstLabels,
	})

	p.cacheMisses = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace:   ns,
		Name:        "cache_misses_total",
		Help:        "Response cache misses.",
		ConstLabels: config.ConstLabels,
	})

	p.activeStreams = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace:   ns,
		Name:        "sse_active_streams",
		Help:        "Open SSE subscriptions.",
		ConstLabels: config.ConstLabels,
	})

	collectors := []prometheus.Collector{
		p.invocationDuration, p.invocationTotal,
		p.authzDuration, p.authzTotal,
		p.breakerState, p.retryTotal,
		p.cacheHits, p.cacheMisses, p.activeStreams,
	}
	for _, c := range collectors {
		if err := p.registry.Register(c); err != nil {
			return nil, fmt.Errorf("register collector: %w", err)
		}
	}
	return p, nil
}

// RecordInvocation implements MetricsProvider.
func (p *PrometheusMetricsProvider) RecordInvocation(server, tool, transport, status string, duration time.Duration) {
	p.invocationTotal.WithLabelValues(server, tool, transport, status).Inc()
	p.invocationDuration.WithLabelValues(server, tool, transport, status).Observe(duration.Seconds())
}

// RecordAuthzDecision implements MetricsProvider.
func (p *PrometheusMetricsProvider) RecordAuthzDecision(decision string, duration time.Duration) {
	p.authzTotal.WithLabelValues(decision).Inc()
	p.authzDuration.WithLabelValues(decision).Observe(duration.Seconds())
}

// RecordBreakerState implements MetricsProvider.
func (p *PrometheusMetricsProvider) RecordBreakerState(endpoint, state string) {
	p.breakerState.WithLabelValues(endpoint).Set(breakerStateValue[state])
}

// RecordRetry implements MetricsProvider.
func (p *PrometheusMetricsProvider) RecordRetry(endpoint string) {
	p.retryTotal.WithLabelValues(endpoint).Inc()
}

// RecordCacheHit implements MetricsProvider.
func (p *PrometheusMetricsProvider) RecordCacheHit() { p.cacheHits.Inc() }

// RecordCacheMiss implements MetricsProvider.
func (p *PrometheusMetricsProvider) RecordCacheMiss() { p.cacheMisses.Inc() }

// RecordActiveStreams implements MetricsProvider.
func (p *PrometheusMetricsProvider) RecordActiveStreams(n int) {
	p.activeStreams.Set(float64(n))
}

// Registry exposes the provider's registry so callers can mount the scrape
// handler on their own mux.
func (p *PrometheusMetricsProvider) Registry() *prometheus.Registry { return p.registry }

// Start serves the scrape endpoint when a port is configured.
func (p *PrometheusMetricsProvider) Start(ctx context.Context) error {
	if p.config.MetricsPort == 0 {
		return nil
	}
	mux := http.NewServeMux()
	mux.Handle(p.config.MetricsPath, promhttp.HandlerFor(p.registry, promhttp.HandlerOpts{}))
	p.server = &http.Server{
		Addr:              fmt.Sprintf(":%d", p.config.MetricsPort),
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		if err := p.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			// Server failure is not fatal to the gateway.
			_ = err
		}
	}()
	return nil
}

// Shutdown stops the scrape server.
func (p *PrometheusMetricsProvider) Shutdown(ctx context.Context) error {
	if p.server == nil {
		return nil
	}
	return p.server.Shutdown(ctx)
}

// NoopMetricsProvider discards all measurements.
type NoopMetricsProvider struct{}

func (NoopMetricsProvider) RecordInvocation(string, string, string, string, time.Duration) {}
func (NoopMetricsProvider) RecordAuthzDecision(string, time.Duration)                      {}
func (NoopMetricsProvider) RecordBreakerState(string, string)                              {}
func (NoopMetricsProvider) RecordRetry(string)                                             {}
func (NoopMetricsProvider) RecordCacheHit()                                                {}
func (NoopMetricsProvider) RecordCacheMiss()                                               {}
func (NoopMetricsProvider) RecordActiveStreams(int)                                        {}
func (NoopMetricsProvider) Start(context.Context) error                                    { return nil }
func (NoopMetricsProvider) Shutdown(context.Context) error                                 { return nil }

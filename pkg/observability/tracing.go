package observability

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"
	"go.opentelemetry.io/otel/trace"
)

// ExporterType selects the trace exporter.
type ExporterType string

const (
	// ExporterTypeOTLPGRPC exports traces via OTLP over gRPC.
	ExporterTypeOTLPGRPC ExporterType = "otlp-grpc"
	// ExporterTypeOTLPHTTP exports traces via OTLP over HTTP.
	ExporterTypeOTLPHTTP ExporterType = "otlp-http"
	// ExporterTypeNoop disables export; spans are still created.
	ExporterTypeNoop ExporterType = "noop"
)

// TracingConfig configures OpenTelemetry tracing.
type TracingConfig struct {
	ServiceName    string
	ServiceVersion string
	Environment    string

	ExporterType ExporterType
	Endpoint     string
	Headers      map[string]string
	Insecure     bool

	// SampleRate is 0.0 to 1.0; zero value means sample everything.
	SampleRate float64

	ResourceAttributes map[string]string
}

// TracingProvider owns the tracer used for per-invocation spans.
type TracingProvider struct {
	config         TracingConfig
	tracerProvider *sdktrace.TracerProvider
	tracer         trace.Tracer
	propagator     propagation.TextMapPropagator
}

// NewTracingProvider creates a provider and installs it globally.
func NewTracingProvider(config TracingConfig) (*TracingProvider, error) {
	if config.ServiceName == "" {
		config.ServiceName = "wardgate"
	}
	if config.ServiceVersion == "" {
		config.ServiceVersion = "unknown"
	}
	if config.Environment == "" {
		config.Environment = "development"
	}
	if config.SampleRate == 0 {
		config.SampleRate = 1.0
	}
	if config.ExporterType == "" {
		config.ExporterType = ExporterTypeNoop
	}

	res, err := createResource(config)
	if err != nil {
		return nil, fmt.Errorf("create resource: %w", err)
	}
	exporter, err := createExporter(config)
	if err != nil {
		return nil, fmt.Errorf("create exporter: %w", err)
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(createSampler(config)),
	)
	otel.SetTracerProvider(tp)

	propagator := propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	)
	otel.SetTextMapPropagator(propagator)

	return &TracingProvider{
		config:         config,
		tracerProvider: tp,
		tracer:         tp.Tracer("wardgate"),
		propagator:     propagator,
	}, nil
}

func createResource(config TracingConfig) (*resource.Resource, error) {
	attrs := []attribute.KeyValue{
		semconv.ServiceName(config.ServiceName),
		semconv.ServiceVersion(config.ServiceVersion),
		semconv.DeploymentEnvironment(config.Environment),
	}
	for k, v := range config.ResourceAttributes {
		attrs = append(attrs, attribute.String(k, v))
	}
	return resource.NewWithAttributes(semconv.SchemaURL, attrs...), nil
}

func createExporter(config TracingConfig) (sdktrace.SpanExporter, error) {
	switch config.ExporterType {
	case ExporterTypeOTLPGRPC:
		opts := []otlptracegrpc.Option{
			otlptracegrpc.WithEndpoint(config.Endpoint),
			otlptracegrpc.WithHeaders(config.Headers),
		}
		if config.Insecure {
			opts = append(opts, otlptracegrpc.WithInsecure())
		}
		return otlptrace.New(context.Background(), otlptracegrpc.NewClient(opts...))
	case ExporterTypeOTLPHTTP:
		opts := []otlptracehttp.Option{
			otlptracehttp.WithEndpoint(config.Endpoint),
			otlptracehttp.WithHeaders(config.Headers),
		}
		if config.Insecure {
			opts = append(opts, otlptracehttp.WithInsecure())
		}
		return otlptrace.New(context.Background(), otlptracehttp.NewClient(opts...))
	case ExporterTypeNoop:
		return &noopExporter{}, nil
	default:
		return nil, fmt.Errorf("unsupported exporter type: %s", config.ExporterType)
	}
}

func createSampler(config TracingConfig) sdktrace.Sampler {
	if config.SampleRate >= 1.0 {
		return sdktrace.AlwaysSample()
	}
	if config.SampleRate <= 0.0 {
		return sdktrace.NeverSample()
	}
	return sdktrace.TraceIDRatioBased(config.SampleRate)
}

// StartInvokeSpan starts the span covering one tool invocation.
func (tp *TracingProvider) StartInvokeSpan(ctx context.Context, server, tool, transport string) (context.Context, trace.Span) {
	return tp.tracer.Start(ctx, fmt.Sprintf("gateway.invoke %s/%s", server, tool),
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("gateway.server", server),
			attribute.String("gateway.tool", tool),
			attribute.String("gateway.transport", transport),
		),
	)
}

// RecordError records err on the span in ctx, if any.
func (tp *TracingProvider) RecordError(ctx context.Context, err error) {
	span := trace.SpanFromContext(ctx)
	if span.IsRecording() {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
}

// Inject writes the current trace context into carrier headers.
func (tp *TracingProvider) Inject(ctx context.Context, carrier propagation.TextMapCarrier) {
	tp.propagator.Inject(ctx, carrier)
}

// Shutdown flushes pending spans.
func (tp *TracingProvider) Shutdown(ctx context.Context) error {
	return tp.tracerProvider.Shutdown(ctx)
}

type noopExporter struct{}

func (n *noopExporter) ExportSpans(ctx context.Context, spans []sdktrace.ReadOnlySpan) error {
	return nil
}

func (n *noopExporter) Shutdown(ctx context.Context) error { return nil }

package transport

import (
	"context"
	"time"
)

// Kind identifies a transport discipline.
type Kind string

const (
	KindHTTP  Kind = "http"
	KindSSE   Kind = "sse"
	KindStdio Kind = "stdio"
)

// Transport is the contract shared by all three disciplines. Discipline-
// specific operations (Invoke, Subscribe, SendRequest) live on the concrete
// types; the gateway client selects the concrete type per call.
type Transport interface {
	// Kind identifies the discipline.
	Kind() Kind
	// Connect establishes the transport's underlying resource. Idempotent.
	Connect(ctx context.Context) error
	// HealthCheck reports whether the transport can currently serve calls.
	HealthCheck(ctx context.Context) error
	// Disconnect releases the transport's resources. Safe to call more
	// than once.
	Disconnect() error
}

var (
	_ Transport = (*HTTPTransport)(nil)
	_ Transport = (*SSETransport)(nil)
	_ Transport = (*StdioTransport)(nil)
)

const (
	// DefaultMaxConnections bounds the HTTP transport's connection pool.
	DefaultMaxConnections = 50
	// DefaultRequestTimeout bounds a single HTTP round trip. The gateway
	// operation deadline is enforced above the transport.
	DefaultRequestTimeout = 30 * time.Second
	// DefaultMaxStreams bounds concurrent SSE subscriptions.
	DefaultMaxStreams = 10
)

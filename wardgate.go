// Package wardgate provides a policy-governed client for MCP gateways.
//
// Every tool invocation passes three layers before any transport is
// touched: request validation, an authorization decision from an external
// policy engine, and a resilience pipeline (circuit breaker, retry with
// exponential backoff, per-operation timeout). Three transports are
// supported: HTTP for request/response, SSE for event streaming, and stdio
// for locally spawned MCP server processes.
//
// The sub-packages:
//
//   - pkg/gateway: the Client facade and its configuration
//   - pkg/authz: the authorization gate and policy engine contract
//   - pkg/resilience: circuit breaker, retry and timeout composition
//   - pkg/transport: the HTTP, SSE and stdio transports
//   - pkg/protocol: wire types shared by the transports
//   - pkg/errors: the gateway error taxonomy
//   - pkg/audit: fire-and-forget decision and outcome logging
//   - pkg/observability: Prometheus metrics and OpenTelemetry tracing
//   - pkg/logging: zerolog setup shared by client and tooling
//
// A minimal invocation:
//
//	cfg := gateway.DefaultConfig(
//	    "https://gateway.example.com",
//	    "https://opa.example.com/v1/data/gateway/allow",
//	)
//	client, err := wardgate.NewClient(cfg)
//	if err != nil {
//	    // handle error
//	}
//	defer client.Close()
//
//	result, err := client.Invoke(ctx, "tools/call", "postgres-mcp", "list_tables",
//	    nil, authz.UserContext{UserID: "u-100", Roles: []string{"analyst"}})
package wardgate

import (
	"github.com/wardgate/mcp-gateway-go/pkg/gateway"
	"github.com/wardgate/mcp-gateway-go/pkg/logging"
	"github.com/wardgate/mcp-gateway-go/pkg/transport"
)

// Version is the current client library version.
const Version = "1.0.0"

// Core construction and configuration.
var (
	// NewClient builds a gateway client from a Config.
	NewClient = gateway.NewClient

	// DefaultConfig returns production defaults for the given endpoints.
	DefaultConfig = gateway.DefaultConfig

	// LoadConfig reads a YAML config file with ${VAR} expansion.
	LoadConfig = gateway.LoadConfig

	// NewLogger builds the structured logger the client expects.
	NewLogger = logging.New
)

// Client options.
var (
	WithLogger          = gateway.WithLogger
	WithMetricsProvider = gateway.WithMetricsProvider
	WithTracingProvider = gateway.WithTracingProvider
	WithPolicyClient    = gateway.WithPolicyClient
)

// Transport modes.
const (
	ModeAuto  = gateway.ModeAuto
	ModeHTTP  = gateway.ModeHTTP
	ModeSSE   = gateway.ModeSSE
	ModeStdio = gateway.ModeStdio
)

// Transport kinds, as reported in metrics and audit events.
const (
	KindHTTP  = transport.KindHTTP
	KindSSE   = transport.KindSSE
	KindStdio = transport.KindStdio
)

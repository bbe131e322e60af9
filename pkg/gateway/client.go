// Package gateway is the public facade of the WardGate client. Every tool
// invocation passes the authorization gate, then the resilience pipeline,
// then one of the three transports.
package gateway

import (
	"context"
	stderrors "errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/wardgate/mcp-gateway-go/pkg/audit"
	"github.com/wardgate/mcp-gateway-go/pkg/authz"
	"github.com/wardgate/mcp-gateway-go/pkg/errors"
	"github.com/wardgate/mcp-gateway-go/pkg/observability"
	"github.com/wardgate/mcp-gateway-go/pkg/protocol"
	"github.com/wardgate/mcp-gateway-go/pkg/resilience"
	"github.com/wardgate/mcp-gateway-go/pkg/transport"
)

// HTTPAPI is the slice of the HTTP transport the client dispatches through.
// Satisfied by *transport.HTTPTransport; swapped for a mock in tests.
type HTTPAPI interface {
	Connect(ctx context.Context) error
	HealthCheck(ctx context.Context) error
	Disconnect() error
	ListServers(ctx context.Context, page protocol.PaginationParams) (*protocol.ServersPage, error)
	GetServer(ctx context.Context, serverName string) (*protocol.ServerInfo, error)
	ListTools(ctx context.Context, serverName string, page protocol.PaginationParams) (*protocol.ToolsPage, error)
	Invoke(ctx context.Context, req *protocol.InvokeRequest) (*protocol.InvokeResult, error)
}

// Metrics is the client's aggregate counters snapshot.
type Metrics struct {
	RequestCount  uint64                               `json:"request_count"`
	FailureCount  uint64                               `json:"failure_count"`
	CacheHitRate  float64                              `json:"cache_hit_rate"`
	CacheEntries  int                                  `json:"cache_entries"`
	AuditDropped  uint64                               `json:"audit_dropped"`
	ActiveStreams int                                  `json:"active_streams"`
	BreakerStates map[string]resilience.BreakerMetrics `json:"breaker_states"`
	PolicyBreaker resilience.BreakerMetrics            `json:"policy_breaker"`
}

// Option customizes client construction.
type Option func(*Client)

// WithLogger sets the structured logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(c *Client) { c.logger = logger }
}

// WithMetricsProvider sets the metrics sink.
func WithMetricsProvider(m observability.MetricsProvider) Option {
	return func(c *Client) { c.metrics = m }
}

// WithTracingProvider enables per-invocation spans.
func WithTracingProvider(t *observability.TracingProvider) Option {
	return func(c *Client) { c.tracing = t }
}

// WithPolicyClient overrides the HTTP policy client; used by embedders with
// an in-process PDP and by tests.
func WithPolicyClient(p authz.PolicyClient) Option {
	return func(c *Client) { c.policyOverride = p }
}

// WithHTTPTransport overrides the HTTP transport; used in tests.
func WithHTTPTransport(t HTTPAPI) Option {
	return func(c *Client) { c.httpAPI = t }
}

// Client is the gateway facade. One instance is shared by many concurrent
// callers; transports are constructed lazily on first use.
type Client struct {
	config  Config
	logger  zerolog.Logger
	metrics observability.MetricsProvider
	tracing *observability.TracingProvider

	handler *resilience.Handler
	gate    *authz.Gate
	emitter *audit.Emitter
	cache   *responseCache

	policyOverride authz.PolicyClient

	mu       sync.Mutex
	httpAPI  HTTPAPI
	httpInit bool
	sse      *transport.SSETransport
	locals   map[string]*localEntry
	closed   bool

	requestCount atomic.Uint64
	failureCount atomic.Uint64
}

type localEntry struct {
	config transport.StdioConfig
	handle *transport.StdioTransport
}

// NewClient builds a client from config. No network traffic happens here;
// transports connect on first use.
func NewClient(config Config, opts ...Option) (*Client, error) {
	config.applyDefaults()
	if err := config.Validate(); err != nil {
		return nil, err
	}

	c := &Client{
		config:  config,
		logger:  zerolog.Nop(),
		metrics: observability.NoopMetricsProvider{},
		locals:  make(map[string]*localEntry),
	}
	for _, opt := range opts {
		opt(c)
	}

	c.handler = resilience.NewHandler(config.Resilience, c.logger)
	c.handler.OnStateChange(func(endpoint string, from, to resilience.State) {
		c.metrics.RecordBreakerState(endpoint, to.String())
	})
	c.handler.OnRetry(func(endpoint string) {
		c.metrics.RecordRetry(endpoint)
	})
	c.emitter = audit.NewEmitter(c.logger, config.AuditBufferSize)
	c.cache = newResponseCache(config.Cache)

	policy := c.policyOverride
	if policy == nil {
		p, err := authz.NewHTTPPolicyClient(config.PolicyEndpoint, config.Headers)
		if err != nil {
			return nil, err
		}
		policy = p
	}
	c.gate = authz.NewGate(policy, config.Authz, c.emitter, c.logger)

	c.logger.Info().
		Str("gateway_url", config.GatewayURL).
		Str("transport_mode", string(config.TransportMode)).
		Msg("gateway client initialized")
	return c, nil
}

// Invoke runs one governed tool invocation: validate, authorize, dispatch.
// A denial, a validation failure or a policy-engine outage all fail before
// any transport is touched.
func (c *Client) Invoke(ctx context.Context, action, serverName, toolName string, parameters map[string]interface{}, user authz.UserContext) (*protocol.InvokeResult, error) {
	if err := c.checkOpen(); err != nil {
		return nil, err
	}
	c.requestCount.Add(1)
	start := time.Now()

	if err := validateInvoke(action, serverName, toolName); err != nil {
		c.failureCount.Add(1)
		return nil, err
	}
	requestID := uuid.NewString()
	if parameters == nil {
		parameters = map[string]interface{}{}
	}

	kind, err := pickTransport(c.config.TransportMode, opInvoke, c.hasLocal(serverName))
	if err != nil {
		c.failureCount.Add(1)
		return nil, err
	}

	if c.tracing != nil {
		spanCtx, span := c.tracing.StartInvokeSpan(ctx, serverName, toolName, string(kind))
		defer span.End()
		ctx = spanCtx
	}

	result, err := c.invokeAuthorized(ctx, kind, action, serverName, toolName, parameters, user, requestID)
	duration := time.Since(start)

	status := "success"
	if err != nil {
		status = "error"
		c.failureCount.Add(1)
		if c.tracing != nil {
			c.tracing.RecordError(ctx, err)
		}
	}
	c.metrics.RecordInvocation(serverName, toolName, string(kind), status, duration)
	c.emitter.Emit(audit.Event{
		RequestID: requestID,
		User:      user.Username,
		Action:    action,
		Server:    serverName,
		Tool:      toolName,
		Transport: string(kind),
		Outcome:   status,
		Duration:  duration,
	})

	if err != nil {
		return nil, decorate(err, requestID, serverName, toolName, string(kind))
	}
	return result, nil
}

func (c *Client) invokeAuthorized(ctx context.Context, kind transport.Kind, action, serverName, toolName string, parameters map[string]interface{}, user authz.UserContext, requestID string) (*protocol.InvokeResult, error) {
	authzStart := time.Now()
	decision, err := c.gate.Authorize(ctx, &authz.Request{
		User:       user,
		Action:     action,
		ServerName: serverName,
		ToolName:   toolName,
		Parameters: parameters,
		RequestID:  requestID,
	})
	switch {
	case err != nil:
		// Fail closed: policy unavailability is a denial.
		c.metrics.RecordAuthzDecision("error", time.Since(authzStart))
		return nil, err
	case !decision.Allow:
		c.metrics.RecordAuthzDecision("deny", time.Since(authzStart))
		return nil, errors.AuthorizationDenied(decision.Reason)
	}
	c.metrics.RecordAuthzDecision("allow", time.Since(authzStart))
	if decision.FilteredParameters != nil {
		parameters = decision.FilteredParameters
	}

	switch kind {
	case transport.KindStdio:
		return c.invokeLocal(ctx, serverName, toolName, parameters)
	default:
		return c.invokeHTTP(ctx, action, serverName, toolName, parameters, requestID)
	}
}

func (c *Client) invokeHTTP(ctx context.Context, action, serverName, toolName string, parameters map[string]interface{}, requestID string) (*protocol.InvokeResult, error) {
	key := cacheKey(action, serverName, toolName, parameters)
	if cached, ok := c.cache.get(key); ok {
		c.metrics.RecordCacheHit()
		return cached, nil
	}
	c.metrics.RecordCacheMiss()

	api, err := c.http(ctx)
	if err != nil {
		return nil, err
	}

	var result *protocol.InvokeResult
	err = c.handler.Execute(ctx, c.config.GatewayURL, func(ctx context.Context) error {
		r, callErr := api.Invoke(ctx, &protocol.InvokeRequest{
			ServerName: serverName,
			ToolName:   toolName,
			Parameters: parameters,
			RequestID:  requestID,
		})
		if callErr != nil {
			return callErr
		}
		result = r
		return nil
	})
	if err != nil {
		return nil, err
	}
	c.cache.set(key, result)
	return result, nil
}

func (c *Client) invokeLocal(ctx context.Context, serverName, toolName string, parameters map[string]interface{}) (*protocol.InvokeResult, error) {
	handle, err := c.local(ctx, serverName)
	if err != nil {
		return nil, err
	}

	var result *protocol.InvokeResult
	err = c.handler.Execute(ctx, "stdio:"+serverName, func(ctx context.Context) error {
		// A dead handle is replaced before the attempt, never retried
		// against.
		h := handle
		if !h.Alive() {
			var reErr error
			if h, reErr = c.recreateLocal(ctx, serverName); reErr != nil {
				return reErr
			}
			handle = h
		}
		raw, callErr := h.SendRequest(ctx, "tools/call", map[string]interface{}{
			"name":      toolName,
			"arguments": parameters,
		})
		if callErr != nil {
			return callErr
		}
		result = &protocol.InvokeResult{Result: raw}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// ListServers fetches one page of registered servers.
func (c *Client) ListServers(ctx context.Context, page protocol.PaginationParams) (*protocol.ServersPage, error) {
	if err := c.checkOpen(); err != nil {
		return nil, err
	}
	api, err := c.http(ctx)
	if err != nil {
		return nil, err
	}
	var out *protocol.ServersPage
	err = c.handler.Execute(ctx, c.config.GatewayURL, func(ctx context.Context) error {
		p, callErr := api.ListServers(ctx, page)
		if callErr != nil {
			return callErr
		}
		out = p
		return nil
	})
	return out, err
}

// ListAllServers follows cursors until the listing is exhausted.
func (c *Client) ListAllServers(ctx context.Context) ([]protocol.ServerInfo, error) {
	var all []protocol.ServerInfo
	page := protocol.PaginationParams{}
	for {
		p, err := c.ListServers(ctx, page)
		if err != nil {
			return nil, err
		}
		all = append(all, p.Servers...)
		if p.NextCursor == "" {
			return all, nil
		}
		page.Cursor = p.NextCursor
	}
}

// GetServerInfo fetches one server's registration record.
func (c *Client) GetServerInfo(ctx context.Context, serverName string) (*protocol.ServerInfo, error) {
	if err := c.checkOpen(); err != nil {
		return nil, err
	}
	api, err := c.http(ctx)
	if err != nil {
		return nil, err
	}
	var out *protocol.ServerInfo
	err = c.handler.Execute(ctx, c.config.GatewayURL, func(ctx context.Context) error {
		info, callErr := api.GetServer(ctx, serverName)
		if callErr != nil {
			return callErr
		}
		out = info
		return nil
	})
	return out, err
}

// ListTools fetches one page of tools, optionally scoped to a server.
func (c *Client) ListTools(ctx context.Context, serverName string, page protocol.PaginationParams) (*protocol.ToolsPage, error) {
	if err := c.checkOpen(); err != nil {
		return nil, err
	}
	api, err := c.http(ctx)
	if err != nil {
		return nil, err
	}
	var out *protocol.ToolsPage
	err = c.handler.Execute(ctx, c.config.GatewayURL, func(ctx context.Context) error {
		p, callErr := api.ListTools(ctx, serverName, page)
		if callErr != nil {
			return callErr
		}
		out = p
		return nil
	})
	return out, err
}

// ListAllTools follows cursors until the listing is exhausted.
func (c *Client) ListAllTools(ctx context.Context, serverName string) ([]protocol.ToolInfo, error) {
	var all []protocol.ToolInfo
	page := protocol.PaginationParams{}
	for {
		p, err := c.ListTools(ctx, serverName, page)
		if err != nil {
			return nil, err
		}
		all = append(all, p.Tools...)
		if p.NextCursor == "" {
			return all, nil
		}
		page.Cursor = p.NextCursor
	}
}

// StreamEvents opens an SSE subscription. Available in auto and sse modes.
func (c *Client) StreamEvents(ctx context.Context, opts transport.SubscribeOptions) (*transport.Stream, error) {
	if err := c.checkOpen(); err != nil {
		return nil, err
	}
	if _, err := pickTransport(c.config.TransportMode, opStream, false); err != nil {
		return nil, err
	}

	sse, err := c.sseTransport()
	if err != nil {
		return nil, err
	}
	stream, err := sse.Subscribe(ctx, opts)
	if err != nil {
		return nil, err
	}
	c.metrics.RecordActiveStreams(sse.ActiveStreams())
	return stream, nil
}

// ConnectLocalServer spawns a local MCP server process and registers it
// under serverName. In auto mode, invocations for that server then route
// over stdio.
func (c *Client) ConnectLocalServer(ctx context.Context, serverName string, config transport.StdioConfig) (*LocalServer, error) {
	if err := c.checkOpen(); err != nil {
		return nil, err
	}
	if serverName == "" {
		return nil, errors.MissingParameter("server_name")
	}

	handle, err := transport.NewStdioTransport(config, c.logger)
	if err != nil {
		return nil, err
	}
	if err := handle.Connect(ctx); err != nil {
		return nil, err
	}

	c.mu.Lock()
	if old, ok := c.locals[serverName]; ok && old.handle != nil {
		_ = old.handle.Disconnect()
	}
	c.locals[serverName] = &localEntry{config: config, handle: handle}
	c.mu.Unlock()

	return &LocalServer{name: serverName, client: c}, nil
}

// HealthCheck probes every constructed transport plus the policy breaker.
// Transports never constructed are absent from the result.
func (c *Client) HealthCheck(ctx context.Context) map[string]bool {
	if c.checkOpen() != nil {
		return map[string]bool{}
	}
	out := make(map[string]bool)

	c.mu.Lock()
	api := c.httpAPI
	httpInit := c.httpInit
	sse := c.sse
	locals := make(map[string]*localEntry, len(c.locals))
	for name, entry := range c.locals {
		locals[name] = entry
	}
	c.mu.Unlock()

	if httpInit && api != nil {
		out["http"] = api.HealthCheck(ctx) == nil
	}
	if sse != nil {
		out["sse"] = sse.HealthCheck(ctx) == nil
	}
	for name, entry := range locals {
		if entry.handle != nil {
			out["stdio:"+name] = entry.handle.HealthCheck(ctx) == nil
		}
	}
	out["policy"] = c.gate.BreakerMetrics().State == resilience.StateClosed
	return out
}

// Metrics returns a counters snapshot.
func (c *Client) Metrics() Metrics {
	m := Metrics{
		RequestCount: c.requestCount.Load(),
		FailureCount: c.failureCount.Load(),
		CacheHitRate: c.cache.hitRate(),
		CacheEntries: c.cache.len(),
		AuditDropped: c.emitter.Dropped(),
	}
	m.BreakerStates = c.handler.Metrics().BreakersByEndpoint
	m.PolicyBreaker = c.gate.BreakerMetrics()

	c.mu.Lock()
	if c.sse != nil {
		m.ActiveStreams = c.sse.ActiveStreams()
	}
	c.mu.Unlock()
	return m
}

// InvalidateCache drops every cached response.
func (c *Client) InvalidateCache() { c.cache.invalidate() }

// ResetBreaker forces one endpoint's breaker back to CLOSED.
func (c *Client) ResetBreaker(endpoint string) { c.handler.ResetBreaker(endpoint) }

// Close releases every constructed transport. Best effort: all transports
// are attempted and the failures reported together.
func (c *Client) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	api := c.httpAPI
	httpInit := c.httpInit
	sse := c.sse
	locals := c.locals
	c.locals = make(map[string]*localEntry)
	c.mu.Unlock()

	var errs []error
	if httpInit && api != nil {
		if err := api.Disconnect(); err != nil {
			errs = append(errs, fmt.Errorf("http: %w", err))
		}
	}
	if sse != nil {
		if err := sse.Disconnect(); err != nil {
			errs = append(errs, fmt.Errorf("sse: %w", err))
		}
	}
	for name, entry := range locals {
		if entry.handle == nil {
			continue
		}
		if err := entry.handle.Disconnect(); err != nil {
			errs = append(errs, fmt.Errorf("stdio %s: %w", name, err))
		}
	}
	c.emitter.Close()

	c.logger.Info().Int("close_errors", len(errs)).Msg("gateway client closed")
	return stderrors.Join(errs...)
}

// http returns the HTTP transport, constructing it on first use.
func (c *Client) http(ctx context.Context) (HTTPAPI, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.httpAPI != nil {
		c.httpInit = true
		return c.httpAPI, nil
	}
	cfg := c.config.HTTP
	tr, err := transport.NewHTTPTransport(cfg, c.logger)
	if err != nil {
		return nil, err
	}
	c.httpAPI = tr
	c.httpInit = true
	return tr, nil
}

// sseTransport returns the SSE transport, constructing it on first use.
func (c *Client) sseTransport() (*transport.SSETransport, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sse != nil {
		return c.sse, nil
	}
	tr, err := transport.NewSSETransport(c.config.SSE, c.logger)
	if err != nil {
		return nil, err
	}
	c.sse = tr
	return tr, nil
}

// local returns a live stdio handle for serverName, replacing a dead one.
func (c *Client) local(ctx context.Context, serverName string) (*transport.StdioTransport, error) {
	c.mu.Lock()
	entry, ok := c.locals[serverName]
	c.mu.Unlock()
	if !ok {
		return nil, errors.Validation(fmt.Sprintf("no local server registered as %q", serverName))
	}
	if entry.handle != nil && entry.handle.Alive() {
		return entry.handle, nil
	}
	return c.recreateLocal(ctx, serverName)
}

// recreateLocal replaces a dead stdio handle with a fresh process.
func (c *Client) recreateLocal(ctx context.Context, serverName string) (*transport.StdioTransport, error) {
	c.mu.Lock()
	entry, ok := c.locals[serverName]
	if !ok {
		c.mu.Unlock()
		return nil, errors.Validation(fmt.Sprintf("no local server registered as %q", serverName))
	}
	if entry.handle != nil && entry.handle.Alive() {
		handle := entry.handle
		c.mu.Unlock()
		return handle, nil
	}
	cfg := entry.config
	c.mu.Unlock()

	handle, err := transport.NewStdioTransport(cfg, c.logger)
	if err != nil {
		return nil, err
	}
	if err := handle.Connect(ctx); err != nil {
		return nil, err
	}
	c.logger.Info().Str("server", serverName).Msg("recreated local server process")

	c.mu.Lock()
	c.locals[serverName] = &localEntry{config: cfg, handle: handle}
	c.mu.Unlock()
	return handle, nil
}

func (c *Client) hasLocal(serverName string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.locals[serverName]
	return ok
}

func (c *Client) checkOpen() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return errors.ClientClosed()
	}
	return nil
}

func validateInvoke(action, serverName, toolName string) error {
	switch {
	case action == "":
		return errors.MissingParameter("action")
	case serverName == "":
		return errors.MissingParameter("server_name")
	case toolName == "":
		return errors.MissingParameter("tool_name")
	}
	return nil
}

// operation kinds for transport selection.
type opKind int

const (
	opInvoke opKind = iota
	opStream
)

// pickTransport is a pure function of (mode, operation, local availability)
// so selection stays testable without constructing transports.
func pickTransport(mode TransportMode, op opKind, hasLocal bool) (transport.Kind, error) {
	switch op {
	case opStream:
		switch mode {
		case ModeAuto, ModeSSE:
			return transport.KindSSE, nil
		default:
			return "", errors.TransportNotAvailable(string(transport.KindSSE), string(mode))
		}
	default:
		switch mode {
		case ModeHTTP:
			return transport.KindHTTP, nil
		case ModeStdio:
			return transport.KindStdio, nil
		case ModeSSE:
			return "", errors.TransportNotAvailable(string(transport.KindHTTP), string(mode))
		default: // auto
			if hasLocal {
				return transport.KindStdio, nil
			}
			return transport.KindHTTP, nil
		}
	}
}

// decorate attaches request context to a terminal failure so callers can
// tell denied, unavailable and timed out apart in logs.
func decorate(err error, requestID, server, tool, transportName string) error {
	var ge errors.GatewayError
	if stderrors.As(err, &ge) {
		return ge.WithContext(&errors.Context{
			RequestID: requestID,
			Server:    server,
			Tool:      tool,
			Transport: transportName,
			Component: "gateway_client",
			Operation: "invoke",
		})
	}
	return err
}

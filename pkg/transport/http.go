package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/wardgate/mcp-gateway-go/pkg/errors"
	"github.com/wardgate/mcp-gateway-go/pkg/protocol"
)

// HTTPConfig configures the request/response transport against the gateway
// REST API.
type HTTPConfig struct {
	// BaseURL is the gateway root, e.g. "https://gateway.internal:4444".
	BaseURL string `yaml:"base_url" validate:"required,url"`
	// MaxConnections bounds the pooled connections per host.
	MaxConnections int `yaml:"max_connections" validate:"min=0"`
	// RequestTimeout bounds a single round trip.
	RequestTimeout time.Duration `yaml:"request_timeout" validate:"min=0"`
	// Headers are added to every request (auth tokens, tracing baggage).
	Headers map[string]string `yaml:"headers"`
}

// HTTPTransport talks to the gateway's REST API over a pooled client.
type HTTPTransport struct {
	config HTTPConfig
	client *http.Client
	logger zerolog.Logger
}

// NewHTTPTransport builds the transport. The connection pool is created
// eagerly; Connect only verifies reachability.
func NewHTTPTransport(config HTTPConfig, logger zerolog.Logger) (*HTTPTransport, error) {
	if config.BaseURL == "" {
		return nil, errors.Validation("http transport requires a base_url")
	}
	if config.MaxConnections <= 0 {
		config.MaxConnections = DefaultMaxConnections
	}
	if config.RequestTimeout <= 0 {
		config.RequestTimeout = DefaultRequestTimeout
	}
	config.BaseURL = strings.TrimRight(config.BaseURL, "/")

	pool := &http.Transport{
		MaxIdleConns:        config.MaxConnections,
		MaxIdleConnsPerHost: config.MaxConnections,
		MaxConnsPerHost:     config.MaxConnections,
		IdleConnTimeout:     90 * time.Second,
	}
	return &HTTPTransport{
		config: config,
		client: &http.Client{Transport: pool, Timeout: config.RequestTimeout},
		logger: logger.With().Str("transport", "http").Logger(),
	}, nil
}

// Kind implements Transport.
func (t *HTTPTransport) Kind() Kind { return KindHTTP }

// Connect verifies the gateway answers its health endpoint.
func (t *HTTPTransport) Connect(ctx context.Context) error {
	return t.HealthCheck(ctx)
}

// HealthCheck issues GET /health.
func (t *HTTPTransport) HealthCheck(ctx context.Context) error {
	var out map[string]any
	return t.getJSON(ctx, "/health", nil, &out)
}

// Disconnect drops idle pooled connections.
func (t *HTTPTransport) Disconnect() error {
	t.client.CloseIdleConnections()
	return nil
}

// ListServers fetches one page of GET /servers.
func (t *HTTPTransport) ListServers(ctx context.Context, page protocol.PaginationParams) (*protocol.ServersPage, error) {
	var out protocol.ServersPage
	if err := t.getJSON(ctx, "/servers", pageQuery(page), &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// GetServer fetches GET /servers/{name}.
func (t *HTTPTransport) GetServer(ctx context.Context, serverName string) (*protocol.ServerInfo, error) {
	if serverName == "" {
		return nil, errors.MissingParameter("server_name")
	}
	var out protocol.ServerInfo
	if err := t.getJSON(ctx, "/servers/"+url.PathEscape(serverName), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// ListTools fetches one page of GET /tools, optionally scoped to one server.
func (t *HTTPTransport) ListTools(ctx context.Context, serverName string, page protocol.PaginationParams) (*protocol.ToolsPage, error) {
	q := pageQuery(page)
	if serverName != "" {
		q.Set("server", serverName)
	}
	var out protocol.ToolsPage
	if err := t.getJSON(ctx, "/tools", q, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Invoke issues POST /invoke and returns the tool result.
func (t *HTTPTransport) Invoke(ctx context.Context, req *protocol.InvokeRequest) (*protocol.InvokeResult, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, errors.Validation(fmt.Sprintf("encode invoke request: %v", err))
	}
	var out protocol.InvokeResult
	if err := t.doJSON(ctx, http.MethodPost, "/invoke", nil, body, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func pageQuery(page protocol.PaginationParams) url.Values {
	page = page.ApplyDefaults()
	q := url.Values{}
	q.Set("limit", strconv.Itoa(page.Limit))
	if page.Cursor != "" {
		q.Set("cursor", page.Cursor)
	}
	return q
}

func (t *HTTPTransport) getJSON(ctx context.Context, path string, query url.Values, out any) error {
	return t.doJSON(ctx, http.MethodGet, path, query, nil, out)
}

func (t *HTTPTransport) doJSON(ctx context.Context, method, path string, query url.Values, body []byte, out any) error {
	u := t.config.BaseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}

	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, u, reader)
	if err != nil {
		return errors.Transport("http", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range t.config.Headers {
		req.Header.Set(k, v)
	}

	start := time.Now()
	resp, err := t.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return errors.ConnectionFailed("http", err)
	}
	defer resp.Body.Close() //nolint:errcheck

	t.logger.Debug().
		Str("method", method).
		Str("path", path).
		Int("status", resp.StatusCode).
		Dur("duration", time.Since(start)).
		Msg("gateway http call")

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return statusError(resp)
	}
	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return errors.MalformedResponse("http", err)
	}
	return nil
}

// statusError maps an HTTP failure status to the error taxonomy. 4xx is a
// caller problem and not retryable; 5xx is a server failure and retryable.
func statusError(resp *http.Response) error {
	snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
	msg := strings.TrimSpace(string(snippet))
	if msg == "" {
		msg = resp.Status
	}

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return errors.Validation(fmt.Sprintf("gateway returned 404: %s", msg))
	case resp.StatusCode >= 400 && resp.StatusCode < 500:
		return errors.Validation(fmt.Sprintf("gateway rejected request (%d): %s", resp.StatusCode, msg))
	default:
		return errors.Transport("http", fmt.Errorf("gateway returned %d: %s", resp.StatusCode, msg))
	}
}

// Package authz is the authorization gate every tool invocation passes
// before any transport dispatch. It consults an external policy decision
// point over HTTP, fails closed when that PDP is unreachable, and applies
// the decision's parameter filtering to the outbound request.
package authz

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/tidwall/gjson"

	"github.com/wardgate/mcp-gateway-go/pkg/errors"
)

// UserContext identifies the caller to the policy engine.
type UserContext struct {
	UserID   string   `json:"user_id,omitempty"`
	Username string   `json:"username,omitempty"`
	Teams    []string `json:"teams,omitempty"`
	Roles    []string `json:"roles,omitempty"`
}

// Request is the policy input for one invocation.
type Request struct {
	User       UserContext            `json:"user"`
	Action     string                 `json:"action"`
	ServerName string                 `json:"server_name"`
	ToolName   string                 `json:"tool_name"`
	Parameters map[string]interface{} `json:"parameters"`
	Context    map[string]interface{} `json:"context,omitempty"`
	RequestID  string                 `json:"-"`
}

// Decision is what the policy engine decided. FilteredParameters, when
// non-nil, must replace the request's parameters before dispatch.
type Decision struct {
	Allow              bool
	Reason             string
	FilteredParameters map[string]interface{}
	AuditID            string
	// CacheTTL is the engine's hint for how long this decision may be
	// reused; zero means no caching.
	CacheTTL time.Duration
}

// PolicyClient evaluates one request against the policy engine.
type PolicyClient interface {
	Evaluate(ctx context.Context, req *Request) (*Decision, error)
}

// HTTPPolicyClient speaks the PDP's REST contract:
// POST {endpoint} with {"input": {...}} returning {"result": {...}}.
type HTTPPolicyClient struct {
	endpoint string
	client   *http.Client
	headers  map[string]string
}

// NewHTTPPolicyClient builds a PDP client. The decision timeout is enforced
// by the gate, not here; the client timeout is a backstop.
func NewHTTPPolicyClient(endpoint string, headers map[string]string) (*HTTPPolicyClient, error) {
	if endpoint == "" {
		return nil, errors.Validation("policy client requires an endpoint")
	}
	return &HTTPPolicyClient{
		endpoint: endpoint,
		client:   &http.Client{Timeout: 30 * time.Second},
		headers:  headers,
	}, nil
}

// Evaluate implements PolicyClient.
func (c *HTTPPolicyClient) Evaluate(ctx context.Context, req *Request) (*Decision, error) {
	body, err := json.Marshal(map[string]interface{}{"input": req})
	if err != nil {
		return nil, errors.Validation(fmt.Sprintf("encode policy input: %v", err))
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, errors.Transport("policy", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	for k, v := range c.headers {
		httpReq.Header.Set(k, v)
	}

	resp, err := c.client.Do(httpReq)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, errors.ConnectionFailed("policy", err)
	}
	defer resp.Body.Close() //nolint:errcheck

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, errors.Transport("policy", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, errors.Transport("policy", fmt.Errorf("policy endpoint returned %d", resp.StatusCode))
	}
	return parseDecision(raw)
}

// parseDecision reads the PDP response leniently: engines differ in which
// optional fields they emit, so anything beyond result.allow is best-effort.
func parseDecision(raw []byte) (*Decision, error) {
	if !gjson.ValidBytes(raw) {
		return nil, errors.MalformedResponse("policy", fmt.Errorf("invalid json in policy response"))
	}
	result := gjson.GetBytes(raw, "result")
	if !result.Exists() {
		return nil, errors.MalformedResponse("policy", fmt.Errorf("policy response missing result"))
	}

	d := &Decision{
		Allow:   result.Get("allow").Bool(),
		Reason:  result.Get("reason").String(),
		AuditID: result.Get("audit_id").String(),
	}
	if ttl := result.Get("cache_ttl"); ttl.Exists() {
		d.CacheTTL = time.Duration(ttl.Float() * float64(time.Second))
	}
	if fp := result.Get("filtered_parameters"); fp.Exists() && fp.IsObject() {
		if m, ok := fp.Value().(map[string]interface{}); ok {
			d.FilteredParameters = m
		}
	}
	return d, nil
}

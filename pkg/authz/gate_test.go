package authz

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	gwerrors "github.com/wardgate/mcp-gateway-go/pkg/errors"
	"github.com/wardgate/mcp-gateway-go/pkg/resilience"
)

func newPDPServer(t *testing.T, handler http.HandlerFunc) *HTTPPolicyClient {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	client, err := NewHTTPPolicyClient(srv.URL+"/v1/data/gateway/authz", nil)
	require.NoError(t, err)
	return client
}

func fastGateConfig() GateConfig {
	cfg := DefaultGateConfig()
	cfg.Resilience.Retry.MaxAttempts = 1
	cfg.Resilience.Retry.BaseDelay = time.Millisecond
	return cfg
}

func testRequest() *Request {
	return &Request{
		User:       UserContext{Username: "alice", Teams: []string{"data"}, Roles: []string{"viewer"}},
		Action:     "tools/call",
		ServerName: "postgres-mcp",
		ToolName:   "execute_query",
		Parameters: map[string]interface{}{"query": "select 1", "password": "hunter2"},
		RequestID:  "req-1",
	}
}

func TestGateAllows(t *testing.T) {
	policy := newPDPServer(t, func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			Input Request `json:"input"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "alice", body.Input.User.Username)
		assert.Equal(t, "execute_query", body.Input.ToolName)

		_, _ = w.Write([]byte(`{"result":{"allow":true,"audit_id":"aud-7","cache_ttl":60}}`))
	})
	gate := NewGate(policy, fastGateConfig(), nil, zerolog.Nop())

	d, err := gate.Authorize(context.Background(), testRequest())
	require.NoError(t, err)
	assert.True(t, d.Allow)
	assert.Equal(t, "aud-7", d.AuditID)
	assert.Equal(t, time.Minute, d.CacheTTL)
	assert.Nil(t, d.FilteredParameters)
}

func TestGateDeniesWithReason(t *testing.T) {
	policy := newPDPServer(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"result":{"allow":false,"reason":"viewers cannot call high-sensitivity tools"}}`))
	})
	gate := NewGate(policy, fastGateConfig(), nil, zerolog.Nop())

	d, err := gate.Authorize(context.Background(), testRequest())
	require.NoError(t, err)
	assert.False(t, d.Allow)
	assert.Equal(t, "viewers cannot call high-sensitivity tools", d.Reason)
}

func TestGateReturnsFilteredParameters(t *testing.T) {
	policy := newPDPServer(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"result":{"allow":true,"filtered_parameters":{"query":"select 1"}}}`))
	})
	gate := NewGate(policy, fastGateConfig(), nil, zerolog.Nop())

	d, err := gate.Authorize(context.Background(), testRequest())
	require.NoError(t, err)
	require.NotNil(t, d.FilteredParameters)
	assert.Equal(t, map[string]interface{}{"query": "select 1"}, d.FilteredParameters)
}

func TestGateFailsClosedWhenPolicyDown(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	srv.Close() // nothing listening anymore

	policy, err := NewHTTPPolicyClient(srv.URL, nil)
	require.NoError(t, err)
	gate := NewGate(policy, fastGateConfig(), nil, zerolog.Nop())

	d, err := gate.Authorize(context.Background(), testRequest())
	assert.Nil(t, d)
	require.Error(t, err)
	assert.True(t, gwerrors.IsCode(err, gwerrors.CodePolicyUnavailable))
}

func TestGateFailsClosedOnMalformedResponse(t *testing.T) {
	policy := newPDPServer(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"no_result_here":true}`))
	})
	gate := NewGate(policy, fastGateConfig(), nil, zerolog.Nop())

	d, err := gate.Authorize(context.Background(), testRequest())
	assert.Nil(t, d)
	assert.True(t, gwerrors.IsCode(err, gwerrors.CodePolicyUnavailable))
}

func TestGateDecisionTimeout(t *testing.T) {
	policy := newPDPServer(t, func(w http.ResponseWriter, r *http.Request) {
		// Drain the body so the server can observe the client abandoning
		// the request; with unread body bytes, net/http never cancels
		// r.Context() and srv.Close would wait on this handler forever.
		_, _ = io.Copy(io.Discard, r.Body)
		<-r.Context().Done()
	})
	cfg := fastGateConfig()
	cfg.Resilience.OperationTimeout = 50 * time.Millisecond
	gate := NewGate(policy, cfg, nil, zerolog.Nop())

	start := time.Now()
	_, err := gate.Authorize(context.Background(), testRequest())
	require.Error(t, err)
	assert.True(t, gwerrors.IsCode(err, gwerrors.CodePolicyUnavailable))
	assert.Less(t, time.Since(start), 5*time.Second, "policy unavailability must not hang the request")
}

func TestGateHasItsOwnBreaker(t *testing.T) {
	var calls atomic.Int32
	policy := newPDPServer(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	})
	cfg := fastGateConfig()
	cfg.Resilience.Breaker.FailureThreshold = 2
	gate := NewGate(policy, cfg, nil, zerolog.Nop())

	for i := 0; i < 3; i++ {
		_, err := gate.Authorize(context.Background(), testRequest())
		require.Error(t, err)
	}
	assert.Equal(t, resilience.StateOpen, gate.BreakerMetrics().State)
	assert.Equal(t, int32(2), calls.Load(), "open breaker must stop reaching the policy engine")
}

func TestRedactMasksSensitiveKeysDeep(t *testing.T) {
	params := map[string]interface{}{
		"query":    "select 1",
		"password": "hunter2",
		"connection": map[string]interface{}{
			"host":      "db.internal",
			"api_token": "tok-123",
		},
	}
	out := Redact(params, nil)

	assert.Equal(t, "select 1", out["query"])
	assert.Equal(t, "[REDACTED]", out["password"])
	conn := out["connection"].(map[string]interface{})
	assert.Equal(t, "db.internal", conn["host"])
	assert.Equal(t, "[REDACTED]", conn["api_token"])

	// Originals untouched.
	assert.Equal(t, "hunter2", params["password"])
}

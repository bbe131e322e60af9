package gateway

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wardgate/mcp-gateway-go/pkg/resilience"
)

func writeConfigFile(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "wardgate.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadConfigExpandsEnvironment(t *testing.T) {
	t.Setenv("WARDGATE_TOKEN", "secret-token")
	path := writeConfigFile(t, `
gateway_url: https://gateway.example.com
policy_endpoint: https://opa.example.com/v1/data/gateway/allow
headers:
  Authorization: Bearer ${WARDGATE_TOKEN}
`)

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, "Bearer secret-token", cfg.Headers["Authorization"])
	assert.Equal(t, "Bearer secret-token", cfg.HTTP.Headers["Authorization"], "gateway headers propagate to the HTTP transport")
}

func TestLoadConfigAppliesDefaults(t *testing.T) {
	path := writeConfigFile(t, `
gateway_url: https://gateway.example.com
policy_endpoint: https://opa.example.com/v1/data/gateway/allow
`)

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, ModeAuto, cfg.TransportMode)
	assert.Equal(t, "https://gateway.example.com", cfg.HTTP.BaseURL)
	assert.Equal(t, "https://gateway.example.com", cfg.SSE.BaseURL)
	assert.Equal(t, resilience.DefaultHandlerConfig(), cfg.Resilience)
	assert.Equal(t, resilience.DefaultOperationTimeout, cfg.OperationTimeout)
	assert.Equal(t, 256, cfg.AuditBufferSize)
}

func TestLoadConfigKeepsExplicitResilience(t *testing.T) {
	path := writeConfigFile(t, `
gateway_url: https://gateway.example.com
policy_endpoint: https://opa.example.com/v1/data/gateway/allow
resilience:
  circuit_breaker:
    failure_threshold: 9
  retry:
    max_attempts: 2
    base_delay: 100ms
`)

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, 9, cfg.Resilience.Breaker.FailureThreshold)
	assert.Equal(t, 2, cfg.Resilience.Retry.MaxAttempts)
	assert.Equal(t, 100*time.Millisecond, cfg.Resilience.Retry.BaseDelay)

	// A partial block keeps the documented policy for what it omits.
	assert.Equal(t, resilience.DefaultJitterFraction, cfg.Resilience.Retry.JitterFraction)
	assert.False(t, cfg.Resilience.FinalOutcomeOnly)
	assert.Equal(t, resilience.DefaultOperationTimeout, cfg.Resilience.OperationTimeout)
}

func TestLoadConfigOperationTimeoutFlowsToResilience(t *testing.T) {
	path := writeConfigFile(t, `
gateway_url: https://gateway.example.com
policy_endpoint: https://opa.example.com/v1/data/gateway/allow
operation_timeout: 10s
`)

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, 10*time.Second, cfg.OperationTimeout)
	assert.Equal(t, 10*time.Second, cfg.Resilience.OperationTimeout)
}

func TestLoadConfigRejectsBadValues(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{name: "missing gateway url", body: `
policy_endpoint: https://opa.example.com/v1/data/gateway/allow
`},
		{name: "gateway url not a url", body: `
gateway_url: not-a-url
policy_endpoint: https://opa.example.com/v1/data/gateway/allow
`},
		{name: "unknown transport mode", body: `
gateway_url: https://gateway.example.com
policy_endpoint: https://opa.example.com/v1/data/gateway/allow
transport_mode: carrier-pigeon
`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadConfig(writeConfigFile(t, tt.body))
			assert.Error(t, err)
		})
	}
}

func TestLoadConfigMissingFile(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.Error(t, err)
}

func TestDefaultConfigValidates(t *testing.T) {
	cfg := DefaultConfig("https://gateway.example.com", "https://opa.example.com/v1/data/gateway/allow")
	assert.NoError(t, cfg.Validate())
}

package gateway

import (
	"fmt"
	"os"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/go-viper/mapstructure/v2"
	"gopkg.in/yaml.v3"

	"github.com/wardgate/mcp-gateway-go/pkg/authz"
	"github.com/wardgate/mcp-gateway-go/pkg/resilience"
	"github.com/wardgate/mcp-gateway-go/pkg/transport"
)

// TransportMode pins the client to one transport or lets it pick per call.
type TransportMode string

const (
	// ModeAuto selects per operation: request/response goes over HTTP,
	// streaming over SSE, and servers with a local process over stdio.
	ModeAuto  TransportMode = "auto"
	ModeHTTP  TransportMode = "http"
	ModeSSE   TransportMode = "sse"
	ModeStdio TransportMode = "stdio"
)

// Config is the full client configuration.
type Config struct {
	// GatewayURL is the gateway REST/SSE root.
	GatewayURL string `yaml:"gateway_url" validate:"required,url"`
	// PolicyEndpoint is the policy decision point URL.
	PolicyEndpoint string `yaml:"policy_endpoint" validate:"required,url"`

	TransportMode TransportMode `yaml:"transport_mode" validate:"omitempty,oneof=auto http sse stdio"`

	// Headers are sent on every gateway call (auth tokens etc.).
	Headers map[string]string `yaml:"headers"`

	HTTP       transport.HTTPConfig     `yaml:"http"`
	SSE        transport.SSEConfig      `yaml:"sse"`
	Resilience resilience.HandlerConfig `yaml:"resilience"`
	Authz      authz.GateConfig         `yaml:"authz"`
	Cache      CacheConfig              `yaml:"cache"`

	// AuditBufferSize bounds the fire-and-forget audit queue.
	AuditBufferSize int `yaml:"audit_buffer_size" validate:"min=0"`
	// OperationTimeout is the per-call deadline default.
	OperationTimeout time.Duration `yaml:"operation_timeout" validate:"min=0"`
}

// DefaultConfig returns the production defaults for the given endpoints.
func DefaultConfig(gatewayURL, policyEndpoint string) Config {
	return Config{
		GatewayURL:       gatewayURL,
		PolicyEndpoint:   policyEndpoint,
		TransportMode:    ModeAuto,
		Resilience:       resilience.DefaultHandlerConfig(),
		Authz:            authz.DefaultGateConfig(),
		Cache:            CacheConfig{TTL: DefaultCacheTTL},
		AuditBufferSize:  256,
		OperationTimeout: resilience.DefaultOperationTimeout,
	}
}

// applyDefaults fills zero values so a partially specified config behaves
// like DefaultConfig.
func (c *Config) applyDefaults() {
	if c.TransportMode == "" {
		c.TransportMode = ModeAuto
	}
	if c.HTTP.BaseURL == "" {
		c.HTTP.BaseURL = c.GatewayURL
	}
	if c.SSE.BaseURL == "" {
		c.SSE.BaseURL = c.GatewayURL
	}
	if len(c.Headers) > 0 {
		if c.HTTP.Headers == nil {
			c.HTTP.Headers = c.Headers
		}
		if c.SSE.Headers == nil {
			c.SSE.Headers = c.Headers
		}
	}
	// Defaults apply per section so a partially specified resilience
	// block keeps the documented policy for everything it omits.
	if c.Resilience.Breaker == (resilience.BreakerConfig{}) {
		c.Resilience.Breaker = resilience.DefaultBreakerConfig()
	}
	if c.Resilience.Retry == (resilience.RetryConfig{}) {
		c.Resilience.Retry = resilience.DefaultRetryConfig()
	} else if c.Resilience.Retry.JitterFraction <= 0 {
		c.Resilience.Retry.JitterFraction = resilience.DefaultJitterFraction
	}
	if c.Resilience.OperationTimeout <= 0 {
		if c.OperationTimeout > 0 {
			c.Resilience.OperationTimeout = c.OperationTimeout
		} else {
			c.Resilience.OperationTimeout = resilience.DefaultOperationTimeout
		}
	}
	if c.Authz.DecisionTimeout <= 0 {
		c.Authz = authz.DefaultGateConfig()
	}
	if c.OperationTimeout <= 0 {
		c.OperationTimeout = c.Resilience.OperationTimeout
	}
	if c.AuditBufferSize <= 0 {
		c.AuditBufferSize = 256
	}
}

// Validate checks the config's structural constraints.
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("invalid gateway config: %w", err)
	}
	return nil
}

// LoadConfig reads a YAML config file. ${VAR} references are expanded from
// the environment before parsing so secrets stay out of the file. Duration
// fields accept Go duration strings ("30s", "100ms").
func LoadConfig(path string) (*Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	expanded := os.Expand(string(raw), func(key string) string {
		return os.Getenv(key)
	})

	var tree map[string]interface{}
	if err := yaml.Unmarshal([]byte(expanded), &tree); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	var cfg Config
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		DecodeHook: mapstructure.StringToTimeDurationHookFunc(),
		Result:     &cfg,
		TagName:    "yaml",
	})
	if err != nil {
		return nil, fmt.Errorf("build config decoder: %w", err)
	}
	if err := dec.Decode(tree); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}

	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

package authz

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/wardgate/mcp-gateway-go/pkg/audit"
	"github.com/wardgate/mcp-gateway-go/pkg/errors"
	"github.com/wardgate/mcp-gateway-go/pkg/resilience"
)

// GateConfig configures the authorization gate.
type GateConfig struct {
	// DecisionTimeout bounds one policy evaluation end to end.
	DecisionTimeout time.Duration `yaml:"decision_timeout" validate:"min=0"`
	// Resilience applies to PDP calls. The gate owns its own breaker:
	// policy-engine health and tool-server health are unrelated failure
	// domains.
	Resilience resilience.HandlerConfig `yaml:"resilience"`
	// SensitiveKeys extends the default redaction list for audit copies.
	SensitiveKeys []string `yaml:"sensitive_keys"`
}

// DefaultGateConfig returns the production defaults.
func DefaultGateConfig() GateConfig {
	cfg := GateConfig{
		DecisionTimeout: 5 * time.Second,
		Resilience:      resilience.DefaultHandlerConfig(),
	}
	cfg.Resilience.OperationTimeout = cfg.DecisionTimeout
	return cfg
}

// policyEndpointKey names the gate's breaker; a single PDP is one endpoint.
const policyEndpointKey = "policy"

// Gate is the checkpoint in front of every tool invocation. It evaluates
// the request against the policy engine, fails closed when the engine is
// unavailable, and emits an audit event for every decision.
type Gate struct {
	policy  PolicyClient
	handler *resilience.Handler
	emitter *audit.Emitter
	config  GateConfig
	logger  zerolog.Logger
}

// NewGate wires the gate. emitter may be nil to disable auditing.
func NewGate(policy PolicyClient, config GateConfig, emitter *audit.Emitter, logger zerolog.Logger) *Gate {
	if config.DecisionTimeout <= 0 {
		config.DecisionTimeout = 5 * time.Second
	}
	if config.Resilience.OperationTimeout <= 0 {
		config.Resilience.OperationTimeout = config.DecisionTimeout
	}
	return &Gate{
		policy:  policy,
		handler: resilience.NewHandler(config.Resilience, logger),
		emitter: emitter,
		config:  config,
		logger:  logger.With().Str("component", "authz_gate").Logger(),
	}
}

// Authorize evaluates req. A nil error means the engine answered; the
// decision may still be a denial. Any engine failure is returned as a
// policy-unavailable error: the caller must treat it as a denial.
func (g *Gate) Authorize(ctx context.Context, req *Request) (*Decision, error) {
	start := time.Now()

	var decision *Decision
	err := g.handler.Execute(ctx, policyEndpointKey, func(ctx context.Context) error {
		d, evalErr := g.policy.Evaluate(ctx, req)
		if evalErr != nil {
			return evalErr
		}
		decision = d
		return nil
	})
	duration := time.Since(start)

	if err != nil {
		g.logger.Error().
			Err(err).
			Str("request_id", req.RequestID).
			Str("server", req.ServerName).
			Str("tool", req.ToolName).
			Msg("policy evaluation failed, denying")
		g.audit(req, "error", "policy engine unavailable", "", duration)
		return nil, errors.PolicyUnavailable(err)
	}

	verdict := "deny"
	if decision.Allow {
		verdict = "allow"
	}
	g.audit(req, verdict, decision.Reason, decision.AuditID, duration)
	return decision, nil
}

// BreakerMetrics exposes the gate's breaker state for health reporting.
func (g *Gate) BreakerMetrics() resilience.BreakerMetrics {
	return g.handler.Breaker(policyEndpointKey).Metrics()
}

func (g *Gate) audit(req *Request, decision, reason, auditID string, duration time.Duration) {
	if g.emitter == nil {
		return
	}
	g.emitter.Emit(audit.Event{
		RequestID:  req.RequestID,
		User:       req.User.Username,
		Action:     req.Action,
		Server:     req.ServerName,
		Tool:       req.ToolName,
		Decision:   decision,
		Reason:     reason,
		AuditID:    auditID,
		Duration:   duration,
		Parameters: Redact(req.Parameters, g.config.SensitiveKeys),
	})
}

package protocol

import (
	"encoding/json"
	"time"
)

// SensitivityLevel classifies how sensitive a server or tool is. The policy
// engine uses it to pick stricter rules and shorter decision-cache TTLs.
type SensitivityLevel string

const (
	SensitivityLow      SensitivityLevel = "low"
	SensitivityMedium   SensitivityLevel = "medium"
	SensitivityHigh     SensitivityLevel = "high"
	SensitivityCritical SensitivityLevel = "critical"
)

// ServerInfo describes a gateway-managed MCP server.
type ServerInfo struct {
	ServerID         string           `json:"server_id"`
	ServerName       string           `json:"server_name"`
	ServerURL        string           `json:"server_url"`
	SensitivityLevel SensitivityLevel `json:"sensitivity_level,omitempty"`
	AuthorizedTeams  []string         `json:"authorized_teams,omitempty"`
	HealthStatus     string           `json:"health_status,omitempty"`
	ToolsCount       int              `json:"tools_count,omitempty"`
	CreatedAt        *time.Time       `json:"created_at,omitempty"`
	UpdatedAt        *time.Time       `json:"updated_at,omitempty"`
}

// ToolInfo describes a tool discovered through the gateway.
type ToolInfo struct {
	ToolName         string           `json:"tool_name"`
	ServerName       string           `json:"server_name"`
	Description      string           `json:"description,omitempty"`
	SensitivityLevel SensitivityLevel `json:"sensitivity_level,omitempty"`
	Parameters       []ToolParameter  `json:"parameters,omitempty"`
	SensitiveParams  []string         `json:"sensitive_params,omitempty"`
}

// ToolParameter describes a single entry in a tool's parameter schema.
type ToolParameter struct {
	Name     string `json:"name"`
	Type     string `json:"type"`
	Required bool   `json:"required,omitempty"`
}

// PaginationParams are cursor-based pagination parameters for list calls.
type PaginationParams struct {
	Cursor string `json:"cursor,omitempty"`
	Limit  int    `json:"limit,omitempty"`
}

const (
	// DefaultPageLimit is the page size used when the caller does not specify one.
	DefaultPageLimit = 100

	// MaxPageLimit caps a single page, matching the gateway API's own cap.
	MaxPageLimit = 1000
)

// ApplyDefaults returns a copy of params with the limit clamped to
// [1, MaxPageLimit], defaulting to DefaultPageLimit when unset.
func (p PaginationParams) ApplyDefaults() PaginationParams {
	out := p
	if out.Limit <= 0 {
		out.Limit = DefaultPageLimit
	}
	if out.Limit > MaxPageLimit {
		out.Limit = MaxPageLimit
	}
	return out
}

// ServersPage is one page of the GET /servers response.
type ServersPage struct {
	Servers    []ServerInfo `json:"servers"`
	NextCursor string       `json:"next_cursor,omitempty"`
}

// ToolsPage is one page of the GET /tools response.
type ToolsPage struct {
	Tools      []ToolInfo `json:"tools"`
	NextCursor string     `json:"next_cursor,omitempty"`
}

// InvokeRequest is the POST /invoke request body.
type InvokeRequest struct {
	ServerName string                 `json:"server_name"`
	ToolName   string                 `json:"tool_name"`
	Parameters map[string]interface{} `json:"parameters"`
	RequestID  string                 `json:"request_id,omitempty"`
}

// InvokeResult is the POST /invoke response body. Result is left raw so the
// caller decides how to decode tool-specific payloads.
type InvokeResult struct {
	RequestID string          `json:"request_id,omitempty"`
	Result    json.RawMessage `json:"result,omitempty"`
	IsError   bool            `json:"is_error,omitempty"`
	Message   string          `json:"message,omitempty"`
}

// Event is a single server-sent event from the gateway's /events stream.
type Event struct {
	ID   string          `json:"id,omitempty"`
	Type string          `json:"type,omitempty"`
	Data json.RawMessage `json:"data"`
}

package protocol

import (
	"encoding/json"
	"fmt"
)

// Version is the JSON-RPC protocol version spoken on the stdio transport.
const Version = "2.0"

// ErrorCode is a JSON-RPC 2.0 error code. Local MCP servers answer with the
// standard codes below; anything else passes through unmapped.
type ErrorCode int

const (
	ParseError     ErrorCode = -32700
	InvalidRequest ErrorCode = -32600
	MethodNotFound ErrorCode = -32601
	InvalidParams  ErrorCode = -32602
	InternalError  ErrorCode = -32603
)

// Request is a JSON-RPC 2.0 call that expects a response.
type Request struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      interface{}     `json:"id"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
}

// Response answers exactly one Request, matched by ID. Result and Error are
// mutually exclusive.
type Response struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      interface{}     `json:"id"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *Error          `json:"error,omitempty"`
}

// Notification is a call with no ID and therefore no response.
type Notification struct {
	JSONRPC string          `json:"jsonrpc"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
}

// Error is the JSON-RPC 2.0 error object. It implements error so a server
// failure can travel through ordinary Go error returns.
type Error struct {
	Code    ErrorCode   `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

func (e *Error) Error() string {
	return fmt.Sprintf("jsonrpc error %d: %s", e.Code, e.Message)
}

// NewRequest builds a request with params marshaled in place.
func NewRequest(id interface{}, method string, params interface{}) (*Request, error) {
	raw, err := marshalRaw(params, "params")
	if err != nil {
		return nil, err
	}
	return &Request{JSONRPC: Version, ID: id, Method: method, Params: raw}, nil
}

// NewResponse builds a success response for the given request id.
func NewResponse(id interface{}, result interface{}) (*Response, error) {
	raw, err := marshalRaw(result, "result")
	if err != nil {
		return nil, err
	}
	return &Response{JSONRPC: Version, ID: id, Result: raw}, nil
}

// NewErrorResponse builds an error response for the given request id.
func NewErrorResponse(id interface{}, code ErrorCode, message string, data interface{}) (*Response, error) {
	raw, err := marshalRaw(data, "error data")
	if err != nil {
		return nil, err
	}
	e := &Error{Code: code, Message: message}
	if raw != nil {
		e.Data = raw
	}
	return &Response{JSONRPC: Version, ID: id, Error: e}, nil
}

// NewNotification builds a notification with params marshaled in place.
func NewNotification(method string, params interface{}) (*Notification, error) {
	raw, err := marshalRaw(params, "params")
	if err != nil {
		return nil, err
	}
	return &Notification{JSONRPC: Version, Method: method, Params: raw}, nil
}

func marshalRaw(v interface{}, what string) (json.RawMessage, error) {
	if v == nil {
		return nil, nil
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("marshal %s: %w", what, err)
	}
	return raw, nil
}

// envelope is the superset shape used to classify an incoming line before
// committing to a concrete type.
type envelope struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      interface{}     `json:"id"`
	Method  string          `json:"method"`
	Result  json.RawMessage `json:"result"`
	Error   *Error          `json:"error"`
}

func decodeEnvelope(data []byte) (envelope, bool) {
	var e envelope
	if err := json.Unmarshal(data, &e); err != nil || e.JSONRPC != Version {
		return envelope{}, false
	}
	return e, true
}

// IsRequest reports whether data is a JSON-RPC 2.0 request.
func IsRequest(data []byte) bool {
	e, ok := decodeEnvelope(data)
	return ok && e.ID != nil && e.Method != ""
}

// IsResponse reports whether data is a JSON-RPC 2.0 response.
func IsResponse(data []byte) bool {
	e, ok := decodeEnvelope(data)
	return ok && e.ID != nil && e.Method == "" && (e.Result != nil || e.Error != nil)
}

// IsNotification reports whether data is a JSON-RPC 2.0 notification.
func IsNotification(data []byte) bool {
	e, ok := decodeEnvelope(data)
	return ok && e.ID == nil && e.Method != ""
}

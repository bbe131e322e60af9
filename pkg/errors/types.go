// Package errors provides structured error handling for the gateway client.
// It defines typed errors for the failure kinds a caller has to react to
// differently: authorization denials, open circuit breakers, timeouts,
// transport failures and request validation failures.
package errors

import (
	"fmt"
	"time"
)

// Category represents the type/category of an error for classification and handling.
type Category string

const (
	CategoryValidation    Category = "validation"
	CategoryAuthorization Category = "authorization"
	CategoryCircuit       Category = "circuit"
	CategoryTransport     Category = "transport"
	CategoryTimeout       Category = "timeout"
	CategoryPolicy        Category = "policy"
	CategoryInternal      Category = "internal"
	CategoryCancelled     Category = "cancelled"
)

// Severity indicates how critical an error is.
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityError    Severity = "error"
	SeverityCritical Severity = "critical"
)

// Context provides additional context about where and when an error occurred.
type Context struct {
	RequestID string    `json:"request_id,omitempty"`
	Server    string    `json:"server,omitempty"`
	Tool      string    `json:"tool,omitempty"`
	Transport string    `json:"transport,omitempty"`
	Component string    `json:"component,omitempty"`
	Operation string    `json:"operation,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// GatewayError is the interface implemented by all gateway client errors.
type GatewayError interface {
	error

	// Code returns the stable numeric error code.
	Code() int

	// Message returns a human-readable error message.
	Message() string

	// Detail returns the detailed technical description for debugging.
	Detail() string

	// Category returns the error category for classification.
	Category() Category

	// Severity returns the error severity level.
	Severity() Severity

	// Context returns the error context information.
	Context() *Context

	// WithContext returns a copy of the error with the provided context.
	WithContext(ctx *Context) GatewayError

	// WithDetail returns a copy of the error with additional detail.
	WithDetail(detail string) GatewayError

	// Unwrap returns the underlying error for error chain traversal.
	Unwrap() error
}

// baseError implements the GatewayError interface.
type baseError struct {
	code     int
	message  string
	detail   string
	category Category
	severity Severity
	context  *Context
	cause    error
}

func (e *baseError) Error() string {
	if e.detail != "" {
		return fmt.Sprintf("%s: %s", e.message, e.detail)
	}
	return e.message
}

func (e *baseError) Code() int          { return e.code }
func (e *baseError) Message() string    { return e.message }
func (e *baseError) Detail() string     { return e.detail }
func (e *baseError) Category() Category { return e.category }
func (e *baseError) Severity() Severity { return e.severity }
func (e *baseError) Context() *Context  { return e.context }
func (e *baseError) Unwrap() error      { return e.cause }

// WithContext returns a copy of the error with the provided context.
// The timestamp is filled in when the caller left it zero.
func (e *baseError) WithContext(ctx *Context) GatewayError {
	newErr := *e
	if ctx != nil && ctx.Timestamp.IsZero() {
		c := *ctx
		c.Timestamp = time.Now().UTC()
		ctx = &c
	}
	newErr.context = ctx
	return &newErr
}

// WithDetail returns a copy of the error with additional detail appended.
func (e *baseError) WithDetail(detail string) GatewayError {
	newErr := *e
	if newErr.detail != "" {
		newErr.detail = fmt.Sprintf("%s; %s", newErr.detail, detail)
	} else {
		newErr.detail = detail
	}
	return &newErr
}

// New creates a GatewayError with the given code, message, category and severity.
func New(code int, message string, category Category, severity Severity) GatewayError {
	return &baseError{
		code:     code,
		message:  message,
		category: category,
		severity: severity,
	}
}

// Wrap creates a GatewayError that wraps cause.
func Wrap(cause error, code int, message string, category Category, severity Severity) GatewayError {
	return &baseError{
		code:     code,
		message:  message,
		category: category,
		severity: severity,
		cause:    cause,
	}
}

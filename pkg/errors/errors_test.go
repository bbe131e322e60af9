package errors

import (
	"context"
	stderrors "errors"
	"fmt"
	"io"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewAndWrap(t *testing.T) {
	base := New(CodeTransportError, "boom", CategoryTransport, SeverityError)
	assert.Equal(t, CodeTransportError, base.Code())
	assert.Equal(t, "boom", base.Message())
	assert.Equal(t, CategoryTransport, base.Category())
	assert.Nil(t, base.Unwrap())

	cause := fmt.Errorf("dial tcp: connection refused")
	wrapped := Wrap(cause, CodeConnectionFailed, "connect failed", CategoryTransport, SeverityError)
	assert.ErrorIs(t, wrapped, cause)
}

func TestWithContextFillsTimestamp(t *testing.T) {
	err := Transport("http", io.EOF).WithContext(&Context{
		RequestID: "req-1",
		Server:    "github",
		Tool:      "search",
	})
	ctx := err.Context()
	require.NotNil(t, ctx)
	assert.Equal(t, "req-1", ctx.RequestID)
	assert.WithinDuration(t, time.Now().UTC(), ctx.Timestamp, 5*time.Second)
}

func TestTypedConstructors(t *testing.T) {
	tests := []struct {
		name     string
		err      GatewayError
		code     int
		category Category
	}{
		{"denied", AuthorizationDenied("write access requires approval"), CodeAuthorizationDenied, CategoryAuthorization},
		{"circuit open", CircuitOpen("http://gw", 30*time.Second), CodeCircuitOpen, CategoryCircuit},
		{"timeout", Timeout("invoke", 30*time.Second), CodeOperationTimeout, CategoryTimeout},
		{"exhausted", RetryExhausted(3, io.EOF), CodeRetryExhausted, CategoryTransport},
		{"transport", Transport("sse", io.ErrUnexpectedEOF), CodeTransportError, CategoryTransport},
		{"process exited", ProcessExited("mcp-server", fmt.Errorf("signal: killed")), CodeProcessExited, CategoryTransport},
		{"validation", Validation("tool_name must not be empty"), CodeValidationError, CategoryValidation},
		{"policy down", PolicyUnavailable(syscall.ECONNREFUSED), CodePolicyUnavailable, CategoryPolicy},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.code, tt.err.Code())
			assert.Equal(t, tt.category, tt.err.Category())
			assert.NotEmpty(t, tt.err.Error())
		})
	}
}

func TestKindHelpers(t *testing.T) {
	denied := AuthorizationDenied("nope")
	assert.True(t, IsAuthorizationDenied(denied))
	assert.False(t, IsCircuitOpen(denied))

	// Helpers see through wrapping.
	wrapped := fmt.Errorf("invoke: %w", CircuitOpen("http://gw", time.Second))
	assert.True(t, IsCircuitOpen(wrapped))
	assert.False(t, IsAuthorizationDenied(wrapped))

	exhausted := RetryExhausted(3, Transport("http", io.EOF))
	assert.True(t, IsRetryExhausted(exhausted))
}

func TestIsRetryable(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"denied", AuthorizationDenied("no"), false},
		{"validation", Validation("bad"), false},
		{"circuit open", CircuitOpen("ep", time.Second), false},
		{"retry exhausted", RetryExhausted(3, io.EOF), false},
		{"process exited", ProcessExited("cmd", stderrors.New("killed")), false},
		{"context canceled", context.Canceled, false},
		{"deadline", context.DeadlineExceeded, false},
		{"transport", Transport("http", io.EOF), true},
		{"connection failed", ConnectionFailed("http", syscall.ECONNREFUSED), true},
		{"timeout error", Timeout("invoke", time.Second), true},
		{"policy unavailable", PolicyUnavailable(io.EOF), true},
		{"raw conn refused", syscall.ECONNREFUSED, true},
		{"raw eof", io.EOF, true},
		{"text conn refused", fmt.Errorf("dial tcp 127.0.0.1:80: connection refused"), true},
		{"opaque", stderrors.New("something else"), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsRetryable(tt.err))
		})
	}
}

package protocol

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewRequestMarshalsParams(t *testing.T) {
	req, err := NewRequest("req-1", "tools/call", map[string]string{"tool": "search_code"})
	require.NoError(t, err)
	assert.Equal(t, Version, req.JSONRPC)

	data, err := json.Marshal(req)
	require.NoError(t, err)
	assert.JSONEq(t, `{"jsonrpc":"2.0","id":"req-1","method":"tools/call","params":{"tool":"search_code"}}`, string(data))
}

func TestNewRequestNilParamsOmitted(t *testing.T) {
	req, err := NewRequest(7, "ping", nil)
	require.NoError(t, err)

	data, err := json.Marshal(req)
	require.NoError(t, err)
	assert.JSONEq(t, `{"jsonrpc":"2.0","id":7,"method":"ping"}`, string(data))
}

func TestNewRequestRejectsUnmarshalableParams(t *testing.T) {
	_, err := NewRequest(1, "tools/call", func() {})
	assert.Error(t, err)
}

func TestNewResponseRoundTrip(t *testing.T) {
	resp, err := NewResponse("req-1", map[string]bool{"ok": true})
	require.NoError(t, err)
	require.Nil(t, resp.Error)

	data, err := json.Marshal(resp)
	require.NoError(t, err)
	assert.True(t, IsResponse(data))

	var decoded Response
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, "req-1", decoded.ID)
	assert.JSONEq(t, `{"ok":true}`, string(decoded.Result))
}

func TestNewErrorResponse(t *testing.T) {
	resp, err := NewErrorResponse("req-1", MethodNotFound, "no such method: tools/burn", map[string]string{"method": "tools/burn"})
	require.NoError(t, err)
	require.NotNil(t, resp.Error)
	assert.Nil(t, resp.Result)
	assert.Equal(t, MethodNotFound, resp.Error.Code)

	data, err := json.Marshal(resp)
	require.NoError(t, err)
	assert.True(t, IsResponse(data))
	assert.JSONEq(t, `{
		"jsonrpc": "2.0",
		"id": "req-1",
		"error": {
			"code": -32601,
			"message": "no such method: tools/burn",
			"data": {"method": "tools/burn"}
		}
	}`, string(data))
}

func TestErrorImplementsError(t *testing.T) {
	e := &Error{Code: InternalError, Message: "boom"}
	assert.EqualError(t, e, "jsonrpc error -32603: boom")
}

func TestStandardErrorCodes(t *testing.T) {
	assert.Equal(t, ErrorCode(-32700), ParseError)
	assert.Equal(t, ErrorCode(-32600), InvalidRequest)
	assert.Equal(t, ErrorCode(-32601), MethodNotFound)
	assert.Equal(t, ErrorCode(-32602), InvalidParams)
	assert.Equal(t, ErrorCode(-32603), InternalError)
}

func TestNewNotificationHasNoID(t *testing.T) {
	notif, err := NewNotification("log/message", map[string]string{"level": "info"})
	require.NoError(t, err)

	data, err := json.Marshal(notif)
	require.NoError(t, err)
	assert.True(t, IsNotification(data))
	assert.False(t, IsRequest(data))
	assert.False(t, IsResponse(data))
}

func TestMessageClassification(t *testing.T) {
	tests := []struct {
		name                            string
		line                            string
		request, response, notification bool
	}{
		{
			name:    "request",
			line:    `{"jsonrpc":"2.0","id":"1","method":"tools/call","params":{}}`,
			request: true,
		},
		{
			name:     "success response",
			line:     `{"jsonrpc":"2.0","id":"1","result":{"ok":true}}`,
			response: true,
		},
		{
			name:     "error response",
			line:     `{"jsonrpc":"2.0","id":"1","error":{"code":-32603,"message":"boom"}}`,
			response: true,
		},
		{
			name:         "notification",
			line:         `{"jsonrpc":"2.0","method":"log/message"}`,
			notification: true,
		},
		{
			name: "wrong version",
			line: `{"jsonrpc":"1.0","id":"1","method":"tools/call"}`,
		},
		{
			name: "missing version",
			line: `{"id":"1","method":"tools/call"}`,
		},
		{
			name: "response with neither result nor error",
			line: `{"jsonrpc":"2.0","id":"1"}`,
		},
		{
			name: "not json",
			line: `starting server on :8080`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data := []byte(tt.line)
			assert.Equal(t, tt.request, IsRequest(data), "IsRequest")
			assert.Equal(t, tt.response, IsResponse(data), "IsResponse")
			assert.Equal(t, tt.notification, IsNotification(data), "IsNotification")
		})
	}
}

package gateway

import (
	"context"
	"encoding/json"

	"github.com/wardgate/mcp-gateway-go/pkg/errors"
)

// LocalServer is a handle to a stdio MCP server registered with the client.
// Invocations addressed to its name are still policy checked; this handle
// exists for raw protocol access and lifecycle control.
type LocalServer struct {
	name   string
	client *Client
}

// Name returns the registration name used for routing.
func (s *LocalServer) Name() string { return s.name }

// PID returns the child process id, or 0 when the process is gone.
func (s *LocalServer) PID() int {
	s.client.mu.Lock()
	entry, ok := s.client.locals[s.name]
	s.client.mu.Unlock()
	if !ok || entry.handle == nil {
		return 0
	}
	return entry.handle.PID()
}

// Alive reports whether the child process is still running.
func (s *LocalServer) Alive() bool {
	s.client.mu.Lock()
	entry, ok := s.client.locals[s.name]
	s.client.mu.Unlock()
	return ok && entry.handle != nil && entry.handle.Alive()
}

// SendRequest issues a raw JSON-RPC request to the child, bypassing the
// invocation pipeline. Unlike Invoke, this is not policy checked.
func (s *LocalServer) SendRequest(ctx context.Context, method string, params interface{}) (json.RawMessage, error) {
	handle, err := s.client.local(ctx, s.name)
	if err != nil {
		return nil, err
	}
	return handle.SendRequest(ctx, method, params)
}

// SendNotification issues a raw JSON-RPC notification to the child.
func (s *LocalServer) SendNotification(ctx context.Context, method string, params interface{}) error {
	handle, err := s.client.local(ctx, s.name)
	if err != nil {
		return err
	}
	return handle.SendNotification(ctx, method, params)
}

// Close stops the child process and removes the registration. Subsequent
// invocations addressed to this name fall back to the remote gateway in
// auto mode.
func (s *LocalServer) Close() error {
	s.client.mu.Lock()
	entry, ok := s.client.locals[s.name]
	delete(s.client.locals, s.name)
	s.client.mu.Unlock()
	if !ok {
		return errors.Validation("local server " + s.name + " is not registered")
	}
	if entry.handle == nil {
		return nil
	}
	return entry.handle.Disconnect()
}

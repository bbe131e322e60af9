package audit

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEmitterWritesStructuredEvents(t *testing.T) {
	var buf bytes.Buffer
	e := NewEmitter(zerolog.New(&buf), 8)

	ok := e.Emit(Event{
		RequestID: "req-1",
		User:      "alice",
		Action:    "tools/call",
		Server:    "github-mcp",
		Tool:      "search_code",
		Decision:  "allow",
		Duration:  12 * time.Millisecond,
	})
	require.True(t, ok)
	e.Close()

	// Close flushes synchronously from the caller's perspective only once
	// the drain goroutine observes done; poll briefly.
	deadline := time.After(2 * time.Second)
	for buf.Len() == 0 {
		select {
		case <-deadline:
			t.Fatal("audit event never written")
		case <-time.After(5 * time.Millisecond):
		}
	}
	out := buf.String()
	assert.Contains(t, out, `"request_id":"req-1"`)
	assert.Contains(t, out, `"decision":"allow"`)
	assert.Contains(t, out, "authorization decision")
}

func TestEmitterDropsOnOverflowWithoutBlocking(t *testing.T) {
	// A sink writer that never drains quickly: tiny buffer, many events.
	e := NewEmitter(zerolog.New(&slowWriter{}), 1)
	defer e.Close()

	start := time.Now()
	for i := 0; i < 100; i++ {
		e.Emit(Event{RequestID: "req"})
	}
	assert.Less(t, time.Since(start), time.Second, "Emit must never block the call path")
	assert.Greater(t, e.Dropped(), uint64(0))
}

func TestEmitterAfterClose(t *testing.T) {
	var buf bytes.Buffer
	e := NewEmitter(zerolog.New(&buf), 8)
	e.Close()

	assert.False(t, e.Emit(Event{RequestID: "late"}))
	assert.False(t, strings.Contains(buf.String(), "late"))
}

type slowWriter struct{}

func (s *slowWriter) Write(p []byte) (int, error) {
	time.Sleep(50 * time.Millisecond)
	return len(p), nil
}

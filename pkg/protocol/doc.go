// Package protocol defines the wire-level types used to talk to a WardGate
// gateway and to the MCP servers it fronts: JSON-RPC 2.0 messages for the
// stdio transport, server-sent event frames for the SSE transport, and the
// REST request/response shapes of the gateway HTTP API.
package protocol

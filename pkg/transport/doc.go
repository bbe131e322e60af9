// Package transport implements the three I/O disciplines the gateway client
// dispatches over: request/response HTTP against the gateway REST API,
// server-sent event streams with resumption, and an owned child process
// speaking newline-delimited JSON-RPC over its pipes.
//
// Transports carry no resilience policy of their own; the gateway client
// wraps every transport call in the resilience pipeline.
package transport

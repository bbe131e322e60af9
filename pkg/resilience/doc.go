// Package resilience provides the failure-handling primitives the gateway
// wraps around every remote call: a three-state circuit breaker, exponential
// backoff retry with jitter, and deadline enforcement. Handler composes the
// three into a single execution pipeline.
package resilience

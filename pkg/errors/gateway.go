package errors

import (
	stderrors "errors"
	"fmt"
	"time"
)

// AuthorizationDenied reports that the policy engine denied the request.
// Never retried; the reason is surfaced to the caller verbatim.
func AuthorizationDenied(reason string) GatewayError {
	return New(
		CodeAuthorizationDenied,
		"authorization denied",
		CategoryAuthorization,
		SeverityWarning,
	).WithDetail(reason)
}

// PolicyUnavailable reports that the policy decision point could not be
// reached or returned garbage. Authorization fails closed on this error.
func PolicyUnavailable(cause error) GatewayError {
	return Wrap(
		cause,
		CodePolicyUnavailable,
		"policy engine unavailable",
		CategoryPolicy,
		SeverityError,
	)
}

// CircuitOpen reports a fast-fail because the circuit breaker is OPEN, or the
// HALF_OPEN probe budget is exhausted. retryAfter hints when the breaker will
// next admit a probe.
func CircuitOpen(endpoint string, retryAfter time.Duration) GatewayError {
	return New(
		CodeCircuitOpen,
		"circuit breaker is open",
		CategoryCircuit,
		SeverityError,
	).WithDetail(fmt.Sprintf("endpoint %s unavailable, try again after ~%s", endpoint, retryAfter))
}

// Timeout reports that an operation exceeded its deadline. The underlying
// operation may still be running; cancellation is best-effort for the
// network transports.
func Timeout(operation string, timeout time.Duration) GatewayError {
	return New(
		CodeOperationTimeout,
		"operation timed out",
		CategoryTimeout,
		SeverityError,
	).WithDetail(fmt.Sprintf("%s exceeded %s deadline", operation, timeout))
}

// RetryExhausted wraps the last failure after all retry attempts were
// consumed, so callers can distinguish it from a first-attempt failure.
func RetryExhausted(attempts int, last error) GatewayError {
	return Wrap(
		last,
		CodeRetryExhausted,
		fmt.Sprintf("operation failed after %d attempts", attempts),
		CategoryTransport,
		SeverityError,
	).WithDetail(fmt.Sprintf("last error: %v", last))
}

// Transport reports a transport-level failure (connection refused, malformed
// response, broken pipe). Retryable per the retry policy.
func Transport(transport string, cause error) GatewayError {
	return Wrap(
		cause,
		CodeTransportError,
		fmt.Sprintf("%s transport error", transport),
		CategoryTransport,
		SeverityError,
	)
}

// ConnectionFailed reports that a transport could not establish its connection.
func ConnectionFailed(transport string, cause error) GatewayError {
	return Wrap(
		cause,
		CodeConnectionFailed,
		fmt.Sprintf("%s connection failed", transport),
		CategoryTransport,
		SeverityError,
	)
}

// ProcessExited reports that a stdio child process died. The handle is dead
// and must be recreated; retrying against it is pointless.
func ProcessExited(command string, cause error) GatewayError {
	return Wrap(
		cause,
		CodeProcessExited,
		"child process exited",
		CategoryTransport,
		SeverityError,
	).WithDetail(fmt.Sprintf("command %q", command))
}

// MalformedResponse reports an undecodable payload from a downstream server.
func MalformedResponse(transport string, cause error) GatewayError {
	return Wrap(
		cause,
		CodeMalformedResponse,
		fmt.Sprintf("%s returned a malformed response", transport),
		CategoryTransport,
		SeverityError,
	)
}

// Validation reports a malformed request. Fails immediately; neither the
// authorization gate nor any transport is consulted.
func Validation(detail string) GatewayError {
	return New(
		CodeValidationError,
		"invalid request",
		CategoryValidation,
		SeverityWarning,
	).WithDetail(detail)
}

// MissingParameter reports a required request field that was left empty.
func MissingParameter(field string) GatewayError {
	return New(
		CodeMissingParameter,
		"missing required field",
		CategoryValidation,
		SeverityWarning,
	).WithDetail(field)
}

// ClientClosed reports use of a gateway client after Close.
func ClientClosed() GatewayError {
	return New(
		CodeClientClosed,
		"gateway client is closed",
		CategoryInternal,
		SeverityError,
	)
}

// TransportNotAvailable reports that the pinned transport mode forbids the
// transport an operation needs.
func TransportNotAvailable(transport, mode string) GatewayError {
	return New(
		CodeTransportNotAvailable,
		"transport not available",
		CategoryInternal,
		SeverityError,
	).WithDetail(fmt.Sprintf("transport %s not available in mode %s", transport, mode))
}

// IsCode reports whether err (or anything it wraps) carries the given code.
func IsCode(err error, code int) bool {
	var ge GatewayError
	for err != nil {
		if stderrors.As(err, &ge) && ge.Code() == code {
			return true
		}
		err = stderrors.Unwrap(err)
	}
	return false
}

// IsAuthorizationDenied reports whether err is a policy denial.
func IsAuthorizationDenied(err error) bool { return IsCode(err, CodeAuthorizationDenied) }

// IsCircuitOpen reports whether err is a circuit-breaker fast-fail.
func IsCircuitOpen(err error) bool { return IsCode(err, CodeCircuitOpen) }

// IsTimeout reports whether err is a deadline expiry.
func IsTimeout(err error) bool { return IsCode(err, CodeOperationTimeout) }

// IsRetryExhausted reports whether err is a retry-exhausted terminal failure.
func IsRetryExhausted(err error) bool { return IsCode(err, CodeRetryExhausted) }

// IsValidation reports whether err is a request validation failure.
func IsValidation(err error) bool {
	var ge GatewayError
	return stderrors.As(err, &ge) && ge.Category() == CategoryValidation
}

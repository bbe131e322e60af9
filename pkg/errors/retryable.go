package errors

import (
	"context"
	stderrors "errors"
	"io"
	"net"
	"strings"
	"syscall"
)

// IsRetryable reports whether a failed operation is worth attempting again.
//
// Transient transport failures (connection refused/reset, EOF mid-stream,
// timeouts) are retryable. Authorization denials, validation failures,
// circuit-breaker fast-fails, dead child processes, and context cancellation
// are terminal and propagate immediately.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if stderrors.Is(err, context.Canceled) || stderrors.Is(err, context.DeadlineExceeded) {
		return false
	}

	var ge GatewayError
	if stderrors.As(err, &ge) {
		switch ge.Category() {
		case CategoryAuthorization, CategoryValidation, CategoryCircuit, CategoryCancelled:
			return false
		case CategoryTimeout:
			return true
		}
		switch ge.Code() {
		case CodeProcessExited, CodeRetryExhausted, CodeClientClosed, CodeTransportNotAvailable:
			return false
		case CodeTransportError, CodeConnectionFailed, CodeConnectionLost, CodeMalformedResponse, CodePolicyUnavailable:
			return true
		}
	}

	if isTransientNetError(err) {
		return true
	}
	return false
}

func isTransientNetError(err error) bool {
	var netErr net.Error
	if stderrors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	if stderrors.Is(err, io.EOF) || stderrors.Is(err, io.ErrUnexpectedEOF) {
		return true
	}
	if stderrors.Is(err, syscall.ECONNREFUSED) || stderrors.Is(err, syscall.ECONNRESET) || stderrors.Is(err, syscall.EPIPE) {
		return true
	}
	// Some HTTP client errors only surface as text.
	msg := err.Error()
	for _, s := range []string{"connection refused", "connection reset", "broken pipe", "no such host"} {
		if strings.Contains(msg, s) {
			return true
		}
	}
	return false
}

package resilience

import (
	"context"
	stderrors "errors"
	"time"

	"github.com/wardgate/mcp-gateway-go/pkg/errors"
)

// DefaultOperationTimeout bounds a single gateway operation end to end.
const DefaultOperationTimeout = 30 * time.Second

// WithTimeout runs op under a deadline. When the deadline expires the
// operation's context is cancelled and a timeout error is returned;
// cancellation is best-effort for network transports, which abandon the
// in-flight request rather than guarantee the server stopped working on it.
func WithTimeout(ctx context.Context, name string, timeout time.Duration, op func(ctx context.Context) error) error {
	if timeout <= 0 {
		timeout = DefaultOperationTimeout
	}
	opCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	err := op(opCtx)
	if err == nil {
		return nil
	}
	// Distinguish our deadline from a caller cancellation.
	if stderrors.Is(err, context.DeadlineExceeded) && opCtx.Err() == context.DeadlineExceeded && ctx.Err() == nil {
		return errors.Timeout(name, timeout)
	}
	return err
}

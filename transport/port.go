package transport

import (
	"context"
	"errors"
	"io"
	"net"
	"syscall"

	"github.com/BaSui01/agentmesh/types"
)

// Port 传输端口：把 envelope 投递到一个目标 agent
type Port interface {
	// Name identifies the transport; it keys the resilience guard.
	Name() string

	// Send delivers env to target and returns a backend delivery id.
	Send(ctx context.Context, env types.Envelope, target types.Target) (deliveryID string, err error)
}

// Func adapts a function to Port.
type Func struct {
	ID     string
	SendFn func(ctx context.Context, env types.Envelope, target types.Target) (string, error)
}

// Name implements Port.
func (f Func) Name() string { return f.ID }

// Send implements Port.
func (f Func) Send(ctx context.Context, env types.Envelope, target types.Target) (string, error) {
	return f.SendFn(ctx, env, target)
}

// Classifier decides whether a send error is worth retrying.
type Classifier func(error) bool

// IsRetryable is the default classifier. Structured errors carry their own
// flag; otherwise network timeouts, refused or reset connections and
// truncated reads are transient. Caller cancellation never is.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	if e, ok := types.AsError(err); ok {
		return e.Retryable
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	switch {
	case errors.Is(err, syscall.ECONNREFUSED),
		errors.Is(err, syscall.ECONNRESET),
		errors.Is(err, syscall.EPIPE),
		errors.Is(err, io.ErrUnexpectedEOF),
		errors.Is(err, net.ErrClosed):
		return true
	}
	return false
}

// Classify normalises a send error so that types.IsRetryable agrees with c.
// Context errors and VALIDATION errors pass through untouched.
func Classify(err error, c Classifier) error {
	if err == nil {
		return nil
	}
	if c == nil {
		c = IsRetryable
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	if types.IsCode(err, types.ErrValidation) {
		return err
	}

	retryable := c(err)
	if types.IsRetryable(err) == retryable {
		if _, ok := types.AsError(err); ok {
			return err
		}
	}
	if retryable {
		return types.NewTransientTransportError("send failed", err)
	}
	return types.NewTransportError("send failed", err)
}

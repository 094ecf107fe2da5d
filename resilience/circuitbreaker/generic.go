package circuitbreaker

import "context"

// CallTyped runs fn through cb and returns its typed result.
//
// Usage:
//
//	id, err := circuitbreaker.CallTyped(cb, ctx, func() (string, error) {
//	    return port.Send(ctx, env, target)
//	})
func CallTyped[T any](cb CircuitBreaker, ctx context.Context, fn func() (T, error)) (T, error) {
	var result T
	err := cb.Call(ctx, func() error {
		var err error
		result, err = fn()
		return err
	})
	if err != nil {
		var zero T
		return zero, err
	}
	return result, nil
}

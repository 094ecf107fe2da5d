package retry

import "context"

// DoTyped runs fn through r and returns the result of the successful attempt.
//
// Usage:
//
//	id, err := retry.DoTyped(r, ctx, func() (string, error) {
//	    return port.Send(ctx, env, target)
//	})
func DoTyped[T any](r Retryer, ctx context.Context, fn func() (T, error)) (T, error) {
	var result T
	err := r.Do(ctx, func() error {
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

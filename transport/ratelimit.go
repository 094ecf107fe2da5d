package transport

import (
	"context"

	"github.com/BaSui01/agentmesh/types"
	"golang.org/x/time/rate"
)

// RateLimitConfig 发送速率限制
type RateLimitConfig struct {
	// RequestsPerSecond is the sustained send rate. Zero disables limiting.
	RequestsPerSecond float64 `json:"requests_per_second" yaml:"requests_per_second"`
	// Burst is the bucket size; it defaults to 1.
	Burst int `json:"burst" yaml:"burst"`
	// Wait blocks until a token is free instead of failing fast.
	Wait bool `json:"wait" yaml:"wait"`
}

// RateLimited wraps a port with a token bucket.
type RateLimited struct {
	next    Port
	limiter *rate.Limiter
	wait    bool
}

// NewRateLimited decorates next. With a zero rate it returns next unchanged.
func NewRateLimited(next Port, config RateLimitConfig) Port {
	if config.RequestsPerSecond <= 0 {
		return next
	}
	if config.Burst <= 0 {
		config.Burst = 1
	}
	return &RateLimited{
		next:    next,
		limiter: rate.NewLimiter(rate.Limit(config.RequestsPerSecond), config.Burst),
		wait:    config.Wait,
	}
}

// Name returns the wrapped transport's name so guards stay keyed by backend.
func (r *RateLimited) Name() string { return r.next.Name() }

// Send implements Port. A fail-fast rejection is transient, so the retry
// policy backs off and tries again.
func (r *RateLimited) Send(ctx context.Context, env types.Envelope, target types.Target) (string, error) {
	if r.wait {
		if err := r.limiter.Wait(ctx); err != nil {
			return "", err
		}
	} else if !r.limiter.Allow() {
		return "", types.NewTransientTransportError("transport "+r.next.Name()+" rate limited", nil)
	}
	return r.next.Send(ctx, env, target)
}

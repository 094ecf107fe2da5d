package resilience

import (
	"context"
	"time"

	"github.com/BaSui01/agentmesh/resilience/bulkhead"
	"github.com/BaSui01/agentmesh/resilience/circuitbreaker"
	"github.com/BaSui01/agentmesh/resilience/retry"
)

// Guard 组合舱壁、熔断器与重试，保护对同一下游的调用
type Guard struct {
	name     string
	bulkhead *bulkhead.Bulkhead
	breaker  circuitbreaker.CircuitBreaker
	retryer  retry.Retryer
}

// NewGuard assembles a guard from its parts.
func NewGuard(name string, bh *bulkhead.Bulkhead, cb circuitbreaker.CircuitBreaker, r retry.Retryer) *Guard {
	return &Guard{name: name, bulkhead: bh, breaker: cb, retryer: r}
}

// Name returns the guarded downstream name.
func (g *Guard) Name() string { return g.name }

// Breaker returns the guard's circuit breaker.
func (g *Guard) Breaker() circuitbreaker.CircuitBreaker { return g.breaker }

// Bulkhead returns the guard's bulkhead.
func (g *Guard) Bulkhead() *bulkhead.Bulkhead { return g.bulkhead }

// Outcome describes one guarded call.
type Outcome struct {
	Attempts int
	Duration time.Duration
}

// Execute runs fn through bulkhead admission, the breaker check and the
// retry loop. The breaker sees one outcome for the whole retried call.
func (g *Guard) Execute(ctx context.Context, fn func(ctx context.Context) error) (Outcome, error) {
	var out Outcome
	start := time.Now()

	if err := g.bulkhead.Acquire(ctx); err != nil {
		out.Duration = time.Since(start)
		return out, err
	}
	defer g.bulkhead.Release()

	err := g.breaker.Call(ctx, func() error {
		return g.retryer.Do(ctx, func() error {
			out.Attempts++
			return fn(ctx)
		})
	})
	out.Duration = time.Since(start)
	return out, err
}

// ExecuteTyped is Execute for functions that produce a value.
func ExecuteTyped[T any](g *Guard, ctx context.Context, fn func(ctx context.Context) (T, error)) (T, Outcome, error) {
	var result T
	out, err := g.Execute(ctx, func(ctx context.Context) error {
		v, err := fn(ctx)
		if err != nil {
			return err
		}
		result = v
		return nil
	})
	return result, out, err
}

// GuardStats is a combined view of one guard.
type GuardStats struct {
	Name     string                  `json:"name"`
	Breaker  circuitbreaker.Snapshot `json:"breaker"`
	Retry    retry.Stats             `json:"retry"`
	Bulkhead bulkhead.Stats          `json:"bulkhead"`
	Healthy  bool                    `json:"healthy"`
}

// Stats returns a combined snapshot.
func (g *Guard) Stats() GuardStats {
	return GuardStats{
		Name:     g.name,
		Breaker:  g.breaker.Snapshot(),
		Retry:    g.retryer.Stats(),
		Bulkhead: g.bulkhead.Stats(),
		Healthy:  g.breaker.State() != circuitbreaker.StateOpen && g.bulkhead.IsHealthy(),
	}
}

package router

import (
	"context"
	"errors"
	"time"

	"github.com/BaSui01/agentmesh/types"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

const instrumentationName = "github.com/BaSui01/agentmesh/router"

// Route outcomes reported to the Observer.
const (
	RouteDelivered  = "delivered"
	RouteFailed     = "failed"
	RouteNoEligible = "no_eligible"
	RouteRejected   = "rejected"
	RouteWithdrawn  = "withdrawn"
)

// Observer 接收路由与派发的度量回调
type Observer interface {
	ObserveRoute(strategy, outcome string, d time.Duration)
	ObserveDispatch(transport, outcome string, attempts int, d time.Duration)
}

type nopObserver struct{}

func (nopObserver) ObserveRoute(string, string, time.Duration)         {}
func (nopObserver) ObserveDispatch(string, string, int, time.Duration) {}

// DispatchOutcome names the result of one guarded send for metrics labels.
func DispatchOutcome(err error) string {
	switch {
	case err == nil:
		return "success"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "canceled"
	}
	switch types.GetErrorCode(err) {
	case types.ErrCircuitOpen:
		return "circuit_open"
	case types.ErrBulkheadFull:
		return "bulkhead_full"
	case types.ErrBulkheadTimeout:
		return "bulkhead_timeout"
	}
	if types.IsCode(err, types.ErrRetriesExhausted) {
		return "retries_exhausted"
	}
	return "transport_error"
}

// instruments otel 追踪与指标
type instruments struct {
	tracer           trace.Tracer
	routes           metric.Int64Counter
	dispatchDuration metric.Float64Histogram
}

func newInstruments() (*instruments, error) {
	meter := otel.Meter(instrumentationName)
	in := &instruments{tracer: otel.Tracer(instrumentationName)}

	var err error
	in.routes, err = meter.Int64Counter("agentmesh.router.routes",
		metric.WithDescription("Routed envelopes by strategy and outcome"),
		metric.WithUnit("{envelope}"))
	if err != nil {
		return nil, err
	}

	in.dispatchDuration, err = meter.Float64Histogram("agentmesh.router.dispatch.duration",
		metric.WithDescription("Guarded dispatch duration in seconds"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10))
	if err != nil {
		return nil, err
	}
	return in, nil
}

func (in *instruments) startRoute(ctx context.Context, env types.Envelope, strategy StrategyKind) (context.Context, trace.Span) {
	return in.tracer.Start(ctx, "router.route",
		trace.WithAttributes(
			attribute.String("envelope.id", env.ID()),
			attribute.String("tenant.id", env.TenantID()),
			attribute.String("router.strategy", string(strategy)),
			attribute.Int("envelope.priority", int(env.Priority())),
		))
}

func (in *instruments) recordRoute(ctx context.Context, strategy StrategyKind, outcome string) {
	in.routes.Add(ctx, 1, metric.WithAttributes(
		attribute.String("strategy", string(strategy)),
		attribute.String("outcome", outcome)))
}

func (in *instruments) recordDispatch(ctx context.Context, transport, outcome string, d time.Duration) {
	in.dispatchDuration.Record(ctx, d.Seconds(), metric.WithAttributes(
		attribute.String("transport", transport),
		attribute.String("outcome", outcome)))
}

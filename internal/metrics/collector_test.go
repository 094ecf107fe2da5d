package metrics

import (
	"testing"
	"time"

	"github.com/BaSui01/agentmesh/events"
	"github.com/BaSui01/agentmesh/resilience"
	"github.com/BaSui01/agentmesh/resilience/bulkhead"
	"github.com/BaSui01/agentmesh/resilience/circuitbreaker"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestCollector(t *testing.T) (*Collector, *prometheus.Registry) {
	t.Helper()
	reg := prometheus.NewRegistry()
	return NewCollector("test", reg, nil), reg
}

// =============================================================================
// 🧪 Collector 测试
// =============================================================================

func TestNewCollector_RegistersOnGivenRegistry(t *testing.T) {
	c, reg := newTestCollector(t)
	c.ObserveRoute("load_balanced", "delivered", time.Millisecond)

	families, err := reg.Gather()
	require.NoError(t, err)
	names := make([]string, 0, len(families))
	for _, f := range families {
		names = append(names, f.GetName())
	}
	assert.Contains(t, names, "test_routes_total")
	assert.Contains(t, names, "test_route_duration_seconds")

	// A second collector on a fresh registry does not collide.
	assert.NotPanics(t, func() { NewCollector("test", prometheus.NewRegistry(), nil) })
}

func TestCollector_RouteAndDispatch(t *testing.T) {
	c, _ := newTestCollector(t)

	c.ObserveRoute("priority_queue", "delivered", 20*time.Millisecond)
	c.ObserveRoute("priority_queue", "delivered", 10*time.Millisecond)
	c.ObserveRoute("priority_queue", "no_eligible", 0)
	assert.Equal(t, 2.0, testutil.ToFloat64(c.routesTotal.WithLabelValues("priority_queue", "delivered")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.routesTotal.WithLabelValues("priority_queue", "no_eligible")))

	c.ObserveDispatch("memory", "success", 1, 5*time.Millisecond)
	c.ObserveDispatch("memory", "circuit_open", 0, 0)
	assert.Equal(t, 1.0, testutil.ToFloat64(c.dispatchesTotal.WithLabelValues("memory", "circuit_open")))
	assert.Equal(t, 1, testutil.CollectAndCount(c.dispatchAttempts))
}

func TestCollector_EmitEvents(t *testing.T) {
	c, _ := newTestCollector(t)
	at := time.Now()

	c.Emit(events.New(events.KindStatusChanged, at).WithTransition("AVAILABLE", "BUSY"))
	c.Emit(events.New(events.KindTaskOffered, at).WithData("accept", true))
	c.Emit(events.New(events.KindTaskOffered, at).WithData("accept", false).WithData("constraint", "healthy"))

	opened := events.New(events.KindCircuitOpened, at)
	opened.Circuit = "memory"
	c.Emit(opened)

	assert.Equal(t, 1.0, testutil.ToFloat64(c.agentStateTransitions.WithLabelValues("AVAILABLE", "BUSY")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.decisionsTotal.WithLabelValues("accepted", "")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.decisionsTotal.WithLabelValues("rejected", "healthy")))
	assert.Equal(t, 2.0, testutil.ToFloat64(c.eventsTotal.WithLabelValues(string(events.KindTaskOffered))))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.circuitState.WithLabelValues("memory")))

	closed := events.New(events.KindCircuitClosed, at)
	closed.Circuit = "memory"
	c.Emit(closed)
	assert.Equal(t, 0.0, testutil.ToFloat64(c.circuitState.WithLabelValues("memory")))
}

func TestCollector_ObserveGuards(t *testing.T) {
	c, _ := newTestCollector(t)
	c.ObserveGuards([]resilience.GuardStats{
		{
			Name:     "redisstream",
			Breaker:  circuitbreaker.Snapshot{State: circuitbreaker.StateHalfOpen.String()},
			Bulkhead: bulkhead.Stats{Active: 3, Utilization: 0.3},
		},
		{
			Name:    "websocket",
			Breaker: circuitbreaker.Snapshot{State: circuitbreaker.StateClosed.String()},
		},
	})

	assert.Equal(t, 2.0, testutil.ToFloat64(c.circuitState.WithLabelValues("redisstream")))
	assert.Equal(t, 0.0, testutil.ToFloat64(c.circuitState.WithLabelValues("websocket")))
	assert.Equal(t, 0.3, testutil.ToFloat64(c.bulkheadUtilization.WithLabelValues("redisstream")))
	assert.Equal(t, 3.0, testutil.ToFloat64(c.bulkheadActive.WithLabelValues("redisstream")))
}

func TestCollector_HTTPAndDatabase(t *testing.T) {
	c, _ := newTestCollector(t)
	c.RecordHTTPRequest("GET", "/health", 200, time.Millisecond)
	c.RecordHTTPRequest("GET", "/health", 503, time.Millisecond)
	assert.Equal(t, 1.0, testutil.ToFloat64(c.httpRequestsTotal.WithLabelValues("GET", "/health", "5xx")))

	c.RecordDBConnections("postgres", 7, 2)
	assert.Equal(t, 7.0, testutil.ToFloat64(c.dbConnectionsOpen.WithLabelValues("postgres")))
	assert.Equal(t, 2.0, testutil.ToFloat64(c.dbConnectionsIdle.WithLabelValues("postgres")))
}

func TestStatusCode(t *testing.T) {
	tests := []struct {
		code int
		want string
	}{
		{200, "2xx"}, {302, "3xx"}, {404, "4xx"}, {500, "5xx"}, {100, "unknown"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, statusCode(tt.code))
	}
}

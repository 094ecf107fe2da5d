package metrics

import (
	"time"

	"github.com/BaSui01/agentmesh/events"
	"github.com/BaSui01/agentmesh/resilience"
	"github.com/BaSui01/agentmesh/resilience/circuitbreaker"
	"github.com/BaSui01/agentmesh/router"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"
)

// =============================================================================
// 📊 指标收集器
// =============================================================================

var (
	_ events.Sink     = (*Collector)(nil)
	_ router.Observer = (*Collector)(nil)
)

// Collector 指标收集器。同时实现 events.Sink 与 router.Observer。
type Collector struct {
	// HTTP 指标
	httpRequestsTotal   *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec

	// 路由指标
	routesTotal      *prometheus.CounterVec
	routeDuration    *prometheus.HistogramVec
	dispatchesTotal  *prometheus.CounterVec
	dispatchDuration *prometheus.HistogramVec
	dispatchAttempts *prometheus.HistogramVec

	// Agent 指标
	decisionsTotal        *prometheus.CounterVec
	agentStateTransitions *prometheus.CounterVec
	eventsTotal           *prometheus.CounterVec

	// 弹性指标
	circuitState        *prometheus.GaugeVec
	bulkheadUtilization *prometheus.GaugeVec
	bulkheadActive      *prometheus.GaugeVec

	// 数据库指标
	dbConnectionsOpen *prometheus.GaugeVec
	dbConnectionsIdle *prometheus.GaugeVec

	logger *zap.Logger
}

// NewCollector 创建指标收集器并注册到 reg；reg 为 nil 时使用默认注册表
func NewCollector(namespace string, reg prometheus.Registerer, logger *zap.Logger) *Collector {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	factory := promauto.With(reg)
	c := &Collector{
		logger: logger.With(zap.String("component", "metrics")),
	}

	// HTTP 指标
	c.httpRequestsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	c.httpRequestDuration = factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration in seconds",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	// 路由指标
	c.routesTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "routes_total",
			Help:      "Total number of routed envelopes by strategy and outcome",
		},
		[]string{"strategy", "outcome"},
	)

	c.routeDuration = factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "route_duration_seconds",
			Help:      "End-to-end route duration in seconds, queueing included",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5, 30},
		},
		[]string{"strategy"},
	)

	c.dispatchesTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "dispatches_total",
			Help:      "Total number of guarded dispatches by transport and outcome",
		},
		[]string{"transport", "outcome"},
	)

	c.dispatchDuration = factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "dispatch_duration_seconds",
			Help:      "Guarded dispatch duration in seconds, retries included",
			Buckets:   []float64{0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		},
		[]string{"transport"},
	)

	c.dispatchAttempts = factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "dispatch_attempts",
			Help:      "Transport attempts per guarded dispatch",
			Buckets:   []float64{0, 1, 2, 3, 5, 8},
		},
		[]string{"transport"},
	)

	// Agent 指标
	c.decisionsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "autonomy_decisions_total",
			Help:      "Task offer decisions by result and failed hard constraint",
		},
		[]string{"result", "constraint"},
	)

	c.agentStateTransitions = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "agent_state_transitions_total",
			Help:      "Total number of agent status transitions",
		},
		[]string{"from", "to"},
	)

	c.eventsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_total",
			Help:      "Total number of emitted domain events",
		},
		[]string{"kind"},
	)

	// 弹性指标
	c.circuitState = factory.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "circuit_state",
			Help:      "Circuit breaker state (0=closed, 1=open, 2=half_open)",
		},
		[]string{"name"},
	)

	c.bulkheadUtilization = factory.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "bulkhead_utilization",
			Help:      "Fraction of bulkhead slots in use",
		},
		[]string{"name"},
	)

	c.bulkheadActive = factory.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "bulkhead_active",
			Help:      "Callers currently admitted by the bulkhead",
		},
		[]string{"name"},
	)

	// 数据库指标
	c.dbConnectionsOpen = factory.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "db_connections_open",
			Help:      "Number of open database connections",
		},
		[]string{"database"},
	)

	c.dbConnectionsIdle = factory.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "db_connections_idle",
			Help:      "Number of idle database connections",
		},
		[]string{"database"},
	)

	return c
}

// =============================================================================
// 🌐 HTTP 指标记录
// =============================================================================

// RecordHTTPRequest 记录 HTTP 请求
func (c *Collector) RecordHTTPRequest(method, path string, status int, duration time.Duration) {
	c.httpRequestsTotal.WithLabelValues(method, path, statusCode(status)).Inc()
	c.httpRequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
}

// =============================================================================
// 🧭 路由指标记录
// =============================================================================

// ObserveRoute implements router.Observer.
func (c *Collector) ObserveRoute(strategy, outcome string, d time.Duration) {
	c.routesTotal.WithLabelValues(strategy, outcome).Inc()
	c.routeDuration.WithLabelValues(strategy).Observe(d.Seconds())
}

// ObserveDispatch implements router.Observer.
func (c *Collector) ObserveDispatch(transport, outcome string, attempts int, d time.Duration) {
	c.dispatchesTotal.WithLabelValues(transport, outcome).Inc()
	c.dispatchDuration.WithLabelValues(transport).Observe(d.Seconds())
	c.dispatchAttempts.WithLabelValues(transport).Observe(float64(attempts))
}

// =============================================================================
// 🎭 事件指标记录
// =============================================================================

// Emit implements events.Sink. It only updates in-memory metrics.
func (c *Collector) Emit(e events.Event) {
	c.eventsTotal.WithLabelValues(string(e.Kind)).Inc()

	switch e.Kind {
	case events.KindStatusChanged:
		c.agentStateTransitions.WithLabelValues(e.From, e.To).Inc()
	case events.KindTaskOffered:
		result := "rejected"
		if accept, _ := e.Data["accept"].(bool); accept {
			result = "accepted"
		}
		constraint, _ := e.Data["constraint"].(string)
		c.decisionsTotal.WithLabelValues(result, constraint).Inc()
	case events.KindCircuitOpened:
		c.circuitState.WithLabelValues(e.Circuit).Set(1)
	case events.KindCircuitHalfOpened:
		c.circuitState.WithLabelValues(e.Circuit).Set(2)
	case events.KindCircuitClosed:
		c.circuitState.WithLabelValues(e.Circuit).Set(0)
	}
}

// =============================================================================
// 🛡️ 弹性指标记录
// =============================================================================

// ObserveGuards refreshes breaker and bulkhead gauges from a registry snapshot.
func (c *Collector) ObserveGuards(stats []resilience.GuardStats) {
	for _, s := range stats {
		c.circuitState.WithLabelValues(s.Name).Set(circuitValue(s.Breaker.State))
		c.bulkheadUtilization.WithLabelValues(s.Name).Set(s.Bulkhead.Utilization)
		c.bulkheadActive.WithLabelValues(s.Name).Set(float64(s.Bulkhead.Active))
	}
}

func circuitValue(state string) float64 {
	switch state {
	case circuitbreaker.StateOpen.String():
		return 1
	case circuitbreaker.StateHalfOpen.String():
		return 2
	default:
		return 0
	}
}

// =============================================================================
// 🗄️ 数据库指标记录
// =============================================================================

// RecordDBConnections 记录数据库连接数
func (c *Collector) RecordDBConnections(database string, open, idle int) {
	c.dbConnectionsOpen.WithLabelValues(database).Set(float64(open))
	c.dbConnectionsIdle.WithLabelValues(database).Set(float64(idle))
}

// =============================================================================
// 🔧 辅助函数
// =============================================================================

// statusCode 将 HTTP 状态码转换为字符串
func statusCode(code int) string {
	switch {
	case code >= 200 && code < 300:
		return "2xx"
	case code >= 300 && code < 400:
		return "3xx"
	case code >= 400 && code < 500:
		return "4xx"
	case code >= 500:
		return "5xx"
	default:
		return "unknown"
	}
}

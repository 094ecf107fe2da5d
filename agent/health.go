package agent

import "time"

// DefaultHealthTimeout applies when a record is registered without one.
const DefaultHealthTimeout = 30 * time.Second

// HealthMetrics 随心跳上报的运行指标
type HealthMetrics struct {
	SuccessRate    float64 `json:"success_rate"`
	AvgResponseMs  float64 `json:"avg_response_ms"`
	ErrorRate      float64 `json:"error_rate"`
	CPUUsage       float64 `json:"cpu_usage"`
	MemoryUsage    float64 `json:"memory_usage"`
	TasksCompleted int64   `json:"tasks_completed"`
	TasksFailed    int64   `json:"tasks_failed"`
}

// IsHealthy reports whether the last heartbeat is within the health timeout.
func (r Record) IsHealthy(now time.Time) bool {
	return now.Sub(r.lastHeartbeat) < r.healthTimeout
}

// HeartbeatAge returns how long ago the last heartbeat arrived.
func (r Record) HeartbeatAge(now time.Time) time.Duration {
	return now.Sub(r.lastHeartbeat)
}

// Performance returns the success rate used for scoring, preferring the
// reported metrics over the record's own counters.
func (r Record) Performance() float64 {
	if r.metrics != nil {
		return clamp01(r.metrics.SuccessRate)
	}
	return r.SuccessRate()
}

// Responsiveness maps average response time onto (0, 1]; 1 without metrics.
func (r Record) Responsiveness() float64 {
	if r.metrics == nil || r.metrics.AvgResponseMs <= 0 {
		return 1.0
	}
	return 1.0 / (1.0 + r.metrics.AvgResponseMs/1000.0)
}

// ErrorRate returns the reported error rate, or the complement of the
// record's success rate without metrics.
func (r Record) ErrorRate() float64 {
	if r.metrics != nil {
		return clamp01(r.metrics.ErrorRate)
	}
	return 1 - r.SuccessRate()
}

func clamp01(v float64) float64 {
	switch {
	case v < 0:
		return 0
	case v > 1:
		return 1
	default:
		return v
	}
}

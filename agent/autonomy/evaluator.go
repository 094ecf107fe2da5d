package autonomy

import (
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/BaSui01/agentmesh/agent"
	"github.com/BaSui01/agentmesh/types"
)

// Soft score weights.
const (
	WeightPriority   = 0.4
	WeightCapability = 0.3
	WeightCapacity   = 0.2
	WeightUrgency    = 0.1
)

// Hard constraint names reported in Decision.Constraint.
const (
	ConstraintAvailable    = "available"
	ConstraintHealthy      = "healthy"
	ConstraintCapabilities = "capabilities"
	ConstraintSuccessRate  = "success_rate"
)

// TaskOffering 提供给 agent 决策的任务
type TaskOffering struct {
	TaskID               string         `json:"task_id"`
	RequiredCapabilities []string       `json:"required_capabilities,omitempty"`
	Priority             types.Priority `json:"priority"`
	EstimatedDuration    time.Duration  `json:"estimated_duration"`
	Deadline             *time.Time     `json:"deadline,omitempty"`
	// MinSuccessRate overrides the evaluator's floor when positive.
	MinSuccessRate float64 `json:"min_success_rate,omitempty"`
}

// OfferingFromEnvelope derives an offering from an envelope. The envelope's
// expiry becomes the deadline.
func OfferingFromEnvelope(env types.Envelope, estimated time.Duration) TaskOffering {
	o := TaskOffering{
		TaskID:               env.ID(),
		RequiredCapabilities: env.RequiredCapabilities(),
		Priority:             env.Priority(),
		EstimatedDuration:    estimated,
	}
	if exp, ok := env.ExpiresAt(); ok {
		o.Deadline = &exp
	}
	return o
}

// Factors 软评分明细，原始值与加权值
type Factors struct {
	Priority        float64 `json:"priority"`
	CapabilityMatch float64 `json:"capability_match"`
	Load            float64 `json:"load"`
	Urgency         float64 `json:"urgency"`

	WeightedPriority   float64 `json:"weighted_priority"`
	WeightedCapability float64 `json:"weighted_capability"`
	WeightedCapacity   float64 `json:"weighted_capacity"`
	WeightedUrgency    float64 `json:"weighted_urgency"`
}

// Total is the soft score.
func (f Factors) Total() float64 {
	return f.WeightedPriority + f.WeightedCapability + f.WeightedCapacity + f.WeightedUrgency
}

// Decision 接受/拒绝决策。硬约束失败时 Constraint 非空且不计算软评分。
type Decision struct {
	Accept     bool     `json:"accept"`
	Score      float64  `json:"score"`
	Constraint string   `json:"constraint,omitempty"`
	Reason     string   `json:"reason"`
	Factors    *Factors `json:"factors,omitempty"`
}

// Rejected reports whether a hard constraint failed.
func (d Decision) Rejected() bool { return d.Constraint != "" }

// Config 自主决策配置
type Config struct {
	MinSuccessRate      float64 `json:"min_success_rate" yaml:"min_success_rate"`
	AcceptanceThreshold float64 `json:"acceptance_threshold" yaml:"acceptance_threshold"`
	MaxQueueReference   int     `json:"max_queue_reference" yaml:"max_queue_reference"`
	// MaintenanceErrorRate is the error rate above which an agent should
	// pause for maintenance.
	MaintenanceErrorRate float64 `json:"maintenance_error_rate" yaml:"maintenance_error_rate"`
}

// DefaultConfig returns the default thresholds.
func DefaultConfig() Config {
	return Config{
		MinSuccessRate:       0.5,
		AcceptanceThreshold:  0.6,
		MaxQueueReference:    5,
		MaintenanceErrorRate: 0.3,
	}
}

// Validate checks that every threshold is a fraction and the queue
// reference is positive.
func (c Config) Validate() error {
	for name, v := range map[string]float64{
		"min_success_rate":       c.MinSuccessRate,
		"acceptance_threshold":   c.AcceptanceThreshold,
		"maintenance_error_rate": c.MaintenanceErrorRate,
	} {
		if v < 0 || v > 1 {
			return types.NewValidationError("autonomy: %s must be within [0, 1], got %v", name, v)
		}
	}
	if c.MaxQueueReference <= 0 {
		return types.NewValidationError("autonomy: max_queue_reference must be positive, got %d", c.MaxQueueReference)
	}
	return nil
}

// Evaluator 代理端的任务接受评估器，无状态，可并发使用
type Evaluator struct {
	config Config
}

// New creates an evaluator.
func New(config Config) (*Evaluator, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	return &Evaluator{config: config}, nil
}

// Config returns the evaluator's thresholds.
func (e *Evaluator) Config() Config { return e.config }

// Evaluate decides whether rec should accept offering at now. Hard
// constraints are checked in order and the first failure short-circuits.
func (e *Evaluator) Evaluate(rec agent.Record, offering TaskOffering, now time.Time) Decision {
	if d, failed := e.checkHard(rec, offering, now); failed {
		return d
	}

	f := e.softFactors(rec, offering, now)
	score := f.Total()
	d := Decision{Score: score, Factors: &f}
	if score+1e-9 >= e.config.AcceptanceThreshold {
		d.Accept = true
		d.Reason = fmt.Sprintf("score %.2f meets threshold %.2f", score, e.config.AcceptanceThreshold)
	} else {
		d.Reason = fmt.Sprintf("score %.2f below threshold %.2f", score, e.config.AcceptanceThreshold)
	}
	return d
}

func (e *Evaluator) checkHard(rec agent.Record, offering TaskOffering, now time.Time) (Decision, bool) {
	reject := func(constraint, reason string) (Decision, bool) {
		return Decision{Constraint: constraint, Reason: reason}, true
	}

	if rec.Status() != agent.StatusAvailable {
		return reject(ConstraintAvailable, fmt.Sprintf("agent is %s, not available", rec.Status()))
	}
	if !rec.IsHealthy(now) {
		return reject(ConstraintHealthy, fmt.Sprintf("last heartbeat %s ago exceeds health timeout %s",
			rec.HeartbeatAge(now).Round(time.Millisecond), rec.HealthTimeout()))
	}
	if match := rec.MatchCapabilities(offering.RequiredCapabilities); !match.Covers() {
		var missing []string
		for _, c := range offering.RequiredCapabilities {
			if _, ok := rec.Capability(c); !ok {
				missing = append(missing, c)
			}
		}
		return reject(ConstraintCapabilities, "missing capabilities: "+strings.Join(missing, ", "))
	}
	floor := e.config.MinSuccessRate
	if offering.MinSuccessRate > 0 {
		floor = offering.MinSuccessRate
	}
	if rate := rec.SuccessRate(); rate < floor {
		return reject(ConstraintSuccessRate, fmt.Sprintf("success rate %.0f%% below required %.0f%%", rate*100, floor*100))
	}
	return Decision{}, false
}

func (e *Evaluator) softFactors(rec agent.Record, offering TaskOffering, now time.Time) Factors {
	f := Factors{
		Priority:        float64(offering.Priority) / float64(types.PriorityCritical),
		CapabilityMatch: rec.MatchCapabilities(offering.RequiredCapabilities).Score(),
		Load:            math.Min(1, float64(rec.PendingLen())/float64(e.config.MaxQueueReference)),
		Urgency:         Urgency(offering, now),
	}
	f.WeightedPriority = WeightPriority * f.Priority
	f.WeightedCapability = WeightCapability * f.CapabilityMatch
	f.WeightedCapacity = WeightCapacity * (1 - f.Load)
	f.WeightedUrgency = WeightUrgency * f.Urgency
	return f
}

// Urgency is 1 without a deadline. With one it ramps linearly from 0 at
// twice the estimated duration before the deadline to 1 at the deadline.
func Urgency(offering TaskOffering, now time.Time) float64 {
	if offering.Deadline == nil {
		return 1
	}
	remaining := offering.Deadline.Sub(now)
	if remaining <= 0 {
		return 1
	}
	window := 2 * offering.EstimatedDuration
	if remaining >= window {
		return 0
	}
	return 1 - float64(remaining)/float64(window)
}

// Ranked 一个可接受（通过硬约束）的任务及其决策
type Ranked struct {
	Offering TaskOffering `json:"offering"`
	Decision Decision     `json:"decision"`
}

// Prioritize orders the offerings rec could take by soft score, best
// first. Offerings failing a hard constraint are dropped; ties keep input
// order.
func (e *Evaluator) Prioritize(rec agent.Record, offerings []TaskOffering, now time.Time) []Ranked {
	out := make([]Ranked, 0, len(offerings))
	for _, o := range offerings {
		d := e.Evaluate(rec, o, now)
		if d.Rejected() {
			continue
		}
		out = append(out, Ranked{Offering: o, Decision: d})
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Decision.Score > out[j].Decision.Score })
	return out
}

// ShouldPauseForMaintenance reports whether rec's error rate exceeds the
// maintenance threshold, or its reported success rate fell below one half.
func (e *Evaluator) ShouldPauseForMaintenance(rec agent.Record) bool {
	if rec.ErrorRate() > e.config.MaintenanceErrorRate {
		return true
	}
	if m, ok := rec.Metrics(); ok && m.SuccessRate < 0.5 {
		return true
	}
	return false
}

package events

import (
	"time"

	"github.com/google/uuid"
)

// Kind 事件类型
type Kind string

const (
	KindTaskAssigned      Kind = "task.assigned"
	KindTaskCompleted     Kind = "task.completed"
	KindTaskFailed        Kind = "task.failed"
	KindTaskOffered       Kind = "task.offered"
	KindStatusChanged     Kind = "agent.status_changed"
	KindAgentRegistered   Kind = "agent.registered"
	KindHealthCheckFailed Kind = "agent.health_check_failed"
	KindCircuitOpened     Kind = "circuit.opened"
	KindCircuitHalfOpened Kind = "circuit.half_opened"
	KindCircuitClosed     Kind = "circuit.closed"
	KindEnvelopeDelivered Kind = "envelope.delivered"
	KindEnvelopeFailed    Kind = "envelope.failed"
)

// Event 领域事件。聚合 ID 按事件类型选择性填写。
type Event struct {
	ID         string         `json:"id"`
	Kind       Kind           `json:"kind"`
	OccurredAt time.Time      `json:"occurred_at"`
	TenantID   string         `json:"tenant_id,omitempty"`
	AgentID    string         `json:"agent_id,omitempty"`
	TaskID     string         `json:"task_id,omitempty"`
	EnvelopeID string         `json:"envelope_id,omitempty"`
	Circuit    string         `json:"circuit,omitempty"`
	From       string         `json:"from,omitempty"`
	To         string         `json:"to,omitempty"`
	Reason     string         `json:"reason,omitempty"`
	Data       map[string]any `json:"data,omitempty"`
}

// New creates an event with a fresh id.
func New(kind Kind, at time.Time) Event {
	return Event{
		ID:         uuid.NewString(),
		Kind:       kind,
		OccurredAt: at.UTC(),
	}
}

// WithAgent sets tenant and agent ids.
func (e Event) WithAgent(tenantID, agentID string) Event {
	e.TenantID = tenantID
	e.AgentID = agentID
	return e
}

// WithTask sets the task id.
func (e Event) WithTask(taskID string) Event {
	e.TaskID = taskID
	return e
}

// WithEnvelope sets tenant and envelope ids.
func (e Event) WithEnvelope(tenantID, envelopeID string) Event {
	e.TenantID = tenantID
	e.EnvelopeID = envelopeID
	return e
}

// WithTransition records a from/to state pair.
func (e Event) WithTransition(from, to string) Event {
	e.From = from
	e.To = to
	return e
}

// WithReason sets the reason.
func (e Event) WithReason(reason string) Event {
	e.Reason = reason
	return e
}

// WithData adds a payload entry. The map is copied on first write so that
// events derived from a shared base do not alias.
func (e Event) WithData(key string, value any) Event {
	data := make(map[string]any, len(e.Data)+1)
	for k, v := range e.Data {
		data[k] = v
	}
	data[key] = value
	e.Data = data
	return e
}

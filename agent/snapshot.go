package agent

import (
	"time"

	"github.com/BaSui01/agentmesh/types"
)

// State 记录的可序列化快照，供持久化适配器读写
type State struct {
	ID             string            `json:"id"`
	TenantID       string            `json:"tenant_id"`
	AgentType      string            `json:"agent_type,omitempty"`
	Capabilities   []Capability      `json:"capabilities"`
	Status         Status            `json:"status"`
	ActiveTaskID   string            `json:"active_task_id,omitempty"`
	PendingQueue   []string          `json:"pending_queue,omitempty"`
	TasksAssigned  int64             `json:"tasks_assigned"`
	TasksCompleted int64             `json:"tasks_completed"`
	TasksFailed    int64             `json:"tasks_failed"`
	LastHeartbeat  time.Time         `json:"last_heartbeat"`
	HealthTimeout  time.Duration     `json:"health_timeout"`
	Metrics        *HealthMetrics    `json:"metrics,omitempty"`
	Tags           []string          `json:"tags,omitempty"`
	Metadata       map[string]string `json:"metadata,omitempty"`
	CreatedAt      time.Time         `json:"created_at"`
	TerminatedAt   *time.Time        `json:"terminated_at,omitempty"`
	Version        int64             `json:"version"`
}

// State returns a detached snapshot of the record.
func (r Record) State() State {
	c := r.clone()
	c.version = r.version
	return State{
		ID:             c.id,
		TenantID:       c.tenantID,
		AgentType:      c.agentType,
		Capabilities:   c.capabilities,
		Status:         c.status,
		ActiveTaskID:   c.activeTaskID,
		PendingQueue:   c.pending,
		TasksAssigned:  c.assigned,
		TasksCompleted: c.completed,
		TasksFailed:    c.failed,
		LastHeartbeat:  c.lastHeartbeat,
		HealthTimeout:  c.healthTimeout,
		Metrics:        c.metrics,
		Tags:           c.tags,
		Metadata:       c.metadata,
		CreatedAt:      c.createdAt,
		TerminatedAt:   c.terminatedAt,
		Version:        c.version,
	}
}

// FromState rebuilds a record from a snapshot, re-checking every invariant.
func FromState(s State) (Record, error) {
	if len(s.ID) < minIDLength || len(s.ID) > maxIDLength {
		return Record{}, types.NewValidationError("agent_id %q must be %d-%d characters", s.ID, minIDLength, maxIDLength)
	}
	if s.TenantID == "" {
		return Record{}, types.NewValidationError("agent %s: tenant_id is required", s.ID)
	}
	if err := validateCapabilities(s.ID, s.Capabilities); err != nil {
		return Record{}, err
	}
	if s.HealthTimeout <= 0 {
		return Record{}, types.NewValidationError("agent %s: health timeout must be positive", s.ID)
	}

	r := Record{
		id:            s.ID,
		tenantID:      s.TenantID,
		agentType:     s.AgentType,
		capabilities:  append([]Capability(nil), s.Capabilities...),
		status:        s.Status,
		activeTaskID:  s.ActiveTaskID,
		pending:       append([]string(nil), s.PendingQueue...),
		assigned:      s.TasksAssigned,
		completed:     s.TasksCompleted,
		failed:        s.TasksFailed,
		lastHeartbeat: s.LastHeartbeat,
		healthTimeout: s.HealthTimeout,
		tags:          normalizeTags(s.Tags),
		metadata:      copyMap(s.Metadata),
		createdAt:     s.CreatedAt,
		version:       s.Version,
	}
	if len(r.pending) == 0 {
		r.pending = nil
	}
	if s.Metrics != nil {
		m := *s.Metrics
		r.metrics = &m
	}
	if s.TerminatedAt != nil {
		t := *s.TerminatedAt
		r.terminatedAt = &t
	}
	if err := r.checkInvariants(); err != nil {
		return Record{}, err
	}
	return r, nil
}

package agent

import (
	"sort"
	"strings"
	"time"

	"github.com/BaSui01/agentmesh/types"
)

// agent_id 长度限制
const (
	minIDLength = 3
	maxIDLength = 256
)

// Metadata keys written by transitions.
const (
	MetaUnhealthyReason = "unhealthy_reason"
	MetaLastError       = "last_error"
)

// Spec 注册 agent 时的输入
type Spec struct {
	ID            string
	TenantID      string
	AgentType     string
	Capabilities  []Capability
	HealthTimeout time.Duration
	Tags          []string
	Metadata      map[string]string
}

// Record 不可变的 agent 聚合。
// 所有状态变更通过命名的迁移方法完成，每个方法返回新值。
type Record struct {
	id            string
	tenantID      string
	agentType     string
	capabilities  []Capability
	status        Status
	activeTaskID  string
	pending       []string
	assigned      int64
	completed     int64
	failed        int64
	lastHeartbeat time.Time
	healthTimeout time.Duration
	metrics       *HealthMetrics
	tags          []string
	metadata      map[string]string
	createdAt     time.Time
	terminatedAt  *time.Time
	version       int64
}

// NewRecord validates spec and returns an AVAILABLE record whose heartbeat
// is now.
func NewRecord(spec Spec, now time.Time) (Record, error) {
	id := strings.TrimSpace(spec.ID)
	if len(id) < minIDLength || len(id) > maxIDLength {
		return Record{}, types.NewValidationError("agent_id %q must be %d-%d characters", spec.ID, minIDLength, maxIDLength)
	}
	if strings.TrimSpace(spec.TenantID) == "" {
		return Record{}, types.NewValidationError("agent %s: tenant_id is required", id)
	}
	if err := validateCapabilities(id, spec.Capabilities); err != nil {
		return Record{}, err
	}
	timeout := spec.HealthTimeout
	if timeout == 0 {
		timeout = DefaultHealthTimeout
	}
	if timeout < 0 {
		return Record{}, types.NewValidationError("agent %s: health timeout must be positive", id)
	}

	return Record{
		id:            id,
		tenantID:      spec.TenantID,
		agentType:     spec.AgentType,
		capabilities:  append([]Capability(nil), spec.Capabilities...),
		status:        StatusAvailable,
		lastHeartbeat: now,
		healthTimeout: timeout,
		tags:          normalizeTags(spec.Tags),
		metadata:      copyMap(spec.Metadata),
		createdAt:     now,
		version:       1,
	}, nil
}

func (r Record) ID() string                   { return r.id }
func (r Record) TenantID() string             { return r.tenantID }
func (r Record) AgentType() string            { return r.agentType }
func (r Record) Status() Status               { return r.status }
func (r Record) TasksAssigned() int64         { return r.assigned }
func (r Record) TasksCompleted() int64        { return r.completed }
func (r Record) TasksFailed() int64           { return r.failed }
func (r Record) LastHeartbeat() time.Time     { return r.lastHeartbeat }
func (r Record) HealthTimeout() time.Duration { return r.healthTimeout }
func (r Record) CreatedAt() time.Time         { return r.createdAt }
func (r Record) Version() int64               { return r.version }
func (r Record) PendingLen() int              { return len(r.pending) }
func (r Record) Metadata(key string) string   { return r.metadata[key] }

// ActiveTaskID returns the running task, set iff BUSY.
func (r Record) ActiveTaskID() (string, bool) {
	return r.activeTaskID, r.activeTaskID != ""
}

// PendingQueue returns a copy of the accepted-but-unstarted task ids.
func (r Record) PendingQueue() []string {
	return append([]string(nil), r.pending...)
}

// Capabilities returns a copy of the capability list.
func (r Record) Capabilities() []Capability {
	return append([]Capability(nil), r.capabilities...)
}

// Capability looks up a capability by name.
func (r Record) Capability(name string) (Capability, bool) {
	for _, c := range r.capabilities {
		if c.Name == name {
			return c, true
		}
	}
	return Capability{}, false
}

// CapabilityNames returns the sorted capability names.
func (r Record) CapabilityNames() []string {
	names := make([]string, len(r.capabilities))
	for i, c := range r.capabilities {
		names[i] = c.Name
	}
	sort.Strings(names)
	return names
}

// Tags returns a copy of the tag set.
func (r Record) Tags() []string {
	return append([]string(nil), r.tags...)
}

// HasTag reports whether the record carries tag.
func (r Record) HasTag(tag string) bool {
	i := sort.SearchStrings(r.tags, tag)
	return i < len(r.tags) && r.tags[i] == tag
}

// Metrics returns the last reported health metrics, if any.
func (r Record) Metrics() (HealthMetrics, bool) {
	if r.metrics == nil {
		return HealthMetrics{}, false
	}
	return *r.metrics, true
}

// TerminatedAt returns when the record was terminated.
func (r Record) TerminatedAt() (time.Time, bool) {
	if r.terminatedAt == nil {
		return time.Time{}, false
	}
	return *r.terminatedAt, true
}

// SuccessRate is completed/(completed+failed), or 1.0 before any outcome.
func (r Record) SuccessRate() float64 {
	total := r.completed + r.failed
	if total == 0 {
		return 1.0
	}
	return float64(r.completed) / float64(total)
}

// clone returns a deep copy with the version bumped, ready to be modified
// by a transition.
func (r Record) clone() Record {
	c := r
	c.capabilities = append([]Capability(nil), r.capabilities...)
	c.pending = append([]string(nil), r.pending...)
	c.tags = append([]string(nil), r.tags...)
	c.metadata = copyMap(r.metadata)
	if r.metrics != nil {
		m := *r.metrics
		c.metrics = &m
	}
	if r.terminatedAt != nil {
		t := *r.terminatedAt
		c.terminatedAt = &t
	}
	c.version++
	return c
}

func (r *Record) setMeta(key, value string) {
	if r.metadata == nil {
		r.metadata = make(map[string]string)
	}
	r.metadata[key] = value
}

func copyMap(in map[string]string) map[string]string {
	if len(in) == 0 {
		return nil
	}
	out := make(map[string]string, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

func normalizeTags(in []string) []string {
	seen := make(map[string]struct{}, len(in))
	out := make([]string, 0, len(in))
	for _, t := range in {
		t = strings.TrimSpace(t)
		if t == "" {
			continue
		}
		if _, ok := seen[t]; ok {
			continue
		}
		seen[t] = struct{}{}
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}

// checkInvariants verifies the structural invariants of a record.
func (r Record) checkInvariants() error {
	if !r.status.Valid() {
		return types.NewInvariantViolation("agent %s: unknown status %q", r.id, r.status)
	}
	if (r.activeTaskID != "") != (r.status == StatusBusy) {
		return types.NewInvariantViolation("agent %s: active task must be set iff BUSY (status %s)", r.id, r.status)
	}
	if len(r.pending) > 0 && !r.status.AcceptsQueue() {
		return types.NewInvariantViolation("agent %s: pending queue not allowed in %s", r.id, r.status)
	}
	if r.assigned < 0 || r.completed < 0 || r.failed < 0 {
		return types.NewInvariantViolation("agent %s: negative task counter", r.id)
	}
	return nil
}

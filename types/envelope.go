package types

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Priority 信封优先级（1–4）
type Priority int

const (
	PriorityLow      Priority = 1
	PriorityNormal   Priority = 2
	PriorityHigh     Priority = 3
	PriorityCritical Priority = 4
)

// Valid reports whether p is within LOW..CRITICAL.
func (p Priority) Valid() bool {
	return p >= PriorityLow && p <= PriorityCritical
}

func (p Priority) String() string {
	switch p {
	case PriorityLow:
		return "LOW"
	case PriorityNormal:
		return "NORMAL"
	case PriorityHigh:
		return "HIGH"
	case PriorityCritical:
		return "CRITICAL"
	default:
		return fmt.Sprintf("Priority(%d)", int(p))
	}
}

// EnvelopeStatus 信封状态
type EnvelopeStatus string

const (
	EnvelopeCreated   EnvelopeStatus = "CREATED"
	EnvelopeRouted    EnvelopeStatus = "ROUTED"
	EnvelopeDelivered EnvelopeStatus = "DELIVERED"
	EnvelopeFailed    EnvelopeStatus = "FAILED"
)

// IsTerminal reports whether no further transition is possible.
func (s EnvelopeStatus) IsTerminal() bool {
	return s == EnvelopeDelivered || s == EnvelopeFailed
}

// maxClockSkew 允许生产者与本地时钟之间的偏差
const maxClockSkew = time.Second

// Target 路由策略解析出的投递目标
type Target struct {
	AgentID string  `json:"agent_id"`
	Topic   string  `json:"topic,omitempty"`
	Score   float64 `json:"score,omitempty"`
}

// AgentTopic returns the conventional topic name for an agent mailbox.
func AgentTopic(agentID string) string {
	return "agent." + agentID
}

// EnvelopeSpec 创建信封所需的输入
type EnvelopeSpec struct {
	ID                   string
	TenantID             string
	RequiredCapabilities []string
	Priority             Priority
	Payload              []byte
	Metadata             map[string]string
	CreatedAt            time.Time
	ExpiresAt            *time.Time
}

// Envelope 不可变的可路由工作单元。
// 所有修改方法都返回新值，调用方持有的旧值保持不变。
type Envelope struct {
	id           string
	tenantID     string
	capabilities []string
	priority     Priority
	targets      []Target
	payload      []byte
	metadata     map[string]string
	createdAt    time.Time
	expiresAt    *time.Time
	status       EnvelopeStatus
}

// NewEnvelope validates spec and returns a CREATED envelope.
func NewEnvelope(spec EnvelopeSpec, now time.Time) (Envelope, error) {
	id := strings.TrimSpace(spec.ID)
	if id == "" {
		id = uuid.NewString()
	}
	if strings.TrimSpace(spec.TenantID) == "" {
		return Envelope{}, NewValidationError("envelope %s: tenant_id is required", id)
	}
	if !spec.Priority.Valid() {
		return Envelope{}, NewValidationError("envelope %s: priority %d out of range 1-4", id, spec.Priority)
	}
	createdAt := spec.CreatedAt
	if createdAt.IsZero() {
		createdAt = now
	}
	if createdAt.After(now.Add(maxClockSkew)) {
		return Envelope{}, NewValidationError("envelope %s: created_at %s is in the future", id, createdAt.Format(time.RFC3339Nano))
	}
	var expiresAt *time.Time
	if spec.ExpiresAt != nil {
		if !spec.ExpiresAt.After(createdAt) {
			return Envelope{}, NewValidationError("envelope %s: expires_at must be after created_at", id)
		}
		t := *spec.ExpiresAt
		expiresAt = &t
	}

	caps, err := normalizeCapabilities(spec.RequiredCapabilities)
	if err != nil {
		return Envelope{}, NewValidationError("envelope %s: %v", id, err)
	}

	return Envelope{
		id:           id,
		tenantID:     spec.TenantID,
		capabilities: caps,
		priority:     spec.Priority,
		payload:      append([]byte(nil), spec.Payload...),
		metadata:     copyStringMap(spec.Metadata),
		createdAt:    createdAt,
		expiresAt:    expiresAt,
		status:       EnvelopeCreated,
	}, nil
}

func normalizeCapabilities(in []string) ([]string, error) {
	seen := make(map[string]struct{}, len(in))
	out := make([]string, 0, len(in))
	for _, c := range in {
		c = strings.TrimSpace(c)
		if c == "" {
			return nil, fmt.Errorf("empty capability name")
		}
		if _, ok := seen[c]; ok {
			continue
		}
		seen[c] = struct{}{}
		out = append(out, c)
	}
	sort.Strings(out)
	return out, nil
}

func copyStringMap(in map[string]string) map[string]string {
	if len(in) == 0 {
		return nil
	}
	out := make(map[string]string, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

func (e Envelope) ID() string                 { return e.id }
func (e Envelope) TenantID() string           { return e.tenantID }
func (e Envelope) Priority() Priority         { return e.priority }
func (e Envelope) Status() EnvelopeStatus     { return e.status }
func (e Envelope) CreatedAt() time.Time       { return e.createdAt }
func (e Envelope) Payload() []byte            { return append([]byte(nil), e.payload...) }
func (e Envelope) Metadata(key string) string { return e.metadata[key] }

// RequiredCapabilities returns a sorted copy of the capability set.
func (e Envelope) RequiredCapabilities() []string {
	return append([]string(nil), e.capabilities...)
}

// Targets returns a copy of the resolved targets in routing order.
func (e Envelope) Targets() []Target {
	return append([]Target(nil), e.targets...)
}

// ExpiresAt returns the expiry, if any.
func (e Envelope) ExpiresAt() (time.Time, bool) {
	if e.expiresAt == nil {
		return time.Time{}, false
	}
	return *e.expiresAt, true
}

// IsExpired reports whether the envelope has an expiry at or before now.
func (e Envelope) IsExpired(now time.Time) bool {
	return e.expiresAt != nil && !now.Before(*e.expiresAt)
}

// WithTargets records the resolved targets and moves CREATED to ROUTED.
func (e Envelope) WithTargets(targets []Target) (Envelope, error) {
	if e.status != EnvelopeCreated {
		return e, e.illegal(EnvelopeRouted)
	}
	if len(targets) == 0 {
		return e, NewValidationError("envelope %s: at least one target is required", e.id)
	}
	next := e.clone()
	next.targets = append([]Target(nil), targets...)
	next.status = EnvelopeRouted
	return next, nil
}

// MarkDelivered moves ROUTED to DELIVERED.
func (e Envelope) MarkDelivered() (Envelope, error) {
	return e.finish(EnvelopeDelivered)
}

// MarkFailed moves ROUTED to FAILED.
func (e Envelope) MarkFailed() (Envelope, error) {
	return e.finish(EnvelopeFailed)
}

func (e Envelope) finish(to EnvelopeStatus) (Envelope, error) {
	if e.status != EnvelopeRouted {
		return e, e.illegal(to)
	}
	next := e.clone()
	next.status = to
	return next, nil
}

func (e Envelope) illegal(to EnvelopeStatus) error {
	return NewInvariantViolation("envelope %s: illegal transition %s -> %s", e.id, e.status, to)
}

func (e Envelope) clone() Envelope {
	c := e
	c.capabilities = append([]string(nil), e.capabilities...)
	c.targets = append([]Target(nil), e.targets...)
	c.metadata = copyStringMap(e.metadata)
	return c
}

// EnvelopeView 信封的可序列化视图，供传输适配器编码使用
type EnvelopeView struct {
	ID                   string            `json:"id"`
	TenantID             string            `json:"tenant_id"`
	RequiredCapabilities []string          `json:"required_capabilities,omitempty"`
	Priority             Priority          `json:"priority"`
	Targets              []Target          `json:"targets,omitempty"`
	Payload              []byte            `json:"payload,omitempty"`
	Metadata             map[string]string `json:"metadata,omitempty"`
	CreatedAt            time.Time         `json:"created_at"`
	ExpiresAt            *time.Time        `json:"expires_at,omitempty"`
	Status               EnvelopeStatus    `json:"status"`
}

// View returns a serialisable copy of the envelope.
func (e Envelope) View() EnvelopeView {
	c := e.clone()
	return EnvelopeView{
		ID:                   c.id,
		TenantID:             c.tenantID,
		RequiredCapabilities: c.capabilities,
		Priority:             c.priority,
		Targets:              c.targets,
		Payload:              c.Payload(),
		Metadata:             c.metadata,
		CreatedAt:            c.createdAt,
		ExpiresAt:            c.expiresAt,
		Status:               c.status,
	}
}

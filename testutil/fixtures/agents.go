// =============================================================================
// 📦 测试数据工厂 - Agent 测试数据
// =============================================================================
// 以 Builder 方式构造处于任意合法状态的 agent.Record
//
// 使用方法:
//
//	rec := fixtures.Agent("agent-1").Cap("data_processing", 4).Pending("t1", "t2").Build()
//
// =============================================================================
package fixtures

import (
	"fmt"
	"time"

	"github.com/BaSui01/agentmesh/agent"
)

// DefaultTenant is the tenant fixtures belong to unless overridden.
const DefaultTenant = "tenant-a"

// Epoch matches testutil.Epoch without importing it.
var Epoch = time.Date(2025, 1, 15, 9, 0, 0, 0, time.UTC)

// AgentBuilder 构造测试用 agent，迁移按调用顺序依次应用
type AgentBuilder struct {
	spec agent.Spec
	now  time.Time
	ops  []func(agent.Record) (agent.Record, error)
}

// Agent starts a builder for an AVAILABLE agent in DefaultTenant.
func Agent(id string) *AgentBuilder {
	return &AgentBuilder{
		spec: agent.Spec{ID: id, TenantID: DefaultTenant, AgentType: "worker"},
		now:  Epoch,
	}
}

// Tenant sets the tenant.
func (b *AgentBuilder) Tenant(tenantID string) *AgentBuilder {
	b.spec.TenantID = tenantID
	return b
}

// Cap adds a capability.
func (b *AgentBuilder) Cap(name string, proficiency int) *AgentBuilder {
	b.spec.Capabilities = append(b.spec.Capabilities, agent.Capability{Name: name, Proficiency: proficiency})
	return b
}

// Tags sets tags.
func (b *AgentBuilder) Tags(tags ...string) *AgentBuilder {
	b.spec.Tags = tags
	return b
}

// At sets the creation (and heartbeat) time.
func (b *AgentBuilder) At(now time.Time) *AgentBuilder {
	b.now = now
	return b
}

// HealthTimeout sets the heartbeat timeout.
func (b *AgentBuilder) HealthTimeout(d time.Duration) *AgentBuilder {
	b.spec.HealthTimeout = d
	return b
}

// History records completed and failed tasks.
func (b *AgentBuilder) History(completed, failed int) *AgentBuilder {
	b.ops = append(b.ops, func(r agent.Record) (agent.Record, error) {
		var err error
		for i := 0; i < completed; i++ {
			if r, err = r.AssignTask(fmt.Sprintf("hist-ok-%d", i)); err != nil {
				return r, err
			}
			if r, err = r.CompleteTask(); err != nil {
				return r, err
			}
		}
		for i := 0; i < failed; i++ {
			if r, err = r.AssignTask(fmt.Sprintf("hist-fail-%d", i)); err != nil {
				return r, err
			}
			if r, err = r.FailTask("fixture failure"); err != nil {
				return r, err
			}
		}
		return r, nil
	})
	return b
}

// Busy assigns an active task.
func (b *AgentBuilder) Busy(taskID string) *AgentBuilder {
	b.ops = append(b.ops, func(r agent.Record) (agent.Record, error) { return r.AssignTask(taskID) })
	return b
}

// Pending enqueues task ids.
func (b *AgentBuilder) Pending(taskIDs ...string) *AgentBuilder {
	b.ops = append(b.ops, func(r agent.Record) (agent.Record, error) {
		var err error
		for _, id := range taskIDs {
			if r, err = r.EnqueueTask(id); err != nil {
				return r, err
			}
		}
		return r, nil
	})
	return b
}

// PendingN enqueues n generated task ids.
func (b *AgentBuilder) PendingN(n int) *AgentBuilder {
	ids := make([]string, n)
	for i := range ids {
		ids[i] = fmt.Sprintf("pending-%d", i)
	}
	return b.Pending(ids...)
}

// Metrics reports health metrics through a heartbeat at the build time.
func (b *AgentBuilder) Metrics(m agent.HealthMetrics) *AgentBuilder {
	b.ops = append(b.ops, func(r agent.Record) (agent.Record, error) { return r.RecordHeartbeat(b.now, &m) })
	return b
}

// Paused pauses the agent.
func (b *AgentBuilder) Paused() *AgentBuilder {
	b.ops = append(b.ops, func(r agent.Record) (agent.Record, error) { return r.Pause() })
	return b
}

// Unhealthy marks the agent unhealthy.
func (b *AgentBuilder) Unhealthy(reason string) *AgentBuilder {
	b.ops = append(b.ops, func(r agent.Record) (agent.Record, error) { return r.MarkUnhealthy(reason) })
	return b
}

// Terminated terminates the agent.
func (b *AgentBuilder) Terminated() *AgentBuilder {
	b.ops = append(b.ops, func(r agent.Record) (agent.Record, error) { return r.Terminate(b.now) })
	return b
}

// Build returns the record, panicking on an illegal fixture.
func (b *AgentBuilder) Build() agent.Record {
	rec, err := b.TryBuild()
	if err != nil {
		panic(fmt.Sprintf("fixtures: %v", err))
	}
	return rec
}

// TryBuild returns the record or the first construction error.
func (b *AgentBuilder) TryBuild() (agent.Record, error) {
	spec := b.spec
	if len(spec.Capabilities) == 0 {
		spec.Capabilities = []agent.Capability{{Name: "general", Proficiency: 3}}
	}
	rec, err := agent.NewRecord(spec, b.now)
	if err != nil {
		return agent.Record{}, err
	}
	for _, op := range b.ops {
		if rec, err = op(rec); err != nil {
			return agent.Record{}, err
		}
	}
	return rec, nil
}

// DataProcessor is the AVAILABLE agent used by the autonomy scenarios:
// {data_processing:4}, no history.
func DataProcessor() agent.Record {
	return Agent("agent-dp").Cap("data_processing", 4).Build()
}

// Fleet returns a mixed set of agents covering every status.
func Fleet() []agent.Record {
	return []agent.Record{
		Agent("agent-a").Cap("nlp", 5).Cap("search", 3).History(9, 1).Build(),
		Agent("agent-b").Cap("nlp", 3).PendingN(2).Build(),
		Agent("agent-c").Cap("search", 4).Busy("task-c").Build(),
		Agent("agent-d").Cap("nlp", 4).Paused().Build(),
		Agent("agent-e").Cap("nlp", 5).Unhealthy("fixture").Build(),
		Agent("agent-f").Cap("nlp", 5).Terminated().Build(),
	}
}

package fleet

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/BaSui01/agentmesh/agent"
	"github.com/BaSui01/agentmesh/agent/autonomy"
	"github.com/BaSui01/agentmesh/events"
	"github.com/BaSui01/agentmesh/persistence"
	"github.com/BaSui01/agentmesh/types"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// ErrClosed is returned once the fleet or an owner has stopped.
var ErrClosed = types.NewError(types.ErrInternal, "fleet is closed")

// ErrAgentNotFound is returned for agents the fleet does not own.
var ErrAgentNotFound = types.NewError(types.ErrNotFound, "agent not registered")

// Config 舰队配置
type Config struct {
	SweepInterval  time.Duration `yaml:"sweep_interval" json:"sweep_interval"`
	CommandBuffer  int           `yaml:"command_buffer" json:"command_buffer"`
	PersistTimeout time.Duration `yaml:"persist_timeout" json:"persist_timeout"`
}

// DefaultConfig returns a 5s sweep, a 16-command buffer and a 5s persist timeout.
func DefaultConfig() Config {
	return Config{
		SweepInterval:  5 * time.Second,
		CommandBuffer:  16,
		PersistTimeout: 5 * time.Second,
	}
}

func (c Config) normalize() Config {
	d := DefaultConfig()
	if c.SweepInterval <= 0 {
		c.SweepInterval = d.SweepInterval
	}
	if c.CommandBuffer <= 0 {
		c.CommandBuffer = d.CommandBuffer
	}
	if c.PersistTimeout <= 0 {
		c.PersistTimeout = d.PersistTimeout
	}
	return c
}

// Option configures a Fleet.
type Option func(*Fleet)

// WithEventSink sets the event sink.
func WithEventSink(s events.Sink) Option { return func(f *Fleet) { f.sink = events.OrNop(s) } }

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option { return func(f *Fleet) { f.now = now } }

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(f *Fleet) {
		if l != nil {
			f.logger = l
		}
	}
}

type ownerKey struct {
	tenantID string
	agentID  string
}

// Fleet 管理 owner goroutine 的集合。
// 互斥锁只保护 owner 注册表，agent 数据由各自的 owner 独占。
type Fleet struct {
	config    Config
	repo      persistence.AgentRepository
	evaluator *autonomy.Evaluator
	sink      events.Sink
	now       func() time.Time
	logger    *zap.Logger

	mu     sync.RWMutex
	owners map[ownerKey]*Owner
	closed bool
	group  errgroup.Group
}

// New creates a fleet persisting through repo and deciding offers with evaluator.
func New(config Config, repo persistence.AgentRepository, evaluator *autonomy.Evaluator, opts ...Option) (*Fleet, error) {
	if repo == nil {
		return nil, types.NewValidationError("fleet requires a repository")
	}
	if evaluator == nil {
		return nil, types.NewValidationError("fleet requires an autonomy evaluator")
	}
	f := &Fleet{
		config:    config.normalize(),
		repo:      repo,
		evaluator: evaluator,
		sink:      events.Nop(),
		now:       time.Now,
		logger:    zap.NewNop(),
		owners:    make(map[ownerKey]*Owner),
	}
	for _, opt := range opts {
		opt(f)
	}
	f.logger = f.logger.With(zap.String("component", "fleet"))
	return f, nil
}

// Register starts an owner for rec and persists it. Registering an agent id
// twice within a tenant is a validation error.
func (f *Fleet) Register(ctx context.Context, rec agent.Record) error {
	if err := f.adopt(rec); err != nil {
		return err
	}
	if err := f.repo.Save(ctx, rec); err != nil {
		f.logger.Warn("persist registered agent failed", zap.String("agent_id", rec.ID()), zap.Error(err))
	}
	f.sink.Emit(events.New(events.KindAgentRegistered, f.now()).
		WithAgent(rec.TenantID(), rec.ID()).
		WithData("agent_type", rec.AgentType()).
		WithData("capabilities", rec.CapabilityNames()))
	return nil
}

// Load adopts every persisted agent of the given tenants and returns how many
// were started. Agents already owned are skipped.
func (f *Fleet) Load(ctx context.Context, tenantIDs ...string) (int, error) {
	n := 0
	for _, tenant := range tenantIDs {
		recs, err := f.repo.List(ctx, tenant)
		if err != nil {
			return n, err
		}
		for _, rec := range recs {
			if err := f.adopt(rec); err != nil {
				if types.IsCode(err, types.ErrValidation) {
					continue
				}
				return n, err
			}
			n++
		}
	}
	f.logger.Info("loaded persisted agents", zap.Int("count", n), zap.Strings("tenants", tenantIDs))
	return n, nil
}

func (f *Fleet) adopt(rec agent.Record) error {
	key := ownerKey{rec.TenantID(), rec.ID()}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return ErrClosed
	}
	if _, dup := f.owners[key]; dup {
		return types.NewValidationError("agent %s already registered for tenant %s", rec.ID(), rec.TenantID())
	}
	o := newOwner(rec, f)
	f.owners[key] = o
	f.group.Go(o.run)
	return nil
}

func (f *Fleet) owner(tenantID, agentID string) (*Owner, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	if f.closed {
		return nil, ErrClosed
	}
	o, ok := f.owners[ownerKey{tenantID, agentID}]
	if !ok {
		return nil, ErrAgentNotFound
	}
	return o, nil
}

func (f *Fleet) tenantOwners(tenantID string) []*Owner {
	f.mu.RLock()
	defer f.mu.RUnlock()
	out := make([]*Owner, 0, len(f.owners))
	for key, o := range f.owners {
		if tenantID == "" || key.tenantID == tenantID {
			out = append(out, o)
		}
	}
	return out
}

// Get returns the owner's current record.
func (f *Fleet) Get(ctx context.Context, tenantID, agentID string) (agent.Record, error) {
	o, err := f.owner(tenantID, agentID)
	if err != nil {
		return agent.Record{}, err
	}
	return o.submit(ctx, nil)
}

// Snapshot returns the tenant's current records ordered by id, ready to be
// passed to the router as candidates. An empty tenant snapshots every agent.
func (f *Fleet) Snapshot(ctx context.Context, tenantID string) ([]agent.Record, error) {
	owners := f.tenantOwners(tenantID)
	recs := make([]agent.Record, 0, len(owners))
	for _, o := range owners {
		rec, err := o.submit(ctx, nil)
		if err != nil {
			if errors.Is(err, ErrClosed) {
				continue
			}
			return nil, err
		}
		recs = append(recs, rec)
	}
	sort.Slice(recs, func(i, j int) bool {
		if recs[i].TenantID() != recs[j].TenantID() {
			return recs[i].TenantID() < recs[j].TenantID()
		}
		return recs[i].ID() < recs[j].ID()
	})
	return recs, nil
}

// Apply runs fn on the agent's owner and returns the adopted record. A
// failing fn leaves the record unchanged.
func (f *Fleet) Apply(ctx context.Context, tenantID, agentID string, fn Transition) (agent.Record, error) {
	if fn == nil {
		return agent.Record{}, types.NewValidationError("transition is required")
	}
	o, err := f.owner(tenantID, agentID)
	if err != nil {
		return agent.Record{}, err
	}
	return o.submit(ctx, fn)
}

// Offer lets the agent decide on offering. An accepted task starts at once
// when the agent's queue is empty and is queued behind the head otherwise.
// A rejection is reported through the decision, not the error.
func (f *Fleet) Offer(ctx context.Context, tenantID, agentID string, offering autonomy.TaskOffering) (autonomy.Decision, agent.Record, error) {
	var (
		decision  autonomy.Decision
		evaluated bool
	)
	rec, err := f.Apply(ctx, tenantID, agentID, func(r agent.Record) (agent.Record, error) {
		decision = f.evaluator.Evaluate(r, offering, f.now())
		evaluated = true
		if !decision.Accept {
			return r, nil
		}
		if r.PendingLen() == 0 {
			return r.AssignTask(offering.TaskID)
		}
		next, err := r.EnqueueTask(offering.TaskID)
		if err != nil {
			return r, err
		}
		return next.StartNext()
	})

	if !evaluated {
		return decision, rec, err
	}
	offered := events.New(events.KindTaskOffered, f.now()).
		WithAgent(tenantID, agentID).
		WithTask(offering.TaskID).
		WithData("accept", decision.Accept).
		WithData("score", decision.Score)
	if decision.Factors != nil {
		offered = offered.WithData("factors", *decision.Factors)
	}
	if !decision.Accept {
		offered = offered.WithReason(decision.Reason)
		if decision.Constraint != "" {
			offered = offered.WithData("constraint", decision.Constraint)
		}
	}
	f.sink.Emit(offered)

	if err != nil {
		return decision, rec, err
	}
	if decision.Accept {
		f.emitStarted(rec)
	}
	return decision, rec, nil
}

// Complete finishes the active task and starts the next queued one.
func (f *Fleet) Complete(ctx context.Context, tenantID, agentID string) (agent.Record, error) {
	var taskID string
	rec, err := f.Apply(ctx, tenantID, agentID, func(r agent.Record) (agent.Record, error) {
		taskID, _ = r.ActiveTaskID()
		next, err := r.CompleteTask()
		if err != nil {
			return r, err
		}
		return startQueued(next)
	})
	if err != nil {
		return rec, err
	}
	f.sink.Emit(events.New(events.KindTaskCompleted, f.now()).WithAgent(tenantID, agentID).WithTask(taskID))
	f.emitStarted(rec)
	return rec, nil
}

// Fail records a failed active task and starts the next queued one.
func (f *Fleet) Fail(ctx context.Context, tenantID, agentID, reason string) (agent.Record, error) {
	var taskID string
	rec, err := f.Apply(ctx, tenantID, agentID, func(r agent.Record) (agent.Record, error) {
		taskID, _ = r.ActiveTaskID()
		next, err := r.FailTask(reason)
		if err != nil {
			return r, err
		}
		return startQueued(next)
	})
	if err != nil {
		return rec, err
	}
	f.sink.Emit(events.New(events.KindTaskFailed, f.now()).
		WithAgent(tenantID, agentID).
		WithTask(taskID).
		WithReason(reason))
	f.emitStarted(rec)
	return rec, nil
}

func startQueued(r agent.Record) (agent.Record, error) {
	if r.Status() != agent.StatusAvailable || r.PendingLen() == 0 {
		return r, nil
	}
	return r.StartNext()
}

func (f *Fleet) emitStarted(rec agent.Record) {
	if active, ok := rec.ActiveTaskID(); ok && rec.Status() == agent.StatusBusy {
		f.sink.Emit(events.New(events.KindTaskAssigned, f.now()).
			WithAgent(rec.TenantID(), rec.ID()).
			WithTask(active))
	}
}

// Heartbeat refreshes liveness and optional metrics. An unhealthy agent
// becomes available again.
func (f *Fleet) Heartbeat(ctx context.Context, tenantID, agentID string, metrics *agent.HealthMetrics) (agent.Record, error) {
	rec, err := f.Apply(ctx, tenantID, agentID, func(r agent.Record) (agent.Record, error) {
		return r.RecordHeartbeat(f.now(), metrics)
	})
	if err != nil {
		return rec, err
	}
	if f.evaluator.ShouldPauseForMaintenance(rec) {
		f.logger.Warn("agent error rate calls for maintenance",
			zap.String("tenant_id", tenantID),
			zap.String("agent_id", agentID),
			zap.Float64("error_rate", rec.ErrorRate()))
	}
	return rec, nil
}

// SweepHealth marks every agent whose heartbeat is older than its timeout
// UNHEALTHY and returns how many were marked.
func (f *Fleet) SweepHealth(ctx context.Context, now time.Time) int {
	reason := string(types.ErrHealthCheckExpired)
	marked := 0
	for _, o := range f.tenantOwners("") {
		var expired bool
		var age time.Duration
		rec, err := o.submit(ctx, func(r agent.Record) (agent.Record, error) {
			switch r.Status() {
			case agent.StatusUnhealthy, agent.StatusTerminated:
				return r, nil
			}
			if r.IsHealthy(now) {
				return r, nil
			}
			expired = true
			age = r.HeartbeatAge(now)
			return r.MarkUnhealthy(reason)
		})
		if err != nil {
			if ctx.Err() != nil {
				return marked
			}
			f.logger.Warn("health sweep failed", zap.Error(err))
			continue
		}
		if !expired {
			continue
		}
		marked++
		f.logger.Warn("agent heartbeat expired",
			zap.String("tenant_id", rec.TenantID()),
			zap.String("agent_id", rec.ID()),
			zap.Duration("heartbeat_age", age),
			zap.Duration("health_timeout", rec.HealthTimeout()))
		f.sink.Emit(events.New(events.KindHealthCheckFailed, f.now()).
			WithAgent(rec.TenantID(), rec.ID()).
			WithReason(reason).
			WithData("heartbeat_age_ms", age.Milliseconds()))
	}
	return marked
}

// Run sweeps health every interval (the configured one when interval <= 0)
// until ctx ends.
func (f *Fleet) Run(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		interval = f.config.SweepInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			f.logger.Info("health sweep stopped")
			return nil
		case <-ticker.C:
			f.SweepHealth(ctx, f.now())
		}
	}
}

// Len returns the number of owned agents.
func (f *Fleet) Len() int {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return len(f.owners)
}

// Close stops every owner after it drains accepted commands.
func (f *Fleet) Close() error {
	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		return nil
	}
	f.closed = true
	for _, o := range f.owners {
		close(o.stop)
	}
	f.mu.Unlock()
	return f.group.Wait()
}

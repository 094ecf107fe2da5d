package resilience

import (
	"sort"
	"sync"
	"time"

	"github.com/BaSui01/agentmesh/events"
	"github.com/BaSui01/agentmesh/resilience/bulkhead"
	"github.com/BaSui01/agentmesh/resilience/circuitbreaker"
	"github.com/BaSui01/agentmesh/resilience/retry"
	"go.uber.org/zap"
)

// Policy 单个下游的弹性策略
type Policy struct {
	Breaker  circuitbreaker.Config
	Retry    retry.RetryPolicy
	Bulkhead bulkhead.Config
}

// DefaultPolicy returns the default breaker, retry and bulkhead settings.
func DefaultPolicy() Policy {
	return Policy{
		Breaker:  *circuitbreaker.DefaultConfig(),
		Retry:    *retry.DefaultRetryPolicy(),
		Bulkhead: bulkhead.DefaultConfig(),
	}
}

// PresetPolicy combines the retry and bulkhead presets of the same name.
// Presets without a bulkhead counterpart keep the default bulkhead.
func PresetPolicy(name string) (Policy, bool) {
	r, ok := retry.Preset(name)
	if !ok {
		return Policy{}, false
	}
	p := DefaultPolicy()
	p.Retry = *r
	if bh, ok := bulkhead.Preset(name); ok {
		p.Bulkhead = bh
	}
	return p, true
}

// RegistryConfig 注册表配置
type RegistryConfig struct {
	// Default applies to every name without an override.
	Default Policy
	// Overrides maps a guard name to its own policy.
	Overrides map[string]Policy
}

// Registry 按名称共享 Guard，同名调用方共享同一份熔断与舱壁状态
type Registry struct {
	config RegistryConfig
	sink   events.Sink
	logger *zap.Logger

	mu     sync.RWMutex
	guards map[string]*Guard
}

// NewRegistry creates an empty registry. Breaker transitions are emitted to
// sink.
func NewRegistry(config RegistryConfig, sink events.Sink, logger *zap.Logger) *Registry {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Registry{
		config: config,
		sink:   events.OrNop(sink),
		logger: logger.With(zap.String("component", "resilience_registry")),
		guards: make(map[string]*Guard),
	}
}

// Guard returns the guard for name, creating it on first use.
func (r *Registry) Guard(name string) *Guard {
	r.mu.RLock()
	g, ok := r.guards[name]
	r.mu.RUnlock()
	if ok {
		return g
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if g, ok := r.guards[name]; ok {
		return g
	}
	g = r.build(name)
	r.guards[name] = g
	r.logger.Info("guard created", zap.String("name", name))
	return g
}

// Lookup returns an existing guard without creating one.
func (r *Registry) Lookup(name string) (*Guard, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	g, ok := r.guards[name]
	return g, ok
}

func (r *Registry) build(name string) *Guard {
	policy, ok := r.config.Overrides[name]
	if !ok {
		policy = r.config.Default
	}

	breakerCfg := policy.Breaker
	userHook := breakerCfg.OnStateChange
	clock := breakerCfg.Clock
	if clock == nil {
		clock = time.Now
	}
	breakerCfg.OnStateChange = func(n string, from, to circuitbreaker.State) {
		r.emitTransition(n, from, to, clock())
		if userHook != nil {
			userHook(n, from, to)
		}
	}

	retryPolicy := policy.Retry
	return NewGuard(name,
		bulkhead.New(name, policy.Bulkhead, r.logger),
		circuitbreaker.NewCircuitBreaker(name, &breakerCfg, r.logger),
		retry.NewBackoffRetryer(&retryPolicy, r.logger),
	)
}

func (r *Registry) emitTransition(name string, from, to circuitbreaker.State, at time.Time) {
	var kind events.Kind
	switch to {
	case circuitbreaker.StateOpen:
		kind = events.KindCircuitOpened
	case circuitbreaker.StateHalfOpen:
		kind = events.KindCircuitHalfOpened
	case circuitbreaker.StateClosed:
		kind = events.KindCircuitClosed
	default:
		return
	}
	e := events.New(kind, at).WithTransition(from.String(), to.String())
	e.Circuit = name
	r.sink.Emit(e)
}

// Names returns the registered guard names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	names := make([]string, 0, len(r.guards))
	for name := range r.guards {
		names = append(names, name)
	}
	r.mu.RUnlock()
	sort.Strings(names)
	return names
}

func (r *Registry) all() []*Guard {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Guard, 0, len(r.guards))
	for _, g := range r.guards {
		out = append(out, g)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].name < out[j].name })
	return out
}

// Snapshot returns the stats of every guard, sorted by name.
func (r *Registry) Snapshot() []GuardStats {
	guards := r.all()
	out := make([]GuardStats, 0, len(guards))
	for _, g := range guards {
		out = append(out, g.Stats())
	}
	return out
}

// OpenCircuits returns the names whose breaker is currently open.
func (r *Registry) OpenCircuits() []string {
	var open []string
	for _, g := range r.all() {
		if g.breaker.State() == circuitbreaker.StateOpen {
			open = append(open, g.name)
		}
	}
	return open
}

// ResetAll closes every breaker.
func (r *Registry) ResetAll() {
	for _, g := range r.all() {
		g.breaker.Reset()
	}
	r.logger.Info("all circuit breakers reset")
}

package router

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/BaSui01/agentmesh/agent"
	"github.com/BaSui01/agentmesh/events"
	"github.com/BaSui01/agentmesh/resilience"
	"github.com/BaSui01/agentmesh/transport"
	"github.com/BaSui01/agentmesh/types"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// ErrNoEligibleAgent is returned when no candidate is AVAILABLE and holds
// every required capability. The envelope stays CREATED.
var ErrNoEligibleAgent = types.NewError(types.ErrNoEligibleAgent, "no eligible agent")

// Config 路由器配置
type Config struct {
	Strategy StrategyKind `json:"strategy" yaml:"strategy"`
	// MaxTargets caps how many agents receive one envelope.
	MaxTargets int `json:"max_targets" yaml:"max_targets"`
	// Workers is the number of dispatch workers under priority_queue.
	Workers int           `json:"workers" yaml:"workers"`
	Scoring ScoringConfig `json:"scoring" yaml:"scoring"`
}

// DefaultConfig returns the default router configuration.
func DefaultConfig() Config {
	return Config{
		Strategy:   StrategyLoadBalanced,
		MaxTargets: 1,
		Workers:    4,
		Scoring:    DefaultScoringConfig(),
	}
}

// TargetResult 单个目标的派发结果
type TargetResult struct {
	Target     types.Target  `json:"target"`
	DeliveryID string        `json:"delivery_id,omitempty"`
	Err        error         `json:"-"`
	Error      string        `json:"error,omitempty"`
	Attempts   int           `json:"attempts"`
	Duration   time.Duration `json:"duration"`
}

// OK reports whether the target received the envelope.
func (r TargetResult) OK() bool { return r.Err == nil }

// RouteResult 一次路由的结果
type RouteResult struct {
	Envelope  types.Envelope
	Strategy  StrategyKind
	Results   []TargetResult
	Delivered int
}

// Option 配置 Router 的可选依赖
type Option func(*Router)

// WithEventSink sets the sink for envelope events.
func WithEventSink(s events.Sink) Option { return func(r *Router) { r.sink = events.OrNop(s) } }

// WithObserver sets the metrics observer.
func WithObserver(o Observer) Option {
	return func(r *Router) {
		if o != nil {
			r.observer = o
		}
	}
}

// WithClassifier overrides transport.IsRetryable.
func WithClassifier(c transport.Classifier) Option {
	return func(r *Router) {
		if c != nil {
			r.classifier = c
		}
	}
}

// WithClock injects the time source used for expiry checks and events.
func WithClock(now func() time.Time) Option {
	return func(r *Router) {
		if now != nil {
			r.now = now
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(r *Router) {
		if l != nil {
			r.logger = l
		}
	}
}

// Router 解析目标并通过弹性守卫派发 envelope
type Router struct {
	config     Config
	strategy   Strategy
	port       transport.Port
	registry   *resilience.Registry
	sink       events.Sink
	observer   Observer
	classifier transport.Classifier
	now        func() time.Time
	logger     *zap.Logger
	inst       *instruments

	queue   *pendingQueue
	started atomic.Bool
	closed  atomic.Bool
	wg      sync.WaitGroup
}

// New creates a router dispatching over port with guards from registry.
func New(config Config, port transport.Port, registry *resilience.Registry, opts ...Option) (*Router, error) {
	if port == nil {
		return nil, types.NewValidationError("router requires a transport")
	}
	if registry == nil {
		return nil, types.NewValidationError("router requires a resilience registry")
	}
	def := DefaultConfig()
	if config.Strategy == "" {
		config.Strategy = def.Strategy
	}
	if config.MaxTargets <= 0 {
		config.MaxTargets = def.MaxTargets
	}
	if config.Workers <= 0 {
		config.Workers = def.Workers
	}

	strategy, err := NewStrategy(config.Strategy, NewScorer(config.Scoring))
	if err != nil {
		return nil, err
	}
	inst, err := newInstruments()
	if err != nil {
		return nil, err
	}

	r := &Router{
		config:     config,
		strategy:   strategy,
		port:       port,
		registry:   registry,
		sink:       events.Nop(),
		observer:   nopObserver{},
		classifier: transport.IsRetryable,
		now:        time.Now,
		logger:     zap.NewNop(),
		inst:       inst,
	}
	for _, opt := range opts {
		opt(r)
	}
	r.logger = r.logger.With(zap.String("component", "router"), zap.String("strategy", string(config.Strategy)))
	if config.Strategy == StrategyPriorityQueue {
		r.queue = newPendingQueue()
	}
	return r, nil
}

// Strategy returns the configured strategy kind.
func (r *Router) Strategy() StrategyKind { return r.strategy.Kind() }

// Resolve returns the targets the strategy would pick, without dispatching.
// Candidates from other tenants are ignored.
func (r *Router) Resolve(env types.Envelope, required []string, candidates []agent.Record) []types.Target {
	if required == nil {
		required = env.RequiredCapabilities()
	}
	return r.strategy.Select(required, sameTenant(env.TenantID(), candidates), r.config.MaxTargets)
}

func sameTenant(tenant string, candidates []agent.Record) []agent.Record {
	out := make([]agent.Record, 0, len(candidates))
	for _, rec := range candidates {
		if rec.TenantID() == tenant {
			out = append(out, rec)
		}
	}
	return out
}

// Route resolves targets for env and dispatches to each of them. A nil
// required falls back to the envelope's own capabilities. Under
// priority_queue the call waits until a worker dispatches the envelope.
func (r *Router) Route(ctx context.Context, env types.Envelope, required []string, candidates []agent.Record) (RouteResult, error) {
	start := time.Now()
	kind := r.strategy.Kind()
	result := RouteResult{Envelope: env, Strategy: kind}

	ctx, span := r.inst.startRoute(ctx, env, kind)
	defer span.End()

	routed, err := r.prepare(env, required, candidates)
	if err != nil {
		outcome := RouteRejected
		if errors.Is(err, ErrNoEligibleAgent) {
			outcome = RouteNoEligible
		}
		r.finishRoute(ctx, span, kind, outcome, start, err)
		return result, err
	}
	result.Envelope = routed
	span.SetAttributes(attribute.Int("router.targets", len(routed.Targets())))

	if r.queue == nil {
		result = r.deliver(ctx, routed)
	} else {
		result, err = r.enqueueAndWait(ctx, routed)
		if err != nil {
			outcome := RouteWithdrawn
			if !errors.Is(err, ErrWithdrawn) && ctx.Err() == nil {
				outcome = RouteRejected
			}
			r.finishRoute(ctx, span, kind, outcome, start, err)
			return result, err
		}
	}

	outcome := RouteDelivered
	if result.Delivered == 0 {
		outcome = RouteFailed
	}
	r.finishRoute(ctx, span, kind, outcome, start, nil)
	return result, nil
}

func (r *Router) finishRoute(ctx context.Context, span trace.Span, kind StrategyKind, outcome string, start time.Time, err error) {
	span.SetAttributes(attribute.String("router.outcome", outcome))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else if outcome == RouteFailed {
		span.SetStatus(codes.Error, "no target accepted the envelope")
	}
	r.inst.recordRoute(ctx, kind, outcome)
	r.observer.ObserveRoute(string(kind), outcome, time.Since(start))
}

// prepare validates env and moves it to ROUTED with resolved targets.
func (r *Router) prepare(env types.Envelope, required []string, candidates []agent.Record) (types.Envelope, error) {
	if env.Status() != types.EnvelopeCreated {
		return env, types.NewValidationError("envelope %s is %s, expected %s", env.ID(), env.Status(), types.EnvelopeCreated)
	}
	if env.IsExpired(r.now()) {
		return env, types.NewValidationError("envelope %s expired", env.ID())
	}

	targets := r.Resolve(env, required, candidates)
	if len(targets) == 0 {
		r.logger.Debug("no eligible agent",
			zap.String("envelope_id", env.ID()),
			zap.Strings("required", required),
			zap.Int("candidates", len(candidates)))
		return env, ErrNoEligibleAgent
	}
	return env.WithTargets(targets)
}

// deliver fans out to every target and settles the envelope.
func (r *Router) deliver(ctx context.Context, env types.Envelope) RouteResult {
	targets := env.Targets()
	results := make([]TargetResult, len(targets))
	guard := r.registry.Guard(r.port.Name())

	var g errgroup.Group
	for i, target := range targets {
		g.Go(func() error {
			results[i] = r.dispatch(ctx, guard, env, target)
			return nil
		})
	}
	_ = g.Wait()

	result := RouteResult{Strategy: r.strategy.Kind(), Results: results}
	var firstErr error
	for _, res := range results {
		if res.OK() {
			result.Delivered++
		} else if firstErr == nil {
			firstErr = res.Err
		}
	}

	var err error
	if result.Delivered > 0 {
		result.Envelope, err = env.MarkDelivered()
	} else {
		result.Envelope, err = env.MarkFailed()
	}
	if err != nil {
		// env came from prepare, so it is ROUTED.
		r.logger.Error("envelope settle failed", zap.String("envelope_id", env.ID()), zap.Error(err))
		result.Envelope = env
	}
	r.emitSettled(result, firstErr)
	return result
}

func (r *Router) dispatch(ctx context.Context, guard *resilience.Guard, env types.Envelope, target types.Target) TargetResult {
	id, out, err := resilience.ExecuteTyped(guard, ctx, func(ctx context.Context) (string, error) {
		id, err := r.port.Send(ctx, env, target)
		return id, transport.Classify(err, r.classifier)
	})

	res := TargetResult{Target: target, DeliveryID: id, Err: err, Attempts: out.Attempts, Duration: out.Duration}
	outcome := DispatchOutcome(err)
	if err != nil {
		res.Error = err.Error()
		r.logger.Warn("dispatch failed",
			zap.String("envelope_id", env.ID()),
			zap.String("agent_id", target.AgentID),
			zap.String("outcome", outcome),
			zap.Int("attempts", out.Attempts),
			zap.Error(err))
	} else {
		r.logger.Debug("dispatched",
			zap.String("envelope_id", env.ID()),
			zap.String("agent_id", target.AgentID),
			zap.String("delivery_id", id),
			zap.Int("attempts", out.Attempts))
	}
	r.inst.recordDispatch(ctx, r.port.Name(), outcome, out.Duration)
	r.observer.ObserveDispatch(r.port.Name(), outcome, out.Attempts, out.Duration)
	return res
}

func (r *Router) emitSettled(result RouteResult, firstErr error) {
	env := result.Envelope
	kind := events.KindEnvelopeDelivered
	if result.Delivered == 0 {
		kind = events.KindEnvelopeFailed
	}
	agents := make([]string, 0, len(result.Results))
	for _, res := range result.Results {
		if res.OK() {
			agents = append(agents, res.Target.AgentID)
		}
	}
	e := events.New(kind, r.now()).
		WithEnvelope(env.TenantID(), env.ID()).
		WithData("strategy", string(result.Strategy)).
		WithData("targets", len(result.Results)).
		WithData("delivered_to", agents)
	if firstErr != nil && result.Delivered == 0 {
		e = e.WithReason(firstErr.Error())
	}
	r.sink.Emit(e)
}

// ===== priority_queue =====

func (r *Router) enqueueAndWait(ctx context.Context, env types.Envelope) (RouteResult, error) {
	if r.closed.Load() {
		return RouteResult{Envelope: env, Strategy: r.strategy.Kind()}, ErrWithdrawn
	}
	it := &pendingItem{
		ctx:        ctx,
		env:        env,
		enqueuedAt: time.Now(),
		done:       make(chan routeOutcome, 1),
	}
	if err := r.queue.push(it); err != nil {
		return RouteResult{Envelope: env, Strategy: r.strategy.Kind()}, err
	}

	select {
	case out := <-it.done:
		return out.result, out.err
	case <-ctx.Done():
		// Already popped items settle on their own; the done channel is buffered.
		r.queue.remove(env.ID())
		return RouteResult{Envelope: env, Strategy: r.strategy.Kind()}, ctx.Err()
	}
}

// Start launches the dispatch workers for priority_queue. It is a no-op for
// other strategies. Workers stop when ctx ends or Close is called.
func (r *Router) Start(ctx context.Context) error {
	if r.queue == nil {
		return nil
	}
	if r.closed.Load() {
		return types.NewValidationError("router closed")
	}
	if !r.started.CompareAndSwap(false, true) {
		return types.NewValidationError("router already started")
	}
	context.AfterFunc(ctx, r.queue.stop)
	for i := 0; i < r.config.Workers; i++ {
		r.wg.Add(1)
		go r.worker()
	}
	r.logger.Info("dispatch workers started", zap.Int("workers", r.config.Workers))
	return nil
}

func (r *Router) worker() {
	defer r.wg.Done()
	for {
		it, ok := r.queue.pop()
		if !ok {
			return
		}
		if err := it.ctx.Err(); err != nil {
			it.done <- routeOutcome{result: RouteResult{Envelope: it.env, Strategy: r.strategy.Kind()}, err: err}
			continue
		}
		res := r.deliver(it.ctx, it.env)
		it.done <- routeOutcome{result: res}
	}
}

// Withdraw removes a pending envelope without side effects. The waiting
// Route returns ErrWithdrawn. Envelopes already taken by a worker cannot be
// withdrawn.
func (r *Router) Withdraw(envelopeID string) error {
	if r.queue == nil {
		return types.NewError(types.ErrNotFound, "envelope "+envelopeID+" is not pending")
	}
	it, ok := r.queue.remove(envelopeID)
	if !ok {
		return types.NewError(types.ErrNotFound, "envelope "+envelopeID+" is not pending")
	}
	it.done <- routeOutcome{result: RouteResult{Envelope: it.env, Strategy: r.strategy.Kind()}, err: ErrWithdrawn}
	r.logger.Debug("envelope withdrawn", zap.String("envelope_id", envelopeID))
	return nil
}

// Pending returns the ids of queued envelopes in dispatch order.
func (r *Router) Pending() []string {
	if r.queue == nil {
		return nil
	}
	return r.queue.ids()
}

// Close stops the workers after their current dispatch. Envelopes still
// queued are withdrawn.
func (r *Router) Close() error {
	if !r.closed.CompareAndSwap(false, true) {
		return nil
	}
	if r.queue == nil {
		return nil
	}
	left := r.queue.close()
	for _, it := range left {
		it.done <- routeOutcome{result: RouteResult{Envelope: it.env, Strategy: r.strategy.Kind()}, err: ErrWithdrawn}
	}
	r.wg.Wait()
	if len(left) > 0 {
		r.logger.Info("pending envelopes withdrawn on close", zap.Int("count", len(left)))
	}
	return nil
}

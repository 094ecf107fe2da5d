package router

import (
	"sort"
	"sync"

	"github.com/BaSui01/agentmesh/agent"
	"github.com/BaSui01/agentmesh/types"
)

// StrategyKind 路由策略（封闭集合）
type StrategyKind string

const (
	StrategyRoundRobin       StrategyKind = "round_robin"
	StrategyLeastConnections StrategyKind = "least_connections"
	StrategyCapabilityBased  StrategyKind = "capability_based"
	StrategyLoadBalanced     StrategyKind = "load_balanced"
	StrategyPriorityQueue    StrategyKind = "priority_queue"
)

// StrategyKinds lists every supported strategy.
var StrategyKinds = []StrategyKind{
	StrategyRoundRobin,
	StrategyLeastConnections,
	StrategyCapabilityBased,
	StrategyLoadBalanced,
	StrategyPriorityQueue,
}

// Valid reports whether k names a supported strategy.
func (k StrategyKind) Valid() bool {
	for _, known := range StrategyKinds {
		if k == known {
			return true
		}
	}
	return false
}

// Strategy resolves up to max targets from candidates. Only AVAILABLE agents
// holding every required capability are eligible.
type Strategy interface {
	Kind() StrategyKind
	Select(required []string, candidates []agent.Record, max int) []types.Target
}

// NewStrategy builds the strategy for kind.
func NewStrategy(kind StrategyKind, scorer *Scorer) (Strategy, error) {
	if scorer == nil {
		scorer = NewScorer(DefaultScoringConfig())
	}
	switch kind {
	case StrategyRoundRobin:
		return &roundRobin{scorer: scorer, cursors: make(map[string]int)}, nil
	case StrategyLeastConnections:
		return &leastConnections{scorer: scorer}, nil
	case StrategyCapabilityBased:
		return &capabilityBased{scorer: scorer}, nil
	case StrategyLoadBalanced:
		return &loadBalanced{scorer: scorer}, nil
	case StrategyPriorityQueue:
		// Delivery order is handled by the router's pending queue.
		return &priorityQueue{loadBalanced{scorer: scorer}}, nil
	default:
		return nil, types.NewValidationError("unknown routing strategy %q", kind)
	}
}

func toTarget(res ScoreResult) types.Target {
	return types.Target{AgentID: res.AgentID, Topic: types.AgentTopic(res.AgentID), Score: res.Score}
}

// scoreEligible scores the eligible candidates without ordering them.
func scoreEligible(s *Scorer, required []string, candidates []agent.Record) []ScoreResult {
	out := make([]ScoreResult, 0, len(candidates))
	for _, rec := range candidates {
		if !eligible(rec, required) {
			continue
		}
		if res, ok := s.Score(rec, required); ok {
			out = append(out, res)
		}
	}
	return out
}

func takeTargets(ordered []ScoreResult, max int) []types.Target {
	if max <= 0 {
		max = 1
	}
	if len(ordered) > max {
		ordered = ordered[:max]
	}
	targets := make([]types.Target, len(ordered))
	for i, res := range ordered {
		targets[i] = toTarget(res)
	}
	return targets
}

// --- round_robin ---

type roundRobin struct {
	scorer *Scorer

	mu      sync.Mutex
	cursors map[string]int
}

func (s *roundRobin) Kind() StrategyKind { return StrategyRoundRobin }

func (s *roundRobin) Select(required []string, candidates []agent.Record, max int) []types.Target {
	required = normalizeCapabilities(required)
	pool := scoreEligible(s.scorer, required, candidates)
	if len(pool) == 0 {
		return nil
	}
	sort.Slice(pool, func(i, j int) bool { return pool[i].AgentID < pool[j].AgentID })

	if max <= 0 {
		max = 1
	}
	if max > len(pool) {
		max = len(pool)
	}

	key := capabilityKey(required)
	s.mu.Lock()
	start := s.cursors[key] % len(pool)
	s.cursors[key] = (start + max) % len(pool)
	s.mu.Unlock()

	ordered := make([]ScoreResult, 0, max)
	for i := 0; i < max; i++ {
		ordered = append(ordered, pool[(start+i)%len(pool)])
	}
	return takeTargets(ordered, max)
}

// --- least_connections ---

type leastConnections struct {
	scorer *Scorer
}

func (s *leastConnections) Kind() StrategyKind { return StrategyLeastConnections }

func connections(rec agent.Record) int {
	n := rec.PendingLen()
	if _, busy := rec.ActiveTaskID(); busy {
		n++
	}
	return n
}

func (s *leastConnections) Select(required []string, candidates []agent.Record, max int) []types.Target {
	required = normalizeCapabilities(required)
	pool := scoreEligible(s.scorer, required, candidates)
	sort.SliceStable(pool, func(i, j int) bool {
		ci, cj := connections(pool[i].Record), connections(pool[j].Record)
		if ci != cj {
			return ci < cj
		}
		return pool[i].AgentID < pool[j].AgentID
	})
	return takeTargets(pool, max)
}

// --- capability_based ---

type capabilityBased struct {
	scorer *Scorer
}

func (s *capabilityBased) Kind() StrategyKind { return StrategyCapabilityBased }

func (s *capabilityBased) Select(required []string, candidates []agent.Record, max int) []types.Target {
	required = normalizeCapabilities(required)
	pool := scoreEligible(s.scorer, required, candidates)
	sort.SliceStable(pool, func(i, j int) bool {
		a, b := pool[i].Factors.CapabilityMatch, pool[j].Factors.CapabilityMatch
		if a-b > scoreEpsilon || b-a > scoreEpsilon {
			return a > b
		}
		if pool[i].PendingLen != pool[j].PendingLen {
			return pool[i].PendingLen < pool[j].PendingLen
		}
		return pool[i].AgentID < pool[j].AgentID
	})
	return takeTargets(pool, max)
}

// --- load_balanced ---

type loadBalanced struct {
	scorer *Scorer
}

func (s *loadBalanced) Kind() StrategyKind { return StrategyLoadBalanced }

func (s *loadBalanced) Select(required []string, candidates []agent.Record, max int) []types.Target {
	return takeTargets(s.scorer.Rank(required, candidates), max)
}

// --- priority_queue ---

type priorityQueue struct {
	loadBalanced
}

func (s *priorityQueue) Kind() StrategyKind { return StrategyPriorityQueue }

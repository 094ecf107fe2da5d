package router

import (
	"math"
	"sort"
	"strings"

	"github.com/BaSui01/agentmesh/agent"
)

// 评分权重（固定）
const (
	WeightCapability     = 0.40
	WeightAvailability   = 0.25
	WeightLoad           = 0.15
	WeightPerformance    = 0.15
	WeightResponsiveness = 0.05
)

// DefaultMaxQueueReference is the pending length at which load saturates.
const DefaultMaxQueueReference = 5

// scoreEpsilon treats scores closer than this as tied.
const scoreEpsilon = 1e-9

// Factors 各评分因子的原始值（0-1）
type Factors struct {
	CapabilityMatch float64 `json:"capability_match"`
	Availability    float64 `json:"availability"`
	Load            float64 `json:"load"`
	Performance     float64 `json:"performance"`
	Responsiveness  float64 `json:"responsiveness"`
}

// Weighted returns the weighted sum of the factors.
func (f Factors) Weighted() float64 {
	return WeightCapability*f.CapabilityMatch +
		WeightAvailability*f.Availability +
		WeightLoad*f.Load +
		WeightPerformance*f.Performance +
		WeightResponsiveness*f.Responsiveness
}

// ScoreResult 单个 agent 的评分结果
type ScoreResult struct {
	AgentID    string       `json:"agent_id"`
	Score      float64      `json:"score"`
	Factors    Factors      `json:"factors"`
	PendingLen int          `json:"pending_len"`
	Record     agent.Record `json:"-"`
}

// ScoringConfig 评分配置
type ScoringConfig struct {
	// MaxQueueReference is the pending length treated as full load.
	MaxQueueReference int `json:"max_queue_reference" yaml:"max_queue_reference"`
}

// DefaultScoringConfig returns the default scoring configuration.
func DefaultScoringConfig() ScoringConfig {
	return ScoringConfig{MaxQueueReference: DefaultMaxQueueReference}
}

// Scorer 多因子选择评分器，无状态，可并发使用
type Scorer struct {
	maxQueueRef int
}

// NewScorer creates a scorer. A non-positive reference falls back to the
// default.
func NewScorer(config ScoringConfig) *Scorer {
	if config.MaxQueueReference <= 0 {
		config.MaxQueueReference = DefaultMaxQueueReference
	}
	return &Scorer{maxQueueRef: config.MaxQueueReference}
}

// Score evaluates one agent. It returns false when the agent lacks any
// required capability.
func (s *Scorer) Score(rec agent.Record, required []string) (ScoreResult, bool) {
	required = normalizeCapabilities(required)
	match := rec.MatchCapabilities(required)
	if !match.Covers() {
		return ScoreResult{}, false
	}

	f := Factors{
		CapabilityMatch: match.Score(),
		Load:            1 - math.Min(1, float64(rec.PendingLen())/float64(s.maxQueueRef)),
		Performance:     rec.Performance(),
		Responsiveness:  rec.Responsiveness(),
	}
	if rec.Status() == agent.StatusAvailable {
		f.Availability = 1
	}
	return ScoreResult{
		AgentID:    rec.ID(),
		Score:      f.Weighted(),
		Factors:    f,
		PendingLen: rec.PendingLen(),
		Record:     rec,
	}, true
}

// Rank scores every eligible candidate (AVAILABLE and holding all required
// capabilities) and orders them best first. Ties go to the shorter pending
// queue, then the smaller agent id.
func (s *Scorer) Rank(required []string, candidates []agent.Record) []ScoreResult {
	required = normalizeCapabilities(required)
	ranked := make([]ScoreResult, 0, len(candidates))
	for _, rec := range candidates {
		if rec.Status() != agent.StatusAvailable {
			continue
		}
		if res, ok := s.Score(rec, required); ok {
			ranked = append(ranked, res)
		}
	}
	sort.SliceStable(ranked, func(i, j int) bool { return better(ranked[i], ranked[j]) })
	return ranked
}

// SelectBest returns the top-ranked eligible agent.
func (s *Scorer) SelectBest(required []string, candidates []agent.Record) (agent.Record, bool) {
	ranked := s.Rank(required, candidates)
	if len(ranked) == 0 {
		return agent.Record{}, false
	}
	return ranked[0].Record, true
}

// SelectMultiple returns up to count eligible agents scoring at least
// minScore, best first.
func (s *Scorer) SelectMultiple(required []string, candidates []agent.Record, count int, minScore float64) []ScoreResult {
	if count <= 0 {
		return nil
	}
	var out []ScoreResult
	for _, res := range s.Rank(required, candidates) {
		if res.Score+scoreEpsilon < minScore {
			continue
		}
		out = append(out, res)
		if len(out) == count {
			break
		}
	}
	return out
}

func better(a, b ScoreResult) bool {
	if math.Abs(a.Score-b.Score) > scoreEpsilon {
		return a.Score > b.Score
	}
	if a.PendingLen != b.PendingLen {
		return a.PendingLen < b.PendingLen
	}
	return a.AgentID < b.AgentID
}

// normalizeCapabilities trims, drops empties and deduplicates, keeping the
// result sorted.
func normalizeCapabilities(caps []string) []string {
	if len(caps) == 0 {
		return nil
	}
	seen := make(map[string]struct{}, len(caps))
	out := make([]string, 0, len(caps))
	for _, c := range caps {
		c = strings.TrimSpace(c)
		if c == "" {
			continue
		}
		if _, dup := seen[c]; dup {
			continue
		}
		seen[c] = struct{}{}
		out = append(out, c)
	}
	sort.Strings(out)
	return out
}

// capabilityKey identifies a requirement set for per-set cursors.
func capabilityKey(required []string) string {
	return strings.Join(normalizeCapabilities(required), ",")
}

// eligible reports whether rec may receive work requiring required.
func eligible(rec agent.Record, required []string) bool {
	return rec.Status() == agent.StatusAvailable && rec.HasCapabilities(required)
}

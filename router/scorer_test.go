package router

import (
	"fmt"
	"math/rand"
	"testing"

	"github.com/BaSui01/agentmesh/agent"
	"github.com/BaSui01/agentmesh/testutil/fixtures"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

func TestScorer_PerfectAgentScoresOne(t *testing.T) {
	s := NewScorer(DefaultScoringConfig())
	res, ok := s.Score(fixtures.Agent("agent-1").Cap("nlp", 5).Build(), []string{"nlp"})
	require.True(t, ok)
	assert.InDelta(t, 1.0, res.Score, 1e-9)
	assert.Equal(t, Factors{CapabilityMatch: 1, Availability: 1, Load: 1, Performance: 1, Responsiveness: 1}, res.Factors)
}

func TestScorer_Factors(t *testing.T) {
	s := NewScorer(DefaultScoringConfig())
	rec := fixtures.Agent("agent-1").
		Cap("nlp", 4).
		History(3, 1).
		Metrics(agent.HealthMetrics{SuccessRate: 0.5, AvgResponseMs: 1000}).
		PendingN(2).
		Build()

	res, ok := s.Score(rec, []string{"nlp"})
	require.True(t, ok)
	assert.InDelta(t, 0.8, res.Factors.CapabilityMatch, 1e-9)
	assert.InDelta(t, 1-2.0/5, res.Factors.Load, 1e-9)
	assert.InDelta(t, 0.5, res.Factors.Performance, 1e-9)
	assert.InDelta(t, 0.5, res.Factors.Responsiveness, 1e-9)
	want := 0.40*0.8 + 0.25*1 + 0.15*0.6 + 0.15*0.5 + 0.05*0.5
	assert.InDelta(t, want, res.Score, 1e-9)
	assert.Equal(t, 2, res.PendingLen)
}

func TestScorer_MissingCapabilityExcluded(t *testing.T) {
	s := NewScorer(DefaultScoringConfig())
	_, ok := s.Score(fixtures.Agent("agent-1").Cap("nlp", 5).Build(), []string{"nlp", "vision"})
	assert.False(t, ok)

	res, ok := s.Score(fixtures.Agent("agent-1").Cap("nlp", 2).Build(), nil)
	require.True(t, ok)
	assert.Equal(t, 1.0, res.Factors.CapabilityMatch, "empty requirement matches fully")
}

func TestScorer_SelectBestPrefersLighterLoad(t *testing.T) {
	// Loads 0.9 and 0.1 of the queue reference, equal success rates.
	s := NewScorer(ScoringConfig{MaxQueueReference: 10})
	heavy := fixtures.Agent("agent-heavy").Cap("data_processing", 4).PendingN(9).Build()
	light := fixtures.Agent("agent-light").Cap("data_processing", 4).PendingN(1).Build()

	best, ok := s.SelectBest([]string{"data_processing"}, []agent.Record{heavy, light})
	require.True(t, ok)
	assert.Equal(t, "agent-light", best.ID())
}

func TestScorer_TieBreaks(t *testing.T) {
	s := NewScorer(DefaultScoringConfig())
	// Same score: a shorter queue at the reference cap still ties on load,
	// so the pending length decides, then the id.
	a := fixtures.Agent("agent-b").Cap("nlp", 3).Build()
	b := fixtures.Agent("agent-a").Cap("nlp", 3).Build()
	c := fixtures.Agent("agent-c").Cap("nlp", 3).PendingN(6).Build()
	d := fixtures.Agent("agent-d").Cap("nlp", 3).PendingN(5).Build()

	ranked := s.Rank([]string{"nlp"}, []agent.Record{c, a, d, b})
	ids := make([]string, len(ranked))
	for i, r := range ranked {
		ids[i] = r.AgentID
	}
	assert.Equal(t, []string{"agent-a", "agent-b", "agent-d", "agent-c"}, ids)
}

func TestScorer_RankFiltersIneligible(t *testing.T) {
	s := NewScorer(DefaultScoringConfig())
	ranked := s.Rank([]string{"nlp"}, fixtures.Fleet())
	ids := make([]string, len(ranked))
	for i, r := range ranked {
		ids[i] = r.AgentID
	}
	assert.Equal(t, []string{"agent-a", "agent-b"}, ids)

	_, ok := s.SelectBest([]string{"vision"}, fixtures.Fleet())
	assert.False(t, ok)
}

func TestScorer_SelectMultiple(t *testing.T) {
	s := NewScorer(DefaultScoringConfig())
	candidates := []agent.Record{
		fixtures.Agent("agent-1").Cap("nlp", 5).Build(),
		fixtures.Agent("agent-2").Cap("nlp", 1).History(1, 4).PendingN(5).Build(),
		fixtures.Agent("agent-3").Cap("nlp", 4).Build(),
	}

	top := s.SelectMultiple([]string{"nlp"}, candidates, 2, 0)
	require.Len(t, top, 2)
	assert.Equal(t, "agent-1", top[0].AgentID)
	assert.Equal(t, "agent-3", top[1].AgentID)

	strong := s.SelectMultiple([]string{"nlp"}, candidates, 5, 0.7)
	assert.Len(t, strong, 2)

	assert.Nil(t, s.SelectMultiple([]string{"nlp"}, candidates, 0, 0))
}

func TestNormalizeCapabilities(t *testing.T) {
	assert.Equal(t, []string{"a", "b"}, normalizeCapabilities([]string{" b", "a", "", "b"}))
	assert.Nil(t, normalizeCapabilities(nil))
	assert.Equal(t, "a,b", capabilityKey([]string{"b", "a"}))
}

// genFleet draws a fleet of agents in mixed states and capability sets.
func genFleet(t *rapid.T) []agent.Record {
	n := rapid.IntRange(0, 8).Draw(t, "n")
	caps := []string{"nlp", "search", "vision"}
	out := make([]agent.Record, 0, n)
	for i := 0; i < n; i++ {
		b := fixtures.Agent(fmt.Sprintf("agent-%02d", i))
		for _, c := range caps {
			if rapid.Bool().Draw(t, fmt.Sprintf("has-%d-%s", i, c)) {
				b.Cap(c, rapid.IntRange(1, 5).Draw(t, fmt.Sprintf("lvl-%d-%s", i, c)))
			}
		}
		b.History(rapid.IntRange(0, 4).Draw(t, fmt.Sprintf("ok-%d", i)), rapid.IntRange(0, 4).Draw(t, fmt.Sprintf("fail-%d", i)))
		switch rapid.IntRange(0, 3).Draw(t, fmt.Sprintf("state-%d", i)) {
		case 0:
			b.PendingN(rapid.IntRange(0, 7).Draw(t, fmt.Sprintf("pending-%d", i)))
		case 1:
			b.Busy("task")
		case 2:
			b.Paused()
		case 3:
			b.Unhealthy("drawn")
		}
		out = append(out, b.Build())
	}
	return out
}

func genRequirement(t *rapid.T) []string {
	return rapid.SliceOfDistinct(rapid.SampledFrom([]string{"nlp", "search", "vision"}), func(s string) string { return s }).Draw(t, "required")
}

func TestScorer_RankOnlyEligibleProperty(t *testing.T) {
	s := NewScorer(DefaultScoringConfig())
	rapid.Check(t, func(t *rapid.T) {
		fleet := genFleet(t)
		required := genRequirement(t)
		for _, res := range s.Rank(required, fleet) {
			if res.Record.Status() != agent.StatusAvailable {
				t.Fatalf("%s ranked while %s", res.AgentID, res.Record.Status())
			}
			if !res.Record.HasCapabilities(required) {
				t.Fatalf("%s ranked without %v", res.AgentID, required)
			}
			if res.Score < 0 || res.Score > 1+1e-9 {
				t.Fatalf("score %f out of range", res.Score)
			}
		}
	})
}

func TestScorer_RankDeterministicProperty(t *testing.T) {
	s := NewScorer(DefaultScoringConfig())
	rapid.Check(t, func(t *rapid.T) {
		fleet := genFleet(t)
		required := genRequirement(t)
		seed := rapid.Int64().Draw(t, "seed")

		shuffled := append([]agent.Record(nil), fleet...)
		rand.New(rand.NewSource(seed)).Shuffle(len(shuffled), func(i, j int) {
			shuffled[i], shuffled[j] = shuffled[j], shuffled[i]
		})

		a, b := s.Rank(required, fleet), s.Rank(required, shuffled)
		if len(a) != len(b) {
			t.Fatalf("rank length differs: %d vs %d", len(a), len(b))
		}
		for i := range a {
			if a[i].AgentID != b[i].AgentID {
				t.Fatalf("position %d: %s vs %s", i, a[i].AgentID, b[i].AgentID)
			}
		}
	})
}

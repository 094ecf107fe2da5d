package agent

import (
	"fmt"
	"strings"

	"github.com/BaSui01/agentmesh/types"
)

// 熟练度范围
const (
	MinProficiency = 1
	MaxProficiency = 5
)

// Capability 命名技能及其熟练度（1–5）
type Capability struct {
	Name        string `json:"name"`
	Proficiency int    `json:"proficiency"`
}

// Normalized returns the proficiency mapped onto (0, 1].
func (c Capability) Normalized() float64 {
	return float64(c.Proficiency) / float64(MaxProficiency)
}

func (c Capability) validate() error {
	if strings.TrimSpace(c.Name) == "" {
		return fmt.Errorf("capability name is empty")
	}
	if c.Proficiency < MinProficiency || c.Proficiency > MaxProficiency {
		return fmt.Errorf("capability %q proficiency %d out of range %d-%d",
			c.Name, c.Proficiency, MinProficiency, MaxProficiency)
	}
	return nil
}

func validateCapabilities(agentID string, caps []Capability) error {
	if len(caps) == 0 {
		return types.NewValidationError("agent %s: at least one capability is required", agentID)
	}
	seen := make(map[string]struct{}, len(caps))
	for _, c := range caps {
		if err := c.validate(); err != nil {
			return types.NewValidationError("agent %s: %v", agentID, err)
		}
		if _, dup := seen[c.Name]; dup {
			return types.NewValidationError("agent %s: duplicate capability %q", agentID, c.Name)
		}
		seen[c.Name] = struct{}{}
	}
	return nil
}

// Match 描述一个 agent 对一组能力需求的覆盖情况
type Match struct {
	Required       int
	Matched        int
	AvgProficiency float64
}

// Covers reports whether every required capability is held.
func (m Match) Covers() bool {
	return m.Matched == m.Required
}

// Score is the fraction matched scaled by average normalised proficiency
// across the matched subset. An empty requirement scores 1.
func (m Match) Score() float64 {
	if m.Required == 0 {
		return 1.0
	}
	if m.Matched == 0 {
		return 0
	}
	return float64(m.Matched) / float64(m.Required) * m.AvgProficiency
}

// MatchCapabilities compares the record's capabilities with required names.
func (r Record) MatchCapabilities(required []string) Match {
	m := Match{Required: len(required)}
	var sum float64
	for _, name := range required {
		if c, ok := r.Capability(name); ok {
			m.Matched++
			sum += c.Normalized()
		}
	}
	if m.Matched > 0 {
		m.AvgProficiency = sum / float64(m.Matched)
	}
	return m
}

// HasCapabilities reports whether the record holds every required name.
func (r Record) HasCapabilities(required []string) bool {
	for _, name := range required {
		if _, ok := r.Capability(name); !ok {
			return false
		}
	}
	return true
}

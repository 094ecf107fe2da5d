package persistence

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"

	"github.com/BaSui01/agentmesh/agent"
	"github.com/BaSui01/agentmesh/types"
)

// Common errors
var (
	ErrNotFound    = types.NewError(types.ErrNotFound, "agent not found")
	ErrStoreClosed = types.NewError(types.ErrInternal, "repository is closed")
)

// Type names a repository backend.
type Type string

const (
	TypeMemory Type = "memory"
	TypeRedis  Type = "redis"
	TypeGorm   Type = "gorm"
)

// AgentRepository 持久化 agent 记录的端口
type AgentRepository interface {
	// FindByCapabilities returns the tenant's agents holding every named
	// capability, ordered by id. An empty list matches every agent.
	FindByCapabilities(ctx context.Context, capabilities []string, tenantID string) ([]agent.Record, error)

	// Save upserts the record. The last writer wins.
	Save(ctx context.Context, rec agent.Record) error

	// Get returns ErrNotFound when the agent is unknown to the tenant.
	Get(ctx context.Context, tenantID, agentID string) (agent.Record, error)

	// List returns every agent of the tenant ordered by id.
	List(ctx context.Context, tenantID string) ([]agent.Record, error)
}

func encodeRecord(rec agent.Record) ([]byte, error) {
	data, err := json.Marshal(rec.State())
	if err != nil {
		return nil, fmt.Errorf("marshal agent %s: %w", rec.ID(), err)
	}
	return data, nil
}

func decodeRecord(data []byte) (agent.Record, error) {
	var st agent.State
	if err := json.Unmarshal(data, &st); err != nil {
		return agent.Record{}, fmt.Errorf("unmarshal agent: %w", err)
	}
	return agent.FromState(st)
}

// filterByCapabilities keeps records covering required and sorts them by id.
func filterByCapabilities(recs []agent.Record, required []string) []agent.Record {
	out := recs[:0]
	for _, r := range recs {
		if r.HasCapabilities(required) {
			out = append(out, r)
		}
	}
	sortByID(out)
	return out
}

func sortByID(recs []agent.Record) {
	sort.Slice(recs, func(i, j int) bool { return recs[i].ID() < recs[j].ID() })
}

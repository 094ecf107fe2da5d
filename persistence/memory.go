package persistence

import (
	"context"
	"sync"

	"github.com/BaSui01/agentmesh/agent"
)

// MemoryRepository 进程内仓储，开发与测试使用
type MemoryRepository struct {
	mu      sync.RWMutex
	tenants map[string]map[string]agent.Record
	closed  bool
}

// NewMemoryRepository creates an empty in-memory repository.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{tenants: make(map[string]map[string]agent.Record)}
}

// Save implements AgentRepository.
func (m *MemoryRepository) Save(ctx context.Context, rec agent.Record) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrStoreClosed
	}
	agents, ok := m.tenants[rec.TenantID()]
	if !ok {
		agents = make(map[string]agent.Record)
		m.tenants[rec.TenantID()] = agents
	}
	agents[rec.ID()] = rec
	return nil
}

// Get implements AgentRepository.
func (m *MemoryRepository) Get(ctx context.Context, tenantID, agentID string) (agent.Record, error) {
	if err := ctx.Err(); err != nil {
		return agent.Record{}, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return agent.Record{}, ErrStoreClosed
	}
	rec, ok := m.tenants[tenantID][agentID]
	if !ok {
		return agent.Record{}, ErrNotFound
	}
	return rec, nil
}

// List implements AgentRepository.
func (m *MemoryRepository) List(ctx context.Context, tenantID string) ([]agent.Record, error) {
	return m.FindByCapabilities(ctx, nil, tenantID)
}

// FindByCapabilities implements AgentRepository.
func (m *MemoryRepository) FindByCapabilities(ctx context.Context, capabilities []string, tenantID string) ([]agent.Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	if m.closed {
		m.mu.RUnlock()
		return nil, ErrStoreClosed
	}
	recs := make([]agent.Record, 0, len(m.tenants[tenantID]))
	for _, r := range m.tenants[tenantID] {
		recs = append(recs, r)
	}
	m.mu.RUnlock()
	return filterByCapabilities(recs, capabilities), nil
}

// Ping reports whether the repository accepts calls.
func (m *MemoryRepository) Ping(context.Context) error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return ErrStoreClosed
	}
	return nil
}

// Close releases the stored records.
func (m *MemoryRepository) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	m.tenants = nil
	return nil
}

package persistence

import (
	"context"
	"errors"
	"fmt"

	"github.com/BaSui01/agentmesh/agent"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// DefaultRedisPrefix prefixes every key written by RedisRepository.
const DefaultRedisPrefix = "agentmesh:"

// RedisRepository 基于 Redis 的仓储。
// 每个租户一个哈希（field 为 agent id，value 为 JSON 快照），
// 每个能力一个集合索引，FindByCapabilities 对集合求交。
type RedisRepository struct {
	client redis.UniversalClient
	prefix string
	logger *zap.Logger
}

// NewRedisRepository wraps an existing client. The caller owns the client.
func NewRedisRepository(client redis.UniversalClient, prefix string, logger *zap.Logger) *RedisRepository {
	if prefix == "" {
		prefix = DefaultRedisPrefix
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RedisRepository{
		client: client,
		prefix: prefix,
		logger: logger.With(zap.String("component", "redis_agent_repository")),
	}
}

// agentsKey returns the hash holding a tenant's agents
func (r *RedisRepository) agentsKey(tenantID string) string {
	return r.prefix + "agents:" + tenantID
}

// capabilityKey returns the set of agent ids holding a capability
func (r *RedisRepository) capabilityKey(tenantID, capability string) string {
	return r.prefix + "agents:" + tenantID + ":cap:" + capability
}

// Save implements AgentRepository. Capabilities only ever grow, so index
// entries are added and never removed.
func (r *RedisRepository) Save(ctx context.Context, rec agent.Record) error {
	data, err := encodeRecord(rec)
	if err != nil {
		return err
	}

	pipe := r.client.TxPipeline()
	pipe.HSet(ctx, r.agentsKey(rec.TenantID()), rec.ID(), data)
	for _, name := range rec.CapabilityNames() {
		pipe.SAdd(ctx, r.capabilityKey(rec.TenantID(), name), rec.ID())
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis save agent %s: %w", rec.ID(), err)
	}
	return nil
}

// Get implements AgentRepository.
func (r *RedisRepository) Get(ctx context.Context, tenantID, agentID string) (agent.Record, error) {
	data, err := r.client.HGet(ctx, r.agentsKey(tenantID), agentID).Bytes()
	if errors.Is(err, redis.Nil) {
		return agent.Record{}, ErrNotFound
	}
	if err != nil {
		return agent.Record{}, fmt.Errorf("redis get agent %s: %w", agentID, err)
	}
	return decodeRecord(data)
}

// List implements AgentRepository.
func (r *RedisRepository) List(ctx context.Context, tenantID string) ([]agent.Record, error) {
	all, err := r.client.HGetAll(ctx, r.agentsKey(tenantID)).Result()
	if err != nil {
		return nil, fmt.Errorf("redis list agents: %w", err)
	}
	recs := make([]agent.Record, 0, len(all))
	for id, data := range all {
		rec, err := decodeRecord([]byte(data))
		if err != nil {
			r.logger.Warn("skipping undecodable agent", zap.String("agent_id", id), zap.Error(err))
			continue
		}
		recs = append(recs, rec)
	}
	sortByID(recs)
	return recs, nil
}

// FindByCapabilities implements AgentRepository.
func (r *RedisRepository) FindByCapabilities(ctx context.Context, capabilities []string, tenantID string) ([]agent.Record, error) {
	if len(capabilities) == 0 {
		return r.List(ctx, tenantID)
	}

	keys := make([]string, len(capabilities))
	for i, c := range capabilities {
		keys[i] = r.capabilityKey(tenantID, c)
	}
	ids, err := r.client.SInter(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("redis capability index: %w", err)
	}
	if len(ids) == 0 {
		return nil, nil
	}

	values, err := r.client.HMGet(ctx, r.agentsKey(tenantID), ids...).Result()
	if err != nil {
		return nil, fmt.Errorf("redis load agents: %w", err)
	}
	recs := make([]agent.Record, 0, len(values))
	for i, v := range values {
		data, ok := v.(string)
		if !ok {
			// indexed but not stored
			continue
		}
		rec, err := decodeRecord([]byte(data))
		if err != nil {
			r.logger.Warn("skipping undecodable agent", zap.String("agent_id", ids[i]), zap.Error(err))
			continue
		}
		recs = append(recs, rec)
	}
	return filterByCapabilities(recs, capabilities), nil
}

// Ping checks the connection.
func (r *RedisRepository) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

package database

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/BaSui01/agentmesh/config"
	"github.com/BaSui01/agentmesh/types"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// probeTimeout bounds one health probe.
const probeTimeout = 5 * time.Second

// PoolConfig 连接池参数
type PoolConfig struct {
	MaxIdleConns    int
	MaxOpenConns    int
	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration
	// HealthCheckInterval 为 0 时不启动后台探活
	HealthCheckInterval time.Duration
}

// DefaultPoolConfig 返回默认连接池参数
func DefaultPoolConfig() PoolConfig {
	return PoolConfig{
		MaxIdleConns:        10,
		MaxOpenConns:        100,
		ConnMaxLifetime:     time.Hour,
		ConnMaxIdleTime:     10 * time.Minute,
		HealthCheckInterval: 30 * time.Second,
	}
}

// PoolConfigFrom 以数据库配置覆盖默认值，零值保留默认
func PoolConfigFrom(cfg config.DatabaseConfig) PoolConfig {
	pc := DefaultPoolConfig()
	if cfg.MaxOpenConns > 0 {
		pc.MaxOpenConns = cfg.MaxOpenConns
	}
	if cfg.MaxIdleConns > 0 {
		pc.MaxIdleConns = cfg.MaxIdleConns
	}
	if cfg.ConnMaxLifetime > 0 {
		pc.ConnMaxLifetime = cfg.ConnMaxLifetime
	}
	return pc
}

func (pc PoolConfig) apply(db *sql.DB) {
	db.SetMaxIdleConns(pc.MaxIdleConns)
	db.SetMaxOpenConns(pc.MaxOpenConns)
	db.SetConnMaxLifetime(pc.ConnMaxLifetime)
	db.SetConnMaxIdleTime(pc.ConnMaxIdleTime)
}

// StatsObserver 在每次成功探活后收到连接池统计
type StatsObserver func(name string, stats sql.DBStats)

// PoolOption 配置 PoolManager
type PoolOption func(*PoolManager)

// WithStatsObserver 设置统计回调
func WithStatsObserver(fn StatsObserver) PoolOption {
	return func(pm *PoolManager) { pm.observer = fn }
}

// WithName 设置指标标签，默认为 dialector 名
func WithName(name string) PoolOption {
	return func(pm *PoolManager) { pm.name = name }
}

// PoolManager 持有 agent 仓储的连接池并周期探活
type PoolManager struct {
	name     string
	db       *gorm.DB
	sqlDB    *sql.DB
	observer StatsObserver
	logger   *zap.Logger

	closed   atomic.Bool
	stopLoop context.CancelFunc
	loop     sync.WaitGroup
}

// NewPoolManager 应用连接池参数，interval 大于 0 时启动后台探活
func NewPoolManager(db *gorm.DB, cfg PoolConfig, logger *zap.Logger, opts ...PoolOption) (*PoolManager, error) {
	if db == nil {
		return nil, types.NewValidationError("db cannot be nil")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("unwrap sql.DB: %w", err)
	}
	cfg.apply(sqlDB)

	pm := &PoolManager{
		name:     db.Dialector.Name(),
		db:       db,
		sqlDB:    sqlDB,
		logger:   logger.With(zap.String("component", "db_pool")),
		stopLoop: func() {},
	}
	for _, opt := range opts {
		opt(pm)
	}

	if cfg.HealthCheckInterval > 0 {
		ctx, cancel := context.WithCancel(context.Background())
		pm.stopLoop = cancel
		pm.loop.Add(1)
		go pm.probeEvery(ctx, cfg.HealthCheckInterval)
	}

	pm.logger.Info("database pool ready",
		zap.String("name", pm.name),
		zap.Int("max_open_conns", cfg.MaxOpenConns),
		zap.Int("max_idle_conns", cfg.MaxIdleConns),
		zap.Duration("health_check_interval", cfg.HealthCheckInterval),
	)
	return pm, nil
}

// DB 返回 GORM 句柄
func (pm *PoolManager) DB() *gorm.DB { return pm.db }

// Stats 返回底层 sql.DB 统计
func (pm *PoolManager) Stats() sql.DBStats { return pm.sqlDB.Stats() }

// Ping 探活，关闭后返回 ErrInternal
func (pm *PoolManager) Ping(ctx context.Context) error {
	if pm.closed.Load() {
		return types.NewError(types.ErrInternal, "database pool is closed")
	}
	return pm.sqlDB.PingContext(ctx)
}

// CheckHealth 执行一次探活，成功后上报统计
func (pm *PoolManager) CheckHealth(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()

	if err := pm.Ping(ctx); err != nil {
		pm.logger.Error("database probe failed", zap.Error(err))
		return err
	}
	stats := pm.Stats()
	pm.logger.Debug("database probe ok",
		zap.Int("open", stats.OpenConnections),
		zap.Int("in_use", stats.InUse),
		zap.Int("idle", stats.Idle),
	)
	if pm.observer != nil {
		pm.observer(pm.name, stats)
	}
	return nil
}

func (pm *PoolManager) probeEvery(ctx context.Context, interval time.Duration) {
	defer pm.loop.Done()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			_ = pm.CheckHealth(ctx)
		}
	}
}

// Close 停止探活并关闭连接，重复调用返回 nil
func (pm *PoolManager) Close() error {
	if !pm.closed.CompareAndSwap(false, true) {
		return nil
	}
	pm.stopLoop()
	pm.loop.Wait()
	pm.logger.Info("closing database pool", zap.String("name", pm.name))
	return pm.sqlDB.Close()
}

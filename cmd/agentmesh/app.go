package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/BaSui01/agentmesh/agent/autonomy"
	"github.com/BaSui01/agentmesh/agent/fleet"
	"github.com/BaSui01/agentmesh/config"
	"github.com/BaSui01/agentmesh/events"
	"github.com/BaSui01/agentmesh/internal/database"
	"github.com/BaSui01/agentmesh/internal/metrics"
	"github.com/BaSui01/agentmesh/internal/pool"
	"github.com/BaSui01/agentmesh/internal/server"
	"github.com/BaSui01/agentmesh/internal/tlsutil"
	"github.com/BaSui01/agentmesh/persistence"
	"github.com/BaSui01/agentmesh/resilience"
	"github.com/BaSui01/agentmesh/router"
	"github.com/BaSui01/agentmesh/transport"
	"github.com/BaSui01/agentmesh/transport/memory"
	"github.com/BaSui01/agentmesh/transport/redisstream"
	"github.com/BaSui01/agentmesh/transport/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// =============================================================================
// 🧩 组件装配
// =============================================================================

// app 持有 serve 命令装配出的全部组件
type app struct {
	cfg    *config.Config
	logger *zap.Logger

	promRegistry *prometheus.Registry
	collector    *metrics.Collector

	redis  redis.UniversalClient
	dbPool *database.PoolManager
	repo   persistence.AgentRepository

	port    transport.Port
	closers []io.Closer

	async  *events.AsyncSink
	guards *resilience.Registry
	router *router.Router
	fleet  *fleet.Fleet
}

// pinger 由支持探活的仓储实现
type pinger interface {
	Ping(ctx context.Context) error
}

// newApp 按配置装配组件。失败时已创建的资源会被释放。
func newApp(ctx context.Context, cfg *config.Config, logger *zap.Logger) (a *app, err error) {
	a = &app{
		cfg:          cfg,
		logger:       logger,
		promRegistry: prometheus.NewRegistry(),
	}
	defer func() {
		if err != nil {
			a.close()
			a = nil
		}
	}()

	a.promRegistry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	a.collector = metrics.NewCollector("agentmesh", a.promRegistry, logger)

	if cfg.NeedsRedis() {
		if a.redis, err = openRedis(ctx, cfg.Redis); err != nil {
			return a, err
		}
	}

	sink := a.buildSinks()

	if a.repo, err = a.buildRepository(ctx); err != nil {
		return a, err
	}
	if a.port, err = a.buildTransport(); err != nil {
		return a, err
	}

	a.guards = resilience.NewRegistry(resilience.RegistryConfig{Default: policyFrom(cfg.Resilience)}, sink, logger)

	a.router, err = router.New(routerConfigFrom(cfg), a.port, a.guards,
		router.WithEventSink(sink),
		router.WithObserver(a.collector),
		router.WithLogger(logger),
	)
	if err != nil {
		return a, fmt.Errorf("build router: %w", err)
	}

	evaluator, err := autonomy.New(autonomy.Config{
		MinSuccessRate:       cfg.Autonomy.MinSuccessRate,
		AcceptanceThreshold:  cfg.Autonomy.AcceptanceThreshold,
		MaxQueueReference:    cfg.Autonomy.MaxQueueReference,
		MaintenanceErrorRate: cfg.Autonomy.MaintenanceErrorRate,
	})
	if err != nil {
		return a, fmt.Errorf("build autonomy evaluator: %w", err)
	}

	a.fleet, err = fleet.New(fleet.Config{
		SweepInterval:  cfg.Fleet.SweepInterval,
		CommandBuffer:  cfg.Fleet.CommandBuffer,
		PersistTimeout: cfg.Fleet.PersistTimeout,
	}, a.repo, evaluator, fleet.WithEventSink(sink), fleet.WithLogger(logger))
	if err != nil {
		return a, fmt.Errorf("build fleet: %w", err)
	}

	loaded, err := a.fleet.Load(ctx, cfg.Fleet.Tenants...)
	if err != nil {
		return a, fmt.Errorf("load agents: %w", err)
	}

	logger.Info("components ready",
		zap.String("repository", cfg.Repository.Type),
		zap.String("transport", a.port.Name()),
		zap.String("strategy", string(a.router.Strategy())),
		zap.Int("agents_loaded", loaded),
	)
	return a, nil
}

func openRedis(ctx context.Context, cfg config.RedisConfig) (redis.UniversalClient, error) {
	opts := &redis.UniversalOptions{
		Addrs:        []string{cfg.Addr},
		Password:     cfg.Password,
		DB:           cfg.DB,
		PoolSize:     cfg.PoolSize,
		MinIdleConns: cfg.MinIdleConns,
	}
	if cfg.TLS {
		opts.TLSConfig = tlsutil.RedisTLSConfig(cfg.Addr)
	}
	client := redis.NewUniversalClient(opts)
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("connect redis %s: %w", cfg.Addr, err)
	}
	return client, nil
}

// buildSinks 组合 log、metrics 与可选 Redis 事件出口，经异步池分发
func (a *app) buildSinks() events.Sink {
	sinks := []events.Sink{events.NewLogSink(a.logger), a.collector}
	if ch := a.cfg.Events.RedisChannel; ch != "" {
		sinks = append(sinks, events.NewRedisSink(a.redis, ch, a.logger))
	}
	poolCfg := pool.DefaultGoroutinePoolConfig()
	if a.cfg.Events.Workers > 0 {
		poolCfg.MaxWorkers = a.cfg.Events.Workers
	}
	if a.cfg.Events.QueueSize > 0 {
		poolCfg.QueueSize = a.cfg.Events.QueueSize
	}
	a.async = events.NewAsyncSink(events.Multi(sinks...), poolCfg, a.logger)
	return a.async
}

func (a *app) buildRepository(ctx context.Context) (persistence.AgentRepository, error) {
	switch persistence.Type(a.cfg.Repository.Type) {
	case persistence.TypeMemory:
		return persistence.NewMemoryRepository(), nil
	case persistence.TypeRedis:
		return persistence.NewRedisRepository(a.redis, a.cfg.Repository.KeyPrefix, a.logger), nil
	case persistence.TypeGorm:
		db, err := database.Open(a.cfg.Database)
		if err != nil {
			return nil, err
		}
		a.dbPool, err = database.NewPoolManager(db, database.PoolConfigFrom(a.cfg.Database), a.logger,
			database.WithName(a.cfg.Database.Driver),
			database.WithStatsObserver(func(name string, s sql.DBStats) {
				a.collector.RecordDBConnections(name, s.OpenConnections, s.Idle)
			}))
		if err != nil {
			return nil, err
		}
		repo := persistence.NewGormRepository(db, a.logger)
		if a.cfg.Repository.AutoMigrate {
			if err := repo.AutoMigrate(ctx); err != nil {
				return nil, fmt.Errorf("auto-migrate agents table: %w", err)
			}
		}
		return repo, nil
	default:
		return nil, fmt.Errorf("unknown repository type %q", a.cfg.Repository.Type)
	}
}

func (a *app) buildTransport() (transport.Port, error) {
	tc := a.cfg.Transport
	var port transport.Port
	switch tc.Type {
	case "memory":
		t := memory.New(memory.Config{Buffer: tc.Memory.Buffer, AutoCreate: true}, a.logger)
		a.closers = append(a.closers, t)
		port = t
	case "redisstream":
		port = redisstream.New(a.redis, redisstream.Config{KeyPrefix: tc.RedisStream.KeyPrefix, MaxLen: tc.RedisStream.MaxLen}, a.logger)
	case "websocket":
		t := websocket.New(websocket.Config{
			URLTemplate: tc.WebSocket.URLTemplate,
			Endpoints:   tc.WebSocket.Endpoints,
			DialTimeout: tc.WebSocket.DialTimeout,
			AckTimeout:  tc.WebSocket.AckTimeout,
		}, a.logger)
		a.closers = append(a.closers, t)
		port = t
	default:
		return nil, fmt.Errorf("unknown transport type %q", tc.Type)
	}
	return transport.NewRateLimited(port, transport.RateLimitConfig{
		RequestsPerSecond: tc.RateLimit.RequestsPerSecond,
		Burst:             tc.RateLimit.Burst,
		Wait:              tc.RateLimit.Wait,
	}), nil
}

// policyFrom 以默认策略为底，覆盖配置中设置的字段
func policyFrom(rc config.ResilienceConfig) resilience.Policy {
	p := resilience.DefaultPolicy()
	if rc.Breaker.FailureThreshold > 0 {
		p.Breaker.FailureThreshold = rc.Breaker.FailureThreshold
	}
	if rc.Breaker.RecoveryTimeout > 0 {
		p.Breaker.RecoveryTimeout = rc.Breaker.RecoveryTimeout
	}
	if rc.Breaker.SuccessThreshold > 0 {
		p.Breaker.SuccessThreshold = rc.Breaker.SuccessThreshold
	}
	if rc.Retry.MaxAttempts > 0 {
		p.Retry.MaxAttempts = rc.Retry.MaxAttempts
	}
	if rc.Retry.BaseDelay > 0 {
		p.Retry.BaseDelay = rc.Retry.BaseDelay
	}
	if rc.Retry.MaxDelay > 0 {
		p.Retry.MaxDelay = rc.Retry.MaxDelay
	}
	if rc.Retry.Multiplier > 0 {
		p.Retry.Multiplier = rc.Retry.Multiplier
	}
	if rc.Retry.Jitter > 0 {
		p.Retry.Jitter = rc.Retry.Jitter
	}
	if rc.Bulkhead.MaxConcurrent > 0 {
		p.Bulkhead.MaxConcurrent = rc.Bulkhead.MaxConcurrent
	}
	if rc.Bulkhead.MaxQueueSize > 0 {
		p.Bulkhead.MaxQueueSize = rc.Bulkhead.MaxQueueSize
	}
	if rc.Bulkhead.QueueTimeout > 0 {
		p.Bulkhead.QueueTimeout = rc.Bulkhead.QueueTimeout
	}
	return p
}

func routerConfigFrom(cfg *config.Config) router.Config {
	rc := router.DefaultConfig()
	if cfg.Router.Strategy != "" {
		rc.Strategy = router.StrategyKind(cfg.Router.Strategy)
	}
	if cfg.Router.MaxTargets > 0 {
		rc.MaxTargets = cfg.Router.MaxTargets
	}
	if cfg.Router.Workers > 0 {
		rc.Workers = cfg.Router.Workers
	}
	if cfg.Scoring.MaxQueueReference > 0 {
		rc.Scoring.MaxQueueReference = cfg.Scoring.MaxQueueReference
	}
	return rc
}

// =============================================================================
// 🚀 运行与关闭
// =============================================================================

// run 启动派发 worker、健康巡检与运维 HTTP 服务，直到 ctx 结束
func (a *app) run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)

	if err := a.router.Start(gctx); err != nil {
		return err
	}
	g.Go(func() error { return a.fleet.Run(gctx, a.cfg.Fleet.SweepInterval) })

	srv := server.NewManager(a.handler(), server.ConfigFrom(a.cfg.Server), a.logger)
	if err := srv.Start(); err != nil {
		return err
	}
	g.Go(func() error { return srv.Wait(gctx) })

	return g.Wait()
}

// ready 检查仓储与 Redis 连通性，返回失败项
func (a *app) ready(ctx context.Context) map[string]string {
	failed := make(map[string]string)
	if p, ok := a.repo.(pinger); ok {
		if err := p.Ping(ctx); err != nil {
			failed["repository"] = err.Error()
		}
	}
	if a.redis != nil {
		if err := a.redis.Ping(ctx).Err(); err != nil {
			failed["redis"] = err.Error()
		}
	}
	return failed
}

// close 按依赖倒序释放资源：先停派发与 owner，再刷出事件，最后关闭连接
func (a *app) close() error {
	var errs []error
	if a.router != nil {
		errs = append(errs, a.router.Close())
	}
	if a.fleet != nil {
		errs = append(errs, a.fleet.Close())
	}
	if a.async != nil {
		a.async.Close()
	}
	for _, c := range a.closers {
		errs = append(errs, c.Close())
	}
	if a.dbPool != nil {
		errs = append(errs, a.dbPool.Close())
	}
	if a.redis != nil {
		errs = append(errs, a.redis.Close())
	}
	return errors.Join(errs...)
}

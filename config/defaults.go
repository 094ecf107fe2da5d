// =============================================================================
// 📦 AgentMesh 默认配置
// =============================================================================
// 提供所有配置项的合理默认值
// =============================================================================
package config

import "time"

// DefaultConfig 返回默认配置
func DefaultConfig() *Config {
	return &Config{
		Server:     DefaultServerConfig(),
		Log:        DefaultLogConfig(),
		Router:     DefaultRouterConfig(),
		Scoring:    ScoringConfig{MaxQueueReference: 5},
		Autonomy:   DefaultAutonomyConfig(),
		Resilience: DefaultResilienceConfig(),
		Transport:  DefaultTransportConfig(),
		Repository: RepositoryConfig{Type: "memory", KeyPrefix: "agentmesh:"},
		Events:     EventsConfig{Workers: 4, QueueSize: 1024},
		Redis:      DefaultRedisConfig(),
		Database:   DefaultDatabaseConfig(),
		Telemetry:  DefaultTelemetryConfig(),
		Fleet:      DefaultFleetConfig(),
	}
}

// DefaultServerConfig 返回默认服务器配置
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		HTTPPort:        8080,
		ReadTimeout:     30 * time.Second,
		WriteTimeout:    30 * time.Second,
		ShutdownTimeout: 15 * time.Second,
	}
}

// DefaultLogConfig 返回默认日志配置
func DefaultLogConfig() LogConfig {
	return LogConfig{
		Level:            "info",
		Format:           "json",
		OutputPaths:      []string{"stdout"},
		EnableCaller:     true,
		EnableStacktrace: false,
	}
}

// DefaultRouterConfig 返回默认路由配置
func DefaultRouterConfig() RouterConfig {
	return RouterConfig{
		Strategy:   "load_balanced",
		MaxTargets: 1,
		Workers:    4,
	}
}

// DefaultAutonomyConfig 返回默认自主决策配置
func DefaultAutonomyConfig() AutonomyConfig {
	return AutonomyConfig{
		MinSuccessRate:       0.5,
		AcceptanceThreshold:  0.6,
		MaxQueueReference:    5,
		MaintenanceErrorRate: 0.3,
	}
}

// DefaultResilienceConfig 返回默认弹性策略
func DefaultResilienceConfig() ResilienceConfig {
	return ResilienceConfig{
		Breaker: BreakerConfig{
			FailureThreshold: 5,
			RecoveryTimeout:  60 * time.Second,
			SuccessThreshold: 2,
		},
		Retry: RetryConfig{
			MaxAttempts: 3,
			BaseDelay:   100 * time.Millisecond,
			MaxDelay:    30 * time.Second,
			Multiplier:  2.0,
			Jitter:      0.1,
		},
		Bulkhead: BulkheadConfig{
			MaxConcurrent: 10,
			MaxQueueSize:  50,
			QueueTimeout:  5 * time.Second,
		},
	}
}

// DefaultTransportConfig 返回默认传输配置
func DefaultTransportConfig() TransportConfig {
	return TransportConfig{
		Type:   "memory",
		Memory: MemoryTransport{Buffer: 256},
		RedisStream: RedisStreamConfig{
			KeyPrefix: "agentmesh:stream:",
			MaxLen:    10000,
		},
		WebSocket: WebSocketConfig{
			URLTemplate: "ws://localhost:9000/agents/{agent_id}",
			DialTimeout: 5 * time.Second,
			AckTimeout:  10 * time.Second,
		},
	}
}

// DefaultRedisConfig 返回默认 Redis 配置
func DefaultRedisConfig() RedisConfig {
	return RedisConfig{
		Addr:         "localhost:6379",
		Password:     "",
		DB:           0,
		PoolSize:     10,
		MinIdleConns: 2,
	}
}

// DefaultDatabaseConfig 返回默认数据库配置
func DefaultDatabaseConfig() DatabaseConfig {
	return DatabaseConfig{
		Driver:          "postgres",
		Host:            "localhost",
		Port:            5432,
		User:            "agentmesh",
		Password:        "",
		Name:            "agentmesh",
		SSLMode:         "disable",
		MaxOpenConns:    25,
		MaxIdleConns:    5,
		ConnMaxLifetime: 5 * time.Minute,
	}
}

// DefaultTelemetryConfig 返回默认遥测配置
func DefaultTelemetryConfig() TelemetryConfig {
	return TelemetryConfig{
		Enabled:        false,
		OTLPEndpoint:   "localhost:4317",
		ServiceName:    "agentmesh",
		SampleRate:     0.1,
		Insecure:       true,
		MetricInterval: 30 * time.Second,
	}
}

// DefaultFleetConfig 返回默认舰队配置
func DefaultFleetConfig() FleetConfig {
	return FleetConfig{
		SweepInterval:  5 * time.Second,
		CommandBuffer:  16,
		PersistTimeout: 5 * time.Second,
	}
}

// =============================================================================
// 📦 AgentMesh 配置加载器
// =============================================================================
// 统一配置加载，支持 YAML 文件 + 环境变量覆盖
//
// 使用方法:
//
//	cfg, err := config.NewLoader().
//	    WithConfigPath("agentmesh.yaml").
//	    WithEnvPrefix("AGENTMESH").
//	    WithValidator((*config.Config).Validate).
//	    Load()
//
// 配置优先级: 默认值 → YAML 文件 → 环境变量
// =============================================================================
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// =============================================================================
// 🎯 核心配置结构
// =============================================================================

// Config 是 AgentMesh 的完整配置结构
type Config struct {
	Server     ServerConfig     `yaml:"server" env:"SERVER"`
	Log        LogConfig        `yaml:"log" env:"LOG"`
	Router     RouterConfig     `yaml:"router" env:"ROUTER"`
	Scoring    ScoringConfig    `yaml:"scoring" env:"SCORING"`
	Autonomy   AutonomyConfig   `yaml:"autonomy" env:"AUTONOMY"`
	Resilience ResilienceConfig `yaml:"resilience" env:"RESILIENCE"`
	Transport  TransportConfig  `yaml:"transport" env:"TRANSPORT"`
	Repository RepositoryConfig `yaml:"repository" env:"REPOSITORY"`
	Events     EventsConfig     `yaml:"events" env:"EVENTS"`
	Redis      RedisConfig      `yaml:"redis" env:"REDIS"`
	Database   DatabaseConfig   `yaml:"database" env:"DATABASE"`
	Telemetry  TelemetryConfig  `yaml:"telemetry" env:"TELEMETRY"`
	Fleet      FleetConfig      `yaml:"fleet" env:"FLEET"`
}

// ServerConfig 运维 HTTP 服务配置（health、ready、metrics）
type ServerConfig struct {
	// HTTP 端口
	HTTPPort int `yaml:"http_port" env:"HTTP_PORT"`
	// 读取超时
	ReadTimeout time.Duration `yaml:"read_timeout" env:"READ_TIMEOUT"`
	// 写入超时
	WriteTimeout time.Duration `yaml:"write_timeout" env:"WRITE_TIMEOUT"`
	// 优雅关闭超时
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" env:"SHUTDOWN_TIMEOUT"`
}

// LogConfig 日志配置
type LogConfig struct {
	// 日志级别: debug, info, warn, error
	Level string `yaml:"level" env:"LEVEL"`
	// 输出格式: json, console
	Format string `yaml:"format" env:"FORMAT"`
	// 输出路径
	OutputPaths []string `yaml:"output_paths" env:"OUTPUT_PATHS"`
	// 是否启用调用者信息
	EnableCaller bool `yaml:"enable_caller" env:"ENABLE_CALLER"`
	// 是否启用堆栈跟踪
	EnableStacktrace bool `yaml:"enable_stacktrace" env:"ENABLE_STACKTRACE"`
}

// RouterConfig 路由配置
type RouterConfig struct {
	// 策略: round_robin, least_connections, capability_based, load_balanced, priority_queue
	Strategy string `yaml:"strategy" env:"STRATEGY"`
	// 每个 envelope 的最大目标数
	MaxTargets int `yaml:"max_targets" env:"MAX_TARGETS"`
	// priority_queue 下的派发 worker 数
	Workers int `yaml:"workers" env:"WORKERS"`
}

// ScoringConfig 选择评分配置
type ScoringConfig struct {
	// 视为满载的待处理队列长度
	MaxQueueReference int `yaml:"max_queue_reference" env:"MAX_QUEUE_REFERENCE"`
}

// AutonomyConfig agent 自主决策配置
type AutonomyConfig struct {
	MinSuccessRate       float64 `yaml:"min_success_rate" env:"MIN_SUCCESS_RATE"`
	AcceptanceThreshold  float64 `yaml:"acceptance_threshold" env:"ACCEPTANCE_THRESHOLD"`
	MaxQueueReference    int     `yaml:"max_queue_reference" env:"MAX_QUEUE_REFERENCE"`
	MaintenanceErrorRate float64 `yaml:"maintenance_error_rate" env:"MAINTENANCE_ERROR_RATE"`
}

// ResilienceConfig 熔断、重试、舱壁的默认策略
type ResilienceConfig struct {
	Breaker  BreakerConfig  `yaml:"breaker" env:"BREAKER"`
	Retry    RetryConfig    `yaml:"retry" env:"RETRY"`
	Bulkhead BulkheadConfig `yaml:"bulkhead" env:"BULKHEAD"`
}

// BreakerConfig 熔断器配置
type BreakerConfig struct {
	FailureThreshold int           `yaml:"failure_threshold" env:"FAILURE_THRESHOLD"`
	RecoveryTimeout  time.Duration `yaml:"recovery_timeout" env:"RECOVERY_TIMEOUT"`
	SuccessThreshold int           `yaml:"success_threshold" env:"SUCCESS_THRESHOLD"`
}

// RetryConfig 重试配置
type RetryConfig struct {
	MaxAttempts int           `yaml:"max_attempts" env:"MAX_ATTEMPTS"`
	BaseDelay   time.Duration `yaml:"base_delay" env:"BASE_DELAY"`
	MaxDelay    time.Duration `yaml:"max_delay" env:"MAX_DELAY"`
	Multiplier  float64       `yaml:"multiplier" env:"MULTIPLIER"`
	Jitter      float64       `yaml:"jitter" env:"JITTER"`
}

// BulkheadConfig 舱壁配置
type BulkheadConfig struct {
	MaxConcurrent int           `yaml:"max_concurrent" env:"MAX_CONCURRENT"`
	MaxQueueSize  int           `yaml:"max_queue_size" env:"MAX_QUEUE_SIZE"`
	QueueTimeout  time.Duration `yaml:"queue_timeout" env:"QUEUE_TIMEOUT"`
}

// TransportConfig 传输配置
type TransportConfig struct {
	// 类型: memory, redisstream, websocket
	Type        string            `yaml:"type" env:"TYPE"`
	Memory      MemoryTransport   `yaml:"memory" env:"MEMORY"`
	RedisStream RedisStreamConfig `yaml:"redisstream" env:"REDISSTREAM"`
	WebSocket   WebSocketConfig   `yaml:"websocket" env:"WEBSOCKET"`
	RateLimit   RateLimitConfig   `yaml:"rate_limit" env:"RATE_LIMIT"`
}

// MemoryTransport 进程内传输配置
type MemoryTransport struct {
	Buffer int `yaml:"buffer" env:"BUFFER"`
}

// RedisStreamConfig Redis Stream 传输配置
type RedisStreamConfig struct {
	KeyPrefix string `yaml:"key_prefix" env:"KEY_PREFIX"`
	MaxLen    int64  `yaml:"max_len" env:"MAX_LEN"`
}

// WebSocketConfig WebSocket 传输配置
type WebSocketConfig struct {
	// 支持 {agent_id} 与 {topic} 占位符
	URLTemplate string            `yaml:"url_template" env:"URL_TEMPLATE"`
	Endpoints   map[string]string `yaml:"endpoints" env:"-"`
	DialTimeout time.Duration     `yaml:"dial_timeout" env:"DIAL_TIMEOUT"`
	AckTimeout  time.Duration     `yaml:"ack_timeout" env:"ACK_TIMEOUT"`
}

// RateLimitConfig 发送限流，RequestsPerSecond 为 0 时关闭
type RateLimitConfig struct {
	RequestsPerSecond float64 `yaml:"requests_per_second" env:"REQUESTS_PER_SECOND"`
	Burst             int     `yaml:"burst" env:"BURST"`
	Wait              bool    `yaml:"wait" env:"WAIT"`
}

// RepositoryConfig agent 仓储配置
type RepositoryConfig struct {
	// 类型: memory, redis, gorm
	Type string `yaml:"type" env:"TYPE"`
	// Redis 键前缀
	KeyPrefix string `yaml:"key_prefix" env:"KEY_PREFIX"`
	// 启动时对 gorm 仓储执行 AutoMigrate（仅 sqlite 开发环境）
	AutoMigrate bool `yaml:"auto_migrate" env:"AUTO_MIGRATE"`
}

// EventsConfig 事件分发配置
type EventsConfig struct {
	// 非空时把事件 PUBLISH 到该 Redis 频道
	RedisChannel string `yaml:"redis_channel" env:"REDIS_CHANNEL"`
	// 异步分发 worker 数
	Workers int `yaml:"workers" env:"WORKERS"`
	// 异步分发队列长度
	QueueSize int `yaml:"queue_size" env:"QUEUE_SIZE"`
}

// RedisConfig Redis 配置
type RedisConfig struct {
	// 地址
	Addr string `yaml:"addr" env:"ADDR"`
	// 密码
	Password string `yaml:"password" env:"PASSWORD"`
	// 数据库编号
	DB int `yaml:"db" env:"DB"`
	// 连接池大小
	PoolSize int `yaml:"pool_size" env:"POOL_SIZE"`
	// 最小空闲连接
	MinIdleConns int `yaml:"min_idle_conns" env:"MIN_IDLE_CONNS"`
	// 启用 TLS
	TLS bool `yaml:"tls" env:"TLS"`
}

// DatabaseConfig 数据库配置
type DatabaseConfig struct {
	// 驱动类型: postgres, mysql, sqlite
	Driver string `yaml:"driver" env:"DRIVER"`
	// 主机
	Host string `yaml:"host" env:"HOST"`
	// 端口
	Port int `yaml:"port" env:"PORT"`
	// 用户名
	User string `yaml:"user" env:"USER"`
	// 密码
	Password string `yaml:"password" env:"PASSWORD"`
	// 数据库名（sqlite 为文件路径）
	Name string `yaml:"name" env:"NAME"`
	// SSL 模式
	SSLMode string `yaml:"ssl_mode" env:"SSL_MODE"`
	// 最大连接数
	MaxOpenConns int `yaml:"max_open_conns" env:"MAX_OPEN_CONNS"`
	// 最大空闲连接
	MaxIdleConns int `yaml:"max_idle_conns" env:"MAX_IDLE_CONNS"`
	// 连接最大生命周期
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime" env:"CONN_MAX_LIFETIME"`
}

// TelemetryConfig 遥测配置
type TelemetryConfig struct {
	// 是否启用
	Enabled bool `yaml:"enabled" env:"ENABLED"`
	// OTLP 端点
	OTLPEndpoint string `yaml:"otlp_endpoint" env:"OTLP_ENDPOINT"`
	// 服务名称
	ServiceName string `yaml:"service_name" env:"SERVICE_NAME"`
	// 采样率
	SampleRate float64 `yaml:"sample_rate" env:"SAMPLE_RATE"`
	// 部署环境（写入 deployment.environment 资源属性）
	Environment string `yaml:"environment" env:"ENVIRONMENT"`
	// 以明文 gRPC 连接采集端；关闭时使用 TLS
	Insecure bool `yaml:"insecure" env:"INSECURE"`
	// 指标导出周期
	MetricInterval time.Duration `yaml:"metric_interval" env:"METRIC_INTERVAL"`
}

// FleetConfig agent 舰队配置
type FleetConfig struct {
	// 启动时从仓储恢复的租户
	Tenants []string `yaml:"tenants" env:"TENANTS"`
	// 健康巡检间隔
	SweepInterval time.Duration `yaml:"sweep_interval" env:"SWEEP_INTERVAL"`
	// 每个 owner 的命令缓冲
	CommandBuffer int `yaml:"command_buffer" env:"COMMAND_BUFFER"`
	// 单次持久化超时
	PersistTimeout time.Duration `yaml:"persist_timeout" env:"PERSIST_TIMEOUT"`
}

// =============================================================================
// 🔧 配置加载器
// =============================================================================

// Loader 按 默认值 → YAML → 环境变量 的顺序叠加配置
type Loader struct {
	path       string
	envPrefix  string
	validators []func(*Config) error
}

// NewLoader 创建加载器，环境变量前缀默认为 AGENTMESH
func NewLoader() *Loader {
	return &Loader{envPrefix: "AGENTMESH"}
}

// WithConfigPath 设置 YAML 路径，文件不存在时忽略
func (l *Loader) WithConfigPath(path string) *Loader {
	l.path = path
	return l
}

// WithEnvPrefix 设置环境变量前缀
func (l *Loader) WithEnvPrefix(prefix string) *Loader {
	l.envPrefix = prefix
	return l
}

// WithValidator 追加一个在叠加完成后运行的校验
func (l *Loader) WithValidator(v func(*Config) error) *Loader {
	l.validators = append(l.validators, v)
	return l
}

// Load 生成最终配置
func (l *Loader) Load() (*Config, error) {
	cfg := DefaultConfig()

	if err := l.overlayFile(cfg); err != nil {
		return nil, fmt.Errorf("failed to load config from file: %w", err)
	}
	if err := overlayEnv(cfg, l.envPrefix, os.LookupEnv); err != nil {
		return nil, fmt.Errorf("failed to load config from env: %w", err)
	}
	for _, validate := range l.validators {
		if err := validate(cfg); err != nil {
			return nil, fmt.Errorf("config validation failed: %w", err)
		}
	}
	return cfg, nil
}

func (l *Loader) overlayFile(cfg *Config) error {
	if l.path == "" {
		return nil
	}
	data, err := os.ReadFile(l.path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		return nil
	case err != nil:
		return fmt.Errorf("read %s: %w", l.path, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parse %s: %w", l.path, err)
	}
	return nil
}

// MustLoad 加载并校验 path，失败时 panic
func MustLoad(path string) *Config {
	cfg, err := NewLoader().WithConfigPath(path).WithValidator((*Config).Validate).Load()
	if err != nil {
		panic(fmt.Sprintf("failed to load config: %v", err))
	}
	return cfg
}

// DSN 按驱动拼接连接串，sqlite 直接使用文件路径
func (d *DatabaseConfig) DSN() string {
	switch d.Driver {
	case "postgres":
		return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
			d.Host, d.Port, d.User, d.Password, d.Name, d.SSLMode)
	case "mysql":
		return fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?parseTime=true&multiStatements=true",
			d.User, d.Password, d.Host, d.Port, d.Name)
	case "sqlite":
		return d.Name
	default:
		return ""
	}
}

package config

import (
	"fmt"
	"strings"
)

var (
	routerStrategies = []string{"round_robin", "least_connections", "capability_based", "load_balanced", "priority_queue"}
	transportTypes   = []string{"memory", "redisstream", "websocket"}
	repositoryTypes  = []string{"memory", "redis", "gorm"}
	databaseDrivers  = []string{"postgres", "mysql", "sqlite"}
	logLevels        = []string{"debug", "info", "warn", "error"}
	logFormats       = []string{"json", "console"}
)

func oneOf(v string, allowed []string) bool {
	for _, a := range allowed {
		if v == a {
			return true
		}
	}
	return false
}

// Validate 验证配置，汇总所有错误
func (c *Config) Validate() error {
	var errs []string
	add := func(format string, args ...any) { errs = append(errs, fmt.Sprintf(format, args...)) }

	if c.Server.HTTPPort <= 0 || c.Server.HTTPPort > 65535 {
		add("invalid HTTP port %d", c.Server.HTTPPort)
	}
	if !oneOf(c.Log.Level, logLevels) {
		add("log.level must be one of %v", logLevels)
	}
	if !oneOf(c.Log.Format, logFormats) {
		add("log.format must be one of %v", logFormats)
	}

	if !oneOf(c.Router.Strategy, routerStrategies) {
		add("router.strategy %q is not one of %v", c.Router.Strategy, routerStrategies)
	}
	if c.Router.MaxTargets < 1 {
		add("router.max_targets must be at least 1")
	}
	if c.Router.Strategy == "priority_queue" && c.Router.Workers < 1 {
		add("router.workers must be at least 1 under priority_queue")
	}
	if c.Scoring.MaxQueueReference < 1 {
		add("scoring.max_queue_reference must be at least 1")
	}

	a := c.Autonomy
	if a.MinSuccessRate < 0 || a.MinSuccessRate > 1 {
		add("autonomy.min_success_rate must be within [0,1]")
	}
	if a.AcceptanceThreshold < 0 || a.AcceptanceThreshold > 1 {
		add("autonomy.acceptance_threshold must be within [0,1]")
	}
	if a.MaxQueueReference < 1 {
		add("autonomy.max_queue_reference must be at least 1")
	}
	if a.MaintenanceErrorRate < 0 || a.MaintenanceErrorRate > 1 {
		add("autonomy.maintenance_error_rate must be within [0,1]")
	}

	r := c.Resilience
	if r.Breaker.FailureThreshold < 1 || r.Breaker.SuccessThreshold < 1 {
		add("resilience.breaker thresholds must be at least 1")
	}
	if r.Breaker.RecoveryTimeout <= 0 {
		add("resilience.breaker.recovery_timeout must be positive")
	}
	if r.Retry.MaxAttempts < 1 {
		add("resilience.retry.max_attempts must be at least 1")
	}
	if r.Retry.BaseDelay < 0 || r.Retry.MaxDelay < r.Retry.BaseDelay {
		add("resilience.retry delays must satisfy 0 <= base_delay <= max_delay")
	}
	if r.Retry.Multiplier < 1 {
		add("resilience.retry.multiplier must be at least 1")
	}
	if r.Retry.Jitter < 0 || r.Retry.Jitter > 1 {
		add("resilience.retry.jitter must be within [0,1]")
	}
	if r.Bulkhead.MaxConcurrent < 1 || r.Bulkhead.MaxQueueSize < 0 || r.Bulkhead.QueueTimeout < 0 {
		add("resilience.bulkhead needs max_concurrent >= 1 and non-negative queue settings")
	}

	if !oneOf(c.Transport.Type, transportTypes) {
		add("transport.type %q is not one of %v", c.Transport.Type, transportTypes)
	}
	if c.Transport.Type == "websocket" && c.Transport.WebSocket.URLTemplate == "" && len(c.Transport.WebSocket.Endpoints) == 0 {
		add("transport.websocket needs url_template or endpoints")
	}
	if c.Transport.RateLimit.RequestsPerSecond < 0 {
		add("transport.rate_limit.requests_per_second must not be negative")
	}

	if !oneOf(c.Repository.Type, repositoryTypes) {
		add("repository.type %q is not one of %v", c.Repository.Type, repositoryTypes)
	}
	if c.Repository.Type == "gorm" || c.Repository.AutoMigrate {
		if !oneOf(c.Database.Driver, databaseDrivers) {
			add("database.driver %q is not one of %v", c.Database.Driver, databaseDrivers)
		}
	}
	if c.NeedsRedis() && c.Redis.Addr == "" {
		add("redis.addr is required by the configured components")
	}

	if c.Telemetry.MetricInterval < 0 {
		add("telemetry.metric_interval must not be negative")
	}
	if c.Telemetry.SampleRate < 0 || c.Telemetry.SampleRate > 1 {
		add("telemetry.sample_rate must be within [0,1]")
	}
	if c.Fleet.SweepInterval <= 0 {
		add("fleet.sweep_interval must be positive")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation errors: %s", strings.Join(errs, "; "))
	}
	return nil
}

// NeedsRedis reports whether any configured component talks to Redis.
func (c *Config) NeedsRedis() bool {
	return c.Repository.Type == "redis" || c.Transport.Type == "redisstream" || c.Events.RedisChannel != ""
}

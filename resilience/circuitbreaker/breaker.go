package circuitbreaker

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/BaSui01/agentmesh/types"
	"go.uber.org/zap"
)

// State 熔断器状态
type State int

const (
	// StateClosed 关闭状态（正常工作）
	StateClosed State = iota
	// StateOpen 打开状态（熔断中）
	StateOpen
	// StateHalfOpen 半开状态（试探性恢复）
	StateHalfOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "Closed"
	case StateOpen:
		return "Open"
	case StateHalfOpen:
		return "HalfOpen"
	default:
		return "Unknown"
	}
}

// Config 熔断器配置
type Config struct {
	// FailureThreshold 关闭状态下连续失败次数阈值（触发熔断）
	FailureThreshold int

	// RecoveryTimeout 熔断恢复等待时间（从 Open -> HalfOpen）
	RecoveryTimeout time.Duration

	// SuccessThreshold 半开状态下连续成功次数（恢复到 Closed）
	SuccessThreshold int

	// HalfOpenMaxCalls 半开状态下同时放行的试探请求数，默认等于 SuccessThreshold
	HalfOpenMaxCalls int

	// IsFailure 判断错误是否计入熔断失败，默认忽略校验错误与调用方取消
	IsFailure func(error) bool

	// Clock 时钟，测试时可注入
	Clock func() time.Time

	// OnStateChange 状态变更回调（异步执行）
	OnStateChange func(name string, from State, to State)
}

// DefaultConfig 返回默认配置
func DefaultConfig() *Config {
	return &Config{
		FailureThreshold: 5,
		RecoveryTimeout:  60 * time.Second,
		SuccessThreshold: 2,
		HalfOpenMaxCalls: 2,
	}
}

// CircuitBreaker 熔断器接口
type CircuitBreaker interface {
	// Name 熔断器名称（通常为传输标识）
	Name() string

	// Call 执行调用，如果熔断器打开则不调用 fn 并返回 ErrCircuitOpen
	Call(ctx context.Context, fn func() error) error

	// State 获取当前状态
	State() State

	// Snapshot 获取状态快照
	Snapshot() Snapshot

	// Reset 重置熔断器（手动恢复）
	Reset()
}

// Snapshot 熔断器状态快照
type Snapshot struct {
	Name                 string     `json:"name"`
	State                string     `json:"state"`
	ConsecutiveFailures  int        `json:"consecutive_failures"`
	ConsecutiveSuccesses int        `json:"consecutive_successes"`
	OpenedAt             *time.Time `json:"opened_at,omitempty"`
	TotalCalls           int64      `json:"total_calls"`
	TotalFailures        int64      `json:"total_failures"`
	Rejected             int64      `json:"rejected"`
}

// 错误定义
var (
	ErrCircuitOpen = types.NewError(types.ErrCircuitOpen, "circuit breaker is open")

	// ErrTooManyTrialCalls 半开状态下试探请求已满，同样按 CIRCUIT_OPEN 快速失败
	ErrTooManyTrialCalls = types.NewError(types.ErrCircuitOpen, "circuit breaker half-open trial slots exhausted")
)

// breaker 熔断器实现
type breaker struct {
	name   string
	config Config
	logger *zap.Logger

	mu               sync.Mutex
	state            State
	generation       uint64 // 每次状态变更递增，用于丢弃过期结果
	failureCount     int    // 连续失败次数
	successCount     int    // 半开状态连续成功次数
	halfOpenInFlight int
	openedAt         time.Time
	totalCalls       int64
	totalFailures    int64
	rejected         int64
}

// NewCircuitBreaker 创建熔断器
func NewCircuitBreaker(name string, config *Config, logger *zap.Logger) CircuitBreaker {
	cfg := DefaultConfig()
	if config != nil {
		cfg = config
	}
	normalized := *cfg

	// 参数校验
	if normalized.FailureThreshold <= 0 {
		normalized.FailureThreshold = 5
	}
	if normalized.RecoveryTimeout <= 0 {
		normalized.RecoveryTimeout = 60 * time.Second
	}
	if normalized.SuccessThreshold <= 0 {
		normalized.SuccessThreshold = 2
	}
	if normalized.HalfOpenMaxCalls <= 0 {
		normalized.HalfOpenMaxCalls = normalized.SuccessThreshold
	}
	if normalized.IsFailure == nil {
		normalized.IsFailure = DefaultIsFailure
	}
	if normalized.Clock == nil {
		normalized.Clock = time.Now
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &breaker{
		name:   name,
		config: normalized,
		logger: logger.With(zap.String("component", "circuit_breaker"), zap.String("breaker", name)),
		state:  StateClosed,
	}
}

// DefaultIsFailure counts every error except malformed input and
// cancellation by the caller.
func DefaultIsFailure(err error) bool {
	if err == nil {
		return false
	}
	if types.IsCode(err, types.ErrValidation) {
		return false
	}
	return !errors.Is(err, context.Canceled)
}

func (b *breaker) Name() string { return b.name }

// Call 实现 CircuitBreaker.Call
func (b *breaker) Call(ctx context.Context, fn func() error) error {
	gen, err := b.beforeCall()
	if err != nil {
		return err
	}

	callErr := fn()
	b.afterCall(gen, !b.config.IsFailure(callErr))
	return callErr
}

// beforeCall 调用前检查，返回本次调用所属的代
func (b *breaker) beforeCall() (uint64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateOpen:
		if b.config.Clock().Sub(b.openedAt) < b.config.RecoveryTimeout {
			b.rejected++
			return 0, ErrCircuitOpen
		}
		b.setState(StateHalfOpen)
		b.logger.Info("熔断器进入半开状态")
		fallthrough

	case StateHalfOpen:
		if b.halfOpenInFlight >= b.config.HalfOpenMaxCalls {
			b.rejected++
			return 0, ErrTooManyTrialCalls
		}
		b.halfOpenInFlight++
	}

	b.totalCalls++
	return b.generation, nil
}

// afterCall 调用后处理；在调用期间状态已变更的结果被丢弃
func (b *breaker) afterCall(gen uint64, success bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if !success {
		b.totalFailures++
	}
	if gen != b.generation {
		return
	}
	if b.state == StateHalfOpen {
		b.halfOpenInFlight--
	}

	if success {
		b.onSuccess()
	} else {
		b.onFailure()
	}
}

// onSuccess 处理成功调用
func (b *breaker) onSuccess() {
	switch b.state {
	case StateClosed:
		b.failureCount = 0

	case StateHalfOpen:
		b.successCount++
		if b.successCount >= b.config.SuccessThreshold {
			b.logger.Info("熔断器恢复正常",
				zap.Int("trial_successes", b.successCount),
			)
			b.setState(StateClosed)
		}
	}
}

// onFailure 处理失败调用
func (b *breaker) onFailure() {
	switch b.state {
	case StateClosed:
		b.failureCount++
		if b.failureCount >= b.config.FailureThreshold {
			b.logger.Warn("熔断器打开",
				zap.Int("failure_count", b.failureCount),
				zap.Int("threshold", b.config.FailureThreshold),
			)
			b.setState(StateOpen)
		}

	case StateHalfOpen:
		b.logger.Warn("熔断器半开状态试探失败，重新打开",
			zap.Int("trial_successes", b.successCount),
		)
		b.setState(StateOpen)
	}
}

// setState 设置状态、重置计数并触发回调；调用方持有锁
func (b *breaker) setState(newState State) {
	oldState := b.state
	b.state = newState
	b.generation++
	b.failureCount = 0
	b.successCount = 0
	b.halfOpenInFlight = 0
	if newState == StateOpen {
		b.openedAt = b.config.Clock()
	}

	if b.config.OnStateChange != nil && oldState != newState {
		go b.config.OnStateChange(b.name, oldState, newState)
	}
}

// State 实现 CircuitBreaker.State
func (b *breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Snapshot 实现 CircuitBreaker.Snapshot
func (b *breaker) Snapshot() Snapshot {
	b.mu.Lock()
	defer b.mu.Unlock()

	s := Snapshot{
		Name:                 b.name,
		State:                b.state.String(),
		ConsecutiveFailures:  b.failureCount,
		ConsecutiveSuccesses: b.successCount,
		TotalCalls:           b.totalCalls,
		TotalFailures:        b.totalFailures,
		Rejected:             b.rejected,
	}
	if b.state != StateClosed {
		openedAt := b.openedAt
		s.OpenedAt = &openedAt
	}
	return s
}

// Reset 实现 CircuitBreaker.Reset
func (b *breaker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()

	oldState := b.state
	b.setState(StateClosed)
	b.logger.Info("熔断器已重置",
		zap.String("from_state", oldState.String()),
	)
}

package retry

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand"
	"sync/atomic"
	"time"

	"github.com/BaSui01/agentmesh/types"
	"go.uber.org/zap"
)

// RetryPolicy 定义重试策略配置
type RetryPolicy struct {
	MaxAttempts     int                                               // 总尝试次数（含首次），1 表示不重试
	BaseDelay       time.Duration                                     // 首次重试前的延迟
	MaxDelay        time.Duration                                     // 最大延迟时间
	Multiplier      float64                                           // 延迟时间倍增因子（指数退避）
	Jitter          float64                                           // 抖动比例，0.1 表示 ±10%
	Retryable       func(error) bool                                  // 可重试判定（优先级最高）
	RetryableErrors []error                                           // 可重试的错误（errors.Is 匹配）
	OnRetry         func(attempt int, err error, delay time.Duration) // 重试回调，attempt 为即将进行的尝试序号
}

// DefaultRetryPolicy 返回默认的重试策略
func DefaultRetryPolicy() *RetryPolicy {
	return &RetryPolicy{
		MaxAttempts: 3,
		BaseDelay:   100 * time.Millisecond,
		MaxDelay:    30 * time.Second,
		Multiplier:  2.0,
		Jitter:      0.1,
	}
}

// Retryer 重试器接口
type Retryer interface {
	// Do 执行函数，失败时根据策略重试
	Do(ctx context.Context, fn func() error) error

	// Stats 返回累计统计
	Stats() Stats
}

// Stats 重试统计
type Stats struct {
	Executions    int64 `json:"executions"`
	Successes     int64 `json:"successes"`
	Failures      int64 `json:"failures"`
	TotalAttempts int64 `json:"total_attempts"`
	Exhausted     int64 `json:"exhausted"`
}

// ExhaustedError 重试次数耗尽
type ExhaustedError struct {
	Attempts int
	Elapsed  time.Duration
	Last     error
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("[%s] gave up after %d attempts in %s: %v",
		types.ErrRetriesExhausted, e.Attempts, e.Elapsed.Round(time.Millisecond), e.Last)
}

// Unwrap exposes the last attempt's error.
func (e *ExhaustedError) Unwrap() error { return e.Last }

// Is matches any *types.Error carrying RETRIES_EXHAUSTED.
func (e *ExhaustedError) Is(target error) bool {
	t, ok := target.(*types.Error)
	return ok && t.Code == types.ErrRetriesExhausted
}

// ErrRetriesExhausted matches any *ExhaustedError via errors.Is.
var ErrRetriesExhausted = types.NewError(types.ErrRetriesExhausted, "retries exhausted")

// backoffRetryer 基于指数退避的重试器实现
type backoffRetryer struct {
	policy RetryPolicy
	logger *zap.Logger
	rand   func() float64

	executions atomic.Int64
	successes  atomic.Int64
	failures   atomic.Int64
	attempts   atomic.Int64
	exhausted  atomic.Int64
}

// NewBackoffRetryer 创建指数退避重试器
func NewBackoffRetryer(policy *RetryPolicy, logger *zap.Logger) Retryer {
	return newBackoffRetryer(policy, logger)
}

func newBackoffRetryer(policy *RetryPolicy, logger *zap.Logger) *backoffRetryer {
	p := DefaultRetryPolicy()
	if policy != nil {
		p = policy
	}
	normalized := *p

	// 参数校验
	if normalized.MaxAttempts < 1 {
		normalized.MaxAttempts = 1
	}
	if normalized.BaseDelay <= 0 {
		normalized.BaseDelay = 100 * time.Millisecond
	}
	if normalized.MaxDelay <= 0 {
		normalized.MaxDelay = 30 * time.Second
	}
	if normalized.MaxDelay < normalized.BaseDelay {
		normalized.MaxDelay = normalized.BaseDelay
	}
	if normalized.Multiplier < 1.0 {
		normalized.Multiplier = 2.0
	}
	if normalized.Jitter < 0 || normalized.Jitter >= 1 {
		normalized.Jitter = 0.1
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &backoffRetryer{
		policy: normalized,
		logger: logger.With(zap.String("component", "retry")),
		rand:   rand.Float64,
	}
}

// Do 实现 Retryer.Do
func (r *backoffRetryer) Do(ctx context.Context, fn func() error) error {
	r.executions.Add(1)
	start := time.Now()
	var lastErr error

	for attempt := 1; attempt <= r.policy.MaxAttempts; attempt++ {
		// 第一次执行不延迟
		if attempt > 1 {
			delay := r.calculateDelay(attempt - 1)

			r.logger.Debug("重试中",
				zap.Int("attempt", attempt),
				zap.Int("max_attempts", r.policy.MaxAttempts),
				zap.Duration("delay", delay),
				zap.Error(lastErr),
			)
			if r.policy.OnRetry != nil {
				r.policy.OnRetry(attempt, lastErr, delay)
			}

			timer := time.NewTimer(delay)
			select {
			case <-ctx.Done():
				timer.Stop()
				r.failures.Add(1)
				return fmt.Errorf("retry cancelled after %d attempts: %w", attempt-1, ctx.Err())
			case <-timer.C:
			}
		}

		r.attempts.Add(1)
		lastErr = fn()
		if lastErr == nil {
			if attempt > 1 {
				r.logger.Info("重试成功", zap.Int("attempt", attempt))
			}
			r.successes.Add(1)
			return nil
		}

		if !r.isRetryable(lastErr) {
			r.logger.Debug("错误不可重试", zap.Error(lastErr))
			r.failures.Add(1)
			return lastErr
		}
	}

	r.logger.Warn("重试次数耗尽",
		zap.Int("attempts", r.policy.MaxAttempts),
		zap.Error(lastErr),
	)
	r.failures.Add(1)
	r.exhausted.Add(1)
	return &ExhaustedError{Attempts: r.policy.MaxAttempts, Elapsed: time.Since(start), Last: lastErr}
}

// calculateDelay 计算第 retry 次重试（从 1 开始）前的延迟：
// min(max, base*mult^(retry-1)) 加 ±jitter 抖动，再截断到 max
func (r *backoffRetryer) calculateDelay(retry int) time.Duration {
	delay := float64(r.policy.BaseDelay) * math.Pow(r.policy.Multiplier, float64(retry-1))
	maxDelay := float64(r.policy.MaxDelay)
	if delay > maxDelay {
		delay = maxDelay
	}

	if r.policy.Jitter > 0 {
		delay += (r.rand()*2 - 1) * delay * r.policy.Jitter
	}
	if delay > maxDelay {
		delay = maxDelay
	}
	if delay < 0 {
		delay = 0
	}
	return time.Duration(delay)
}

// isRetryable 检查错误是否可重试：显式判定 > 错误列表 > 结构化错误标记
func (r *backoffRetryer) isRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	if r.policy.Retryable != nil {
		return r.policy.Retryable(err)
	}
	for _, retryableErr := range r.policy.RetryableErrors {
		if errors.Is(err, retryableErr) {
			return true
		}
	}
	if len(r.policy.RetryableErrors) > 0 {
		return false
	}
	return types.IsRetryable(err)
}

// Stats 实现 Retryer.Stats
func (r *backoffRetryer) Stats() Stats {
	return Stats{
		Executions:    r.executions.Load(),
		Successes:     r.successes.Load(),
		Failures:      r.failures.Load(),
		TotalAttempts: r.attempts.Load(),
		Exhausted:     r.exhausted.Load(),
	}
}

package retry

import "time"

// 预设策略，按下游类型选择

// ForDatabase retries quickly a few times; connection blips are short.
func ForDatabase() *RetryPolicy {
	return &RetryPolicy{
		MaxAttempts: 3,
		BaseDelay:   50 * time.Millisecond,
		MaxDelay:    2 * time.Second,
		Multiplier:  2.0,
		Jitter:      0.1,
	}
}

// ForExternalAPI backs off further to respect remote rate limits.
func ForExternalAPI() *RetryPolicy {
	return &RetryPolicy{
		MaxAttempts: 4,
		BaseDelay:   500 * time.Millisecond,
		MaxDelay:    30 * time.Second,
		Multiplier:  2.0,
		Jitter:      0.1,
	}
}

// ForMessageBroker tolerates broker failover.
func ForMessageBroker() *RetryPolicy {
	return &RetryPolicy{
		MaxAttempts: 5,
		BaseDelay:   200 * time.Millisecond,
		MaxDelay:    10 * time.Second,
		Multiplier:  2.0,
		Jitter:      0.1,
	}
}

// Aggressive retries many times with short delays.
func Aggressive() *RetryPolicy {
	return &RetryPolicy{
		MaxAttempts: 10,
		BaseDelay:   10 * time.Millisecond,
		MaxDelay:    time.Second,
		Multiplier:  1.5,
		Jitter:      0.1,
	}
}

// Conservative retries once after a long pause.
func Conservative() *RetryPolicy {
	return &RetryPolicy{
		MaxAttempts: 2,
		BaseDelay:   time.Second,
		MaxDelay:    60 * time.Second,
		Multiplier:  3.0,
		Jitter:      0.1,
	}
}

// Preset resolves a preset by name; ok is false for unknown names.
func Preset(name string) (*RetryPolicy, bool) {
	switch name {
	case "database":
		return ForDatabase(), true
	case "external_api":
		return ForExternalAPI(), true
	case "message_broker":
		return ForMessageBroker(), true
	case "aggressive":
		return Aggressive(), true
	case "conservative":
		return Conservative(), true
	case "default":
		return DefaultRetryPolicy(), true
	default:
		return nil, false
	}
}

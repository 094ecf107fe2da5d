package retry

import (
	"math"
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
)

// 第 i 次重试的延迟落在 base*mult^(i-1)*[1-jitter, 1+jitter] 内，且不超过 max。
func TestProperty_DelayWithinJitterBandAndCapped(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200

	properties := gopter.NewProperties(parameters)

	properties.Property("delay lies within the jitter band of the capped exponential", prop.ForAll(
		func(baseMs int, maxMs int, multiplier float64, jitter float64, retry int, u float64) bool {
			if maxMs < baseMs {
				maxMs = baseMs
			}
			r := newBackoffRetryer(&RetryPolicy{
				MaxAttempts: retry + 1,
				BaseDelay:   time.Duration(baseMs) * time.Millisecond,
				MaxDelay:    time.Duration(maxMs) * time.Millisecond,
				Multiplier:  multiplier,
				Jitter:      jitter,
			}, nil)
			r.rand = func() float64 { return u }

			got := float64(r.calculateDelay(retry))
			raw := float64(time.Duration(baseMs)*time.Millisecond) * math.Pow(multiplier, float64(retry-1))
			capped := math.Min(raw, float64(time.Duration(maxMs)*time.Millisecond))
			lower := capped * (1 - jitter)
			upper := math.Min(capped*(1+jitter), float64(time.Duration(maxMs)*time.Millisecond))

			const slack = 1.0 // one nanosecond of truncation
			return got >= lower-slack && got <= upper+slack
		},
		gen.IntRange(1, 1000),
		gen.IntRange(1, 60000),
		gen.Float64Range(1.0, 4.0),
		gen.Float64Range(0, 0.5),
		gen.IntRange(1, 12),
		gen.Float64Range(0, 1),
	))

	properties.Property("attempts never exceed MaxAttempts", prop.ForAll(
		func(maxAttempts int) bool {
			r := newBackoffRetryer(&RetryPolicy{
				MaxAttempts: maxAttempts,
				BaseDelay:   time.Microsecond,
				MaxDelay:    time.Microsecond,
				Multiplier:  1.0,
				Retryable:   func(error) bool { return true },
			}, nil)
			calls := 0
			_ = r.Do(t.Context(), func() error {
				calls++
				return errTransient
			})
			return calls == maxAttempts
		},
		gen.IntRange(1, 8),
	))

	properties.TestingRun(t)
}

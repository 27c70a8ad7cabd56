// Package resilience provides fault-tolerance primitives: an exponential
// backoff retry loop that reports its outcome as a value, a circuit breaker
// and a context-based timeout wrapper.
package resilience

import (
	"context"
	"math"
	"math/rand/v2"
	"time"

	"github.com/Ajaynegi0204/Search-Engine/pkg/logger"
)

// RetryConfig controls the retry loop. MaxRetries counts retries, so a call
// makes at most MaxRetries+1 attempts.
type RetryConfig struct {
	MaxRetries int
	BaseDelay  time.Duration
	MaxJitter  time.Duration
}

// DefaultRetryConfig returns 5 retries on a 2s base with up to 100ms of jitter.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries: 5,
		BaseDelay:  2 * time.Second,
		MaxJitter:  100 * time.Millisecond,
	}
}

// Outcome is the result of a retry loop. Err is the last error when every
// attempt failed, or the context error when the loop was cut short.
type Outcome struct {
	Attempts int
	Err      error
}

// OK reports whether some attempt succeeded.
func (o Outcome) OK() bool {
	return o.Err == nil
}

// Retry calls fn until it succeeds or the retries are used up. Attempt 0 runs
// immediately; attempt k waits BaseDelay*2^k plus jitter in [0, MaxJitter).
// Exhaustion is logged and returned in the Outcome, never panicked.
func Retry(ctx context.Context, name string, cfg RetryConfig, fn func() error) Outcome {
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	log := logger.FromContext(ctx).With("component", "retry", "operation", name)
	var lastErr error
	for attempt := 0; attempt <= cfg.MaxRetries; attempt++ {
		if attempt > 0 {
			delay := ComputeDelay(attempt, cfg)
			log.Warn("operation failed, retrying",
				"attempt", attempt-1,
				"max_retries", cfg.MaxRetries,
				"error", lastErr,
				"next_delay", delay,
			)
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return Outcome{Attempts: attempt, Err: ctx.Err()}
			}
		}
		lastErr = fn()
		if lastErr == nil {
			if attempt > 0 {
				log.Info("succeeded after retry", "attempt", attempt)
			}
			return Outcome{Attempts: attempt + 1}
		}
	}
	log.Error("giving up after retries",
		"max_retries", cfg.MaxRetries,
		"error", lastErr,
	)
	return Outcome{Attempts: cfg.MaxRetries + 1, Err: lastErr}
}

// ComputeDelay returns the wait before the given attempt (attempt >= 1).
func ComputeDelay(attempt int, cfg RetryConfig) time.Duration {
	backoff := float64(cfg.BaseDelay) * math.Pow(2, float64(attempt))
	if cfg.MaxJitter > 0 {
		backoff += rand.Float64() * float64(cfg.MaxJitter)
	}
	return time.Duration(backoff)
}

package resilience

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// RetryConfig configures exponential backoff with jitter (§4.9):
// delay = min(MaxDelay, BaseDelay * Factor^(attempt-1)) * (1 ± Jitter).
type RetryConfig struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	Factor      float64
	Jitter      float64 // fraction in [0,1]
}

// DefaultRetryConfig mirrors the defaults used across this codebase.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts: 3,
		BaseDelay:   200 * time.Millisecond,
		MaxDelay:    10 * time.Second,
		Factor:      2.0,
		Jitter:      0.2,
	}
}

// Retry executes fn until it succeeds, ctx is cancelled, or MaxAttempts is
// exhausted, delegating the backoff schedule to backoff.ExponentialBackOff
// (§4.9's formula is exactly what ExponentialBackOff computes once its
// fields are seeded from RetryConfig).
func Retry(ctx context.Context, cfg RetryConfig, fn func(ctx context.Context) error) error {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 1
	}

	bo := backoff.NewExponentialBackOff()
	if cfg.BaseDelay > 0 {
		bo.InitialInterval = cfg.BaseDelay
	}
	if cfg.MaxDelay > 0 {
		bo.MaxInterval = cfg.MaxDelay
	}
	if cfg.Factor > 0 {
		bo.Multiplier = cfg.Factor
	}
	bo.RandomizationFactor = cfg.Jitter
	bo.MaxElapsedTime = 0 // bounded by MaxRetries below, not by elapsed wall time

	// MaxRetries counts retries, not attempts: the first call isn't a retry.
	withRetries := backoff.WithMaxRetries(bo, uint64(cfg.MaxAttempts-1))
	withCtx := backoff.WithContext(withRetries, ctx)

	var lastErr error
	err := backoff.Retry(func() error {
		lastErr = fn(ctx)
		return lastErr
	}, withCtx)
	if err == nil {
		return nil
	}
	if lastErr != nil {
		return lastErr
	}
	return err
}

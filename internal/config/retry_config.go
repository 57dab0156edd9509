// Package config defines retry and DLQ configuration.
package config

import (
	"time"
)

// RetryConfig holds retry and DLQ configuration derived from Config.
type RetryConfig struct {
	// MaxRetries is the maximum number of retry attempts.
	MaxRetries int
	// BaseDelayMs is the delay for attempt 0, before multiplier/jitter.
	BaseDelayMs int64
	// Multiplier is the exponential backoff multiplier.
	Multiplier float64
	// DLQMaxAge is the retention window for DLQ entries before cleanup.
	DLQMaxAge time.Duration
	// DLQCleanupInterval is the interval for DLQ cleanup sweeps.
	DLQCleanupInterval time.Duration
	// DLQCooldown is the extra cooldown applied to rate_limit/timeout
	// failures before a DLQ entry becomes eligible for retry.
	DLQCooldown time.Duration
}

// GetRetryConfig returns the retry configuration.
func (c Config) GetRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries:         c.RetryMaxRetries,
		BaseDelayMs:        c.RetryBaseDelayMs,
		Multiplier:         c.RetryMultiplier,
		DLQMaxAge:          c.DLQMaxAge,
		DLQCleanupInterval: c.DLQCleanupInterval,
		DLQCooldown:        c.DLQCooldown,
	}
}

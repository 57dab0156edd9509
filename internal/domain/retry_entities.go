// Package domain defines retry and DLQ entities for resilient job processing.
package domain

import (
	"math"
	"time"
)

// maxRetryDelay is the hard cap from §4.3: no computed delay exceeds 1 hour.
const maxRetryDelay = time.Hour

// RetryConfig defines the parameters of the retry strategy (§4.3).
type RetryConfig struct {
	// MaxRetries is the maximum number of retry attempts.
	MaxRetries int
	// BaseDelayMs is the delay for attempt 0, before multiplier/jitter.
	BaseDelayMs int64
	// Multiplier is the exponential backoff multiplier.
	Multiplier float64
}

// DefaultRetryConfig returns a sensible default retry configuration.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries:  3,
		BaseDelayMs: 1000,
		Multiplier:  2.0,
	}
}

// Validate rejects negative max_retries, non-positive base_delay_ms,
// non-positive or non-finite multiplier (§4.3).
func (c RetryConfig) Validate() error {
	if c.MaxRetries < 0 {
		return errInvalidRetryConfig("max_retries must be >= 0")
	}
	if c.BaseDelayMs <= 0 {
		return errInvalidRetryConfig("base_delay_ms must be > 0")
	}
	if c.Multiplier <= 0 {
		return errInvalidRetryConfig("multiplier must be > 0")
	}
	if math.IsNaN(c.Multiplier) || math.IsInf(c.Multiplier, 0) {
		return errInvalidRetryConfig("multiplier must be finite")
	}
	return nil
}

type retryConfigError string

func (e retryConfigError) Error() string { return string(e) }

func errInvalidRetryConfig(msg string) error { return retryConfigError(msg) }

// CalculateDelay computes the delay before attempt N (0-based). It returns
// nil when N >= max_retries or max_retries == 0, matching §4.3's
// calculate_delay contract. jitter is a caller-supplied uniform sample in
// [0.9, 1.1]; production callers pass rand.Float64()*0.2+0.9.
func CalculateDelay(attempt int, cfg RetryConfig, jitter float64) *time.Duration {
	if cfg.MaxRetries == 0 || attempt >= cfg.MaxRetries {
		return nil
	}
	base := float64(cfg.BaseDelayMs) * pow(cfg.Multiplier, float64(attempt))
	if base > float64(maxRetryDelay.Milliseconds()) {
		base = float64(maxRetryDelay.Milliseconds())
	}
	d := time.Duration(base*jitter) * time.Millisecond
	return &d
}

// ShouldRetry returns true iff the classified error is retryable and the
// attempt count has not reached max_retries (§4.3).
func ShouldRetry(attempt int, classified *ClassifiedError, cfg RetryConfig) bool {
	if classified == nil {
		return false
	}
	return classified.Retryable && attempt < cfg.MaxRetries
}

func pow(base, exp float64) float64 {
	result := 1.0
	for i := 0; i < int(exp); i++ {
		result *= base
	}
	return result
}

package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestCalculateDelay_NullWhenExhausted(t *testing.T) {
	cfg := RetryConfig{MaxRetries: 3, BaseDelayMs: 1000, Multiplier: 2}
	require.Nil(t, CalculateDelay(3, cfg, 1.0))
	require.Nil(t, CalculateDelay(10, cfg, 1.0))

	zeroCfg := RetryConfig{MaxRetries: 0, BaseDelayMs: 1000, Multiplier: 2}
	require.Nil(t, CalculateDelay(0, zeroCfg, 1.0))
}

func TestCalculateDelay_ExponentialWithCap(t *testing.T) {
	cfg := RetryConfig{MaxRetries: 10, BaseDelayMs: 1000, Multiplier: 2}

	d0 := CalculateDelay(0, cfg, 1.0)
	require.NotNil(t, d0)
	require.Equal(t, time.Second, *d0)

	d1 := CalculateDelay(1, cfg, 1.0)
	require.Equal(t, 2*time.Second, *d1)

	// A large attempt count must be capped at 1 hour.
	dBig := CalculateDelay(20, cfg, 1.0)
	require.NotNil(t, dBig)
	require.Equal(t, time.Hour, *dBig)
}

func TestShouldRetry(t *testing.T) {
	cfg := RetryConfig{MaxRetries: 3, BaseDelayMs: 1000, Multiplier: 2}

	retryable := &ClassifiedError{Retryable: true}
	nonRetryable := &ClassifiedError{Retryable: false}

	require.True(t, ShouldRetry(0, retryable, cfg))
	require.True(t, ShouldRetry(2, retryable, cfg))
	require.False(t, ShouldRetry(3, retryable, cfg))
	require.False(t, ShouldRetry(0, nonRetryable, cfg))
	require.False(t, ShouldRetry(0, nil, cfg))
}

func TestRetryConfig_Validate(t *testing.T) {
	require.NoError(t, RetryConfig{MaxRetries: 3, BaseDelayMs: 1000, Multiplier: 2}.Validate())
	require.Error(t, RetryConfig{MaxRetries: -1, BaseDelayMs: 1000, Multiplier: 2}.Validate())
	require.Error(t, RetryConfig{MaxRetries: 3, BaseDelayMs: 0, Multiplier: 2}.Validate())
	require.Error(t, RetryConfig{MaxRetries: 3, BaseDelayMs: 1000, Multiplier: 0}.Validate())
}

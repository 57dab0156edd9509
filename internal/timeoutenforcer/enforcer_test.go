package timeoutenforcer

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/spriteforge/orchestrator/internal/domain"
)

func TestExecute_SuccessWithinBudget(t *testing.T) {
	e := New(Config{DefaultTimeoutMs: 1000, AllowPerJobOverride: true})
	job := domain.Job{JobID: "j1"}

	v, err := e.Execute(context.Background(), job, func(domain.Context) (any, error) {
		return "done", nil
	})
	require.NoError(t, err)
	require.Equal(t, "done", v)
	require.Equal(t, 1, e.Stats()["succeeded"])
}

func TestExecute_TimesOut(t *testing.T) {
	e := New(Config{DefaultTimeoutMs: 20, AllowPerJobOverride: true})
	job := domain.Job{JobID: "j1"}

	_, err := e.Execute(context.Background(), job, func(domain.Context) (any, error) {
		time.Sleep(500 * time.Millisecond)
		return "too late", nil
	})
	require.Error(t, err)
	var ce *domain.ClassifiedError
	require.ErrorAs(t, err, &ce)
	require.Equal(t, domain.KindTimeout, ce.Kind)
	require.True(t, ce.Retryable)
	require.Equal(t, 1, e.Stats()["timed_out"])
}

func TestExecute_GracePeriodPrefersLateSuccess(t *testing.T) {
	e := New(Config{DefaultTimeoutMs: 20, AllowPerJobOverride: true})
	job := domain.Job{JobID: "j1"}

	v, err := e.Execute(context.Background(), job, func(domain.Context) (any, error) {
		time.Sleep(40 * time.Millisecond)
		return "just in time", nil
	})
	require.NoError(t, err)
	require.Equal(t, "just in time", v)
}

func TestExecute_InvalidPerJobTimeoutFallsBackToDefault(t *testing.T) {
	e := New(Config{DefaultTimeoutMs: 1000, AllowPerJobOverride: true})
	job := domain.Job{JobID: "j1", TimeoutMs: -5}

	require.Equal(t, int64(1000), e.resolveTimeoutMs(job.TimeoutMs))
}

func TestExecute_PolicyDisablesPerJobOverride(t *testing.T) {
	e := New(Config{DefaultTimeoutMs: 1000, AllowPerJobOverride: false})
	require.Equal(t, int64(1000), e.resolveTimeoutMs(50))
}

func TestExecute_PerJobOverrideHonored(t *testing.T) {
	e := New(Config{DefaultTimeoutMs: 1000, AllowPerJobOverride: true})
	require.Equal(t, int64(50), e.resolveTimeoutMs(50))
}

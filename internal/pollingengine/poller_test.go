package pollingengine

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/spriteforge/orchestrator/internal/domain"
)

type fakeRemote struct {
	responses []domain.RemoteJobStatus
	errs      []error
	calls     int
}

func (f *fakeRemote) Poll(_ domain.Context, _ string) (domain.RemoteJobStatus, error) {
	i := f.calls
	f.calls++
	if i < len(f.errs) && f.errs[i] != nil {
		return domain.RemoteJobStatus{}, f.errs[i]
	}
	if i >= len(f.responses) {
		return f.responses[len(f.responses)-1], nil
	}
	return f.responses[i], nil
}

func fastConfig(maxAttempts int) Config {
	return Config{FloorRetryAfterS: 0, CeilingRetryAfterS: 1, MaxAttempts: maxAttempts}
}

func TestRun_CompletesImmediately(t *testing.T) {
	remote := &fakeRemote{responses: []domain.RemoteJobStatus{
		{Kind: domain.RemoteCompleted, Artifact: &domain.Artifact{CharacterID: "c1"}},
	}}
	p := New(remote, fastConfig(5))

	artifact, err := p.Run(context.Background(), "j1", "rj1")
	require.NoError(t, err)
	require.Equal(t, "c1", artifact.CharacterID)
	require.Equal(t, 1, p.Stats()["completed"])
}

func TestRun_ProcessingThenCompleted(t *testing.T) {
	progressReadings := []int{}
	remote := &fakeRemote{responses: []domain.RemoteJobStatus{
		{Kind: domain.RemoteProcessing, RetryAfterS: 0, Progress: intPtr(10)},
		{Kind: domain.RemoteProcessing, RetryAfterS: 0, Progress: intPtr(50)},
		{Kind: domain.RemoteCompleted, Artifact: &domain.Artifact{CharacterID: "c1"}},
	}}
	p := New(remote, fastConfig(5))

	artifact, err := p.Run(context.Background(), "j1", "rj1", WithProgress(func(pct int) {
		progressReadings = append(progressReadings, pct)
	}))
	require.NoError(t, err)
	require.Equal(t, "c1", artifact.CharacterID)
	require.Equal(t, []int{10, 50}, progressReadings)
}

func TestRun_Failed(t *testing.T) {
	remote := &fakeRemote{responses: []domain.RemoteJobStatus{
		{Kind: domain.RemoteFailed, FailMessage: "rejected prompt"},
	}}
	p := New(remote, fastConfig(5))

	_, err := p.Run(context.Background(), "j1", "rj1")
	require.Error(t, err)
	var ce *domain.ClassifiedError
	require.ErrorAs(t, err, &ce)
	require.Equal(t, domain.KindServerError, ce.Kind)
	require.Equal(t, 1, p.Stats()["failed"])
}

func TestRun_ExceedsMaxAttemptsYieldsTimeout(t *testing.T) {
	remote := &fakeRemote{responses: []domain.RemoteJobStatus{
		{Kind: domain.RemoteProcessing, RetryAfterS: 0},
	}}
	p := New(remote, fastConfig(3))

	_, err := p.Run(context.Background(), "j1", "rj1")
	require.Error(t, err)
	var ce *domain.ClassifiedError
	require.ErrorAs(t, err, &ce)
	require.Equal(t, domain.KindTimeout, ce.Kind)
	require.True(t, ce.Retryable)
	require.Equal(t, 3, p.Stats()["polled"])
}

func TestRun_NetworkErrorPropagatesUnchanged(t *testing.T) {
	sentinel := &domain.ClassifiedError{Kind: domain.KindNetworkError, Retryable: true, UserMessage: "conn reset"}
	remote := &fakeRemote{errs: []error{sentinel}}
	p := New(remote, fastConfig(5))

	_, err := p.Run(context.Background(), "j1", "rj1")
	require.ErrorIs(t, err, error(sentinel))
	require.Equal(t, 1, p.Stats()["failed"])
}

func TestRun_ClampsWaitToCeiling(t *testing.T) {
	p := New(&fakeRemote{}, Config{FloorRetryAfterS: 1, CeilingRetryAfterS: 5, MaxAttempts: 1})
	require.Equal(t, 5*time.Second, p.clampWait(100))
	require.Equal(t, 1*time.Second, p.clampWait(0))
}

func TestRun_ContextCancellation(t *testing.T) {
	remote := &fakeRemote{responses: []domain.RemoteJobStatus{
		{Kind: domain.RemoteProcessing, RetryAfterS: 10},
	}}
	p := New(remote, Config{FloorRetryAfterS: 10, CeilingRetryAfterS: 10, MaxAttempts: 5})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := p.Run(ctx, "j1", "rj1")
	require.ErrorIs(t, err, context.Canceled)
}

func intPtr(v int) *int { return &v }

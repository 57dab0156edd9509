package usecase

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/spriteforge/orchestrator/internal/domain"
	"github.com/spriteforge/orchestrator/internal/kvstore"
	"github.com/spriteforge/orchestrator/pkg/fingerprint"
)

type fakeQueue struct {
	mu       sync.Mutex
	enqueued []domain.EnqueuedPayload
	waiting  int
	active   int
	delayed  int
	err      error
}

func (f *fakeQueue) Enqueue(_ domain.Context, payload domain.EnqueuedPayload) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.enqueued = append(f.enqueued, payload)
	return nil
}

func (f *fakeQueue) EnqueueDelayed(_ domain.Context, _ domain.EnqueuedPayload, _ time.Duration) error {
	return nil
}

func (f *fakeQueue) Depth(_ domain.Context) (int, int, int, error) {
	return f.waiting, f.active, f.delayed, nil
}

type fakeJobRepo struct {
	mu   sync.Mutex
	jobs map[string]domain.Job
}

func newFakeJobRepo() *fakeJobRepo { return &fakeJobRepo{jobs: map[string]domain.Job{}} }

func (f *fakeJobRepo) Create(_ domain.Context, j domain.Job) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.jobs[j.JobID] = j
	return nil
}

func (f *fakeJobRepo) Get(_ domain.Context, jobID string) (domain.Job, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	j, ok := f.jobs[jobID]
	if !ok {
		return domain.Job{}, domain.ErrNotFound
	}
	return j, nil
}

func (f *fakeJobRepo) UpdateState(_ domain.Context, jobID string, state domain.JobState, mutate func(*domain.Job)) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	j := f.jobs[jobID]
	j.State = state
	if mutate != nil {
		mutate(&j)
	}
	f.jobs[jobID] = j
	return nil
}

func (f *fakeJobRepo) ListByState(_ domain.Context, state domain.JobState, offset, limit int) ([]domain.Job, error) {
	return nil, nil
}

func (f *fakeJobRepo) Count(_ domain.Context) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return int64(len(f.jobs)), nil
}

func newTestAdmission(t *testing.T, q *fakeQueue) (AdmissionController, *kvstore.Store) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })
	store := kvstore.New(rdb)
	cfg := AdmissionConfig{
		MaxPerUser: 2, SystemLimit: 10, WarningThreshold: 8,
		CacheTTL: time.Hour, DedupWindow: 10 * time.Second,
		Concurrency: 5, BaselinePerJobSeconds: 5,
	}
	return NewAdmissionController(store, q, newFakeJobRepo(), cfg), store
}

func validPrompt() domain.StructuredPrompt {
	return domain.StructuredPrompt{
		Type: "character", Style: "pixel-art",
		Size: domain.Size{Width: 48, Height: 48}, Description: "wizard",
	}
}

func TestSubmit_HappyPath(t *testing.T) {
	q := &fakeQueue{}
	a, _ := newTestAdmission(t, q)

	res, err := a.Submit(context.Background(), "user1", validPrompt())
	require.NoError(t, err)
	require.Equal(t, "processing", res.Status)
	require.False(t, res.CacheHit)
	require.Len(t, q.enqueued, 1)
}

func TestSubmit_EmptyUserID(t *testing.T) {
	q := &fakeQueue{}
	a, _ := newTestAdmission(t, q)

	_, err := a.Submit(context.Background(), "  ", validPrompt())
	require.Error(t, err)
	var ce *domain.ClassifiedError
	require.ErrorAs(t, err, &ce)
	require.Equal(t, domain.KindValidationError, ce.Kind)
}

func TestSubmit_InvalidPrompt(t *testing.T) {
	q := &fakeQueue{}
	a, _ := newTestAdmission(t, q)

	bad := validPrompt()
	bad.Description = ""
	_, err := a.Submit(context.Background(), "user1", bad)
	require.Error(t, err)
}

func TestSubmit_UnrecognizedOptionKey(t *testing.T) {
	q := &fakeQueue{}
	a, _ := newTestAdmission(t, q)

	p := validPrompt()
	p.Options = map[string]any{"nope": true}
	_, err := a.Submit(context.Background(), "user1", p)
	require.Error(t, err)
}

func TestSubmit_CacheHit(t *testing.T) {
	q := &fakeQueue{}
	a, store := newTestAdmission(t, q)
	ctx := context.Background()

	prompt := validPrompt()
	fp := fingerprint.Of(prompt)
	artifact := domain.Artifact{CharacterID: "c1", DownloadURL: "https://x/y.png"}
	require.NoError(t, store.CachePut(ctx, fp, artifact, time.Hour))

	res, err := a.Submit(ctx, "user1", prompt)
	require.NoError(t, err)
	require.True(t, res.CacheHit)
	require.Equal(t, "completed", res.Status)
	require.Empty(t, q.enqueued)
}

func TestSubmit_DedupHit(t *testing.T) {
	q := &fakeQueue{}
	a, store := newTestAdmission(t, q)
	ctx := context.Background()

	prompt := validPrompt()
	fp := fingerprint.Of(prompt)
	require.NoError(t, store.DedupMark(ctx, "user1", fp, "existing-job", 10*time.Second))

	res, err := a.Submit(ctx, "user1", prompt)
	require.NoError(t, err)
	require.Equal(t, "existing-job", res.JobID)
	require.Empty(t, q.enqueued)
}

func TestSubmit_PerUserLimitReached(t *testing.T) {
	q := &fakeQueue{}
	a, store := newTestAdmission(t, q)
	ctx := context.Background()

	require.NoError(t, store.ActiveMark(ctx, "user1", "j1"))
	require.NoError(t, store.ActiveMark(ctx, "user1", "j2"))

	_, err := a.Submit(ctx, "user1", validPrompt())
	require.Error(t, err)
	var ce *domain.ClassifiedError
	require.ErrorAs(t, err, &ce)
	require.Equal(t, domain.KindQuotaExceeded, ce.Kind)
}

func TestSubmit_SystemQueueFull(t *testing.T) {
	q := &fakeQueue{waiting: 10}
	a, _ := newTestAdmission(t, q)

	_, err := a.Submit(context.Background(), "user1", validPrompt())
	require.Error(t, err)
}

func TestSubmit_WarningAttached(t *testing.T) {
	q := &fakeQueue{waiting: 8}
	a, _ := newTestAdmission(t, q)

	res, err := a.Submit(context.Background(), "user1", validPrompt())
	require.NoError(t, err)
	require.NotNil(t, res.Warning)
	require.Equal(t, 8, res.Warning.QueueDepth)
}

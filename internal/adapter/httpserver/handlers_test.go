package httpserver

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-chi/chi/v5"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/spriteforge/orchestrator/internal/config"
	"github.com/spriteforge/orchestrator/internal/domain"
	"github.com/spriteforge/orchestrator/internal/healthcheck"
	"github.com/spriteforge/orchestrator/internal/kvstore"
	"github.com/spriteforge/orchestrator/internal/observability"
	"github.com/spriteforge/orchestrator/internal/retrymanager"
	"github.com/spriteforge/orchestrator/internal/usecase"
)

type fakeQueue struct {
	mu      sync.Mutex
	waiting int
}

func (f *fakeQueue) Enqueue(domain.Context, domain.EnqueuedPayload) error { return nil }
func (f *fakeQueue) EnqueueDelayed(domain.Context, domain.EnqueuedPayload, time.Duration) error {
	return nil
}
func (f *fakeQueue) Depth(domain.Context) (int, int, int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.waiting, 0, 0, nil
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
	j, ok := f.jobs[jobID]
	if !ok {
		return domain.ErrNotFound
	}
	if mutate != nil {
		mutate(&j)
	}
	j.State = state
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

type fakeDLQ struct{ entries map[string]domain.DLQEntry }

func newFakeDLQ() *fakeDLQ { return &fakeDLQ{entries: map[string]domain.DLQEntry{}} }

func (f *fakeDLQ) Put(_ domain.Context, e domain.DLQEntry) error {
	f.entries[e.JobID] = e
	return nil
}
func (f *fakeDLQ) List(_ domain.Context, limit int) ([]domain.DLQEntry, error) {
	out := make([]domain.DLQEntry, 0, len(f.entries))
	for _, e := range f.entries {
		out = append(out, e)
	}
	return out, nil
}
func (f *fakeDLQ) Get(_ domain.Context, jobID string) (domain.DLQEntry, error) {
	e, ok := f.entries[jobID]
	if !ok {
		return domain.DLQEntry{}, domain.ErrNotFound
	}
	return e, nil
}
func (f *fakeDLQ) Delete(_ domain.Context, jobID string) error {
	delete(f.entries, jobID)
	return nil
}

func newTestServer(t *testing.T) (*Server, *fakeJobRepo) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })
	store := kvstore.New(rdb)
	jobs := newFakeJobRepo()
	queue := &fakeQueue{}
	admission := usecase.NewAdmissionController(store, queue, jobs, usecase.AdmissionConfig{
		MaxPerUser: 5, SystemLimit: 100, WarningThreshold: 80,
		CacheTTL: time.Hour, DedupWindow: 10 * time.Second,
		Concurrency: 5, BaselinePerJobSeconds: 5,
	})
	retry := retrymanager.New(queue, jobs, newFakeDLQ(), domain.RetryConfig{MaxRetries: 3, BaseDelayMs: 1000, Multiplier: 2}, 30*time.Second, store)
	checker := healthcheck.New(
		func(context.Context) error { return nil },
		func(context.Context) error { return nil },
		func(context.Context) (int, error) { return 0, nil },
		80, 100,
	)
	return NewServer(config.Config{}, admission, jobs, retry, checker, observability.NewJobMetrics()), jobs
}

func validPrompt() domain.StructuredPrompt {
	return domain.StructuredPrompt{
		Type: "character", Style: "pixel-art",
		Size: domain.Size{Width: 48, Height: 48}, Description: "a wizard",
	}
}

func TestSubmitHandler_HappyPath(t *testing.T) {
	s, _ := newTestServer(t)
	body, _ := json.Marshal(submitRequest{UserID: "user-1", Prompt: validPrompt()})
	r := httptest.NewRequest(http.MethodPost, "/v1/jobs", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	s.SubmitHandler()(rec, r)
	require.Equal(t, http.StatusAccepted, rec.Code)

	var resp map[string]any
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	require.Equal(t, "processing", resp["status"])
	require.NotEmpty(t, resp["id"])
}

func TestSubmitHandler_InvalidJSON(t *testing.T) {
	s, _ := newTestServer(t)
	r := httptest.NewRequest(http.MethodPost, "/v1/jobs", bytes.NewReader([]byte("{not json")))
	rec := httptest.NewRecorder()
	s.SubmitHandler()(rec, r)
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestSubmitHandler_MissingUserID(t *testing.T) {
	s, _ := newTestServer(t)
	body, _ := json.Marshal(submitRequest{Prompt: validPrompt()})
	r := httptest.NewRequest(http.MethodPost, "/v1/jobs", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	s.SubmitHandler()(rec, r)
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestJobStatusHandler_FoundAndNotFound(t *testing.T) {
	s, jobs := newTestServer(t)
	_ = jobs.Create(context.Background(), domain.Job{JobID: "job-1", UserID: "user-1", State: domain.JobActive})

	rc := chi.NewRouteContext()
	rc.URLParams.Add("id", "job-1")
	r := httptest.NewRequest(http.MethodGet, "/v1/jobs/job-1", nil)
	r = r.WithContext(context.WithValue(r.Context(), chi.RouteCtxKey, rc))
	rec := httptest.NewRecorder()
	s.JobStatusHandler()(rec, r)
	require.Equal(t, http.StatusOK, rec.Code)

	rc2 := chi.NewRouteContext()
	rc2.URLParams.Add("id", "missing")
	r2 := httptest.NewRequest(http.MethodGet, "/v1/jobs/missing", nil)
	r2 = r2.WithContext(context.WithValue(r2.Context(), chi.RouteCtxKey, rc2))
	rec2 := httptest.NewRecorder()
	s.JobStatusHandler()(rec2, r2)
	require.Equal(t, http.StatusNotFound, rec2.Code)
}

func TestHealthzHandler_AlwaysHealthy(t *testing.T) {
	s, _ := newTestServer(t)
	r := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	s.HealthzHandler()(rec, r)
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestReadyzHandler_ReportsHealthy(t *testing.T) {
	s, _ := newTestServer(t)
	r := httptest.NewRequest(http.MethodGet, "/readyz", nil)
	rec := httptest.NewRecorder()
	s.ReadyzHandler()(rec, r)
	require.Equal(t, http.StatusOK, rec.Code)

	var report healthcheck.Report
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&report))
	require.Equal(t, healthcheck.StatusHealthy, report.Status)
}

func TestMetricsHandler_ReturnsSnapshot(t *testing.T) {
	s, _ := newTestServer(t)
	r := httptest.NewRequest(http.MethodGet, "/admin/metrics", nil)
	rec := httptest.NewRecorder()
	s.MetricsHandler()(rec, r)
	require.Equal(t, http.StatusOK, rec.Code)
}

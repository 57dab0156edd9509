// Package httpserver contains HTTP handlers and middleware.
//
// It provides REST API endpoints for the application including
// job submission, status polling, and the admin DLQ surface.
// The package follows clean architecture principles and provides
// a clear separation between HTTP concerns and business logic.
package httpserver

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/spriteforge/orchestrator/internal/config"
	"github.com/spriteforge/orchestrator/internal/domain"
	"github.com/spriteforge/orchestrator/internal/healthcheck"
	"github.com/spriteforge/orchestrator/internal/observability"
	"github.com/spriteforge/orchestrator/internal/retrymanager"
	"github.com/spriteforge/orchestrator/internal/usecase"
)

// Server aggregates handler dependencies.
type Server struct {
	Cfg       config.Config
	Admission usecase.AdmissionController
	Jobs      domain.JobRepository
	Retry     retrymanager.Manager
	Checker   *healthcheck.Checker
	Metrics   *observability.JobMetrics
}

// NewServer constructs an HTTP server with all handlers and checks wired.
func NewServer(cfg config.Config, admission usecase.AdmissionController, jobs domain.JobRepository, retry retrymanager.Manager, checker *healthcheck.Checker, metrics *observability.JobMetrics) *Server {
	return &Server{Cfg: cfg, Admission: admission, Jobs: jobs, Retry: retry, Checker: checker, Metrics: metrics}
}

var (
	vldOnce sync.Once
	vld     *validator.Validate
)

func getValidator() *validator.Validate {
	vldOnce.Do(func() { vld = validator.New() })
	return vld
}

// submitRequest is the wire shape for job submission (§3, §4.7).
type submitRequest struct {
	UserID string                  `json:"user_id" validate:"required"`
	Prompt domain.StructuredPrompt `json:"prompt" validate:"required"`
}

// SubmitHandler admits a new sprite-generation job.
func (s *Server) SubmitHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if a := r.Header.Get("Accept"); a != "" && a != "*/*" && !strings.Contains(a, "application/json") {
			writeJSON(w, http.StatusNotAcceptable, errorEnvelope{Error: apiError{Code: "NOT_ACCEPTABLE", Message: "only application/json is supported"}})
			return
		}
		r.Body = http.MaxBytesReader(w, r.Body, 1<<20) // 1MB
		var req submitRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, r, fmt.Errorf("%w: invalid json", domain.ErrInvalidArgument), nil)
			return
		}
		if err := getValidator().Struct(req); err != nil {
			verrs := map[string]string{}
			if ve, ok := err.(validator.ValidationErrors); ok {
				for _, fe := range ve {
					verrs[strings.ToLower(fe.Field())] = fe.Tag()
				}
			}
			writeError(w, r, fmt.Errorf("%w: validation failed", domain.ErrInvalidArgument), verrs)
			return
		}

		result, err := s.Admission.Submit(r.Context(), req.UserID, req.Prompt)
		if err != nil {
			if s.Metrics != nil {
				done := s.Metrics.Start()
				done("failed", "submit", "/v1/jobs", false, 0)
			}
			writeError(w, r, err, nil)
			return
		}
		if s.Metrics != nil {
			done := s.Metrics.Start()
			done(result.Status, "submit", "/v1/jobs", true, 0)
		}

		resp := map[string]any{"id": result.JobID, "status": result.Status, "cache_hit": result.CacheHit}
		if result.Artifact != nil {
			resp["artifact"] = result.Artifact
		}
		if result.EstimatedWaitS > 0 {
			resp["estimated_wait_s"] = result.EstimatedWaitS
		}
		if result.Warning != nil {
			resp["warning"] = map[string]any{"message": result.Warning.Message, "queue_depth": result.Warning.QueueDepth}
		}
		status := http.StatusAccepted
		if result.CacheHit {
			status = http.StatusOK
		}
		writeJSON(w, status, resp)
	}
}

// JobStatusHandler returns the current state of a job, including its
// artifact once completed (§4.7, §3).
func (s *Server) JobStatusHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := SanitizeJobID(chi.URLParam(r, "id"))
		if res := ValidateJobID(id); !res.Valid {
			writeJSON(w, http.StatusBadRequest, errorEnvelope{Error: apiError{Code: "INVALID_ARGUMENT", Message: "invalid job id", Details: res.Errors}})
			return
		}
		job, err := s.Jobs.Get(r.Context(), id)
		if err != nil {
			writeError(w, r, err, nil)
			return
		}
		writeJSON(w, http.StatusOK, jobEnvelope(job))
	}
}

func jobEnvelope(job domain.Job) map[string]any {
	m := map[string]any{
		"id":           job.JobID,
		"user_id":      job.UserID,
		"status":       string(job.State),
		"attempts":     job.Attempts,
		"submitted_at": job.SubmittedAt,
		"updated_at":   job.UpdatedAt,
	}
	if job.RemoteJobID != "" {
		m["remote_job_id"] = job.RemoteJobID
	}
	if job.LastError != "" {
		m["last_error"] = job.LastError
	}
	if job.State == domain.JobCompleted && job.Artifact != nil {
		m["artifact"] = job.Artifact
	}
	return m
}

// HealthzHandler reports liveness only: the process is up and serving.
func (s *Server) HealthzHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"status": "healthy"})
	}
}

// ReadyzHandler runs the §4.12 health checker and maps its verdict to a
// response code traffic managers can gate on.
func (s *Server) ReadyzHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if s.Checker == nil {
			writeJSON(w, http.StatusOK, map[string]any{"status": healthcheck.StatusHealthy})
			return
		}
		report := s.Checker.Run(r.Context())
		writeJSON(w, healthcheck.HTTPStatus(report.Status), report)
	}
}

// MetricsHandler exposes the in-process job metrics snapshot (distinct
// from the Prometheus exposition mounted separately at /admin/prometheus).
func (s *Server) MetricsHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		if s.Metrics == nil {
			writeJSON(w, http.StatusOK, map[string]any{})
			return
		}
		writeJSON(w, http.StatusOK, s.Metrics.Snapshot())
	}
}

// getDashboardStats aggregates counts used by the admin dashboard (§4.10).
func (s *Server) getDashboardStats(ctx context.Context) map[string]any {
	total, err := s.Jobs.Count(ctx)
	if err != nil {
		return map[string]any{"error": map[string]any{"code": "JOBS_COUNT_ERROR", "message": err.Error()}}
	}
	dlqEntries, err := s.Retry.List(ctx, 1000)
	dlqCount := 0
	if err == nil {
		dlqCount = len(dlqEntries)
	}
	return map[string]any{
		"jobs": total,
		"dlq":  dlqCount,
	}
}

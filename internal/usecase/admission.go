// Package usecase contains application business logic services.
package usecase

import (
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"

	"github.com/spriteforge/orchestrator/internal/domain"
	"github.com/spriteforge/orchestrator/internal/kvstore"
	obsctx "github.com/spriteforge/orchestrator/internal/observability"
	"github.com/spriteforge/orchestrator/pkg/fingerprint"
	"github.com/spriteforge/orchestrator/pkg/textx"
)

// AdmissionConfig carries the tunables §4.7 and §6 name explicitly.
type AdmissionConfig struct {
	MaxPerUser            int
	SystemLimit           int
	WarningThreshold      int
	CacheTTL              time.Duration
	DedupWindow           time.Duration
	Concurrency           int
	BaselinePerJobSeconds int
}

// SubmitResult is the synchronous response to Admission's submit operation.
type SubmitResult struct {
	JobID           string
	Status          string // "completed" | "processing"
	CacheHit        bool
	Artifact        *domain.Artifact
	EstimatedWaitS  float64
	Warning         *Warning
}

// Warning is a non-fatal annotation attached when queue depth crosses the
// warning threshold (§4.7 step 8).
type Warning struct {
	Message    string
	QueueDepth int
}

// AdmissionController implements §4.7's submit operation.
type AdmissionController struct {
	Store  *kvstore.Store
	Queue  domain.Queue
	Jobs   domain.JobRepository
	Config AdmissionConfig
}

// NewAdmissionController constructs an AdmissionController.
func NewAdmissionController(store *kvstore.Store, queue domain.Queue, jobs domain.JobRepository, cfg AdmissionConfig) AdmissionController {
	return AdmissionController{Store: store, Queue: queue, Jobs: jobs, Config: cfg}
}

// Submit validates, deduplicates, enforces concurrency limits, and enqueues
// a job, following the ten steps of §4.7 in order.
func (a AdmissionController) Submit(ctx domain.Context, userID string, prompt domain.StructuredPrompt) (SubmitResult, error) {
	tr := otel.Tracer("usecase.admission")
	ctx, span := tr.Start(ctx, "AdmissionController.Submit")
	defer span.End()

	lg := obsctx.LoggerFromContext(ctx)

	// Step 1: validate.
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return SubmitResult{}, &domain.ClassifiedError{
			Kind: domain.KindValidationError, Retryable: false,
			UserMessage: "user_id is required", TechnicalDetail: "user_id empty after trim", Origin: "admission",
		}
	}
	prompt.Description = textx.SanitizeText(prompt.Description)
	if err := ValidatePrompt(prompt); err != nil {
		return SubmitResult{}, err
	}

	// Step 2: generate job id.
	jobID := uuid.New().String()

	// Step 3: compute fingerprint.
	fp := fingerprint.Of(prompt)

	// Step 4: cache hit short-circuits with no enqueue.
	if artifact, ok, err := a.Store.CacheGet(ctx, fp); err != nil {
		lg.Error("admission cache lookup failed", slog.String("user_id", userID), slog.Any("error", err))
	} else if ok {
		lg.Info("admission cache hit", slog.String("job_id", jobID), slog.String("fingerprint", fp))
		return SubmitResult{JobID: jobID, Status: "completed", CacheHit: true, Artifact: &artifact}, nil
	}

	// Step 5: dedup hit short-circuits with no enqueue.
	if existingID, ok, err := a.Store.DedupCheck(ctx, userID, fp); err != nil {
		lg.Error("admission dedup lookup failed", slog.String("user_id", userID), slog.Any("error", err))
	} else if ok {
		lg.Info("admission dedup hit", slog.String("job_id", existingID), slog.String("fingerprint", fp))
		return SubmitResult{JobID: existingID, Status: "processing", CacheHit: false}, nil
	}

	// Step 6: per-user concurrency.
	activeCount, err := a.Store.ActiveCount(ctx, userID)
	if err != nil {
		return SubmitResult{}, fmt.Errorf("op=admission.Submit: %w", err)
	}
	if activeCount >= a.Config.MaxPerUser {
		return SubmitResult{}, &domain.ClassifiedError{
			Kind: domain.KindQuotaExceeded, Retryable: false,
			UserMessage:     fmt.Sprintf("maximum concurrent jobs limit (%d) reached", a.Config.MaxPerUser),
			TechnicalDetail: fmt.Sprintf("user %s has %d active jobs", userID, activeCount),
			Origin:          "admission",
		}
	}

	// Step 7: system-wide queue depth.
	waiting, active, delayed, err := a.Queue.Depth(ctx)
	if err != nil {
		return SubmitResult{}, fmt.Errorf("op=admission.Submit: %w", err)
	}
	depth := waiting + active + delayed
	if depth >= a.Config.SystemLimit {
		return SubmitResult{}, &domain.ClassifiedError{
			Kind: domain.KindQuotaExceeded, Retryable: false,
			UserMessage:     "system queue is full",
			TechnicalDetail: fmt.Sprintf("queue depth %d >= limit %d", depth, a.Config.SystemLimit),
			Origin:          "admission",
		}
	}

	// Step 8: warning annotation.
	var warning *Warning
	if depth >= a.Config.WarningThreshold {
		warning = &Warning{Message: "queue depth is high", QueueDepth: depth}
	}

	// Step 9: enqueue, then write dedup/active markers only on success.
	payload := domain.EnqueuedPayload{
		JobID: jobID, UserID: userID, Prompt: prompt, Fingerprint: fp,
		CorrelationID: obsctx.NewCorrelation().ID,
	}
	job := domain.Job{
		JobID: jobID, UserID: userID, Prompt: prompt, Fingerprint: fp,
		State: domain.JobQueued, SubmittedAt: time.Now().UTC(), UpdatedAt: time.Now().UTC(),
		CorrelationID: payload.CorrelationID,
	}
	if a.Jobs != nil {
		if err := a.Jobs.Create(ctx, job); err != nil {
			return SubmitResult{}, fmt.Errorf("op=admission.Submit: %w", err)
		}
	}
	if err := a.Queue.Enqueue(ctx, payload); err != nil {
		lg.Error("admission enqueue failed", slog.String("job_id", jobID), slog.Any("error", err))
		return SubmitResult{}, fmt.Errorf("op=admission.Submit: %w", err)
	}
	if err := a.Store.DedupMark(ctx, userID, fp, jobID, a.Config.DedupWindow); err != nil {
		lg.Error("admission dedup mark failed", slog.String("job_id", jobID), slog.Any("error", err))
	}
	if err := a.Store.ActiveMark(ctx, userID, jobID); err != nil {
		lg.Error("admission active mark failed", slog.String("job_id", jobID), slog.Any("error", err))
	}

	// Step 10: estimated wait.
	estimatedWait := float64(depth) / float64(a.Config.Concurrency) * float64(a.Config.BaselinePerJobSeconds)

	lg.Info("admission enqueued", slog.String("job_id", jobID), slog.String("user_id", userID), slog.Int("queue_depth", depth))
	return SubmitResult{
		JobID: jobID, Status: "processing", CacheHit: false,
		EstimatedWaitS: estimatedWait, Warning: warning,
	}, nil
}

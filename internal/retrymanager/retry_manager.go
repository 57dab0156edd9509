// Package retrymanager implements the Retry Manager & Dead-Letter Queue
// (§4.10): on job failure it decides retry-with-delay vs DLQ placement,
// and handles DLQ retry()/list/get/delete for the admin surface. It is
// grounded on internal/adapter/queue/redpanda/retry_manager.go's
// RetryJob/moveToDLQ/ProcessDLQJob, reimplemented over the asynq-backed
// domain.Queue instead of a second Kafka/Redpanda topic.
package retrymanager

import (
	"fmt"
	"log/slog"
	"math/rand"
	"strings"
	"time"

	"github.com/spriteforge/orchestrator/internal/domain"
)

// ActiveTracker marks and clears a job's in-flight marker (§3
// ActiveCountEntry). The Retry Manager clears it when a job lands in the
// DLQ (it has left the active set) and re-sets it when a DLQ entry is
// re-admitted (it becomes in-flight again).
type ActiveTracker interface {
	ActiveMark(ctx domain.Context, userID, jobID string) error
	ActiveUnmark(ctx domain.Context, userID, jobID string) error
}

// Manager is the Retry Manager & DLQ component.
type Manager struct {
	Queue  domain.Queue
	Jobs   domain.JobRepository
	DLQ    domain.DLQRepository
	Config domain.RetryConfig
	// DLQCooldown is an additional cooldown applied to rate_limit/timeout
	// failures before a DLQ entry becomes eligible for retry(), beyond
	// spec.md's plain TTL retention (supplemented, see DESIGN.md).
	DLQCooldown time.Duration
	Active      ActiveTracker
}

// New constructs a Manager.
func New(queue domain.Queue, jobs domain.JobRepository, dlq domain.DLQRepository, cfg domain.RetryConfig, dlqCooldown time.Duration, active ActiveTracker) Manager {
	return Manager{Queue: queue, Jobs: jobs, DLQ: dlq, Config: cfg, DLQCooldown: dlqCooldown, Active: active}
}

// HandleFailure is called by the worker when a job attempt fails with a
// classified error. It decides retry (delayed re-enqueue) vs DLQ
// placement per §4.3/§4.10, attempts < max_retries is atomic with the
// queue's delayed-enqueue call via a single call path (Open Question
// decision, SPEC_FULL.md §5): attempts is only persisted after the
// re-enqueue primitive succeeds, so a partial failure leaves the job
// retryable rather than silently stuck.
func (m Manager) HandleFailure(ctx domain.Context, job domain.Job, classified *domain.ClassifiedError) error {
	if classified != nil && (classified.Kind == domain.KindRateLimit || classified.Kind == domain.KindTimeout) {
		slog.Info("routing upstream failure straight to DLQ for cooldown",
			slog.String("job_id", job.JobID), slog.String("kind", string(classified.Kind)))
		return m.moveToDLQ(ctx, job, classified)
	}

	if !domain.ShouldRetry(job.Attempts, classified, m.Config) {
		return m.moveToDLQ(ctx, job, classified)
	}
	if job.Attempts >= m.Config.MaxRetries {
		return m.moveToDLQ(ctx, job, classified)
	}

	jitter := 0.9 + rand.Float64()*0.2
	delay := domain.CalculateDelay(job.Attempts, m.Config, jitter)
	if delay == nil {
		return m.moveToDLQ(ctx, job, classified)
	}

	payload := domain.EnqueuedPayload{
		JobID: job.JobID, UserID: job.UserID, Prompt: job.Prompt,
		Fingerprint: job.Fingerprint, CorrelationID: job.CorrelationID, TimeoutMs: job.TimeoutMs,
	}
	if err := m.Queue.EnqueueDelayed(ctx, payload, *delay); err != nil {
		return fmt.Errorf("op=retrymanager.HandleFailure: enqueue delayed: %w", err)
	}

	nextAttempts := job.Attempts + 1
	lastErrMsg := ""
	if classified != nil {
		lastErrMsg = classified.Error()
	}
	if err := m.Jobs.UpdateState(ctx, job.JobID, domain.JobRetrying, func(j *domain.Job) {
		j.Attempts = nextAttempts
		j.LastError = lastErrMsg
	}); err != nil {
		return fmt.Errorf("op=retrymanager.HandleFailure: update state: %w", err)
	}

	slog.Info("job scheduled for retry",
		slog.String("job_id", job.JobID), slog.Int("attempt", nextAttempts), slog.Duration("delay", *delay))
	return nil
}

func (m Manager) moveToDLQ(ctx domain.Context, job domain.Job, classified *domain.ClassifiedError) error {
	entry := domain.DLQEntry{
		JobID: job.JobID, UserID: job.UserID, OriginalJobSnapshot: job,
		FailedAt: time.Now().UTC(), RetryAttempts: job.Attempts, RemoteJobID: job.RemoteJobID,
	}
	if classified != nil {
		entry.FailureReason = classified.UserMessage
		entry.LastError = domain.DLQLastError{Message: classified.TechnicalDetail, Kind: classified.Kind}
	} else {
		entry.FailureReason = "unknown failure"
		entry.LastError = domain.DLQLastError{Kind: domain.KindUnknown}
	}

	if err := m.DLQ.Put(ctx, entry); err != nil {
		return fmt.Errorf("op=retrymanager.moveToDLQ: %w", err)
	}
	if err := m.Jobs.UpdateState(ctx, job.JobID, domain.JobDLQ, func(j *domain.Job) {
		j.LastError = entry.FailureReason
	}); err != nil {
		return fmt.Errorf("op=retrymanager.moveToDLQ: update state: %w", err)
	}
	if m.Active != nil {
		if err := m.Active.ActiveUnmark(ctx, job.UserID, job.JobID); err != nil {
			slog.Error("failed to clear active marker on DLQ placement", slog.String("job_id", job.JobID), slog.Any("error", err))
		}
	}
	slog.Info("job moved to DLQ", slog.String("job_id", job.JobID), slog.String("reason", entry.FailureReason))
	return nil
}

// RetryFromDLQ re-admits a DLQ entry, honoring the supplemented cooldown
// window for rate_limit/timeout failures before it is eligible.
func (m Manager) RetryFromDLQ(ctx domain.Context, jobID string) error {
	entry, err := m.DLQ.Get(ctx, jobID)
	if err != nil {
		return fmt.Errorf("op=retrymanager.RetryFromDLQ: %w", err)
	}

	if isRateLimitOrTimeout(entry) {
		cooldownUntil := entry.FailedAt.Add(m.DLQCooldown)
		if remaining := time.Until(cooldownUntil); remaining > 0 {
			return &domain.ClassifiedError{
				Kind: domain.KindRateLimit, Retryable: true,
				UserMessage:     "DLQ entry is cooling down, retry later",
				TechnicalDetail: fmt.Sprintf("cooldown remaining %s", remaining),
				Origin:          "retrymanager",
			}
		}
	}

	payload := domain.EnqueuedPayload{
		JobID: entry.JobID, UserID: entry.UserID, Prompt: entry.OriginalJobSnapshot.Prompt,
		Fingerprint: entry.OriginalJobSnapshot.Fingerprint, CorrelationID: entry.OriginalJobSnapshot.CorrelationID,
	}
	if err := m.Queue.Enqueue(ctx, payload); err != nil {
		return fmt.Errorf("op=retrymanager.RetryFromDLQ: enqueue: %w", err)
	}
	if err := m.Jobs.UpdateState(ctx, jobID, domain.JobQueued, func(j *domain.Job) {
		j.Attempts = 0
		j.LastError = ""
	}); err != nil {
		return fmt.Errorf("op=retrymanager.RetryFromDLQ: update state: %w", err)
	}
	if err := m.DLQ.Delete(ctx, jobID); err != nil {
		return fmt.Errorf("op=retrymanager.RetryFromDLQ: delete dlq entry: %w", err)
	}
	if m.Active != nil {
		if err := m.Active.ActiveMark(ctx, entry.UserID, entry.JobID); err != nil {
			slog.Error("failed to set active marker on DLQ re-admission", slog.String("job_id", jobID), slog.Any("error", err))
		}
	}
	slog.Info("DLQ job requeued for reprocessing", slog.String("job_id", jobID))
	return nil
}

func isRateLimitOrTimeout(entry domain.DLQEntry) bool {
	combined := strings.ToLower(entry.FailureReason + " " + entry.LastError.Message)
	return entry.LastError.Kind == domain.KindRateLimit || entry.LastError.Kind == domain.KindTimeout ||
		strings.Contains(combined, "rate limit") || strings.Contains(combined, "timeout") || strings.Contains(combined, "deadline exceeded")
}

// List returns DLQ entries for the admin surface (§4.10).
func (m Manager) List(ctx domain.Context, limit int) ([]domain.DLQEntry, error) {
	return m.DLQ.List(ctx, limit)
}

// Get returns a single DLQ entry.
func (m Manager) Get(ctx domain.Context, jobID string) (domain.DLQEntry, error) {
	return m.DLQ.Get(ctx, jobID)
}

// Delete permanently removes a DLQ entry.
func (m Manager) Delete(ctx domain.Context, jobID string) error {
	return m.DLQ.Delete(ctx, jobID)
}

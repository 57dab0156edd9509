// Package sweeper implements the stuck-job sweeper (§4.8 supplemental):
// a periodic scan that reclaims jobs left in active/polling state past a
// maximum processing age, feeding them back through the Retry Manager as
// if their worker had reported a network failure. It is grounded on
// internal/app/stuck_jobs.go's StuckJobSweeper (ticker loop, paginated
// ListWithFilters scan, age cutoff), generalized from unconditionally
// marking jobs failed to routing through the Retry Manager's normal
// retry-vs-DLQ decision.
package sweeper

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/spriteforge/orchestrator/internal/domain"
)

// FailureHandler is the subset of retrymanager.Manager the sweeper needs,
// kept as an interface so tests don't have to build a full Manager.
type FailureHandler interface {
	HandleFailure(ctx domain.Context, job domain.Job, classified *domain.ClassifiedError) error
}

const pageSize = 100

// Sweeper periodically reclaims jobs stuck in active/polling state.
type Sweeper struct {
	Jobs             domain.JobRepository
	Retry            FailureHandler
	MaxProcessingAge time.Duration
	Interval         time.Duration
}

// New constructs a Sweeper, defaulting MaxProcessingAge to 3 minutes and
// Interval to 1 minute when unset, matching the teacher's own fallbacks.
func New(jobs domain.JobRepository, retry FailureHandler, maxProcessingAge, interval time.Duration) *Sweeper {
	if maxProcessingAge <= 0 {
		maxProcessingAge = 3 * time.Minute
	}
	if interval <= 0 {
		interval = time.Minute
	}
	return &Sweeper{Jobs: jobs, Retry: retry, MaxProcessingAge: maxProcessingAge, Interval: interval}
}

// Run blocks, sweeping once immediately and then on every Interval tick,
// until ctx is cancelled.
func (s *Sweeper) Run(ctx domain.Context) {
	if s == nil || s.Jobs == nil {
		return
	}

	ticker := time.NewTicker(s.Interval)
	defer ticker.Stop()

	s.SweepOnce(ctx)

	for {
		select {
		case <-ctx.Done():
			slog.Info("stuck job sweeper stopping")
			return
		case <-ticker.C:
			s.SweepOnce(ctx)
		}
	}
}

// SweepOnce scans active and polling jobs once and reclaims any past the
// max processing age. Exported so tests and an explicit admin trigger can
// invoke a single pass without waiting on the ticker.
func (s *Sweeper) SweepOnce(ctx domain.Context) (checked, reclaimed int) {
	cutoff := time.Now().Add(-s.MaxProcessingAge)
	for _, state := range []domain.JobState{domain.JobActive, domain.JobPolling} {
		c, r := s.sweepState(ctx, state, cutoff)
		checked += c
		reclaimed += r
	}
	return checked, reclaimed
}

func (s *Sweeper) sweepState(ctx domain.Context, state domain.JobState, cutoff time.Time) (checked, reclaimed int) {
	for offset := 0; ; offset += pageSize {
		jobs, err := s.Jobs.ListByState(ctx, state, offset, pageSize)
		if err != nil {
			slog.Error("stuck job sweep failed to list jobs", slog.String("state", string(state)), slog.Any("error", err))
			return checked, reclaimed
		}
		checked += len(jobs)
		if len(jobs) == 0 {
			return checked, reclaimed
		}

		for _, j := range jobs {
			if j.UpdatedAt.Before(cutoff) {
				if s.reclaim(ctx, j) {
					reclaimed++
				}
			}
		}

		if len(jobs) < pageSize {
			return checked, reclaimed
		}
	}
}

func (s *Sweeper) reclaim(ctx domain.Context, job domain.Job) bool {
	classified := &domain.ClassifiedError{
		Kind:            domain.KindNetworkError,
		Retryable:       true,
		UserMessage:     "job appeared stuck; its worker may have died mid-processing",
		TechnicalDetail: fmt.Sprintf("job_id=%s state=%s updated_at=%s exceeded max processing age %s", job.JobID, job.State, job.UpdatedAt, s.MaxProcessingAge),
		Origin:          "sweeper",
	}
	if err := s.Retry.HandleFailure(ctx, job, classified); err != nil {
		slog.Error("stuck job sweep failed to reclaim job", slog.String("job_id", job.JobID), slog.Any("error", err))
		return false
	}
	return true
}

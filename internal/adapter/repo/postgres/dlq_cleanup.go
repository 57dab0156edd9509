package postgres

import (
	"log/slog"
	"time"

	"github.com/spriteforge/orchestrator/internal/domain"
)

// DLQCleanupService periodically purges DLQ entries older than MaxAge, the
// plain-TTL retention spec.md names for DLQ entries (§6 dlq_max_age_hours),
// distinct from retrymanager.Manager.DLQCooldown which gates re-admission
// rather than deletion.
type DLQCleanupService struct {
	DLQ      *DLQRepo
	MaxAge   time.Duration
	Interval time.Duration
}

// NewDLQCleanupService constructs a DLQCleanupService, defaulting MaxAge to
// 7 days and Interval to 24h when unset.
func NewDLQCleanupService(dlq *DLQRepo, maxAge, interval time.Duration) *DLQCleanupService {
	if maxAge <= 0 {
		maxAge = 7 * 24 * time.Hour
	}
	if interval <= 0 {
		interval = 24 * time.Hour
	}
	return &DLQCleanupService{DLQ: dlq, MaxAge: maxAge, Interval: interval}
}

// RunPeriodic purges expired DLQ entries immediately and then on every
// Interval tick, until ctx is cancelled.
func (s *DLQCleanupService) RunPeriodic(ctx domain.Context) {
	ticker := time.NewTicker(s.Interval)
	defer ticker.Stop()

	s.cleanupOnce(ctx)
	for {
		select {
		case <-ctx.Done():
			slog.Info("dlq cleanup service stopping")
			return
		case <-ticker.C:
			s.cleanupOnce(ctx)
		}
	}
}

func (s *DLQCleanupService) cleanupOnce(ctx domain.Context) {
	cutoff := time.Now().Add(-s.MaxAge)
	deleted, err := s.DLQ.DeleteOlderThan(ctx, cutoff)
	if err != nil {
		slog.Error("dlq cleanup failed", slog.Any("error", err))
		return
	}
	if deleted > 0 {
		slog.Info("dlq cleanup removed expired entries", slog.Int64("deleted", deleted), slog.Time("cutoff", cutoff))
	}
}

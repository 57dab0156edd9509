// Package timeoutenforcer implements the Timeout Enforcer (§4.11): it
// races a job runner against a deadline, with a short grace period that
// prefers a late success over a timeout verdict at the boundary. The
// context.WithTimeout usage and stats-counter shape are grounded on
// internal/observability/adaptive_timeout.go's AdaptiveTimeoutManager,
// though the timeout value itself is NOT adaptive here — §4.11 derives
// the deadline from the job's own timeout_ms (or a configured default),
// not from a running success/failure ratio.
package timeoutenforcer

import (
	"fmt"
	"sync"
	"time"

	"github.com/spriteforge/orchestrator/internal/domain"
)

// GracePeriod is the small window after the deadline during which a
// runner result that arrives is still honored instead of declared a
// timeout, per §4.11.
const GracePeriod = 100 * time.Millisecond

// Config holds the Timeout Enforcer's tunables (§4.11, §6).
type Config struct {
	// DefaultTimeoutMs is used when a job carries no per-job override.
	DefaultTimeoutMs int64
	// AllowPerJobOverride, when false, ignores job.TimeoutMs entirely.
	AllowPerJobOverride bool
}

// DefaultConfig returns §4.11's stated default.
func DefaultConfig() Config {
	return Config{DefaultTimeoutMs: 600_000, AllowPerJobOverride: true}
}

// Enforcer wraps job execution with a deadline race.
type Enforcer struct {
	Config Config

	mu        sync.Mutex
	succeeded int
	timedOut  int
}

// New constructs an Enforcer.
func New(cfg Config) *Enforcer {
	return &Enforcer{Config: cfg}
}

// Runner performs the actual job work and is raced against the deadline.
type Runner func(domain.Context) (any, error)

// Execute runs runner against job's timeout budget. Invalid per-job
// timeouts (<=0, or overrides disabled by policy) fall back to the
// configured default. On expiry it returns a timeout(retryable)
// classified error carrying job_id/elapsed_ms/timeout_ms (§4.11).
func (e *Enforcer) Execute(ctx domain.Context, job domain.Job, runner Runner) (any, error) {
	timeoutMs := e.resolveTimeoutMs(job.TimeoutMs)
	deadline := time.Duration(timeoutMs) * time.Millisecond
	start := time.Now()

	resultCh := make(chan result, 1)
	go func() {
		v, err := runner(ctx)
		resultCh <- result{v: v, err: err}
	}()

	timer := time.NewTimer(deadline)
	defer timer.Stop()

	select {
	case r := <-resultCh:
		e.recordSuccess()
		return r.v, r.err
	case <-timer.C:
		grace := time.NewTimer(GracePeriod)
		defer grace.Stop()
		select {
		case r := <-resultCh:
			e.recordSuccess()
			return r.v, r.err
		case <-grace.C:
			e.recordTimeout()
			elapsed := time.Since(start)
			return nil, &domain.ClassifiedError{
				Kind: domain.KindTimeout, Retryable: true,
				UserMessage:     "job exceeded its timeout budget",
				TechnicalDetail: fmt.Sprintf("job_id=%s elapsed_ms=%d timeout_ms=%d", job.JobID, elapsed.Milliseconds(), timeoutMs),
				Origin:          "timeoutenforcer",
			}
		}
	}
}

type result struct {
	v   any
	err error
}

func (e *Enforcer) resolveTimeoutMs(jobTimeoutMs int64) int64 {
	if !e.Config.AllowPerJobOverride || jobTimeoutMs <= 0 {
		return e.Config.DefaultTimeoutMs
	}
	return jobTimeoutMs
}

func (e *Enforcer) recordSuccess() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.succeeded++
}

func (e *Enforcer) recordTimeout() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.timedOut++
}

// Stats reports cumulative counters, consumed by Observability (§4.12).
func (e *Enforcer) Stats() map[string]int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return map[string]int{"succeeded": e.succeeded, "timed_out": e.timedOut}
}

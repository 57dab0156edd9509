// Package pollingengine implements the Polling Engine (§4.9): a per-job
// loop that calls poll(remote_job_id) until the remote job reaches a
// terminal state or the attempt budget is exhausted. The stats-tracking
// shape (success/failure counters exposed via Stats) is grounded on
// internal/adapter/queue/redpanda/adaptive_poller.go's AdaptivePoller,
// though the wait interval here is dictated by the server's
// retry_after_s rather than computed client-side, since §4.9 makes the
// remote response authoritative for pacing.
package pollingengine

import (
	"fmt"
	"sync"
	"time"

	"github.com/spriteforge/orchestrator/internal/domain"
)

// RemotePoller is the subset of remoteclient.Client the engine consumes.
type RemotePoller interface {
	Poll(ctx domain.Context, remoteJobID string) (domain.RemoteJobStatus, error)
}

// Config holds the Polling Engine's tunables (§4.9, §6).
type Config struct {
	// FloorRetryAfterS is the minimum wait honored between polls.
	FloorRetryAfterS int
	// CeilingRetryAfterS caps a server-provided retry_after_s.
	CeilingRetryAfterS int
	// MaxAttempts bounds the number of polls before a timeout verdict.
	MaxAttempts int
}

// DefaultConfig returns §4.9's stated defaults.
func DefaultConfig() Config {
	return Config{FloorRetryAfterS: 1, CeilingRetryAfterS: 3600, MaxAttempts: 60}
}

// Poller drives the poll loop for a single remote job.
type Poller struct {
	Remote RemotePoller
	Config Config

	mu       sync.Mutex
	polled   int
	timedOut int
	failed   int
	completed int
}

// New constructs a Poller.
func New(remote RemotePoller, cfg Config) *Poller {
	return &Poller{Remote: remote, Config: cfg}
}

// RunOption configures a single Run call. The progress callback set by
// WithProgress is invoked with each processing response's progress
// percentage, when present. Progress is surfaced to observers but never
// authoritative for termination (§4.9).
type RunOption func(*runState)

type runState struct {
	onProgress func(int)
}

// WithProgress registers a callback invoked on each progress reading.
func WithProgress(f func(int)) RunOption {
	return func(rs *runState) { rs.onProgress = f }
}

// Run polls remoteJobID until terminal or the attempt budget is spent.
// It returns the completed artifact, or a classified error for a remote
// failure, a network/5xx propagated unchanged, or an attempt-budget
// timeout (§4.9).
func (p *Poller) Run(ctx domain.Context, jobID, remoteJobID string, opts ...RunOption) (*domain.Artifact, error) {
	rs := &runState{}
	for _, opt := range opts {
		opt(rs)
	}

	for attempt := 1; attempt <= p.Config.MaxAttempts; attempt++ {
		status, err := p.Remote.Poll(ctx, remoteJobID)
		if err != nil {
			p.recordFailure()
			return nil, err
		}
		p.recordPoll()

		switch status.Kind {
		case domain.RemoteCompleted:
			p.recordCompleted()
			return status.Artifact, nil
		case domain.RemoteFailed:
			p.recordFailure()
			return nil, &domain.ClassifiedError{
				Kind: domain.KindServerError, Retryable: false,
				UserMessage:     status.FailMessage,
				TechnicalDetail: fmt.Sprintf("remote job %s failed", remoteJobID),
				Origin:          "pollingengine",
			}
		case domain.RemoteProcessing:
			if rs.onProgress != nil && status.Progress != nil {
				rs.onProgress(*status.Progress)
			}
			wait := p.clampWait(status.RetryAfterS)
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(wait):
			}
		}
	}

	p.recordTimeout()
	return nil, &domain.ClassifiedError{
		Kind: domain.KindTimeout, Retryable: true,
		UserMessage:     "polling exceeded maximum attempts",
		TechnicalDetail: fmt.Sprintf("job_id=%s remote_job_id=%s max_attempts=%d", jobID, remoteJobID, p.Config.MaxAttempts),
		Origin:          "pollingengine",
	}
}

func (p *Poller) clampWait(retryAfterS int) time.Duration {
	s := retryAfterS
	if s < p.Config.FloorRetryAfterS {
		s = p.Config.FloorRetryAfterS
	}
	if s > p.Config.CeilingRetryAfterS {
		s = p.Config.CeilingRetryAfterS
	}
	return time.Duration(s) * time.Second
}

func (p *Poller) recordPoll() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.polled++
}

func (p *Poller) recordCompleted() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.completed++
}

func (p *Poller) recordFailure() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.failed++
}

func (p *Poller) recordTimeout() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.timedOut++
}

// Stats reports cumulative counters for this poller instance, consumed by
// the Observability component (§4.12).
func (p *Poller) Stats() map[string]int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return map[string]int{
		"polled":    p.polled,
		"completed": p.completed,
		"failed":    p.failed,
		"timed_out": p.timedOut,
	}
}

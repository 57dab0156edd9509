// Package worker wires the Durable Queue's worker-pool half (§4.8) to the
// rest of the pipeline: submit to the Remote Client, poll to completion,
// enforce the job timeout budget, and hand any failure to the Retry
// Manager. It is grounded on
// internal/adapter/queue/asynq/worker.go's handleEvaluate/NewWorker shape
// (asynq ServeMux registration, a unit-testable core handler function
// separated from the asynq plumbing), generalized from a single-pass AI
// evaluation call to the submit-then-poll-then-timeout-then-retry pipeline
// §4.9/§4.10/§4.11 describe.
package worker

import (
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/hibiken/asynq"

	"github.com/spriteforge/orchestrator/internal/adapter/observability"
	"github.com/spriteforge/orchestrator/internal/domain"
	"github.com/spriteforge/orchestrator/internal/pollingengine"
	"github.com/spriteforge/orchestrator/internal/queue/asynqueue"
	"github.com/spriteforge/orchestrator/internal/remoteclient"
	"github.com/spriteforge/orchestrator/internal/timeoutenforcer"
)

// Remote is the subset of remoteclient.Client the worker needs.
type Remote interface {
	Submit(ctx domain.Context, prompt domain.StructuredPrompt) (remoteclient.SubmitResult, error)
}

// FailureHandler is the subset of retrymanager.Manager the worker needs.
type FailureHandler interface {
	HandleFailure(ctx domain.Context, job domain.Job, classified *domain.ClassifiedError) error
}

// ActiveUnmarker removes a job's in-flight marker once it leaves the active
// set (§3 ActiveCountEntry, §4.7 step 6) so a completed job frees up the
// user's concurrency slot.
type ActiveUnmarker interface {
	ActiveUnmark(ctx domain.Context, userID, jobID string) error
}

// Worker processes sprite-generation jobs pulled off the durable queue.
type Worker struct {
	Jobs     domain.JobRepository
	Remote   Remote
	Poller   *pollingengine.Poller
	Enforcer *timeoutenforcer.Enforcer
	Retry    FailureHandler
	Active   ActiveUnmarker
}

// New constructs a Worker from its collaborators.
func New(jobs domain.JobRepository, remote Remote, poller *pollingengine.Poller, enforcer *timeoutenforcer.Enforcer, retry FailureHandler, active ActiveUnmarker) *Worker {
	return &Worker{Jobs: jobs, Remote: remote, Poller: poller, Enforcer: enforcer, Retry: retry, Active: active}
}

// HandleTask processes a single job end to end: submit, poll to
// completion, bounded by the job's timeout budget. It is the
// asynq-independent core so it can be unit tested without a Redis server.
func (w *Worker) HandleTask(ctx domain.Context, payload domain.EnqueuedPayload) error {
	job, err := w.Jobs.Get(ctx, payload.JobID)
	if err != nil {
		return fmt.Errorf("op=worker.HandleTask: load job: %w", err)
	}

	if err := w.Jobs.UpdateState(ctx, job.JobID, domain.JobActive, func(*domain.Job) {}); err != nil {
		return fmt.Errorf("op=worker.HandleTask: mark active: %w", err)
	}
	observability.StartProcessingJob("sprite")

	artifact, runErr := w.Enforcer.Execute(ctx, job, func(rctx domain.Context) (any, error) {
		return w.submitAndPoll(rctx, job)
	})

	if runErr != nil {
		classified := asClassified(runErr)
		observability.FailJob("sprite", string(classified.Kind))
		if err := w.Retry.HandleFailure(ctx, job, classified); err != nil {
			return fmt.Errorf("op=worker.HandleTask: handle failure: %w", err)
		}
		return nil
	}

	result, ok := artifact.(*domain.Artifact)
	if !ok || result == nil {
		classified := &domain.ClassifiedError{
			Kind: domain.KindUnknown, Retryable: true,
			UserMessage: "job finished without an artifact", Origin: "worker",
		}
		observability.FailJob("sprite", string(classified.Kind))
		return w.Retry.HandleFailure(ctx, job, classified)
	}

	if err := w.Jobs.UpdateState(ctx, job.JobID, domain.JobCompleted, func(j *domain.Job) {
		j.Artifact = result
	}); err != nil {
		return fmt.Errorf("op=worker.HandleTask: mark completed: %w", err)
	}
	if w.Active != nil {
		if err := w.Active.ActiveUnmark(ctx, job.UserID, job.JobID); err != nil {
			slog.Error("failed to clear active marker on completion", slog.String("job_id", job.JobID), slog.Any("error", err))
		}
	}
	observability.CompleteJob("sprite")
	return nil
}

func (w *Worker) submitAndPoll(ctx domain.Context, job domain.Job) (*domain.Artifact, error) {
	submitted, err := w.Remote.Submit(ctx, job.Prompt)
	if err != nil {
		return nil, err
	}

	if err := w.Jobs.UpdateState(ctx, job.JobID, domain.JobPolling, func(j *domain.Job) {
		j.RemoteJobID = submitted.RemoteJobID
	}); err != nil {
		return nil, fmt.Errorf("op=worker.submitAndPoll: mark polling: %w", err)
	}

	return w.Poller.Run(ctx, job.JobID, submitted.RemoteJobID)
}

// asClassified normalizes any error returned from the submit/poll path into
// a *domain.ClassifiedError, since everything downstream (metrics, Retry
// Manager) keys off Kind.
func asClassified(err error) *domain.ClassifiedError {
	var classified *domain.ClassifiedError
	if ce, ok := err.(*domain.ClassifiedError); ok {
		classified = ce
	} else {
		classified = &domain.ClassifiedError{
			Kind: domain.KindUnknown, Retryable: true,
			UserMessage: "unexpected failure", TechnicalDetail: err.Error(), Origin: "worker",
		}
	}
	return classified
}

// NewServer wires a Worker onto an asynq.Server/ServeMux listening on the
// asynqueue.TaskGenerate task type.
func NewServer(redisAddr, redisPassword string, redisDB, concurrency int, queueName string, w *Worker) (*asynq.Server, *asynq.ServeMux) {
	opt := asynq.RedisClientOpt{Addr: redisAddr, Password: redisPassword, DB: redisDB}
	srv := asynq.NewServer(opt, asynq.Config{
		Concurrency: concurrency,
		Queues:      map[string]int{queueName: 1},
	})
	mux := asynq.NewServeMux()
	mux.HandleFunc(asynqueue.TaskGenerate, func(ctx domain.Context, t *asynq.Task) error {
		var payload domain.EnqueuedPayload
		if err := json.Unmarshal(t.Payload(), &payload); err != nil {
			return fmt.Errorf("op=worker.NewServer: unmarshal payload: %w", err)
		}
		return w.HandleTask(ctx, payload)
	})
	return srv, mux
}

// Package asynqueue wraps hibiken/asynq as the Durable Queue & Worker Pool
// engine (§4.8, §6). It is the literal queue engine named in SPEC_FULL.md:
// a Redis-backed, durable, delayed/retry-capable task queue, the closest
// idiomatic fit to §4.8's contract. The client/server split and task-type
// constant mirror internal/adapter/queue/asynq/{queue.go,worker.go}.
package asynqueue

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/hibiken/asynq"

	"github.com/spriteforge/orchestrator/internal/domain"
)

// TaskGenerate is the asynq task type for a sprite generation job.
const TaskGenerate = "sprite:generate"

// Queue adapts domain.Queue onto an asynq client and inspector.
type Queue struct {
	client    *asynq.Client
	inspector *asynq.Inspector
	queueName string
}

// New constructs a Queue from a parsed Redis connection option and the
// queue name jobs are enqueued onto.
func New(redisAddr, redisPassword string, redisDB int, queueName string) *Queue {
	opt := asynq.RedisClientOpt{Addr: redisAddr, Password: redisPassword, DB: redisDB}
	return &Queue{
		client:    asynq.NewClient(opt),
		inspector: asynq.NewInspector(opt),
		queueName: queueName,
	}
}

// Close releases the underlying asynq client/inspector connections.
func (q *Queue) Close() error {
	if err := q.client.Close(); err != nil {
		return err
	}
	return q.inspector.Close()
}

// Enqueue places a payload onto the ready FIFO (§4.8).
func (q *Queue) Enqueue(ctx domain.Context, payload domain.EnqueuedPayload) error {
	return q.enqueue(ctx, payload, 0)
}

// EnqueueDelayed places a payload to become ready after delay elapses,
// used by the Retry Manager to schedule a backed-off reattempt (§4.3, §4.10).
func (q *Queue) EnqueueDelayed(ctx domain.Context, payload domain.EnqueuedPayload, delay time.Duration) error {
	return q.enqueue(ctx, payload, delay)
}

func (q *Queue) enqueue(ctx domain.Context, payload domain.EnqueuedPayload, delay time.Duration) error {
	b, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("op=asynqueue.Enqueue: %w", err)
	}
	task := asynq.NewTask(TaskGenerate, b)
	opts := []asynq.Option{
		asynq.Queue(q.queueName),
		asynq.MaxRetry(0), // retries are modeled explicitly by the Retry Manager, not by asynq
		asynq.Retention(7 * 24 * time.Hour),
		asynq.TaskID(payload.JobID),
	}
	if delay > 0 {
		opts = append(opts, asynq.ProcessIn(delay))
	}
	if _, err := q.client.EnqueueContext(ctx, task, opts...); err != nil {
		return fmt.Errorf("op=asynqueue.Enqueue: %w", err)
	}
	return nil
}

// Depth reports waiting/active/delayed task counts for the given queue,
// consulted by the Admission Controller's system-limit check (§4.7).
func (q *Queue) Depth(_ domain.Context) (waiting, active, delayed int, err error) {
	info, err := q.inspector.GetQueueInfo(q.queueName)
	if err != nil {
		return 0, 0, 0, fmt.Errorf("op=asynqueue.Depth: %w", err)
	}
	return info.Pending, info.Active, info.Scheduled, nil
}

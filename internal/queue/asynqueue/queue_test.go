package asynqueue_test

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spriteforge/orchestrator/internal/domain"
	"github.com/spriteforge/orchestrator/internal/queue/asynqueue"
)

// redisAvailable reports whether a local Redis instance is reachable,
// mirroring the teacher's "skip if Redis not available" integration-test
// pattern rather than requiring a live dependency for every test run.
func redisAvailable(addr string) bool {
	conn, err := net.DialTimeout("tcp", addr, 200*time.Millisecond)
	if err != nil {
		return false
	}
	_ = conn.Close()
	return true
}

const testRedisAddr = "localhost:6379"

func TestTaskGenerateConstant(t *testing.T) {
	assert.Equal(t, "sprite:generate", asynqueue.TaskGenerate)
}

func TestQueue_EnqueueAndDepth(t *testing.T) {
	if testing.Short() || !redisAvailable(testRedisAddr) {
		t.Skip("redis not available")
	}

	q := asynqueue.New(testRedisAddr, "", 15, "test_sprite_jobs")
	defer func() { _ = q.Close() }()

	ctx := context.Background()
	payload := domain.EnqueuedPayload{
		JobID:       "job-1",
		UserID:      "user-1",
		Fingerprint: "fp-1",
	}
	require.NoError(t, q.Enqueue(ctx, payload))

	waiting, _, _, err := q.Depth(ctx)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, waiting, 0)
}

func TestQueue_EnqueueDelayed(t *testing.T) {
	if testing.Short() || !redisAvailable(testRedisAddr) {
		t.Skip("redis not available")
	}

	q := asynqueue.New(testRedisAddr, "", 15, "test_sprite_jobs_delayed")
	defer func() { _ = q.Close() }()

	ctx := context.Background()
	payload := domain.EnqueuedPayload{JobID: "job-delayed-1", UserID: "user-1"}
	require.NoError(t, q.EnqueueDelayed(ctx, payload, 5*time.Second))

	_, _, delayed, err := q.Depth(ctx)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, delayed, 0)
}

func TestQueue_Depth_UnknownQueueReturnsZero(t *testing.T) {
	if testing.Short() || !redisAvailable(testRedisAddr) {
		t.Skip("redis not available")
	}

	q := asynqueue.New(testRedisAddr, "", 15, "never_enqueued_into")
	defer func() { _ = q.Close() }()

	waiting, active, delayed, err := q.Depth(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, waiting)
	assert.Equal(t, 0, active)
	assert.Equal(t, 0, delayed)
}

package kvstore

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/spriteforge/orchestrator/internal/domain"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })
	return New(rdb)
}

func TestCache_PutGetRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	artifact := domain.Artifact{CharacterID: "c1", DownloadURL: "https://x/y.png"}

	require.NoError(t, s.CachePut(ctx, "fp1", artifact, time.Hour))

	got, ok, err := s.CacheGet(ctx, "fp1")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, artifact, got)
}

func TestCache_Miss(t *testing.T) {
	s := newTestStore(t)
	_, ok, err := s.CacheGet(context.Background(), "missing")
	require.NoError(t, err)
	require.False(t, ok)
}

func TestCache_MalformedTreatedAsMiss(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.rdb.Set(ctx, cacheKey("fp-bad"), "not json", 0).Err())

	_, ok, err := s.CacheGet(ctx, "fp-bad")
	require.NoError(t, err)
	require.False(t, ok)
}

func TestDedup_MarkAndCheck(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_, ok, err := s.DedupCheck(ctx, "user1", "fp1")
	require.NoError(t, err)
	require.False(t, ok)

	require.NoError(t, s.DedupMark(ctx, "user1", "fp1", "job-1", 10*time.Second))

	jobID, ok, err := s.DedupCheck(ctx, "user1", "fp1")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "job-1", jobID)
}

func TestActive_MarkCountUnmark(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	count, err := s.ActiveCount(ctx, "user1")
	require.NoError(t, err)
	require.Zero(t, count)

	require.NoError(t, s.ActiveMark(ctx, "user1", "job-1"))
	require.NoError(t, s.ActiveMark(ctx, "user1", "job-2"))

	count, err = s.ActiveCount(ctx, "user1")
	require.NoError(t, err)
	require.Equal(t, 2, count)

	require.NoError(t, s.ActiveUnmark(ctx, "user1", "job-1"))
	count, err = s.ActiveCount(ctx, "user1")
	require.NoError(t, err)
	require.Equal(t, 1, count)
}

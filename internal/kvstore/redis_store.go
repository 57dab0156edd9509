// Package kvstore implements the Cache & Deduplication Store and
// per-user active-job tracking over a Redis-compatible KV store (§4.6,
// §6). Key prefixing and pipeline conventions are grounded on the
// other_examples Redis queue implementation (RedisQueue's jobKey/queueKey
// helpers and pipelined Enqueue/Complete) adapted to the three key spaces
// the spec names: cache:, dedup:, active:.
package kvstore

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/spriteforge/orchestrator/internal/domain"
)

// Store is the Redis-backed implementation of the Cache & Dedup Store.
type Store struct {
	rdb *redis.Client
}

// New constructs a Store over an existing Redis client.
func New(rdb *redis.Client) *Store {
	return &Store{rdb: rdb}
}

func cacheKey(fingerprint string) string { return "cache:" + fingerprint }
func dedupKey(userID, fingerprint string) string { return "dedup:" + userID + ":" + fingerprint }
func activeKey(userID, jobID string) string { return "active:" + userID + ":" + jobID }
func activePattern(userID string) string { return "active:" + userID + ":*" }

// CacheGet returns the cached artifact for fingerprint, or ok=false on a
// miss. A malformed stored value is treated as a miss and logged, never
// returned as an error (§4.6).
func (s *Store) CacheGet(ctx context.Context, fingerprint string) (domain.Artifact, bool, error) {
	raw, err := s.rdb.Get(ctx, cacheKey(fingerprint)).Result()
	if err == redis.Nil {
		return domain.Artifact{}, false, nil
	}
	if err != nil {
		return domain.Artifact{}, false, fmt.Errorf("op=kvstore.CacheGet: %w", err)
	}
	var a domain.Artifact
	if err := json.Unmarshal([]byte(raw), &a); err != nil {
		slog.Warn("cache entry malformed, treating as miss", slog.String("fingerprint", fingerprint), slog.Any("error", err))
		return domain.Artifact{}, false, nil
	}
	return a, true, nil
}

// CachePut idempotently writes the artifact with the configured TTL (§4.6).
func (s *Store) CachePut(ctx context.Context, fingerprint string, artifact domain.Artifact, ttl time.Duration) error {
	raw, err := json.Marshal(artifact)
	if err != nil {
		return fmt.Errorf("op=kvstore.CachePut: %w", err)
	}
	if err := s.rdb.Set(ctx, cacheKey(fingerprint), raw, ttl).Err(); err != nil {
		return fmt.Errorf("op=kvstore.CachePut: %w", err)
	}
	return nil
}

// DedupCheck returns the job id stored for (userID, fingerprint), if any.
func (s *Store) DedupCheck(ctx context.Context, userID, fingerprint string) (string, bool, error) {
	jobID, err := s.rdb.Get(ctx, dedupKey(userID, fingerprint)).Result()
	if err == redis.Nil {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("op=kvstore.DedupCheck: %w", err)
	}
	return jobID, true, nil
}

// DedupMark writes the dedup marker with the configured window TTL (§4.6).
func (s *Store) DedupMark(ctx context.Context, userID, fingerprint, jobID string, ttl time.Duration) error {
	if err := s.rdb.Set(ctx, dedupKey(userID, fingerprint), jobID, ttl).Err(); err != nil {
		return fmt.Errorf("op=kvstore.DedupMark: %w", err)
	}
	return nil
}

// ActiveMark records jobID as in-flight for userID (§3 ActiveCountEntry).
func (s *Store) ActiveMark(ctx context.Context, userID, jobID string) error {
	if err := s.rdb.Set(ctx, activeKey(userID, jobID), "1", 0).Err(); err != nil {
		return fmt.Errorf("op=kvstore.ActiveMark: %w", err)
	}
	return nil
}

// ActiveUnmark removes the in-flight marker once a job leaves the active set.
func (s *Store) ActiveUnmark(ctx context.Context, userID, jobID string) error {
	if err := s.rdb.Del(ctx, activeKey(userID, jobID)).Err(); err != nil {
		return fmt.Errorf("op=kvstore.ActiveUnmark: %w", err)
	}
	return nil
}

// ActiveCount counts current in-flight keys for userID, used by the
// Admission Controller's per-user concurrency check (§4.7 step 6).
func (s *Store) ActiveCount(ctx context.Context, userID string) (int, error) {
	var count int
	iter := s.rdb.Scan(ctx, 0, activePattern(userID), 100).Iterator()
	for iter.Next(ctx) {
		count++
	}
	if err := iter.Err(); err != nil {
		return 0, fmt.Errorf("op=kvstore.ActiveCount: %w", err)
	}
	return count, nil
}

// Ping verifies connectivity to the backing Redis instance, used by the
// health checker's kv-store sub-check (§4.12).
func (s *Store) Ping(ctx context.Context) error {
	if err := s.rdb.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("op=kvstore.Ping: %w", err)
	}
	return nil
}

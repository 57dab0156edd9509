// Package ratelimiter implements the process-local token-bucket rate
// limiter gating outbound remote-API calls (§4.2). It is grounded on the
// teacher's RedisLuaLimiter (same Limiter contract, same bucket-config
// shape, same optional Postgres durability mirror via pgxpool) but the
// bucket state itself lives in process memory, per §5's "the rate-limiter
// state is process-local" requirement rather than shared through Redis.
package ratelimiter

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Limiter is the contract the Remote Client consults before every call.
type Limiter interface {
	// Acquire completes when a token is available, or returns ctx.Err()
	// if the context is cancelled while waiting.
	Acquire(ctx context.Context) error
	// Available returns the current integer token count, or (0, true)
	// when the limiter is disabled ("unbounded" sentinel from §4.2).
	Available() (tokens int64, unbounded bool)
}

// TokenBucket is a process-local token bucket: capacity = requests-per-minute,
// refill rate = capacity/60 tokens per second, bucket starts full. When
// empty, Acquire callers queue in FIFO order; each scheduled wake drains as
// many waiters as the refilled tokens allow (§4.2).
type TokenBucket struct {
	mu         sync.Mutex
	capacity   float64
	refillRate float64 // tokens per second
	tokens     float64
	lastRefill time.Time
	enabled    bool
	waiters    []chan struct{}
	timer      *time.Timer

	pool *pgxpool.Pool
	key  string
}

// NewTokenBucket builds a bucket from a requests-per-minute capacity. When
// enabled is false, Acquire is an immediate no-op and Available reports the
// unbounded sentinel.
func NewTokenBucket(requestsPerMinute int, enabled bool, pool *pgxpool.Pool, key string) *TokenBucket {
	capacity := float64(requestsPerMinute)
	if capacity < 0 {
		capacity = 0
	}
	return &TokenBucket{
		capacity:   capacity,
		refillRate: capacity / 60.0,
		tokens:     capacity,
		lastRefill: time.Now(),
		enabled:    enabled,
		pool:       pool,
		key:        key,
	}
}

// Acquire implements Limiter.
func (b *TokenBucket) Acquire(ctx context.Context) error {
	if b == nil || !b.enabled {
		return nil
	}

	b.mu.Lock()
	now := time.Now()
	b.refillLocked(now)

	if len(b.waiters) == 0 && b.tokens >= 1 {
		b.tokens--
		b.mirrorLocked(ctx)
		b.mu.Unlock()
		return nil
	}

	w := make(chan struct{}, 1)
	b.waiters = append(b.waiters, w)
	b.scheduleDrainLocked()
	b.mu.Unlock()

	select {
	case <-w:
		return nil
	case <-ctx.Done():
		b.cancelWaiter(w)
		return ctx.Err()
	}
}

// Available implements Limiter.
func (b *TokenBucket) Available() (int64, bool) {
	if b == nil || !b.enabled {
		return 0, true
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.refillLocked(time.Now())
	return int64(b.tokens), false
}

// refillLocked accrues tokens for the elapsed wall-clock delta, capped at
// capacity. Caller holds b.mu.
func (b *TokenBucket) refillLocked(now time.Time) {
	if b.refillRate <= 0 {
		return
	}
	delta := now.Sub(b.lastRefill).Seconds()
	if delta <= 0 {
		return
	}
	b.tokens += delta * b.refillRate
	if b.tokens > b.capacity {
		b.tokens = b.capacity
	}
	b.lastRefill = now
}

// drainLocked wakes as many FIFO waiters as current tokens allow.
func (b *TokenBucket) drainLocked() {
	for len(b.waiters) > 0 && b.tokens >= 1 {
		w := b.waiters[0]
		b.waiters = b.waiters[1:]
		b.tokens--
		select {
		case w <- struct{}{}:
		default:
		}
	}
}

// scheduleDrainLocked arranges a single wake once enough time has passed to
// refill at least one token, then drains. Caller holds b.mu.
func (b *TokenBucket) scheduleDrainLocked() {
	if b.timer != nil || b.refillRate <= 0 {
		return
	}
	shortage := 1 - b.tokens
	if shortage < 0 {
		shortage = 0
	}
	wait := time.Duration(shortage/b.refillRate*float64(time.Second)) + time.Millisecond
	b.timer = time.AfterFunc(wait, func() {
		b.mu.Lock()
		b.timer = nil
		b.refillLocked(time.Now())
		b.drainLocked()
		if len(b.waiters) > 0 {
			b.scheduleDrainLocked()
		}
		b.mu.Unlock()
	})
}

// cancelWaiter removes w from the FIFO queue if it is still pending (i.e.
// the context was cancelled before a token was delivered).
func (b *TokenBucket) cancelWaiter(w chan struct{}) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for i, cw := range b.waiters {
		if cw == w {
			b.waiters = append(b.waiters[:i], b.waiters[i+1:]...)
			return
		}
	}
}

func (b *TokenBucket) mirrorLocked(ctx context.Context) {
	if b.pool == nil {
		return
	}
	go b.mirrorToPostgres(ctx, b.tokens, b.lastRefill)
}

// mirrorToPostgres best-effort persists bucket state so a restarted process
// can warm-start instead of assuming a full bucket.
func (b *TokenBucket) mirrorToPostgres(ctx context.Context, tokens float64, lastRefill time.Time) {
	if b.pool == nil {
		return
	}
	_, err := b.pool.Exec(ctx,
		`INSERT INTO rate_limit_buckets (bucket_key, capacity, refill_rate, tokens, last_refill)
		 VALUES ($1, $2, $3, $4, $5)
		 ON CONFLICT (bucket_key) DO UPDATE SET
		   capacity = EXCLUDED.capacity,
		   refill_rate = EXCLUDED.refill_rate,
		   tokens = EXCLUDED.tokens,
		   last_refill = EXCLUDED.last_refill`,
		b.key, b.capacity, b.refillRate, tokens, lastRefill,
	)
	if err != nil {
		slog.Error("failed to mirror rate limit bucket to postgres", slog.String("key", b.key), slog.Any("error", err))
	}
}

// WarmFromPostgres restores bucket state mirrored by a previous process.
func (b *TokenBucket) WarmFromPostgres(ctx context.Context) error {
	if b == nil || b.pool == nil {
		return nil
	}
	row := b.pool.QueryRow(ctx, `SELECT tokens, last_refill FROM rate_limit_buckets WHERE bucket_key = $1`, b.key)
	var tokens float64
	var lastRefill time.Time
	if err := row.Scan(&tokens, &lastRefill); err != nil {
		return nil //nolint:nilerr // absence of a prior mirror is not an error
	}
	b.mu.Lock()
	b.tokens = tokens
	b.lastRefill = lastRefill
	b.mu.Unlock()
	return nil
}

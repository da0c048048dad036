package ratelimit

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/apascualco/pairgate/internal/infrastructure/clock"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const pairingKeyPrefix = "pairgate:ratelimit:pairing:"

// Result contains the rate limit check result.
type Result struct {
	Allowed    bool
	Limit      int
	Remaining  int
	ResetAt    time.Time
	RetryAfter time.Duration
}

// RateLimiter counts attempts per key over a sliding one-minute window.
type RateLimiter interface {
	Allow(ctx context.Context, key string, limit int) (*Result, error)
}

// PairingKey is the limiter key for pairing attempts started by an owner.
func PairingKey(ownerID string) string {
	return pairingKeyPrefix + ownerID
}

// Limiter implements rate limiting using a Redis sorted set per key.
type Limiter struct {
	client *redis.Client
	window time.Duration
	clock  clock.Clock
}

func NewLimiter(client *redis.Client, clk clock.Clock) *Limiter {
	if clk == nil {
		clk = clock.Real()
	}
	return &Limiter{
		client: client,
		window: time.Minute,
		clock:  clk,
	}
}

func (l *Limiter) Allow(ctx context.Context, key string, limit int) (*Result, error) {
	now := l.clock.Now()
	windowStart := now.Add(-l.window)
	member := strconv.FormatInt(now.UnixNano(), 10) + ":" + uuid.NewString()

	pipe := l.client.TxPipeline()
	pipe.ZRemRangeByScore(ctx, key, "0", strconv.FormatInt(windowStart.UnixNano(), 10))
	countCmd := pipe.ZCard(ctx, key)
	oldestCmd := pipe.ZRangeWithScores(ctx, key, 0, 0)
	pipe.ZAdd(ctx, key, redis.Z{Score: float64(now.UnixNano()), Member: member})
	pipe.Expire(ctx, key, l.window+time.Second)

	if _, err := pipe.Exec(ctx); err != nil {
		return nil, fmt.Errorf("redis pipeline failed: %w", err)
	}

	count := int(countCmd.Val())
	result := newResult(count, limit, now, l.window)

	if !result.Allowed {
		// The rejected attempt must not count against the window.
		if err := l.client.ZRem(ctx, key, member).Err(); err != nil {
			return nil, fmt.Errorf("failed to roll back rejected attempt: %w", err)
		}
		if oldest := oldestCmd.Val(); len(oldest) > 0 {
			result.RetryAfter = retryAfter(time.Unix(0, int64(oldest[0].Score)), now, l.window)
		}
	}

	return result, nil
}

// InMemoryLimiter is the single-replica fallback when Redis is not configured.
type InMemoryLimiter struct {
	mu       sync.Mutex
	requests map[string][]time.Time
	window   time.Duration
	clock    clock.Clock
}

func NewInMemoryLimiter(clk clock.Clock) *InMemoryLimiter {
	if clk == nil {
		clk = clock.Real()
	}
	return &InMemoryLimiter{
		requests: make(map[string][]time.Time),
		window:   time.Minute,
		clock:    clk,
	}
}

func (l *InMemoryLimiter) Allow(_ context.Context, key string, limit int) (*Result, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.clock.Now()
	windowStart := now.Add(-l.window)

	var valid []time.Time
	for _, ts := range l.requests[key] {
		if ts.After(windowStart) {
			valid = append(valid, ts)
		}
	}

	result := newResult(len(valid), limit, now, l.window)
	if result.Allowed {
		valid = append(valid, now)
	} else if len(valid) > 0 {
		result.RetryAfter = retryAfter(valid[0], now, l.window)
	}

	if len(valid) == 0 {
		delete(l.requests, key)
	} else {
		l.requests[key] = valid
	}

	return result, nil
}

func newResult(count, limit int, now time.Time, window time.Duration) *Result {
	allowed := count < limit
	remaining := limit - count - 1
	if remaining < 0 || !allowed {
		remaining = 0
	}
	return &Result{
		Allowed:   allowed,
		Limit:     limit,
		Remaining: remaining,
		ResetAt:   now.Add(window),
	}
}

func retryAfter(oldest, now time.Time, window time.Duration) time.Duration {
	if d := oldest.Add(window).Sub(now); d > 0 {
		return d
	}
	return 0
}

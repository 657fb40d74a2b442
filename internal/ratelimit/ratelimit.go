// Package ratelimit gates outbound calls to external providers. Budgets are
// global per process by default; configuring Redis makes them cluster-wide.
package ratelimit

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// Limiter blocks until the caller may issue one request, or until the
// context is done.
type Limiter interface {
	Wait(ctx context.Context) error
}

// New picks the shared Redis window limiter when a client is configured,
// otherwise an in-process token bucket.
func New(name string, ratePerSecond float64, rdb *redis.Client) Limiter {
	if rdb != nil {
		return NewRedisWindow(name, ratePerSecond, rdb)
	}
	return NewBucket(ratePerSecond)
}

// Bucket is a classic token bucket: tokens refill at ratePerSecond up to a
// burst of ceil(rate), and every Wait consumes one token.
type Bucket struct {
	mu     sync.Mutex
	rate   float64
	burst  float64
	tokens float64
	last   time.Time
	now    func() time.Time
}

func NewBucket(ratePerSecond float64) *Bucket {
	if ratePerSecond <= 0 {
		ratePerSecond = 1
	}
	burst := math.Max(1, math.Ceil(ratePerSecond))
	b := &Bucket{
		rate:   ratePerSecond,
		burst:  burst,
		tokens: burst,
		now:    time.Now,
	}
	b.last = b.now()
	return b
}

// reserve takes one token if available, otherwise returns how long the
// caller must wait before retrying.
func (b *Bucket) reserve() time.Duration {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := b.now()
	elapsed := now.Sub(b.last).Seconds()
	b.last = now
	b.tokens = math.Min(b.burst, b.tokens+elapsed*b.rate)

	if b.tokens >= 1 {
		b.tokens--
		return 0
	}
	need := (1 - b.tokens) / b.rate
	return time.Duration(need * float64(time.Second))
}

func (b *Bucket) Wait(ctx context.Context) error {
	for {
		d := b.reserve()
		if d <= 0 {
			return nil
		}
		timer := time.NewTimer(d)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}

// RedisWindow approximates the bucket across processes with a fixed
// one-second window per provider, the same INCR+EXPIRE shape as the API
// rate limiting middleware. On Redis errors it fails open so a limiter
// outage never stops the pipeline.
type RedisWindow struct {
	name  string
	limit int64
	rdb   *redis.Client
}

func NewRedisWindow(name string, ratePerSecond float64, rdb *redis.Client) *RedisWindow {
	limit := int64(math.Max(1, math.Ceil(ratePerSecond)))
	return &RedisWindow{name: name, limit: limit, rdb: rdb}
}

func (w *RedisWindow) Wait(ctx context.Context) error {
	for {
		now := time.Now().UTC()
		key := fmt.Sprintf("prospector:pl:%s:%d", w.name, now.Unix())

		count, err := w.rdb.Incr(ctx, key).Result()
		if err != nil {
			return nil
		}
		if count == 1 {
			_ = w.rdb.Expire(ctx, key, 2*time.Second)
		}
		if count <= w.limit {
			return nil
		}

		// Window exhausted; sleep into the next second.
		wait := time.Until(now.Truncate(time.Second).Add(time.Second))
		if wait <= 0 {
			wait = 50 * time.Millisecond
		}
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}

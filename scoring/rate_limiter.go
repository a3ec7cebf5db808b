// Copyright 2025 GeoPulse
// SPDX-License-Identifier: Apache-2.0

package scoring

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
)

// RateLimiter admits callers into a bounded requests-per-minute budget.
// WaitForSlot blocks the calling goroutine until a slot is free or the
// context is cancelled.
type RateLimiter interface {
	WaitForSlot(ctx context.Context) error
}

const (
	rateWindow = 60 * time.Second

	// rateBuffer pads each computed wait so the oldest timestamp has
	// actually expired by the time the caller wakes up.
	rateBuffer = 100 * time.Millisecond
)

// SlidingWindowLimiter is the in-process sliding 60-second window limiter.
// One instance is constructed per provider+quota-tier combination and
// passed explicitly to the dispatcher that needs it; it is never shared
// module state.
type SlidingWindowLimiter struct {
	maxRPM int

	mu         sync.Mutex
	timestamps []time.Time

	// Injectable for tests.
	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
}

// NewSlidingWindowLimiter creates a limiter bounding admissions to maxRPM
// requests in any trailing 60-second window.
func NewSlidingWindowLimiter(maxRPM int) *SlidingWindowLimiter {
	return &SlidingWindowLimiter{
		maxRPM: maxRPM,
		now:    time.Now,
		sleep:  sleepCtx,
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// WaitForSlot blocks until the caller may issue a request. Admission order
// among concurrent waiters is not guaranteed; the only invariant is that
// no trailing 60-second window ever holds more than maxRPM admissions.
func (l *SlidingWindowLimiter) WaitForSlot(ctx context.Context) error {
	for {
		l.mu.Lock()
		now := l.now()
		l.prune(now)

		if len(l.timestamps) < l.maxRPM {
			l.timestamps = append(l.timestamps, now)
			l.mu.Unlock()
			return nil
		}

		wait := l.timestamps[0].Add(rateWindow).Sub(now) + rateBuffer
		l.mu.Unlock()

		if err := l.sleep(ctx, wait); err != nil {
			return err
		}
		// Loop: the clock advanced during the wait, so the window must
		// be re-pruned before admission.
	}
}

// prune drops timestamps older than the window. Callers hold l.mu.
func (l *SlidingWindowLimiter) prune(now time.Time) {
	cutoff := now.Add(-rateWindow)
	i := 0
	for i < len(l.timestamps) && !l.timestamps[i].After(cutoff) {
		i++
	}
	if i > 0 {
		l.timestamps = append(l.timestamps[:0], l.timestamps[i:]...)
	}
}

// Pending returns the number of admissions currently inside the window.
func (l *SlidingWindowLimiter) Pending() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.prune(l.now())
	return len(l.timestamps)
}

// RedisSlidingWindowLimiter is the distributed variant for multi-instance
// deployments: admissions live in a Redis sorted set keyed per
// provider+tier, scored by unix-nano timestamps. When Redis is not
// configured the in-memory limiter is used instead.
type RedisSlidingWindowLimiter struct {
	client *redis.Client
	key    string
	maxRPM int

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
}

// NewRedisSlidingWindowLimiter creates a distributed limiter for the given
// provider+tier key.
func NewRedisSlidingWindowLimiter(client *redis.Client, key string, maxRPM int) *RedisSlidingWindowLimiter {
	return &RedisSlidingWindowLimiter{
		client: client,
		key:    fmt.Sprintf("ratelimit:%s", key),
		maxRPM: maxRPM,
		now:    time.Now,
		sleep:  sleepCtx,
	}
}

// WaitForSlot blocks until a slot is free in the shared window.
func (l *RedisSlidingWindowLimiter) WaitForSlot(ctx context.Context) error {
	for {
		now := l.now()
		cutoff := now.Add(-rateWindow).UnixNano()

		pipe := l.client.TxPipeline()
		pipe.ZRemRangeByScore(ctx, l.key, "0", fmt.Sprintf("%d", cutoff))
		countCmd := pipe.ZCard(ctx, l.key)
		if _, err := pipe.Exec(ctx); err != nil {
			return fmt.Errorf("rate limit window check failed: %w", err)
		}

		if countCmd.Val() < int64(l.maxRPM) {
			// Member must be unique per admission; two admissions in the
			// same nanosecond would otherwise collapse into one entry.
			member := fmt.Sprintf("%d:%s", now.UnixNano(), uuid.NewString())
			admit := l.client.TxPipeline()
			admit.ZAdd(ctx, l.key, &redis.Z{Score: float64(now.UnixNano()), Member: member})
			admit.Expire(ctx, l.key, 2*rateWindow)
			if _, err := admit.Exec(ctx); err != nil {
				return fmt.Errorf("rate limit admission failed: %w", err)
			}
			return nil
		}

		oldest, err := l.client.ZRangeWithScores(ctx, l.key, 0, 0).Result()
		if err != nil {
			return fmt.Errorf("rate limit oldest lookup failed: %w", err)
		}

		wait := rateBuffer
		if len(oldest) > 0 {
			expiry := time.Unix(0, int64(oldest[0].Score)).Add(rateWindow)
			wait = expiry.Sub(now) + rateBuffer
		}
		if wait < rateBuffer {
			wait = rateBuffer
		}

		if err := l.sleep(ctx, wait); err != nil {
			return err
		}
	}
}

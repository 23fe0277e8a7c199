package ratelimit

import (
	"context"
	"math"
	"sync"
	"time"
)

// Option customises a TokenBucket.
type Option func(*TokenBucket)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(b *TokenBucket) {
		if now != nil {
			b.now = now
		}
	}
}

// WithSleep overrides how the bucket waits for a refill.
func WithSleep(sleep func(context.Context, time.Duration) error) Option {
	return func(b *TokenBucket) {
		if sleep != nil {
			b.sleep = sleep
		}
	}
}

// TokenBucket limits throughput to a per-window budget. Tokens refill
// continuously at capacity/window instead of in one chunk per window.
// It is safe for concurrent use.
type TokenBucket struct {
	mu         sync.Mutex
	capacity   float64
	tokens     float64
	refillRate float64 // tokens per second
	lastRefill time.Time

	now   func() time.Time
	sleep func(context.Context, time.Duration) error
}

// NewPerMinute builds a bucket allowing perMinute acquisitions per minute.
func NewPerMinute(perMinute float64, opts ...Option) *TokenBucket {
	return New(perMinute, time.Minute, opts...)
}

// New builds a bucket with the given capacity refilled over window. A
// non-positive or non-finite capacity, or a non-positive window, disables
// limiting. The bucket starts full.
func New(capacity float64, window time.Duration, opts ...Option) *TokenBucket {
	b := &TokenBucket{
		capacity: capacity,
		tokens:   capacity,
		now:      time.Now,
		sleep:    wait,
	}
	if capacity > 0 && !math.IsInf(capacity, 1) && window > 0 {
		b.refillRate = capacity / window.Seconds()
	}
	for _, opt := range opts {
		opt(b)
	}
	b.lastRefill = b.now()
	return b
}

// Disabled reports whether the bucket grants every request immediately.
func (b *TokenBucket) Disabled() bool {
	return b == nil || b.capacity <= 0 || b.refillRate <= 0
}

// Acquire blocks until n tokens are available and debits them. A request
// larger than the capacity is clamped to it, so it waits for a full bucket
// and drains it. It returns ctx.Err() if the context ends while waiting.
func (b *TokenBucket) Acquire(ctx context.Context, n float64) error {
	if b.Disabled() {
		return nil
	}
	if n > b.capacity {
		n = b.capacity
	}
	for {
		b.mu.Lock()
		b.refillLocked()
		if b.tokens >= n {
			b.tokens -= n
			b.mu.Unlock()
			return nil
		}
		shortfall := n - b.tokens
		delay := time.Duration(math.Ceil(shortfall / b.refillRate * float64(time.Second)))
		b.mu.Unlock()

		if err := b.sleep(ctx, delay); err != nil {
			return err
		}
	}
}

// Tokens returns the currently available tokens after refilling.
func (b *TokenBucket) Tokens() float64 {
	if b.Disabled() {
		return 0
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.refillLocked()
	return b.tokens
}

func (b *TokenBucket) refillLocked() {
	now := b.now()
	elapsed := now.Sub(b.lastRefill).Seconds()
	if elapsed <= 0 {
		return
	}
	b.tokens += elapsed * b.refillRate
	if b.tokens > b.capacity {
		b.tokens = b.capacity
	}
	b.lastRefill = now
}

func wait(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

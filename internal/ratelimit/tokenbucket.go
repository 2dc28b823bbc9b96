package ratelimit

import (
	"sync"
	"time"
)

// Bucket is a non-blocking token bucket.
// - rate: tokens per second
// - capacity: maximum tokens the bucket can hold (burst)
//
// Allow never blocks: on an empty bucket it returns false immediately and the
// caller moves on to the next provider in the chain.
type Bucket struct {
	rate     float64
	capacity float64

	mu     sync.Mutex
	tokens float64
	last   time.Time
	now    func() time.Time
}

// New creates a bucket that starts full to allow an initial burst.
func New(tokensPerSecond float64, capacity int) *Bucket {
	return NewWithClock(tokensPerSecond, capacity, time.Now)
}

// NewWithClock creates a bucket with an injectable clock for tests.
func NewWithClock(tokensPerSecond float64, capacity int, now func() time.Time) *Bucket {
	if tokensPerSecond <= 0 {
		tokensPerSecond = 0.0000001
	}
	if capacity <= 0 {
		capacity = 1
	}
	return &Bucket{
		rate:     tokensPerSecond,
		capacity: float64(capacity),
		tokens:   float64(capacity),
		last:     now(),
		now:      now,
	}
}

// refill credits tokens for time elapsed since the last refill, capped at
// capacity. Negative elapsed time (clock adjustment) is clamped to zero so
// the bucket never shrinks.
func (b *Bucket) refill(now time.Time) {
	elapsed := now.Sub(b.last).Seconds()
	if elapsed <= 0 {
		// Clock stalled or moved backward; keep last where it is so the
		// jump is not credited twice when the clock catches up.
		return
	}
	b.tokens += elapsed * b.rate
	if b.tokens > b.capacity {
		b.tokens = b.capacity
	}
	b.last = now
}

// Allow performs a refill-then-consume step as one atomic unit and reports
// whether a token was available.
func (b *Bucket) Allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.refill(b.now())
	if b.tokens >= 1 {
		b.tokens--
		return true
	}
	return false
}

// Tokens returns the current token count after a refill. Used by the health
// endpoint; the value is a snapshot and may be stale by the time it is read.
func (b *Bucket) Tokens() float64 {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.refill(b.now())
	return b.tokens
}

// Capacity returns the configured burst capacity.
func (b *Bucket) Capacity() int {
	return int(b.capacity)
}

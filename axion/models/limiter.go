package models

import (
	"context"
	"sync"
	"time"
)

// RateLimiter throttles calls per key.
type RateLimiter interface {
	Acquire(ctx context.Context, key string) error
}

// RateLimitError is returned when a bucket has no tokens left.
type RateLimitError struct {
	Message string
}

func (e *RateLimitError) Error() string {
	return e.Message
}

// ErrRateLimitExceeded is returned when the rate limit is exceeded.
var ErrRateLimitExceeded = &RateLimitError{Message: "rate limit exceeded"}

// TokenBucket implements a token bucket rate limiter.
type TokenBucket struct {
	mu         sync.Mutex
	buckets    map[string]*bucket
	capacity   int           // max tokens per bucket
	refillRate time.Duration // time between token refills
	now        func() time.Time
}

// bucket represents a single token bucket for a key.
type bucket struct {
	tokens     int
	lastRefill time.Time
}

// NewTokenBucket creates a new token bucket rate limiter.
func NewTokenBucket(capacity int, refillRate time.Duration) *TokenBucket {
	return &TokenBucket{
		buckets:    make(map[string]*bucket),
		capacity:   capacity,
		refillRate: refillRate,
		now:        time.Now,
	}
}

// Acquire takes a token for key without waiting. It fails with
// ErrRateLimitExceeded when the bucket is empty.
func (tb *TokenBucket) Acquire(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	tb.mu.Lock()
	defer tb.mu.Unlock()

	now := tb.now()
	b, exists := tb.buckets[key]
	if !exists {
		b = &bucket{
			tokens:     tb.capacity,
			lastRefill: now,
		}
		tb.buckets[key] = b
	}

	// Refill tokens based on elapsed time
	if tb.refillRate > 0 {
		tokensToAdd := int(now.Sub(b.lastRefill) / tb.refillRate)
		if tokensToAdd > 0 {
			b.tokens = min(b.tokens+tokensToAdd, tb.capacity)
			b.lastRefill = b.lastRefill.Add(time.Duration(tokensToAdd) * tb.refillRate)
		}
	}

	if b.tokens <= 0 {
		return ErrRateLimitExceeded
	}

	b.tokens--
	return nil
}

var _ RateLimiter = (*TokenBucket)(nil)

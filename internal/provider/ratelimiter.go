package provider

import (
	"context"
	"sync"
	"time"
)

// RateLimiter is a token bucket guarding upstream API quotas. Free market
// data tiers ban aggressively, so every provider call goes through Wait.
type RateLimiter struct {
	mu       sync.Mutex
	tokens   int
	burst    int
	interval time.Duration
	refilled time.Time
}

// NewRateLimiter allows burst calls, refilling one token per interval.
func NewRateLimiter(burst int, interval time.Duration) *RateLimiter {
	return &RateLimiter{
		tokens:   burst,
		burst:    burst,
		interval: interval,
		refilled: time.Now(),
	}
}

// Wait blocks until a token is available or ctx is cancelled.
func (r *RateLimiter) Wait(ctx context.Context) error {
	for {
		if r.take() {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(r.interval):
		}
	}
}

func (r *RateLimiter) take() bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if n := int(time.Since(r.refilled) / r.interval); n > 0 {
		r.tokens += n
		if r.tokens > r.burst {
			r.tokens = r.burst
		}
		r.refilled = r.refilled.Add(time.Duration(n) * r.interval)
	}
	if r.tokens <= 0 {
		return false
	}
	r.tokens--
	return true
}

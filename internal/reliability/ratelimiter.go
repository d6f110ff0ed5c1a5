package reliability

import (
	"context"
	"sync"
	"time"
)

// RateLimiter is a token bucket with debt (§4.2). Deliberately not built on
// golang.org/x/time/rate: that limiter has no way to release its internal
// lock before sleeping off negative debt, which serializes every caller
// during a burst. Acquire refills and subtracts under the mutex, then —
// if debt was incurred — releases the mutex before sleeping so concurrent
// callers can queue their own debt in parallel.
type RateLimiter struct {
	mu         sync.Mutex
	rate       float64 // tokens/sec
	capacity   float64 // burst
	tokens     float64
	lastRefill time.Time
}

// NewRateLimiter builds a limiter with the given rate (tokens/sec) and burst
// capacity, starting full.
func NewRateLimiter(rate, capacity float64) *RateLimiter {
	return &RateLimiter{
		rate:       rate,
		capacity:   capacity,
		tokens:     capacity,
		lastRefill: time.Now(),
	}
}

// Acquire blocks until a token is available or ctx is cancelled. The token
// is already spent by takeOrWait's single call below; on debt, it sleeps
// the computed wait exactly once and returns rather than re-entering the
// loop and subtracting another token.
func (r *RateLimiter) Acquire(ctx context.Context) error {
	wait, ready := r.takeOrWait()
	if ready {
		return nil
	}
	select {
	case <-time.After(wait):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// takeOrWait refills, subtracts one token under the lock, and reports either
// that a token was granted or how long the caller must wait — computed and
// returned only after the lock is released.
func (r *RateLimiter) takeOrWait() (wait time.Duration, ready bool) {
	r.mu.Lock()
	now := time.Now()
	elapsed := now.Sub(r.lastRefill).Seconds()
	r.tokens = min(r.capacity, r.tokens+elapsed*r.rate)
	r.lastRefill = now
	r.tokens--

	if r.tokens >= 0 {
		r.mu.Unlock()
		return 0, true
	}

	debt := -r.tokens
	r.mu.Unlock() // release before sleeping: lets other callers queue their own debt

	return time.Duration(debt / r.rate * float64(time.Second)), false
}

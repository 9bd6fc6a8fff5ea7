package orchestrator

import (
	"sync"

	"golang.org/x/time/rate"
)

// RateLimiter provides per-caller rate limiting for tells. A zero rate
// disables limiting entirely.
type RateLimiter struct {
	limiters map[string]*rate.Limiter
	mu       sync.RWMutex
	rate     rate.Limit // tells per second
	burst    int
}

// NewRateLimiter creates a limiter allowing tellsPerSecond per caller
// with the given burst. tellsPerSecond <= 0 disables limiting.
func NewRateLimiter(tellsPerSecond float64, burst int) *RateLimiter {
	return &RateLimiter{
		limiters: make(map[string]*rate.Limiter),
		rate:     rate.Limit(tellsPerSecond),
		burst:    burst,
	}
}

func (r *RateLimiter) getLimiter(key string) *rate.Limiter {
	r.mu.RLock()
	limiter, exists := r.limiters[key]
	r.mu.RUnlock()

	if exists {
		return limiter
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	// Double-check after acquiring write lock
	if limiter, exists = r.limiters[key]; exists {
		return limiter
	}

	limiter = rate.NewLimiter(r.rate, r.burst)
	r.limiters[key] = limiter
	return limiter
}

// Allow reports whether the caller may send a tell right now.
func (r *RateLimiter) Allow(key string) bool {
	if r == nil || r.rate <= 0 {
		return true
	}
	return r.getLimiter(key).Allow()
}

// Package ratelimit implements the per-token token bucket described in
// spec.md §4.8, backed by golang.org/x/time/rate's elapsed-refill
// algorithm, with an idle-GC'd registry bounding memory under churn.
package ratelimit

import (
	"math"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// counter pairs a token bucket with the last time it was observed, so the
// maintenance loop can evict idle entries.
type counter struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// Registry holds one token bucket per observed token, created lazily.
type Registry struct {
	mu       sync.Mutex
	maxRPS   float64
	counters map[string]*counter
}

// NewRegistry returns a Registry admitting up to maxRPS requests per
// second per token. A maxRPS of 0 disables rate limiting: Allow always
// admits.
func NewRegistry(maxRPS float64) *Registry {
	return &Registry{maxRPS: maxRPS, counters: map[string]*counter{}}
}

// Allow records an observation of token at time now and reports whether it
// is within the allowance. When the registry's maxRPS is 0, it always
// admits (rate limiting disabled).
func (r *Registry) Allow(token string, now time.Time) bool {
	if r.maxRPS <= 0 {
		return true
	}

	r.mu.Lock()
	c, ok := r.counters[token]
	if !ok {
		burst := int(math.Ceil(r.maxRPS))
		if burst < 1 {
			burst = 1
		}
		c = &counter{limiter: rate.NewLimiter(rate.Limit(r.maxRPS), burst)}
		r.counters[token] = c
	}
	c.lastSeen = now
	limiter := c.limiter
	r.mu.Unlock()

	return limiter.AllowN(now, 1)
}

// GC removes counters whose last observation is older than idleAfter,
// matching the maintenance loop's GC of stale rate counters. It returns
// the number of entries removed.
func (r *Registry) GC(now time.Time, idleAfter time.Duration) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	removed := 0
	for token, c := range r.counters {
		if now.Sub(c.lastSeen) > idleAfter {
			delete(r.counters, token)
			removed++
		}
	}
	return removed
}

// Len reports the number of tokens currently tracked.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.counters)
}

// Package ratelimit throttles dispatches with one token bucket per key.
package ratelimit

import (
	"sync"
	"time"
)

// Limiter implements token bucket rate limiting per key. The zero rate
// disables limiting.
type Limiter struct {
	mu      sync.Mutex
	rate    float64 // tokens per second
	burst   float64
	now     func() time.Time
	buckets map[string]*bucket
}

type bucket struct {
	tokens   float64
	lastFill time.Time
}

// Option configures a Limiter.
type Option func(*Limiter)

// WithBurst sets the bucket capacity. It defaults to the rate.
func WithBurst(n int) Option {
	return func(l *Limiter) {
		if n > 0 {
			l.burst = float64(n)
		}
	}
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(l *Limiter) { l.now = now }
}

// New creates a limiter allowing perSecond calls per key.
func New(perSecond float64, opts ...Option) *Limiter {
	l := &Limiter{
		rate:    perSecond,
		burst:   perSecond,
		now:     time.Now,
		buckets: make(map[string]*bucket),
	}
	for _, opt := range opts {
		opt(l)
	}
	if l.burst < 1 {
		l.burst = 1
	}
	return l
}

// Allow consumes a token for key and reports whether the call may proceed.
func (l *Limiter) Allow(key string) bool {
	if l == nil || l.rate <= 0 {
		return true
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	b, ok := l.buckets[key]
	if !ok {
		b = &bucket{tokens: l.burst, lastFill: now} // start full
		l.buckets[key] = b
	}

	b.tokens += now.Sub(b.lastFill).Seconds() * l.rate
	if b.tokens > l.burst {
		b.tokens = l.burst
	}
	b.lastFill = now

	if b.tokens >= 1 {
		b.tokens--
		return true
	}
	return false
}

// Forget drops the bucket of key, e.g. when its webhook is deleted.
func (l *Limiter) Forget(key string) {
	if l == nil {
		return
	}
	l.mu.Lock()
	delete(l.buckets, key)
	l.mu.Unlock()
}

// Len returns the number of tracked keys.
func (l *Limiter) Len() int {
	if l == nil {
		return 0
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.buckets)
}

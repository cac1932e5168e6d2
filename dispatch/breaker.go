package dispatch

import (
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2/expirable"
)

// Breaker defaults.
const (
	DefaultMaxConsecutiveErrors = 10
	DefaultErrorCooldown        = time.Minute
	breakerCapacity             = 10_000
)

// breaker counts consecutive failures per webhook. A webhook whose count
// reaches the threshold is skipped until its entry expires, cooldown after
// the last failure.
type breaker struct {
	mu        sync.Mutex
	threshold int
	failures  *lru.LRU[string, int]
}

func newBreaker(threshold int, cooldown time.Duration) *breaker {
	if threshold <= 0 {
		return nil
	}
	return &breaker{
		threshold: threshold,
		failures:  lru.NewLRU[string, int](breakerCapacity, nil, cooldown),
	}
}

// open reports whether calls to key are suspended.
func (b *breaker) open(key string) bool {
	if b == nil {
		return false
	}
	n, ok := b.failures.Get(key)
	return ok && n >= b.threshold
}

// failure records a failed call and reports whether it tripped the breaker.
func (b *breaker) failure(key string) bool {
	if b == nil {
		return false
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	n, _ := b.failures.Get(key)
	n++
	b.failures.Add(key, n)
	return n == b.threshold
}

// success clears the failure count of key.
func (b *breaker) success(key string) {
	if b == nil {
		return
	}
	b.failures.Remove(key)
}

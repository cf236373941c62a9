package ratelimit

import (
	"sync"
	"time"
)

// Limiter is a sliding-window per-key rate limiter.
type Limiter struct {
	mu      sync.Mutex
	hits    map[string][]time.Time
	window  time.Duration
	maxHits int
}

func NewLimiter(window time.Duration, maxHits int) *Limiter {
	return &Limiter{
		hits:    make(map[string][]time.Time),
		window:  window,
		maxHits: maxHits,
	}
}

// Allow records a hit for the key and reports whether it stays within the
// configured window budget.
func (l *Limiter) Allow(key string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := time.Now()
	windowStart := now.Add(-l.window)

	// Drop entries that aged out of the window
	if hits, exists := l.hits[key]; exists {
		valid := hits[:0]
		for _, hit := range hits {
			if hit.After(windowStart) {
				valid = append(valid, hit)
			}
		}
		l.hits[key] = valid
	}

	if len(l.hits[key]) >= l.maxHits {
		return false
	}

	l.hits[key] = append(l.hits[key], now)
	return true
}

// Remaining returns how many hits the key has left in the current window.
func (l *Limiter) Remaining(key string) int {
	l.mu.Lock()
	defer l.mu.Unlock()

	windowStart := time.Now().Add(-l.window)
	count := 0
	for _, hit := range l.hits[key] {
		if hit.After(windowStart) {
			count++
		}
	}
	if count >= l.maxHits {
		return 0
	}
	return l.maxHits - count
}

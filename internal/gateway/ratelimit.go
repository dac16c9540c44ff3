package gateway

import (
	"sync"
	"time"
)

// maxTrackedKeys caps tracked rate-limit keys so rotating source addresses
// cannot exhaust memory.
const maxTrackedKeys = 4096

const rateLimitWindow = 60 * time.Second

type rateLimitEntry struct {
	windowStart time.Time
	count       int
}

// RateLimiter is a fixed-window per-key limiter. rpm <= 0 disables it.
type RateLimiter struct {
	mu      sync.Mutex
	rpm     int
	entries map[string]*rateLimitEntry
}

func NewRateLimiter(rpm int) *RateLimiter {
	return &RateLimiter{rpm: rpm, entries: make(map[string]*rateLimitEntry)}
}

func (r *RateLimiter) Enabled() bool { return r.rpm > 0 }

// Allow reports whether the key is within its window budget.
func (r *RateLimiter) Allow(key string) bool {
	if !r.Enabled() {
		return true
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	now := time.Now()
	if len(r.entries) >= maxTrackedKeys {
		for k, e := range r.entries {
			if now.Sub(e.windowStart) >= rateLimitWindow {
				delete(r.entries, k)
			}
		}
		for len(r.entries) >= maxTrackedKeys {
			for k := range r.entries {
				delete(r.entries, k)
				break
			}
		}
	}

	e, ok := r.entries[key]
	if !ok || now.Sub(e.windowStart) >= rateLimitWindow {
		r.entries[key] = &rateLimitEntry{windowStart: now, count: 1}
		return true
	}
	if e.count >= r.rpm {
		return false
	}
	e.count++
	return true
}

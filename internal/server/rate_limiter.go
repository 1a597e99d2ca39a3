// Package server implements a token bucket that throttles inbound frames per
// connection.
package server

import (
	"sync"
	"time"
)

// frameLimiter is a token bucket refilled continuously at capacity tokens per
// interval.
type frameLimiter struct {
	mu        sync.Mutex
	tokens    float64
	capacity  float64
	rate      float64 // tokens per second
	lastCheck time.Time
	now       func() time.Time
}

func newFrameLimiter(cfg RateLimitConfig) *frameLimiter {
	return newFrameLimiterWithClock(cfg, time.Now)
}

func newFrameLimiterWithClock(cfg RateLimitConfig, now func() time.Time) *frameLimiter {
	capacity := cfg.Burst
	if capacity <= 0 {
		capacity = 1
	}
	interval := cfg.RefillInterval
	if interval <= 0 {
		interval = time.Second
	}

	return &frameLimiter{
		tokens:    float64(capacity),
		capacity:  float64(capacity),
		rate:      float64(capacity) / interval.Seconds(),
		lastCheck: now(),
		now:       now,
	}
}

// allow takes one token if available.
func (l *frameLimiter) allow() bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	if elapsed := now.Sub(l.lastCheck).Seconds(); elapsed > 0 {
		l.tokens = min(l.capacity, l.tokens+elapsed*l.rate)
	}
	l.lastCheck = now

	if l.tokens < 1 {
		return false
	}

	l.tokens--
	return true
}

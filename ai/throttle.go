// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

package ai

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Throttle limits generation requests per dietitian
type Throttle struct {
	limiters map[string]*rate.Limiter
	mu       sync.Mutex
	every    time.Duration
	burst    int
}

// NewThrottle allows burst requests at once, refilling one per every
func NewThrottle(every time.Duration, burst int) *Throttle {
	return &Throttle{
		limiters: make(map[string]*rate.Limiter),
		every:    every,
		burst:    burst,
	}
}

// Allow reports whether the dietitian may start a generation now
func (t *Throttle) Allow(dietitianID string) bool {
	t.mu.Lock()
	limiter, ok := t.limiters[dietitianID]
	if !ok {
		limiter = rate.NewLimiter(rate.Every(t.every), t.burst)
		t.limiters[dietitianID] = limiter
	}
	t.mu.Unlock()

	return limiter.Allow()
}

// Cleanup forgets limiters that have refilled completely
func (t *Throttle) Cleanup() {
	t.mu.Lock()
	defer t.mu.Unlock()

	for id, l := range t.limiters {
		if l.Tokens() >= float64(t.burst) {
			delete(t.limiters, id)
		}
	}
}

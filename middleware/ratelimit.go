// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

package middleware

import (
	"log/slog"
	"net/http"
	"strconv"
	"sync"
	"time"
)

// window is one key's counter for the current period
type window struct {
	start time.Time
	count int
}

// FixedWindowLimiter allows limit requests per key in each window.
// Counts live in process memory, so each instance limits independently.
type FixedWindowLimiter struct {
	mu      sync.Mutex
	limit   int
	period  time.Duration
	windows map[string]*window
	now     func() time.Time
}

// NewFixedWindowLimiter creates a limiter of limit requests per period
func NewFixedWindowLimiter(limit int, period time.Duration) *FixedWindowLimiter {
	return &FixedWindowLimiter{
		limit:   limit,
		period:  period,
		windows: make(map[string]*window),
		now:     time.Now,
	}
}

// Allow counts one request for key. When the key is over its limit it
// returns false and how long until the window resets.
func (l *FixedWindowLimiter) Allow(key string) (bool, time.Duration) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	w, ok := l.windows[key]
	if !ok || now.Sub(w.start) >= l.period {
		l.windows[key] = &window{start: now, count: 1}
		return true, 0
	}

	if w.count >= l.limit {
		return false, w.start.Add(l.period).Sub(now)
	}
	w.count++
	return true, 0
}

// Sweep drops windows that have elapsed and returns how many were removed
func (l *FixedWindowLimiter) Sweep() int {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	removed := 0
	for key, w := range l.windows {
		if now.Sub(w.start) >= l.period {
			delete(l.windows, key)
			removed++
		}
	}
	return removed
}

// Len is the number of tracked keys
func (l *FixedWindowLimiter) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.windows)
}

// RateLimit limits requests per client IP
func RateLimit(l *FixedWindowLimiter) func(http.HandlerFunc) http.HandlerFunc {
	return func(next http.HandlerFunc) http.HandlerFunc {
		return func(w http.ResponseWriter, r *http.Request) {
			ip := GetClientIP(r)
			ok, retryAfter := l.Allow(ip)
			if !ok {
				// Round up so clients never retry early
				secs := int((retryAfter + time.Second - 1) / time.Second)
				slog.Warn("rate limit exceeded", "path", r.URL.Path, "retry_after_s", secs)
				rateLimited.WithLabelValues(r.URL.Path).Inc()

				w.Header().Set("Retry-After", strconv.Itoa(secs))
				ErrorResponse(w, http.StatusTooManyRequests, "Too many attempts, please try again later")
				return
			}
			next(w, r)
		}
	}
}

package api

import (
	"context"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/ashureev/curriculum-designer/internal/identity"
)

// RateLimiter is a per-user sliding-window limiter for generation requests.
// Keys are usernames rather than session IDs so signing in again does not
// reset the window.
type RateLimiter struct {
	mu       sync.Mutex
	requests map[string][]time.Time
	limit    int
	window   time.Duration
	now      func() time.Time
}

// NewRateLimiter creates a limiter allowing limit requests per window.
// Call Run to evict idle keys.
func NewRateLimiter(limit int, window time.Duration) *RateLimiter {
	return &RateLimiter{
		requests: make(map[string][]time.Time),
		limit:    limit,
		window:   window,
		now:      time.Now,
	}
}

// Allow records a request for key and reports whether it is within the limit.
func (r *RateLimiter) Allow(key string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	recent := r.recentLocked(key, now)
	if len(recent) >= r.limit {
		r.requests[key] = recent
		return false
	}

	r.requests[key] = append(recent, now)
	return true
}

func (r *RateLimiter) recentLocked(key string, now time.Time) []time.Time {
	cutoff := now.Add(-r.window)
	var recent []time.Time
	for _, t := range r.requests[key] {
		if t.After(cutoff) {
			recent = append(recent, t)
		}
	}
	return recent
}

// Run evicts keys with no recent requests once per window until ctx is done.
func (r *RateLimiter) Run(ctx context.Context) error {
	ticker := time.NewTicker(r.window)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			r.evict()
		}
	}
}

func (r *RateLimiter) evict() {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	for key := range r.requests {
		fresh := r.recentLocked(key, now)
		if len(fresh) == 0 {
			delete(r.requests, key)
		} else {
			r.requests[key] = fresh
		}
	}
}

func (r *RateLimiter) keys() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.requests)
}

// Middleware rejects requests over the limit with 429. Signed-in requests are
// keyed by username, anonymous ones by client IP.
func (r *RateLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		key := "ip:" + identity.IPFromRequest(req)
		if sess := identity.SessionFromContext(req.Context()); sess != nil {
			key = "user:" + sess.Username
		}
		if !r.Allow(key) {
			w.Header().Set("Retry-After", strconv.Itoa(int(r.window.Seconds())))
			p := Classify(ErrRateLimited)
			JSON(w, p.Status, p)
			return
		}
		next.ServeHTTP(w, req)
	})
}

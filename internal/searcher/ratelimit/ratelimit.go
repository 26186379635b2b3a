// Package ratelimit throttles search requests per client so one caller
// cannot start an unbounded number of merge sessions across the peers.
package ratelimit

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"
)

// entry tracks the token-bucket state for a single key.
type entry struct {
	tokens    float64
	lastCheck time.Time
}

// Limiter implements an in-memory token-bucket rate limiter.
// Tokens refill at a rate of (limit / window) per second.
type Limiter struct {
	mu      sync.Mutex
	entries map[string]*entry
	limit   int
	window  time.Duration
	now     func() time.Time
}

// New creates a limiter granting limit requests per window to every key.
func New(limit int, window time.Duration) *Limiter {
	return &Limiter{
		entries: make(map[string]*entry),
		limit:   limit,
		window:  window,
		now:     time.Now,
	}
}

// Allow consumes one token of key and reports whether one was available.
func (l *Limiter) Allow(key string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	e, exists := l.entries[key]
	if !exists {
		l.entries[key] = &entry{
			tokens:    float64(l.limit - 1),
			lastCheck: now,
		}
		return l.limit > 0
	}

	elapsed := now.Sub(e.lastCheck)
	e.lastCheck = now

	rate := float64(l.limit) / l.window.Seconds()
	e.tokens += elapsed.Seconds() * rate
	if e.tokens > float64(l.limit) {
		e.tokens = float64(l.limit)
	}

	if e.tokens < 1 {
		return false
	}

	e.tokens--
	return true
}

// Reset clears the rate-limit state for a specific key.
func (l *Limiter) Reset(key string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.entries, key)
}

// Len is the number of tracked keys.
func (l *Limiter) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries)
}

// Cleanup drops idle keys every interval until ctx is done.
func (l *Limiter) Cleanup(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			l.sweep()
		}
	}
}

func (l *Limiter) sweep() {
	l.mu.Lock()
	defer l.mu.Unlock()
	cutoff := l.now().Add(-2 * l.window)
	for key, e := range l.entries {
		if e.lastCheck.Before(cutoff) {
			delete(l.entries, key)
		}
	}
}

// Middleware rejects requests under prefix with 429 once the client has
// spent its tokens. Other paths pass through.
func Middleware(l *Limiter, prefix string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !strings.HasPrefix(r.URL.Path, prefix) {
				next.ServeHTTP(w, r)
				return
			}
			if !l.Allow(ClientKey(r)) {
				w.Header().Set("Retry-After", strconv.Itoa(int(l.window.Seconds())+1))
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusTooManyRequests)
				json.NewEncoder(w).Encode(map[string]string{"error": "rate limit exceeded"})
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// ClientKey identifies the caller: the first X-Forwarded-For hop, else the
// remote host.
func ClientKey(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		first, _, _ := strings.Cut(fwd, ",")
		return strings.TrimSpace(first)
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

package middleware

import (
	"encoding/json"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/dukerupert/starjar/internal/auth"
)

// RealIP extracts the client's real IP address, preferring Cloudflare's
// CF-Connecting-IP header, then X-Forwarded-For, and falling back to RemoteAddr.
func RealIP(r *http.Request) string {
	if ip := r.Header.Get("CF-Connecting-IP"); ip != "" {
		return ip
	}
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		if i := strings.IndexByte(xff, ','); i > 0 {
			return strings.TrimSpace(xff[:i])
		}
		return strings.TrimSpace(xff)
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// ParentPINKey scopes wrong-PIN counting to one account and one child, so a
// lockout on one profile does not touch the others.
func ParentPINKey(r *http.Request) string {
	return "pin:" + strconv.FormatInt(auth.UserID(r.Context()), 10) + ":" + r.PathValue("id")
}

type counter struct {
	hits    int
	resetAt time.Time
}

// RateLimiter counts hits per key inside fixed windows. The login throttle
// counts every attempt; the parent PIN guard counts only rejected PINs.
type RateLimiter struct {
	mu      sync.Mutex
	now     func() time.Time
	entries map[string]*counter
}

func NewRateLimiter() *RateLimiter {
	return &RateLimiter{
		now:     time.Now,
		entries: make(map[string]*counter),
	}
}

// current returns the live counter for key, or nil. mu must be held.
func (rl *RateLimiter) current(key string) *counter {
	c, ok := rl.entries[key]
	if !ok {
		return nil
	}
	if !rl.now().Before(c.resetAt) {
		delete(rl.entries, key)
		return nil
	}
	return c
}

// Hit records one hit and returns the count in the current window.
func (rl *RateLimiter) Hit(key string, window time.Duration) int {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	c := rl.current(key)
	if c == nil {
		c = &counter{resetAt: rl.now().Add(window)}
		rl.entries[key] = c
	}
	c.hits++
	return c.hits
}

// Allow records a hit and reports whether key is still within limit.
func (rl *RateLimiter) Allow(key string, limit int, window time.Duration) bool {
	return rl.Hit(key, window) <= limit
}

// Blocked reports whether key has reached limit without recording a hit.
// When blocked it also returns the time left in the window.
func (rl *RateLimiter) Blocked(key string, limit int) (bool, time.Duration) {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	c := rl.current(key)
	if c == nil || c.hits < limit {
		return false, 0
	}
	return true, c.resetAt.Sub(rl.now())
}

// Reset forgets key.
func (rl *RateLimiter) Reset(key string) {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	delete(rl.entries, key)
}

// Cleanup removes expired entries.
func (rl *RateLimiter) Cleanup() {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	for key, c := range rl.entries {
		if !now.Before(c.resetAt) {
			delete(rl.entries, key)
		}
	}
}

// Len returns the number of tracked keys.
func (rl *RateLimiter) Len() int {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	return len(rl.entries)
}

// RateLimit throttles every request by key, for endpoints such as login
// where each attempt counts.
func RateLimit(limiter *RateLimiter, keyFunc func(*http.Request) string, limit int, window time.Duration) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !limiter.Allow(keyFunc(r), limit, window) {
				tooMany(w, window, "too many requests")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// ParentPINGuard locks a parent route after limit rejected PINs within
// window. A 403 from the wrapped handler counts as a rejected PIN; any 2xx
// clears the count. Once locked, requests are refused before the PIN is
// checked.
func ParentPINGuard(limiter *RateLimiter, limit int, window time.Duration) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := ParentPINKey(r)
			if blocked, left := limiter.Blocked(key, limit); blocked {
				tooMany(w, left, "too many incorrect PIN attempts")
				return
			}

			rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(rec, r)

			switch {
			case rec.status == http.StatusForbidden:
				limiter.Hit(key, window)
			case rec.status >= 200 && rec.status < 300:
				limiter.Reset(key)
			}
		})
	}
}

func tooMany(w http.ResponseWriter, retryAfter time.Duration, msg string) {
	secs := int(retryAfter.Round(time.Second) / time.Second)
	if secs < 1 {
		secs = 1
	}
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Retry-After", strconv.Itoa(secs))
	w.WriteHeader(http.StatusTooManyRequests)
	json.NewEncoder(w).Encode(map[string]string{"error": msg})
}

package httpx

import (
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// RateLimiter is a per-process token bucket per caller: limit requests per
// window with bursts up to limit. Used when no Redis is configured.
type RateLimiter struct {
	every  rate.Limit
	burst  int
	window time.Duration

	mu      sync.Mutex
	callers map[string]*caller
	swept   time.Time
}

type caller struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

func NewRateLimiter(limit int, window time.Duration) *RateLimiter {
	if limit <= 0 {
		limit = 60
	}
	if window <= 0 {
		window = time.Minute
	}
	return &RateLimiter{
		every:   rate.Every(window / time.Duration(limit)),
		burst:   limit,
		window:  window,
		callers: map[string]*caller{},
	}
}

func (rl *RateLimiter) Middleware() Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !rl.allow(clientKey(r), time.Now()) {
				w.Header().Set("Retry-After", strconv.Itoa(int(rl.window.Seconds())))
				Reject(w, http.StatusTooManyRequests, "rate limit exceeded")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func (rl *RateLimiter) allow(key string, now time.Time) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	// Callers idle for a full window hold a full bucket again and can be dropped.
	if now.Sub(rl.swept) > rl.window {
		for k, c := range rl.callers {
			if now.Sub(c.lastSeen) > rl.window {
				delete(rl.callers, k)
			}
		}
		rl.swept = now
	}

	c := rl.callers[key]
	if c == nil {
		c = &caller{limiter: rate.NewLimiter(rl.every, rl.burst)}
		rl.callers[key] = c
	}
	c.lastSeen = now
	return c.limiter.AllowN(now, 1)
}

// clientKey prefers the authenticated user so clients behind one NAT do not share a budget.
func clientKey(r *http.Request) string {
	if user := strings.TrimSpace(r.Header.Get(UserIDHeader)); user != "" {
		return "user:" + user
	}
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		first, _, _ := strings.Cut(fwd, ",")
		return "ip:" + strings.TrimSpace(first)
	}
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return "ip:" + host
	}
	return "ip:" + r.RemoteAddr
}

package httpx

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisRateLimiter is a fixed-window limiter shared by every booking-service replica.
type RedisRateLimiter struct {
	rdb    redis.Scripter
	limit  int
	window time.Duration
	prefix string
}

// INCR then PEXPIRE on the first hit of a window; returns the hit count.
var fixedWindow = redis.NewScript(`
local current = redis.call("INCR", KEYS[1])
if current == 1 then
  redis.call("PEXPIRE", KEYS[1], ARGV[1])
end
return current
`)

func NewRedisRateLimiter(rdb redis.Scripter, limit int, window time.Duration, prefix string) *RedisRateLimiter {
	if limit <= 0 {
		limit = 60
	}
	if window <= 0 {
		window = time.Minute
	}
	if prefix = strings.TrimSpace(prefix); prefix == "" {
		prefix = "rl"
	}
	return &RedisRateLimiter{rdb: rdb, limit: limit, window: window, prefix: prefix}
}

// Middleware rejects with 429 once a key exceeds its window budget. When
// Redis is unreachable the request passes if failOpen, else gets 503.
func (rl *RedisRateLimiter) Middleware(logger *slog.Logger, failOpen bool) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			count, err := rl.hit(r.Context(), rl.prefix+":"+clientKey(r))
			switch {
			case err != nil:
				if logger != nil {
					logger.Warn("redis rate limiter error", "err", err)
				}
				if !failOpen {
					Reject(w, http.StatusServiceUnavailable, "rate limiter unavailable")
					return
				}
			case count > int64(rl.limit):
				w.Header().Set("Retry-After", strconv.Itoa(int(rl.window.Seconds())))
				Reject(w, http.StatusTooManyRequests, "rate limit exceeded")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func (rl *RedisRateLimiter) hit(ctx context.Context, key string) (int64, error) {
	return fixedWindow.Run(ctx, rl.rdb, []string{key}, rl.window.Milliseconds()).Int64()
}

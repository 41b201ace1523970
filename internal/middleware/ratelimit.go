package middleware

import (
	"cmp"
	"fmt"
	"log/slog"
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/redis/go-redis/v9"

	"github.com/iliyamo/cinema-seat-hold/internal/config"
)

// tokenBucket credits refill tokens for every whole interval since the
// bucket was last touched, spends one and replies
// {allowed, remaining, retry_after_ms}. The bucket hash carries "t" (tokens)
// and "at" (the instant the last credited interval ended).
var tokenBucket = redis.NewScript(`
local now, cap, per, every, ttl = tonumber(ARGV[1]), tonumber(ARGV[2]), tonumber(ARGV[3]), tonumber(ARGV[4]), tonumber(ARGV[5])
local b = redis.call('HMGET', KEYS[1], 't', 'at')
local t, at = tonumber(b[1]) or cap, tonumber(b[2]) or now

if every > 0 and per > 0 and now > at then
  local n = math.floor((now - at) / every)
  t = math.min(cap, t + n * per)
  at = at + n * every
end

local ok, wait = 0, 0
if t >= 1 then
  ok, t = 1, t - 1
else
  wait = math.max(0, every - (now - at))
end

redis.call('HSET', KEYS[1], 't', t, 'at', at)
redis.call('EXPIRE', KEYS[1], ttl)
return {ok, t, wait}
`)

func passThrough(next echo.HandlerFunc) echo.HandlerFunc { return next }

// NewTokenBucket limits hold and booking calls per ip, session and route
// with a token bucket kept in Redis. Redis errors fail open.
func NewTokenBucket(cfg config.RateLimitConfig, rdb *redis.Client, logger *slog.Logger) echo.MiddlewareFunc {
	if !cfg.Enabled || rdb == nil {
		return passThrough
	}
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "ratelimit")

	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			key := buildRateKey(cfg, c)
			now := time.Now()

			args := []any{
				now.UnixMilli(),
				cfg.Capacity,
				cfg.RefillTokens,
				cfg.RefillInterval.Milliseconds(),
				int64(cfg.TTL / time.Second),
			}

			ctx := c.Request().Context()
			vals, err := tokenBucket.Run(ctx, rdb, []string{key}, args...).Result()
			if err != nil {
				logger.Warn("redis error, allowing request", "key", key, "err", err)
				return next(c)
			}

			arr, ok := vals.([]any)
			if !ok || len(arr) != 3 {
				logger.Warn("unexpected script result", "key", key, "result", fmt.Sprintf("%#v", vals))
				return next(c)
			}
			allowed := asInt64(arr[0]) == 1
			remaining := asInt64(arr[1])
			retryMs := asInt64(arr[2])

			c.Response().Header().Set("X-RateLimit-Limit", strconv.Itoa(cfg.Capacity))
			c.Response().Header().Set("X-RateLimit-Remaining", strconv.FormatInt(remaining, 10))

			if !allowed {
				secs := max(int(math.Ceil(float64(retryMs)/1000.0)), 0)
				c.Response().Header().Set("Retry-After", strconv.Itoa(secs))
				if cfg.Debug {
					logger.Info("blocked", "key", key, "remaining", remaining, "retry_ms", retryMs)
				}
				return c.JSON(http.StatusTooManyRequests, echo.Map{
					"error":       "too_many_requests",
					"message":     "rate limit exceeded",
					"retry_after": secs,
				})
			}

			if cfg.Debug {
				c.Response().Header().Set("X-RateLimit-Key", key)
			}
			return next(c)
		}
	}
}

func asInt64(v any) int64 {
	switch t := v.(type) {
	case int64:
		return t
	case int:
		return int64(t)
	case float64:
		return int64(t)
	case string:
		n, _ := strconv.ParseInt(t, 10, 64)
		return n
	}
	return 0
}

// rateKeyParts lists, per key strategy, which request attributes make up a
// bucket key. Unknown strategies use every attribute.
var rateKeyParts = map[string][]string{
	"ip":            {"ip"},
	"session":       {"session"},
	"route":         {"route"},
	"ip_session":    {"ip", "session"},
	"ip_route":      {"ip", "route"},
	"session_route": {"session", "route"},
}

func buildRateKey(cfg config.RateLimitConfig, c echo.Context) string {
	attrs := map[string]string{
		"ip":      cmp.Or(c.RealIP(), "unknown"),
		"session": cmp.Or(SessionID(c), "anon"),
		"route":   c.Request().Method + " " + c.Path(),
	}
	names, ok := rateKeyParts[strings.ToLower(cfg.KeyStrategy)]
	if !ok {
		names = []string{"ip", "session", "route"}
	}
	parts := []string{cfg.Prefix}
	for _, n := range names {
		parts = append(parts, n, attrs[n])
	}
	return strings.Join(parts, ":")
}

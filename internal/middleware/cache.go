package middleware

import (
	"context"
	"crypto/sha1"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/redis/go-redis/v9"

	"github.com/iliyamo/cinema-seat-hold/internal/config"
)

// ResponseCache stores GET responses in Redis keyed by request path, so
// entries for one screening can be purged when its seats change.
type ResponseCache struct {
	cfg config.CacheConfig
	rdb *redis.Client
	log *slog.Logger
}

// NewResponseCache returns a cache; with caching disabled or no Redis
// client its middleware is a pass-through and Purge does nothing.
func NewResponseCache(cfg config.CacheConfig, rdb *redis.Client, logger *slog.Logger) *ResponseCache {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.TTL <= 0 {
		cfg.TTL = 30 * time.Second
	}
	return &ResponseCache{cfg: cfg, rdb: rdb, log: logger.With("component", "cache")}
}

func (rc *ResponseCache) enabled() bool { return rc.cfg.Enabled && rc.rdb != nil }

func (rc *ResponseCache) key(path, rawQuery string) string {
	sum := sha1.Sum([]byte(rawQuery))
	return fmt.Sprintf("%s:%s:%x", rc.cfg.Prefix, path, sum[:8])
}

// Middleware serves cached 200 responses and records fresh ones.
func (rc *ResponseCache) Middleware() echo.MiddlewareFunc {
	if !rc.enabled() {
		return passThrough
	}
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			r := c.Request()
			if r.Method != http.MethodGet {
				return next(c)
			}
			key := rc.key(r.URL.Path, r.URL.RawQuery)

			if raw, err := rc.rdb.Get(r.Context(), key).Bytes(); err == nil {
				if cached, ok := decodePayload(raw); ok {
					return cached.replay(c.Response())
				}
			}

			rec := &bodyRecorder{ResponseWriter: c.Response().Writer, status: http.StatusOK, max: rc.cfg.MaxBodyBytes}
			c.Response().Writer = rec
			c.Response().Header().Set("X-Cache", "MISS")
			if err := next(c); err != nil {
				return err
			}
			if rec.status != http.StatusOK || rec.overflow {
				return nil
			}
			header := c.Response().Header().Clone()
			header.Del("X-Cache")
			header.Del(echo.HeaderContentLength)
			payload, err := encodePayload(cachedResponse{Status: rec.status, Header: header, Body: rec.body})
			if err != nil {
				return nil
			}
			if err := rc.rdb.SetEx(context.WithoutCancel(r.Context()), key, payload, rc.cfg.TTL).Err(); err != nil {
				rc.log.Warn("cache store failed", "key", key, "err", err)
			}
			return nil
		}
	}
}

// Purge drops every cached response for path, whatever its query string.
func (rc *ResponseCache) Purge(ctx context.Context, path string) {
	if !rc.enabled() {
		return
	}
	iter := rc.rdb.Scan(ctx, 0, rc.cfg.Prefix+":"+path+":*", 100).Iterator()
	var keys []string
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		rc.log.Warn("cache purge scan failed", "path", path, "err", err)
		return
	}
	if len(keys) > 0 {
		if err := rc.rdb.Del(ctx, keys...).Err(); err != nil {
			rc.log.Warn("cache purge failed", "path", path, "err", err)
		}
	}
}

// bodyRecorder keeps a copy of what the handler writes, giving up once the
// body grows past max (0 means unbounded).
type bodyRecorder struct {
	http.ResponseWriter
	status   int
	body     []byte
	max      int
	overflow bool
}

func (b *bodyRecorder) WriteHeader(code int) {
	b.status = code
	b.ResponseWriter.WriteHeader(code)
}

func (b *bodyRecorder) Write(p []byte) (int, error) {
	if !b.overflow {
		if b.max > 0 && len(b.body)+len(p) > b.max {
			b.overflow, b.body = true, nil
		} else {
			b.body = append(b.body, p...)
		}
	}
	return b.ResponseWriter.Write(p)
}

type cachedResponse struct {
	Status int         `json:"s"`
	Header http.Header `json:"h"`
	Body   []byte      `json:"b"`
}

func (cr cachedResponse) replay(res *echo.Response) error {
	for k, vals := range cr.Header {
		for _, v := range vals {
			res.Header().Add(k, v)
		}
	}
	res.Header().Set("X-Cache", "HIT")
	res.WriteHeader(cr.Status)
	_, err := res.Write(cr.Body)
	return err
}

func encodePayload(cr cachedResponse) ([]byte, error) { return json.Marshal(cr) }

func decodePayload(raw []byte) (cachedResponse, bool) {
	var cr cachedResponse
	if err := json.Unmarshal(raw, &cr); err != nil || cr.Status == 0 {
		return cachedResponse{}, false
	}
	return cr, true
}

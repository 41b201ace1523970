package middleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iliyamo/cinema-seat-hold/internal/config"
	"github.com/iliyamo/cinema-seat-hold/internal/utils"
)

func serve(e *echo.Echo, req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	return rec
}

func echoSession(e *echo.Echo) {
	e.GET("/whoami", func(c echo.Context) error { return c.String(http.StatusOK, SessionID(c)) })
}

func TestSessionIdentityFromToken(t *testing.T) {
	e := echo.New()
	e.Use(SessionIdentity("k"))
	echoSession(e)

	tok, err := utils.NewSessionToken("k", "tab-1", time.Hour, time.Now())
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodGet, "/whoami", nil)
	req.Header.Set(echo.HeaderAuthorization, "Bearer "+tok.Token)
	req.Header.Set(HeaderSessionID, "spoofed")

	rec := serve(e, req)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "tab-1", rec.Body.String())
}

func TestSessionIdentityHeaderFallback(t *testing.T) {
	e := echo.New()
	e.Use(SessionIdentity("k"))
	echoSession(e)

	req := httptest.NewRequest(http.MethodGet, "/whoami", nil)
	req.Header.Set(HeaderSessionID, " tab-2 ")
	assert.Equal(t, "tab-2", serve(e, req).Body.String())

	assert.Equal(t, "", serve(e, httptest.NewRequest(http.MethodGet, "/whoami", nil)).Body.String())
}

func TestSessionIdentityRejectsBadToken(t *testing.T) {
	e := echo.New()
	e.Use(SessionIdentity("k"))
	echoSession(e)

	req := httptest.NewRequest(http.MethodGet, "/whoami", nil)
	req.Header.Set(echo.HeaderAuthorization, "Bearer not-a-jwt")
	rec := serve(e, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.JSONEq(t, `{"error":"invalid session token"}`, rec.Body.String())
}

func TestRateKeyStrategies(t *testing.T) {
	e := echo.New()
	req := httptest.NewRequest(http.MethodPost, "/v1/screenings/4/seats/9/hold", nil)
	req.Header.Set(echo.HeaderXRealIP, "10.0.0.7")
	c := e.NewContext(req, httptest.NewRecorder())
	c.SetPath("/v1/screenings/:id/seats/:seatId/hold")
	c.Set(sessionKey, "tab-1")

	cfg := config.RateLimitConfig{Prefix: "rl"}
	assert.Equal(t, "rl:ip:10.0.0.7:session:tab-1:route:POST /v1/screenings/:id/seats/:seatId/hold", buildRateKey(cfg, c))
	cfg.KeyStrategy = "session"
	assert.Equal(t, "rl:session:tab-1", buildRateKey(cfg, c))
	cfg.KeyStrategy = "ip"
	assert.Equal(t, "rl:ip:10.0.0.7", buildRateKey(cfg, c))
}

func TestDisabledMiddlewaresPassThrough(t *testing.T) {
	e := echo.New()
	cache := NewResponseCache(config.CacheConfig{Enabled: true}, nil, nil)
	e.Use(NewTokenBucket(config.RateLimitConfig{Enabled: true}, nil, nil), cache.Middleware())
	e.GET("/ping", func(c echo.Context) error { return c.String(http.StatusOK, "pong") })

	rec := serve(e, httptest.NewRequest(http.MethodGet, "/ping", nil))
	assert.Equal(t, "pong", rec.Body.String())
	assert.Empty(t, rec.Header().Get("X-Cache"))
	cache.Purge(context.Background(), "/ping")
}

func TestPayloadRoundTrip(t *testing.T) {
	in := cachedResponse{
		Status: http.StatusOK,
		Header: http.Header{"Content-Type": {"application/json"}},
		Body:   []byte(`{"ok":true}`),
	}
	raw, err := encodePayload(in)
	require.NoError(t, err)

	got, ok := decodePayload(raw)
	require.True(t, ok)
	assert.Equal(t, http.StatusOK, got.Status)
	assert.Equal(t, "application/json", got.Header.Get("Content-Type"))
	assert.Equal(t, `{"ok":true}`, string(got.Body))

	_, ok = decodePayload(raw[:5])
	assert.False(t, ok)
}

func TestReplayMarksHit(t *testing.T) {
	e := echo.New()
	rec := httptest.NewRecorder()
	c := e.NewContext(httptest.NewRequest(http.MethodGet, "/", nil), rec)

	cr := cachedResponse{Status: http.StatusOK, Header: http.Header{"Content-Type": {"text/plain"}}, Body: []byte("hi")}
	require.NoError(t, cr.replay(c.Response()))
	assert.Equal(t, "HIT", rec.Header().Get("X-Cache"))
	assert.Equal(t, "text/plain", rec.Header().Get("Content-Type"))
	assert.Equal(t, "hi", rec.Body.String())
}

func TestCacheKeysArePathScoped(t *testing.T) {
	rc := NewResponseCache(config.CacheConfig{Prefix: "cache"}, nil, nil)
	a := rc.key("/v1/screenings/1/layout", "")
	b := rc.key("/v1/screenings/2/layout", "")
	assert.NotEqual(t, a, b)
	assert.Contains(t, a, "cache:/v1/screenings/1/layout:")
}

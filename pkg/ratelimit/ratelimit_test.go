package ratelimit_test

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zepph7/christmas-surprise/pkg/ratelimit"
)

func unreachableRedis() *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:        "127.0.0.1:1",
		DialTimeout: 100 * time.Millisecond,
		MaxRetries:  -1,
	})
}

func TestRedisStoreFailOpen(t *testing.T) {
	store := ratelimit.NewRedisLimitStore(ratelimit.RedisLimiterConfig{
		RedisClient: unreachableRedis(),
		LimiterKey:  "submit",
		PerMinute:   1,
		FailOpen:    true,
	})
	allowed, err := store.Allow("session-1")
	assert.Error(t, err)
	assert.True(t, allowed)
}

func TestRedisStoreFailClosed(t *testing.T) {
	store := ratelimit.NewRedisLimitStore(ratelimit.RedisLimiterConfig{
		RedisClient: unreachableRedis(),
		LimiterKey:  "submit",
		PerMinute:   1,
		FailOpen:    false,
	})
	allowed, err := store.Allow("session-1")
	assert.Error(t, err)
	assert.False(t, allowed)
}

func TestMiddlewareMemoryStore(t *testing.T) {
	opts := ratelimit.Options{
		PerMinute: 2,
		Identifier: func(c echo.Context) (string, error) {
			return c.Request().Header.Get("X-Session"), nil
		},
	}
	e := echo.New()
	e.Use(middleware.RateLimiterWithConfig(ratelimit.MiddlewareConfig(ratelimit.NewStore(opts), opts)))
	e.POST("/api/submit", func(c echo.Context) error { return c.NoContent(http.StatusOK) })

	do := func(session string) int {
		req := httptest.NewRequest(http.MethodPost, "/api/submit", nil)
		req.Header.Set("X-Session", session)
		rec := httptest.NewRecorder()
		e.ServeHTTP(rec, req)
		return rec.Code
	}

	require.Equal(t, http.StatusOK, do("a"))
	require.Equal(t, http.StatusOK, do("a"))
	assert.Equal(t, http.StatusTooManyRequests, do("a"))
	assert.Equal(t, http.StatusOK, do("b"), "limits are per identifier")
}

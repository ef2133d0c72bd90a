package ratelimit

import (
	"net"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/redis/go-redis/v9"
	"golang.org/x/time/rate"

	"github.com/zepph7/christmas-surprise/pkg/logger"
)

type Options struct {
	// RedisHost switches from the in-process store to redis when set ("host" or "host:port").
	RedisHost  string
	LimiterKey string
	PerMinute  int64
	FailOpen   bool
	// Identifier picks the rate-limited subject, e.g. the session id.
	Identifier func(c echo.Context) (string, error)
	// Skipper limits the middleware to some requests; nil limits everything.
	Skipper middleware.Skipper
}

// NewStore builds the redis store when a host is configured, otherwise echo's memory store.
func NewStore(opts Options) middleware.RateLimiterStore {
	if opts.RedisHost == "" {
		logger.Info("Rate limiting %d submissions per minute in memory", opts.PerMinute)
		return middleware.NewRateLimiterMemoryStoreWithConfig(middleware.RateLimiterMemoryStoreConfig{
			Rate:  rate.Limit(float64(opts.PerMinute) / 60),
			Burst: int(opts.PerMinute),
		})
	}

	addr := opts.RedisHost
	if _, _, err := net.SplitHostPort(addr); err != nil {
		addr += ":6379"
	}
	logger.Info("Rate limiting %d submissions per minute via redis at %s", opts.PerMinute, addr)
	rdb := redis.NewClient(&redis.Options{Addr: addr})
	return NewRedisLimitStore(RedisLimiterConfig{
		RedisClient: rdb,
		LimiterKey:  opts.LimiterKey,
		PerMinute:   opts.PerMinute,
		FailOpen:    opts.FailOpen,
	})
}

func MiddlewareConfig(store middleware.RateLimiterStore, opts Options) middleware.RateLimiterConfig {
	skipper := opts.Skipper
	if skipper == nil {
		skipper = middleware.DefaultSkipper
	}
	identifier := opts.Identifier
	if identifier == nil {
		identifier = func(c echo.Context) (string, error) {
			return c.RealIP(), nil
		}
	}
	return middleware.RateLimiterConfig{
		Skipper:             skipper,
		Store:               store,
		IdentifierExtractor: identifier,
		ErrorHandler: func(c echo.Context, err error) error {
			return echo.NewHTTPError(http.StatusForbidden, "could not identify the client")
		},
		DenyHandler: func(c echo.Context, identifier string, err error) error {
			if err != nil {
				logger.Warn("Rate limiter store failed for %s: %v", identifier, err)
			}
			return echo.NewHTTPError(http.StatusTooManyRequests, "Too many requests, please wait a minute and try again")
		},
	}
}

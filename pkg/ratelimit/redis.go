package ratelimit

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

const keyPrefix = "christmas-ratelimit-"

// RedisLimiterStore is a fixed one minute window counter shared by every replica.
type RedisLimiterStore struct {
	db         *redis.Client
	limiterKey string
	perMinute  int64
	failOpen   bool
	timeout    time.Duration
}

type RedisLimiterConfig struct {
	RedisClient *redis.Client
	LimiterKey  string
	PerMinute   int64
	FailOpen    bool
}

func NewRedisLimitStore(config RedisLimiterConfig) *RedisLimiterStore {
	return &RedisLimiterStore{
		db:         config.RedisClient,
		limiterKey: config.LimiterKey,
		perMinute:  config.PerMinute,
		failOpen:   config.FailOpen,
		timeout:    2 * time.Second,
	}
}

// Allow implements echo's RateLimiterStore. When redis is unreachable the answer is the configured
// fail-open value together with the error.
func (store *RedisLimiterStore) Allow(identifier string) (bool, error) {
	// Concurrent callers racing on a fresh key may let a few extra requests through.
	ctx, cancel := context.WithTimeout(context.Background(), store.timeout)
	defer cancel()

	key := keyPrefix + store.limiterKey + "-" + identifier

	left, err := store.db.Get(ctx, key).Result()
	switch {
	case err == nil:
		n, err := strconv.ParseInt(left, 10, 64)
		if err != nil {
			return store.failOpen, err
		}
		if n <= 0 {
			return false, nil
		}
	case errors.Is(err, redis.Nil):
		if err := store.db.Set(ctx, key, store.perMinute, time.Minute).Err(); err != nil {
			return store.failOpen, err
		}
	default:
		return store.failOpen, err
	}

	if err := store.db.Decr(ctx, key).Err(); err != nil {
		return store.failOpen, err
	}
	return true, nil
}

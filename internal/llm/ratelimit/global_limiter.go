package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	llmerrors "github.com/ahrav/go-charstates/internal/llm/errors"
)

// Redis configuration constants.
const (
	// RedisReadTimeoutSeconds bounds a Redis read.
	RedisReadTimeoutSeconds = 5

	// RedisWriteTimeoutSeconds bounds a Redis write.
	RedisWriteTimeoutSeconds = 5

	// RedisPoolSize is the Redis connection pool size.
	RedisPoolSize = 10

	// MillisecondsPerSecond converts the script window to Redis PX units.
	MillisecondsPerSecond = 1000

	// MinRetryAfterSeconds is the smallest Retry-After reported on refusal.
	MinRetryAfterSeconds = 1

	// MaxRetryAfterSecondsPerHour caps a Retry-After derived from a stale TTL.
	MaxRetryAfterSecondsPerHour = 3600

	// DefaultInitialInterval is used when Redis returns no usable TTL.
	DefaultInitialInterval = 1 * time.Second
)

// fixedWindowScript counts requests in a one-second window. It returns
// {1, remaining} when allowed and {0, ttl_ms} when the window is full.
var fixedWindowScript = redis.NewScript(`
	local key = KEYS[1]
	local window = tonumber(ARGV[1])
	local limit = tonumber(ARGV[2])

	local current = redis.call('GET', key)
	if current == false then
		redis.call('SET', key, 1, 'PX', window)
		return {1, limit - 1}
	end

	local count = tonumber(current)
	if count < limit then
		local newCount = redis.call('INCR', key)
		if redis.call('PTTL', key) == -1 then
			redis.call('PEXPIRE', key, window)
		end
		return {1, limit - newCount}
	end

	return {0, redis.call('PTTL', key)}
`)

// checkGlobalLimit enforces the shared fixed window. Unparseable script
// output switches the middleware to degraded mode instead of failing.
func checkGlobalLimit(ctx context.Context, r *Limiter, key string) error {
	if r.globalClient == nil {
		return nil
	}
	limit := int64(r.config.Global.RequestsPerSecond)
	if limit == 0 {
		return nil
	}

	globalKey := fmt.Sprintf("charstates:rl:%s", key)
	result, err := fixedWindowScript.Run(ctx, r.globalClient, []string{globalKey}, int64(MillisecondsPerSecond), limit).Result()
	if err != nil {
		return fmt.Errorf("global rate limit check failed: %w", err)
	}

	res, ok := result.([]any)
	if !ok || len(res) < 2 {
		r.logger.Warn("invalid Redis response format, switching to degraded mode", "response", result)
		r.degraded.Store(true)
		return nil
	}
	allowed, ok := res[0].(int64)
	if !ok {
		r.logger.Warn("invalid Redis allowed value, switching to degraded mode", "allowed", res[0])
		r.degraded.Store(true)
		return nil
	}
	if allowed == 1 {
		return nil
	}

	retryAfterMs, ok := res[1].(int64)
	if !ok || retryAfterMs <= 0 {
		retryAfterMs = int64(DefaultInitialInterval / time.Millisecond)
	}
	retryAfterSecs := int(retryAfterMs / MillisecondsPerSecond)
	retryAfterSecs = max(retryAfterSecs, MinRetryAfterSeconds)
	retryAfterSecs = min(retryAfterSecs, MaxRetryAfterSecondsPerHour)

	return &llmerrors.RateLimitError{
		Provider:   "global",
		Limit:      int(limit),
		RetryAfter: retryAfterSecs,
	}
}

// newRedisClient builds the client for the global layer.
func newRedisClient(cfg GlobalConfig) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:         cfg.RedisAddr,
		Password:     cfg.RedisPassword,
		DB:           cfg.RedisDB,
		DialTimeout:  cfg.ConnectTimeout,
		ReadTimeout:  RedisReadTimeoutSeconds * time.Second,
		WriteTimeout: RedisWriteTimeoutSeconds * time.Second,
		PoolSize:     RedisPoolSize,
	})
}

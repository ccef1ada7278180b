package service

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

// slidingWindowScript keeps one sorted-set member per accepted request and
// returns {allowed, resetAtUnix}.
var slidingWindowScript = redis.NewScript(`
local key = KEYS[1]
local now = tonumber(ARGV[1])
local window = tonumber(ARGV[2])
local limit = tonumber(ARGV[3])

redis.call('ZREMRANGEBYSCORE', key, '-inf', now - window)

if redis.call('ZCARD', key) >= limit then
    local oldest = redis.call('ZRANGE', key, 0, 0, 'WITHSCORES')
    if #oldest >= 2 then
        return {0, tonumber(oldest[2]) + window}
    end
    return {0, now + window}
end

redis.call('ZADD', key, now, now .. '-' .. math.random())
redis.call('EXPIRE', key, window + 10)
return {1, now + window}
`)

// Limiter is the shape shared by the Redis and in-memory limiters.
type Limiter interface {
	CheckLimit(ctx context.Context, key string, limit int, window time.Duration) (allowed bool, resetAt time.Time)
}

// RateLimiter is a Redis sliding-window limiter shared by every instance.
type RateLimiter struct {
	client   *redis.Client
	fallback Limiter
}

// NewRateLimiter creates a limiter. When Redis cannot be reached the request
// is judged by fallback, or denied if fallback is nil.
func NewRateLimiter(client *redis.Client, fallback Limiter) *RateLimiter {
	return &RateLimiter{client: client, fallback: fallback}
}

func (rl *RateLimiter) CheckLimit(
	ctx context.Context,
	key string,
	limit int,
	window time.Duration,
) (allowed bool, resetAt time.Time) {
	now := time.Now()

	result, err := slidingWindowScript.Run(
		ctx,
		rl.client,
		[]string{fmt.Sprintf("ratelimit:%s", key)},
		now.Unix(),
		int64(window.Seconds()),
		limit,
	).Int64Slice()

	if err == nil && len(result) != 2 {
		err = fmt.Errorf("unexpected script result length %d", len(result))
	}
	if err != nil {
		if rl.fallback != nil {
			log.Warn().Err(err).Str("key", key).Msg("redis rate limit unavailable, using local limiter")
			return rl.fallback.CheckLimit(ctx, key, limit, window)
		}
		log.Warn().Err(err).Str("key", key).Msg("rate limit check failed, denying request")
		return false, now.Add(window)
	}

	return result[0] == 1, time.Unix(result[1], 0)
}

package service

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"github.com/hologram-chat/rendezvous-server/internal/clock"
)

const rateLimitPrefix = "ratelimit:"

// slidingWindowScript keeps one sorted-set member per admitted attempt,
// scored by its unix time. ARGV[4] names the attempt. It answers
// {allowed, resetAt}.
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

redis.call('ZADD', key, now, ARGV[4])
redis.call('EXPIRE', key, window + 10)
return {1, now + window}
`)

// RateLimiter counts logon attempts per remote host across every
// instance that shares the Redis. It lets attempts through while Redis
// cannot be reached.
type RateLimiter struct {
	client redis.Scripter
	clock  clock.Clock
}

func NewRateLimiter(client redis.Scripter) *RateLimiter {
	return &RateLimiter{client: client, clock: clock.Real()}
}

// CheckLimit admits one attempt under key unless limit attempts were
// already admitted within window. resetAt is when the oldest of them
// leaves the window.
func (rl *RateLimiter) CheckLimit(ctx context.Context, key string, limit int, window time.Duration) (allowed bool, resetAt time.Time) {
	now := rl.clock.Now()

	result, err := slidingWindowScript.Run(ctx, rl.client,
		[]string{rateLimitPrefix + key},
		now.Unix(), int64(window.Seconds()), limit, uuid.NewString(),
	).Int64Slice()
	if err != nil {
		log.Warn().Err(err).Str("key", key).Msg("rate limit check failed, letting the attempt through")
		return true, now.Add(window)
	}
	if len(result) != 2 {
		log.Warn().Str("key", key).Ints64("result", result).Msg("unexpected rate limit result, letting the attempt through")
		return true, now.Add(window)
	}

	return result[0] == 1, time.Unix(result[1], 0)
}

package middleware

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// slidingWindowScript prunes, counts and conditionally records in one round
// trip so concurrent gateway replicas see a consistent window. Scores are
// unix milliseconds. Returns {allowed, count, oldest}.
var slidingWindowScript = redis.NewScript(`
local key    = KEYS[1]
local now    = tonumber(ARGV[1])
local window = tonumber(ARGV[2])
local limit  = tonumber(ARGV[3])
local member = ARGV[4]

redis.call('ZREMRANGEBYSCORE', key, '-inf', now - window)
local count = redis.call('ZCARD', key)
local allowed = 0
if count < limit then
  redis.call('ZADD', key, now, member)
  redis.call('PEXPIRE', key, window)
  count = count + 1
  allowed = 1
end

local oldest = now
local first = redis.call('ZRANGE', key, 0, 0, 'WITHSCORES')
if first[2] then
  oldest = tonumber(first[2])
end
return {allowed, count, oldest}
`)

// RedisRateLimiter keeps the sliding window in a Redis sorted set per client,
// for deployments running more than one gateway replica.
type RedisRateLimiter struct {
	rdb    redis.Scripter
	prefix string
	limit  int
	window time.Duration
	now    func() time.Time
}

// RedisRateLimiterOption configures a RedisRateLimiter.
type RedisRateLimiterOption func(*RedisRateLimiter)

// WithRedisPrefix sets the key prefix (default "contact:ratelimit").
func WithRedisPrefix(prefix string) RedisRateLimiterOption {
	return func(r *RedisRateLimiter) { r.prefix = strings.Trim(prefix, ":") }
}

// WithRedisClock replaces time.Now, for tests.
func WithRedisClock(now func() time.Time) RedisRateLimiterOption {
	return func(r *RedisRateLimiter) { r.now = now }
}

// NewRedisRateLimiter creates a Redis-backed sliding window limiter.
func NewRedisRateLimiter(rdb redis.Scripter, limit int, window time.Duration, opts ...RedisRateLimiterOption) *RedisRateLimiter {
	r := &RedisRateLimiter{
		rdb:    rdb,
		prefix: "contact:ratelimit",
		limit:  limit,
		window: window,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Check implements Limiter.
func (r *RedisRateLimiter) Check(ctx context.Context, key string) (Decision, error) {
	now := r.now()
	nowMs := now.UnixMilli()
	member := fmt.Sprintf("%d-%s", nowMs, uuid.NewString())

	res, err := slidingWindowScript.Run(ctx, r.rdb,
		[]string{r.prefix + ":" + key},
		nowMs, r.window.Milliseconds(), r.limit, member,
	).Int64Slice()
	if err != nil {
		return Decision{}, fmt.Errorf("failed to evaluate rate limit script: %w", err)
	}
	if len(res) != 3 {
		return Decision{}, fmt.Errorf("unexpected rate limit script reply: %v", res)
	}

	count := int(res[1])
	remaining := r.limit - count
	if remaining < 0 {
		remaining = 0
	}
	return Decision{
		Allowed:   res[0] == 1,
		Limit:     r.limit,
		Remaining: remaining,
		ResetAt:   time.UnixMilli(res[2]).Add(r.window),
	}, nil
}

package ratelimit

import (
	"context"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

// slidingWindow trims expired entries, checks the count against the limit,
// and records the request, all in one atomic script. Members are request
// timestamps at microsecond precision, so two requests landing in the same
// microsecond share a member and the second consumes no slot; that minor
// variance is acceptable for API throttling.
//
// KEYS[1] = sorted set for this rule/key pair
// ARGV[1] = now (microseconds), ARGV[2] = window (microseconds), ARGV[3] = limit
// Returns {allowed, used, reset_at_micros}.
var slidingWindow = redis.NewScript(`
local key = KEYS[1]
local now = tonumber(ARGV[1])
local window = tonumber(ARGV[2])
local limit = tonumber(ARGV[3])

redis.call('ZREMRANGEBYSCORE', key, '-inf', now - window)
local count = redis.call('ZCARD', key)
if count >= limit then
  local reset = now + window
  local oldest = redis.call('ZRANGE', key, 0, 0, 'WITHSCORES')
  if oldest[2] then
    reset = tonumber(oldest[2]) + window
  end
  return {0, count, reset}
end

redis.call('ZADD', key, now, tostring(now))
redis.call('PEXPIRE', key, math.floor(window / 1000) + 60000)
return {1, count + 1, now + window}
`)

// RedisLimiter implements Limiter with a sliding-window counter in Redis,
// giving limits that hold across server replicas.
type RedisLimiter struct {
	client *redis.Client
	logger *slog.Logger
}

// New creates a Redis-backed limiter. A nil client puts the limiter in noop
// mode where every request is allowed, which lets deployments without Redis
// run unchanged.
func New(client *redis.Client, logger *slog.Logger) *RedisLimiter {
	return &RedisLimiter{client: client, logger: logger}
}

// Allow records a request under the rule's window and reports whether it may
// proceed. Redis errors fail open.
func (l *RedisLimiter) Allow(ctx context.Context, rule Rule, key string) Result {
	now := time.Now()
	open := Result{
		Allowed:   true,
		Limit:     rule.Limit,
		Remaining: rule.Limit,
		ResetAt:   now.Add(rule.Window),
	}
	if l.client == nil {
		return open
	}

	redisKey := "ratelimit:" + rule.Prefix + ":" + key
	raw, err := slidingWindow.Run(ctx, l.client, []string{redisKey},
		now.UnixMicro(), rule.Window.Microseconds(), rule.Limit).Result()
	if err != nil {
		l.logger.Warn("ratelimit: redis check failed, failing open", "error", err)
		return open
	}

	vals, ok := raw.([]interface{})
	if !ok || len(vals) != 3 {
		l.logger.Warn("ratelimit: unexpected script result, failing open", "result", raw)
		return open
	}
	allowed, _ := vals[0].(int64)
	used, _ := vals[1].(int64)
	resetMicros, _ := vals[2].(int64)

	remaining := rule.Limit - int(used)
	if remaining < 0 {
		remaining = 0
	}
	return Result{
		Allowed:   allowed == 1,
		Limit:     rule.Limit,
		Remaining: remaining,
		ResetAt:   time.UnixMicro(resetMicros),
	}
}

// Close closes the underlying Redis client.
func (l *RedisLimiter) Close() error {
	if l.client == nil {
		return nil
	}
	return l.client.Close()
}

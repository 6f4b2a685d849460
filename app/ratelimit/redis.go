package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const defaultKeyPrefix = "credentials:ratelimit:"

// The first hit of a window sets its expiry; later hits only increment.
const fixedWindowLua = `
local count = redis.call("INCR", KEYS[1])
if count == 1 then
  redis.call("PEXPIRE", KEYS[1], ARGV[1])
end
local ttl = redis.call("PTTL", KEYS[1])
if ttl < 0 then
  redis.call("PEXPIRE", KEYS[1], ARGV[1])
  ttl = tonumber(ARGV[1])
end
return {count, ttl}
`

type RedisLimiter struct {
	rdb    redis.Scripter
	prefix string
	limit  int
	window time.Duration
	script *redis.Script
}

func NewRedisLimiter(rdb redis.Scripter, prefix string, limit int, window time.Duration) *RedisLimiter {
	if prefix == "" {
		prefix = defaultKeyPrefix
	}
	return &RedisLimiter{
		rdb:    rdb,
		prefix: prefix,
		limit:  limit,
		window: window,
		script: redis.NewScript(fixedWindowLua),
	}
}

func (l *RedisLimiter) Allow(ctx context.Context, key string) (Result, error) {
	res, err := l.script.Run(ctx, l.rdb, []string{l.prefix + key}, l.window.Milliseconds()).Int64Slice()
	if err != nil {
		return Result{}, fmt.Errorf("ratelimit eval: %w", err)
	}
	if len(res) != 2 {
		return Result{}, fmt.Errorf("ratelimit invalid result")
	}

	return newResult(l.limit, res[0], time.Duration(res[1])*time.Millisecond), nil
}

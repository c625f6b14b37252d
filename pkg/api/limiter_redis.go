package api

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// redisTokenBucketScript runs the token bucket atomically.
// KEYS[1] = bucket key
// ARGV[1] = refill rate (tokens per second)
// ARGV[2] = capacity
// ARGV[3] = cost
// ARGV[4] = now (unix seconds, microsecond precision)
var redisTokenBucketScript = redis.NewScript(`
local key = KEYS[1]
local rate = tonumber(ARGV[1])
local capacity = tonumber(ARGV[2])
local cost = tonumber(ARGV[3])
local now = tonumber(ARGV[4])

local state = redis.call("HMGET", key, "tokens", "last_refill")
local tokens = tonumber(state[1])
local last_refill = tonumber(state[2])

if not tokens or not last_refill then
    tokens = capacity
    last_refill = now
end

local elapsed = now - last_refill
if elapsed > 0 then
    tokens = math.min(capacity, tokens + elapsed * rate)
    last_refill = now
end

local allowed = 0
if tokens >= cost then
    tokens = tokens - cost
    allowed = 1
end

redis.call("HSET", key, "tokens", tokens, "last_refill", last_refill)
redis.call("EXPIRE", key, math.ceil(capacity / rate) + 1)

return allowed
`)

// RedisLimiterStore shares buckets between replicas through Redis.
type RedisLimiterStore struct {
	client redis.Scripter
	prefix string
	now    func() time.Time
}

// NewRedisLimiterStore connects to addr.
func NewRedisLimiterStore(addr, password string, db int) *RedisLimiterStore {
	return NewRedisLimiterStoreWithClient(redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	}))
}

// NewRedisLimiterStoreWithClient wraps an existing client.
func NewRedisLimiterStoreWithClient(client redis.Scripter) *RedisLimiterStore {
	return &RedisLimiterStore{client: client, prefix: "postactiond:ratelimit:", now: time.Now}
}

func (s *RedisLimiterStore) Allow(ctx context.Context, key string, policy RatePolicy) (bool, error) {
	rps := policy.RPS
	if rps <= 0 {
		rps = 1
	}
	now := float64(s.now().UnixMicro()) / 1e6

	allowed, err := redisTokenBucketScript.Run(ctx, s.client, []string{s.prefix + key}, rps, policy.Burst, 1, now).Int64()
	if err != nil {
		return false, fmt.Errorf("redis limiter: %w", err)
	}
	return allowed == 1, nil
}

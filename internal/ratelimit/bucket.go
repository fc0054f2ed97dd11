// Package ratelimit implements distributed admission control on a shared
// Redis counter store. All state lives in Redis and every decision is a
// single atomic Lua round trip, so multiple server instances sharing the
// store enforce one combined ceiling without coordinating with each other.
package ratelimit

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

// Policy is the bucket shape applied to one identity scope. FailOpen marks
// a ceiling as non-security-critical: if the counter store is unreachable
// the request is admitted instead of denied.
type Policy struct {
	Capacity   int
	RefillRate float64 // tokens per second
	FailOpen   bool
}

// Lua script for an atomic token bucket. State is a hash {tokens, ts}.
// 1. Refill tokens for the elapsed time since the last call, capped at capacity
// 2. If enough tokens remain, consume the cost and allow
// 3. Persist the new state with a TTL of two full refill periods
var tokenBucketScript = redis.NewScript(`
local key = KEYS[1]
local capacity = tonumber(ARGV[1])
local rate = tonumber(ARGV[2])
local now = tonumber(ARGV[3])
local cost = tonumber(ARGV[4])

local state = redis.call('HMGET', key, 'tokens', 'ts')
local tokens = tonumber(state[1])
local ts = tonumber(state[2])

if tokens == nil or ts == nil then
    tokens = capacity
    ts = now
end

-- Refill for the elapsed interval (now and ts are in milliseconds)
local elapsed = now - ts
if elapsed > 0 then
    tokens = math.min(capacity, tokens + (elapsed / 1000) * rate)
end

local allowed = 0
if tokens >= cost then
    tokens = tokens - cost
    allowed = 1
end

redis.call('HSET', key, 'tokens', tokens, 'ts', now)
redis.call('EXPIRE', key, math.max(1, math.ceil(capacity / rate) * 2))

return allowed
`)

// Limiter is a distributed token bucket keyed by caller identity.
type Limiter struct {
	client       *redis.Client
	logger       *slog.Logger
	script       *redis.Script
	storeTimeout time.Duration
}

func NewLimiter(client *redis.Client, logger *slog.Logger) *Limiter {
	return &Limiter{
		client:       client,
		logger:       logger,
		script:       tokenBucketScript,
		storeTimeout: 250 * time.Millisecond,
	}
}

// TryConsume atomically takes cost tokens from the bucket for key. It never
// reads then writes: the refill-and-compare runs as one script so concurrent
// callers across processes cannot race. A store failure denies by default
// (fail-closed); policies with FailOpen set admit instead.
func (l *Limiter) TryConsume(ctx context.Context, key string, cost int, policy Policy) (bool, error) {
	if cost <= 0 {
		cost = 1
	}

	ctx, cancel := context.WithTimeout(ctx, l.storeTimeout)
	defer cancel()

	allowed, err := l.script.Run(ctx, l.client, []string{"rl:" + key},
		policy.Capacity, policy.RefillRate, time.Now().UnixMilli(), cost,
	).Int64()
	if err != nil {
		l.logger.Error("rate limit store unavailable", "key", key, "error", err)
		if policy.FailOpen {
			return true, nil
		}
		return false, fmt.Errorf("rate limit check: %w", err)
	}

	return allowed == 1, nil
}

package worker

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RateLimiter enforces send-rate ceilings with Redis-backed token buckets.
// Two buckets gate every send: a global one for the whole engine and a
// per-contact one so no single recipient is flooded. The check-and-take is
// a Lua script, so concurrent dispatchers never race the GET/SET cycle.
//
// The current time is an argument rather than redis.call("TIME") so tests
// can drive refill deterministically through the injected clock.
type RateLimiter struct {
	redis *redis.Client
	now   func() time.Time

	global  BucketConfig
	contact BucketConfig

	takeScript *redis.Script
}

// BucketConfig sizes one token bucket. RefillPerSec is fractional for
// slow buckets: 0.2 refills one token every five seconds.
type BucketConfig struct {
	Capacity     float64
	RefillPerSec float64
}

// tokenBucketLuaScript refills both buckets from elapsed wall-clock time,
// then takes one token from each only if both have capacity. Taking from
// one bucket but not the other would leak global capacity, so the denial
// path leaves both untouched.
const tokenBucketLuaScript = `
local globalKey = KEYS[1]
local contactKey = KEYS[2]
local now = tonumber(ARGV[1])
local gCap = tonumber(ARGV[2])
local gRefill = tonumber(ARGV[3])
local cCap = tonumber(ARGV[4])
local cRefill = tonumber(ARGV[5])
local ttl = tonumber(ARGV[6])

local function refreshed(key, cap, refill)
    local data = redis.call("HMGET", key, "tokens", "ts")
    local tokens = tonumber(data[1])
    local ts = tonumber(data[2])
    if tokens == nil or ts == nil then
        return cap
    end
    local elapsed = now - ts
    if elapsed < 0 then
        elapsed = 0
    end
    tokens = tokens + elapsed * refill
    if tokens > cap then
        tokens = cap
    end
    return tokens
end

local gTokens = refreshed(globalKey, gCap, gRefill)
local cTokens = refreshed(contactKey, cCap, cRefill)

if gTokens < 1 or cTokens < 1 then
    return {0, tostring(gTokens), tostring(cTokens)}
end

redis.call("HSET", globalKey, "tokens", gTokens - 1, "ts", now)
redis.call("EXPIRE", globalKey, ttl)
redis.call("HSET", contactKey, "tokens", cTokens - 1, "ts", now)
redis.call("EXPIRE", contactKey, ttl)
return {1, tostring(gTokens - 1), tostring(cTokens - 1)}
`

// NewRateLimiter creates a limiter with the given bucket sizes.
func NewRateLimiter(rdb *redis.Client, global, contact BucketConfig) *RateLimiter {
	return &RateLimiter{
		redis:      rdb,
		now:        time.Now,
		global:     global,
		contact:    contact,
		takeScript: redis.NewScript(tokenBucketLuaScript),
	}
}

// WithClock overrides the limiter's time source. Intended for tests.
func (r *RateLimiter) WithClock(now func() time.Time) *RateLimiter {
	r.now = now
	return r
}

// Allow takes one token from the global and the contact bucket. It returns
// false when either bucket is empty; the caller defers the send instead of
// dropping it. Redis being unreachable fails open so an outage of the
// limiter does not halt all sending.
func (r *RateLimiter) Allow(ctx context.Context, contactID string) (bool, error) {
	now := float64(r.now().UnixMilli()) / 1000.0

	keys := []string{"ratelimit:global", "ratelimit:contact:" + contactID}
	args := []interface{}{
		now,
		r.global.Capacity, r.global.RefillPerSec,
		r.contact.Capacity, r.contact.RefillPerSec,
		int(24 * time.Hour / time.Second),
	}

	res, err := r.takeScript.Run(ctx, r.redis, keys, args...).Slice()
	if err != nil {
		return true, fmt.Errorf("rate limit check: %w", err)
	}
	if len(res) == 0 {
		return true, fmt.Errorf("rate limit check: empty script reply")
	}
	allowed, _ := res[0].(int64)
	return allowed == 1, nil
}

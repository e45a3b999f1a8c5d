package redis

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"marketplace-auth/internal/ratelimit"
	"marketplace-auth/internal/util"
)

const rateLimitPrefix = "rate_limit:"

// windowResetScript implements the window-reset counter atomically. The
// first request creates the key with a PX expiry equal to the window; a
// request at the limit is rejected without incrementing.
//
// Returns {allowed, count, pttl}.
const windowResetScript = `
local window = tonumber(ARGV[1])
local limit = tonumber(ARGV[2])

local current = redis.call('GET', KEYS[1])
if not current then
    redis.call('SET', KEYS[1], 1, 'PX', window)
    return {1, 1, window}
end

local ttl = redis.call('PTTL', KEYS[1])
if ttl < 0 then
    redis.call('PEXPIRE', KEYS[1], window)
    ttl = window
end

current = tonumber(current)
if current >= limit then
    return {0, current, ttl}
end

current = redis.call('INCR', KEYS[1])
return {1, current, ttl}
`

// Scripter runs a Lua script. *client.RedisClient satisfies it.
type Scripter interface {
	Eval(ctx context.Context, script string, keys []string, args ...interface{}) (interface{}, error)
	Del(ctx context.Context, keys ...string) error
}

// RateLimitCache shares rate-limit windows between instances through Redis.
type RateLimitCache struct {
	client  Scripter
	now     func() time.Time
	timeout time.Duration
}

var _ ratelimit.Limiter = (*RateLimitCache)(nil)

func NewRateLimitCache(client Scripter) *RateLimitCache {
	return &RateLimitCache{client: client, now: time.Now, timeout: 5 * time.Second}
}

func (c *RateLimitCache) Allow(ctx context.Context, key string, policy ratelimit.Policy) (ratelimit.Decision, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	result, err := c.client.Eval(ctx, windowResetScript, []string{rateLimitPrefix + key},
		policy.Window.Milliseconds(), policy.Max)
	if err != nil {
		util.Error("Failed to execute rate limit script",
			zap.String("key", key),
			zap.String("policy", policy.Name),
			zap.Error(err))
		return ratelimit.Decision{}, fmt.Errorf("failed to execute rate limit script: %w", err)
	}

	d, err := parseWindowResult(result, policy, c.now())
	if err != nil {
		return ratelimit.Decision{}, err
	}

	util.Debug("Rate limit check",
		zap.String("key", key),
		zap.Bool("allowed", d.Allowed),
		zap.Int("remaining", d.Remaining))

	return d, nil
}

func parseWindowResult(result interface{}, policy ratelimit.Policy, now time.Time) (ratelimit.Decision, error) {
	values, ok := result.([]interface{})
	if !ok || len(values) != 3 {
		return ratelimit.Decision{}, fmt.Errorf("unexpected result format from rate limit script")
	}
	nums := make([]int64, 3)
	for i, v := range values {
		n, ok := v.(int64)
		if !ok {
			return ratelimit.Decision{}, fmt.Errorf("unexpected value %v in rate limit result", v)
		}
		nums[i] = n
	}

	ttl := time.Duration(nums[2]) * time.Millisecond
	d := ratelimit.Decision{
		Allowed: nums[0] == 1,
		Limit:   policy.Max,
		ResetAt: now.Add(ttl),
	}
	if d.Allowed {
		d.Remaining = policy.Max - int(nums[1])
	} else {
		d.RetryAfter = ttl
	}
	if d.Remaining < 0 {
		d.Remaining = 0
	}
	return d, nil
}

// ResetCounter deletes the window for key.
func (c *RateLimitCache) ResetCounter(ctx context.Context, key string) error {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	if err := c.client.Del(ctx, rateLimitPrefix+key); err != nil {
		util.Error("Failed to reset rate limit counter",
			zap.String("key", key),
			zap.Error(err))
		return fmt.Errorf("failed to reset rate limit counter: %w", err)
	}
	return nil
}

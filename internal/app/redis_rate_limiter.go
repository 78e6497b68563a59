package app

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const defaultRateLimitPrefix = "linkdrop:rate_limit"

// Sliding log: every attempt is a sorted-set member scored by its arrival
// time in milliseconds. Returns the attempts inside the window and the
// milliseconds until the oldest one leaves it.
var claimAttemptsScript = redis.NewScript(`
local now = tonumber(ARGV[1])
local window = tonumber(ARGV[2])
redis.call("ZREMRANGEBYSCORE", KEYS[1], "-inf", now - window)
redis.call("ZADD", KEYS[1], now, ARGV[3])
redis.call("PEXPIRE", KEYS[1], window)
local attempts = redis.call("ZCARD", KEYS[1])
local oldest = redis.call("ZRANGE", KEYS[1], 0, 0, "WITHSCORES")
local wait = window
if oldest[2] then
  wait = tonumber(oldest[2]) + window - now
end
return {attempts, wait}
`)

// RedisClaimRateLimiter counts claim attempts per credential over a sliding
// window shared by every service instance.
type RedisClaimRateLimiter struct {
	client redis.UniversalClient
	prefix string
	now    func() time.Time
}

// NewRedisClaimRateLimiter keys attempts under prefix, or the default prefix
// when it is blank.
func NewRedisClaimRateLimiter(client redis.UniversalClient, prefix string) *RedisClaimRateLimiter {
	prefix = strings.TrimSuffix(strings.TrimSpace(prefix), ":")
	if prefix == "" {
		prefix = defaultRateLimitPrefix
	}
	return &RedisClaimRateLimiter{client: client, prefix: prefix, now: time.Now}
}

// ConsumeRateLimit records one attempt by subject and reports how many
// attempts fall inside the window, including this one.
func (r *RedisClaimRateLimiter) ConsumeRateLimit(ctx context.Context, scope, subject string, limit int, window time.Duration) (int, int, error) {
	if r == nil || r.client == nil || limit <= 0 || window <= 0 {
		return 0, 0, nil
	}
	scope, subject = strings.TrimSpace(scope), strings.TrimSpace(subject)
	if scope == "" || subject == "" {
		return 0, 0, nil
	}

	windowMs := window.Milliseconds()
	if windowMs < 1000 {
		windowMs = 1000
	}

	res, err := claimAttemptsScript.Run(ctx, r.client,
		[]string{r.key(scope, subject)},
		r.now().UnixMilli(), windowMs, uuid.NewString(),
	).Int64Slice()
	if err != nil {
		return 0, 0, fmt.Errorf("claim rate limiter: %w", err)
	}
	if len(res) != 2 {
		return 0, 0, fmt.Errorf("claim rate limiter: unexpected reply of %d values", len(res))
	}

	attempts, waitMs := res[0], res[1]
	if waitMs <= 0 {
		waitMs = windowMs
	}
	retryAfter := int((waitMs + 999) / 1000)
	return int(attempts), retryAfter, nil
}

func (r *RedisClaimRateLimiter) key(scope, subject string) string {
	return r.prefix + ":" + scope + ":" + subject
}

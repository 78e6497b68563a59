package app

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRedisClaimRateLimiter_KeyPrefix(t *testing.T) {
	tests := []struct {
		prefix string
		want   string
	}{
		{"", "linkdrop:rate_limit:claim:ed25519:abc"},
		{"  ", "linkdrop:rate_limit:claim:ed25519:abc"},
		{"custom:", "custom:claim:ed25519:abc"},
		{"custom", "custom:claim:ed25519:abc"},
	}
	for _, tt := range tests {
		l := NewRedisClaimRateLimiter(nil, tt.prefix)
		assert.Equal(t, tt.want, l.key("claim", "ed25519:abc"))
	}
}

func TestRedisClaimRateLimiter_DisabledWithoutClient(t *testing.T) {
	l := NewRedisClaimRateLimiter(nil, "")
	count, retry, err := l.ConsumeRateLimit(context.Background(), "claim", "ed25519:abc", 10, time.Minute)
	require.NoError(t, err)
	assert.Zero(t, count)
	assert.Zero(t, retry)

	var unset *RedisClaimRateLimiter
	_, _, err = unset.ConsumeRateLimit(context.Background(), "claim", "ed25519:abc", 10, time.Minute)
	assert.NoError(t, err)
}

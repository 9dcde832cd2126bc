package stores

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// ErrBlacklistUnavailable wraps Redis failures of the blacklist.
var ErrBlacklistUnavailable = errors.New("blacklist redis unavailable")

// Blacklist records revoked access-token IDs until the token would have
// expired anyway.
type Blacklist struct {
	redis  redis.UniversalClient
	prefix string
}

func NewBlacklist(redisClient redis.UniversalClient, prefix string) *Blacklist {
	if prefix == "" {
		prefix = "abl"
	}
	return &Blacklist{redis: redisClient, prefix: prefix}
}

// Key returns the Redis key for jti so callers can batch lookups.
func (b *Blacklist) Key(jti string) string {
	return b.prefix + ":" + jti
}

// Add revokes jti until expiresAt. Tokens already past expiry are not
// stored.
func (b *Blacklist) Add(ctx context.Context, jti string, expiresAt time.Time) error {
	if jti == "" {
		return nil
	}
	remaining := time.Until(expiresAt)
	if remaining <= 0 {
		return nil
	}
	if remaining < time.Millisecond {
		remaining = time.Millisecond
	}
	if err := b.redis.Set(ctx, b.Key(jti), "1", remaining).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrBlacklistUnavailable, err)
	}
	return nil
}

// Contains reports whether jti is revoked.
func (b *Blacklist) Contains(ctx context.Context, jti string) (bool, error) {
	n, err := b.redis.Exists(ctx, b.Key(jti)).Result()
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrBlacklistUnavailable, err)
	}
	return n == 1, nil
}

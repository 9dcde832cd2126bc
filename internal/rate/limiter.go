package rate

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

var (
	// ErrRateLimited is returned once a window is exhausted.
	ErrRateLimited = errors.New("rate limited")
	// ErrRedisUnavailable wraps Redis transport failures.
	ErrRedisUnavailable = errors.New("redis unavailable")
)

// Action names a throttled endpoint.
type Action string

const (
	ActionLogin    Action = "login"
	ActionRegister Action = "register"
	ActionForgot   Action = "forgot"
	ActionReset    Action = "reset"
	ActionRefresh  Action = "refresh"
)

// Policy bounds one action. A zero MaxAttempts disables the action's limit.
type Policy struct {
	MaxAttempts int
	Window      time.Duration
	PerIP       bool
}

// Limiter enforces per-identifier and per-IP fixed windows per action.
type Limiter struct {
	redis    redis.UniversalClient
	policies map[Action]Policy
}

// New creates a rate [Limiter] backed by the given Redis client.
func New(redisClient redis.UniversalClient, policies map[Action]Policy) *Limiter {
	copied := make(map[Action]Policy, len(policies))
	for k, v := range policies {
		copied[k] = v
	}
	return &Limiter{
		redis:    redisClient,
		policies: copied,
	}
}

// Allow counts one attempt of action for identifier and ip and fails with
// [ErrRateLimited] once either window is exhausted. Empty identifier or ip
// skip that dimension.
func (l *Limiter) Allow(ctx context.Context, action Action, identifier, ip string) error {
	if l == nil {
		return nil
	}
	policy, ok := l.policies[action]
	if !ok || policy.MaxAttempts <= 0 || policy.Window <= 0 {
		return nil
	}

	if identifier = normalize(identifier); identifier != "" {
		if err := l.hit(ctx, key(action, "id", identifier), policy); err != nil {
			return err
		}
	}
	if policy.PerIP && ip != "" {
		if err := l.hit(ctx, key(action, "ip", ip), policy); err != nil {
			return err
		}
	}
	return nil
}

// Reset clears the identifier window of an action, typically after a
// successful login.
func (l *Limiter) Reset(ctx context.Context, action Action, identifier string) error {
	if l == nil {
		return nil
	}
	identifier = normalize(identifier)
	if identifier == "" {
		return nil
	}
	if err := l.redis.Del(ctx, key(action, "id", identifier)).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return nil
}

// Attempts returns the current count of the identifier window.
func (l *Limiter) Attempts(ctx context.Context, action Action, identifier string) (int, error) {
	count, err := l.redis.Get(ctx, key(action, "id", normalize(identifier))).Int64()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return 0, nil
		}
		return 0, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	if count < 0 {
		return 0, nil
	}
	return int(count), nil
}

func (l *Limiter) hit(ctx context.Context, k string, policy Policy) error {
	count, err := l.incrementWithTTL(ctx, k, policy.Window)
	if err != nil {
		return err
	}
	if count > int64(policy.MaxAttempts) {
		return ErrRateLimited
	}
	return nil
}

func (l *Limiter) incrementWithTTL(ctx context.Context, key string, ttl time.Duration) (int64, error) {
	count, err := l.redis.Incr(ctx, key).Result()
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}

	// Fixed-window semantics: set TTL only for the first hit in the window.
	if count == 1 {
		if err := l.redis.Expire(ctx, key, ttl).Err(); err != nil {
			return 0, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
		}
	}

	return count, nil
}

func normalize(identifier string) string {
	return strings.ToLower(strings.TrimSpace(identifier))
}

func key(action Action, scope, value string) string {
	return "arl:" + string(action) + ":" + scope + ":" + value
}

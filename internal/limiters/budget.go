package limiters

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

var (
	// ErrBudgetExhausted is returned while a subject has no attempts left.
	ErrBudgetExhausted = errors.New("attempt budget exhausted")
	// ErrBudgetUnavailable wraps Redis failures.
	ErrBudgetUnavailable = errors.New("attempt budget unavailable")
)

// BudgetConfig sizes an AttemptBudget. Zero fields take the defaults of
// 5 attempts per minute.
type BudgetConfig struct {
	Prefix      string
	MaxAttempts int
	Window      time.Duration
}

// BudgetState is the counter as seen by one call.
type BudgetState struct {
	Used       int64
	Remaining  int64
	RetryAfter time.Duration
}

// AttemptBudget counts consecutive failures per subject in Redis. The
// window starts at the first failure and is not extended by later ones.
type AttemptBudget struct {
	redis  redis.UniversalClient
	prefix string
	max    int64
	window time.Duration
}

// INCR and the first PEXPIRE run together so a crash between them cannot
// leave a counter without a TTL.
var spendLua = redis.NewScript(`
local n = redis.call("INCR", KEYS[1])
if n == 1 then
	redis.call("PEXPIRE", KEYS[1], ARGV[1])
end
return {n, redis.call("PTTL", KEYS[1])}
`)

func NewAttemptBudget(redisClient redis.UniversalClient, cfg BudgetConfig) *AttemptBudget {
	b := &AttemptBudget{redis: redisClient, prefix: cfg.Prefix, max: int64(cfg.MaxAttempts), window: cfg.Window}
	if b.max <= 0 {
		b.max = 5
	}
	if b.window <= 0 {
		b.window = time.Minute
	}
	return b
}

func (b *AttemptBudget) key(subject string) string { return b.prefix + subject }

func (b *AttemptBudget) state(used int64, pttl int64) BudgetState {
	s := BudgetState{Used: used, Remaining: max(b.max-used, 0)}
	if s.Remaining == 0 && pttl > 0 {
		s.RetryAfter = time.Duration(pttl) * time.Millisecond
	}
	return s
}

// Check reads the counter without spending an attempt.
func (b *AttemptBudget) Check(ctx context.Context, subject string) (BudgetState, error) {
	if b == nil {
		return BudgetState{}, nil
	}
	var get *redis.StringCmd
	var ttl *redis.DurationCmd
	_, err := b.redis.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		get = pipe.Get(ctx, b.key(subject))
		ttl = pipe.PTTL(ctx, b.key(subject))
		return nil
	})
	if err != nil && !errors.Is(err, redis.Nil) {
		return BudgetState{}, fmt.Errorf("%w: %v", ErrBudgetUnavailable, err)
	}
	used, err := get.Int64()
	if errors.Is(err, redis.Nil) {
		return b.state(0, 0), nil
	}
	if err != nil {
		return BudgetState{}, fmt.Errorf("%w: %v", ErrBudgetUnavailable, err)
	}

	s := b.state(used, ttl.Val().Milliseconds())
	if s.Remaining == 0 {
		return s, ErrBudgetExhausted
	}
	return s, nil
}

// Spend records one failure. It returns ErrBudgetExhausted when this
// failure used the last attempt.
func (b *AttemptBudget) Spend(ctx context.Context, subject string) (BudgetState, error) {
	if b == nil {
		return BudgetState{}, nil
	}
	res, err := spendLua.Run(ctx, b.redis, []string{b.key(subject)}, b.window.Milliseconds()).Int64Slice()
	if err != nil || len(res) != 2 {
		return BudgetState{}, fmt.Errorf("%w: %v", ErrBudgetUnavailable, err)
	}
	s := b.state(res[0], res[1])
	if s.Remaining == 0 {
		return s, ErrBudgetExhausted
	}
	return s, nil
}

// Reset clears the counter after a success.
func (b *AttemptBudget) Reset(ctx context.Context, subject string) error {
	if b == nil {
		return nil
	}
	if err := b.redis.Del(ctx, b.key(subject)).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrBudgetUnavailable, err)
	}
	return nil
}

package limiters

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/redis/go-redis/v9"
)

// LockoutConfig holds the progressive lockout policy.
type LockoutConfig struct {
	Enabled    bool
	Threshold  int
	Base       time.Duration
	Multiplier float64
	Window     time.Duration
	Max        time.Duration
}

var (
	// ErrLockoutUnavailable indicates the lockout backend is unreachable.
	ErrLockoutUnavailable = errors.New("lockout backend unavailable")
)

// AttemptStore is the slice of the credential store the guard mutates.
// IncrementFailedLogins must be a single atomic increment that returns the
// post-increment value.
type AttemptStore interface {
	IncrementFailedLogins(ctx context.Context, userID string) (int, error)
	SetLockedUntil(ctx context.Context, userID string, until time.Time) error
	ResetFailedLogins(ctx context.Context, userID string) error
}

// LockoutDecision describes the state after a recorded failure.
type LockoutDecision struct {
	Attempts int
	Locked   bool
	Until    time.Time
	// Escalation is the zero-based count of earlier lockouts inside the
	// window that shaped Until.
	Escalation int
	// EscalationErr is set when the history could not be read and the
	// base duration was used instead.
	EscalationErr error
}

// LoginGuard enforces progressive lockout ahead of credential comparison.
type LoginGuard struct {
	store  AttemptStore
	redis  redis.UniversalClient
	config LockoutConfig
	now    func() time.Time
}

// NewLoginGuard creates a guard over the given attempt store.
func NewLoginGuard(store AttemptStore, redisClient redis.UniversalClient, cfg LockoutConfig) *LoginGuard {
	return &LoginGuard{store: store, redis: redisClient, config: cfg, now: time.Now}
}

func (g *LoginGuard) key(userID string) string {
	return "alk:" + userID
}

// Check reports how long the account stays locked. A zero duration means
// the caller may proceed to credential verification.
func (g *LoginGuard) Check(lockedUntil time.Time) time.Duration {
	if g == nil || !g.config.Enabled || lockedUntil.IsZero() {
		return 0
	}
	remaining := lockedUntil.Sub(g.now())
	if remaining <= 0 {
		return 0
	}
	return remaining
}

// RecordFailure increments the persistent failure counter and locks the
// account once it reaches the threshold. The counter is never reset here.
func (g *LoginGuard) RecordFailure(ctx context.Context, userID string) (LockoutDecision, error) {
	if g == nil || !g.config.Enabled || userID == "" {
		return LockoutDecision{}, nil
	}

	attempts, err := g.store.IncrementFailedLogins(ctx, userID)
	if err != nil {
		return LockoutDecision{}, fmt.Errorf("%w: %v", ErrLockoutUnavailable, err)
	}
	decision := LockoutDecision{Attempts: attempts}
	if attempts < g.config.Threshold {
		return decision, nil
	}

	escalation, escErr := g.nextEscalation(ctx, userID)
	decision.Escalation = escalation
	decision.EscalationErr = escErr
	decision.Locked = true
	decision.Until = g.now().Add(g.Duration(escalation))

	if err := g.store.SetLockedUntil(ctx, userID, decision.Until); err != nil {
		return decision, fmt.Errorf("%w: %v", ErrLockoutUnavailable, err)
	}
	return decision, nil
}

// RecordSuccess resets the failure counter. Escalation history is left to
// expire with its window.
func (g *LoginGuard) RecordSuccess(ctx context.Context, userID string) error {
	if g == nil || !g.config.Enabled || userID == "" {
		return nil
	}
	if err := g.store.ResetFailedLogins(ctx, userID); err != nil {
		return fmt.Errorf("%w: %v", ErrLockoutUnavailable, err)
	}
	return nil
}

// Duration returns the lock length for the given number of earlier
// lockouts: Base * Multiplier^escalation, capped at Max.
func (g *LoginGuard) Duration(escalation int) time.Duration {
	base := g.config.Base
	if base <= 0 {
		return 0
	}
	mult := g.config.Multiplier
	if mult < 1 {
		mult = 1
	}
	limit := g.config.Max
	if limit <= 0 {
		limit = time.Duration(math.MaxInt64)
	}

	d := float64(base) * math.Pow(mult, float64(escalation))
	if math.IsInf(d, 0) || math.IsNaN(d) || d >= float64(limit) {
		return limit
	}
	return time.Duration(d)
}

// Escalation returns how many lockouts are recorded inside the window.
func (g *LoginGuard) Escalation(ctx context.Context, userID string) (int, error) {
	n, err := g.redis.Get(ctx, g.key(userID)).Int()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return 0, nil
		}
		return 0, fmt.Errorf("%w: %v", ErrLockoutUnavailable, err)
	}
	return n, nil
}

func (g *LoginGuard) nextEscalation(ctx context.Context, userID string) (int, error) {
	if g.redis == nil || g.config.Window <= 0 {
		return 0, nil
	}
	key := g.key(userID)
	var incr *redis.IntCmd
	_, err := g.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		incr = pipe.Incr(ctx, key)
		pipe.PExpire(ctx, key, g.config.Window)
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrLockoutUnavailable, err)
	}
	return int(incr.Val()) - 1, nil
}

package authcore

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestLoginSuccessAndGenericFailures(t *testing.T) {
	h := newTestHarness(t, nil)
	ctx := context.Background()
	uid, _ := h.register(t, "alice@example.com", "alice")

	res, err := h.engine.Login(ctx, LoginRequest{Email: "  Alice@Example.com ", Password: testPassword})
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	if res.User.ID != uid || res.Tokens == nil || res.RequiresTwoFactor {
		t.Fatalf("unexpected login result %+v", res)
	}

	if _, err := h.engine.Login(ctx, LoginRequest{Email: "nobody@example.com", Password: testPassword}); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("expected ErrInvalidCredentials for unknown email, got %v", err)
	}
	if _, err := h.engine.Login(ctx, LoginRequest{Email: "alice@example.com", Password: "wrong-password-1"}); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("expected ErrInvalidCredentials for wrong password, got %v", err)
	}
	if _, err := h.engine.Login(ctx, LoginRequest{}); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("expected ErrInvalidCredentials for empty input, got %v", err)
	}
}

func TestLoginLockoutAfterThreshold(t *testing.T) {
	h := newTestHarness(t, func(c *Config) { c.Lockout.Threshold = 3 })
	ctx := context.Background()
	uid, _ := h.register(t, "alice@example.com", "alice")

	wrong := LoginRequest{Email: "alice@example.com", Password: "wrong-password-1"}
	for i := 0; i < 2; i++ {
		if _, err := h.engine.Login(ctx, wrong); !errors.Is(err, ErrInvalidCredentials) {
			t.Fatalf("attempt %d: expected ErrInvalidCredentials, got %v", i+1, err)
		}
	}

	_, err := h.engine.Login(ctx, wrong)
	var locked *LockedError
	if !errors.As(err, &locked) {
		t.Fatalf("third failure must lock the account, got %v", err)
	}
	if !errors.Is(err, ErrAccountLocked) {
		t.Fatal("LockedError must match ErrAccountLocked")
	}
	if locked.RetryAfter <= 14*time.Minute || locked.RetryAfter > 15*time.Minute {
		t.Fatalf("expected ~15m lock, got %v", locked.RetryAfter)
	}

	// The correct password is not even checked while locked.
	if _, err := h.engine.Login(ctx, LoginRequest{Email: "alice@example.com", Password: testPassword}); !errors.As(err, &locked) {
		t.Fatalf("expected locked account to reject the correct password, got %v", err)
	}

	if got := h.users.user(t, uid).FailedLoginAttempts; got != 3 {
		t.Fatalf("expected 3 failed attempts recorded, got %d", got)
	}
	if h.engine.MetricsSnapshot().Counters[MetricLockoutTriggered] != 1 {
		t.Fatal("expected one lockout metric")
	}
}

func TestLoginLockoutEscalates(t *testing.T) {
	h := newTestHarness(t, func(c *Config) { c.Lockout.Threshold = 2 })
	ctx := context.Background()
	uid, _ := h.register(t, "alice@example.com", "alice")
	wrong := LoginRequest{Email: "alice@example.com", Password: "wrong-password-1"}

	_, _ = h.engine.Login(ctx, wrong)
	_, err := h.engine.Login(ctx, wrong)
	var first *LockedError
	if !errors.As(err, &first) {
		t.Fatalf("expected first lock, got %v", err)
	}

	// Let the lock lapse without a successful login.
	if err := h.users.SetLockedUntil(ctx, uid, time.Now().Add(-time.Second)); err != nil {
		t.Fatalf("expire lock: %v", err)
	}

	_, err = h.engine.Login(ctx, wrong)
	var second *LockedError
	if !errors.As(err, &second) {
		t.Fatalf("counter stays at threshold, next failure must relock; got %v", err)
	}
	if second.RetryAfter <= 29*time.Minute || second.RetryAfter > 30*time.Minute {
		t.Fatalf("expected doubled ~30m lock, got %v", second.RetryAfter)
	}
}

func TestLoginSuccessResetsCounter(t *testing.T) {
	h := newTestHarness(t, nil)
	ctx := context.Background()
	uid, _ := h.register(t, "alice@example.com", "alice")

	for i := 0; i < 3; i++ {
		_, _ = h.engine.Login(ctx, LoginRequest{Email: "alice@example.com", Password: "wrong-password-1"})
	}
	if _, err := h.engine.Login(ctx, LoginRequest{Email: "alice@example.com", Password: testPassword}); err != nil {
		t.Fatalf("login: %v", err)
	}
	if got := h.users.user(t, uid).FailedLoginAttempts; got != 0 {
		t.Fatalf("expected counter reset after success, got %d", got)
	}
}

func TestLoginLockoutDisabled(t *testing.T) {
	h := newTestHarness(t, func(c *Config) {
		c.Lockout.Enabled = false
		c.Lockout.Threshold = 1
	})
	ctx := context.Background()
	h.register(t, "alice@example.com", "alice")

	for i := 0; i < 5; i++ {
		if _, err := h.engine.Login(ctx, LoginRequest{Email: "alice@example.com", Password: "wrong-password-1"}); !errors.Is(err, ErrInvalidCredentials) {
			t.Fatalf("attempt %d: expected ErrInvalidCredentials, got %v", i+1, err)
		}
	}
	if _, err := h.engine.Login(ctx, LoginRequest{Email: "alice@example.com", Password: testPassword}); err != nil {
		t.Fatalf("login with lockout disabled: %v", err)
	}
}

func TestLoginRateLimited(t *testing.T) {
	h := newTestHarness(t, func(c *Config) {
		c.RateLimit.Enabled = true
		c.RateLimit.LoginMaxAttempts = 2
		c.RateLimit.LoginWindow = time.Minute
	})
	ctx := context.Background()
	h.register(t, "alice@example.com", "alice")

	wrong := LoginRequest{Email: "alice@example.com", Password: "wrong-password-1"}
	for i := 0; i < 2; i++ {
		if _, err := h.engine.Login(ctx, wrong); !errors.Is(err, ErrInvalidCredentials) {
			t.Fatalf("attempt %d: expected ErrInvalidCredentials, got %v", i+1, err)
		}
	}
	if _, err := h.engine.Login(ctx, wrong); !errors.Is(err, ErrRateLimited) {
		t.Fatalf("expected ErrRateLimited, got %v", err)
	}

	h.mr.FastForward(2 * time.Minute)
	if _, err := h.engine.Login(ctx, LoginRequest{Email: "alice@example.com", Password: testPassword}); err != nil {
		t.Fatalf("login after window: %v", err)
	}
}

func TestLoginBackendFailureIsNotInvalidCredentials(t *testing.T) {
	h := newTestHarness(t, nil)
	h.users.failGetByEmail = errors.New("connection refused")

	_, err := h.engine.Login(context.Background(), LoginRequest{Email: "alice@example.com", Password: testPassword})
	if !errors.Is(err, ErrBackendUnavailable) {
		t.Fatalf("expected ErrBackendUnavailable, got %v", err)
	}
}

func TestLoginUpgradesLegacyHash(t *testing.T) {
	h := newTestHarness(t, nil)
	ctx := context.Background()
	uid, _ := h.register(t, "alice@example.com", "alice")

	legacy, err := bcryptHash(testPassword)
	if err != nil {
		t.Fatalf("bcrypt: %v", err)
	}
	if err := h.users.UpdatePasswordHash(ctx, uid, legacy); err != nil {
		t.Fatalf("seed legacy hash: %v", err)
	}

	if _, err := h.engine.Login(ctx, LoginRequest{Email: "alice@example.com", Password: testPassword}); err != nil {
		t.Fatalf("login with legacy hash: %v", err)
	}
	if got := h.users.user(t, uid).PasswordHash; got == legacy {
		t.Fatal("expected hash to be upgraded after login")
	}
	if h.engine.MetricsSnapshot().Counters[MetricPasswordUpgraded] != 1 {
		t.Fatal("expected upgrade metric")
	}
}

package authcore

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/pquerna/otp/totp"
)

// enrollTwoFactor runs setup and confirmation for uid. It returns the setup
// and the code used to confirm it.
func enrollTwoFactor(t *testing.T, h *testHarness, uid string) (*TwoFactorSetup, string) {
	t.Helper()
	ctx := context.Background()

	setup, err := h.engine.BeginTwoFactorSetup(ctx, uid)
	if err != nil {
		t.Fatalf("begin setup: %v", err)
	}
	code, err := totp.GenerateCode(setup.Secret, time.Now())
	if err != nil {
		t.Fatalf("generate code: %v", err)
	}
	if err := h.engine.ConfirmTwoFactorSetup(ctx, uid, code); err != nil {
		t.Fatalf("confirm setup: %v", err)
	}
	return setup, code
}

func TestTwoFactorSetupRequiresConfirmation(t *testing.T) {
	h := newTestHarness(t, nil)
	ctx := context.Background()
	uid, pair := h.register(t, "alice@example.com", "alice")

	setup, err := h.engine.BeginTwoFactorSetup(ctx, uid)
	if err != nil {
		t.Fatalf("begin setup: %v", err)
	}
	if setup.Secret == "" || setup.OTPAuthURL == "" || len(setup.BackupCodes) != 10 {
		t.Fatalf("unexpected setup %+v", setup)
	}

	if err := h.engine.ConfirmTwoFactorSetup(ctx, uid, "000000"); !errors.Is(err, ErrInvalidMFACode) {
		t.Fatalf("expected ErrInvalidMFACode, got %v", err)
	}
	if h.users.user(t, uid).TwoFactorEnabled {
		t.Fatal("a wrong confirmation code must leave 2FA disabled")
	}

	// Pending secrets never gate logins.
	res, err := h.engine.Login(ctx, LoginRequest{Email: "alice@example.com", Password: testPassword})
	if err != nil || res.RequiresTwoFactor {
		t.Fatalf("expected plain login before confirmation, got %+v, %v", res, err)
	}

	code, err := totp.GenerateCode(setup.Secret, time.Now())
	if err != nil {
		t.Fatalf("generate code: %v", err)
	}
	if err := h.engine.ConfirmTwoFactorSetup(ctx, uid, code); err != nil {
		t.Fatalf("confirm: %v", err)
	}
	if !h.users.user(t, uid).TwoFactorEnabled {
		t.Fatal("expected 2FA enabled")
	}

	// Enabling 2FA signs every device out.
	if _, err := h.engine.VerifyAccess(ctx, pair.AccessToken); !errors.Is(err, ErrTokenRevoked) {
		t.Fatalf("expected pre-existing session revoked, got %v", err)
	}
	if _, err := h.engine.BeginTwoFactorSetup(ctx, uid); !errors.Is(err, ErrTwoFactorAlreadyEnabled) {
		t.Fatalf("expected ErrTwoFactorAlreadyEnabled, got %v", err)
	}
}

func TestLoginWithTOTPAndReplayProtection(t *testing.T) {
	h := newTestHarness(t, nil)
	ctx := context.Background()
	uid, _ := h.register(t, "alice@example.com", "alice")
	setup, used := enrollTwoFactor(t, h, uid)

	res, err := h.engine.Login(ctx, LoginRequest{Email: "alice@example.com", Password: testPassword})
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	if !res.RequiresTwoFactor || res.Tokens != nil {
		t.Fatalf("expected a second-factor challenge without tokens, got %+v", res)
	}

	if _, err := h.engine.Login(ctx, LoginRequest{Email: "alice@example.com", Password: testPassword, MFACode: used}); !errors.Is(err, ErrInvalidMFACode) {
		t.Fatalf("expected replayed code rejected, got %v", err)
	}

	next, err := totp.GenerateCode(setup.Secret, time.Now().Add(30*time.Second))
	if err != nil {
		t.Fatalf("generate code: %v", err)
	}
	res, err = h.engine.Login(ctx, LoginRequest{Email: "alice@example.com", Password: testPassword, MFACode: next})
	if err != nil {
		t.Fatalf("login with next-step code: %v", err)
	}
	if res.Tokens == nil {
		t.Fatal("expected tokens after second factor")
	}
	if h.engine.MetricsSnapshot().Counters[MetricTwoFactorReplay] != 1 {
		t.Fatal("expected one replay metric")
	}
}

func TestLoginWithBackupCodeIsSingleUse(t *testing.T) {
	h := newTestHarness(t, nil)
	ctx := context.Background()
	uid, _ := h.register(t, "alice@example.com", "alice")
	setup, _ := enrollTwoFactor(t, h, uid)

	req := LoginRequest{Email: "alice@example.com", Password: testPassword, MFACode: setup.BackupCodes[0]}
	if _, err := h.engine.Login(ctx, req); err != nil {
		t.Fatalf("login with backup code: %v", err)
	}
	if _, err := h.engine.Login(ctx, req); !errors.Is(err, ErrInvalidMFACode) {
		t.Fatalf("expected used backup code rejected, got %v", err)
	}
	if err := h.engine.VerifySecondFactor(ctx, uid, setup.BackupCodes[1]); err != nil {
		t.Fatalf("verify second backup code: %v", err)
	}
}

func TestSecondFactorAttemptBudget(t *testing.T) {
	h := newTestHarness(t, func(c *Config) { c.TwoFactor.MaxAttempts = 3 })
	ctx := context.Background()
	uid, _ := h.register(t, "alice@example.com", "alice")
	setup, _ := enrollTwoFactor(t, h, uid)

	for i := 0; i < 3; i++ {
		if err := h.engine.VerifySecondFactor(ctx, uid, "WRONGCODE1"); !errors.Is(err, ErrInvalidMFACode) {
			t.Fatalf("attempt %d: expected ErrInvalidMFACode, got %v", i+1, err)
		}
	}
	// Even a valid code is refused once the budget is spent.
	if err := h.engine.VerifySecondFactor(ctx, uid, setup.BackupCodes[0]); !errors.Is(err, ErrRateLimited) {
		t.Fatalf("expected ErrRateLimited, got %v", err)
	}

	h.mr.FastForward(6 * time.Minute)
	if err := h.engine.VerifySecondFactor(ctx, uid, setup.BackupCodes[0]); err != nil {
		t.Fatalf("expected budget to recover after cooldown, got %v", err)
	}
}

func TestDisableTwoFactorRequiresPassword(t *testing.T) {
	h := newTestHarness(t, nil)
	ctx := context.Background()
	uid, _ := h.register(t, "alice@example.com", "alice")
	enrollTwoFactor(t, h, uid)

	if err := h.engine.DisableTwoFactor(ctx, uid, "wrong-password-1"); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("expected ErrInvalidCredentials, got %v", err)
	}
	if err := h.engine.DisableTwoFactor(ctx, uid, testPassword); err != nil {
		t.Fatalf("disable: %v", err)
	}

	res, err := h.engine.Login(ctx, LoginRequest{Email: "alice@example.com", Password: testPassword})
	if err != nil || res.RequiresTwoFactor || res.Tokens == nil {
		t.Fatalf("expected plain login after disabling, got %+v, %v", res, err)
	}
}

func TestTOTPVerifyCodeSkewWindow(t *testing.T) {
	m := newTOTPManager(DefaultConfig().TwoFactor)
	secret, _, err := m.Generate("alice@example.com")
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	now := time.Unix(1_700_000_000, 0)

	for _, offset := range []time.Duration{-30 * time.Second, 0, 30 * time.Second} {
		code, err := totp.GenerateCode(secret, now.Add(offset))
		if err != nil {
			t.Fatalf("code: %v", err)
		}
		ok, counter, err := m.VerifyCode(secret, code, now)
		if err != nil || !ok {
			t.Fatalf("offset %v: expected valid, got %v %v", offset, ok, err)
		}
		if want := now.Add(offset).Unix() / 30; counter != want {
			t.Fatalf("offset %v: expected counter %d, got %d", offset, want, counter)
		}
	}

	far, _ := totp.GenerateCode(secret, now.Add(2*time.Minute))
	if ok, _, _ := m.VerifyCode(secret, far, now); ok {
		t.Fatal("code outside the skew window must fail")
	}
	if ok, _, _ := m.VerifyCode(secret, "12ab56", now); ok {
		t.Fatal("non-numeric code must fail")
	}
}

package password

import (
	"testing"

	"golang.org/x/crypto/bcrypt"
)

func TestVerifyLegacyBcrypt(t *testing.T) {
	hasher, err := NewArgon2(secureConfig())
	if err != nil {
		t.Fatalf("NewArgon2 error: %v", err)
	}

	legacy, err := bcrypt.GenerateFromPassword([]byte("imported-password"), bcrypt.MinCost)
	if err != nil {
		t.Fatalf("bcrypt error: %v", err)
	}
	if !IsBcrypt(string(legacy)) {
		t.Fatalf("expected bcrypt prefix, got %q", legacy)
	}

	ok, err := hasher.Verify("imported-password", string(legacy))
	if err != nil || !ok {
		t.Fatalf("expected bcrypt verify success, ok=%v err=%v", ok, err)
	}

	ok, err = hasher.Verify("wrong-password", string(legacy))
	if err != nil || ok {
		t.Fatalf("expected bcrypt mismatch, ok=%v err=%v", ok, err)
	}

	upgrade, err := hasher.NeedsUpgrade(string(legacy))
	if err != nil || !upgrade {
		t.Fatalf("expected bcrypt hash to need upgrade, got %v err=%v", upgrade, err)
	}
}

func TestHistoryHelpers(t *testing.T) {
	hasher, err := NewArgon2(secureConfig())
	if err != nil {
		t.Fatalf("NewArgon2 error: %v", err)
	}
	h1, _ := hasher.Hash("first-password")
	h2, _ := hasher.Hash("second-password")

	if !MatchesAny(hasher, "first-password", "", "not-a-hash", h2, h1) {
		t.Fatal("expected history match")
	}
	if MatchesAny(hasher, "third-password", h1, h2) {
		t.Fatal("unexpected history match")
	}

	history := PushHistory([]string{"c", "b", "a"}, "d", 3)
	if len(history) != 3 || history[0] != "d" || history[1] != "c" || history[2] != "b" {
		t.Fatalf("unexpected trimmed history: %v", history)
	}
	if got := PushHistory([]string{"a"}, "b", 0); got != nil {
		t.Fatalf("expected nil for zero limit, got %v", got)
	}
}

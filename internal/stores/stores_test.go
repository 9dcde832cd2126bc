package stores

import (
	"context"
	"crypto/sha256"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newRedisTest(t *testing.T) (*redis.Client, *miniredis.Miniredis) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis start: %v", err)
	}
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() {
		rdb.Close()
		mr.Close()
	})
	return rdb, mr
}

func TestBlacklistExpiresWithToken(t *testing.T) {
	rdb, mr := newRedisTest(t)
	bl := NewBlacklist(rdb, "")
	ctx := context.Background()

	if err := bl.Add(ctx, "jti-1", time.Now().Add(10*time.Minute)); err != nil {
		t.Fatalf("add: %v", err)
	}
	if ok, err := bl.Contains(ctx, "jti-1"); err != nil || !ok {
		t.Fatalf("expected revoked jti, ok=%v err=%v", ok, err)
	}
	if ttl := mr.TTL(bl.Key("jti-1")); ttl <= 9*time.Minute || ttl > 10*time.Minute {
		t.Fatalf("expected ttl matching remaining lifetime, got %v", ttl)
	}

	mr.FastForward(11 * time.Minute)
	if ok, _ := bl.Contains(ctx, "jti-1"); ok {
		t.Fatal("blacklist entry must expire with the token")
	}

	if err := bl.Add(ctx, "jti-old", time.Now().Add(-time.Minute)); err != nil {
		t.Fatalf("add expired: %v", err)
	}
	if mr.Exists(bl.Key("jti-old")) {
		t.Fatal("expired tokens must not be stored")
	}
}

func TestPasswordResetConsume(t *testing.T) {
	rdb, _ := newRedisTest(t)
	store := NewPasswordResetStore(rdb, "")
	ctx := context.Background()

	secret := sha256.Sum256([]byte("secret"))
	rec := &PasswordResetRecord{UserID: "u1", SecretHash: secret, ExpiresAt: time.Now().Add(time.Hour).Unix()}
	if err := store.Save(ctx, "r1", rec, time.Hour); err != nil {
		t.Fatalf("save: %v", err)
	}

	wrong := sha256.Sum256([]byte("wrong"))
	if _, err := store.Consume(ctx, "r1", wrong, 3); !errors.Is(err, ErrResetSecretMismatch) {
		t.Fatalf("expected mismatch, got %v", err)
	}
	got, err := store.Get(ctx, "r1")
	if err != nil || got.Attempts != 1 {
		t.Fatalf("expected attempt recorded, got %+v err=%v", got, err)
	}

	consumed, err := store.Consume(ctx, "r1", secret, 3)
	if err != nil || consumed.UserID != "u1" {
		t.Fatalf("consume: %+v err=%v", consumed, err)
	}
	if _, err := store.Consume(ctx, "r1", secret, 3); !errors.Is(err, ErrResetNotFound) {
		t.Fatalf("reset must be single-use, got %v", err)
	}
}

func TestPasswordResetAttemptsExceeded(t *testing.T) {
	rdb, _ := newRedisTest(t)
	store := NewPasswordResetStore(rdb, "")
	ctx := context.Background()

	secret := sha256.Sum256([]byte("secret"))
	rec := &PasswordResetRecord{UserID: "u1", SecretHash: secret, ExpiresAt: time.Now().Add(time.Hour).Unix()}
	if err := store.Save(ctx, "r1", rec, time.Hour); err != nil {
		t.Fatalf("save: %v", err)
	}

	wrong := sha256.Sum256([]byte("wrong"))
	if _, err := store.Consume(ctx, "r1", wrong, 2); !errors.Is(err, ErrResetSecretMismatch) {
		t.Fatalf("first miss: %v", err)
	}
	if _, err := store.Consume(ctx, "r1", wrong, 2); !errors.Is(err, ErrResetAttemptsExceeded) {
		t.Fatalf("expected attempts exceeded, got %v", err)
	}
	if _, err := store.Consume(ctx, "r1", secret, 2); !errors.Is(err, ErrResetNotFound) {
		t.Fatalf("record must be gone after exhaustion, got %v", err)
	}
}

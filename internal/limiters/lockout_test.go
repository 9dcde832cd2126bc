package limiters

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

type memoryAttempts struct {
	mu          sync.Mutex
	failed      map[string]int
	lockedUntil map[string]time.Time
}

func newMemoryAttempts() *memoryAttempts {
	return &memoryAttempts{failed: map[string]int{}, lockedUntil: map[string]time.Time{}}
}

func (m *memoryAttempts) IncrementFailedLogins(_ context.Context, userID string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failed[userID]++
	return m.failed[userID], nil
}

func (m *memoryAttempts) SetLockedUntil(_ context.Context, userID string, until time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lockedUntil[userID] = until
	return nil
}

func (m *memoryAttempts) ResetFailedLogins(_ context.Context, userID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failed[userID] = 0
	return nil
}

func newGuardTest(t *testing.T) (*LoginGuard, *memoryAttempts, *miniredis.Miniredis) {
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
	store := newMemoryAttempts()
	g := NewLoginGuard(store, rdb, LockoutConfig{
		Enabled:    true,
		Threshold:  5,
		Base:       15 * time.Minute,
		Multiplier: 2,
		Window:     24 * time.Hour,
		Max:        24 * time.Hour,
	})
	return g, store, mr
}

func TestLoginGuardLocksAtThreshold(t *testing.T) {
	g, store, _ := newGuardTest(t)
	ctx := context.Background()

	for i := 1; i < 5; i++ {
		d, err := g.RecordFailure(ctx, "u1")
		if err != nil {
			t.Fatalf("failure %d: %v", i, err)
		}
		if d.Locked || d.Attempts != i {
			t.Fatalf("failure %d must not lock: %+v", i, d)
		}
	}

	d, err := g.RecordFailure(ctx, "u1")
	if err != nil {
		t.Fatalf("threshold failure: %v", err)
	}
	if !d.Locked || d.Escalation != 0 {
		t.Fatalf("expected first lockout, got %+v", d)
	}
	remaining := g.Check(store.lockedUntil["u1"])
	if remaining <= 14*time.Minute || remaining > 15*time.Minute {
		t.Fatalf("expected ~15m lock, got %v", remaining)
	}
}

func TestLoginGuardEscalatesWithinWindow(t *testing.T) {
	g, store, mr := newGuardTest(t)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		if _, err := g.RecordFailure(ctx, "u1"); err != nil {
			t.Fatalf("failure: %v", err)
		}
	}
	first := store.lockedUntil["u1"]

	// The counter survives lock expiry, so the next failure locks again.
	d, err := g.RecordFailure(ctx, "u1")
	if err != nil {
		t.Fatalf("failure after lock: %v", err)
	}
	if !d.Locked || d.Escalation != 1 || d.Attempts != 6 {
		t.Fatalf("expected escalated lockout, got %+v", d)
	}
	second := store.lockedUntil["u1"]
	if second.Sub(first) < 14*time.Minute {
		t.Fatalf("second lock must be longer: first=%v second=%v", first, second)
	}
	if remaining := g.Check(second); remaining <= 29*time.Minute {
		t.Fatalf("expected ~30m lock, got %v", remaining)
	}

	mr.FastForward(25 * time.Hour)
	if n, _ := g.Escalation(ctx, "u1"); n != 0 {
		t.Fatalf("escalation history must expire with window, got %d", n)
	}
}

func TestLoginGuardSuccessResetsCounterOnly(t *testing.T) {
	g, store, _ := newGuardTest(t)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		_, _ = g.RecordFailure(ctx, "u1")
	}
	if err := g.RecordSuccess(ctx, "u1"); err != nil {
		t.Fatalf("record success: %v", err)
	}
	if store.failed["u1"] != 0 {
		t.Fatalf("expected counter reset, got %d", store.failed["u1"])
	}
	if n, _ := g.Escalation(ctx, "u1"); n != 1 {
		t.Fatalf("escalation history must survive success, got %d", n)
	}
}

func TestLoginGuardConcurrentFailuresNeverUndercount(t *testing.T) {
	g, store, _ := newGuardTest(t)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := g.RecordFailure(ctx, "u1"); err != nil {
				t.Errorf("failure: %v", err)
			}
		}()
	}
	wg.Wait()
	if store.failed["u1"] != 20 {
		t.Fatalf("expected 20 failures, got %d", store.failed["u1"])
	}
	if store.lockedUntil["u1"].IsZero() {
		t.Fatal("expected account locked")
	}
}

func TestLoginGuardDurationCap(t *testing.T) {
	g, _, _ := newGuardTest(t)
	if g.Duration(0) != 15*time.Minute || g.Duration(2) != time.Hour {
		t.Fatalf("unexpected durations %v %v", g.Duration(0), g.Duration(2))
	}
	if g.Duration(10) != 24*time.Hour || g.Duration(5000) != 24*time.Hour {
		t.Fatal("expected cap at 24h")
	}
}

func TestLoginGuardDisabledAndNil(t *testing.T) {
	var g *LoginGuard
	if d, err := g.RecordFailure(context.Background(), "u1"); err != nil || d.Locked {
		t.Fatalf("nil guard must be inert: %+v %v", d, err)
	}
	if g.Check(time.Now().Add(time.Hour)) != 0 {
		t.Fatal("nil guard must never report a lock")
	}
}

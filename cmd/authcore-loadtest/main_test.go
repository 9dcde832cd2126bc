package main

import (
	"context"
	"errors"
	mrand "math/rand"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func TestPercentile(t *testing.T) {
	samples := make([]time.Duration, 100)
	for i := range samples {
		samples[i] = time.Duration(i+1) * time.Millisecond
	}
	if got := percentile(samples, 50); got != 50*time.Millisecond {
		t.Fatalf("p50 = %s", got)
	}
	if got := percentile(samples, 99); got != 99*time.Millisecond {
		t.Fatalf("p99 = %s", got)
	}
	if got := percentile(samples, 100); got != 100*time.Millisecond {
		t.Fatalf("p100 = %s", got)
	}
	if got := percentile(nil, 50); got != 0 {
		t.Fatalf("empty = %s", got)
	}
}

func TestRunPhaseCountsFailures(t *testing.T) {
	s := runPhase(50, 4, func(_ *mrand.Rand, i int) error {
		if i%5 == 0 {
			return errors.New("boom")
		}
		return nil
	})
	if s.ops != 50 {
		t.Fatalf("expected 50 ops, got %d", s.ops)
	}
	if s.failures != 10 {
		t.Fatalf("expected 10 failures, got %d", s.failures)
	}
}

func TestRunAgainstMiniredis(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	if err := run(context.Background(), client, 5, 2, 20, 2, true); err != nil {
		t.Fatalf("run: %v", err)
	}
}

package worker

import (
	"context"
	"testing"
	"time"
)

// fakeClock is advanced by hand.
type fakeClock struct{ t time.Time }

func (c *fakeClock) now() time.Time          { return c.t }
func (c *fakeClock) advance(d time.Duration) { c.t = c.t.Add(d) }

func limiterAt(clock *fakeClock, burst int, ratePerMinute float64) *RateLimiter {
	rl := NewRateLimiter(burst, ratePerMinute)
	rl.now = clock.now
	rl.last = clock.t
	return rl
}

func TestRateLimiter_ImmediateBurst(t *testing.T) {
	rl := NewRateLimiter(5, 60.0)

	ctx := context.Background()
	for i := 0; i < 5; i++ {
		waited, err := rl.Wait(ctx)
		if err != nil {
			t.Fatalf("burst token %d failed: %v", i, err)
		}
		if waited != 0 {
			t.Fatalf("burst token %d should not wait, waited %v", i, waited)
		}
	}
}

func TestRateLimiter_ReserveSchedule(t *testing.T) {
	clock := &fakeClock{t: time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)}
	rl := limiterAt(clock, 2, 30) // one check every 2s after a burst of 2

	if rl.reserve() != 0 || rl.reserve() != 0 {
		t.Fatal("burst should be available at once")
	}
	if d := rl.reserve(); d != 2*time.Second {
		t.Fatalf("expected 2s until the next check, got %v", d)
	}

	clock.advance(500 * time.Millisecond)
	if d := rl.reserve(); d != 1500*time.Millisecond {
		t.Fatalf("expected 1.5s left, got %v", d)
	}

	clock.advance(1500 * time.Millisecond)
	if d := rl.reserve(); d != 0 {
		t.Fatalf("token should be due, got %v", d)
	}
}

func TestRateLimiter_RefillCapsAtBurst(t *testing.T) {
	clock := &fakeClock{t: time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)}
	rl := limiterAt(clock, 3, 60)

	for i := 0; i < 3; i++ {
		rl.reserve()
	}
	clock.advance(time.Hour)

	for i := 0; i < 3; i++ {
		if d := rl.reserve(); d != 0 {
			t.Fatalf("check %d after idle hour should start at once, got %v", i, d)
		}
	}
	if d := rl.reserve(); d == 0 {
		t.Fatal("idle time must not bank more than the burst")
	}
}

func TestRateLimiter_WaitsAfterBurst(t *testing.T) {
	rl := NewRateLimiter(1, 600.0) // 10/sec refill

	ctx := context.Background()
	if _, err := rl.Wait(ctx); err != nil {
		t.Fatalf("first wait: %v", err)
	}

	start := time.Now()
	waited, err := rl.Wait(ctx)
	if err != nil {
		t.Fatalf("second wait: %v", err)
	}
	if elapsed := time.Since(start); elapsed < 50*time.Millisecond {
		t.Fatalf("expected some wait time, got %v", elapsed)
	}
	if waited <= 0 {
		t.Fatalf("Wait should report the delay, got %v", waited)
	}
}

func TestRateLimiter_CancelledContext(t *testing.T) {
	rl := NewRateLimiter(1, 1.0)

	ctx, cancel := context.WithCancel(context.Background())
	if _, err := rl.Wait(ctx); err != nil {
		t.Fatal(err)
	}

	cancel()
	if _, err := rl.Wait(ctx); err == nil {
		t.Fatal("expected context cancelled error")
	}
}

func TestRateLimiter_DefaultValues(t *testing.T) {
	rl := NewRateLimiter(0, 0)
	if rl.burst != defaultRateBurst {
		t.Fatalf("expected default burst=%d, got %v", defaultRateBurst, rl.burst)
	}
	if rl.perSec != defaultRatePerMinute/60 {
		t.Fatalf("unexpected default rate %v", rl.perSec)
	}
}

package worker

import (
	"context"
	"sync"
	"time"
)

const (
	defaultRateBurst     = 5
	defaultRatePerMinute = 30.0
)

// RateLimiter spaces out calls to the assessment API with a token bucket:
// up to burst checks start at once, then one every 60/ratePerMinute seconds.
type RateLimiter struct {
	mu     sync.Mutex
	tokens float64
	burst  float64
	perSec float64
	last   time.Time
	now    func() time.Time
}

func NewRateLimiter(burst int, ratePerMinute float64) *RateLimiter {
	if burst <= 0 {
		burst = defaultRateBurst
	}
	if ratePerMinute <= 0 {
		ratePerMinute = defaultRatePerMinute
	}
	return &RateLimiter{
		tokens: float64(burst),
		burst:  float64(burst),
		perSec: ratePerMinute / 60,
		last:   time.Now(),
		now:    time.Now,
	}
}

// Wait blocks until a check may start and reports how long it was held back.
func (rl *RateLimiter) Wait(ctx context.Context) (time.Duration, error) {
	var waited time.Duration
	for {
		delay := rl.reserve()
		if delay == 0 {
			return waited, nil
		}
		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return waited, ctx.Err()
		case <-timer.C:
			waited += delay
		}
	}
}

// reserve takes a token and returns 0, or returns the time until one is due.
func (rl *RateLimiter) reserve() time.Duration {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	rl.tokens = min(rl.burst, rl.tokens+now.Sub(rl.last).Seconds()*rl.perSec)
	rl.last = now
	if rl.tokens >= 1 {
		rl.tokens--
		return 0
	}
	return max(time.Nanosecond, time.Duration((1-rl.tokens)/rl.perSec*float64(time.Second)))
}

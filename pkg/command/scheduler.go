package command

import (
	"context"
	"math"
	"math/rand/v2"
	"time"

	"golang.org/x/time/rate"
)

// Scheduler runs the next attempt of a command. Implementations must not call
// fn on the caller's stack; each retry boundary is a fresh goroutine.
type Scheduler interface {
	// Schedule arranges for fn to run after failed attempt number attempt.
	Schedule(ctx context.Context, attempt int, fn func())
}

// SchedulerFunc adapts a function to Scheduler.
type SchedulerFunc func(ctx context.Context, attempt int, fn func())

// Schedule calls f.
func (f SchedulerFunc) Schedule(ctx context.Context, attempt int, fn func()) {
	f(ctx, attempt, fn)
}

// Immediate runs the next attempt on a new goroutine without delay.
func Immediate() Scheduler {
	return SchedulerFunc(func(_ context.Context, _ int, fn func()) {
		go fn()
	})
}

// Backoff delays attempts exponentially: Initial * Factor^(attempt-1), capped
// at Max, with up to Jitter of the delay added at random.
type Backoff struct {
	Initial time.Duration
	Max     time.Duration
	Factor  float64
	// Jitter is a fraction in [0, 1].
	Jitter float64
}

// DefaultBackoff returns the backoff used when none is configured.
func DefaultBackoff() Backoff {
	return Backoff{
		Initial: 50 * time.Millisecond,
		Max:     5 * time.Second,
		Factor:  2.0,
		Jitter:  0.2,
	}
}

// Delay returns the wait before the attempt following failed attempt number attempt.
func (b Backoff) Delay(attempt int) time.Duration {
	if b.Initial <= 0 {
		b.Initial = 50 * time.Millisecond
	}
	if b.Max <= 0 {
		b.Max = 5 * time.Second
	}
	if b.Factor < 1 {
		b.Factor = 2.0
	}
	if attempt < 1 {
		attempt = 1
	}

	backoff := float64(b.Initial) * math.Pow(b.Factor, float64(attempt-1))
	if backoff > float64(b.Max) {
		backoff = float64(b.Max)
	}
	if b.Jitter > 0 {
		backoff += backoff * math.Min(b.Jitter, 1) * rand.Float64()
	}
	duration := time.Duration(backoff)
	if duration > b.Max {
		return b.Max
	}
	return duration
}

// Schedule waits for Delay(attempt), or for ctx to end, then runs fn.
func (b Backoff) Schedule(ctx context.Context, attempt int, fn func()) {
	timer := time.NewTimer(b.Delay(attempt))
	go func() {
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
		}
		fn()
	}()
}

// Throttled waits for a token from limiter before every attempt scheduled by
// next, so that a burst of contending commands retries at a bounded rate.
func Throttled(next Scheduler, limiter *rate.Limiter) Scheduler {
	if next == nil {
		next = Immediate()
	}
	if limiter == nil {
		return next
	}
	return SchedulerFunc(func(ctx context.Context, attempt int, fn func()) {
		next.Schedule(ctx, attempt, func() {
			// A cancelled wait still runs fn so the strategy sees the next failure.
			_ = limiter.Wait(ctx)
			fn()
		})
	})
}

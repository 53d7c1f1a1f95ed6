// Package retry provides a small bounded-retry combinator shared by the
// pool's acquire polling and the resolver's per-strategy attempts.
package retry

import (
	"context"
	"fmt"
	"math/rand"
	"time"
)

// Growth selects how the delay changes between attempts.
type Growth int

const (
	// GrowthConstant keeps the same delay between attempts.
	GrowthConstant Growth = iota
	// GrowthLinear grows the delay by the base delay each attempt.
	GrowthLinear
	// GrowthExponential multiplies the delay by Multiplier each attempt.
	GrowthExponential
)

// Policy describes a bounded retry schedule.
type Policy struct {
	MaxAttempts int           // total attempts including the first; minimum 1
	Delay       time.Duration // base delay between attempts
	MaxDelay    time.Duration // cap on the computed delay; 0 means uncapped
	Growth      Growth
	Multiplier  float64 // exponential factor; defaults to 2
	Jitter      float64 // fraction of the delay randomized, 0..1

	// OnRetry is called after each failed attempt that will be retried.
	OnRetry func(attempt int, err error, delay time.Duration)
}

func (p Policy) normalized() Policy {
	if p.MaxAttempts < 1 {
		p.MaxAttempts = 1
	}
	if p.Multiplier <= 0 {
		p.Multiplier = 2
	}
	if p.Jitter < 0 {
		p.Jitter = 0
	}
	if p.Jitter > 1 {
		p.Jitter = 1
	}
	return p
}

// DelayFor returns the delay to wait after the given failed attempt
// (1-based). Jitter is applied uniformly around the computed value.
func (p Policy) DelayFor(attempt int) time.Duration {
	p = p.normalized()
	if attempt < 1 {
		attempt = 1
	}

	d := p.Delay
	switch p.Growth {
	case GrowthLinear:
		d = p.Delay * time.Duration(attempt)
	case GrowthExponential:
		f := float64(p.Delay)
		for i := 1; i < attempt; i++ {
			f *= p.Multiplier
		}
		d = time.Duration(f)
	}

	if p.MaxDelay > 0 && d > p.MaxDelay {
		d = p.MaxDelay
	}
	if p.Jitter > 0 && d > 0 {
		spread := p.Jitter * float64(d)
		d = time.Duration(float64(d) - spread/2 + rand.Float64()*spread)
	}
	if d < 0 {
		d = 0
	}
	return d
}

// Do runs fn until it succeeds, the attempt budget is exhausted, or ctx is
// done. The last error is returned after exhaustion, wrapped with the
// attempt count.
func Do(ctx context.Context, p Policy, fn func(ctx context.Context) error) error {
	p = p.normalized()

	var lastErr error
	for attempt := 1; attempt <= p.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			if lastErr != nil {
				return lastErr
			}
			return err
		}

		lastErr = fn(ctx)
		if lastErr == nil {
			return nil
		}

		if attempt == p.MaxAttempts {
			break
		}

		delay := p.DelayFor(attempt)
		if p.OnRetry != nil {
			p.OnRetry(attempt, lastErr, delay)
		}
		if err := Sleep(ctx, delay); err != nil {
			return lastErr
		}
	}

	if p.MaxAttempts > 1 {
		return fmt.Errorf("failed after %d attempts: %w", p.MaxAttempts, lastErr)
	}
	return lastErr
}

// DoValue is Do for functions that return a value.
func DoValue[T any](ctx context.Context, p Policy, fn func(ctx context.Context) (T, error)) (T, error) {
	var out T
	err := Do(ctx, p, func(ctx context.Context) error {
		v, err := fn(ctx)
		if err != nil {
			return err
		}
		out = v
		return nil
	})
	return out, err
}

// Sleep waits for d or until ctx is done, whichever comes first.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

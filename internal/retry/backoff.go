package retry

import (
	"context"
	"time"
)

// ExponentialBackoff returns delay based on attempt number.
// The delay doubles with each attempt: base * 2^attempt
func ExponentialBackoff(attempt int, base time.Duration) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	return base * (1 << attempt)
}

// Policy retries a function with capped exponential backoff.
type Policy struct {
	Base     time.Duration // delay before the second attempt
	Max      time.Duration // cap on any single delay; zero means uncapped
	Attempts int           // total tries, including the first
}

// Default is the policy used around embedding calls.
var Default = Policy{Base: 200 * time.Millisecond, Max: 5 * time.Second, Attempts: 3}

// Delay returns the wait after the given zero-based failed attempt.
func (p Policy) Delay(attempt int) time.Duration {
	if p.Max > 0 && attempt > 30 {
		return p.Max
	}
	d := ExponentialBackoff(attempt, p.Base)
	if p.Max > 0 && (d > p.Max || d <= 0) {
		return p.Max
	}
	return d
}

// Do calls fn until it succeeds, the attempts run out, or ctx is done.
// The last error from fn is returned.
func (p Policy) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	attempts := p.Attempts
	if attempts < 1 {
		attempts = 1
	}
	var err error
	for attempt := 0; attempt < attempts; attempt++ {
		if err = fn(ctx); err == nil {
			return nil
		}
		if attempt == attempts-1 {
			break
		}
		timer := time.NewTimer(p.Delay(attempt))
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
	return err
}

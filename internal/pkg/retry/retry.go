package retry

import (
	"context"
	"time"
)

// Policy bounds retries of transient store failures with exponential backoff.
// The zero value performs a single attempt.
type Policy struct {
	Attempts int
	Base     time.Duration
	Max      time.Duration
}

// Default matches the reconciler's budget: five attempts starting at 50ms,
// capped at one second per wait.
func Default() Policy {
	return Policy{Attempts: 5, Base: 50 * time.Millisecond, Max: time.Second}
}

// Do runs fn until it succeeds, the budget is exhausted, or permanent
// classifies the error as not worth retrying. It returns the last error.
func (p Policy) Do(ctx context.Context, fn func(context.Context) error, permanent func(error) bool) error {
	attempts := p.Attempts
	if attempts < 1 {
		attempts = 1
	}

	wait := p.Base
	var err error
	for i := 0; i < attempts; i++ {
		if err = ctx.Err(); err != nil {
			return err
		}
		if err = fn(ctx); err == nil {
			return nil
		}
		if permanent != nil && permanent(err) {
			return err
		}
		if i == attempts-1 {
			break
		}

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
		wait *= 2
		if p.Max > 0 && wait > p.Max {
			wait = p.Max
		}
	}
	return err
}

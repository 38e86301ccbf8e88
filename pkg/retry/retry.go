package retry

import (
	"context"
	"time"
)

// Sleeper pauses for d or until ctx is done
type Sleeper func(ctx context.Context, d time.Duration) error

// Wait waits for the specified duration or until context is cancelled
func Wait(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}

	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Budget counts consecutive failures. It is exhausted once the count reaches
// the maximum; any success resets it.
type Budget struct {
	max   int
	count int
}

// NewBudget creates a budget allowing max-1 consecutive failures to be retried
func NewBudget(max int) *Budget {
	if max < 1 {
		max = 1
	}
	return &Budget{max: max}
}

// Fail records a failure and reports whether the budget is now exhausted
func (b *Budget) Fail() bool {
	b.count++
	return b.count >= b.max
}

// Succeed resets the consecutive failure count
func (b *Budget) Succeed() {
	b.count = 0
}

// Count returns the current number of consecutive failures
func (b *Budget) Count() int {
	return b.count
}

// Max returns the failure count at which the budget is exhausted
func (b *Budget) Max() int {
	return b.max
}

package ratelimit

import (
	"context"
	"sync"
	"time"
)

// Limiter defines the interface for rate limiting
type Limiter interface {
	// Allow checks if a request is allowed under the current rate limit
	Allow() bool
	// Wait blocks until the rate limit allows another request
	Wait(ctx context.Context) error
	// Reset resets the rate limiter state
	Reset()
}

var _ Limiter = (*SlidingWindow)(nil)

// Clock abstracts time so waits can be observed without sleeping in tests
type Clock interface {
	Now() time.Time
	Sleep(ctx context.Context, d time.Duration) error
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

func (realClock) Sleep(ctx context.Context, d time.Duration) error {
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

// SystemClock is the wall clock
var SystemClock Clock = realClock{}

// SlidingWindow caps the number of requests inside a moving time window
type SlidingWindow struct {
	windowSize  time.Duration
	maxRequests int
	requests    []time.Time
	clock       Clock
	mu          sync.Mutex
}

// NewSlidingWindow creates a new sliding window rate limiter
func NewSlidingWindow(maxRequests int, windowSize time.Duration) *SlidingWindow {
	return newSlidingWindow(maxRequests, windowSize, SystemClock)
}

func newSlidingWindow(maxRequests int, windowSize time.Duration, clock Clock) *SlidingWindow {
	return &SlidingWindow{
		windowSize:  windowSize,
		maxRequests: maxRequests,
		requests:    make([]time.Time, 0, maxRequests),
		clock:       clock,
	}
}

// Allow records a request and reports true if the window has room for it
func (sw *SlidingWindow) Allow() bool {
	return sw.reserve() == 0
}

// reserve records a request when there is room and returns zero, otherwise it
// returns how long until the oldest request leaves the window.
func (sw *SlidingWindow) reserve() time.Duration {
	sw.mu.Lock()
	defer sw.mu.Unlock()

	now := sw.clock.Now()
	sw.cleanOldRequests(now)

	if len(sw.requests) < sw.maxRequests {
		sw.requests = append(sw.requests, now)
		return 0
	}

	wait := sw.windowSize - now.Sub(sw.requests[0])
	if wait <= 0 {
		// boundary: the oldest request expires exactly now
		wait = time.Millisecond
	}
	return wait
}

// Wait blocks until a request is allowed or ctx is done
func (sw *SlidingWindow) Wait(ctx context.Context) error {
	for {
		wait := sw.reserve()
		if wait == 0 {
			return nil
		}
		if err := sw.clock.Sleep(ctx, wait); err != nil {
			return err
		}
	}
}

// Remaining returns how many requests the window still admits right now
func (sw *SlidingWindow) Remaining() int {
	sw.mu.Lock()
	defer sw.mu.Unlock()

	sw.cleanOldRequests(sw.clock.Now())
	return sw.maxRequests - len(sw.requests)
}

// Reset clears all recorded requests
func (sw *SlidingWindow) Reset() {
	sw.mu.Lock()
	defer sw.mu.Unlock()

	sw.requests = sw.requests[:0]
}

// cleanOldRequests removes requests outside the sliding window
func (sw *SlidingWindow) cleanOldRequests(now time.Time) {
	cutoff := now.Add(-sw.windowSize)

	i := 0
	for i < len(sw.requests) && !sw.requests[i].After(cutoff) {
		i++
	}

	if i > 0 {
		copy(sw.requests, sw.requests[i:])
		sw.requests = sw.requests[:len(sw.requests)-i]
	}
}

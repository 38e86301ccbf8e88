package ratelimit

import (
	"context"
	"sync"
	"time"
)

// Class groups endpoints that share a request budget
type Class string

const (
	ClassCounts  Class = "counts"
	ClassSearch  Class = "search"
	ClassUsers   Class = "users"
	ClassFriends Class = "friends"
	// ClassError spaces out retries after a failed request
	ClassError Class = "error"
)

// Intervals maps each class to the minimum time between two of its requests
type Intervals map[Class]time.Duration

// Gate enforces a minimum interval between consecutive requests of the same
// class. State is per instance and never persisted, so a fresh Gate lets the
// first request of every class through immediately.
type Gate struct {
	mu        sync.Mutex
	intervals Intervals
	next      map[Class]time.Time
	limits    map[Class]Limiter
	clock     Clock
	observe   func(Class, time.Duration)
}

type windowSpec struct {
	max  int
	size time.Duration
}

type gateOptions struct {
	clock   Clock
	windows map[Class]windowSpec
	limits  map[Class]Limiter
	observe func(Class, time.Duration)
}

// Option configures a Gate
type Option func(*gateOptions)

// WithClock replaces the wall clock
func WithClock(c Clock) Option {
	return func(o *gateOptions) { o.clock = c }
}

// WithWindow adds a quota of maxRequests per windowSize for one class.
// Non-positive values leave the class without a window.
func WithWindow(class Class, maxRequests int, windowSize time.Duration) Option {
	return func(o *gateOptions) {
		if maxRequests > 0 && windowSize > 0 {
			o.windows[class] = windowSpec{max: maxRequests, size: windowSize}
		}
	}
}

// WithLimiter makes requests of class also wait on l after their interval.
// It replaces a window set for the same class.
func WithLimiter(class Class, l Limiter) Option {
	return func(o *gateOptions) {
		if l != nil {
			o.limits[class] = l
		}
	}
}

// WithObserver registers a callback that receives every computed wait,
// including zero waits.
func WithObserver(fn func(Class, time.Duration)) Option {
	return func(o *gateOptions) { o.observe = fn }
}

// NewGate creates a gate with the given per-class intervals. Classes missing
// from intervals are not throttled.
func NewGate(intervals Intervals, opts ...Option) *Gate {
	o := gateOptions{clock: SystemClock, windows: make(map[Class]windowSpec), limits: make(map[Class]Limiter)}
	for _, opt := range opts {
		opt(&o)
	}

	g := &Gate{
		intervals: make(Intervals, len(intervals)),
		next:      make(map[Class]time.Time),
		limits:    make(map[Class]Limiter, len(o.windows)+len(o.limits)),
		clock:     o.clock,
		observe:   o.observe,
	}
	for class, d := range intervals {
		g.intervals[class] = d
	}
	for class, w := range o.windows {
		g.limits[class] = newSlidingWindow(w.max, w.size, o.clock)
	}
	for class, l := range o.limits {
		g.limits[class] = l
	}
	return g
}

// Wait blocks until a request of class may be issued and records it. A slot
// is reserved before sleeping so concurrent callers of the same class queue
// up one interval apart. It only fails when ctx is done.
func (g *Gate) Wait(ctx context.Context, class Class) error {
	g.mu.Lock()
	now := g.clock.Now()
	slot := now
	if next, ok := g.next[class]; ok && next.After(now) {
		slot = next
	}
	g.next[class] = slot.Add(g.intervals[class])
	limit := g.limits[class]
	observe := g.observe
	g.mu.Unlock()

	wait := slot.Sub(now)
	if wait < 0 {
		wait = 0
	}
	if observe != nil {
		observe(class, wait)
	}
	if err := g.clock.Sleep(ctx, wait); err != nil {
		return err
	}

	if limit != nil {
		return limit.Wait(ctx)
	}
	return nil
}

// Interval returns the configured minimum spacing for class
func (g *Gate) Interval(class Class) time.Duration {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.intervals[class]
}

// Remaining returns the quota left for class, or -1 when the class has no
// limiter or its limiter does not report a quota.
func (g *Gate) Remaining(class Class) int {
	g.mu.Lock()
	limit := g.limits[class]
	g.mu.Unlock()

	if q, ok := limit.(interface{ Remaining() int }); ok {
		return q.Remaining()
	}
	return -1
}

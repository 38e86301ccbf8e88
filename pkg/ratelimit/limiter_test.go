package ratelimit

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var epoch = time.Date(2020, 5, 25, 4, 0, 0, 0, time.UTC)

func testIntervals() Intervals {
	return Intervals{
		ClassCounts:  3 * time.Second,
		ClassSearch:  3200 * time.Millisecond,
		ClassUsers:   3 * time.Second,
		ClassFriends: 60 * time.Second,
		ClassError:   60 * time.Second,
	}
}

func TestGateFirstRequestIsImmediate(t *testing.T) {
	clock := NewFakeClock(epoch)
	gate := NewGate(testIntervals(), WithClock(clock))

	for _, class := range []Class{ClassCounts, ClassSearch, ClassUsers, ClassFriends} {
		require.NoError(t, gate.Wait(context.Background(), class))
	}

	for _, d := range clock.Sleeps() {
		assert.Zero(t, d)
	}
	assert.Equal(t, epoch, clock.Now())
}

func TestGateEnforcesInterval(t *testing.T) {
	clock := NewFakeClock(epoch)
	gate := NewGate(testIntervals(), WithClock(clock))
	ctx := context.Background()

	require.NoError(t, gate.Wait(ctx, ClassFriends))
	clock.Advance(20 * time.Second)
	require.NoError(t, gate.Wait(ctx, ClassFriends))

	sleeps := clock.Sleeps()
	require.Len(t, sleeps, 2)
	assert.Equal(t, 40*time.Second, sleeps[1])
	assert.Equal(t, epoch.Add(60*time.Second), clock.Now())
}

func TestGateClampsElapsedInterval(t *testing.T) {
	clock := NewFakeClock(epoch)
	gate := NewGate(testIntervals(), WithClock(clock))
	ctx := context.Background()

	require.NoError(t, gate.Wait(ctx, ClassUsers))
	clock.Advance(10 * time.Second)
	require.NoError(t, gate.Wait(ctx, ClassUsers))

	assert.Equal(t, []time.Duration{0, 0}, clock.Sleeps())
}

func TestGateClassesAreIndependent(t *testing.T) {
	clock := NewFakeClock(epoch)
	gate := NewGate(testIntervals(), WithClock(clock))
	ctx := context.Background()

	require.NoError(t, gate.Wait(ctx, ClassFriends))
	require.NoError(t, gate.Wait(ctx, ClassUsers))

	assert.Equal(t, []time.Duration{0, 0}, clock.Sleeps())
}

func TestGateObserver(t *testing.T) {
	clock := NewFakeClock(epoch)
	var observed []time.Duration
	gate := NewGate(testIntervals(), WithClock(clock), WithObserver(func(c Class, d time.Duration) {
		assert.Equal(t, ClassSearch, c)
		observed = append(observed, d)
	}))

	require.NoError(t, gate.Wait(context.Background(), ClassSearch))
	require.NoError(t, gate.Wait(context.Background(), ClassSearch))

	assert.Equal(t, []time.Duration{0, 3200 * time.Millisecond}, observed)
}

func TestGateWaitCancelled(t *testing.T) {
	gate := NewGate(Intervals{ClassFriends: time.Hour})
	ctx, cancel := context.WithCancel(context.Background())

	require.NoError(t, gate.Wait(ctx, ClassFriends))
	cancel()

	err := gate.Wait(ctx, ClassFriends)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestGateConcurrentCallersQueue(t *testing.T) {
	gate := NewGate(Intervals{ClassUsers: 20 * time.Millisecond})
	ctx := context.Background()

	start := time.Now()
	var wg sync.WaitGroup
	for i := 0; i < 3; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, gate.Wait(ctx, ClassUsers))
		}()
	}
	wg.Wait()

	assert.GreaterOrEqual(t, time.Since(start), 40*time.Millisecond)
}

func TestGateWindow(t *testing.T) {
	clock := NewFakeClock(epoch)
	gate := NewGate(Intervals{ClassSearch: time.Second},
		WithClock(clock),
		WithWindow(ClassSearch, 2, time.Minute),
	)
	ctx := context.Background()

	assert.Equal(t, 2, gate.Remaining(ClassSearch))
	assert.Equal(t, -1, gate.Remaining(ClassUsers))

	require.NoError(t, gate.Wait(ctx, ClassSearch))
	require.NoError(t, gate.Wait(ctx, ClassSearch))
	assert.Equal(t, 0, gate.Remaining(ClassSearch))

	// third request must wait for the first to leave the window
	require.NoError(t, gate.Wait(ctx, ClassSearch))
	assert.False(t, clock.Now().Before(epoch.Add(time.Minute)))
}

func TestSlidingWindow(t *testing.T) {
	clock := NewFakeClock(epoch)
	sw := newSlidingWindow(3, time.Second, clock)

	for i := 0; i < 3; i++ {
		assert.True(t, sw.Allow(), "request %d", i+1)
	}
	assert.False(t, sw.Allow())
	assert.Equal(t, 0, sw.Remaining())

	clock.Advance(time.Second + 100*time.Millisecond)
	assert.True(t, sw.Allow())

	sw.Reset()
	assert.Equal(t, 3, sw.Remaining())
}

func TestSlidingWindowWait(t *testing.T) {
	clock := NewFakeClock(epoch)
	sw := newSlidingWindow(1, time.Second, clock)
	ctx := context.Background()

	require.NoError(t, sw.Wait(ctx))
	require.NoError(t, sw.Wait(ctx))

	assert.Equal(t, []time.Duration{time.Second}, clock.Sleeps())
}

type countingLimiter struct {
	waits  int
	resets int
}

func (l *countingLimiter) Allow() bool { return true }

func (l *countingLimiter) Wait(ctx context.Context) error {
	l.waits++
	return ctx.Err()
}

func (l *countingLimiter) Reset() { l.resets++ }

func TestGateLimiter(t *testing.T) {
	clock := NewFakeClock(epoch)
	limiter := &countingLimiter{}
	gate := NewGate(Intervals{ClassFriends: time.Minute},
		WithClock(clock),
		WithWindow(ClassFriends, 1, time.Hour),
		WithLimiter(ClassFriends, limiter),
	)
	ctx := context.Background()

	require.NoError(t, gate.Wait(ctx, ClassFriends))
	require.NoError(t, gate.Wait(ctx, ClassFriends))
	require.NoError(t, gate.Wait(ctx, ClassSearch))

	assert.Equal(t, 2, limiter.waits)
	// the custom limiter replaced the window and reports no quota
	assert.Equal(t, -1, gate.Remaining(ClassFriends))
	assert.Equal(t, []time.Duration{0, time.Minute, 0}, clock.Sleeps())
}

// Package ratelimit spaces out requests to the remote API.
//
// Gate is the main entry point: it keeps, per endpoint class, the earliest
// time the next request may go out, and Wait blocks until then. A Gate may
// also carry a SlidingWindow quota per class (for example 300 requests per
// 15 minutes) which Wait honours after the interval.
//
// Usage:
//
//	gate := ratelimit.NewGate(ratelimit.Intervals{
//	    ratelimit.ClassSearch:  3200 * time.Millisecond,
//	    ratelimit.ClassFriends: time.Minute,
//	}, ratelimit.WithWindow(ratelimit.ClassSearch, 300, 15*time.Minute))
//
//	if err := gate.Wait(ctx, ratelimit.ClassSearch); err != nil {
//	    return err // ctx cancelled
//	}
//
// Gate state lives only in memory. A restarted process starts with an empty
// gate and its first request of each class is not delayed.
package ratelimit

// Package retry holds the building blocks of the crawl error policy.
//
// A Budget counts consecutive transient failures and reports when the limit
// is reached; a BackoffStrategy picks the pause before the next attempt; Wait
// sleeps for that pause unless the context ends first.
//
//	budget := retry.NewBudget(2)
//	backoff := retry.ConstantBackoff{Delay: time.Minute}
//
//	if budget.Fail() {
//	    return abort(err)
//	}
//	if err := retry.Wait(ctx, backoff.NextDelay(budget.Count())); err != nil {
//	    return err
//	}
//
// The budget is checked before sleeping, so the last failure never waits.
package retry

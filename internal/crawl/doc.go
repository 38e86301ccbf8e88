// Package crawl drives resumable crawl jobs.
//
// A Runner moves a Job through INIT, RUNNING and one of the terminal states
// PAUSED_BY_USER, EXHAUSTED or ABORTED. Between batches it polls the
// Interrupt, so a stop request never cuts a batch in half. Transient API
// errors are retried after a fixed wait until MaxConsecutiveErrors failures
// happen in a row; anything else aborts at once. Finish runs exactly once in
// every terminal state.
package crawl

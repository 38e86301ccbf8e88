package crawl

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"twcrawl/internal/metrics"
	errs "twcrawl/pkg/errors"
	"twcrawl/pkg/logger"
	"twcrawl/pkg/retry"
)

// ErrTooManyErrors is returned when a job aborts after its consecutive
// transient error budget ran out
var ErrTooManyErrors = errors.New("too many consecutive errors")

// Defaults for the failure policy
const (
	DefaultMaxConsecutiveErrors = 2
	DefaultErrorWait            = 60 * time.Second
)

// Options configures a Runner
type Options struct {
	MaxConsecutiveErrors int
	// ErrorWait is slept after a transient error before the batch is retried
	ErrorWait time.Duration
	// Backoff picks the wait from the consecutive error count. Defaults to
	// ErrorWait every time.
	Backoff retry.BackoffStrategy
	// LogEvery logs progress after every n committed batches, 0 disables
	LogEvery  int
	Interrupt *Interrupt
	Logger    logger.Logger
	Metrics   *metrics.Collector
	// Sleep replaces retry.Wait, mainly for tests
	Sleep retry.Sleeper
	Now   func() time.Time
}

// Result summarizes one run
type Result struct {
	Job        string
	RunID      string
	State      State
	Progress   Progress
	Err        error
	StartedAt  time.Time
	FinishedAt time.Time
}

// Runner drives a Job through its state machine
type Runner struct {
	job    Job
	opts   Options
	logger logger.Logger
	state  State
}

// NewRunner creates a runner for job
func NewRunner(job Job, opts Options) *Runner {
	if opts.MaxConsecutiveErrors <= 0 {
		opts.MaxConsecutiveErrors = DefaultMaxConsecutiveErrors
	}
	if opts.ErrorWait < 0 {
		opts.ErrorWait = 0
	}
	if opts.Backoff == nil {
		opts.Backoff = retry.ConstantBackoff{Delay: opts.ErrorWait}
	}
	if opts.Sleep == nil {
		opts.Sleep = retry.Wait
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	log := opts.Logger
	if log == nil {
		log = logger.GetLogger()
	}

	return &Runner{
		job:    job,
		opts:   opts,
		logger: log.WithField("job", job.Name()),
		state:  StateInit,
	}
}

// Job returns the job being run
func (r *Runner) Job() Job {
	return r.job
}

// State returns the current state. It is only meaningful between runs or
// from the goroutine calling Run.
func (r *Runner) State() State {
	return r.state
}

// Run executes the job until it pauses, exhausts its input or aborts. The
// job's Finish is called exactly once, with a context that outlives ctx
// cancellation so the final checkpoint is still written.
func (r *Runner) Run(ctx context.Context) Result {
	res := Result{
		Job:       r.job.Name(),
		RunID:     uuid.NewString(),
		StartedAt: r.opts.Now(),
	}
	r.state = StateInit

	logger.LogComponentStart(r.logger, "crawl", map[string]interface{}{
		"run_id":                 res.RunID,
		"max_consecutive_errors": r.opts.MaxConsecutiveErrors,
		"error_wait":             r.opts.ErrorWait,
	})

	if err := r.job.Start(ctx); err != nil {
		r.state = StateAborted
		res.Err = fmt.Errorf("start %s: %w", r.job.Name(), err)
	} else {
		r.state = StateRunning
		r.state, res.Err = r.loop(ctx)
	}

	res.State = r.state
	finishErr := r.job.Finish(context.WithoutCancel(ctx), Outcome{
		RunID:     res.RunID,
		State:     res.State,
		Err:       res.Err,
		StartedAt: res.StartedAt,
	})
	if finishErr != nil {
		r.logger.WithError(finishErr).Error("Failed to persist final checkpoint")
		res.Err = errors.Join(res.Err, fmt.Errorf("finish %s: %w", r.job.Name(), finishErr))
		res.State = StateAborted
		r.state = StateAborted
	}

	res.Progress = r.job.Progress()
	res.FinishedAt = r.opts.Now()
	r.opts.Metrics.RecordRun(res.Job, res.State.String())
	r.opts.Metrics.SetCheckpoint(res.Job, res.Progress.Line)
	r.logSummary(res)
	return res
}

func (r *Runner) loop(ctx context.Context) (State, error) {
	budget := retry.NewBudget(r.opts.MaxConsecutiveErrors)
	var batches int

	for {
		if r.opts.Interrupt.Requested() {
			r.logger.WithField("reason", r.opts.Interrupt.Reason()).Info("Pausing at batch boundary")
			return StatePaused, nil
		}
		if err := ctx.Err(); err != nil {
			return StateAborted, err
		}

		result, err := r.job.Step(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return StateAborted, ctx.Err()
			}

			switch {
			case errs.IsMalformedInput(err):
				r.logger.WithError(err).Warn("Skipping malformed input row")
				continue
			case errs.IsTransient(err):
				r.opts.Metrics.RecordTransientError(r.job.Name())
				if budget.Fail() {
					r.logger.WithError(err).ErrorWithFields("Giving up after consecutive errors", map[string]interface{}{
						"consecutive_errors": budget.Count(),
					})
					return StateAborted, fmt.Errorf("%w: %w", ErrTooManyErrors, err)
				}
				wait := r.opts.Backoff.NextDelay(budget.Count())
				r.logger.WithError(err).WarnWithFields("Batch failed, retrying after wait", map[string]interface{}{
					"consecutive_errors": budget.Count(),
					"wait":               wait,
				})
				if err := r.opts.Sleep(ctx, wait); err != nil {
					return StateAborted, err
				}
				continue
			default:
				r.logger.WithError(err).Error("Batch failed with unrecoverable error")
				return StateAborted, err
			}
		}

		budget.Succeed()
		batches++
		p := r.job.Progress()
		r.opts.Metrics.SetCheckpoint(r.job.Name(), p.Line)
		if r.opts.LogEvery > 0 && batches%r.opts.LogEvery == 0 {
			logger.LogJobProgress(r.logger, r.job.Name(), p.Processed, p.Line, p.Cursor)
		}

		switch result {
		case Exhausted:
			return StateExhausted, nil
		case Stopped:
			r.logger.Info("Per-run limit reached, pausing")
			return StatePaused, nil
		}
	}
}

func (r *Runner) logSummary(res Result) {
	fields := map[string]interface{}{
		"run_id":    res.RunID,
		"state":     res.State.String(),
		"processed": res.Progress.Processed,
		"line":      res.Progress.Line,
		"cursor":    res.Progress.Cursor,
		"duration":  res.FinishedAt.Sub(res.StartedAt),
	}
	if res.Err != nil {
		r.logger.WithError(res.Err).ErrorWithFields("Crawl job finished", fields)
		return
	}
	r.logger.InfoWithFields("Crawl job finished", fields)
}

// Exit codes of the command line tool
const (
	ExitOK      = 0
	ExitFatal   = 1
	ExitAborted = 2
)

// ExitCode maps run results to a process exit code: 0 when every job paused
// or was exhausted, 2 when a job gave up after consecutive errors and 1 for
// anything else, including store failures.
func ExitCode(results ...Result) int {
	code := ExitOK
	for _, res := range results {
		switch {
		case res.State != StateAborted && res.Err == nil:
		case errs.IsFatal(res.Err):
			return ExitFatal
		case errors.Is(res.Err, ErrTooManyErrors):
			code = ExitAborted
		default:
			return ExitFatal
		}
	}
	return code
}

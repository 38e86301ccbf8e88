package jobs

import (
	"context"
	"errors"
	"fmt"
	"time"

	"twcrawl/internal/crawl"
	"twcrawl/internal/metrics"
	"twcrawl/pkg/checkpoint"
	errs "twcrawl/pkg/errors"
	"twcrawl/pkg/linesource"
	"twcrawl/pkg/logger"
	"twcrawl/pkg/paginator"
)

// Job names, also used as checkpoint keys
const (
	NameTweets   = "tweets"
	NameUsers    = "users"
	NameFriends  = "friends"
	NameGeos     = "geos"
	NamePrior    = "prior"
	NameActivity = "activity"
	NameCounts   = "counts"
)

// Names lists every job in the order they are usually run
var Names = []string{NameTweets, NameUsers, NameFriends, NameGeos, NamePrior, NameActivity, NameCounts}

// Deps are the collaborators shared by every job
type Deps struct {
	Caller  paginator.Caller
	Gate    paginator.Gate
	Logger  logger.Logger
	Metrics *metrics.Collector
	// LockPoll is how often a busy store is polled for its writer session
	LockPoll time.Duration
	Now      func() time.Time
}

func (d Deps) withDefaults(job string) Deps {
	if d.Logger == nil {
		d.Logger = logger.GetLogger()
	}
	d.Logger = d.Logger.WithField("job", job)
	if d.Now == nil {
		d.Now = time.Now
	}
	if d.LockPoll <= 0 {
		d.LockPoll = 500 * time.Millisecond
	}
	return d
}

// storeFailure wraps an error from the checkpoint store as fatal, leaving
// context errors untouched so cancellation is not mistaken for corruption.
func storeFailure(store *checkpoint.Store, op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	var storeErr *errs.StoreError
	if errors.As(err, &storeErr) {
		return err
	}
	return &errs.StoreError{Path: store.Path(), Op: op, Err: err}
}

// rejected stops a job on a permanent error from a request that does not
// address exactly one item. A 401 or 404 there describes the credentials or
// the query, so no item may be marked with a sentinel for it.
func rejected(log logger.Logger, what string, err error, fields map[string]interface{}) error {
	log.WithError(err).ErrorWithFields("Request rejected, stopping", fields)
	return fmt.Errorf("%s rejected: %w", what, err)
}

// commit takes the writer session, lets fn buffer writes and commits them
// in one transaction. The session is released before returning so it is
// never held across a rate limit wait or a remote call.
func commit(ctx context.Context, store *checkpoint.Store, poll time.Duration, fn func(*checkpoint.Session) error) error {
	sess, err := store.Acquire(ctx, poll)
	if err != nil {
		return storeFailure(store, "acquire", err)
	}
	defer sess.Release()

	if err := fn(sess); err != nil {
		return storeFailure(store, "write", err)
	}
	return storeFailure(store, "commit", sess.Commit(ctx))
}

// finish writes the final checkpoint and the run record of a job
func finish(ctx context.Context, store *checkpoint.Store, d Deps, job string, p crawl.Progress, o crawl.Outcome) error {
	if store == nil {
		return nil
	}

	run := checkpoint.Run{
		ID:         o.RunID,
		Job:        job,
		State:      o.State.String(),
		Processed:  p.Processed,
		Line:       p.Line,
		Cursor:     p.Cursor,
		StartedAt:  o.StartedAt,
		FinishedAt: d.Now(),
	}
	if o.Err != nil {
		run.Error = o.Err.Error()
	}

	return commit(ctx, store, d.LockPoll, func(sess *checkpoint.Session) error {
		cp, err := sess.Checkpoint(ctx, job)
		if err != nil {
			return err
		}
		// counts keeps no resume state, only its runs
		advanced := p.Line > cp.Line || p.Cursor != cp.Cursor || p.Processed > cp.Committed
		if job != NameCounts && advanced {
			cp.Job = job
			cp.Line = max(cp.Line, p.Line)
			cp.Cursor = p.Cursor
			cp.Committed = max(cp.Committed, p.Processed)
			if err := sess.SetCheckpoint(ctx, cp); err != nil {
				return err
			}
		}
		return sess.RecordRun(run)
	})
}

// rowSource wraps a line reader with job logging
type rowSource struct {
	path   string
	reader *linesource.Reader
	logger logger.Logger
	eof    bool
}

func openRows(path string, skip int64, log logger.Logger) (*rowSource, error) {
	rd, err := linesource.Open(path)
	if err != nil {
		return nil, err
	}

	src := &rowSource{path: path, reader: rd, logger: log}
	if err := rd.AdvanceTo(skip); err != nil {
		if !errors.Is(err, linesource.ErrEndOfInput) {
			rd.Close()
			return nil, err
		}
		log.WarnWithFields("Input is shorter than the checkpoint", map[string]interface{}{
			"input":      path,
			"checkpoint": skip,
			"lines":      rd.Line(),
		})
		src.eof = true
	}
	log.InfoWithFields("Input positioned", map[string]interface{}{
		"input": path,
		"line":  rd.Line(),
	})
	return src, nil
}

// next returns the next well-formed row. Malformed rows are logged and
// skipped. The bool is false at end of input.
func (s *rowSource) next() (linesource.Row, bool, error) {
	for !s.eof {
		row, err := s.reader.ReadNext()
		switch {
		case err == nil:
			return row, true, nil
		case errors.Is(err, linesource.ErrEndOfInput):
			s.eof = true
		case errs.IsMalformedInput(err):
			s.logger.WithError(err).Warn("Skipping malformed input row")
		default:
			return linesource.Row{}, false, fmt.Errorf("read %s: %w", s.path, err)
		}
	}
	return linesource.Row{}, false, nil
}

func (s *rowSource) line() int64 {
	return s.reader.Line()
}

func (s *rowSource) close() error {
	if s == nil {
		return nil
	}
	return s.reader.Close()
}

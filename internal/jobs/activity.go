package jobs

import (
	"context"
	"fmt"

	"twcrawl/internal/crawl"
	"twcrawl/pkg/checkpoint"
	"twcrawl/pkg/config"
	errs "twcrawl/pkg/errors"
	"twcrawl/pkg/models"
	"twcrawl/pkg/paginator"
	"twcrawl/pkg/twitter"
)

// ActivityJob records how many tweets each geotagged user posted per hour,
// using counts/all. A user's counts may span several pages; they are stored
// once the last page arrived.
type ActivityJob struct {
	deps        Deps
	store       *checkpoint.Store
	search      config.SearchConfig
	granularity string

	scan      *userScan
	line      int64
	cursor    string
	processed int64

	current     *models.User
	pendingLine int64
	pager       *paginator.Pager
	rate        []int
}

// NewActivityJob creates the activity job over the users in store
func NewActivityJob(store *checkpoint.Store, search config.SearchConfig, granularity string, deps Deps) *ActivityJob {
	if granularity == "" {
		granularity = "hour"
	}
	return &ActivityJob{
		deps:        deps.withDefaults(NameActivity),
		store:       store,
		search:      search,
		granularity: granularity,
	}
}

func (j *ActivityJob) Name() string { return NameActivity }

func (j *ActivityJob) Start(ctx context.Context) error {
	cp, err := j.store.Checkpoint(ctx, NameActivity)
	if err != nil {
		return err
	}
	j.line = cp.Line
	j.cursor = cp.Cursor
	j.processed = cp.Committed
	j.scan = newUserScan(ctx, j.store, cp.Cursor)
	return nil
}

func needsActivity(u *models.User) bool {
	return u.HasGeotags() && len(u.ActivityRate) == 0
}

func (j *ActivityJob) Step(ctx context.Context) (crawl.StepResult, error) {
	if j.current == nil {
		u, skipped, ok, err := j.scan.user(needsActivity)
		if err != nil {
			return crawl.Advanced, err
		}
		if !ok {
			if skipped > 0 {
				if err := j.save(ctx, nil, j.line+skipped, j.scan.after); err != nil {
					return crawl.Advanced, err
				}
			}
			return crawl.Exhausted, nil
		}
		j.current = u
		j.pendingLine = j.line + skipped + 1
		j.rate = nil
		j.pager = paginator.New(j.deps.Caller, j.deps.Gate, paginator.Request{
			Endpoint: twitter.EndpointCountsAll,
			Params: twitter.CountsParams(twitter.FromQuery(j.search.Query, []string{u.ID}),
				j.search.StartTime, j.search.EndTime, j.granularity),
		})
	}

	id := j.current.ID
	for {
		page, err := j.pager.Next(ctx)
		if err != nil {
			if errs.IsPermanent(err) {
				return crawl.Advanced, rejected(j.deps.Logger, "activity counts", err, map[string]interface{}{
					"user_id": id,
					"cursor":  j.pager.Cursor(),
				})
			}
			j.deps.Logger.WithError(err).WarnWithFields("Activity counts failed", map[string]interface{}{
				"user_id": id,
				"cursor":  j.pager.Cursor(),
			})
			return crawl.Advanced, err
		}
		if page == nil {
			break
		}

		buckets, err := page.Response.Counts()
		if err != nil {
			j.pager.Resume(page.Cursor)
			return crawl.Advanced, err
		}
		for _, b := range buckets {
			j.rate = append(j.rate, b.TweetCount)
		}
	}

	if len(j.rate) == 0 {
		j.deps.Logger.WarnWithFields("No activity counts returned", map[string]interface{}{
			"user_id": id,
		})
		return crawl.Advanced, j.save(ctx, nil, j.pendingLine, id)
	}

	rate := j.rate
	return crawl.Advanced, j.save(ctx, func(sess *checkpoint.Session) error {
		return updateUser(ctx, sess, id, func(stored *models.User) {
			stored.ActivityRate = rate
		})
	}, j.pendingLine, id)
}

// save commits write, when given, with the checkpoint at line and cursor
func (j *ActivityJob) save(ctx context.Context, write func(*checkpoint.Session) error, line int64, cursor string) error {
	committed := j.processed
	if write != nil {
		committed++
	}

	err := commit(ctx, j.store, j.deps.LockPoll, func(sess *checkpoint.Session) error {
		if write != nil {
			if err := write(sess); err != nil {
				return err
			}
		}
		return sess.SetCheckpoint(ctx, checkpoint.Checkpoint{
			Job:       NameActivity,
			Line:      line,
			Cursor:    cursor,
			Committed: committed,
		})
	})
	if err != nil {
		return fmt.Errorf("commit activity of %s: %w", cursor, err)
	}

	if write != nil {
		j.deps.Metrics.AddItems(NameActivity, 1)
	}
	j.processed = committed
	j.line = line
	j.cursor = cursor
	j.current = nil
	j.pager = nil
	j.rate = nil
	return nil
}

func (j *ActivityJob) Progress() crawl.Progress {
	return crawl.Progress{Processed: j.processed, Line: j.line, Cursor: j.cursor}
}

func (j *ActivityJob) Finish(ctx context.Context, o crawl.Outcome) error {
	j.scan.close()
	return finish(ctx, j.store, j.deps, NameActivity, j.Progress(), o)
}

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

// PriorJob decides for every geotagged user whether they used the hashtag
// before the study window. One search page per user is enough: any result
// makes them a prior adopter.
type PriorJob struct {
	deps   Deps
	store  *checkpoint.Store
	search config.SearchConfig

	scan      *userScan
	line      int64
	cursor    string
	processed int64

	current     *models.User
	pendingLine int64
}

// NewPriorJob creates the prior adopter job over the users in store
func NewPriorJob(store *checkpoint.Store, search config.SearchConfig, deps Deps) *PriorJob {
	return &PriorJob{
		deps:   deps.withDefaults(NamePrior),
		store:  store,
		search: search,
	}
}

func (j *PriorJob) Name() string { return NamePrior }

func (j *PriorJob) Start(ctx context.Context) error {
	cp, err := j.store.Checkpoint(ctx, NamePrior)
	if err != nil {
		return err
	}
	j.line = cp.Line
	j.cursor = cp.Cursor
	j.processed = cp.Committed
	j.scan = newUserScan(ctx, j.store, cp.Cursor)
	return nil
}

func needsPrior(u *models.User) bool {
	return u.HasGeotags() && u.PriorAdopter == models.PriorAdopterUnknown
}

func (j *PriorJob) Step(ctx context.Context) (crawl.StepResult, error) {
	if j.current == nil {
		u, skipped, ok, err := j.scan.user(needsPrior)
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
	}

	u := j.current
	pager := paginator.New(j.deps.Caller, j.deps.Gate, paginator.Request{
		Endpoint: twitter.EndpointSearchAll,
		Params: twitter.SearchParams(twitter.FromQuery(j.search.Query, []string{u.ID}),
			j.search.StartTime, j.search.EndTime, j.search.MaxResults, ""),
	})

	page, err := pager.Next(ctx)
	if err != nil {
		if errs.IsPermanent(err) {
			return crawl.Advanced, rejected(j.deps.Logger, "prior adopter search", err, map[string]interface{}{
				"user_id": u.ID,
			})
		}
		j.deps.Logger.WithError(err).WarnWithFields("Prior adopter search failed", map[string]interface{}{
			"user_id": u.ID,
		})
		return crawl.Advanced, err
	}

	status := models.PriorAdopterFalse
	if page != nil && page.Response.Meta.ResultCount > 0 {
		status = models.PriorAdopterTrue
	}
	return crawl.Advanced, j.save(ctx, func(sess *checkpoint.Session) error {
		return updateUser(ctx, sess, u.ID, func(stored *models.User) {
			stored.PriorAdopter = status
		})
	}, j.pendingLine, u.ID)
}

// save commits write, when given, with the checkpoint at line and cursor
func (j *PriorJob) save(ctx context.Context, write func(*checkpoint.Session) error, line int64, cursor string) error {
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
			Job:       NamePrior,
			Line:      line,
			Cursor:    cursor,
			Committed: committed,
		})
	})
	if err != nil {
		return fmt.Errorf("commit prior adopter of %s: %w", cursor, err)
	}

	if write != nil {
		j.deps.Metrics.AddItems(NamePrior, 1)
	}
	j.processed = committed
	j.line = line
	j.cursor = cursor
	j.current = nil
	return nil
}

func (j *PriorJob) Progress() crawl.Progress {
	return crawl.Progress{Processed: j.processed, Line: j.line, Cursor: j.cursor}
}

func (j *PriorJob) Finish(ctx context.Context, o crawl.Outcome) error {
	j.scan.close()
	return finish(ctx, j.store, j.deps, NamePrior, j.Progress(), o)
}

package jobs

import (
	"context"
	"fmt"

	"twcrawl/internal/crawl"
	"twcrawl/pkg/checkpoint"
	errs "twcrawl/pkg/errors"
	"twcrawl/pkg/logger"
	"twcrawl/pkg/models"
	"twcrawl/pkg/paginator"
	"twcrawl/pkg/twitter"
)

// FriendsJob stores the list of accounts each author follows. Every author
// is one unit of work: all friends/ids pages are fetched, then the whole list
// is committed with the input line it came from.
type FriendsJob struct {
	deps  Deps
	store *checkpoint.Store
	input string

	rows      *rowSource
	line      int64
	processed int64

	// unit in progress, kept across a failed Step so the retry continues
	// from the page that failed
	author     string
	authorLine int64
	pager      *paginator.Pager
	ids        []string
}

// NewFriendsJob creates the friends job reading input into store
func NewFriendsJob(store *checkpoint.Store, input string, deps Deps) *FriendsJob {
	return &FriendsJob{
		deps:  deps.withDefaults(NameFriends),
		store: store,
		input: input,
	}
}

func (j *FriendsJob) Name() string { return NameFriends }

func (j *FriendsJob) Start(ctx context.Context) error {
	cp, err := j.store.Checkpoint(ctx, NameFriends)
	if err != nil {
		return err
	}
	j.line = cp.Line
	j.processed = cp.Committed

	j.rows, err = openRows(j.input, cp.Line, j.deps.Logger)
	return err
}

func (j *FriendsJob) Step(ctx context.Context) (crawl.StepResult, error) {
	if j.author == "" {
		found, err := j.nextAuthor(ctx)
		if err != nil {
			return crawl.Advanced, err
		}
		if !found {
			return crawl.Exhausted, nil
		}
	}

	for {
		page, err := j.pager.Next(ctx)
		if err != nil {
			if errs.IsPermanent(err) {
				return crawl.Advanced, j.save(ctx, checkpoint.SentinelEntity(models.KindFriends, j.author, sentinelFor(err)))
			}
			j.deps.Logger.WithError(err).WarnWithFields("Friends download failed", map[string]interface{}{
				"user_id": j.author,
				"cursor":  j.pager.Cursor(),
				"fetched": len(j.ids),
			})
			return crawl.Advanced, err
		}
		if page == nil {
			break
		}
		j.ids = append(j.ids, page.Response.IDs...)
	}

	e, err := checkpoint.NewEntity(models.KindFriends, j.author, models.FriendList{UserID: j.author, IDs: j.ids})
	if err != nil {
		return crawl.Advanced, err
	}
	return crawl.Advanced, j.save(ctx, e)
}

// nextAuthor skips authors already stored and opens a pager on the next one
func (j *FriendsJob) nextAuthor(ctx context.Context) (bool, error) {
	for {
		row, ok, err := j.rows.next()
		if err != nil {
			return false, err
		}
		if !ok {
			j.line = j.rows.line()
			return false, nil
		}

		_, known, err := j.store.Entity(ctx, models.KindFriends, row.OwnerID)
		if err != nil {
			return false, storeFailure(j.store, "read", err)
		}
		if known {
			// nothing to persist for this line, Finish records the position
			j.line = j.rows.line()
			continue
		}

		j.author = row.OwnerID
		j.authorLine = j.rows.line()
		j.ids = nil
		j.pager = paginator.New(j.deps.Caller, j.deps.Gate, paginator.Request{
			Endpoint: twitter.EndpointFriendIDs,
			Params:   twitter.FriendIDsParams(row.OwnerID),
			Mode:     paginator.CursorForward,
		})
		return true, nil
	}
}

func (j *FriendsJob) save(ctx context.Context, e checkpoint.Entity) error {
	if e.IsSentinel() {
		logger.LogSentinel(j.deps.Logger, NameFriends, e.ID, string(e.Sentinel))
		j.deps.Metrics.RecordSentinel(NameFriends, string(e.Sentinel))
	}

	committed := j.processed
	if !e.IsSentinel() {
		committed++
	}

	err := commit(ctx, j.store, j.deps.LockPoll, func(sess *checkpoint.Session) error {
		if err := sess.SetEntity(e); err != nil {
			return err
		}
		return sess.SetCheckpoint(ctx, checkpoint.Checkpoint{
			Job:       NameFriends,
			Line:      j.authorLine,
			Committed: committed,
		})
	})
	if err != nil {
		return fmt.Errorf("commit friends of %s: %w", j.author, err)
	}

	if committed > j.processed {
		j.deps.Metrics.AddItems(NameFriends, 1)
	}
	j.deps.Logger.DebugWithFields("Friends saved", map[string]interface{}{
		"user_id": j.author,
		"friends": len(j.ids),
		"pages":   j.pager.Pages(),
	})

	j.processed = committed
	j.line = j.authorLine
	j.author = ""
	j.pager = nil
	j.ids = nil
	return nil
}

func (j *FriendsJob) Progress() crawl.Progress {
	return crawl.Progress{Processed: j.processed, Line: j.line}
}

func (j *FriendsJob) Finish(ctx context.Context, o crawl.Outcome) error {
	defer j.rows.close()
	return finish(ctx, j.store, j.deps, NameFriends, j.Progress(), o)
}

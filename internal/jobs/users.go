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

// UsersJob looks up the profile of every tweet author in the tweets log. It
// collects up to BatchSize distinct authors not yet in the store, fetches them
// in one users lookup and commits the users together with the line reached.
type UsersJob struct {
	deps      Deps
	store     *checkpoint.Store
	input     string
	batchSize int

	rows      *rowSource
	line      int64
	processed int64

	// pending batch, kept across a failed Step so the retry sends the same ids
	pending     []string
	pendingSet  map[string]struct{}
	pendingLine int64
}

// NewUsersJob creates the users job reading input into store
func NewUsersJob(store *checkpoint.Store, input string, batchSize int, deps Deps) *UsersJob {
	if batchSize <= 0 || batchSize > twitter.MaxUsersPerLookup {
		batchSize = twitter.MaxUsersPerLookup
	}
	return &UsersJob{
		deps:       deps.withDefaults(NameUsers),
		store:      store,
		input:      input,
		batchSize:  batchSize,
		pendingSet: make(map[string]struct{}),
	}
}

func (j *UsersJob) Name() string { return NameUsers }

func (j *UsersJob) Start(ctx context.Context) error {
	cp, err := j.store.Checkpoint(ctx, NameUsers)
	if err != nil {
		return err
	}
	j.line = cp.Line
	j.pendingLine = cp.Line
	j.processed = cp.Committed

	j.rows, err = openRows(j.input, cp.Line, j.deps.Logger)
	return err
}

func (j *UsersJob) Step(ctx context.Context) (crawl.StepResult, error) {
	if err := j.fill(ctx); err != nil {
		return crawl.Advanced, err
	}

	if len(j.pending) == 0 {
		// only already known authors remained; remember how far we read
		if j.pendingLine > j.line {
			if err := j.save(ctx, nil); err != nil {
				return crawl.Advanced, err
			}
		}
		return crawl.Exhausted, nil
	}

	entities, err := j.lookup(ctx)
	if err != nil {
		return crawl.Advanced, err
	}
	if err := j.save(ctx, entities); err != nil {
		return crawl.Advanced, err
	}

	if j.rows.eof {
		return crawl.Exhausted, nil
	}
	return crawl.Advanced, nil
}

// fill reads rows until the batch is full or the input ends
func (j *UsersJob) fill(ctx context.Context) error {
	for len(j.pending) < j.batchSize {
		row, ok, err := j.rows.next()
		if err != nil {
			return err
		}
		if !ok {
			break
		}
		j.pendingLine = j.rows.line()

		if _, dup := j.pendingSet[row.OwnerID]; dup {
			continue
		}
		_, known, err := j.store.Entity(ctx, models.KindUser, row.OwnerID)
		if err != nil {
			return storeFailure(j.store, "read", err)
		}
		if known {
			continue
		}
		j.pending = append(j.pending, row.OwnerID)
		j.pendingSet[row.OwnerID] = struct{}{}
	}
	// malformed rows read after the last good one belong to this batch too
	j.pendingLine = j.rows.line()
	return nil
}

// lookup fetches the pending batch and maps every id to a user or a sentinel
func (j *UsersJob) lookup(ctx context.Context) ([]checkpoint.Entity, error) {
	pager := paginator.New(j.deps.Caller, j.deps.Gate, paginator.Request{
		Endpoint: twitter.EndpointUsers,
		Params:   twitter.UsersLookupParams(j.pending),
	})

	page, err := pager.Next(ctx)
	if err != nil {
		if errs.IsPermanent(err) {
			if len(j.pending) == 1 {
				id := j.pending[0]
				j.logSentinel(id, sentinelFor(err))
				return []checkpoint.Entity{checkpoint.SentinelEntity(models.KindUser, id, sentinelFor(err))}, nil
			}
			return nil, rejected(j.deps.Logger, fmt.Sprintf("users lookup of %d ids", len(j.pending)), err, map[string]interface{}{
				"batch_size": len(j.pending),
				"first_id":   j.pending[0],
				"line":       j.line,
			})
		}
		j.deps.Logger.WithError(err).WarnWithFields("Users lookup failed", map[string]interface{}{
			"batch_size": len(j.pending),
			"first_id":   j.pending[0],
		})
		return nil, err
	}

	users, err := page.Response.Users()
	if err != nil {
		return nil, err
	}

	found := make(map[string]checkpoint.Entity, len(users))
	for _, u := range users {
		e, err := checkpoint.NewEntity(models.KindUser, u.ID, u.ToModel())
		if err != nil {
			return nil, err
		}
		found[u.ID] = e
	}
	for _, apiErr := range page.Response.Errors {
		id := apiErr.ID()
		if _, ok := j.pendingSet[id]; !ok {
			continue
		}
		if _, ok := found[id]; ok {
			continue
		}
		j.logSentinel(id, apiErr.Sentinel())
		found[id] = checkpoint.SentinelEntity(models.KindUser, id, apiErr.Sentinel())
	}

	entities := make([]checkpoint.Entity, 0, len(j.pending))
	for _, id := range j.pending {
		e, ok := found[id]
		if !ok {
			// neither returned nor reported: the account is gone
			j.logSentinel(id, models.SentinelNotFound)
			e = checkpoint.SentinelEntity(models.KindUser, id, models.SentinelNotFound)
		}
		entities = append(entities, e)
	}
	return entities, nil
}

func (j *UsersJob) save(ctx context.Context, entities []checkpoint.Entity) error {
	var stored int64
	for _, e := range entities {
		if !e.IsSentinel() {
			stored++
		}
	}

	err := commit(ctx, j.store, j.deps.LockPoll, func(sess *checkpoint.Session) error {
		for _, e := range entities {
			if err := sess.SetEntity(e); err != nil {
				return err
			}
		}
		return sess.SetCheckpoint(ctx, checkpoint.Checkpoint{
			Job:       NameUsers,
			Line:      j.pendingLine,
			Committed: j.processed + stored,
		})
	})
	if err != nil {
		return fmt.Errorf("commit users batch: %w", err)
	}

	j.line = j.pendingLine
	j.processed += stored
	j.pending = j.pending[:0]
	clear(j.pendingSet)
	j.deps.Metrics.AddItems(NameUsers, int(stored))
	return nil
}

func (j *UsersJob) logSentinel(id string, s models.Sentinel) {
	logger.LogSentinel(j.deps.Logger, NameUsers, id, string(s))
	j.deps.Metrics.RecordSentinel(NameUsers, string(s))
}

func (j *UsersJob) Progress() crawl.Progress {
	return crawl.Progress{Processed: j.processed, Line: j.line}
}

func (j *UsersJob) Finish(ctx context.Context, o crawl.Outcome) error {
	defer j.rows.close()
	return finish(ctx, j.store, j.deps, NameUsers, j.Progress(), o)
}

// sentinelFor maps a permanent API error to the sentinel recorded for it
func sentinelFor(err error) models.Sentinel {
	if errs.IsType(err, errs.ErrorTypeAuth) {
		return models.SentinelUnauthorized
	}
	return models.SentinelNotFound
}

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

// GeosJob finds the places authors tweeted from. Authors are grouped into
// batches of up to 29 and searched with one "from:" query per batch. Each
// committed page stores the batch start line and the next_token, so a resumed
// run re-reads the same batch and continues from the page after the last
// committed one.
type GeosJob struct {
	deps   Deps
	store  *checkpoint.Store
	input  string
	search config.SearchConfig
	size   int

	rows      *rowSource
	line      int64
	cursor    string
	processed int64

	// resume is the saved cursor applied to the first batch only
	resume string

	batch      []string
	batchStart int64
	batchEnd   int64
	pager      *paginator.Pager
}

// NewGeosJob creates the geos job. usersPerQuery is capped at
// twitter.MaxAuthorsPerGeoQuery.
func NewGeosJob(store *checkpoint.Store, input string, search config.SearchConfig, usersPerQuery int, deps Deps) *GeosJob {
	if usersPerQuery <= 0 || usersPerQuery > twitter.MaxAuthorsPerGeoQuery {
		usersPerQuery = twitter.MaxAuthorsPerGeoQuery
	}
	return &GeosJob{
		deps:   deps.withDefaults(NameGeos),
		store:  store,
		input:  input,
		search: search,
		size:   usersPerQuery,
	}
}

func (j *GeosJob) Name() string { return NameGeos }

func (j *GeosJob) Start(ctx context.Context) error {
	cp, err := j.store.Checkpoint(ctx, NameGeos)
	if err != nil {
		return err
	}
	j.line = cp.Line
	j.cursor = cp.Cursor
	j.resume = cp.Cursor
	j.processed = cp.Committed

	if cp.Cursor != "" {
		j.deps.Logger.InfoWithFields("Resuming inside a batch", map[string]interface{}{
			"line":   cp.Line,
			"cursor": cp.Cursor,
		})
	}

	j.rows, err = openRows(j.input, cp.Line, j.deps.Logger)
	return err
}

func (j *GeosJob) Step(ctx context.Context) (crawl.StepResult, error) {
	if j.pager == nil {
		if err := j.nextBatch(); err != nil {
			return crawl.Advanced, err
		}
		if len(j.batch) == 0 {
			if j.batchEnd > j.line {
				if err := j.save(ctx, nil, j.batchEnd, ""); err != nil {
					return crawl.Advanced, err
				}
			}
			return crawl.Exhausted, nil
		}
	}

	page, err := j.pager.Next(ctx)
	if err != nil {
		if errs.IsPermanent(err) {
			return crawl.Advanced, rejected(j.deps.Logger, "geo search", err, map[string]interface{}{
				"first_id":   j.batch[0],
				"batch_size": len(j.batch),
				"cursor":     j.pager.Cursor(),
			})
		}
		j.deps.Logger.WithError(err).WarnWithFields("Geo search failed", map[string]interface{}{
			"first_id": j.batch[0],
			"cursor":   j.pager.Cursor(),
		})
		return crawl.Advanced, err
	}
	if page == nil {
		return j.endBatch(ctx, nil)
	}

	tags, err := geotags(page.Response)
	if err != nil {
		// fetch this page again on retry
		j.pager.Resume(page.Cursor)
		return crawl.Advanced, err
	}
	if !page.HasMore {
		return j.endBatch(ctx, tags)
	}
	return crawl.Advanced, j.save(ctx, tags, j.batchStart, page.Next)
}

// nextBatch reads distinct authors up to the batch size and opens the pager
func (j *GeosJob) nextBatch() error {
	j.batch = j.batch[:0]
	j.batchStart = j.rows.line()
	seen := make(map[string]struct{}, j.size)

	for len(j.batch) < j.size {
		row, ok, err := j.rows.next()
		if err != nil {
			return err
		}
		if !ok {
			break
		}
		if _, dup := seen[row.OwnerID]; dup {
			continue
		}
		seen[row.OwnerID] = struct{}{}
		j.batch = append(j.batch, row.OwnerID)
	}
	j.batchEnd = j.rows.line()
	if len(j.batch) == 0 {
		return nil
	}

	j.pager = paginator.New(j.deps.Caller, j.deps.Gate, paginator.Request{
		Endpoint: twitter.EndpointSearchAll,
		Params: twitter.GeoSearchParams(j.search.Query, j.search.StartTime, j.search.EndTime,
			j.search.MaxResults, j.batch),
	})
	if j.resume != "" {
		j.pager.Resume(j.resume)
		j.resume = ""
	}
	return nil
}

func (j *GeosJob) endBatch(ctx context.Context, tags *pageTags) (crawl.StepResult, error) {
	if err := j.save(ctx, tags, j.batchEnd, ""); err != nil {
		return crawl.Advanced, err
	}
	j.pager = nil
	if j.rows.eof {
		return crawl.Exhausted, nil
	}
	return crawl.Advanced, nil
}

type geotag struct {
	place   models.Place
	tweetID string
}

// pageTags holds the geotagged tweets of one page grouped by author
type pageTags struct {
	byAuthor map[string][]geotag
	authors  []string
}

func geotags(resp *twitter.Response) (*pageTags, error) {
	tweets, err := resp.Tweets()
	if err != nil {
		return nil, err
	}
	places := resp.PlacesByID()

	tags := &pageTags{byAuthor: make(map[string][]geotag)}
	for _, t := range tweets {
		place, ok := places[t.PlaceID()]
		if !ok {
			continue
		}
		if _, seen := tags.byAuthor[t.AuthorID]; !seen {
			tags.authors = append(tags.authors, t.AuthorID)
		}
		tags.byAuthor[t.AuthorID] = append(tags.byAuthor[t.AuthorID], geotag{place: place.ToModel(), tweetID: t.ID})
	}
	return tags, nil
}

// save merges the geotags into the stored users and commits them with the
// checkpoint. Authors that were never looked up or carry a sentinel are
// skipped.
func (j *GeosJob) save(ctx context.Context, tags *pageTags, line int64, cursor string) error {
	if tags == nil {
		tags = &pageTags{}
	}

	var merged int64
	err := commit(ctx, j.store, j.deps.LockPoll, func(sess *checkpoint.Session) error {
		merged = 0
		for _, id := range tags.authors {
			e, ok, err := sess.Entity(ctx, models.KindUser, id)
			if err != nil {
				return err
			}
			if !ok || e.IsSentinel() {
				j.deps.Logger.DebugWithFields("No stored user for geotagged tweets", map[string]interface{}{
					"user_id": id,
					"tweets":  len(tags.byAuthor[id]),
				})
				continue
			}
			if err := updateUser(ctx, sess, id, func(u *models.User) {
				for _, tag := range tags.byAuthor[id] {
					u.AddGeotag(tag.place, tag.tweetID)
				}
			}); err != nil {
				return err
			}
			merged++
		}
		return sess.SetCheckpoint(ctx, checkpoint.Checkpoint{
			Job:       NameGeos,
			Line:      line,
			Cursor:    cursor,
			Committed: j.processed + merged,
		})
	})
	if err != nil {
		return fmt.Errorf("commit geos page: %w", err)
	}

	j.deps.Metrics.AddItems(NameGeos, int(merged))
	j.processed += merged
	j.line = line
	j.cursor = cursor
	return nil
}

func (j *GeosJob) Progress() crawl.Progress {
	return crawl.Progress{Processed: j.processed, Line: j.line, Cursor: j.cursor}
}

func (j *GeosJob) Finish(ctx context.Context, o crawl.Outcome) error {
	defer j.rows.close()
	return finish(ctx, j.store, j.deps, NameGeos, j.Progress(), o)
}

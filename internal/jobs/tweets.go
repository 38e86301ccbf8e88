package jobs

import (
	"context"
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"

	"twcrawl/internal/crawl"
	"twcrawl/pkg/checkpoint"
	"twcrawl/pkg/config"
	errs "twcrawl/pkg/errors"
	"twcrawl/pkg/paginator"
	"twcrawl/pkg/twitter"
)

const tweetFields = "author_id,created_at,geo"

// TweetsOutput names the files the tweets job writes
type TweetsOutput struct {
	TweetsCSV string
	MetaCSV   string
	// GeoTweetsCSV receives a copy of every geotagged row, "" disables it
	GeoTweetsCSV string
	ProgressFile string
}

// TweetsJob pages through a full-archive search and appends every tweet to
// the tweet log. The logs are synced before the progress file is replaced,
// so a crash between the two replays the last page: rows are delivered at
// least once.
type TweetsJob struct {
	deps     Deps
	store    *checkpoint.Store
	search   config.SearchConfig
	out      TweetsOutput
	maxPages int

	progress *checkpoint.ProgressFile
	pager    *paginator.Pager
	tweets   *appendLog
	meta     *appendLog
	geo      *appendLog

	count     int64
	token     string
	exhausted bool
	pages     int
}

// NewTweetsJob creates the tweets job. store may be nil; it only receives
// run records. maxPages <= 0 means no per-run limit.
func NewTweetsJob(store *checkpoint.Store, search config.SearchConfig, out TweetsOutput, maxPages int, deps Deps) *TweetsJob {
	return &TweetsJob{
		deps:     deps.withDefaults(NameTweets),
		store:    store,
		search:   search,
		out:      out,
		maxPages: maxPages,
		progress: checkpoint.NewProgressFile(out.ProgressFile),
	}
}

func (j *TweetsJob) Name() string { return NameTweets }

func (j *TweetsJob) Start(ctx context.Context) error {
	saved, err := j.progress.Load()
	if err != nil {
		return &errs.StoreError{Path: j.progress.Path(), Op: "load", Err: err}
	}
	j.count = saved.Count
	j.token = saved.Token
	j.exhausted = saved.Exhausted
	j.pages = 0

	j.pager = paginator.New(j.deps.Caller, j.deps.Gate, paginator.Request{
		Endpoint: twitter.EndpointSearchAll,
		Params: twitter.SearchParams(j.search.Query, j.search.StartTime, j.search.EndTime,
			j.search.MaxResults, tweetFields),
	})
	j.pager.Resume(saved.Token)

	j.deps.Logger.InfoWithFields("Tweet search positioned", map[string]interface{}{
		"token":     saved.Token,
		"count":     saved.Count,
		"exhausted": saved.Exhausted,
	})
	if j.exhausted {
		return nil
	}

	if j.tweets, err = openAppendLog(j.out.TweetsCSV); err != nil {
		return err
	}
	if j.meta, err = openAppendLog(j.out.MetaCSV); err != nil {
		return err
	}
	if j.out.GeoTweetsCSV != "" {
		if j.geo, err = openAppendLog(j.out.GeoTweetsCSV); err != nil {
			return err
		}
	}
	return nil
}

func (j *TweetsJob) Step(ctx context.Context) (crawl.StepResult, error) {
	if j.exhausted {
		return crawl.Exhausted, nil
	}
	if j.maxPages > 0 && j.pages >= j.maxPages {
		return crawl.Stopped, nil
	}

	page, err := j.pager.Next(ctx)
	if err != nil {
		j.deps.Logger.WithError(err).WarnWithFields("Tweet search failed", map[string]interface{}{
			"token": j.pager.Cursor(),
			"count": j.count,
		})
		return crawl.Advanced, err
	}
	if page == nil {
		return crawl.Exhausted, j.save("", true, 0)
	}

	tweets, err := page.Response.Tweets()
	if err != nil {
		j.pager.Resume(page.Cursor)
		return crawl.Advanced, err
	}
	if err := j.append(tweets, page.Response.Meta); err != nil {
		return crawl.Advanced, err
	}
	if err := j.save(page.Next, !page.HasMore, int64(len(tweets))); err != nil {
		return crawl.Advanced, err
	}
	j.pages++

	switch {
	case !page.HasMore:
		return crawl.Exhausted, nil
	case j.maxPages > 0 && j.pages >= j.maxPages:
		return crawl.Stopped, nil
	default:
		return crawl.Advanced, nil
	}
}

// append writes one page to the logs and syncs them
func (j *TweetsJob) append(tweets []twitter.Tweet, meta twitter.Meta) error {
	for _, t := range tweets {
		row := []string{t.ID, t.AuthorID, t.CreatedAt, string(t.Geo)}
		if err := j.tweets.write(row); err != nil {
			return err
		}
		if j.geo != nil && t.PlaceID() != "" {
			if err := j.geo.write(row); err != nil {
				return err
			}
		}
	}
	if err := j.meta.write([]string{meta.NewestID, meta.OldestID, meta.NextToken}); err != nil {
		return err
	}

	for _, l := range []*appendLog{j.tweets, j.geo, j.meta} {
		if err := l.sync(); err != nil {
			return err
		}
	}
	return nil
}

func (j *TweetsJob) save(token string, exhausted bool, added int64) error {
	next := checkpoint.Progress{Token: token, Count: j.count + added, Exhausted: exhausted}
	if err := j.progress.Save(next); err != nil {
		return &errs.StoreError{Path: j.progress.Path(), Op: "save", Err: err}
	}

	j.deps.Metrics.AddItems(NameTweets, int(added))
	j.count = next.Count
	j.token = token
	j.exhausted = exhausted
	return nil
}

func (j *TweetsJob) Progress() crawl.Progress {
	return crawl.Progress{Processed: j.count, Cursor: j.token}
}

func (j *TweetsJob) Finish(ctx context.Context, o crawl.Outcome) error {
	for _, l := range []*appendLog{j.tweets, j.meta, j.geo} {
		if err := l.close(); err != nil {
			j.deps.Logger.WithError(err).Warn("Failed to close tweet log")
		}
	}
	if j.store == nil {
		return nil
	}
	// the progress file stays authoritative, the checkpoint row mirrors it
	return finish(ctx, j.store, j.deps, NameTweets, j.Progress(), o)
}

// appendLog is a CSV file opened for appending
type appendLog struct {
	file *os.File
	w    *csv.Writer
}

func openAppendLog(path string) (*appendLog, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, &errs.StoreError{Path: path, Op: "mkdir", Err: err}
	}
	file, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return nil, &errs.StoreError{Path: path, Op: "open", Err: err}
	}
	return &appendLog{file: file, w: csv.NewWriter(file)}, nil
}

func (l *appendLog) write(row []string) error {
	if err := l.w.Write(row); err != nil {
		return &errs.StoreError{Path: l.file.Name(), Op: "write", Err: err}
	}
	return nil
}

func (l *appendLog) sync() error {
	if l == nil {
		return nil
	}
	l.w.Flush()
	if err := l.w.Error(); err != nil {
		return &errs.StoreError{Path: l.file.Name(), Op: "flush", Err: err}
	}
	if err := l.file.Sync(); err != nil {
		return &errs.StoreError{Path: l.file.Name(), Op: "sync", Err: err}
	}
	return nil
}

func (l *appendLog) close() error {
	if l == nil {
		return nil
	}
	l.w.Flush()
	if err := l.file.Close(); err != nil {
		return fmt.Errorf("close %s: %w", l.file.Name(), err)
	}
	return nil
}

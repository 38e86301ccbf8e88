package jobs

import (
	"context"

	"twcrawl/internal/crawl"
	"twcrawl/pkg/checkpoint"
	"twcrawl/pkg/config"
	"twcrawl/pkg/paginator"
	"twcrawl/pkg/twitter"
)

// CountsJob runs one counts/all query and keeps the buckets for a summary.
// It has no resume state; the store, when set, only receives the run record.
type CountsJob struct {
	deps        Deps
	store       *checkpoint.Store
	search      config.SearchConfig
	granularity string

	pager   *paginator.Pager
	buckets []twitter.CountBucket
	total   int64
}

// NewCountsJob creates the counts job. store may be nil.
func NewCountsJob(store *checkpoint.Store, search config.SearchConfig, granularity string, deps Deps) *CountsJob {
	if granularity == "" {
		granularity = "day"
	}
	return &CountsJob{
		deps:        deps.withDefaults(NameCounts),
		store:       store,
		search:      search,
		granularity: granularity,
	}
}

func (j *CountsJob) Name() string { return NameCounts }

func (j *CountsJob) Start(context.Context) error {
	j.buckets = nil
	j.total = 0
	j.pager = paginator.New(j.deps.Caller, j.deps.Gate, paginator.Request{
		Endpoint: twitter.EndpointCountsAll,
		Params:   twitter.CountsParams(j.search.Query, j.search.StartTime, j.search.EndTime, j.granularity),
	})
	return nil
}

func (j *CountsJob) Step(ctx context.Context) (crawl.StepResult, error) {
	page, err := j.pager.Next(ctx)
	if err != nil {
		j.deps.Logger.WithError(err).WarnWithFields("Counts request failed", map[string]interface{}{
			"query":  j.search.Query,
			"cursor": j.pager.Cursor(),
		})
		return crawl.Advanced, err
	}
	if page == nil {
		return crawl.Exhausted, nil
	}

	buckets, err := page.Response.Counts()
	if err != nil {
		j.pager.Resume(page.Cursor)
		return crawl.Advanced, err
	}
	j.buckets = append(j.buckets, buckets...)
	if page.Response.Meta.TotalTweetCount > 0 {
		j.total += int64(page.Response.Meta.TotalTweetCount)
	} else {
		for _, b := range buckets {
			j.total += int64(b.TweetCount)
		}
	}
	j.deps.Metrics.AddItems(NameCounts, len(buckets))

	if !page.HasMore {
		return crawl.Exhausted, nil
	}
	return crawl.Advanced, nil
}

// Buckets returns the buckets collected so far, oldest page first
func (j *CountsJob) Buckets() []twitter.CountBucket {
	return j.buckets
}

// Total returns the number of matching tweets counted so far
func (j *CountsJob) Total() int64 {
	return j.total
}

func (j *CountsJob) Progress() crawl.Progress {
	return crawl.Progress{Processed: j.total}
}

func (j *CountsJob) Finish(ctx context.Context, o crawl.Outcome) error {
	return finish(ctx, j.store, j.deps, NameCounts, j.Progress(), o)
}

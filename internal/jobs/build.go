package jobs

import (
	"fmt"
	"slices"

	"twcrawl/internal/crawl"
	"twcrawl/pkg/checkpoint"
	"twcrawl/pkg/config"
)

// StorePath returns the store a job keeps its checkpoint and data in.
// friends has its own file; every other job shares the users store.
func StorePath(name string, cfg *config.Config) string {
	if name == NameFriends {
		return cfg.Store.FriendsDB
	}
	return cfg.Store.UsersDB
}

// Valid reports whether name is a known job
func Valid(name string) bool {
	return slices.Contains(Names, name)
}

// New builds the job called name from cfg. store must be the one StorePath
// names for the job.
func New(name string, cfg *config.Config, store *checkpoint.Store, deps Deps) (crawl.Job, error) {
	j := cfg.Jobs
	switch name {
	case NameTweets:
		out := TweetsOutput{
			TweetsCSV:    cfg.Input.TweetsCSV,
			MetaCSV:      cfg.Input.MetaCSV,
			GeoTweetsCSV: cfg.Input.GeoTweetsCSV,
			ProgressFile: cfg.Input.ProgressFile,
		}
		return NewTweetsJob(store, j.Tweets.SearchConfig, out, j.Tweets.MaxPages, deps), nil
	case NameUsers:
		return NewUsersJob(store, cfg.Input.TweetsCSV, j.Users.BatchSize, deps), nil
	case NameFriends:
		return NewFriendsJob(store, cfg.Input.TweetsCSV, deps), nil
	case NameGeos:
		return NewGeosJob(store, cfg.Input.TweetsCSV, j.Geos.SearchConfig, j.Geos.UsersPerQuery, deps), nil
	case NamePrior:
		return NewPriorJob(store, j.Prior.SearchConfig, deps), nil
	case NameActivity:
		return NewActivityJob(store, j.Activity.SearchConfig, j.Activity.Granularity, deps), nil
	case NameCounts:
		return NewCountsJob(store, j.Counts.SearchConfig, j.Counts.Granularity, deps), nil
	default:
		return nil, fmt.Errorf("unknown job %q", name)
	}
}

package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"twcrawl/internal/crawl"
	"twcrawl/internal/jobs"
	"twcrawl/internal/metrics"
	"twcrawl/pkg/auth"
	"twcrawl/pkg/checkpoint"
	"twcrawl/pkg/config"
	"twcrawl/pkg/logger"
	"twcrawl/pkg/ratelimit"
	"twcrawl/pkg/retry"
	"twcrawl/pkg/twitter"
)

// app holds what every job of one invocation shares: one gate, one client
// and one open handle per store file
type app struct {
	cfg     *config.Config
	log     logger.Logger
	metrics *metrics.Collector
	gate    *ratelimit.Gate
	client  *twitter.Client
	stores  map[string]*checkpoint.Store
}

func newApp(cfg *config.Config, token string) *app {
	log := logger.GetLogger()
	collector := metrics.NewCollector()

	rl := cfg.RateLimit
	intervals := ratelimit.Intervals{
		ratelimit.ClassSearch:  rl.Search,
		ratelimit.ClassCounts:  rl.Counts,
		ratelimit.ClassUsers:   rl.Users,
		ratelimit.ClassFriends: rl.Friends,
		ratelimit.ClassError:   rl.Error,
	}
	opts := []ratelimit.Option{
		ratelimit.WithObserver(func(class ratelimit.Class, wait time.Duration) {
			collector.ObserveRateWait(string(class), wait)
			if wait > 0 {
				logger.LogRateWait(log, string(class), wait)
			}
		}),
	}
	for class := range intervals {
		opts = append(opts, ratelimit.WithWindow(class, rl.WindowRequests, rl.Window))
	}

	client := twitter.NewClient(twitter.Options{
		BaseURL:     cfg.Twitter.BaseURL,
		BearerToken: token,
		UserAgent:   cfg.Twitter.UserAgent,
		Timeout:     cfg.Twitter.Timeout,
		Logger:      log,
		Observer: func(endpoint twitter.Endpoint, status int, d time.Duration) {
			collector.ObserveRequest(string(endpoint), status, d)
		},
	})

	return &app{
		cfg:     cfg,
		log:     log,
		metrics: collector,
		gate:    ratelimit.NewGate(intervals, opts...),
		client:  client,
		stores:  make(map[string]*checkpoint.Store),
	}
}

// store opens path once per invocation
func (a *app) store(ctx context.Context, path string) (*checkpoint.Store, error) {
	if s, ok := a.stores[path]; ok {
		return s, nil
	}

	opts := checkpoint.DefaultOptions()
	opts.Logger = a.log
	s, err := checkpoint.Open(ctx, path, opts)
	if err != nil {
		return nil, err
	}
	a.stores[path] = s
	return s, nil
}

func (a *app) deps() jobs.Deps {
	return jobs.Deps{
		Caller:   a.client,
		Gate:     a.gate,
		Logger:   a.log,
		Metrics:  a.metrics,
		LockPoll: a.cfg.Store.LockPoll,
	}
}

// runner builds the job called name with its store
func (a *app) runner(ctx context.Context, name string, intr *crawl.Interrupt) (*crawl.Runner, error) {
	store, err := a.store(ctx, jobs.StorePath(name, a.cfg))
	if err != nil {
		return nil, err
	}
	job, err := jobs.New(name, a.cfg, store, a.deps())
	if err != nil {
		return nil, err
	}

	var backoff retry.BackoffStrategy = retry.ConstantBackoff{Delay: a.cfg.RateLimit.Error}
	if a.cfg.Retry.MaxErrorWait > a.cfg.RateLimit.Error {
		backoff = retry.ExponentialBackoff{
			BaseDelay: a.cfg.RateLimit.Error,
			MaxDelay:  a.cfg.Retry.MaxErrorWait,
		}
	}

	return crawl.NewRunner(job, crawl.Options{
		MaxConsecutiveErrors: a.cfg.Retry.MaxConsecutiveErrors,
		ErrorWait:            a.cfg.RateLimit.Error,
		Backoff:              backoff,
		LogEvery:             a.cfg.Jobs.Tweets.LogEvery,
		Interrupt:            intr,
		Logger:               a.log,
		Metrics:              a.metrics,
	}), nil
}

func (a *app) close() {
	for path, s := range a.stores {
		if err := s.Close(); err != nil {
			a.log.WithError(err).WithField("path", path).Warn("Failed to close store")
		}
	}
}

// resolveToken prefers the configured token (file or environment) and falls
// back to the credential stores
func resolveToken(cfg *config.Config, profile string) (string, error) {
	if cfg.Twitter.BearerToken != "" {
		return cfg.Twitter.BearerToken, nil
	}

	manager, err := auth.NewManager()
	if err != nil {
		return "", fmt.Errorf("failed to open credential stores: %w", err)
	}
	token, err := manager.Token(profile)
	if errors.Is(err, auth.ErrCredentialsNotFound) {
		return "", fmt.Errorf("no bearer token found, run 'twcrawl auth set-token' or set %s", auth.TokenEnv)
	}
	return token, err
}

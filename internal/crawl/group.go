package crawl

import (
	"context"

	"golang.org/x/sync/errgroup"
	errs "twcrawl/pkg/errors"
	"twcrawl/pkg/logger"
)

// Group runs independent jobs concurrently. Jobs writing to the same store
// take turns through the store's writer session.
type Group struct {
	runners []*Runner
	logger  logger.Logger
}

// NewGroup creates an empty group
func NewGroup(log logger.Logger) *Group {
	if log == nil {
		log = logger.GetLogger()
	}
	return &Group{logger: log}
}

// Add schedules a runner
func (g *Group) Add(r *Runner) {
	g.runners = append(g.runners, r)
}

// Run starts every runner and waits for all of them. Results are in the
// order the runners were added. A fatal store error in one job cancels the
// context of the others, which then abort after persisting their progress.
func (g *Group) Run(ctx context.Context) []Result {
	results := make([]Result, len(g.runners))
	eg, egCtx := errgroup.WithContext(ctx)

	g.logger.InfoWithFields("Starting job group", map[string]interface{}{
		"jobs": len(g.runners),
	})

	for i, r := range g.runners {
		eg.Go(func() error {
			results[i] = r.Run(egCtx)
			if errs.IsFatal(results[i].Err) {
				return results[i].Err
			}
			return nil
		})
	}

	if err := eg.Wait(); err != nil {
		g.logger.WithError(err).Error("Job group stopped on fatal error")
	}
	return results
}

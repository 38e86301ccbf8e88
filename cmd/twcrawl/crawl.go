package main

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/term"
	"twcrawl/internal/crawl"
	"twcrawl/internal/jobs"
	"twcrawl/pkg/ui"
)

var (
	profile  string
	maxPages int
)

var jobShort = map[string]string{
	jobs.NameTweets:   "Page through the full-archive search into the tweet log",
	jobs.NameUsers:    "Look up the author of every logged tweet",
	jobs.NameFriends:  "Fetch the friend ids of every logged author",
	jobs.NameGeos:     "Merge the places of geotagged tweets into stored users",
	jobs.NamePrior:    "Flag geotagged users who used the query before the window",
	jobs.NameActivity: "Collect hourly tweet counts for geotagged users",
	jobs.NameCounts:   "Count tweets matching the query",
}

var runCmd = &cobra.Command{
	Use:   "run <job>...",
	Short: "Run several jobs concurrently",
	Long: `Run several jobs at once. Jobs sharing a store take turns writing to it and
each keeps its own checkpoint. A store failure in one job stops the others
after they save their progress.`,
	Example: `  # Look up users and their friends side by side
  twcrawl run users friends

  # Everything that reads the stored users
  twcrawl run geos prior activity`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		seen := make(map[string]bool)
		for _, name := range args {
			if !jobs.Valid(name) {
				return fmt.Errorf("unknown job %q, expected one of: %s", name, strings.Join(jobs.Names, ", "))
			}
			if seen[name] {
				return fmt.Errorf("job %q given twice", name)
			}
			seen[name] = true
		}
		return runJobs(cmd.Context(), args)
	},
}

func init() {
	for _, name := range jobs.Names {
		rootCmd.AddCommand(&cobra.Command{
			Use:   name,
			Short: jobShort[name],
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				return runJobs(cmd.Context(), []string{name})
			},
		})
	}
	rootCmd.AddCommand(runCmd)

	rootCmd.PersistentFlags().StringVar(&profile, "profile", "", "stored credential profile (default \"default\")")
	rootCmd.PersistentFlags().IntVar(&maxPages, "max-pages", 0, "stop the tweets job after this many pages in one run")
}

func runJobs(parent context.Context, names []string) error {
	cfg, err := loadConfig(map[string]interface{}{"max-pages": maxPages})
	if err != nil {
		return err
	}
	token, err := resolveToken(cfg, profile)
	if err != nil {
		return err
	}

	if parent == nil {
		parent = context.Background()
	}
	ctx, cancel := context.WithCancel(parent)
	defer cancel()

	a := newApp(cfg, token)
	defer a.close()

	intr := crawl.NewInterrupt()
	stopSignals := intr.WatchSignals(cancel, a.log)
	defer stopSignals()
	intr.WatchLines(ctx, os.Stdin, a.log)
	if term.IsTerminal(int(os.Stdin.Fd())) {
		ui.PrintInfo("Pause", "press Enter or Ctrl-C to stop after the current batch")
	}

	if cfg.Metrics.Enabled {
		go func() {
			if err := a.metrics.Serve(ctx, cfg.Metrics.Address, a.log); err != nil {
				a.log.WithError(err).Error("Metrics server failed")
			}
		}()
	}

	runners := make([]*crawl.Runner, 0, len(names))
	for _, name := range names {
		r, err := a.runner(ctx, name, intr)
		if err != nil {
			return err
		}
		runners = append(runners, r)
	}

	var results []crawl.Result
	if len(runners) == 1 {
		results = []crawl.Result{runners[0].Run(ctx)}
	} else {
		group := crawl.NewGroup(a.log)
		for _, r := range runners {
			group.Add(r)
		}
		results = group.Run(ctx)
	}

	report(runners, results)

	if code := crawl.ExitCode(results...); code != crawl.ExitOK {
		return &exitError{code: code}
	}
	return nil
}

// report prints the run table, the counts summary when counts ran and
// sends the notification
func report(runners []*crawl.Runner, results []crawl.Result) {
	rows := make([]ui.RunRow, 0, len(results))
	var failed []string
	for _, res := range results {
		row := ui.RunRow{
			Job:       res.Job,
			State:     res.State.String(),
			Processed: res.Progress.Processed,
			Line:      res.Progress.Line,
			Cursor:    res.Progress.Cursor,
			Duration:  res.FinishedAt.Sub(res.StartedAt),
		}
		if res.Err != nil {
			row.Err = res.Err.Error()
			failed = append(failed, res.Job)
		}
		rows = append(rows, row)
	}
	ui.PrintRuns(rows)

	for _, r := range runners {
		if counts, ok := r.Job().(*jobs.CountsJob); ok {
			for _, b := range counts.Buckets() {
				ui.PrintInfo(b.Start, fmt.Sprint(b.TweetCount))
			}
			ui.PrintHighlight(fmt.Sprintf("Total tweets: %d", counts.Total()))
		}
	}

	n := ui.NewNotifier(notify)
	names := make([]string, 0, len(results))
	for _, res := range results {
		names = append(names, res.Job)
	}
	if len(failed) > 0 {
		n.Failure("twcrawl aborted", strings.Join(failed, ", "))
		return
	}
	n.Success("twcrawl finished", strings.Join(names, ", "))
}

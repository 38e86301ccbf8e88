package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"twcrawl/pkg/checkpoint"
	"twcrawl/pkg/config"
	"twcrawl/pkg/models"
	"twcrawl/pkg/ui"
)

var statusRuns int

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show checkpoints, stored records and recent runs",
	Long: `Show where every job would resume, how many users and friend lists are
stored (and how many of them are protected or missing accounts) and the most
recent runs. Nothing is modified.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(nil)
		if err != nil {
			return err
		}
		return showStatus(cmd.Context(), cfg)
	},
}

func init() {
	statusCmd.Flags().IntVar(&statusRuns, "runs", 5, "number of recent runs to list")
	rootCmd.AddCommand(statusCmd)
}

func showStatus(ctx context.Context, cfg *config.Config) error {
	if ctx == nil {
		ctx = context.Background()
	}

	progress, err := checkpoint.NewProgressFile(cfg.Input.ProgressFile).Load()
	if err != nil {
		return err
	}
	state := "in progress"
	if progress.Exhausted {
		state = "exhausted"
	}
	ui.PrintInfo("Tweet log", cfg.Input.TweetsCSV)
	ui.PrintInfo("Tweets fetched", fmt.Sprintf("%d (%s)", progress.Count, state))

	var rows []ui.StatusRow
	var runs []ui.RunRow
	for _, src := range []struct {
		path string
		kind string
	}{
		{cfg.Store.UsersDB, models.KindUser},
		{cfg.Store.FriendsDB, models.KindFriends},
	} {
		if _, err := os.Stat(src.path); os.IsNotExist(err) {
			ui.PrintWarning("No store yet", src.path)
			continue
		}

		opts := checkpoint.DefaultOptions()
		opts.CreateIfNotExists = false
		store, err := checkpoint.Open(ctx, src.path, opts)
		if err != nil {
			return err
		}

		cps, err := store.Checkpoints(ctx)
		if err == nil {
			for _, cp := range cps {
				rows = append(rows, ui.StatusRow{
					Store:     filepath.Base(src.path),
					Job:       cp.Job,
					Line:      cp.Line,
					Committed: cp.Committed,
					Cursor:    cp.Cursor,
					Updated:   cp.UpdatedAt,
				})
			}
		}
		if err == nil {
			var total, sentinels int64
			total, sentinels, err = store.Count(ctx, src.kind)
			ui.PrintInfo("Stored "+src.kind, fmt.Sprintf("%d (%d unavailable)", total, sentinels))
		}
		if err == nil {
			var recent []checkpoint.Run
			recent, err = store.Runs(ctx, "", statusRuns)
			for _, r := range recent {
				runs = append(runs, ui.RunRow{
					Job:       r.Job,
					State:     r.State,
					Processed: r.Processed,
					Line:      r.Line,
					Cursor:    r.Cursor,
					Duration:  r.FinishedAt.Sub(r.StartedAt),
					Err:       r.Error,
				})
			}
		}

		if cerr := store.Close(); err == nil {
			err = cerr
		}
		if err != nil {
			return err
		}
	}

	if len(rows) > 0 {
		ui.PrintHighlight("Checkpoints")
		ui.PrintStatus(rows)
	}
	if len(runs) > 0 {
		ui.PrintHighlight("Recent runs")
		ui.PrintRuns(runs)
	}
	return nil
}

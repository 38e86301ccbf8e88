package main

import (
	"errors"
	"fmt"
	"os"
	"runtime"

	"github.com/spf13/cobra"
	"twcrawl/pkg/config"
	"twcrawl/pkg/logger"
	"twcrawl/pkg/ui"
)

var (
	// Version information
	version   = "1.0.0"
	gitCommit = "unknown"
	buildDate = "unknown"

	// Global flags
	configFile  string
	logLevel    string
	dataDir     string
	inputFile   string
	metricsAddr string
	noColor     bool
	quiet       bool
	notify      bool
)

// exitError carries a process exit code out of a command
type exitError struct {
	code int
}

func (e *exitError) Error() string {
	return fmt.Sprintf("exit status %d", e.code)
}

var rootCmd = &cobra.Command{
	Use:   "twcrawl",
	Short: "Resumable, rate-limited Twitter harvest",
	Long: `twcrawl harvests tweets, users, friend lists and geotags from the Twitter
API v2 full-archive endpoints.

Every job checkpoints after each batch. Stop a job at any time with Ctrl-C or
by pressing Enter and run the same command again to continue where it left off.

Jobs:
  tweets    page through the search and append to the tweet log
  users     look up the author of every logged tweet
  friends   fetch the friend ids of every author
  geos      collect the places of geotagged tweets per author
  prior     flag authors who used the query before the collection window
  activity  hourly tweet counts for geotagged authors
  counts    total matches for the query, per day`,
	Version:       fmt.Sprintf("%s (commit: %s, built: %s)", version, gitCommit, buildDate),
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		ui.SetColor(!noColor)
		if quiet {
			ui.SetQuietMode(true)
		}
	},
}

// Execute runs the root command and returns the process exit code
func Execute() int {
	err := rootCmd.Execute()
	if err == nil {
		return 0
	}

	var exit *exitError
	if errors.As(err, &exit) {
		return exit.code
	}
	ui.PrintError("Error", err)
	return 1
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "", "config file (default is .twcrawl.yaml or $XDG_CONFIG_HOME/twcrawl/config.yaml)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().StringVar(&dataDir, "data-dir", "", "directory for stores and tweet logs")
	rootCmd.PersistentFlags().StringVarP(&inputFile, "input", "i", "", "tweet log read by users, friends and geos")
	rootCmd.PersistentFlags().StringVar(&metricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address")
	rootCmd.PersistentFlags().BoolVar(&noColor, "no-color", false, "disable colored output")
	rootCmd.PersistentFlags().BoolVarP(&quiet, "quiet", "q", false, "suppress all output except errors")
	rootCmd.PersistentFlags().BoolVar(&notify, "notify", false, "send a desktop notification when jobs finish")

	rootCmd.SetVersionTemplate(`twcrawl {{.Version}}
Go Version: ` + runtime.Version() + `
OS/Arch: ` + runtime.GOOS + `/` + runtime.GOARCH + `
`)

	rootCmd.CompletionOptions.DisableDefaultCmd = true
}

// loadConfig merges the config file, environment, global flags and extra
// command flags, then sets up the global logger
func loadConfig(extra map[string]interface{}) (*config.Config, error) {
	flags := map[string]interface{}{
		"data-dir":     dataDir,
		"input":        inputFile,
		"log-level":    logLevel,
		"metrics-addr": metricsAddr,
	}
	for k, v := range extra {
		flags[k] = v
	}

	cfg, err := config.Load(configFile, flags)
	if err != nil {
		return nil, err
	}
	if err := logger.Initialize(&cfg.Logging); err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}
	return cfg, nil
}

func main() {
	os.Exit(Execute())
}

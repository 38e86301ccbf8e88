package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/adrg/xdg"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
	"twcrawl/internal/jobs"
	"twcrawl/pkg/auth"
	"twcrawl/pkg/config"
	"twcrawl/pkg/ui"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage configuration files",
	Long: `Manage twcrawl configuration.

Configuration is merged from, highest priority first:
  - command line flags
  - environment variables (TWCRAWL_*, TWIT_BEARER_TOKEN)
  - .env in the working directory or the config directory
  - the configuration file
  - default values`,
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Write the default configuration to a file",
	Long: `Write every option with its default value. The file goes to --config when
given and to $XDG_CONFIG_HOME/twcrawl/config.yaml otherwise.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		path := configFile
		if path == "" {
			path = filepath.Join(xdg.ConfigHome, config.AppName, "config.yaml")
		}
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("configuration file already exists: %s", path)
		}

		if err := config.DefaultConfig().Save(path); err != nil {
			return err
		}
		ui.PrintSuccess("Configuration file created: " + path)
		fmt.Fprintln(cmd.OutOrStdout(), "\nNext steps:")
		fmt.Fprintln(cmd.OutOrStdout(), "1. Store a bearer token with 'twcrawl auth set-token'")
		fmt.Fprintln(cmd.OutOrStdout(), "2. Adjust the job queries and time windows in the file")
		fmt.Fprintln(cmd.OutOrStdout(), "3. Start with 'twcrawl tweets'")
		return nil
	},
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show the merged configuration",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(nil)
		if err != nil {
			return err
		}

		display := *cfg
		if display.Twitter.BearerToken != "" {
			display.Twitter.BearerToken = auth.MaskToken(display.Twitter.BearerToken)
		}
		data, err := yaml.Marshal(&display)
		if err != nil {
			return fmt.Errorf("failed to format configuration: %w", err)
		}

		ui.PrintHighlight("Current configuration")
		fmt.Fprint(cmd.OutOrStdout(), string(data))
		return nil
	},
}

var configValidateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate the configuration and check paths",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(nil)
		if err != nil {
			return err
		}

		var warnings []string
		if cfg.Twitter.BearerToken == "" {
			if _, err := resolveToken(cfg, profile); err != nil {
				warnings = append(warnings, err.Error())
			}
		}
		if _, err := os.Stat(cfg.Input.TweetsCSV); os.IsNotExist(err) {
			warnings = append(warnings, "tweet log does not exist yet, run 'twcrawl tweets' first: "+cfg.Input.TweetsCSV)
		}
		for _, name := range jobs.Names {
			dir := filepath.Dir(jobs.StorePath(name, cfg))
			if err := os.MkdirAll(dir, 0750); err != nil {
				return fmt.Errorf("cannot create store directory %s: %w", dir, err)
			}
		}

		for _, w := range warnings {
			ui.PrintWarning(w)
		}
		ui.PrintSuccess("Configuration is valid")
		ui.PrintInfo("Users store", cfg.Store.UsersDB)
		ui.PrintInfo("Friends store", cfg.Store.FriendsDB)
		ui.PrintInfo("Tweet log", cfg.Input.TweetsCSV)
		ui.PrintInfo("Max consecutive errors", fmt.Sprint(cfg.Retry.MaxConsecutiveErrors))
		ui.PrintInfo("Log level", cfg.Logging.Level)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(configCmd)
	configCmd.AddCommand(configInitCmd)
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configValidateCmd)
}

package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/adrg/xdg"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// AppName is used for XDG directory paths and the config file name.
const AppName = "twcrawl"

// Config holds all configuration options for the crawler
type Config struct {
	Twitter   TwitterConfig   `yaml:"twitter" json:"twitter"`
	RateLimit RateLimitConfig `yaml:"rate_limit" json:"rate_limit"`
	Retry     RetryConfig     `yaml:"retry" json:"retry"`
	Store     StoreConfig     `yaml:"store" json:"store"`
	Input     InputConfig     `yaml:"input" json:"input"`
	Jobs      JobsConfig      `yaml:"jobs" json:"jobs"`
	Logging   LoggingConfig   `yaml:"logging" json:"logging"`
	Metrics   MetricsConfig   `yaml:"metrics" json:"metrics"`
}

// TwitterConfig holds API connection settings
type TwitterConfig struct {
	BaseURL     string        `yaml:"base_url" json:"base_url"`
	BearerToken string        `yaml:"bearer_token" json:"-"`
	UserAgent   string        `yaml:"user_agent" json:"user_agent"`
	Timeout     time.Duration `yaml:"timeout" json:"timeout"`
}

// RateLimitConfig holds the minimum spacing between requests per endpoint
// class. The remote API counts requests in 15 minute windows; these are the
// average gaps that keep a job inside its window.
type RateLimitConfig struct {
	Search  time.Duration `yaml:"search" json:"search"`
	Counts  time.Duration `yaml:"counts" json:"counts"`
	Users   time.Duration `yaml:"users" json:"users"`
	Friends time.Duration `yaml:"friends" json:"friends"`
	Error   time.Duration `yaml:"error" json:"error"`

	// WindowRequests caps requests per class inside Window. Zero disables it.
	WindowRequests int           `yaml:"window_requests" json:"window_requests"`
	Window         time.Duration `yaml:"window" json:"window"`
}

// RetryConfig holds the transient error policy
type RetryConfig struct {
	MaxConsecutiveErrors int `yaml:"max_consecutive_errors" json:"max_consecutive_errors"`
	// MaxErrorWait above the error interval doubles the wait after each
	// consecutive failure up to this cap. Zero keeps the wait constant.
	MaxErrorWait time.Duration `yaml:"max_error_wait" json:"max_error_wait"`
}

// StoreConfig holds checkpoint store locations
type StoreConfig struct {
	UsersDB   string        `yaml:"users_db" json:"users_db"`
	FriendsDB string        `yaml:"friends_db" json:"friends_db"`
	LockPoll  time.Duration `yaml:"lock_poll" json:"lock_poll"`
}

// InputConfig holds the append-only tweet logs and the progress file
type InputConfig struct {
	TweetsCSV    string `yaml:"tweets_csv" json:"tweets_csv"`
	MetaCSV      string `yaml:"meta_csv" json:"meta_csv"`
	GeoTweetsCSV string `yaml:"geo_tweets_csv" json:"geo_tweets_csv"`
	ProgressFile string `yaml:"progress_file" json:"progress_file"`
}

// SearchConfig describes one full-archive query window
type SearchConfig struct {
	Query      string `yaml:"query" json:"query"`
	StartTime  string `yaml:"start_time" json:"start_time"`
	EndTime    string `yaml:"end_time" json:"end_time"`
	MaxResults int    `yaml:"max_results" json:"max_results"`
}

// JobsConfig holds per-job query parameters
type JobsConfig struct {
	Tweets struct {
		SearchConfig `yaml:",inline"`
		MaxPages     int `yaml:"max_pages" json:"max_pages"`
		LogEvery     int `yaml:"log_every" json:"log_every"`
	} `yaml:"tweets" json:"tweets"`
	Users struct {
		BatchSize int `yaml:"batch_size" json:"batch_size"`
	} `yaml:"users" json:"users"`
	Geos struct {
		SearchConfig  `yaml:",inline"`
		UsersPerQuery int `yaml:"users_per_query" json:"users_per_query"`
	} `yaml:"geos" json:"geos"`
	Prior struct {
		SearchConfig `yaml:",inline"`
	} `yaml:"prior" json:"prior"`
	Activity struct {
		SearchConfig `yaml:",inline"`
		Granularity  string `yaml:"granularity" json:"granularity"`
	} `yaml:"activity" json:"activity"`
	Counts struct {
		SearchConfig `yaml:",inline"`
		Granularity  string `yaml:"granularity" json:"granularity"`
	} `yaml:"counts" json:"counts"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level string `yaml:"level" json:"level"`
	File  string `yaml:"file" json:"file"`
}

// MetricsConfig holds the Prometheus endpoint settings
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled" json:"enabled"`
	Address string `yaml:"address" json:"address"`
}

// DataDir returns the default directory for stores and tweet logs.
func DataDir() string {
	return filepath.Join(xdg.DataHome, AppName)
}

// DefaultConfig returns a Config instance with sensible defaults
func DefaultConfig() *Config {
	dataDir := DataDir()

	cfg := &Config{
		Twitter: TwitterConfig{
			BaseURL:   "https://api.twitter.com",
			UserAgent: "twcrawl/1.0",
			Timeout:   30 * time.Second,
		},
		RateLimit: RateLimitConfig{
			Search:  3200 * time.Millisecond,
			Counts:  3 * time.Second,
			Users:   3 * time.Second,
			Friends: 60 * time.Second,
			Error:   60 * time.Second,
			Window:  15 * time.Minute,
		},
		Retry: RetryConfig{
			MaxConsecutiveErrors: 2,
		},
		Store: StoreConfig{
			UsersDB:   filepath.Join(dataDir, "user_data", "users.db"),
			FriendsDB: filepath.Join(dataDir, "user_data", "friends.db"),
			LockPoll:  500 * time.Millisecond,
		},
		Input: InputConfig{
			TweetsCSV:    filepath.Join(dataDir, "tweet_data", "tweets.csv"),
			MetaCSV:      filepath.Join(dataDir, "tweet_data", "tweet_meta.csv"),
			GeoTweetsCSV: filepath.Join(dataDir, "tweet_data", "geo_tweets.csv"),
			ProgressFile: filepath.Join(dataDir, "tweet_data", "saved_next_token.txt"),
		},
		Logging: LoggingConfig{
			Level: "info",
		},
		Metrics: MetricsConfig{
			Address: ":9464",
		},
	}

	cfg.Jobs.Tweets.SearchConfig = SearchConfig{
		Query:      "#blacklivesmatter -is:nullcast",
		StartTime:  "2020-05-25T04:00:00Z",
		EndTime:    "2020-06-07T04:00:00Z",
		MaxResults: 100,
	}
	cfg.Jobs.Tweets.MaxPages = 100000
	cfg.Jobs.Tweets.LogEvery = 20
	cfg.Jobs.Users.BatchSize = 100
	cfg.Jobs.Geos.SearchConfig = SearchConfig{
		Query:      "has:geo -is:nullcast",
		StartTime:  "2020-05-25T04:00:00Z",
		EndTime:    "2020-06-06T03:00:00Z",
		MaxResults: 100,
	}
	cfg.Jobs.Geos.UsersPerQuery = 29
	cfg.Jobs.Prior.SearchConfig = SearchConfig{
		Query:      "#blacklivesmatter -is:nullcast",
		StartTime:  "2006-03-21T00:00:00Z",
		EndTime:    "2020-05-25T03:59:00Z",
		MaxResults: 10,
	}
	cfg.Jobs.Activity.SearchConfig = SearchConfig{
		Query:   "-is:nullcast",
		EndTime: "2020-06-03T00:00:00Z",
	}
	cfg.Jobs.Activity.Granularity = "hour"
	cfg.Jobs.Counts.SearchConfig = SearchConfig{
		Query:     "#blacklivesmatter -is:nullcast",
		StartTime: "2020-05-25T04:00:00Z",
		EndTime:   "2020-06-30T04:00:00Z",
	}
	cfg.Jobs.Counts.Granularity = "day"

	return cfg
}

// LoadFromEnv loads configuration from environment variables
func (c *Config) LoadFromEnv() error {
	if token := os.Getenv("TWCRAWL_BEARER_TOKEN"); token != "" {
		c.Twitter.BearerToken = token
	} else if token := os.Getenv("TWIT_BEARER_TOKEN"); token != "" {
		c.Twitter.BearerToken = token
	}
	if baseURL := os.Getenv("TWCRAWL_BASE_URL"); baseURL != "" {
		c.Twitter.BaseURL = baseURL
	}
	if dir := os.Getenv("TWCRAWL_DATA_DIR"); dir != "" {
		c.relocate(dir)
	}
	if usersDB := os.Getenv("TWCRAWL_USERS_DB"); usersDB != "" {
		c.Store.UsersDB = usersDB
	}
	if friendsDB := os.Getenv("TWCRAWL_FRIENDS_DB"); friendsDB != "" {
		c.Store.FriendsDB = friendsDB
	}
	if tweets := os.Getenv("TWCRAWL_TWEETS_CSV"); tweets != "" {
		c.Input.TweetsCSV = tweets
	}
	if n := os.Getenv("TWCRAWL_MAX_CONSECUTIVE_ERRORS"); n != "" {
		val, err := strconv.Atoi(n)
		if err != nil {
			return fmt.Errorf("TWCRAWL_MAX_CONSECUTIVE_ERRORS: %w", err)
		}
		c.Retry.MaxConsecutiveErrors = val
	}
	if logLevel := os.Getenv("TWCRAWL_LOG_LEVEL"); logLevel != "" {
		c.Logging.Level = logLevel
	}
	if logFile := os.Getenv("TWCRAWL_LOG_FILE"); logFile != "" {
		c.Logging.File = logFile
	}
	if addr := os.Getenv("TWCRAWL_METRICS_ADDR"); addr != "" {
		c.Metrics.Enabled = true
		c.Metrics.Address = addr
	}

	return nil
}

// relocate moves every default data path under dir
func (c *Config) relocate(dir string) {
	c.Store.UsersDB = filepath.Join(dir, "user_data", "users.db")
	c.Store.FriendsDB = filepath.Join(dir, "user_data", "friends.db")
	c.Input.TweetsCSV = filepath.Join(dir, "tweet_data", "tweets.csv")
	c.Input.MetaCSV = filepath.Join(dir, "tweet_data", "tweet_meta.csv")
	c.Input.GeoTweetsCSV = filepath.Join(dir, "tweet_data", "geo_tweets.csv")
	c.Input.ProgressFile = filepath.Join(dir, "tweet_data", "saved_next_token.txt")
}

// LoadFromFile loads configuration from a YAML file
func (c *Config) LoadFromFile(path string) error {
	if path == "" {
		path = c.findConfigFile()
		if path == "" {
			return nil
		}
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("failed to parse config file: %w", err)
	}

	return nil
}

// findConfigFile searches for config file in standard locations
func (c *Config) findConfigFile() string {
	locations := []string{
		".twcrawl.yaml",
		".twcrawl.yml",
		filepath.Join(xdg.ConfigHome, AppName, "config.yaml"),
		filepath.Join(xdg.ConfigHome, AppName, "config.yml"),
	}

	for _, loc := range locations {
		if _, err := os.Stat(loc); err == nil {
			return loc
		}
	}

	return ""
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	var errs []error

	if c.Twitter.BaseURL == "" {
		errs = append(errs, errors.New("twitter base URL is required"))
	}
	if c.Twitter.Timeout <= 0 {
		errs = append(errs, errors.New("twitter timeout must be positive"))
	}

	for name, d := range map[string]time.Duration{
		"search": c.RateLimit.Search, "counts": c.RateLimit.Counts,
		"users": c.RateLimit.Users, "friends": c.RateLimit.Friends, "error": c.RateLimit.Error,
	} {
		if d < 0 {
			errs = append(errs, fmt.Errorf("rate limit interval %q cannot be negative", name))
		}
	}
	if c.RateLimit.WindowRequests < 0 {
		errs = append(errs, errors.New("window requests cannot be negative"))
	}
	if c.RateLimit.WindowRequests > 0 && c.RateLimit.Window <= 0 {
		errs = append(errs, errors.New("window must be positive when window requests is set"))
	}

	if c.Retry.MaxConsecutiveErrors < 1 {
		errs = append(errs, errors.New("max consecutive errors must be at least 1"))
	}
	if c.Retry.MaxErrorWait < 0 {
		errs = append(errs, errors.New("max error wait cannot be negative"))
	}

	if c.Store.UsersDB == "" || c.Store.FriendsDB == "" {
		errs = append(errs, errors.New("store paths are required"))
	}
	if c.Input.TweetsCSV == "" || c.Input.ProgressFile == "" {
		errs = append(errs, errors.New("tweets csv and progress file are required"))
	}

	if n := c.Jobs.Users.BatchSize; n < 1 || n > 100 {
		errs = append(errs, errors.New("users batch size must be between 1 and 100"))
	}
	if n := c.Jobs.Geos.UsersPerQuery; n < 1 || n > 29 {
		errs = append(errs, errors.New("geos users per query must be between 1 and 29"))
	}
	if n := c.Jobs.Tweets.MaxResults; n < 10 || n > 500 {
		errs = append(errs, errors.New("tweets max results must be between 10 and 500"))
	}

	validLogLevels := map[string]bool{
		"debug": true, "info": true, "warn": true, "error": true, "disabled": true,
	}
	if !validLogLevels[strings.ToLower(c.Logging.Level)] {
		errs = append(errs, errors.New("invalid log level"))
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}

	return nil
}

// Save saves the configuration to a file
func (c *Config) Save(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// MergeCommandLineFlags merges command line flags into the configuration
func (c *Config) MergeCommandLineFlags(flags map[string]interface{}) {
	if dir, ok := flags["data-dir"].(string); ok && dir != "" {
		c.relocate(dir)
	}
	if input, ok := flags["input"].(string); ok && input != "" {
		c.Input.TweetsCSV = input
	}
	if logLevel, ok := flags["log-level"].(string); ok && logLevel != "" {
		c.Logging.Level = logLevel
	}
	if addr, ok := flags["metrics-addr"].(string); ok && addr != "" {
		c.Metrics.Enabled = true
		c.Metrics.Address = addr
	}
	if maxPages, ok := flags["max-pages"].(int); ok && maxPages > 0 {
		c.Jobs.Tweets.MaxPages = maxPages
	}
}

// Load loads configuration from all sources with proper precedence
// Precedence order: Command line flags > Environment variables > .env file > Config file > Defaults
func Load(configPath string, flags map[string]interface{}) (*Config, error) {
	_ = godotenv.Load(".env")
	_ = godotenv.Load(filepath.Join(xdg.ConfigHome, AppName, ".env"))

	config := DefaultConfig()

	if err := config.LoadFromFile(configPath); err != nil {
		return nil, fmt.Errorf("failed to load config file: %w", err)
	}

	if err := config.LoadFromEnv(); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	config.MergeCommandLineFlags(flags)

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return config, nil
}

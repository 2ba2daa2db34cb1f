package cfg

import (
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/pelletier/go-toml"

	"github.com/simplesurance/labeltracker/internal/channel"
)

// EnvGithubAPIToken is the environment variable that overwrites the
// github_api_token setting.
const EnvGithubAPIToken = "GITHUB_API_TOKEN"

// maxGithubBatchSize is the largest page size github accepts.
const maxGithubBatchSize = 100

type Config struct {
	GithubAPIToken     string         `toml:"github_api_token"`
	GithubAPIURL       string         `toml:"github_api_url"`
	GithubMaxBatchSize int            `toml:"github_max_batch_size"`
	Owner              string         `toml:"owner"`
	Repository         string         `toml:"repository"`
	Label              string         `toml:"label"`
	LogFormat          string         `toml:"log_format"`
	LogTimeKey         string         `toml:"log_time_key"`
	LogLevel           string         `toml:"log_level"`
	Storage            Storage        `toml:"storage"`
	Git                Git            `toml:"git"`
	Channels           []*ChannelRule `toml:"channel"`
	Feed               Feed           `toml:"feed"`
	HTTP               HTTP           `toml:"http"`
	Lock               Lock           `toml:"lock"`
}

type Storage struct {
	Backend string `toml:"backend"`
	Path    string `toml:"path"`
	DSN     string `toml:"dsn"`
}

type Git struct {
	Binary      string `toml:"binary"`
	LocalRepo   string `toml:"local_repo"`
	RemoteURL   string `toml:"remote_url"`
	CommitGraph bool   `toml:"commit_graph"`
}

// ChannelRule maps base branches to channels.
// Style is one of "exact", "glob" or "regex", it defaults to "regex".
type ChannelRule struct {
	Style    string   `toml:"style"`
	Match    string   `toml:"match"`
	Channels []string `toml:"channels"`
}

type Feed struct {
	MaxAgeHours uint   `toml:"max_age_hours"`
	FilterQuery string `toml:"filter_query"`
	OutputDir   string `toml:"output_dir"`
}

type HTTP struct {
	ListenAddr      string `toml:"listen_addr"`
	MetricsEndpoint string `toml:"metrics_endpoint"`
}

type Lock struct {
	Dir     string `toml:"dir"`
	Timeout string `toml:"timeout"`
}

func defaultConfig() *Config {
	return &Config{
		GithubMaxBatchSize: maxGithubBatchSize,
		LogFormat:          "logfmt",
		LogTimeKey:         "time_iso8601",
		LogLevel:           "info",
		Storage: Storage{
			Backend: "file",
		},
		Feed: Feed{
			MaxAgeHours: 24,
		},
		HTTP: HTTP{
			MetricsEndpoint: "/metrics",
		},
		Lock: Lock{
			Timeout: "10m",
		},
	}
}

// Load parses a TOML configuration. Unset settings keep their default
// values. The github token is read from the EnvGithubAPIToken environment
// variable if it is set.
func Load(reader io.Reader) (*Config, error) {
	result := defaultConfig()

	data, err := io.ReadAll(reader)
	if err != nil {
		return nil, err
	}

	if err := toml.Unmarshal(data, result); err != nil {
		return nil, err
	}

	if token := os.Getenv(EnvGithubAPIToken); token != "" {
		result.GithubAPIToken = token
	}

	return result, nil
}

func (c *Config) Marshal(writer io.Writer) error {
	return toml.NewEncoder(writer).Encode(c)
}

// Validate checks that the settings required by every command are set.
func (c *Config) Validate() error {
	var errs []error

	if c.Owner == "" {
		errs = append(errs, errors.New("owner is unset"))
	}

	if c.Repository == "" {
		errs = append(errs, errors.New("repository is unset"))
	}

	if c.Label == "" {
		errs = append(errs, errors.New("label is unset"))
	}

	if c.GithubMaxBatchSize < 1 || c.GithubMaxBatchSize > maxGithubBatchSize {
		errs = append(errs, fmt.Errorf("github_max_batch_size is %d, must be between 1 and %d", c.GithubMaxBatchSize, maxGithubBatchSize))
	}

	if _, err := c.LockTimeout(); err != nil {
		errs = append(errs, err)
	}

	if _, err := c.ChannelPatterns(); err != nil {
		errs = append(errs, err)
	}

	return errors.Join(errs...)
}

// ChannelPatterns returns the [[channel]] rules as channel patterns.
func (c *Config) ChannelPatterns() (channel.Patterns, error) {
	result := make(channel.Patterns, 0, len(c.Channels))

	for i, rule := range c.Channels {
		p, err := channel.NewPattern(channel.MatchStyle(rule.Style), rule.Match, rule.Channels)
		if err != nil {
			return nil, fmt.Errorf("channel rule %d: %w", i, err)
		}

		result = append(result, p)
	}

	return result, nil
}

// LockTimeout returns how long acquiring the run lock is retried.
func (c *Config) LockTimeout() (time.Duration, error) {
	if c.Lock.Timeout == "" {
		return 0, nil
	}

	d, err := time.ParseDuration(c.Lock.Timeout)
	if err != nil {
		return 0, fmt.Errorf("lock timeout: %w", err)
	}

	return d, nil
}

func (c *Config) FeedMaxAge() time.Duration {
	return time.Duration(c.Feed.MaxAgeHours) * time.Hour
}

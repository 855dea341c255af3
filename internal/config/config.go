// Package config loads settings for the cdxt and cdx-proxy commands from
// flags, CDX_* environment variables and an optional config file.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/Sternrassler/cdx-client/pkg/client"
	"github.com/Sternrassler/cdx-client/pkg/endpoints"
	"github.com/Sternrassler/cdx-client/pkg/logging"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// EnvPrefix prefixes every environment variable, e.g. CDX_SOURCE.
const EnvPrefix = "CDX"

// Config holds all command settings.
type Config struct {
	// Source is "cc", "ia" or an explicit index URL.
	Source      string `mapstructure:"source"`
	CCDuration  string `mapstructure:"cc_duration"`
	CCSort      string `mapstructure:"cc_sort"`
	CollInfoURL string `mapstructure:"collinfo_url"`

	UserAgent     string        `mapstructure:"user_agent"`
	Timeout       time.Duration `mapstructure:"timeout"`
	RetryInterval time.Duration `mapstructure:"retry_interval"`
	MaxAttempts   int           `mapstructure:"max_attempts"`

	// RequestsPerSecond paces requests client-side; 0 disables pacing.
	RequestsPerSecond float64 `mapstructure:"requests_per_second"`
	Burst             int     `mapstructure:"burst"`

	// RedisURL enables the response cache, e.g. redis://localhost:6379/0.
	RedisURL string        `mapstructure:"redis_url"`
	CacheTTL time.Duration `mapstructure:"cache_ttl"`

	LogLevel  string `mapstructure:"log_level"`
	LogPretty bool   `mapstructure:"log_pretty"`

	// ListenAddr is used by cdx-proxy only.
	ListenAddr string `mapstructure:"listen_addr"`
}

// Default returns the built-in defaults.
func Default() Config {
	return Config{
		Source:        string(endpoints.SourceCC),
		CCDuration:    "365d",
		CCSort:        string(endpoints.SortMixed),
		UserAgent:     client.DefaultUserAgent,
		Timeout:       30 * time.Second,
		RetryInterval: time.Second,
		Burst:         1,
		CacheTTL:      24 * time.Hour,
		LogLevel:      string(logging.LevelInfo),
		ListenAddr:    ":8080",
	}
}

// NewViper returns a viper instance with defaults and CDX_* environment
// lookup configured.
func NewViper() *viper.Viper {
	v := viper.New()

	d := Default()
	v.SetDefault("source", d.Source)
	v.SetDefault("cc_duration", d.CCDuration)
	v.SetDefault("cc_sort", d.CCSort)
	v.SetDefault("collinfo_url", d.CollInfoURL)
	v.SetDefault("user_agent", d.UserAgent)
	v.SetDefault("timeout", d.Timeout)
	v.SetDefault("retry_interval", d.RetryInterval)
	v.SetDefault("max_attempts", d.MaxAttempts)
	v.SetDefault("requests_per_second", d.RequestsPerSecond)
	v.SetDefault("burst", d.Burst)
	v.SetDefault("redis_url", d.RedisURL)
	v.SetDefault("cache_ttl", d.CacheTTL)
	v.SetDefault("log_level", d.LogLevel)
	v.SetDefault("log_pretty", d.LogPretty)
	v.SetDefault("listen_addr", d.ListenAddr)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_", ".", "_"))
	v.AutomaticEnv()

	return v
}

// AddFlags registers the shared flags on fs.
func AddFlags(fs *pflag.FlagSet) {
	d := Default()
	fs.String("config", "", "config file (yaml, json or toml)")
	fs.String("source", d.Source, `index source: "cc", "ia" or an index URL`)
	fs.String("cc-duration", d.CCDuration, "common crawl recency window (e.g. 90d, 8w, 1y)")
	fs.String("cc-sort", d.CCSort, `common crawl endpoint order: "mixed" (newest first) or "ascending"`)
	fs.String("collinfo-url", d.CollInfoURL, "override the common crawl crawl listing URL")
	fs.String("user-agent", d.UserAgent, "User-Agent header")
	fs.Duration("timeout", d.Timeout, "per-attempt HTTP timeout")
	fs.Duration("retry-interval", d.RetryInterval, "wait between retries of 502/503/504 and connection failures")
	fs.Int("max-attempts", d.MaxAttempts, "attempts per request including the first (0 retries forever)")
	fs.Float64("requests-per-second", d.RequestsPerSecond, "client-side request pacing (0 disables)")
	fs.Int("burst", d.Burst, "pacing burst size")
	fs.String("redis-url", d.RedisURL, "redis URL for the response cache (empty disables)")
	fs.Duration("cache-ttl", d.CacheTTL, "response cache TTL")
	fs.String("log-level", d.LogLevel, "log level: debug, info, warn, error, disabled")
	fs.Bool("log-pretty", d.LogPretty, "human-readable logs")
}

// BindFlags binds every flag in fs to the matching viper key
// (cc-duration to cc_duration).
func BindFlags(v *viper.Viper, fs *pflag.FlagSet) error {
	var err error
	fs.VisitAll(func(f *pflag.Flag) {
		if err != nil {
			return
		}
		err = v.BindPFlag(strings.ReplaceAll(f.Name, "-", "_"), f)
	})
	return err
}

// Load reads configFile (when non-empty), unmarshals all settings and
// validates them. Precedence is flag, environment, file, default.
func Load(v *viper.Viper, configFile string) (*Config, error) {
	if configFile != "" {
		v.SetConfigFile(configFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate rejects settings the commands cannot run with.
func (c *Config) Validate() error {
	var errs []error

	if c.Source == "" {
		errs = append(errs, errors.New("source is required"))
	}
	if c.Source == string(endpoints.SourceCC) {
		if _, err := endpoints.ParseWindow(c.CCDuration); err != nil {
			errs = append(errs, fmt.Errorf("cc_duration: %w", err))
		}
		if c.CCSort != string(endpoints.SortMixed) && c.CCSort != string(endpoints.SortAscending) {
			errs = append(errs, fmt.Errorf("cc_sort must be %q or %q (got %q)", endpoints.SortMixed, endpoints.SortAscending, c.CCSort))
		}
	}
	if c.UserAgent == "" {
		errs = append(errs, errors.New("user_agent is required"))
	}
	if c.Timeout < 0 {
		errs = append(errs, fmt.Errorf("timeout must be >= 0 (got %s)", c.Timeout))
	}
	if c.RetryInterval < 0 {
		errs = append(errs, fmt.Errorf("retry_interval must be >= 0 (got %s)", c.RetryInterval))
	}
	if c.MaxAttempts < 0 {
		errs = append(errs, fmt.Errorf("max_attempts must be >= 0 (got %d)", c.MaxAttempts))
	}
	if c.RequestsPerSecond < 0 {
		errs = append(errs, fmt.Errorf("requests_per_second must be >= 0 (got %g)", c.RequestsPerSecond))
	}
	if c.RequestsPerSecond > 0 && c.Burst < 1 {
		errs = append(errs, fmt.Errorf("burst must be >= 1 when pacing (got %d)", c.Burst))
	}
	if c.RedisURL != "" && c.CacheTTL <= 0 {
		errs = append(errs, fmt.Errorf("cache_ttl must be > 0 when the cache is enabled (got %s)", c.CacheTTL))
	}
	if _, err := logging.ParseLevel(c.LogLevel); err != nil {
		errs = append(errs, fmt.Errorf("log_level: %w", err))
	}

	return errors.Join(errs...)
}

// RetryPolicy returns the client retry policy.
func (c *Config) RetryPolicy() client.RetryPolicy {
	return client.RetryPolicy{Interval: c.RetryInterval, MaxAttempts: c.MaxAttempts}
}

// Logging returns the logger configuration.
func (c *Config) Logging() logging.Config {
	lc := logging.DefaultConfig()
	lc.Level, _ = logging.ParseLevel(c.LogLevel)
	lc.Pretty = c.LogPretty
	return lc
}

// File: internal/config/config.go
package config

import (
	"fmt"
	"time"

	"github.com/mitchellh/go-homedir"
	"github.com/spf13/viper"
)

// Compression codec names accepted by store.compression.
const (
	CompressionNone   = "none"
	CompressionGzip   = "gzip"
	CompressionBrotli = "brotli"
)

// Config holds the entire application configuration.
type Config struct {
	Logger  LoggerConfig  `mapstructure:"logger" yaml:"logger"`
	Browser BrowserConfig `mapstructure:"browser" yaml:"browser"`
	Replay  ReplayConfig  `mapstructure:"replay" yaml:"replay"`
	Store   StoreConfig   `mapstructure:"store" yaml:"store"`
	Batch   BatchConfig   `mapstructure:"batch" yaml:"batch"`
}

// LoggerConfig controls the global zap logger.
type LoggerConfig struct {
	Level       string `mapstructure:"level" yaml:"level"`
	Format      string `mapstructure:"format" yaml:"format"`
	LogFile     string `mapstructure:"log_file" yaml:"log_file"`
	MaxSize     int    `mapstructure:"max_size" yaml:"max_size"`
	MaxBackups  int    `mapstructure:"max_backups" yaml:"max_backups"`
	MaxAge      int    `mapstructure:"max_age" yaml:"max_age"`
	Compress    bool   `mapstructure:"compress" yaml:"compress"`
	AddSource   bool   `mapstructure:"add_source" yaml:"add_source"`
	ServiceName string `mapstructure:"service_name" yaml:"service_name"`
}

// BrowserConfig controls the CDP live session.
type BrowserConfig struct {
	Headless bool   `mapstructure:"headless" yaml:"headless"`
	UserAgent string `mapstructure:"user_agent" yaml:"user_agent"`
	// NavigationTimeout bounds a single page load.
	NavigationTimeout time.Duration `mapstructure:"navigation_timeout" yaml:"navigation_timeout"`
	// ActionTimeout bounds a single dispatched action or DOM query.
	ActionTimeout time.Duration `mapstructure:"action_timeout" yaml:"action_timeout"`
	// StabilizationWait is the quiet window observed after navigation before
	// the page is considered settled.
	StabilizationWait time.Duration `mapstructure:"stabilization_wait" yaml:"stabilization_wait"`
}

// ReplayConfig controls the element-resolution retry loop.
type ReplayConfig struct {
	MaxAttempts       int           `mapstructure:"max_attempts" yaml:"max_attempts"`
	InitialBackoff    time.Duration `mapstructure:"initial_backoff" yaml:"initial_backoff"`
	BackoffCap        time.Duration `mapstructure:"backoff_cap" yaml:"backoff_cap"`
	BackoffMultiplier float64       `mapstructure:"backoff_multiplier" yaml:"backoff_multiplier"`
	StopOnFailure     bool          `mapstructure:"stop_on_failure" yaml:"stop_on_failure"`
}

// StoreConfig controls where recordings live.
type StoreConfig struct {
	// Dir is the sessions directory. Supports ~ expansion.
	Dir string `mapstructure:"dir" yaml:"dir"`
	// Compression selects the session file codec: none, gzip or brotli.
	Compression string `mapstructure:"compression" yaml:"compression"`
	// PostgresDSN enables the shared archive when non-empty.
	PostgresDSN string `mapstructure:"postgres_dsn" yaml:"postgres_dsn"`
}

// BatchConfig controls multi-session replay.
type BatchConfig struct {
	Concurrency       int     `mapstructure:"concurrency" yaml:"concurrency"`
	LaunchesPerSecond float64 `mapstructure:"launches_per_second" yaml:"launches_per_second"`
}

// SetDefaults registers every configuration default on the given viper
// instance. Call before New so missing keys unmarshal to sane values.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.format", "console")
	v.SetDefault("logger.log_file", "")
	v.SetDefault("logger.max_size", 50)
	v.SetDefault("logger.max_backups", 3)
	v.SetDefault("logger.max_age", 14)
	v.SetDefault("logger.compress", true)
	v.SetDefault("logger.add_source", false)
	v.SetDefault("logger.service_name", "reprise")

	v.SetDefault("browser.headless", true)
	v.SetDefault("browser.user_agent", "")
	v.SetDefault("browser.navigation_timeout", 90*time.Second)
	v.SetDefault("browser.action_timeout", 30*time.Second)
	v.SetDefault("browser.stabilization_wait", 1500*time.Millisecond)

	v.SetDefault("replay.max_attempts", 5)
	v.SetDefault("replay.initial_backoff", time.Second)
	v.SetDefault("replay.backoff_cap", 5*time.Second)
	v.SetDefault("replay.backoff_multiplier", 1.5)
	v.SetDefault("replay.stop_on_failure", false)

	v.SetDefault("store.dir", "~/.reprise/sessions")
	v.SetDefault("store.compression", CompressionNone)
	v.SetDefault("store.postgres_dsn", "")

	v.SetDefault("batch.concurrency", 2)
	v.SetDefault("batch.launches_per_second", 1.0)
}

// New unmarshals a configuration from the given viper instance, expands
// user-relative paths and validates the result.
func New(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	dir, err := homedir.Expand(cfg.Store.Dir)
	if err != nil {
		return nil, fmt.Errorf("failed to expand store.dir %q: %w", cfg.Store.Dir, err)
	}
	cfg.Store.Dir = dir

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// NewDefault returns a configuration built purely from defaults.
func NewDefault() *Config {
	v := viper.New()
	SetDefaults(v)
	cfg, err := New(v)
	if err != nil {
		// Defaults are static; failing to load them is a programming error.
		panic(fmt.Sprintf("default config invalid: %v", err))
	}
	return cfg
}

// Validate rejects configurations the engine cannot run with.
func (c *Config) Validate() error {
	switch c.Logger.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("logger.level %q is not one of debug, info, warn, error", c.Logger.Level)
	}

	if c.Replay.MaxAttempts <= 0 {
		return fmt.Errorf("replay.max_attempts must be positive, got %d", c.Replay.MaxAttempts)
	}
	if c.Replay.InitialBackoff <= 0 {
		return fmt.Errorf("replay.initial_backoff must be positive, got %s", c.Replay.InitialBackoff)
	}
	if c.Replay.BackoffCap < c.Replay.InitialBackoff {
		return fmt.Errorf("replay.backoff_cap %s is below replay.initial_backoff %s",
			c.Replay.BackoffCap, c.Replay.InitialBackoff)
	}
	if c.Replay.BackoffMultiplier < 1.0 {
		return fmt.Errorf("replay.backoff_multiplier must be >= 1.0, got %g", c.Replay.BackoffMultiplier)
	}

	switch c.Store.Compression {
	case CompressionNone, CompressionGzip, CompressionBrotli:
	default:
		return fmt.Errorf("store.compression %q is not one of none, gzip, brotli", c.Store.Compression)
	}

	if c.Batch.Concurrency <= 0 {
		return fmt.Errorf("batch.concurrency must be positive, got %d", c.Batch.Concurrency)
	}
	if c.Batch.LaunchesPerSecond <= 0 {
		return fmt.Errorf("batch.launches_per_second must be positive, got %g", c.Batch.LaunchesPerSecond)
	}

	return nil
}

package config_test

import (
	"strings"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xkilldash9x/reprise/internal/config"
)

func defaultViper() *viper.Viper {
	v := viper.New()
	config.SetDefaults(v)
	return v
}

func TestNewDefault(t *testing.T) {
	cfg := config.NewDefault()

	assert.Equal(t, "info", cfg.Logger.Level)
	assert.Equal(t, "console", cfg.Logger.Format)
	assert.True(t, cfg.Browser.Headless)
	assert.Equal(t, 90*time.Second, cfg.Browser.NavigationTimeout)
	assert.Equal(t, 1500*time.Millisecond, cfg.Browser.StabilizationWait)

	assert.Equal(t, 5, cfg.Replay.MaxAttempts)
	assert.Equal(t, time.Second, cfg.Replay.InitialBackoff)
	assert.Equal(t, 5*time.Second, cfg.Replay.BackoffCap)
	assert.Equal(t, 1.5, cfg.Replay.BackoffMultiplier)
	assert.False(t, cfg.Replay.StopOnFailure)

	assert.Equal(t, config.CompressionNone, cfg.Store.Compression)
	assert.Empty(t, cfg.Store.PostgresDSN)

	assert.Equal(t, 2, cfg.Batch.Concurrency)
	assert.Equal(t, 1.0, cfg.Batch.LaunchesPerSecond)

	require.NoError(t, cfg.Validate())
}

func TestNew_ExpandsStoreDir(t *testing.T) {
	v := defaultViper()
	v.Set("store.dir", "~/reprise-sessions")

	cfg, err := config.New(v)
	require.NoError(t, err)

	assert.False(t, strings.HasPrefix(cfg.Store.Dir, "~"), "tilde must be expanded")
	assert.True(t, strings.HasSuffix(cfg.Store.Dir, "reprise-sessions"))
}

func TestNew_OverridesApply(t *testing.T) {
	v := defaultViper()
	v.Set("replay.max_attempts", 3)
	v.Set("store.compression", config.CompressionBrotli)
	v.Set("batch.concurrency", 8)

	cfg, err := config.New(v)
	require.NoError(t, err)

	assert.Equal(t, 3, cfg.Replay.MaxAttempts)
	assert.Equal(t, config.CompressionBrotli, cfg.Store.Compression)
	assert.Equal(t, 8, cfg.Batch.Concurrency)
}

func TestValidate_Rejections(t *testing.T) {
	cases := []struct {
		name    string
		mutate  func(cfg *config.Config)
		wantMsg string
	}{
		{
			name:    "unknown log level",
			mutate:  func(cfg *config.Config) { cfg.Logger.Level = "loud" },
			wantMsg: "logger.level",
		},
		{
			name:    "zero max attempts",
			mutate:  func(cfg *config.Config) { cfg.Replay.MaxAttempts = 0 },
			wantMsg: "replay.max_attempts",
		},
		{
			name:    "negative initial backoff",
			mutate:  func(cfg *config.Config) { cfg.Replay.InitialBackoff = -time.Second },
			wantMsg: "replay.initial_backoff",
		},
		{
			name: "cap below initial backoff",
			mutate: func(cfg *config.Config) {
				cfg.Replay.InitialBackoff = 10 * time.Second
				cfg.Replay.BackoffCap = time.Second
			},
			wantMsg: "replay.backoff_cap",
		},
		{
			name:    "shrinking multiplier",
			mutate:  func(cfg *config.Config) { cfg.Replay.BackoffMultiplier = 0.5 },
			wantMsg: "replay.backoff_multiplier",
		},
		{
			name:    "unknown compression codec",
			mutate:  func(cfg *config.Config) { cfg.Store.Compression = "zstd" },
			wantMsg: "store.compression",
		},
		{
			name:    "zero concurrency",
			mutate:  func(cfg *config.Config) { cfg.Batch.Concurrency = 0 },
			wantMsg: "batch.concurrency",
		},
		{
			name:    "zero launch rate",
			mutate:  func(cfg *config.Config) { cfg.Batch.LaunchesPerSecond = 0 },
			wantMsg: "batch.launches_per_second",
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := config.NewDefault()
			tc.mutate(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tc.wantMsg)
		})
	}
}

// File: cmd/root.go
package cmd

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/xkilldash9x/reprise/api/schemas"
	"github.com/xkilldash9x/reprise/internal/config"
	"github.com/xkilldash9x/reprise/internal/store"
	"github.com/xkilldash9x/reprise/pkg/observability"
)

var (
	cfgFile string
	// cfg is populated by the root PersistentPreRunE before any subcommand
	// runs.
	cfg *config.Config
)

// NewRootCommand builds the command tree. A fresh instance per execution
// keeps flag state from leaking between runs.
func NewRootCommand() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:     "reprise",
		Short:   "Record browser automation sessions and replay them deterministically.",
		Version: Version,
		// Errors are logged by Execute; cobra's own echo would duplicate them.
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			loaded, err := initializeConfig()
			if err != nil {
				// Fall back so the failure itself gets logged somewhere.
				observability.InitializeLogger(observability.Config{
					Level: "info", Format: "console", ServiceName: "reprise",
				})
				return err
			}
			cfg = loaded

			observability.InitializeLogger(observability.Config{
				Level:       cfg.Logger.Level,
				Format:      cfg.Logger.Format,
				LogFile:     cfg.Logger.LogFile,
				MaxSize:     cfg.Logger.MaxSize,
				MaxBackups:  cfg.Logger.MaxBackups,
				MaxAge:      cfg.Logger.MaxAge,
				Compress:    cfg.Logger.Compress,
				AddSource:   cfg.Logger.AddSource,
				ServiceName: cfg.Logger.ServiceName,
			})
			observability.GetLogger().Debug("Starting reprise.", zap.String("version", Version))
			return nil
		},
	}

	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "config file (default is ./config.yaml)")
	rootCmd.SetVersionTemplate(`{{printf "%s\n" .Version}}`)

	rootCmd.AddCommand(
		newRecordCommand(),
		newReplayCommand(),
		newSessionsCommand(),
		newInspectCommand(),
		newVersionCommand(),
	)
	return rootCmd
}

// Execute runs the CLI under the given context.
func Execute(ctx context.Context) error {
	rootCmd := NewRootCommand()
	err := rootCmd.ExecuteContext(ctx)
	if err != nil {
		if logger := observability.GetLogger(); logger != nil {
			logger.Error("Command execution failed.", zap.Error(err))
		} else {
			fmt.Fprintln(os.Stderr, err)
		}
	}
	observability.Sync()
	return err
}

// initializeConfig reads the config file and environment into a validated
// Config.
func initializeConfig() (*config.Config, error) {
	v := viper.New()
	config.SetDefaults(v)

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else {
		v.AddConfigPath(".")
		v.SetConfigName("config")
		v.SetConfigType("yaml")
	}

	v.SetEnvPrefix("REPRISE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
		// No config file; defaults and env vars carry the run.
	}

	return config.New(v)
}

// openFileStore opens the configured local session store.
func openFileStore() (*store.FileStore, error) {
	return store.NewFileStore(cfg.Store, observability.GetLogger())
}

// openPostgresArchive connects the shared archive, which requires a DSN.
func openPostgresArchive(ctx context.Context) (*store.PostgresArchive, error) {
	if cfg.Store.PostgresDSN == "" {
		return nil, fmt.Errorf("store.postgres_dsn is not configured")
	}
	return store.Connect(ctx, cfg.Store.PostgresDSN, observability.GetLogger())
}

// loadRecordedSession resolves an argument that is either a session id in
// the store or a path to a session file.
func loadRecordedSession(ctx context.Context, fileStore *store.FileStore, arg string) (*schemas.RecordedSession, error) {
	if fi, err := os.Stat(arg); err == nil && !fi.IsDir() {
		return store.LoadSessionFile(arg)
	}
	return fileStore.LoadSession(ctx, arg)
}

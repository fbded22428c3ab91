// File: cmd/replay.go
package cmd

import (
	"context"
	"fmt"
	"os"
	"strings"

	jsoniter "github.com/json-iterator/go"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/xkilldash9x/reprise/api/schemas"
	"github.com/xkilldash9x/reprise/internal/browser/cdp"
	"github.com/xkilldash9x/reprise/internal/browser/static"
	"github.com/xkilldash9x/reprise/internal/replay"
	"github.com/xkilldash9x/reprise/internal/report"
	"github.com/xkilldash9x/reprise/internal/store"
	"github.com/xkilldash9x/reprise/pkg/observability"
)

func newReplayCommand() *cobra.Command {
	var (
		stopOnFailure  bool
		sensitivePairs []string
		sensitiveFile  string
		junitPath      string
		useArchive     bool
		snapshotPath   string
		concurrency    int
	)

	cmd := &cobra.Command{
		Use:   "replay <session>...",
		Short: "Replay recorded sessions against a live browser or a snapshot.",
		Long: `Replays one or more recorded sessions. Arguments are session ids from the
store or paths to session files. With --snapshot the replay runs against a
parsed HTML document instead of a browser (a dry run for matching).`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			logger := observability.GetLogger()

			fileStore, err := openFileStore()
			if err != nil {
				return err
			}

			sessions := make([]*schemas.RecordedSession, 0, len(args))
			for _, arg := range args {
				session, err := loadRecordedSession(ctx, fileStore, arg)
				if err != nil {
					return err
				}
				sessions = append(sessions, session)
			}

			sensitive, err := loadSensitiveValues(sensitiveFile, sensitivePairs)
			if err != nil {
				return err
			}
			opts := replay.Options{
				Sensitive:     sensitive,
				StopOnFailure: stopOnFailure,
			}

			launch := func(ctx context.Context) (schemas.LiveSession, error) {
				if snapshotPath != "" {
					return static.NewFromFile(snapshotPath, logger)
				}
				return cdp.New(ctx, cfg.Browser, logger)
			}

			replayer := replay.NewReplayer(cfg.Replay, logger)

			var entries []report.Entry
			if len(sessions) == 1 {
				result, runErr := runSingle(ctx, replayer, launch, sessions[0], opts, logger)
				entries = append(entries, report.Entry{Session: sessions[0], Result: result, Err: runErr})
			} else {
				batchCfg := cfg.Batch
				if concurrency > 0 {
					batchCfg.Concurrency = concurrency
				}
				batch := replay.NewBatch(batchCfg, replayer, launch, logger)
				results, err := batch.Run(ctx, sessions, opts)
				if err != nil {
					return err
				}
				for i, r := range results {
					entries = append(entries, report.Entry{Session: sessions[i], Result: r.Result, Err: r.Err})
				}
			}

			if err := persistOutcomes(ctx, fileStore, entries, useArchive, logger); err != nil {
				return err
			}
			if junitPath != "" {
				if err := writeJUnitFile(junitPath, entries); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "JUnit report written to %s.\n", junitPath)
			}

			return summarize(cmd, entries)
		},
	}

	cmd.Flags().BoolVar(&stopOnFailure, "stop-on-failure", false, "Stop a session at its first failed action.")
	cmd.Flags().StringArrayVar(&sensitivePairs, "sensitive", nil, "Substitute value for a redacted input, as key=value. Repeatable.")
	cmd.Flags().StringVar(&sensitiveFile, "sensitive-file", "", "JSON file of key/value substitutes for redacted inputs.")
	cmd.Flags().StringVar(&junitPath, "junit", "", "Write a JUnit XML report to this path.")
	cmd.Flags().BoolVar(&useArchive, "archive", false, "Also record outcomes in the Postgres archive.")
	cmd.Flags().StringVar(&snapshotPath, "snapshot", "", "Replay against this HTML snapshot instead of a browser.")
	cmd.Flags().IntVar(&concurrency, "concurrency", 0, "Concurrent sessions for batch replay (default from config).")
	return cmd
}

func runSingle(ctx context.Context, replayer *replay.Replayer, launch replay.Launcher, session *schemas.RecordedSession, opts replay.Options, logger *zap.Logger) (*schemas.ReplayResult, error) {
	live, err := launch(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to launch session: %w", err)
	}
	defer func() {
		if err := live.Close(ctx); err != nil {
			logger.Warn("Session cleanup failed.", zap.Error(err))
		}
	}()
	return replayer.Replay(ctx, live, session, opts)
}

// persistOutcomes appends each result to the session's local run log and,
// when asked, mirrors session and run into the shared archive.
func persistOutcomes(ctx context.Context, fileStore *store.FileStore, entries []report.Entry, useArchive bool, logger *zap.Logger) error {
	var archive *store.PostgresArchive
	if useArchive {
		var err error
		archive, err = openPostgresArchive(ctx)
		if err != nil {
			return err
		}
		defer archive.Close()
	}

	for _, entry := range entries {
		if entry.Result == nil {
			continue
		}
		if err := fileStore.SaveRun(ctx, entry.Session.SessionID, entry.Result); err != nil {
			logger.Warn("Failed to append run log.",
				zap.String("session_id", entry.Session.SessionID), zap.Error(err))
		}
		if archive != nil {
			if err := archive.SaveSession(ctx, entry.Session); err != nil {
				return err
			}
			if err := archive.SaveRun(ctx, entry.Session.SessionID, entry.Result); err != nil {
				return err
			}
		}
	}
	return nil
}

func writeJUnitFile(path string, entries []report.Entry) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", path, err)
	}
	defer f.Close()
	if err := report.WriteJUnit(f, entries); err != nil {
		return err
	}
	return f.Close()
}

// summarize prints per-session outcomes and returns an error when anything
// failed, so the process exits non-zero for CI.
func summarize(cmd *cobra.Command, entries []report.Entry) error {
	out := cmd.OutOrStdout()
	failed := 0

	for _, entry := range entries {
		id := entry.Session.SessionID
		switch {
		case entry.Err != nil:
			failed++
			fmt.Fprintf(out, "%s: FAILED (%v)\n", id, entry.Err)
		case entry.Result != nil && entry.Result.Success:
			fmt.Fprintf(out, "%s: ok (%d actions, %.1fs)\n",
				id, entry.Result.ActionsSucceeded, entry.Result.DurationSeconds)
		case entry.Result != nil:
			failed++
			fmt.Fprintf(out, "%s: %d/%d actions failed (%s)\n",
				id, entry.Result.ActionsFailed, entry.Result.ActionsTotal, entry.Result.State)
			for _, msg := range entry.Result.Errors {
				fmt.Fprintf(out, "  %s\n", msg)
			}
		default:
			failed++
			fmt.Fprintf(out, "%s: no result\n", id)
		}
	}

	if failed > 0 {
		return fmt.Errorf("%d of %d sessions failed", failed, len(entries))
	}
	return nil
}

// loadSensitiveValues merges the substitutes file with the repeatable
// key=value flags, the flags winning on conflict.
func loadSensitiveValues(path string, pairs []string) (map[string]string, error) {
	values := make(map[string]string)

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read sensitive-file: %w", err)
		}
		if err := jsoniter.ConfigCompatibleWithStandardLibrary.Unmarshal(data, &values); err != nil {
			return nil, fmt.Errorf("failed to parse sensitive-file: %w", err)
		}
	}

	for _, pair := range pairs {
		key, value, found := strings.Cut(pair, "=")
		if !found || key == "" {
			return nil, fmt.Errorf("invalid --sensitive value %q, want key=value", pair)
		}
		values[key] = value
	}
	return values, nil
}

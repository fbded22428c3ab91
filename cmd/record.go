// File: cmd/record.go
package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/xkilldash9x/reprise/internal/record"
	"github.com/xkilldash9x/reprise/internal/store"
	"github.com/xkilldash9x/reprise/pkg/observability"
)

func newRecordCommand() *cobra.Command {
	var (
		fromLog   string
		task      string
		url       string
		output    string
		fromStart bool
	)

	cmd := &cobra.Command{
		Use:   "record",
		Short: "Record a session by following an external action log.",
		Long: `Follows a JSONL action log (one action event per line) and accumulates
the events into a replayable session. Interrupt with Ctrl-C to detach and
save.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if fromLog == "" {
				return fmt.Errorf("--from-log is required")
			}

			logger := observability.GetLogger()
			ctx := cmd.Context()

			source, err := record.NewTailSource(fromLog, fromStart, logger)
			if err != nil {
				return err
			}

			recorder := record.New(task, url, logger)
			if err := recorder.Attach(source); err != nil {
				source.Stop()
				return err
			}

			fmt.Fprintf(cmd.OutOrStdout(), "Recording from %s. Press Ctrl-C to stop.\n", fromLog)
			<-ctx.Done()

			// Stop the follower first so the recorder drains everything the
			// log already delivered.
			if err := source.Stop(); err != nil {
				logger.Warn("Log follower stop reported an error.", zap.Error(err))
			}
			session, _, err := recorder.Detach()
			if err != nil {
				return err
			}

			if len(session.Actions) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No actions recorded; nothing saved.")
				return nil
			}

			// Saving must survive the canceled command context.
			saveCtx := context.Background()

			if output != "" {
				if err := store.SaveSessionFile(output, session); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Recorded %d actions to %s (session %s).\n",
					len(session.Actions), output, session.SessionID)
				return nil
			}

			fileStore, err := openFileStore()
			if err != nil {
				return err
			}
			if err := fileStore.SaveSession(saveCtx, session); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Recorded %d actions as session %s.\n",
				len(session.Actions), session.SessionID)
			return nil
		},
	}

	cmd.Flags().StringVar(&fromLog, "from-log", "", "JSONL action log to follow (required).")
	cmd.Flags().StringVarP(&task, "task", "t", "", "Human-readable description of the recorded task.")
	cmd.Flags().StringVarP(&url, "url", "u", "", "Initial URL the recording starts from.")
	cmd.Flags().StringVarP(&output, "output", "o", "", "Write the session to this file instead of the store.")
	cmd.Flags().BoolVar(&fromStart, "from-start", false, "Replay the whole log instead of only new lines.")
	return cmd
}

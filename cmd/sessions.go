// File: cmd/sessions.go
package cmd

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/xkilldash9x/reprise/api/schemas"
)

func newSessionsCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sessions",
		Short: "Inspect and manage the local session store.",
	}
	cmd.AddCommand(
		newSessionsListCommand(),
		newSessionsShowCommand(),
		newSessionsArchiveCommand(),
	)
	return cmd
}

func newSessionsListCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List stored sessions, newest first.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			fileStore, err := openFileStore()
			if err != nil {
				return err
			}
			summaries, err := fileStore.ListSessions(cmd.Context())
			if err != nil {
				return err
			}
			if len(summaries) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No sessions recorded.")
				return nil
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "SESSION ID\tRECORDED\tACTIONS\tENGINE\tTASK")
			for _, s := range summaries {
				fmt.Fprintf(w, "%s\t%s\t%d\t%s\t%s\n",
					s.SessionID, s.RecordedAt, s.ActionCount, s.EngineVersion, s.Task)
			}
			return w.Flush()
		},
	}
}

func newSessionsShowCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "show <session>",
		Short: "Print a stored session's action log.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			fileStore, err := openFileStore()
			if err != nil {
				return err
			}
			session, err := loadRecordedSession(cmd.Context(), fileStore, args[0])
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Session %s\n", session.SessionID)
			if session.Task != "" {
				fmt.Fprintf(out, "Task:       %s\n", session.Task)
			}
			if session.InitialURL != "" {
				fmt.Fprintf(out, "URL:        %s\n", session.InitialURL)
			}
			fmt.Fprintf(out, "Recorded:   %s\n", session.RecordedAt.Format("2006-01-02 15:04:05 MST"))
			fmt.Fprintf(out, "Engine:     %s\n", session.EngineVersion)
			fmt.Fprintf(out, "Actions:    %d\n\n", len(session.Actions))

			for i, action := range session.Actions {
				step := action.StepNumber
				if step <= 0 {
					step = i + 1
				}
				fmt.Fprintf(out, "%3d. %s%s\n", step, action.Type, describeAction(&action))
			}
			return nil
		},
	}
}

func newSessionsArchiveCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "archive <session>...",
		Short: "Copy stored sessions into the Postgres archive.",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			fileStore, err := openFileStore()
			if err != nil {
				return err
			}
			archive, err := openPostgresArchive(ctx)
			if err != nil {
				return err
			}
			defer archive.Close()

			for _, arg := range args {
				session, err := loadRecordedSession(ctx, fileStore, arg)
				if err != nil {
					return err
				}
				if err := archive.SaveSession(ctx, session); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Archived %s (%d actions).\n",
					session.SessionID, len(session.Actions))
			}
			return nil
		},
	}
}

// describeAction renders the action's parameters for listings.
func describeAction(action *schemas.RecordedAction) string {
	switch action.Type {
	case schemas.ActionNavigate:
		return " " + action.URL
	case schemas.ActionTypeText:
		target := ""
		if action.Element != nil && action.Element.Name != "" {
			target = " into " + action.Element.Name
		}
		return fmt.Sprintf(" %q%s", action.Text, target)
	case schemas.ActionClick:
		if action.Element != nil {
			if action.Element.TextContent != "" {
				return fmt.Sprintf(" %q", action.Element.TextContent)
			}
			if action.Element.CSSSelector != "" {
				return " " + action.Element.CSSSelector
			}
		}
	case schemas.ActionScroll:
		return fmt.Sprintf(" %s %d", action.Direction, action.ScrollAmount)
	case schemas.ActionSendKeys:
		return " " + action.Keys
	case schemas.ActionWait:
		return fmt.Sprintf(" %.1fs", action.WaitSeconds)
	case schemas.ActionUploadFile:
		return " " + action.FilePath
	case schemas.ActionSelectDropdown:
		return fmt.Sprintf(" %q", action.DropdownOption)
	}
	return ""
}

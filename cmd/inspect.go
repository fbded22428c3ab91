// File: cmd/inspect.go
package cmd

import (
	"errors"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/xkilldash9x/reprise/api/schemas"
	"github.com/xkilldash9x/reprise/internal/browser/static"
	"github.com/xkilldash9x/reprise/internal/replay"
	"github.com/xkilldash9x/reprise/pkg/observability"
)

func newInspectCommand() *cobra.Command {
	var snapshotPath string

	cmd := &cobra.Command{
		Use:   "inspect <session>",
		Short: "Print per-action element fingerprints.",
		Long: `Prints every captured fingerprint signal for each action. With --snapshot
the fingerprints are also matched against the given HTML document, showing
which strategy (if any) re-identifies each element.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			fileStore, err := openFileStore()
			if err != nil {
				return err
			}
			session, err := loadRecordedSession(ctx, fileStore, args[0])
			if err != nil {
				return err
			}

			var matcher *replay.Matcher
			if snapshotPath != "" {
				snapshot, err := static.NewFromFile(snapshotPath, observability.GetLogger())
				if err != nil {
					return err
				}
				defer snapshot.Close(ctx)
				matcher = replay.NewMatcher(snapshot, observability.GetLogger())
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Session %s (%d actions)\n\n", session.SessionID, len(session.Actions))

			for i, action := range session.Actions {
				step := action.StepNumber
				if step <= 0 {
					step = i + 1
				}
				fmt.Fprintf(out, "%3d. %s%s\n", step, action.Type, describeAction(&action))

				fp := action.Element
				if fp.IsEmpty() {
					if action.Type.RequiresElement() {
						fmt.Fprintln(out, "     fingerprint: MISSING")
					}
					continue
				}
				printFingerprint(out, fp)

				if matcher != nil {
					_, strategy, err := matcher.Locate(ctx, fp)
					switch {
					case err == nil:
						fmt.Fprintf(out, "     snapshot match: %s\n", strategy)
					case errors.Is(err, replay.ErrNoMatch):
						fmt.Fprintln(out, "     snapshot match: NONE")
					default:
						return err
					}
				}
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&snapshotPath, "snapshot", "", "Match fingerprints against this HTML snapshot.")
	return cmd
}

func printFingerprint(out io.Writer, fp *schemas.ElementFingerprint) {
	field := func(name, value string) {
		if value != "" {
			fmt.Fprintf(out, "     %-12s %s\n", name+":", value)
		}
	}
	field("tag", fp.TagName)
	field("id", fp.ID)
	field("css", fp.CSSSelector)
	field("xpath", fp.XPath)
	if fp.StableHash != 0 {
		fmt.Fprintf(out, "     %-12s %016x\n", "hash:", fp.StableHash)
	}
	field("data-testid", fp.DataTestID)
	field("aria-label", fp.AriaLabel)
	field("name", fp.Name)
	field("placeholder", fp.Placeholder)
	field("href", fp.Href)
	field("role", fp.Role)
	field("text", fp.TextContent)
	if fp.HasBox() {
		x, y := fp.Center()
		fmt.Fprintf(out, "     %-12s (%.0f, %.0f)\n", "center:", x, y)
	}
}

package cli

import (
	"fmt"
	"io"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/cairndb/cairn/internal/entity"
	"github.com/cairndb/cairn/internal/index"
)

// NewStatsCommand creates the stats command.
func NewStatsCommand(rootOpts *RootOptions) *cobra.Command {
	var shadow bool

	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Report entry counts by category and access level",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			mgr, err := rootOpts.manager()
			if err != nil {
				return WrapExitError(ExitCommandError, "stats", err)
			}
			root := rootOpts.Root
			if shadow {
				root = mgr.Real().Shadow().Root
			}
			svc, err := entity.Open(root, mgr)
			if err != nil {
				return WrapExitError(ExitCommandError, "open instance", err)
			}
			defer svc.Close()

			st, err := svc.Stats(cmd.Context())
			if err != nil {
				return WrapExitError(ExitFailure, "collect stats", err)
			}

			f := &Formatter{Format: rootOpts.Format, Writer: cmd.OutOrStdout()}
			return f.Success(st, func(w io.Writer) {
				bold := color.New(color.Bold)
				bold.Fprintf(w, "%s (release %d)\n", root, st.Release)
				fmt.Fprintf(w, "  entries: %d\n", st.Total)
				printGroups(w, "by category", "cat", st.ByCat)
				printGroups(w, "by access", "access", st.ByAccess)
			})
		},
	}

	cmd.Flags().BoolVar(&shadow, "shadow", false, "report on the shadow instance")
	return cmd
}

func printGroups(w io.Writer, title, key string, rows []index.StatRow) {
	if len(rows) == 0 {
		return
	}
	fmt.Fprintf(w, "  %s:\n", title)
	for _, r := range rows {
		name := r.Group[key]
		if name == "" {
			name = "(none)"
		}
		fmt.Fprintf(w, "    %-24s %d\n", name, r.Count)
	}
}

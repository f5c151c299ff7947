package cli

import (
	"io"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/cairndb/cairn/internal/release"
)

// NewLoadCommand creates the load command.
func NewLoadCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "load <dump.json>",
		Short: "Re-initialize the instance from a dump",
		Long: `Replace the instance's content with a dump produced by cairn dump.
The dump's release must match the instance config's release: a dump that
needs upgrading goes through the shadow cycle instead.

The existing content is rolled back if the load fails partway.`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			mgr, err := rootOpts.manager()
			if err != nil {
				return WrapExitError(ExitCommandError, "load", err)
			}
			dump, err := readDumpFile(args[0])
			if err != nil {
				return WrapExitError(ExitCommandError, "read dump", err)
			}
			cfg, err := release.LoadConfig(mgr.Real().ConfigPath())
			if err != nil {
				return WrapExitError(ExitCommandError, "load config", err)
			}

			st, err := mgr.Initialize(cmd.Context(), cfg, dump.Listing, dump.Meta.Release)
			if err != nil {
				return WrapExitError(ExitFailure, "load instance", err)
			}

			f := &Formatter{Format: rootOpts.Format, Writer: cmd.OutOrStdout()}
			return f.Success(st, func(w io.Writer) {
				color.New(color.FgGreen).Fprintf(w, "loaded %d entries at release %d\n", st.Loaded, st.Release)
			})
		},
	}
	return cmd
}

package cli

import (
	"fmt"
	"io"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

// NewPromoteCommand creates the promote command (phase two of the
// release cycle).
func NewPromoteCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "promote",
		Short: "Replace the real instance with the shadow's content",
		Long: `Promote the shadow instance: the real instance's entry table and
category snapshot are replaced by the shadow's upgraded content, then the
shadow is reset to mirror the new real, ready for the next cycle.

Promotion refuses to run when the shadow is behind the config's target
release; run cairn shadow first.`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			mgr, err := rootOpts.manager()
			if err != nil {
				return WrapExitError(ExitCommandError, "promote", err)
			}
			st, err := mgr.Promote(cmd.Context())
			if err != nil {
				return WrapExitError(ExitFailure, "promote shadow", err)
			}
			f := &Formatter{Format: rootOpts.Format, Writer: cmd.OutOrStdout()}
			return f.Success(st, func(w io.Writer) {
				color.New(color.FgGreen).Fprintln(w, "shadow promoted")
				colorStatus(w, st.Release, st.Upgrades, st.Loaded)
			})
		},
	}
	return cmd
}

func colorStatus(w io.Writer, release, upgrades, loaded int) {
	fmt.Fprintf(w, "  release:  %d\n  upgrades: %d\n  loaded:   %d\n", release, upgrades, loaded)
}

package cli

import (
	"io"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

// NewShadowCommand creates the shadow command (phase one of the release
// cycle).
func NewShadowCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "shadow",
		Short: "Sync the shadow instance from real, running pending upgrades",
		Long: `Refresh the shadow instance from the real one and run every upgrade
procedure between the real index's release and the config's target
release. The real instance is never written; a failed upgrade rolls the
shadow back and leaves everything as it was.`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			mgr, err := rootOpts.manager()
			if err != nil {
				return WrapExitError(ExitCommandError, "shadow", err)
			}
			st, err := mgr.EnterShadow(cmd.Context())
			if err != nil {
				return WrapExitError(ExitFailure, "enter shadow", err)
			}
			f := &Formatter{Format: rootOpts.Format, Writer: cmd.OutOrStdout()}
			return f.Success(st, func(w io.Writer) {
				color.New(color.FgGreen).Fprintln(w, "shadow synced")
				colorStatus(w, st.Release, st.Upgrades, st.Loaded)
			})
		},
	}
	return cmd
}

package cli

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/cairndb/cairn/internal/release"
)

// DumpFile is the transfer format between instances: the full listing
// with attachment contents plus metadata. Other tooling consumes this
// shape; field names are part of the external contract.
type DumpFile struct {
	Listing []release.Record `json:"listing"`
	Meta    DumpMeta         `json:"meta"`
}

// DumpMeta describes the dump's origin.
type DumpMeta struct {
	Root    string `json:"root"`
	Release int    `json:"release"`
}

// NewDumpCommand creates the dump command.
func NewDumpCommand(rootOpts *RootOptions) *cobra.Command {
	var output string

	cmd := &cobra.Command{
		Use:   "dump",
		Short: "Dump the instance listing as JSON",
		Long: `Dump every entry of the instance, with attachment content references,
as a JSON document suitable for cairn load on another instance.`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if rootOpts.Root == "" {
				return WrapExitError(ExitCommandError, "dump", fmt.Errorf("no instance root: pass --root or set CAIRN_ROOT"))
			}
			inst := release.Instance{Root: rootOpts.Root}
			if !inst.Exists() {
				return WrapExitError(ExitCommandError, "dump", fmt.Errorf("no instance at %s", rootOpts.Root))
			}
			h, err := inst.Open()
			if err != nil {
				return WrapExitError(ExitCommandError, "open instance", err)
			}
			defer h.Close()

			listing, rel, err := h.Dump(cmd.Context())
			if err != nil {
				return WrapExitError(ExitFailure, "dump instance", err)
			}
			dump := DumpFile{
				Listing: listing,
				Meta:    DumpMeta{Root: rootOpts.Root, Release: rel},
			}

			w := cmd.OutOrStdout()
			if output != "" {
				f, err := os.Create(output)
				if err != nil {
					return WrapExitError(ExitCommandError, "create output file", err)
				}
				defer f.Close()
				w = f
			}
			enc := json.NewEncoder(w)
			enc.SetIndent("", " ")
			if err := enc.Encode(dump); err != nil {
				return WrapExitError(ExitFailure, "encode dump", err)
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&output, "output", "o", "", "write dump to file instead of stdout")
	return cmd
}

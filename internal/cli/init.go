package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/cairndb/cairn/internal/release"
)

// InitOptions holds flags for the init command.
type InitOptions struct {
	*RootOptions
	Cats    string
	Release int
	From    string
}

// NewInitCommand creates the init command.
func NewInitCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &InitOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Initialize an instance",
		Long: `Initialize an instance root: write its config, snapshot the category
directory, create the attachment tree and the index database, and install
every category initializer.

With --from, a dump produced by another instance is loaded; its release
must match --release (pending upgrades go through the shadow cycle).

Example:
  cairn init --root ./data --cats ./cats --release 0
  cairn init --root ./data --cats ./cats --release 2 --from dump.json`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runInit(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Cats, "cats", "", "master category directory (required)")
	cmd.Flags().IntVar(&opts.Release, "release", 0, "target release number")
	cmd.Flags().StringVar(&opts.From, "from", "", "dump file to load")
	_ = cmd.MarkFlagRequired("cats")

	return cmd
}

func runInit(opts *InitOptions, cmd *cobra.Command) error {
	mgr, err := opts.manager()
	if err != nil {
		return WrapExitError(ExitCommandError, "init", err)
	}

	var listing []release.Record
	listingRelease := opts.Release
	if opts.From != "" {
		dump, err := readDumpFile(opts.From)
		if err != nil {
			return WrapExitError(ExitCommandError, "read dump", err)
		}
		listing = dump.Listing
		listingRelease = dump.Meta.Release
	}

	cfg := release.Config{Cats: opts.Cats, Release: opts.Release}
	st, err := mgr.Initialize(cmd.Context(), cfg, listing, listingRelease)
	if err != nil {
		return WrapExitError(ExitFailure, "initialize instance", err)
	}

	f := &Formatter{Format: opts.Format, Writer: cmd.OutOrStdout()}
	return f.Success(st, func(w io.Writer) {
		color.New(color.FgGreen).Fprintf(w, "initialized %s\n", opts.Root)
		fmt.Fprintf(w, "  release: %d\n  loaded:  %d\n", st.Release, st.Loaded)
	})
}

func readDumpFile(path string) (DumpFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return DumpFile{}, err
	}
	var dump DumpFile
	if err := json.Unmarshal(data, &dump); err != nil {
		return DumpFile{}, fmt.Errorf("parse %s: %w", path, err)
	}
	return dump, nil
}

// Package cli implements the cairn command tree: instance
// initialization, dump/load transfer, stats reporting and the two-phase
// shadow/promote release cycle.
package cli

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/cairndb/cairn/internal/release"
)

// RootOptions holds global flags shared by all commands.
type RootOptions struct {
	Root    string // instance root directory
	Verbose bool
	Format  string // "json" | "text"

	// Upgrades are the release-upgrade procedures compiled into this
	// binary, registered onto every manager the commands build.
	Upgrades map[int]release.Upgrade
}

// ValidFormats defines the allowed output formats.
var ValidFormats = []string{"text", "json"}

// NewRootCommand creates the root command for the cairn CLI.
func NewRootCommand() *cobra.Command {
	opts := &RootOptions{Upgrades: map[int]release.Upgrade{}}

	cmd := &cobra.Command{
		Use:   "cairn",
		Short: "cairn - entity index and attachment manager",
		Long: `cairn manages an instance of the entity repository: a SQLite index of
JSON entries governed by per-category schemas, an attachment tree, and
the shadow/real release-upgrade cycle.`,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if !isValidFormat(opts.Format) {
				return fmt.Errorf("invalid format %q: must be one of %v", opts.Format, ValidFormats)
			}
			// A .env in the working directory may supply the root.
			_ = godotenv.Load()
			if opts.Root == "" {
				opts.Root = os.Getenv("CAIRN_ROOT")
			}
			logLevel := slog.LevelInfo
			if opts.Verbose {
				logLevel = slog.LevelDebug
			}
			slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
				Level: logLevel,
			})))
			return nil
		},
	}

	cmd.PersistentFlags().StringVar(&opts.Root, "root", "", "instance root directory (default $CAIRN_ROOT)")
	cmd.PersistentFlags().BoolVarP(&opts.Verbose, "verbose", "v", false, "verbose output")
	cmd.PersistentFlags().StringVar(&opts.Format, "format", "text", "output format (json|text)")

	cmd.AddCommand(NewInitCommand(opts))
	cmd.AddCommand(NewDumpCommand(opts))
	cmd.AddCommand(NewLoadCommand(opts))
	cmd.AddCommand(NewStatsCommand(opts))
	cmd.AddCommand(NewShadowCommand(opts))
	cmd.AddCommand(NewPromoteCommand(opts))

	return cmd
}

// manager builds the release manager for the configured root with the
// binary's upgrade procedures registered.
func (o *RootOptions) manager() (*release.Manager, error) {
	if o.Root == "" {
		return nil, fmt.Errorf("no instance root: pass --root or set CAIRN_ROOT")
	}
	m := release.NewManager(o.Root)
	for n, up := range o.Upgrades {
		m.RegisterUpgrade(n, up)
	}
	return m, nil
}

func isValidFormat(format string) bool {
	for _, f := range ValidFormats {
		if f == format {
			return true
		}
	}
	return false
}

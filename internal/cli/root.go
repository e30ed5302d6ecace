// Package cli provides the command-line interface for Quarry.
package cli

import (
	"github.com/spf13/cobra"

	"github.com/quarrylabs/quarry/internal/cli/commands"
)

// Version information (set at build time).
var (
	Version   = "0.1.0"
	BuildDate = "unknown"
	GitCommit = "unknown"
)

// NewRootCmd creates and returns the root command.
func NewRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "quarry",
		Short: "Quarry - tabular data integration engine",
		Long: `Quarry runs declarative transformation pipelines over CSV, HTTP and SQL
sources. Pipeline prefixes fold into native SQL where the dialect allows it,
cross-source combinations pass through the privacy firewall, and oversized
sorts spill to disk.`,
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().StringP("config", "c", "", "project file (default: quarry.yaml in the nearest project root)")
	rootCmd.PersistentFlags().BoolP("verbose", "v", false, "verbose output")

	rootCmd.AddCommand(
		commands.NewRunCmd(),
		commands.NewPlanCmd(),
		commands.NewListCmd(),
		commands.NewVersionCmd(Version, BuildDate, GitCommit),
	)
	return rootCmd
}

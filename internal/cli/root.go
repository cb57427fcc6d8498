// Package cli assembles the cockroach-loader command tree.
package cli

import (
	"github.com/spf13/cobra"

	"github.com/coral-mesh/cockroach/internal/cli/loader"
	"github.com/coral-mesh/cockroach/pkg/version"
)

// NewRootCmd returns the cockroach-loader root command. The loader itself is
// the root action; version is the only subcommand.
func NewRootCmd() *cobra.Command {
	rootCmd := loader.NewCommand()
	rootCmd.AddCommand(newVersionCmd())
	return rootCmd
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			cmd.Printf("cockroach-loader %s\n", version.String())
			cmd.Printf("Git commit: %s\n", version.GitCommit)
			cmd.Printf("Build date: %s\n", version.BuildDate)
			cmd.Printf("Go version: %s\n", version.GoVersion)
		},
	}
}

// Execute runs the root command.
func Execute() error {
	return NewRootCmd().Execute()
}

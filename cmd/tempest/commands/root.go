package commands

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

var (
	// Global flags
	databasePath string
	jsonOutput   bool
)

// Execute runs the root command
func Execute(ctx context.Context, version, commit, buildDate string) error {
	rootCmd := newRootCommand(version, commit, buildDate)
	return rootCmd.ExecuteContext(ctx)
}

func newRootCommand(version, commit, buildDate string) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "tempest",
		Short: "Tempest - Cluster Orchestration Control Plane",
		Long: `Tempest models a cluster as components, dynamic groups, services,
applications, and recipes, and turns membership changes into triggers
that workers claim and execute.

Features:
  - Dynamic groups driven by attribute queries
  - Manual include/exclude membership overrides
  - Recipes dispatched on membership changes
  - Trigger lifecycle with atomic claiming and heartbeats
  - Stale trigger recovery`,
		Version: fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, buildDate),
	}

	// Persistent flags available to all commands
	rootCmd.PersistentFlags().StringVarP(&databasePath, "db", "d", "tempest.db", "control-plane database path")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "output in JSON format")

	// Add subcommands
	rootCmd.AddCommand(newInitCommand())
	rootCmd.AddCommand(newComponentCommand())
	rootCmd.AddCommand(newGroupCommand())
	rootCmd.AddCommand(newServiceCommand())
	rootCmd.AddCommand(newAppCommand())
	rootCmd.AddCommand(newRecipeCommand())
	rootCmd.AddCommand(newTriggerCommand())
	rootCmd.AddCommand(newObserveCommand())
	rootCmd.AddCommand(newReapCommand())

	return rootCmd
}

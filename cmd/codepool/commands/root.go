package commands

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

const shutdownTimeout = 10 * time.Second

var (
	// Global flags
	configPath string
	verbose    bool
	jsonOutput bool
)

// Execute runs the root command
func Execute(ctx context.Context, version, commit, buildDate string) error {
	rootCmd := newRootCommand(version, commit, buildDate)
	return rootCmd.ExecuteContext(ctx)
}

func newRootCommand(version, commit, buildDate string) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "codepool",
		Short: "Codepool - Code Pool Allocation & Reconciliation Engine",
		Long: `Codepool manages a fixed pool of codes, each of which can be linked to an
externally provisioned stack.

Features:
  - Fixed pool of codes initialized once and never resized
  - Batch allocation with per-code stack creation
  - Deletion with polling-friendly progress projection
  - Periodic reconciliation against the resource manager
  - Scheduler trigger toggled on demand so idle pools cost nothing`,
		Version: fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, buildDate),
	}

	// Persistent flags available to all commands
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "config file path")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable verbose output")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "output in JSON format")

	// Add subcommands
	rootCmd.AddCommand(newInitCommand())
	rootCmd.AddCommand(newAllocateCommand())
	rootCmd.AddCommand(newDeleteCommand())
	rootCmd.AddCommand(newStatusCommand())
	rootCmd.AddCommand(newListCommand())
	rootCmd.AddCommand(newReconcileCommand())
	rootCmd.AddCommand(newTriggerCommand())
	rootCmd.AddCommand(newServeCommand())

	return rootCmd
}

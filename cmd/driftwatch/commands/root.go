// Package commands implements the driftwatch CLI.
package commands

import (
	"github.com/spf13/cobra"
)

var (
	// watchDir is the working tree to watch. Empty means the current
	// directory.
	watchDir string

	// portOverride replaces the configured gateway port when positive.
	portOverride int

	// intervalOverride replaces the configured cycle interval, in
	// seconds, when positive.
	intervalOverride int64

	// modelOverride replaces the configured model name when set.
	modelOverride string

	// debugLog enables debug-level logging.
	debugLog bool
)

// rootCmd is the base command for the CLI.
var rootCmd = &cobra.Command{
	Use:   "driftwatch",
	Short: "Background review watcher for a git working tree",
	Long: `driftwatch watches a git working tree in the background, runs every
changed file through configurable review rules against a local language
model, and streams the results to a browser UI over WebSocket.`,
}

// Execute runs the CLI.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(
		&watchDir, "dir", "",
		"Working tree to watch (default: current directory)",
	)
	rootCmd.PersistentFlags().IntVar(
		&portOverride, "port", 0,
		"Gateway port (default: from ~/.driftwatch/config.toml)",
	)
	rootCmd.PersistentFlags().Int64Var(
		&intervalOverride, "interval", 0,
		"Scan interval in seconds (default: from config)",
	)
	rootCmd.PersistentFlags().StringVar(
		&modelOverride, "model", "",
		"Model name (default: from config)",
	)
	rootCmd.PersistentFlags().BoolVar(
		&debugLog, "debug", false,
		"Enable debug logging",
	)

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(initCmd)
	rootCmd.AddCommand(versionCmd)
}

// Package main is the entry point for the chanwatch CLI.
//
// chanwatch can be run either as a library (SDK) or as a standalone
// binary with YAML configuration. This CLI provides the standalone binary
// approach.
//
// Usage:
//
//	chanwatch watch -c config.yaml    # Start watching a board
//	chanwatch validate -c config.yaml # Validate configuration
//	chanwatch version                 # Show version info
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// Version information - set by GoReleaser at build time via ldflags.
// Example: go build -ldflags "-X main.version=1.0.0"
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

// rootCmd is the base command when called without subcommands.
// It just displays help - actual functionality is in subcommands.
var rootCmd = &cobra.Command{
	Use:   "chanwatch",
	Short: "A streaming watcher for imageboard boards",
	Long: `chanwatch continuously watches an imageboard board, persisting every
new post, and optionally every image, as it appears.

It polls the board index for new threads, tracks each live thread until
the upstream prunes it, and never stores the same post twice.

Quick start:
  1. Create a config file (chanwatch.yaml)
  2. Run: chanwatch watch -c chanwatch.yaml

Example config:
  board: g
  output_dir: /var/lib/chanwatch/g
  sink: file
  images: true
  poll_interval: 60s`,
	// No Run/RunE means this just shows help when called without subcommands
}

// Execute runs the root command.
// This is the main entry point called from main().
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		// Cobra already prints the error, just exit with code 1
		os.Exit(1)
	}
}

func main() {
	Execute()
}

// versionCmd prints version information.
var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Long:  `Print the version, commit hash, and build date of this chanwatch binary.`,
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("chanwatch %s\n", version)
		fmt.Printf("  commit: %s\n", commit)
		fmt.Printf("  built:  %s\n", date)
	},
}

func init() {
	// Register subcommands with root
	rootCmd.AddCommand(versionCmd)
}

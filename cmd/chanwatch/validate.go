package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/chanwatch/chanwatch/config"
)

// validateCmd checks a configuration file without starting the watcher.
var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate a configuration file",
	Long: `Validate a configuration file without watching anything.

Checks that the YAML parses, required fields are present, the sink name is
known, environment variables referenced in the file resolve, and the
polling interval is sane.

Example:
  chanwatch validate -c config.yaml`,
	RunE: runValidate,
}

func init() {
	rootCmd.AddCommand(validateCmd)

	validateCmd.Flags().StringP("config", "c", "", "path to config file (required)")
	_ = validateCmd.MarkFlagRequired("config")
}

func runValidate(cmd *cobra.Command, args []string) error {
	configFile, _ := cmd.Flags().GetString("config")

	cfg, err := config.Load(configFile)
	if err != nil {
		return fmt.Errorf("config invalid: %w", err)
	}

	cmd.Printf("config valid\n")
	cmd.Printf("  board:         %s\n", cfg.Board)
	cmd.Printf("  sink:          %s\n", cfg.Sink)
	cmd.Printf("  output_dir:    %s\n", cfg.OutputDir)
	cmd.Printf("  images:        %v\n", cfg.Images)
	cmd.Printf("  poll_interval: %s\n", cfg.PollInterval.Duration())
	return nil
}

package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/ppiankov/toolwatch/internal/config"
)

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "toolwatch",
	Short: "Risk classification and sequence detection for AI agent activity logs",
	Long: "Follows the activity logs an AI agent writes, rates every tool call as\n" +
		"low, medium, high or critical, and flags suspicious multi-step patterns.\n" +
		"Observability, not enforcement.",
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "Path to config YAML (env overrides use the TOOLWATCH_ prefix)")
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// loadConfig reads --config plus environment overrides.
func loadConfig() (config.Config, error) {
	cfg, err := config.Load(config.ExpandHome(cfgFile))
	if err != nil {
		return cfg, fmt.Errorf("failed to load config: %w", err)
	}
	return cfg, nil
}

package cli

import (
	"os"

	"github.com/spf13/cobra"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:   "overseer",
	Short: "Safety governor and sandbox for autonomous coding agents",
	Long:  "Gates destructive tool calls, detects doom loops, enforces resource budgets,\nand runs generated code in isolated sandbox backends.",
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Path to config YAML (default: ~/.overseer/config.yaml)")
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

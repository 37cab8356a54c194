package main

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:   "triage",
	Short: "GitHub issue triage agent",
	Long: `AI-assisted triage for GitHub issues.

The agent classifies new issues, retrieves relevant documentation, drafts a
response, and holds it for human approval via issue comments or the
dashboard API. Nothing reaches an issue thread without a maintainer's
sign-off.`,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to YAML config file")
}

func main() {
	// Secrets come from the environment; a local .env is a convenience.
	_ = godotenv.Load()

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

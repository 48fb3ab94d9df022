// Package main is the entry point for the pollenwatch CLI.
//
// PollenWatch can be run either as a library (SDK) or as a standalone binary
// with YAML configuration. This CLI provides the standalone binary approach.
//
// Usage:
//
//	pollenwatch serve -c config.yaml    # Start watching sources
//	pollenwatch validate -c config.yaml # Validate configuration
//	pollenwatch probe -c config.yaml    # Check credentials against the live API
//	pollenwatch version                 # Show version info
package main

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
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
	Use:   "pollenwatch",
	Short: "A pollen forecast watcher with a local sensor API",
	Long: `PollenWatch polls a pollen forecast service for configured locations
and projects each forecast into a stable set of sensors, served over a
REST API, a Server-Sent Events stream, and Prometheus metrics.

Quick start:
  1. Create a config file (pollenwatch.yaml)
  2. Run: pollenwatch serve -c pollenwatch.yaml
  3. Query http://localhost:8080/api/sensors

Example config:
  port: 8080
  sources:
    - name: Home
      api_key: ${POLLEN_API_KEY}
      latitude: 52.520008
      longitude: 13.404954
      forecast_days: 3
      per_day_sensors: d1_d2

API keys and coordinates never appear in logs or error output.`,
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
	// best-effort .env loading so ${VAR} expansion in configs sees local
	// development secrets; a missing file is the normal case in production
	_ = godotenv.Load()

	Execute()
}

// versionCmd prints version information.
var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Long:  `Print the version, commit hash, and build date of this pollenwatch binary.`,
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("pollenwatch %s\n", version)
		fmt.Printf("  commit: %s\n", commit)
		fmt.Printf("  built:  %s\n", date)
	},
}

func init() {
	// Register subcommands with root
	rootCmd.AddCommand(versionCmd)
}

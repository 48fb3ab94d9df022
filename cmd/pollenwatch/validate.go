package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/pollenlabs/pollenwatch"
	"github.com/pollenlabs/pollenwatch/config"
)

// validateCmd validates a config file without starting the server.
var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate a config file",
	Long: `Validate a PollenWatch configuration file without starting the server.

This command parses the YAML, expands environment variables, validates all
fields, and checks the sources for duplicate names and locations. No network
requests are made; use 'probe' to check credentials against the live API.

Exit codes:
  0 - Config is valid
  1 - Config is invalid (error details printed to stderr)

Example:
  pollenwatch validate -c config.yaml
  pollenwatch validate --config /etc/pollenwatch/config.yaml`,
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
		return fmt.Errorf("invalid config: %w", err)
	}

	sources, err := config.BuildSources(cfg)
	if err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	// constructing the watcher runs the cross-source checks (duplicate
	// names, duplicate locations, port range) without starting anything
	w, err := pollenwatch.New(
		pollenwatch.WithSources(sources...),
		pollenwatch.WithPort(cfg.Port),
	)
	if err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	// the summary names sources by display name and ID only; the key and
	// coordinates stay out of terminal output
	fmt.Printf("Config is valid!\n")
	fmt.Printf("  Port:    %d\n", w.Port())
	fmt.Printf("  Sources: %d\n", len(sources))
	for _, src := range w.Sources() {
		fmt.Printf("    - %s (id %s): %d day(s), every %s, per-day %s\n",
			src.Name(), src.ID(), src.ForecastDays(), src.UpdateInterval(), src.PerDay())
	}

	return nil
}

package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/pollenlabs/pollenwatch"
	"github.com/pollenlabs/pollenwatch/config"
)

// probeTimeout bounds the whole probe run, not a single request; each request
// carries the SDK's validation timeout on its own.
const probeTimeout = 60 * time.Second

// probeCmd checks configured credentials against the live upstream API.
var probeCmd = &cobra.Command{
	Use:   "probe",
	Short: "Check credentials against the live API",
	Long: `Probe each configured source with a single one-day forecast request.

For every source the command reports whether the API key is accepted and the
response parses. A rejected key is reported distinctly from the service being
unreachable, so CI can tell a credentials problem from a network one.

Exit codes:
  0 - All probed sources succeeded
  1 - At least one source failed (details printed per source)

Example:
  pollenwatch probe -c config.yaml
  pollenwatch probe -c config.yaml --source Home`,
	RunE: runProbe,
}

func init() {
	rootCmd.AddCommand(probeCmd)

	probeCmd.Flags().StringP("config", "c", "", "path to config file (required)")
	probeCmd.Flags().String("source", "", "probe only the source with this name")
	_ = probeCmd.MarkFlagRequired("config")
}

func runProbe(cmd *cobra.Command, args []string) error {
	configFile, _ := cmd.Flags().GetString("config")
	only, _ := cmd.Flags().GetString("source")

	cfg, err := config.Load(configFile)
	if err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	sources, err := config.BuildSources(cfg)
	if err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	if only != "" {
		filtered := sources[:0]
		for _, src := range sources {
			if src.Name() == only {
				filtered = append(filtered, src)
			}
		}
		if len(filtered) == 0 {
			return fmt.Errorf("no source named %q in config", only)
		}
		sources = filtered
	}

	opts := []pollenwatch.Option{pollenwatch.WithSources(sources...)}
	if cfg.BaseURL != "" {
		opts = append(opts, pollenwatch.WithBaseURL(cfg.BaseURL))
	}
	w, err := pollenwatch.New(opts...)
	if err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	ctx, cancel := context.WithTimeout(cmd.Context(), probeTimeout)
	defer cancel()

	failed := 0
	for _, src := range sources {
		err := w.Probe(ctx, src)
		switch {
		case err == nil:
			fmt.Printf("  OK    %s\n", src.Name())
		case pollenwatch.NeedsReauth(err):
			failed++
			fmt.Printf("  FAIL  %s: API key rejected: %v\n", src.Name(), err)
		default:
			failed++
			fmt.Printf("  FAIL  %s: %v\n", src.Name(), err)
		}
	}

	if failed > 0 {
		return fmt.Errorf("%d of %d source(s) failed the probe", failed, len(sources))
	}
	fmt.Printf("All %d source(s) validated.\n", len(sources))
	return nil
}

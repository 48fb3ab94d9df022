package config

import (
	"fmt"

	"github.com/pollenlabs/pollenwatch"
)

// BuildSources converts parsed configuration into SDK Source objects.
//
// Each entry goes through [pollenwatch.NewSource] with the options the entry
// sets, so SDK-level validation (coordinate ranges, interval minimum, per-day
// horizon cross-check) applies on top of the config-level checks. The first
// failing entry aborts the build with a positional error.
func BuildSources(cfg *Config) ([]pollenwatch.Source, error) {
	sources := make([]pollenwatch.Source, 0, len(cfg.Sources))

	for i, sc := range cfg.Sources {
		src, err := buildSource(sc)
		if err != nil {
			return nil, fmt.Errorf("sources[%d] (%s): %w", i, sc.Name, err)
		}
		sources = append(sources, src)
	}

	return sources, nil
}

// buildSource converts a single SourceConfig to an SDK Source.
func buildSource(sc SourceConfig) (pollenwatch.Source, error) {
	var opts []pollenwatch.SourceOption

	if sc.ForecastDays != 0 {
		opts = append(opts, pollenwatch.WithForecastDays(sc.ForecastDays))
	}

	if sc.Language != "" {
		opts = append(opts, pollenwatch.WithLanguage(sc.Language))
	}

	if sc.UpdateInterval != 0 {
		opts = append(opts, pollenwatch.WithUpdateInterval(sc.UpdateInterval.Duration()))
	}

	if sc.PerDaySensors != "" {
		opts = append(opts, pollenwatch.WithPerDaySensors(pollenwatch.PerDaySensors(sc.PerDaySensors)))
	}

	if sc.Referrer != "" {
		opts = append(opts, pollenwatch.WithReferrer(sc.Referrer))
	}

	return pollenwatch.NewSource(sc.Name, sc.APIKey, *sc.Latitude, *sc.Longitude, opts...)
}

// Package config provides YAML configuration parsing for PollenWatch.
//
// This package enables running PollenWatch as a standalone binary with a
// configuration file, as an alternative to the programmatic SDK approach.
//
// Example configuration:
//
//	port: 8080
//
//	sources:
//	  - name: Home
//	    api_key: ${POLLEN_API_KEY}
//	    latitude: 52.520008
//	    longitude: 13.404954
//	    forecast_days: 3
//	    language: de
//	    update_interval: 6h
//	    per_day_sensors: d1_d2
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"regexp"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// minUpdateInterval is the minimum allowed refresh interval for sources.
// This prevents accidental quota exhaustion against the upstream API.
const minUpdateInterval = time.Hour

var validate = validator.New()

// Config is the root configuration structure for PollenWatch.
//
// It maps directly to the YAML configuration file structure.
// Use [Load] or [Parse] to create a Config from YAML.
type Config struct {
	// Port is the HTTP server port. Defaults to 8080.
	Port int `yaml:"port"`

	// BaseURL overrides the upstream forecast endpoint for every source.
	// Empty means the production endpoint; set it to point the binary at a
	// mock or a proxy. Supports environment variable substitution.
	BaseURL string `yaml:"base_url"`

	// Sources defines the locations to watch.
	Sources []SourceConfig `yaml:"sources"`
}

// SourceConfig defines a single watched location.
type SourceConfig struct {
	// Name is the display name for the source. Must be unique.
	Name string `yaml:"name"`

	// APIKey authenticates requests for this source.
	// Supports environment variable substitution: ${VAR} or ${VAR:-default}
	APIKey string `yaml:"api_key" validate:"required"`

	// Latitude and Longitude locate the forecast. Both are required;
	// a zero coordinate is valid, an absent one is a config mistake.
	Latitude  *float64 `yaml:"latitude" validate:"required,min=-90,max=90"`
	Longitude *float64 `yaml:"longitude" validate:"required,min=-180,max=180"`

	// ForecastDays is the forecast horizon to request (1-5). Defaults to 3.
	ForecastDays int `yaml:"forecast_days" validate:"omitempty,min=1,max=5"`

	// Language optionally localizes display names and health advice,
	// e.g. "de" or "en-US". Empty means the upstream default.
	Language string `yaml:"language"`

	// UpdateInterval is the time between refreshes. Accepts duration
	// strings like "6h", "90m". Defaults to 6h; minimum 1h.
	UpdateInterval Duration `yaml:"update_interval"`

	// PerDaySensors enables forecast-day sensors per pollen type:
	// "none" (default), "d1", or "d1_d2".
	PerDaySensors string `yaml:"per_day_sensors" validate:"omitempty,oneof=none d1 d1_d2"`

	// Referrer is sent as the Referer header, for API keys restricted to
	// specific HTTP referrers. Supports environment variable substitution.
	Referrer string `yaml:"referrer"`
}

// Duration wraps time.Duration for YAML unmarshalling.
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler for Duration.
func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	var s string
	if err := node.Decode(&s); err != nil {
		return err
	}

	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}

	*d = Duration(parsed)
	return nil
}

// Duration returns the underlying time.Duration value.
func (d Duration) Duration() time.Duration {
	return time.Duration(d)
}

// envVarPattern matches ${VAR} and ${VAR:-default} patterns.
// Group 1: variable name
// Group 2: the ":-default" part (if present, indicates a default was specified)
// Group 3: the default value (may be empty for ${VAR:-})
var envVarPattern = regexp.MustCompile(`\$\{([^}:]+)(:-([^}]*))?\}`)

// expandEnvVars replaces ${VAR} and ${VAR:-default} patterns with environment values.
func expandEnvVars(s string) (string, error) {
	var firstErr error

	result := envVarPattern.ReplaceAllStringFunc(s, func(match string) string {
		// already have an error, skip processing
		if firstErr != nil {
			return match
		}

		submatches := envVarPattern.FindStringSubmatch(match)
		if len(submatches) < 2 {
			return match
		}

		varName := submatches[1]
		// submatches[2] is ":-..." (non-empty if default syntax was used)
		// submatches[3] is the actual default value (may be empty for ${VAR:-})
		hasDefault := len(submatches) > 2 && submatches[2] != ""
		defaultVal := ""
		if hasDefault && len(submatches) > 3 {
			defaultVal = submatches[3]
		}

		value, exists := os.LookupEnv(varName)
		if !exists {
			if hasDefault {
				return defaultVal
			}
			firstErr = fmt.Errorf("environment variable %q is not set", varName)
			return match
		}
		return value
	})

	if firstErr != nil {
		return "", firstErr
	}
	return result, nil
}

// Load reads and parses a YAML configuration file.
//
// Environment variables in the file are expanded before validation.
// Returns an error if the file cannot be read or parsed.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return Parse(data)
}

// Parse parses YAML configuration data.
//
// Environment variables are expanded in APIKey and Referrer values.
// Defaults are applied for Port (8080); per-source defaults (horizon,
// interval) are left to the SDK.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	if cfg.Port == 0 {
		cfg.Port = 8080
	}

	if err := cfg.expandAndValidate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// expandAndValidate expands environment variables and validates the config.
//
// Validation errors name the failing entry by position and name, but never
// echo the API key or the coordinates.
func (c *Config) expandAndValidate() error {
	if len(c.Sources) == 0 {
		return errors.New("at least one source must be defined")
	}

	if c.BaseURL != "" {
		expanded, err := expandEnvVars(c.BaseURL)
		if err != nil {
			return fmt.Errorf("base_url: %w", err)
		}
		c.BaseURL = expanded

		u, err := url.Parse(c.BaseURL)
		if err != nil {
			return fmt.Errorf("base_url: %w", err)
		}
		if u.Scheme != "http" && u.Scheme != "https" {
			return fmt.Errorf("base_url must be an http or https URL, got scheme %q", u.Scheme)
		}
	}

	for i := range c.Sources {
		src := &c.Sources[i]

		if src.Name == "" {
			return fmt.Errorf("sources[%d]: name is required", i)
		}

		expanded, err := expandEnvVars(src.APIKey)
		if err != nil {
			return fmt.Errorf("sources[%d] (%s): api_key: %w", i, src.Name, err)
		}
		src.APIKey = expanded

		if src.Referrer != "" {
			expanded, err := expandEnvVars(src.Referrer)
			if err != nil {
				return fmt.Errorf("sources[%d] (%s): referrer: %w", i, src.Name, err)
			}
			src.Referrer = expanded
		}

		if err := validate.Struct(src); err != nil {
			var verrs validator.ValidationErrors
			if errors.As(err, &verrs) && len(verrs) > 0 {
				fe := verrs[0]
				return fmt.Errorf("sources[%d] (%s): %s fails %q validation",
					i, src.Name, fieldLabel(fe.StructField()), fe.Tag())
			}
			return fmt.Errorf("sources[%d] (%s): %w", i, src.Name, err)
		}

		if src.UpdateInterval != 0 && src.UpdateInterval.Duration() < minUpdateInterval {
			return fmt.Errorf("sources[%d] (%s): update_interval must be at least %s, got %s",
				i, src.Name, minUpdateInterval, src.UpdateInterval.Duration())
		}
	}

	return nil
}

// fieldLabel maps a struct field name back to its YAML key so validation
// errors speak the config file's language.
func fieldLabel(field string) string {
	switch field {
	case "APIKey":
		return "api_key"
	case "Latitude":
		return "latitude"
	case "Longitude":
		return "longitude"
	case "ForecastDays":
		return "forecast_days"
	case "PerDaySensors":
		return "per_day_sensors"
	default:
		return field
	}
}

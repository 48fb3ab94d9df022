package pollenwatch

import (
	"fmt"
	"math"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/pollenlabs/pollenwatch/pollen"
)

const (
	defaultForecastDays   = 3
	defaultUpdateInterval = 6 * time.Hour
	minUpdateInterval     = time.Hour

	minForecastDays = 1
	maxForecastDays = 5
)

// sourceNamespace is the fixed UUID namespace for deriving source IDs from
// location keys. Changing it would change every source ID, so it never does.
var sourceNamespace = uuid.MustParse("b3b5edab-4c21-4f4e-9d2e-08a1c5d3f6a7")

// PerDaySensors selects which additional per-day pollen type sensors a
// source projects alongside the current-day ones.
type PerDaySensors string

const (
	// PerDayNone projects current-day sensors only.
	PerDayNone PerDaySensors = "none"

	// PerDayD1 additionally projects tomorrow (D+1) type sensors.
	// Requires a forecast horizon of at least 2 days.
	PerDayD1 PerDaySensors = "d1"

	// PerDayD1D2 additionally projects D+1 and D+2 type sensors.
	// Requires a forecast horizon of at least 3 days.
	PerDayD1D2 PerDaySensors = "d1_d2"
)

// MaxOffset returns the largest day offset the setting projects sensors for:
// 0 for none, 1 for d1, 2 for d1_d2.
func (p PerDaySensors) MaxOffset() int {
	switch p {
	case PerDayD1:
		return 1
	case PerDayD1D2:
		return 2
	default:
		return 0
	}
}

// Source describes one monitored location.
//
// Source is immutable after creation via [NewSource]. Its identity is the
// coordinate pair: two sources whose coordinates round to the same six
// decimal places are the same source, regardless of name or options.
//
// Sources are configured using the functional options pattern with
// [SourceOption] functions such as [WithForecastDays], [WithLanguage],
// [WithUpdateInterval], [WithPerDaySensors], and [WithReferrer].
type Source struct {
	name      string
	latitude  float64
	longitude float64
	apiKey    string
	days      int
	language  string
	interval  time.Duration
	perDay    PerDaySensors
	referrer  string
}

// NewSource creates a [Source] for the given location.
//
// The name is a human-chosen label used in logs and sensor listings; pick
// something that does not itself reveal the location if that matters to you.
// The API key authenticates upstream requests and never appears in logs,
// error messages, or diagnostics.
//
// Defaults: forecast horizon 3 days, update interval 6 hours, no per-day
// sensors, no language override.
//
// Example:
//
//	src, err := pollenwatch.NewSource("berlin-home", apiKey, 52.520008, 13.404954,
//	    pollenwatch.WithForecastDays(3),
//	    pollenwatch.WithPerDaySensors(pollenwatch.PerDayD1),
//	    pollenwatch.WithLanguage("de"),
//	)
func NewSource(name, apiKey string, latitude, longitude float64, opts ...SourceOption) (Source, error) {
	if name == "" {
		return Source{}, &pollen.ConfigError{Reason: "source name cannot be empty"}
	}
	if apiKey == "" {
		return Source{}, &pollen.ConfigError{Reason: "an API key is required"}
	}
	if math.IsNaN(latitude) || latitude < -90 || latitude > 90 {
		return Source{}, &pollen.ConfigError{Reason: "latitude must be between -90 and 90"}
	}
	if math.IsNaN(longitude) || longitude < -180 || longitude > 180 {
		return Source{}, &pollen.ConfigError{Reason: "longitude must be between -180 and 180"}
	}

	cfg := &sourceConfig{
		days:     defaultForecastDays,
		interval: defaultUpdateInterval,
		perDay:   PerDayNone,
	}
	for _, opt := range opts {
		if err := opt(cfg); err != nil {
			return Source{}, err
		}
	}

	// defensive clamp: the horizon is meaningless outside the supported range
	if cfg.days < minForecastDays {
		cfg.days = minForecastDays
	}
	if cfg.days > maxForecastDays {
		cfg.days = maxForecastDays
	}

	if off := cfg.perDay.MaxOffset(); off > 0 && cfg.days <= off {
		return Source{}, &pollen.ConfigError{Reason: fmt.Sprintf(
			"per-day sensors %q need a forecast horizon of at least %d days, got %d",
			cfg.perDay, off+1, cfg.days,
		)}
	}

	return Source{
		name:      name,
		latitude:  latitude,
		longitude: longitude,
		apiKey:    apiKey,
		days:      cfg.days,
		language:  cfg.language,
		interval:  cfg.interval,
		perDay:    cfg.perDay,
		referrer:  cfg.referrer,
	}, nil
}

// Name returns the source's display name.
func (s Source) Name() string {
	return s.name
}

// Latitude returns the source's latitude in decimal degrees.
func (s Source) Latitude() float64 {
	return s.latitude
}

// Longitude returns the source's longitude in decimal degrees.
func (s Source) Longitude() float64 {
	return s.longitude
}

// ForecastDays returns the forecast horizon in days, 1 to 5.
func (s Source) ForecastDays() int {
	return s.days
}

// Language returns the language code sent upstream, or empty when display
// names and advice use the upstream default.
func (s Source) Language() string {
	return s.language
}

// UpdateInterval returns the spacing between automatic refreshes.
func (s Source) UpdateInterval() time.Duration {
	return s.interval
}

// PerDay returns the per-day sensor setting.
func (s Source) PerDay() PerDaySensors {
	return s.perDay
}

// Referrer returns the Referer header value sent with upstream requests, or
// empty when none is configured.
func (s Source) Referrer() string {
	return s.referrer
}

// LocationKey returns the canonical coordinate pair, each value formatted
// with six decimal places. Sources with equal location keys are duplicates.
//
// The key contains the raw coordinates; it exists for identity comparison
// and must not be logged.
func (s Source) LocationKey() string {
	return strconv.FormatFloat(s.latitude, 'f', 6, 64) + "," +
		strconv.FormatFloat(s.longitude, 'f', 6, 64)
}

// ID returns the source's stable identifier: a UUID derived deterministically
// from the location key. Equal locations always yield equal IDs, and the ID
// is safe to log because the coordinates cannot be recovered from it.
func (s Source) ID() string {
	return uuid.NewSHA1(sourceNamespace, []byte(s.LocationKey())).String()
}

// String returns the name and ID only. Coordinates and the API key are
// deliberately excluded so a Source can be formatted into logs safely.
func (s Source) String() string {
	return fmt.Sprintf("%s (%s)", s.name, s.ID())
}

package pollenwatch

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/pollenlabs/pollenwatch/pollen"
)

// sourceConfig holds the configurable per-source settings during construction.
type sourceConfig struct {
	days     int
	language string
	interval time.Duration
	perDay   PerDaySensors
	referrer string
}

// SourceOption configures a Source during construction.
type SourceOption func(*sourceConfig) error

// WithForecastDays sets the forecast horizon in days. The supported range is
// 1 to 5; values outside it are clamped. The default is 3.
func WithForecastDays(days int) SourceOption {
	return func(cfg *sourceConfig) error {
		cfg.days = days
		return nil
	}
}

// WithLanguage sets the language code sent upstream, e.g. "de" or "fr".
// Display names, category labels, and health advice come back localized.
// Leading and trailing whitespace is trimmed; an empty value keeps the
// upstream default.
func WithLanguage(code string) SourceOption {
	return func(cfg *sourceConfig) error {
		cfg.language = strings.TrimSpace(code)
		return nil
	}
}

// WithUpdateInterval sets the spacing between automatic refreshes. The
// minimum is one hour; pollen forecasts change slowly and tighter polling
// only burns quota. The default is six hours.
func WithUpdateInterval(interval time.Duration) SourceOption {
	return func(cfg *sourceConfig) error {
		if interval < minUpdateInterval {
			return &pollen.ConfigError{Reason: fmt.Sprintf(
				"update interval must be at least %s, got %s", minUpdateInterval, interval,
			)}
		}
		cfg.interval = interval
		return nil
	}
}

// WithPerDaySensors selects which additional per-day type sensors the source
// projects. The horizon must cover the requested offsets: PerDayD1 needs at
// least 2 forecast days, PerDayD1D2 at least 3.
func WithPerDaySensors(p PerDaySensors) SourceOption {
	return func(cfg *sourceConfig) error {
		switch p {
		case PerDayNone, PerDayD1, PerDayD1D2:
			cfg.perDay = p
			return nil
		default:
			return &pollen.ConfigError{Reason: fmt.Sprintf(
				"per-day sensors must be one of %q, %q or %q, got %q",
				PerDayNone, PerDayD1, PerDayD1D2, p,
			)}
		}
	}
}

// WithReferrer sets the Referer header sent with upstream requests. Some API
// keys are restricted to a referrer and reject requests without it.
func WithReferrer(referrer string) SourceOption {
	return func(cfg *sourceConfig) error {
		u, err := url.Parse(referrer)
		if err != nil {
			return &pollen.ConfigError{Reason: fmt.Sprintf("invalid referrer: %v", err)}
		}
		if u.Scheme != "http" && u.Scheme != "https" {
			return &pollen.ConfigError{Reason: fmt.Sprintf(
				"referrer must be an http or https URL, got scheme %q", u.Scheme,
			)}
		}
		cfg.referrer = referrer
		return nil
	}
}

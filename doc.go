// Package pollenwatch provides an embeddable watcher for pollen forecasts,
// turning a third-party forecast API into a stable set of local sensors.
//
// PollenWatch is designed as an SDK-first library, allowing developers to
// programmatically configure and deploy pollen monitoring as part of their
// applications. It follows functional programming principles with immutable
// types, pure functions, and composable configuration via the functional
// options pattern.
//
// # Quick Start
//
// Create a source and start the watcher with graceful shutdown:
//
//	src, _ := pollenwatch.NewSource("Home", apiKey, 52.52, 13.405)
//	w, _ := pollenwatch.New(pollenwatch.WithSource(src))
//
//	// Set up graceful shutdown on SIGINT/SIGTERM
//	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
//	defer stop()
//
//	w.Start(ctx) // blocks until context is cancelled
//
// # Configuration
//
// PollenWatch uses the functional options pattern for configuration:
//
//	w, err := pollenwatch.New(
//	    pollenwatch.WithSource(home),
//	    pollenwatch.WithSource(office),
//	    pollenwatch.WithPort(9090),
//	    pollenwatch.WithUpdateCallback(onUpdate),
//	)
//
// Sources can also be configured with options:
//
//	src, err := pollenwatch.NewSource("Home", apiKey, 52.52, 13.405,
//	    pollenwatch.WithForecastDays(5),
//	    pollenwatch.WithLanguage("de"),
//	    pollenwatch.WithUpdateInterval(4 * time.Hour),
//	    pollenwatch.WithPerDaySensors(pollenwatch.PerDayD1D2),
//	)
//
// # Sensors
//
// Each refresh projects the normalized forecast into sensors:
//
//   - One sensor per pollen type (grass, tree, weed, and their subtypes),
//     whose state is today's index value and whose attributes carry the
//     category, description, color, in-season flag, and health advice
//   - One sensor per plant reported for today, with botanical traits such
//     as family, season, and cross-reactions
//   - Metadata sensors for the region code, the forecast date, and the
//     last successful update
//   - Optional per-day sensors (D+1, D+2) per pollen type, enabled with
//     [WithPerDaySensors]
//
// On multi-day sources, type and plant sensors also carry the forecast
// attributes: the upcoming days, tomorrow/day-after convenience values, the
// trend, and the expected peak.
//
// Sensor keys are stable across refreshes. A type that drops out of the
// upstream payload keeps its sensor, with an unknown state, so downstream
// consumers never see entities vanish mid-season.
//
// # Privacy
//
// API keys and raw coordinates never appear in logs, error messages, or
// diagnostics output; they are masked as "***" wherever a request is
// described. Source identity in logs is the display name plus an ID derived
// from the location.
//
// # Architecture
//
// PollenWatch consists of several internal packages (under internal/):
//
//   - internal/api: HTTP client for the upstream forecast service, with
//     error classification and credential redaction
//   - internal/refresh: Per-source refresh scheduling with coalescing,
//     retry, and backoff
//   - internal/registry: Retained sensor catalog with pub/sub for
//     real-time updates
//   - internal/server: HTTP server with REST API, Server-Sent Events, and
//     Prometheus metrics
//
// The pollen package is public: it holds the normalized forecast model and
// the error taxonomy, so API consumers can type-assert failures without
// reaching into internals. The internal packages are not part of the public
// API and may change without notice.
package pollenwatch

// Package pollen holds the domain model for pollen forecast data: the raw
// wire types delivered by the upstream service, the canonical normalized
// snapshot consumed by everything else, and the error taxonomy that refresh
// failures are classified into.
//
// The package is deliberately free of I/O. Decoding a payload and normalizing
// it are pure operations, which keeps them deterministic and trivially
// testable:
//
//	var raw pollen.RawForecast
//	if err := json.Unmarshal(body, &raw); err != nil { ... }
//	snap, err := pollen.Normalize(&raw)
//
// A [Snapshot] is immutable once built. The refresh layer swaps whole
// snapshots atomically, so readers never see a partially updated forecast.
//
// # Error taxonomy
//
// Fetch and normalization failures map onto a small set of typed errors that
// callers inspect with errors.As:
//
//   - [AuthError]: credentials rejected; retrying cannot help
//   - [RateLimitError]: throttled; retry after the carried delay
//   - [UnreachableError]: transient network or upstream failure
//   - [MalformedError]: response could not be interpreted
//   - [ConfigError]: invalid configuration, detected before any request
//
// All error messages are redacted: they never contain API keys or raw
// coordinates.
package pollen

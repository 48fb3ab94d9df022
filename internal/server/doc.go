// Package server provides the HTTP API for pollenwatch.
//
// This package is internal to pollenwatch and handles all HTTP concerns:
//
//   - REST API: source listing, per-source and batch refresh triggers,
//     sensor catalogs, and a redacted diagnostics bundle under "/api"
//   - Server-Sent Events: real-time source transitions at "/api/events"
//   - Operations: liveness at "/healthz", Prometheus metrics at "/metrics"
//
// Routing uses gorilla/mux; when an access log writer is configured, the
// whole tree is wrapped in gorilla/handlers request logging.
//
// The server supports graceful shutdown via context cancellation, with a
// 5-second timeout for in-flight requests.
//
// Users of the pollenwatch library should not need to interact with this
// package directly. The server is started automatically by the Watcher.
package server

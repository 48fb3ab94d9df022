// Package registry provides the sensor catalog and pub/sub functionality for
// projected pollen sensors.
//
// This package is internal to pollenwatch and manages the in-memory catalog
// of sensor records across sources. It implements a publish-subscribe
// pattern for real-time updates to streaming API clients.
//
// The main components are:
//
//   - [Registry]: Grow-only catalog of sensor records with explicit shrink
//     operations and pub/sub
//   - [Record]: Storage representation of a projected sensor
//   - [Event]: A source state transition delivered to subscribers
//
// The registry is designed for concurrent access with proper
// synchronization. Subscribers receive events via channels with non-blocking
// sends (slow subscribers will miss events rather than block the refresh
// path).
//
// Users of the pollenwatch library should not need to interact with this
// package directly. The catalog is managed internally by the Watcher.
package registry

package pollenwatch

import (
	"errors"
	"time"

	"github.com/pollenlabs/pollenwatch/pollen"
)

// State represents the refresh lifecycle state of a source.
//
// State is a string type that can hold one of five predefined values:
// [StateUninitialized], [StateRefreshing], [StateReady], [StateBackoff], or
// [StateAuthFailed]. Using a string type allows for easy JSON serialization
// and human-readable logging while maintaining type safety through the
// defined constants.
type State string

const (
	// StateUninitialized indicates no refresh has completed yet.
	StateUninitialized State = "uninitialized"

	// StateRefreshing indicates a refresh is in flight.
	StateRefreshing State = "refreshing"

	// StateReady indicates the latest refresh succeeded and the source has
	// current data.
	StateReady State = "ready"

	// StateBackoff indicates the latest refresh failed and the source is
	// waiting out an error backoff before retrying.
	StateBackoff State = "backoff"

	// StateAuthFailed indicates the upstream rejected the API key. Automatic
	// refreshing is suspended; fix the key and update the source.
	StateAuthFailed State = "auth_failed"
)

// String returns the string representation of the state.
// This implements the fmt.Stringer interface.
func (s State) String() string {
	return string(s)
}

// Errors returned by Watcher query and control methods.
var (
	// ErrNotReady indicates a source exists but has no successfully
	// refreshed data yet.
	ErrNotReady = errors.New("source has no data yet")

	// ErrUnknownSource indicates no source with the given ID is registered.
	ErrUnknownSource = errors.New("unknown source")

	// ErrDuplicateSource indicates a source with the same location already
	// exists. Source identity is the coordinate pair, so two sources cannot
	// share a location even under different names.
	ErrDuplicateSource = errors.New("duplicate source location")

	// ErrNotRunning indicates the watcher has not been started, or has
	// already shut down.
	ErrNotRunning = errors.New("watcher is not running")
)

// NeedsReauth reports whether err indicates the upstream rejected the API
// key. When it returns true, retrying with the same credentials is pointless;
// the key must be fixed and the source updated.
func NeedsReauth(err error) bool {
	var authErr *pollen.AuthError
	return errors.As(err, &authErr)
}

// Update describes one source state transition.
//
// Update is immutable after creation. The Watcher delivers one Update per
// transition to subscribers and registered callbacks, in the order the
// transitions happened.
type Update struct {
	// SourceID is the stable identifier of the source that transitioned.
	SourceID string

	// SourceName is the source's display name at the time of the update.
	SourceName string

	// State is the state the source transitioned into.
	State State

	// Err contains the failure that caused the transition, if any.
	// nil for uninitialized, refreshing, and ready transitions.
	Err error

	// Sensors holds the source's full projected sensor set. Populated only
	// when State is [StateReady]; nil otherwise.
	Sensors []Sensor

	// At is the timestamp of the transition.
	At time.Time
}

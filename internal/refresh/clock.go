package refresh

import "time"

// Clock abstracts time for the coordinator so tests can drive schedules and
// backoff waits deterministically. Production code always uses
// [SystemClock].
type Clock interface {
	// Now returns the current wall-clock time.
	Now() time.Time

	// NewTimer returns a one-shot timer that fires after d.
	NewTimer(d time.Duration) Timer

	// After returns a channel that delivers the time after d has elapsed.
	After(d time.Duration) <-chan time.Time
}

// Timer is the subset of time.Timer the coordinator relies on. Reset is
// expected to follow the Go 1.23 time.Timer guarantee: after Reset returns,
// the channel holds no stale fire from the previous schedule.
type Timer interface {
	C() <-chan time.Time
	Reset(d time.Duration) bool
	Stop() bool
}

// SystemClock returns a [Clock] backed by the time package.
func SystemClock() Clock {
	return systemClock{}
}

type systemClock struct{}

func (systemClock) Now() time.Time {
	return time.Now()
}

func (systemClock) NewTimer(d time.Duration) Timer {
	return systemTimer{t: time.NewTimer(d)}
}

func (systemClock) After(d time.Duration) <-chan time.Time {
	return time.After(d)
}

type systemTimer struct {
	t *time.Timer
}

func (st systemTimer) C() <-chan time.Time {
	return st.t.C
}

func (st systemTimer) Reset(d time.Duration) bool {
	return st.t.Reset(d)
}

func (st systemTimer) Stop() bool {
	return st.t.Stop()
}

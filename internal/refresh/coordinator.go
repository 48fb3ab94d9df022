package refresh

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/pollenlabs/pollenwatch/internal/metrics"
	"github.com/pollenlabs/pollenwatch/pollen"
)

// State is the lifecycle state of one source's refresh loop.
type State string

const (
	// StateUninitialized means no refresh cycle has completed yet.
	StateUninitialized State = "uninitialized"

	// StateRefreshing means a cycle is currently fetching upstream data.
	StateRefreshing State = "refreshing"

	// StateReady means the latest cycle succeeded and a snapshot is
	// available.
	StateReady State = "ready"

	// StateBackoff means the latest cycle failed for a reason that may
	// clear on its own; any earlier snapshot stays readable.
	StateBackoff State = "backoff"

	// StateAuthFailed means the upstream rejected the credentials. The
	// loop keeps its schedule but no retry happens within a cycle.
	StateAuthFailed State = "auth_failed"
)

// ErrNotRunning is returned by [Coordinator.Refresh] before Start or after
// Stop.
var ErrNotRunning = errors.New("refresh coordinator is not running")

// FetchFunc performs one upstream fetch attempt for a source. It must honor
// ctx cancellation and return errors already classified into the pollen
// error taxonomy.
type FetchFunc func(ctx context.Context) (*pollen.RawForecast, error)

// Update describes one state transition of a coordinator.
type Update struct {
	SourceID   string
	SourceName string
	State      State

	// Snapshot is the latest successful snapshot, which may predate the
	// transition: failures keep stale data visible.
	Snapshot *pollen.Snapshot

	// Err is the classified failure that caused the transition, nil for
	// refreshing and ready.
	Err error

	At time.Time
}

// Config carries everything a [Coordinator] needs. SourceID, SourceName,
// Interval and Fetch are required; the rest defaults sensibly.
type Config struct {
	SourceID   string
	SourceName string

	// Interval is the spacing between automatic refreshes. A manual
	// refresh pushes the next automatic one a full interval out.
	Interval time.Duration

	Fetch FetchFunc

	// OnUpdate, when set, is called synchronously after every state
	// transition. It must not call back into the coordinator.
	OnUpdate func(Update)

	Logger *slog.Logger

	// Clock and Jitter exist for tests; nil means real time and math/rand.
	Clock  Clock
	Jitter func() float64
}

// call tracks one in-flight refresh cycle so concurrent requesters can
// coalesce onto it instead of queueing duplicates.
type call struct {
	done chan struct{}
	err  error
}

// Coordinator owns the refresh lifecycle of a single source: an immediate
// refresh on Start, one per interval after that, manual refreshes that
// reset the schedule, and a single in-cycle retry for transient failures.
//
// All methods are safe for concurrent use.
type Coordinator struct {
	cfg     Config
	clock   Clock
	backoff backoffPolicy
	logger  *slog.Logger

	mu       sync.Mutex
	state    State
	snap     *pollen.Snapshot
	lastErr  error
	inflight *call
	started  bool
	stopped  bool
	runCtx   context.Context
	cancel   context.CancelFunc

	// kick tells the run loop a manual refresh happened and the interval
	// timer must restart once it completes.
	kick chan struct{}
	wg   sync.WaitGroup
}

// New builds a Coordinator from cfg. It does not start any goroutines; call
// [Coordinator.Start] for that.
func New(cfg Config) *Coordinator {
	clock := cfg.Clock
	if clock == nil {
		clock = SystemClock()
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Coordinator{
		cfg:     cfg,
		clock:   clock,
		backoff: newBackoffPolicy(cfg.Jitter),
		logger:  logger.With("source", cfg.SourceName, "source_id", cfg.SourceID),
		state:   StateUninitialized,
		kick:    make(chan struct{}, 1),
	}
}

// Start launches the refresh loop: one immediate refresh, then one per
// interval. It returns without waiting for the first cycle. Start is
// idempotent, and Start after Stop is a no-op.
func (c *Coordinator) Start(ctx context.Context) {
	c.mu.Lock()
	if c.started || c.stopped {
		c.mu.Unlock()
		return
	}
	c.started = true
	if ctx == nil {
		ctx = context.Background()
	}
	c.runCtx, c.cancel = context.WithCancel(ctx)
	runCtx := c.runCtx
	c.mu.Unlock()

	c.wg.Add(1)
	go c.run(runCtx)
}

// Stop cancels any in-flight cycle and waits for all coordinator goroutines
// to exit. It is idempotent and safe to call before Start. After Stop
// returns, no further updates are delivered.
func (c *Coordinator) Stop() {
	c.mu.Lock()
	if !c.stopped {
		c.stopped = true
		if c.cancel != nil {
			c.cancel()
		}
	}
	c.mu.Unlock()
	c.wg.Wait()
}

// Refresh runs a cycle now and waits for it to finish. If a cycle is
// already in flight the call attaches to it rather than queueing another.
// The next automatic refresh is pushed a full interval past the completion
// of this one.
//
// ctx bounds only the wait: the cycle itself runs on the coordinator's own
// context and is cancelled by Stop, not by the caller giving up.
func (c *Coordinator) Refresh(ctx context.Context) error {
	c.mu.Lock()
	if !c.started || c.stopped {
		c.mu.Unlock()
		return ErrNotRunning
	}
	runCtx := c.runCtx
	c.mu.Unlock()

	cl := c.trigger(runCtx)

	select {
	case c.kick <- struct{}{}:
	default:
	}

	select {
	case <-cl.done:
		return cl.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// State returns the current lifecycle state.
func (c *Coordinator) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Snapshot returns the latest successful snapshot. ok is false until the
// first cycle succeeds.
func (c *Coordinator) Snapshot() (*pollen.Snapshot, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snap, c.snap != nil
}

// LastError returns the failure recorded by the most recent unsuccessful
// cycle, or nil after a success.
func (c *Coordinator) LastError() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastErr
}

// LastSuccess returns when the current snapshot was fetched. ok is false
// until the first cycle succeeds.
func (c *Coordinator) LastSuccess() (time.Time, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.snap == nil {
		return time.Time{}, false
	}
	return c.snap.FetchedAt, true
}

// run drives the schedule. The loop is the sole owner of the interval
// timer: every completed cycle, scheduled or manual, restarts it from zero.
func (c *Coordinator) run(ctx context.Context) {
	defer c.wg.Done()

	timer := c.clock.NewTimer(c.cfg.Interval)
	defer timer.Stop()

	cl := c.trigger(ctx)
	if !c.await(ctx, cl) {
		return
	}
	c.drainKick()
	timer.Reset(c.cfg.Interval)

	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C():
			cl = c.trigger(ctx)
		case <-c.kick:
			c.mu.Lock()
			cl = c.inflight
			c.mu.Unlock()
			if cl == nil {
				// the manual cycle already finished; just restart the timer
				timer.Reset(c.cfg.Interval)
				continue
			}
		}
		if !c.await(ctx, cl) {
			return
		}
		c.drainKick()
		timer.Reset(c.cfg.Interval)
	}
}

func (c *Coordinator) await(ctx context.Context, cl *call) bool {
	select {
	case <-cl.done:
		return true
	case <-ctx.Done():
		return false
	}
}

// drainKick discards a kick that arrived while the loop was already waiting
// on the cycle it announced, so one manual refresh never schedules two
// timer resets.
func (c *Coordinator) drainKick() {
	select {
	case <-c.kick:
	default:
	}
}

// trigger starts a refresh cycle unless one is already in flight, in which
// case the existing call is returned and the request coalesces onto it.
func (c *Coordinator) trigger(ctx context.Context) *call {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.inflight != nil {
		return c.inflight
	}

	cl := &call{done: make(chan struct{})}
	if c.stopped || ctx.Err() != nil {
		cl.err = ctx.Err()
		if cl.err == nil {
			cl.err = context.Canceled
		}
		close(cl.done)
		return cl
	}

	c.inflight = cl
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		err := c.refreshCycle(ctx)
		c.mu.Lock()
		c.inflight = nil
		c.mu.Unlock()
		cl.err = err
		close(cl.done)
	}()
	return cl
}

// refreshCycle runs one fetch-normalize-publish cycle, including the single
// in-cycle retry for transient failures.
func (c *Coordinator) refreshCycle(ctx context.Context) error {
	started := c.clock.Now()
	c.transition(StateRefreshing, nil)

	for attempt := 0; ; attempt++ {
		snap, err := c.fetchOnce(ctx)
		if err == nil {
			c.publish(snap)
			elapsed := c.clock.Now().Sub(started)
			metrics.ObserveRefresh(c.cfg.SourceName, "success", elapsed)
			metrics.ObserveSuccess(c.cfg.SourceName, snap.FetchedAt)
			return nil
		}

		if ctx.Err() != nil {
			// teardown, not an upstream verdict: leave state and snapshot be
			metrics.ObserveRefresh(c.cfg.SourceName, "canceled", c.clock.Now().Sub(started))
			return ctx.Err()
		}

		var authErr *pollen.AuthError
		if errors.As(err, &authErr) {
			c.transition(StateAuthFailed, err)
			c.logger.Error("authentication rejected by upstream", "error", err)
			metrics.ObserveRefresh(c.cfg.SourceName, "auth_failed", c.clock.Now().Sub(started))
			return err
		}

		delay, retry := c.backoff.delay(err, attempt)
		if !retry {
			c.transition(StateBackoff, err)
			c.logger.Warn("refresh failed", "error", err, "attempts", attempt+1)
			metrics.ObserveRefresh(c.cfg.SourceName, outcomeOf(err), c.clock.Now().Sub(started))
			return err
		}

		c.transition(StateBackoff, err)
		c.logger.Warn("refresh attempt failed, retrying",
			"error", err,
			"delay", delay,
			"attempt", attempt+1,
		)

		select {
		case <-c.clock.After(delay):
		case <-ctx.Done():
			metrics.ObserveRefresh(c.cfg.SourceName, "canceled", c.clock.Now().Sub(started))
			return ctx.Err()
		}
		c.transition(StateRefreshing, nil)
	}
}

// fetchOnce performs a single fetch attempt and normalizes the payload.
func (c *Coordinator) fetchOnce(ctx context.Context) (*pollen.Snapshot, error) {
	raw, err := c.cfg.Fetch(ctx)
	if err != nil {
		return nil, err
	}
	snap, err := pollen.Normalize(raw)
	if err != nil {
		return nil, err
	}
	snap.FetchedAt = c.clock.Now()
	return snap, nil
}

// publish swaps in a fresh snapshot and moves to ready. The swap is a
// single pointer write under the lock, so readers always see either the
// whole previous forecast or the whole new one.
func (c *Coordinator) publish(snap *pollen.Snapshot) {
	c.mu.Lock()
	c.snap = snap
	c.mu.Unlock()
	c.transition(StateReady, nil)

	if c.logger.Enabled(context.Background(), slog.LevelDebug) {
		day := snap.Days[0]
		c.logger.Debug("refresh complete",
			"days", len(snap.Days),
			"types", len(day.Types),
			"plants", len(day.Plants),
			"region_set", snap.Region != "",
		)
	}
}

// transition records a state change and notifies the owner outside the
// lock with a consistent view of the new state.
func (c *Coordinator) transition(state State, err error) {
	c.mu.Lock()
	c.state = state
	if err != nil {
		c.lastErr = err
	}
	if state == StateReady {
		c.lastErr = nil
	}
	u := Update{
		SourceID:   c.cfg.SourceID,
		SourceName: c.cfg.SourceName,
		State:      state,
		Snapshot:   c.snap,
		Err:        err,
		At:         c.clock.Now(),
	}
	onUpdate := c.cfg.OnUpdate
	c.mu.Unlock()

	if onUpdate != nil {
		onUpdate(u)
	}
}

// outcomeOf maps a classified failure to its metrics label.
func outcomeOf(err error) string {
	var (
		rateLimited *pollen.RateLimitError
		unreachable *pollen.UnreachableError
		malformed   *pollen.MalformedError
	)
	switch {
	case errors.As(err, &rateLimited):
		return "rate_limited"
	case errors.As(err, &unreachable):
		return "unreachable"
	case errors.As(err, &malformed):
		return "malformed"
	default:
		return "error"
	}
}

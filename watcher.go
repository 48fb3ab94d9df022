package pollenwatch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"runtime/debug"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/pollenlabs/pollenwatch/internal/api"
	"github.com/pollenlabs/pollenwatch/internal/metrics"
	"github.com/pollenlabs/pollenwatch/internal/refresh"
	"github.com/pollenlabs/pollenwatch/internal/registry"
	"github.com/pollenlabs/pollenwatch/internal/server"
	"github.com/pollenlabs/pollenwatch/pollen"
)

const defaultPort = 8080

// sourceRuntime pairs a source with its running refresh coordinator. coord is
// nil until the watcher starts and after the source's loop is stopped.
type sourceRuntime struct {
	src   Source
	coord *refresh.Coordinator
}

// Watcher is the main orchestrator for pollen forecast monitoring.
//
// Watcher refreshes every configured [Source] on its own schedule, projects
// each forecast into a stable sensor catalog, and serves the catalog over a
// REST API, a server-sent-events stream, and Prometheus metrics. It is
// created using [New] with functional options and started with
// [Watcher.Start].
//
// The typical lifecycle is:
//
//	w, err := pollenwatch.New(pollenwatch.WithSource(home))
//	if err != nil {
//	    slog.Error("failed to create watcher", "error", err)
//	    os.Exit(1)
//	}
//
//	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
//	defer cancel()
//
//	w.Start(ctx) // blocks until context cancelled
//
// The caller controls the lifecycle via the context. Cancel the context to
// trigger graceful shutdown.
type Watcher struct {
	port            int
	logger          *slog.Logger
	baseURL         string
	accessLog       io.Writer
	httpClient      *http.Client
	ownClient       bool
	updateCallbacks []func(Update)

	registry *registry.Registry

	mu       sync.Mutex
	runtimes map[string]*sourceRuntime
	started  bool
	stopped  bool
	runCtx   context.Context

	subMu       sync.RWMutex
	subscribers map[chan Update]struct{}
}

// New creates a new [Watcher] instance with the given options.
//
// At least one source must be configured via [WithSource] or [WithSources].
// Other options have sensible defaults:
//   - Port: 8080
//   - Logger: slog.Default()
//   - HTTP client: a pooled client shared by all sources
//
// Returns an error if no sources are configured, if two sources share a
// location ([ErrDuplicateSource]) or a name, or if any option is invalid.
//
// Example:
//
//	w, err := pollenwatch.New(
//	    pollenwatch.WithSource(home),
//	    pollenwatch.WithPort(9090),
//	)
func New(opts ...Option) (*Watcher, error) {
	cfg := &watcherConfig{
		port: defaultPort,
	}

	for _, opt := range opts {
		if err := opt(cfg); err != nil {
			return nil, err
		}
	}

	if len(cfg.sources) == 0 {
		return nil, errors.New("at least one source is required")
	}

	// default to slog.Default() if no logger provided
	logger := cfg.logger
	if logger == nil {
		logger = slog.Default()
	}

	hc := cfg.httpClient
	ownClient := false
	if hc == nil {
		hc = api.NewHTTPClient()
		ownClient = true
	}

	w := &Watcher{
		port:            cfg.port,
		logger:          logger,
		baseURL:         cfg.baseURL,
		accessLog:       cfg.accessLog,
		httpClient:      hc,
		ownClient:       ownClient,
		updateCallbacks: cfg.updateCallbacks,
		registry:        registry.New(),
		runtimes:        make(map[string]*sourceRuntime, len(cfg.sources)),
		subscribers:     make(map[chan Update]struct{}),
	}

	for _, src := range cfg.sources {
		if err := w.register(src); err != nil {
			return nil, err
		}
	}

	return w, nil
}

// register adds src to the runtime table after uniqueness checks. Identity is
// the location, so two sources cannot watch the same coordinates; names must
// be unique too because they key the metrics series. Caller holds w.mu or has
// exclusive access.
func (w *Watcher) register(src Source) error {
	id := src.ID()
	if _, exists := w.runtimes[id]; exists {
		return fmt.Errorf("%w: %s", ErrDuplicateSource, src.String())
	}
	for _, rt := range w.runtimes {
		if rt.src.Name() == src.Name() {
			return fmt.Errorf("duplicate source name: %q", src.Name())
		}
	}
	w.runtimes[id] = &sourceRuntime{src: src}
	return nil
}

// Start begins refreshing sources and serving the API.
//
// Start is a blocking call that runs until the provided context is cancelled.
// During execution:
//
//   - Every source is refreshed immediately, then on its own update interval
//   - The HTTP server starts on the configured port
//   - State transitions are delivered to subscribers and callbacks
//   - The API is available at http://localhost:<port>
//
// The caller controls the lifecycle via context cancellation. For signal
// handling, use [signal.NotifyContext]:
//
//	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
//	defer cancel()
//	w.Start(ctx)
//
// Returns nil on graceful shutdown. Returns an error if the HTTP server fails
// to start or if the watcher was already started.
func (w *Watcher) Start(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	// check if context already cancelled
	if ctx.Err() != nil {
		return nil
	}

	w.mu.Lock()
	if w.stopped {
		w.mu.Unlock()
		return ErrNotRunning
	}
	if w.started {
		w.mu.Unlock()
		return errors.New("watcher already started")
	}
	w.started = true
	w.runCtx = ctx
	for _, rt := range w.runtimes {
		rt.coord = w.newCoordinator(rt.src)
		rt.coord.Start(ctx)
	}
	sourceCount := len(w.runtimes)
	w.mu.Unlock()

	w.logger.Info("pollenwatch starting", "source_count", sourceCount)
	w.logger.Info("api available", "url", fmt.Sprintf("http://localhost:%d", w.port))

	httpServer := server.New(server.Config{
		Registry:  w.registry,
		Control:   serverControl{w},
		Port:      w.port,
		Logger:    w.logger,
		AccessLog: w.accessLog,
	})
	if err := httpServer.Start(ctx); err != nil {
		w.shutdown()
		return fmt.Errorf("failed to start HTTP server: %w", err)
	}

	<-ctx.Done()
	w.shutdown()
	if w.ownClient {
		api.CloseIdleConnections(w.httpClient)
	}
	w.logger.Info("pollenwatch stopped")
	return nil
}

// shutdown stops every refresh loop and waits for in-flight cycles to drain.
func (w *Watcher) shutdown() {
	w.mu.Lock()
	w.stopped = true
	coords := make([]*refresh.Coordinator, 0, len(w.runtimes))
	for _, rt := range w.runtimes {
		if rt.coord != nil {
			coords = append(coords, rt.coord)
		}
	}
	w.mu.Unlock()

	for _, coord := range coords {
		coord.Stop()
	}
}

// newCoordinator wires one source to its upstream client and refresh loop.
func (w *Watcher) newCoordinator(src Source) *refresh.Coordinator {
	client := api.New(api.Config{
		APIKey:     src.apiKey,
		BaseURL:    w.baseURL,
		Referrer:   src.referrer,
		HTTPClient: w.httpClient,
		Logger:     w.logger.With("source", src.name),
	})

	req := api.Request{
		Latitude:  src.latitude,
		Longitude: src.longitude,
		Days:      src.days,
		Language:  src.language,
	}

	return refresh.New(refresh.Config{
		SourceID:   src.ID(),
		SourceName: src.name,
		Interval:   src.interval,
		Fetch: func(ctx context.Context) (*pollen.RawForecast, error) {
			return client.Forecast(ctx, req)
		},
		OnUpdate: func(u refresh.Update) {
			w.handleUpdate(src, u)
		},
		Logger: w.logger,
	})
}

// handleUpdate turns one coordinator transition into the public fan-out:
// registry upsert, metrics, event stream, subscribers, callbacks.
//
// INVARIANT: handleUpdate must never take w.mu. It runs synchronously inside
// the coordinator's cycle, and UpdateSource stops coordinators while holding
// w.mu; taking the lock here would deadlock that path.
func (w *Watcher) handleUpdate(src Source, u refresh.Update) {
	update := Update{
		SourceID:   u.SourceID,
		SourceName: u.SourceName,
		State:      State(u.State),
		Err:        u.Err,
		At:         u.At,
	}
	event := registry.Event{
		SourceID:   u.SourceID,
		SourceName: u.SourceName,
		State:      string(u.State),
		At:         u.At,
	}
	if u.Err != nil {
		event.Error = u.Err.Error()
	}

	if u.State == refresh.StateReady && u.Snapshot != nil {
		sensors := Project(src, u.Snapshot)
		update.Sensors = sensors

		records := make([]registry.Record, len(sensors))
		for i, s := range sensors {
			records[i] = registry.Record{
				Key:        s.Key,
				SourceID:   u.SourceID,
				SourceName: u.SourceName,
				Kind:       s.Kind.String(),
				Name:       s.Name,
				State:      s.State,
				Attributes: s.Attributes,
				UpdatedAt:  u.At,
			}
		}
		added := w.registry.Apply(u.SourceID, records)
		metrics.SetSensorCount(u.SourceName, len(w.registry.Keys(u.SourceID)))
		if added > 0 {
			w.logger.Debug("sensor catalog extended", "source", u.SourceName, "new_keys", added)
		}

		// the event carries the full catalog, not just this cycle's
		// projection, so stream consumers see retained sensors too
		event.Sensors = w.registry.Source(u.SourceID)
	}

	w.registry.Publish(event)
	w.notifySubscribers(update)
	for _, cb := range w.updateCallbacks {
		w.invokeCallbackSafe(cb, update)
	}
}

// invokeCallbackSafe calls an update callback with panic recovery.
// If the callback panics, it logs the full stack trace with a correlation ID
// and carries on; one misbehaving callback never takes down a refresh loop.
func (w *Watcher) invokeCallbackSafe(cb func(Update), u Update) {
	defer func() {
		if r := recover(); r != nil {
			correlationID := uuid.NewString()
			stack := debug.Stack()

			// log full context server-side for debugging
			w.logger.Error("update callback panic",
				"correlation_id", correlationID,
				"panic", fmt.Sprintf("%v", r),
				"source", u.SourceName,
				"stack", string(stack),
			)
		}
	}()
	cb(u)
}

// Subscribe returns a channel that receives every source state transition.
//
// The channel is buffered; a subscriber that stops draining loses updates
// rather than blocking refresh processing. Call [Watcher.Unsubscribe] when
// done to release the channel.
func (w *Watcher) Subscribe() <-chan Update {
	w.subMu.Lock()
	defer w.subMu.Unlock()

	ch := make(chan Update, 100)
	w.subscribers[ch] = struct{}{}
	return ch
}

// Unsubscribe removes a subscription and closes its channel.
func (w *Watcher) Unsubscribe(ch <-chan Update) {
	w.subMu.Lock()
	defer w.subMu.Unlock()

	// find and delete the channel (need to convert to the right type)
	for sub := range w.subscribers {
		if sub == ch {
			delete(w.subscribers, sub)
			close(sub)
			return
		}
	}
}

func (w *Watcher) notifySubscribers(u Update) {
	w.subMu.RLock()
	defer w.subMu.RUnlock()

	for ch := range w.subscribers {
		select {
		case ch <- u:
		default:
			// subscriber is slow, drop the update
		}
	}
}

// AddSource registers a new source at runtime and, if the watcher is running,
// starts refreshing it immediately.
//
// Returns [ErrDuplicateSource] if a source already watches the same location,
// an error if the name collides, and [ErrNotRunning] after shutdown.
func (w *Watcher) AddSource(src Source) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.stopped {
		return ErrNotRunning
	}
	if err := w.register(src); err != nil {
		return err
	}
	if w.started {
		rt := w.runtimes[src.ID()]
		rt.coord = w.newCoordinator(src)
		rt.coord.Start(w.runCtx)
	}
	w.logger.Info("source added", "source", src.Name(), "source_id", src.ID())
	return nil
}

// RemoveSource stops a source's refresh loop and drops its sensors, events,
// and metrics. Returns [ErrUnknownSource] if no source has the given ID.
func (w *Watcher) RemoveSource(sourceID string) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	rt, ok := w.runtimes[sourceID]
	if !ok {
		return ErrUnknownSource
	}
	delete(w.runtimes, sourceID)

	// safe to stop under w.mu: update handling never takes this lock
	if rt.coord != nil {
		rt.coord.Stop()
	}
	w.registry.DropSource(sourceID)
	metrics.DropSource(rt.src.Name())
	w.logger.Info("source removed", "source", rt.src.Name(), "source_id", sourceID)
	return nil
}

// UpdateSource replaces the configuration of an existing source, identified
// by its location. The refresh loop restarts with the new settings and an
// immediate refresh; sensors projected under the old settings are retained,
// except per-day sensors beyond the new horizon, which are retired.
//
// Returns [ErrUnknownSource] if no source watches src's location, an error on
// a name collision, and [ErrNotRunning] after shutdown.
func (w *Watcher) UpdateSource(src Source) error {
	id := src.ID()

	w.mu.Lock()
	defer w.mu.Unlock()

	if w.stopped {
		return ErrNotRunning
	}
	rt, ok := w.runtimes[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownSource, src.String())
	}
	for otherID, other := range w.runtimes {
		if otherID != id && other.src.Name() == src.Name() {
			return fmt.Errorf("duplicate source name: %q", src.Name())
		}
	}

	oldName := rt.src.Name()
	if rt.coord != nil {
		rt.coord.Stop()
		rt.coord = nil
	}

	// retire per-day sensors the new configuration no longer produces;
	// everything else is retained and refreshed in place
	maxOff := src.PerDay().MaxOffset()
	removed := w.registry.Reconcile(id, func(key string) bool {
		off, ok := perDayOffset(key)
		return !ok || off <= maxOff
	})
	if len(removed) > 0 {
		w.logger.Debug("per-day sensors retired", "source", src.Name(), "keys", removed)
	}

	if oldName != src.Name() {
		metrics.DropSource(oldName)
	}

	rt.src = src
	if w.started {
		rt.coord = w.newCoordinator(src)
		rt.coord.Start(w.runCtx)
	}
	w.logger.Info("source updated", "source", src.Name(), "source_id", id)
	return nil
}

// RequestRefresh triggers an immediate refresh of one source and waits for
// the cycle to complete. The next scheduled refresh moves a full interval
// out. If a cycle is already running, the call attaches to it.
//
// ctx bounds only the wait. Returns [ErrUnknownSource] for unknown IDs,
// [ErrNotRunning] if the watcher has not started, and otherwise whatever
// classified error the cycle produced.
func (w *Watcher) RequestRefresh(ctx context.Context, sourceID string) error {
	w.mu.Lock()
	rt, ok := w.runtimes[sourceID]
	var coord *refresh.Coordinator
	if ok {
		coord = rt.coord
	}
	w.mu.Unlock()

	if !ok {
		return ErrUnknownSource
	}
	if coord == nil {
		return ErrNotRunning
	}
	err := coord.Refresh(ctx)
	if errors.Is(err, refresh.ErrNotRunning) {
		return ErrNotRunning
	}
	return err
}

// RefreshAll triggers an immediate refresh of every source concurrently and
// waits for all cycles to complete. The result maps source ID to that
// source's outcome, nil for success. A partial failure is reported per
// source, never as a single error.
func (w *Watcher) RefreshAll(ctx context.Context) map[string]error {
	w.mu.Lock()
	ids := make([]string, 0, len(w.runtimes))
	for id := range w.runtimes {
		ids = append(ids, id)
	}
	w.mu.Unlock()

	results := make(map[string]error, len(ids))
	var (
		resMu sync.Mutex
		wg    sync.WaitGroup
	)
	for _, id := range ids {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			err := w.RequestRefresh(ctx, id)
			resMu.Lock()
			results[id] = err
			resMu.Unlock()
		}(id)
	}
	wg.Wait()

	failures := 0
	for _, err := range results {
		if err != nil {
			failures++
		}
	}
	if failures > 0 {
		w.logger.Warn("refresh all completed with failures", "failed", failures, "total", len(ids))
	} else {
		w.logger.Debug("refresh all completed", "total", len(ids))
	}
	return results
}

// Probe validates a source's credentials and location with a single one-day
// forecast request, without registering the source or touching its schedule.
//
// A nil return means the key is accepted and the payload parses. Failures
// come back classified: use [NeedsReauth] to tell a rejected key apart from
// the service being unreachable.
func (w *Watcher) Probe(ctx context.Context, src Source) error {
	if src.apiKey == "" {
		return &pollen.ConfigError{Reason: "an API key is required"}
	}

	client := api.New(api.Config{
		APIKey:     src.apiKey,
		BaseURL:    w.baseURL,
		Referrer:   src.referrer,
		HTTPClient: w.httpClient,
		Logger:     w.logger,
	})

	raw, err := client.Forecast(ctx, api.Request{
		Latitude:  src.latitude,
		Longitude: src.longitude,
		Days:      1,
		Timeout:   api.ValidateTimeout,
	})
	if err != nil {
		return err
	}
	if _, err := pollen.Normalize(raw); err != nil {
		return err
	}
	return nil
}

// State returns the refresh state of one source. A registered source whose
// loop has not started yet reports [StateUninitialized].
func (w *Watcher) State(sourceID string) (State, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	rt, ok := w.runtimes[sourceID]
	if !ok {
		return "", ErrUnknownSource
	}
	if rt.coord == nil {
		return StateUninitialized, nil
	}
	return State(rt.coord.State()), nil
}

// Snapshot returns the latest normalized forecast for one source. During
// backoff the previous snapshot stays available; [ErrNotReady] means no cycle
// has succeeded yet.
func (w *Watcher) Snapshot(sourceID string) (*pollen.Snapshot, error) {
	w.mu.Lock()
	rt, ok := w.runtimes[sourceID]
	var coord *refresh.Coordinator
	if ok {
		coord = rt.coord
	}
	w.mu.Unlock()

	if !ok {
		return nil, ErrUnknownSource
	}
	if coord == nil {
		return nil, ErrNotReady
	}
	snap, ok := coord.Snapshot()
	if !ok {
		return nil, ErrNotReady
	}
	return snap, nil
}

// Sensors projects the latest snapshot of one source into its sensor set.
// The projection reflects only the current snapshot; for the retained
// catalog including sensors from earlier cycles, use the REST API or the
// event stream.
func (w *Watcher) Sensors(sourceID string) ([]Sensor, error) {
	w.mu.Lock()
	rt, ok := w.runtimes[sourceID]
	var (
		src   Source
		coord *refresh.Coordinator
	)
	if ok {
		src = rt.src
		coord = rt.coord
	}
	w.mu.Unlock()

	if !ok {
		return nil, ErrUnknownSource
	}
	if coord == nil {
		return nil, ErrNotReady
	}
	snap, ready := coord.Snapshot()
	if !ready {
		return nil, ErrNotReady
	}
	return Project(src, snap), nil
}

// AllSensors projects the latest snapshot of every ready source, keyed by
// source ID. Sources with no data yet are skipped.
func (w *Watcher) AllSensors() map[string][]Sensor {
	w.mu.Lock()
	defer w.mu.Unlock()

	out := make(map[string][]Sensor, len(w.runtimes))
	for id, rt := range w.runtimes {
		if rt.coord == nil {
			continue
		}
		snap, ok := rt.coord.Snapshot()
		if !ok {
			continue
		}
		out[id] = Project(rt.src, snap)
	}
	return out
}

// Sources returns a copy of the configured sources, sorted by name.
//
// The returned slice is a copy; modifying it does not affect the Watcher.
// Each [Source] in the slice is immutable.
func (w *Watcher) Sources() []Source {
	w.mu.Lock()
	defer w.mu.Unlock()

	out := make([]Source, 0, len(w.runtimes))
	for _, rt := range w.runtimes {
		out = append(out, rt.src)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name() < out[j].Name() })
	return out
}

// Source returns the configured source with the given ID.
func (w *Watcher) Source(sourceID string) (Source, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	rt, ok := w.runtimes[sourceID]
	if !ok {
		return Source{}, ErrUnknownSource
	}
	return rt.src, nil
}

// Port returns the configured HTTP port for the API server.
func (w *Watcher) Port() int {
	return w.port
}

// serverControl adapts the Watcher to the server package's Control interface
// without the server importing this package.
type serverControl struct {
	w *Watcher
}

func (c serverControl) RequestRefresh(ctx context.Context, sourceID string) error {
	return c.w.RequestRefresh(ctx, sourceID)
}

func (c serverControl) RefreshAll(ctx context.Context) map[string]error {
	return c.w.RefreshAll(ctx)
}

func (c serverControl) SourceStatuses() []server.SourceStatus {
	return c.w.sourceStatuses()
}

func (c serverControl) Diagnostics() server.Diagnostics {
	return c.w.diagnostics()
}

func (w *Watcher) sourceStatuses() []server.SourceStatus {
	w.mu.Lock()
	defer w.mu.Unlock()

	out := make([]server.SourceStatus, 0, len(w.runtimes))
	for id, rt := range w.runtimes {
		st := server.SourceStatus{
			ID:      id,
			Name:    rt.src.Name(),
			State:   StateUninitialized.String(),
			Sensors: len(w.registry.Keys(id)),
		}
		if rt.coord != nil {
			st.State = string(rt.coord.State())
			if at, ok := rt.coord.LastSuccess(); ok {
				t := at
				st.LastSuccess = &t
			}
			if err := rt.coord.LastError(); err != nil {
				st.LastError = err.Error()
			}
		}
		out = append(out, st)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

func (w *Watcher) diagnostics() server.Diagnostics {
	w.mu.Lock()
	defer w.mu.Unlock()

	sources := make([]server.SourceDiagnostics, 0, len(w.runtimes))
	for id, rt := range w.runtimes {
		d := server.SourceDiagnostics{
			ID:             id,
			Name:           rt.src.Name(),
			State:          StateUninitialized.String(),
			UpdateInterval: rt.src.UpdateInterval().String(),
			ForecastDays:   rt.src.ForecastDays(),
			PerDaySensors:  string(rt.src.PerDay()),
			Language:       rt.src.Language(),
			ReferrerSet:    rt.src.Referrer() != "",
			SensorKeys:     w.registry.Keys(id),
			RequestParams:  requestParams(rt.src),
		}
		if rt.coord != nil {
			d.State = string(rt.coord.State())
			if at, ok := rt.coord.LastSuccess(); ok {
				t := at
				d.LastSuccess = &t
			}
			if err := rt.coord.LastError(); err != nil {
				d.LastError = err.Error()
			}
		}
		sources = append(sources, d)
	}
	sort.Slice(sources, func(i, j int) bool { return sources[i].Name < sources[j].Name })
	return server.Diagnostics{Sources: sources}
}

// requestParams mirrors the upstream query for diagnostics, with the API key
// and the coordinates masked. Diagnostics output must stay safe to paste into
// a bug report.
func requestParams(src Source) map[string]string {
	params := map[string]string{
		"key":                "***",
		"location.latitude":  "***",
		"location.longitude": "***",
		"days":               strconv.Itoa(src.ForecastDays()),
	}
	if src.Language() != "" {
		params["languageCode"] = src.Language()
	}
	return params
}

// perDayOffset extracts the day offset from a per-day sensor key such as
// "type_grass_d1". ok is false for every other key shape.
func perDayOffset(key string) (int, bool) {
	i := strings.LastIndex(key, "_d")
	if i < 0 {
		return 0, false
	}
	off, err := strconv.Atoi(key[i+2:])
	if err != nil || off < 1 {
		return 0, false
	}
	return off, true
}

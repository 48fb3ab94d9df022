package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/pollenlabs/pollenwatch/internal/registry"
	"github.com/pollenlabs/pollenwatch/pollen"
)

// sseWriteTimeout is the maximum time allowed for a single SSE write operation.
// This prevents goroutine leaks when clients are slow or disconnected.
// Must be <= shutdown timeout to ensure clean shutdown.
const sseWriteTimeout = 5 * time.Second

// Control is the watcher surface the server drives. It exists so the server
// package never imports the root package.
type Control interface {
	// RequestRefresh refreshes one source now and waits for the cycle.
	RequestRefresh(ctx context.Context, sourceID string) error

	// RefreshAll refreshes every source concurrently and reports each
	// outcome independently.
	RefreshAll(ctx context.Context) map[string]error

	// SourceStatuses describes every registered source.
	SourceStatuses() []SourceStatus

	// Diagnostics builds the redacted support bundle.
	Diagnostics() Diagnostics
}

// SourceStatus is the API representation of one source's refresh state.
type SourceStatus struct {
	ID          string     `json:"id"`
	Name        string     `json:"name"`
	State       string     `json:"state"`
	LastSuccess *time.Time `json:"last_success,omitempty"`
	LastError   string     `json:"last_error,omitempty"`
	Sensors     int        `json:"sensors"`
}

// Diagnostics is the support bundle returned by /api/diagnostics. Everything
// in it is pre-redacted: no API keys and no raw coordinates.
type Diagnostics struct {
	Sources []SourceDiagnostics `json:"sources"`
}

// SourceDiagnostics describes one source's configuration and health without
// exposing its secrets.
type SourceDiagnostics struct {
	ID             string     `json:"id"`
	Name           string     `json:"name"`
	State          string     `json:"state"`
	UpdateInterval string     `json:"update_interval"`
	ForecastDays   int        `json:"forecast_days"`
	PerDaySensors  string     `json:"per_day_sensors"`
	Language       string     `json:"language,omitempty"`
	ReferrerSet    bool       `json:"referrer_set"`
	LastSuccess    *time.Time `json:"last_success,omitempty"`
	LastError      string     `json:"last_error,omitempty"`
	SensorKeys     []string   `json:"sensor_keys"`

	// RequestParams mirrors the upstream query with the key and coordinates
	// masked, so support can verify request shape without seeing secrets.
	RequestParams map[string]string `json:"request_params"`
}

// Config carries the constructor parameters for [New].
type Config struct {
	Registry *registry.Registry
	Control  Control
	Port     int
	Logger   *slog.Logger

	// AccessLog receives one Apache-style line per request when non-nil.
	AccessLog io.Writer
}

// Server handles HTTP requests for the pollenwatch API.
//
// Server provides the REST endpoints under /api, a health probe at /healthz,
// Prometheus metrics at /metrics, and a Server-Sent Events stream at
// /api/events.
//
// The server is designed for graceful shutdown via context cancellation.
type Server struct {
	registry   *registry.Registry
	control    Control
	port       int
	logger     *slog.Logger
	accessLog  io.Writer
	httpServer *http.Server
}

// New creates a new HTTP [Server].
//
// The server is not started until [Server.Start] is called.
func New(cfg Config) *Server {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		registry:  cfg.Registry,
		control:   cfg.Control,
		port:      cfg.Port,
		logger:    logger,
		accessLog: cfg.AccessLog,
	}
}

// routes builds the handler tree.
func (s *Server) routes() http.Handler {
	r := mux.NewRouter()

	r.HandleFunc("/healthz", s.handleHealthz).Methods(http.MethodGet)
	r.HandleFunc("/api/sources", s.handleSources).Methods(http.MethodGet)
	r.HandleFunc("/api/sources/{id}/sensors", s.handleSourceSensors).Methods(http.MethodGet)
	r.HandleFunc("/api/sources/{id}/refresh", s.handleSourceRefresh).Methods(http.MethodPost)
	r.HandleFunc("/api/sensors", s.handleSensors).Methods(http.MethodGet)
	r.HandleFunc("/api/refresh", s.handleRefreshAll).Methods(http.MethodPost)
	r.HandleFunc("/api/diagnostics", s.handleDiagnostics).Methods(http.MethodGet)
	r.HandleFunc("/api/events", s.handleEvents).Methods(http.MethodGet)
	r.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)

	var h http.Handler = r
	if s.accessLog != nil {
		h = handlers.LoggingHandler(s.accessLog, h)
	}
	return h
}

// Start begins serving HTTP requests in a background goroutine.
//
// Start is non-blocking and returns immediately after confirming the server
// is listening. The server will continue running until the context is
// cancelled, at which point it initiates a graceful shutdown with a 5-second
// timeout.
//
// Returns an error if the server fails to bind to the configured port.
func (s *Server) Start(ctx context.Context) error {
	handler := s.routes()

	// create listener first to verify port availability synchronously
	addr := fmt.Sprintf(":%d", s.port)
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to bind to port %d: %w", s.port, err)
	}

	s.httpServer = &http.Server{
		Handler: handler,
		// BaseContext derives all request contexts from the server context.
		// When ctx is cancelled, all request contexts are also cancelled,
		// enabling graceful shutdown of long-running handlers like SSE.
		BaseContext: func(_ net.Listener) context.Context {
			return ctx
		},
	}

	go func() {
		if err := s.httpServer.Serve(ln); err != nil && err != http.ErrServerClosed {
			s.logger.Error("http server error", "error", err)
		}
	}()

	// shutdown on context cancellation
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
			s.logger.Error("http server shutdown error", "error", err)
		}
	}()

	return nil
}

// writeJSON encodes v as the response body with standard headers.
func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-cache")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error("failed to encode response", "error", err)
	}
}

// sourceExists reports whether a source ID is registered.
func (s *Server) sourceExists(id string) bool {
	for _, st := range s.control.SourceStatuses() {
		if st.ID == id {
			return true
		}
	}
	return false
}

// handleHealthz reports process liveness. It deliberately ignores source
// health: a watcher with every source in backoff is degraded, not dead.
func (s *Server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleSources returns the refresh state of every source.
func (s *Server) handleSources(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, s.control.SourceStatuses())
}

// handleSourceSensors returns one source's sensor records.
func (s *Server) handleSourceSensors(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if !s.sourceExists(id) {
		http.Error(w, "unknown source", http.StatusNotFound)
		return
	}
	s.writeJSON(w, http.StatusOK, s.registry.Source(id))
}

// handleSourceRefresh triggers an immediate refresh of one source and waits
// for the cycle to finish.
func (s *Server) handleSourceRefresh(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if !s.sourceExists(id) {
		http.Error(w, "unknown source", http.StatusNotFound)
		return
	}

	if err := s.control.RequestRefresh(r.Context(), id); err != nil {
		var authErr *pollen.AuthError
		s.writeJSON(w, http.StatusBadGateway, map[string]any{
			"error":        err.Error(),
			"needs_reauth": errors.As(err, &authErr),
		})
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleSensors returns every sensor record across all sources.
func (s *Server) handleSensors(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, s.registry.All())
}

// handleRefreshAll refreshes every source and reports per-source outcomes.
// The response is always 200: a partial failure is data, not a transport
// error.
func (s *Server) handleRefreshAll(w http.ResponseWriter, r *http.Request) {
	results := s.control.RefreshAll(r.Context())
	out := make(map[string]string, len(results))
	for id, err := range results {
		if err != nil {
			out[id] = err.Error()
		} else {
			out[id] = "ok"
		}
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"results": out})
}

// handleDiagnostics returns the redacted support bundle.
func (s *Server) handleDiagnostics(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, s.control.Diagnostics())
}

// handleEvents streams source transitions via Server-Sent Events.
//
// The handler uses write deadlines to prevent goroutine leaks when clients are
// slow or disconnected. Without deadlines, a blocked Fprintf call would prevent
// the handler from detecting context cancellation or channel closure.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	// check if flushing is supported
	if _, ok := w.(http.Flusher); !ok {
		http.Error(w, "SSE not supported", http.StatusInternalServerError)
		return
	}

	// ResponseController provides deadline-aware write and flush operations.
	rc := http.NewResponseController(w)

	// track if write deadlines are supported (may not be for some ResponseWriter impls)
	deadlinesSupported := true

	// writeAndFlush writes SSE data with a deadline to prevent blocking forever.
	// If the client is slow or disconnected, the write will timeout rather than
	// blocking indefinitely, allowing the handler to detect shutdown signals.
	writeAndFlush := func(data []byte) error {
		if deadlinesSupported {
			if err := rc.SetWriteDeadline(time.Now().Add(sseWriteTimeout)); err != nil {
				// deadline not supported by underlying connection, continue without
				s.logger.Warn("sse write deadlines not supported", "error", err)
				deadlinesSupported = false
			}
		}

		if _, err := fmt.Fprintf(w, "data: %s\n\n", data); err != nil {
			return err
		}

		// ResponseController.Flush respects the write deadline
		return rc.Flush()
	}

	// set SSE headers
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("Access-Control-Allow-Origin", "*")

	// subscribe before the initial burst so no transition falls in between
	ch := s.registry.Subscribe()
	defer s.registry.Unsubscribe(ch)

	// send each source's current state first (also protected by write deadline)
	for _, st := range s.control.SourceStatuses() {
		event := registry.Event{
			SourceID:   st.ID,
			SourceName: st.Name,
			State:      st.State,
			Error:      st.LastError,
			Sensors:    s.registry.Source(st.ID),
			At:         time.Now().UTC(),
		}
		data, err := json.Marshal(event)
		if err != nil {
			continue
		}
		if err := writeAndFlush(data); err != nil {
			return
		}
	}

	// stream transitions
	for {
		select {
		case event, ok := <-ch:
			if !ok {
				return
			}
			data, err := json.Marshal(event)
			if err != nil {
				continue
			}
			if err := writeAndFlush(data); err != nil {
				return
			}

		case <-r.Context().Done():
			// request context is derived from server context via BaseContext,
			// so this fires on both client disconnect AND server shutdown
			return
		}
	}
}

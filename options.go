package pollenwatch

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
)

// watcherConfig holds mutable state during Watcher construction.
type watcherConfig struct {
	sources         []Source
	port            int
	logger          *slog.Logger
	httpClient      *http.Client
	baseURL         string
	accessLog       io.Writer
	updateCallbacks []func(Update)
}

// Option is a function that configures a [Watcher] instance during construction.
//
// Option implements the functional options pattern, allowing optional
// configuration to be passed to [New] in a type-safe, extensible way.
// Options return an error if validation fails.
//
// Built-in options: [WithSource], [WithSources], [WithPort], [WithLogger],
// [WithUpdateCallback], [WithHTTPClient], [WithBaseURL], [WithAccessLog].
type Option func(*watcherConfig) error

// WithSource adds a single [Source] to the watch list.
//
// Can be called multiple times to add multiple sources. At least one source
// must be configured for [New] to succeed.
//
// Example:
//
//	w, err := pollenwatch.New(
//	    pollenwatch.WithSource(home),
//	    pollenwatch.WithSource(office),
//	)
func WithSource(src Source) Option {
	return func(cfg *watcherConfig) error {
		cfg.sources = append(cfg.sources, src)
		return nil
	}
}

// WithSources adds multiple [Source] values to the watch list.
//
// This is a convenience function for adding several sources at once.
// Equivalent to calling [WithSource] multiple times.
//
// Example:
//
//	w, err := pollenwatch.New(
//	    pollenwatch.WithSources(home, office, cabin),
//	)
func WithSources(sources ...Source) Option {
	return func(cfg *watcherConfig) error {
		cfg.sources = append(cfg.sources, sources...)
		return nil
	}
}

// WithPort sets the HTTP port for the API server.
//
// The REST API, SSE stream, and metrics will be available at
// http://localhost:<port>. Defaults to 8080 if not specified.
//
// Example:
//
//	w, err := pollenwatch.New(
//	    pollenwatch.WithSource(home),
//	    pollenwatch.WithPort(9090),
//	)
//
// Returns an error if the port is outside the valid range (1-65535).
func WithPort(port int) Option {
	return func(cfg *watcherConfig) error {
		if port < 1 || port > 65535 {
			return errors.New("port must be between 1 and 65535")
		}
		cfg.port = port
		return nil
	}
}

// WithLogger sets a custom [slog.Logger] for the Watcher instance.
//
// This allows SDK consumers to control where logs are written and in what
// format. If not specified, [slog.Default] is used. Log lines never contain
// API keys or raw coordinates, whatever the handler.
//
// Example:
//
//	logger := slog.New(slog.NewJSONHandler(os.Stderr, nil))
//	w, err := pollenwatch.New(
//	    pollenwatch.WithSource(home),
//	    pollenwatch.WithLogger(logger),
//	)
//
// Returns an error if the logger is nil.
func WithLogger(logger *slog.Logger) Option {
	return func(cfg *watcherConfig) error {
		if logger == nil {
			return errors.New("logger cannot be nil")
		}
		cfg.logger = logger
		return nil
	}
}

// WithUpdateCallback registers a function to be called on every source state
// transition.
//
// The callback receives an [Update] containing the source identity, the new
// state, the failure (if any), and the full sensor set on ready transitions.
//
// Multiple callbacks may be registered by calling WithUpdateCallback multiple
// times; they execute in registration order.
//
// IMPORTANT: Callbacks must be non-blocking. Long-running operations should
// dispatch work to a separate goroutine. Blocking callbacks will delay
// subsequent update processing for the source.
//
// Callbacks are invoked synchronously, per source, in transition order.
// Panics within callbacks are recovered and logged with a correlation ID;
// they do not crash the refresh loop.
//
// Example:
//
//	w, err := pollenwatch.New(
//	    pollenwatch.WithSource(home),
//	    pollenwatch.WithUpdateCallback(func(u pollenwatch.Update) {
//	        if u.State == pollenwatch.StateAuthFailed {
//	            log.Printf("ALERT: %s needs a new API key", u.SourceName)
//	        }
//	    }),
//	)
//
// Nil callbacks are silently ignored.
func WithUpdateCallback(cb func(Update)) Option {
	return func(cfg *watcherConfig) error {
		if cb == nil {
			return nil // no-op for nil callback (safe to call)
		}
		cfg.updateCallbacks = append(cfg.updateCallbacks, cb)
		return nil
	}
}

// WithHTTPClient sets the [http.Client] used for upstream requests.
//
// All sources share the client and its connection pool. When not specified,
// the Watcher builds its own pooled client and closes its idle connections
// on shutdown; a caller-provided client is left untouched.
//
// Returns an error if the client is nil.
func WithHTTPClient(hc *http.Client) Option {
	return func(cfg *watcherConfig) error {
		if hc == nil {
			return errors.New("http client cannot be nil")
		}
		cfg.httpClient = hc
		return nil
	}
}

// WithBaseURL overrides the upstream forecast endpoint.
//
// This exists for tests and for routing through a proxy; production use
// almost never needs it. The URL must be absolute with an http or https
// scheme.
func WithBaseURL(baseURL string) Option {
	return func(cfg *watcherConfig) error {
		u, err := url.Parse(baseURL)
		if err != nil {
			return fmt.Errorf("invalid base URL: %w", err)
		}
		if u.Scheme != "http" && u.Scheme != "https" {
			return fmt.Errorf("base URL must be an http or https URL, got scheme %q", u.Scheme)
		}
		cfg.baseURL = baseURL
		return nil
	}
}

// WithAccessLog enables HTTP access logging for the API server, one
// Apache-style line per request written to w.
//
// Returns an error if the writer is nil.
func WithAccessLog(w io.Writer) Option {
	return func(cfg *watcherConfig) error {
		if w == nil {
			return errors.New("access log writer cannot be nil")
		}
		cfg.accessLog = w
		return nil
	}
}

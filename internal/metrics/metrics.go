// Package metrics registers the Prometheus instruments exposed on /metrics.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Refresh metrics
var (
	// RefreshTotal counts completed refresh cycles per source and outcome.
	RefreshTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pollenwatch_refresh_total",
			Help: "Total number of completed refresh cycles",
		},
		[]string{"source", "outcome"},
	)

	// RefreshDuration tracks how long full refresh cycles take, including
	// in-cycle retries and backoff waits.
	RefreshDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "pollenwatch_refresh_duration_seconds",
			Help:    "Duration of refresh cycles in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"source"},
	)

	// LastSuccess records the unix timestamp of each source's most recent
	// successful refresh.
	LastSuccess = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "pollenwatch_last_success_timestamp_seconds",
			Help: "Unix timestamp of the last successful refresh per source",
		},
		[]string{"source"},
	)

	// SensorCount tracks the number of projected sensors per source.
	SensorCount = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "pollenwatch_sensors",
			Help: "Number of projected sensors per source",
		},
		[]string{"source"},
	)
)

// Upstream metrics
var (
	// UpstreamRequests counts requests to the pollen API by response class.
	UpstreamRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pollenwatch_upstream_requests_total",
			Help: "Total number of upstream API requests by response class",
		},
		[]string{"class"},
	)

	// AppInfo provides static information about the application
	AppInfo = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "pollenwatch_app_info",
			Help: "Application information (always 1)",
		},
	)

	// AppStartTime records when the application started
	AppStartTime = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "pollenwatch_app_start_time_seconds",
			Help: "Unix timestamp of when the application started",
		},
	)
)

func init() {
	AppInfo.Set(1)
	AppStartTime.SetToCurrentTime()
}

// ObserveRefresh records one completed refresh cycle.
func ObserveRefresh(source, outcome string, duration time.Duration) {
	RefreshTotal.WithLabelValues(source, outcome).Inc()
	RefreshDuration.WithLabelValues(source).Observe(duration.Seconds())
}

// ObserveSuccess records a successful refresh at the given time.
func ObserveSuccess(source string, at time.Time) {
	LastSuccess.WithLabelValues(source).Set(float64(at.Unix()))
}

// SetSensorCount records how many sensors a source currently projects.
func SetSensorCount(source string, n int) {
	SensorCount.WithLabelValues(source).Set(float64(n))
}

// DropSource removes all per-source series, used when a source is removed at
// runtime so stale series do not linger on /metrics.
func DropSource(source string) {
	RefreshTotal.DeletePartialMatch(prometheus.Labels{"source": source})
	RefreshDuration.DeletePartialMatch(prometheus.Labels{"source": source})
	LastSuccess.DeleteLabelValues(source)
	SensorCount.DeleteLabelValues(source)
}

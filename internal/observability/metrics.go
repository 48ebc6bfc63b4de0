package observability

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	registerOnce sync.Once

	runsTotal       *prometheus.CounterVec
	runDuration     prometheus.Histogram
	runsActive      prometheus.Gauge
	cancelsTotal    prometheus.Counter
	queueDepth      *prometheus.GaugeVec
	enqueuedTotal   prometheus.Counter
	persistsTotal   *prometheus.CounterVec
	sessionsTracked prometheus.Gauge
)

// EnsureRegistered registers all metrics exactly once. Every package that
// records metrics calls this before its first write.
func EnsureRegistered() {
	registerOnce.Do(func() {
		runsTotal = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tessa_agent_runs_total",
				Help: "Total number of agent subprocess runs",
			},
			[]string{"status"},
		)
		runDuration = prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "tessa_agent_run_duration_seconds",
				Help:    "Duration of agent subprocess runs in seconds",
				Buckets: prometheus.ExponentialBuckets(0.5, 2, 12),
			},
		)
		runsActive = prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "tessa_agent_runs_active",
				Help: "Number of agent subprocess runs currently active",
			},
		)
		cancelsTotal = prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "tessa_run_cancellations_total",
				Help: "Total number of cancelled runs",
			},
		)
		queueDepth = prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "tessa_queue_depth",
				Help: "Pending messages per conversation",
			},
			[]string{"session_key"},
		)
		enqueuedTotal = prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "tessa_messages_enqueued_total",
				Help: "Total number of conversational messages enqueued",
			},
		)
		persistsTotal = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tessa_store_persists_total",
				Help: "Total number of session store persist attempts",
			},
			[]string{"status"},
		)
		sessionsTracked = prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "tessa_sessions_tracked",
				Help: "Number of sessions held in the store",
			},
		)

		prometheus.MustRegister(
			runsTotal,
			runDuration,
			runsActive,
			cancelsTotal,
			queueDepth,
			enqueuedTotal,
			persistsTotal,
			sessionsTracked,
		)
	})
}

// RecordRunStart marks a run as active.
func RecordRunStart() {
	EnsureRegistered()
	runsActive.Inc()
}

// RecordRunComplete records a finished run with its terminal status
// (ok, error, cancelled, launch_error).
func RecordRunComplete(status string, duration time.Duration) {
	EnsureRegistered()
	runsActive.Dec()
	runsTotal.WithLabelValues(status).Inc()
	runDuration.Observe(duration.Seconds())
}

// RecordCancellation counts an explicit cancel request.
func RecordCancellation() {
	EnsureRegistered()
	cancelsTotal.Inc()
}

// RecordEnqueue records a message enqueue and the resulting depth.
func RecordEnqueue(sessionKey string, depth int) {
	EnsureRegistered()
	enqueuedTotal.Inc()
	queueDepth.WithLabelValues(sessionKey).Set(float64(depth))
}

// SetQueueDepth updates the pending-message gauge for a conversation.
func SetQueueDepth(sessionKey string, depth int) {
	EnsureRegistered()
	queueDepth.WithLabelValues(sessionKey).Set(float64(depth))
}

// RecordStorePersist records the outcome of a store persist.
func RecordStorePersist(err error) {
	EnsureRegistered()
	status := "ok"
	if err != nil {
		status = "error"
	}
	persistsTotal.WithLabelValues(status).Inc()
}

// SetSessionsTracked updates the tracked-session gauge.
func SetSessionsTracked(n int) {
	EnsureRegistered()
	sessionsTracked.Set(float64(n))
}

// Handler returns the HTTP handler serving the metrics endpoint.
func Handler() http.Handler {
	EnsureRegistered()
	return promhttp.Handler()
}

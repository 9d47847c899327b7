// Package observability holds the Prometheus collectors exported by `tcal serve`.
package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	sourceFetchTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "tcal",
		Subsystem: "source",
		Name:      "fetch_total",
		Help:      "Source fetches by source and outcome.",
	}, []string{"source", "outcome"})
	sourceFetchDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "tcal",
		Subsystem: "source",
		Name:      "fetch_duration_seconds",
		Help:      "Latency of a single source fetch.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"source"})
	droppedRecordsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "tcal",
		Subsystem: "normalize",
		Name:      "dropped_records_total",
		Help:      "Raw records dropped because they failed to parse.",
	}, []string{"source"})
	mutationTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "tcal",
		Subsystem: "dispatch",
		Name:      "mutations_total",
		Help:      "Dispatched time changes by event type, kind and outcome.",
	}, []string{"type", "kind", "outcome"})
	gestureRejectedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "tcal",
		Subsystem: "interact",
		Name:      "rejected_gestures_total",
		Help:      "Gestures rejected locally before reaching a backend.",
	}, []string{"reason"})
	lastRefreshGauge = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "tcal",
		Subsystem: "engine",
		Name:      "last_refresh_timestamp_seconds",
		Help:      "Unix timestamp of the most recent applied window refresh.",
	})
	staleDiscardTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "tcal",
		Subsystem: "engine",
		Name:      "stale_results_discarded_total",
		Help:      "Fetch results dropped because the view moved to another window.",
	})
)

func init() {
	prometheus.MustRegister(
		sourceFetchTotal,
		sourceFetchDuration,
		droppedRecordsTotal,
		mutationTotal,
		gestureRejectedTotal,
		lastRefreshGauge,
		staleDiscardTotal,
	)
}

// RecordFetch counts one source fetch and its latency.
func RecordFetch(source string, elapsed time.Duration, err error) {
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	sourceFetchTotal.WithLabelValues(source, outcome).Inc()
	sourceFetchDuration.WithLabelValues(source).Observe(elapsed.Seconds())
}

func RecordDropped(source string, n int) {
	if n <= 0 {
		return
	}
	droppedRecordsTotal.WithLabelValues(source).Add(float64(n))
}

func RecordMutation(eventType, kind string, err error) {
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	mutationTotal.WithLabelValues(eventType, kind, outcome).Inc()
}

func RecordRejectedGesture(reason string) {
	gestureRejectedTotal.WithLabelValues(reason).Inc()
}

// RecordRefresh updates the refresh watermark gauge.
func RecordRefresh(ts time.Time) {
	if ts.IsZero() {
		return
	}
	lastRefreshGauge.Set(float64(ts.Unix()))
}

func RecordStaleDiscard() {
	staleDiscardTotal.Inc()
}

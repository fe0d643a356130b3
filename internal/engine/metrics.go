// Package engine – Prometheus instrumentation for the replay loop.
//
// Cardinality stays bounded: kinds and outcome classes are small closed sets.
package engine

import "github.com/prometheus/client_golang/prometheus"

var (
	// queueDepth gauges queued actions by lifecycle bucket.
	queueDepth = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "shiftsync_queue_depth",
			Help: "Number of queued actions by state bucket.",
		},
		[]string{"state"}, // pending|failed
	)

	// replayTotal counts replay attempts by action kind and outcome.
	replayTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "shiftsync_replay_attempts_total",
			Help: "Total replay attempts by kind and outcome.",
		},
		[]string{"kind", "outcome"}, // outcome: success|conflict|network_error|server_error|client_error
	)

	// replayLat records per-attempt replay duration in seconds by kind.
	replayLat = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "shiftsync_replay_duration_seconds",
			Help:    "Duration of individual replay attempts in seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"kind"},
	)

	// sessionDur records full drain-session duration in seconds.
	sessionDur = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "shiftsync_session_duration_seconds",
			Help:    "Duration of sync sessions (one full queue drain) in seconds.",
			Buckets: []float64{.05, .1, .25, .5, 1, 2.5, 5, 10, 30, 60, 300},
		},
	)
)

func init() {
	prometheus.MustRegister(queueDepth, replayTotal, replayLat, sessionDur)
}

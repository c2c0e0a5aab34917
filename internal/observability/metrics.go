package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	CyclesTotal          = promauto.NewCounter(prometheus.CounterOpts{Namespace: "chairmatch", Name: "cycles_total", Help: "Total matching cycles run"})
	MatchesTotal         = promauto.NewCounter(prometheus.CounterOpts{Namespace: "chairmatch", Name: "matches_total", Help: "Total ride assignments committed"})
	CommitConflictsTotal = promauto.NewCounter(prometheus.CounterOpts{Namespace: "chairmatch", Name: "commit_conflicts_total", Help: "Assignments lost to a concurrent writer"})
	CommitErrorsTotal    = promauto.NewCounter(prometheus.CounterOpts{Namespace: "chairmatch", Name: "commit_errors_total", Help: "Assignment commits that failed with an error"})
	IngestInvalidTotal   = promauto.NewCounter(prometheus.CounterOpts{Namespace: "chairmatch", Name: "ingest_invalid_total", Help: "Location messages dropped as undecodable"})
	DispatchErrorsTotal  = promauto.NewCounter(prometheus.CounterOpts{Namespace: "chairmatch", Name: "dispatch_errors_total", Help: "Assignment events that failed to publish"})

	BacklogSize  = promauto.NewGauge(prometheus.GaugeOpts{Namespace: "chairmatch", Name: "backlog_size", Help: "Unmatched rides seen by the last cycle"})
	ActiveChairs = promauto.NewGauge(prometheus.GaugeOpts{Namespace: "chairmatch", Name: "active_chairs", Help: "Active chairs seen by the last cycle"})
	FreeChairs   = promauto.NewGauge(prometheus.GaugeOpts{Namespace: "chairmatch", Name: "free_chairs", Help: "Free chairs seen by the last cycle"})

	CycleDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "chairmatch",
		Name:      "cycle_duration_seconds",
		Help:      "Matching cycle latency distribution",
		Buckets:   prometheus.ExponentialBuckets(0.0005, 2, 12),
	})

	LocationReportsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: "chairmatch", Name: "location_reports_total", Help: "Chair location reports accepted"},
		[]string{"source"},
	)

	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: "chairmatch", Name: "http_requests_total", Help: "Total HTTP requests handled"},
		[]string{"method", "path", "status"},
	)
	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "chairmatch",
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency distribution",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)
)

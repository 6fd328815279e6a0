package manager

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	liveSessions = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "piisland",
		Subsystem: "manager",
		Name:      "live_sessions",
		Help:      "Number of sessions backed by an agent process.",
	})

	historicalSessions = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "piisland",
		Subsystem: "manager",
		Name:      "historical_sessions",
		Help:      "Number of sessions known only from transcripts.",
	})

	fileEventsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "piisland",
		Subsystem: "manager",
		Name:      "file_events_total",
		Help:      "Transcript file events reconciled, by op and outcome.",
	}, []string{"op", "outcome"})

	parseDurationSeconds = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "piisland",
		Subsystem: "manager",
		Name:      "parse_duration_seconds",
		Help:      "Transcript parse duration in seconds.",
		Buckets:   prometheus.DefBuckets,
	})

	duplicatesRemovedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "piisland",
		Subsystem: "manager",
		Name:      "duplicates_removed_total",
		Help:      "Sessions removed by the duplicate sweep, by reason.",
	}, []string{"reason"})

	eventsDroppedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "piisland",
		Subsystem: "manager",
		Name:      "events_dropped_total",
		Help:      "Registry events dropped for slow subscribers.",
	})
)

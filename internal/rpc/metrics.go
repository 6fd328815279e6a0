package rpc

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	commandsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "piisland",
		Subsystem: "rpc",
		Name:      "commands_total",
		Help:      "Commands sent to agents, by command and outcome.",
	}, []string{"command", "outcome"})

	commandDurationSeconds = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "piisland",
		Subsystem: "rpc",
		Name:      "command_duration_seconds",
		Help:      "Time from send to correlated response.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"command"})

	malformedLinesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "piisland",
		Subsystem: "rpc",
		Name:      "malformed_lines_total",
		Help:      "Inbound lines that failed to decode and were dropped.",
	})

	eventsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "piisland",
		Subsystem: "rpc",
		Name:      "events_total",
		Help:      "Inbound frames dispatched, by type.",
	}, []string{"type"})

	processExitsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "piisland",
		Subsystem: "rpc",
		Name:      "process_exits_total",
		Help:      "Agent process terminations, by cause.",
	}, []string{"cause"})
)

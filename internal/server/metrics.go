package server

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var wsConnectionsActive = promauto.NewGauge(prometheus.GaugeOpts{
	Namespace: "piisland",
	Subsystem: "server",
	Name:      "ws_connections_active",
	Help:      "Number of active WebSocket event streams.",
})

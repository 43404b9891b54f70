package collab

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	metricOpenConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "collab_open_connections",
		Help: "Number of currently open WebSocket connections.",
	})

	metricDocumentGroups = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "collab_document_groups",
		Help: "Number of documents with at least one joined connection.",
	})

	metricBroadcasts = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "collab_broadcast_messages_total",
		Help: "Messages broadcast to document groups, by message type.",
	}, []string{"type"})

	metricAuthFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "collab_auth_failures_total",
		Help: "Rejected join and auth attempts over WebSocket.",
	})
)

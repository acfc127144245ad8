// internal/common/metrics/metrics.go
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	MessagesProcessed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pipeline_messages_processed_total",
			Help: "Total number of queue messages processed per stage",
		},
		[]string{"stage"},
	)

	MessagesFailed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pipeline_messages_failed_total",
			Help: "Total number of queue messages failed per stage",
		},
		[]string{"stage", "error_code"},
	)

	MessageDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "pipeline_message_duration_seconds",
			Help:    "Duration of message processing in seconds",
			Buckets: []float64{0.1, 0.5, 1, 5, 15, 30, 60, 120, 300, 600},
		},
		[]string{"stage"},
	)

	MessagesActive = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "pipeline_messages_active",
			Help: "Number of messages currently being processed per stage",
		},
		[]string{"stage"},
	)

	AgentRetries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pipeline_agent_retries_total",
			Help: "Total number of rate-limited agent calls that were retried",
		},
		[]string{"agent"},
	)

	DeadLetters = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pipeline_deadletters_total",
			Help: "Dead-letter messages by queue and action (dead_lettered, purged, reprocessed)",
		},
		[]string{"queue", "action"},
	)
)

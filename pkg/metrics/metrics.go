// Package metrics provides Prometheus metrics for the Clover service.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// SyncRunsTotal tracks completed sync runs by kind and status
	SyncRunsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "clover",
			Subsystem: "sync",
			Name:      "runs_total",
			Help:      "Total number of sync runs by kind and status",
		},
		[]string{"kind", "status"},
	)

	// SyncRunDuration tracks sync run duration in seconds
	SyncRunDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "clover",
			Subsystem: "sync",
			Name:      "run_duration_seconds",
			Help:      "Duration of sync runs in seconds",
			Buckets:   []float64{1, 5, 10, 30, 60, 120, 300, 600, 1200},
		},
		[]string{"kind"},
	)

	// SyncRecordsTotal tracks individual record outcomes within sync runs
	SyncRecordsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "clover",
			Subsystem: "sync",
			Name:      "records_total",
			Help:      "Total number of records processed by outcome",
		},
		[]string{"outcome"},
	)

	// SyncInFlight tracks whether a batch sync is currently running
	SyncInFlight = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "clover",
			Subsystem: "sync",
			Name:      "in_flight",
			Help:      "Whether a batch sync run is currently in progress",
		},
	)

	// WorkspaceRequestsTotal tracks requests to the workspace content API
	WorkspaceRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "clover",
			Subsystem: "workspace",
			Name:      "requests_total",
			Help:      "Total number of workspace API requests by operation and status",
		},
		[]string{"operation", "status"},
	)

	// WorkspaceRequestDuration tracks workspace API request duration
	WorkspaceRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "clover",
			Subsystem: "workspace",
			Name:      "request_duration_seconds",
			Help:      "Duration of workspace API requests in seconds",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		},
		[]string{"operation"},
	)

	// WebhookEventsTotal tracks webhook events by type and outcome
	WebhookEventsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "clover",
			Subsystem: "webhook",
			Name:      "events_total",
			Help:      "Total number of webhook events by type and outcome",
		},
		[]string{"type", "outcome"},
	)

	// MatchDecisionsTotal tracks which matcher step resolved each record
	MatchDecisionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "clover",
			Subsystem: "matcher",
			Name:      "decisions_total",
			Help:      "Total number of match decisions by resolving step",
		},
		[]string{"step"},
	)

	// RateLimitWaitTime tracks time spent pacing between record writes
	RateLimitWaitTime = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "clover",
			Subsystem: "ratelimit",
			Name:      "wait_seconds",
			Help:      "Time spent waiting between record writes in seconds",
			Buckets:   []float64{0.01, 0.1, 0.25, 0.5, 1, 2, 5},
		},
	)

	// KafkaMessagesPublished tracks Kafka messages published
	KafkaMessagesPublished = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "clover",
			Subsystem: "kafka",
			Name:      "messages_published_total",
			Help:      "Total number of messages published to Kafka",
		},
		[]string{"topic", "status"},
	)

	// KafkaPublishDuration tracks Kafka publish duration
	KafkaPublishDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "clover",
			Subsystem: "kafka",
			Name:      "publish_duration_seconds",
			Help:      "Duration of Kafka publish operations in seconds",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5},
		},
	)
)

// RecordSyncRun records a completed sync run
func RecordSyncRun(kind, status string, durationSeconds float64) {
	SyncRunsTotal.WithLabelValues(kind, status).Inc()
	SyncRunDuration.WithLabelValues(kind).Observe(durationSeconds)
}

// RecordSyncRecord records the outcome of a single record within a run
func RecordSyncRecord(outcome string) {
	SyncRecordsTotal.WithLabelValues(outcome).Inc()
}

// RecordWorkspaceRequest records a workspace API request
func RecordWorkspaceRequest(operation, status string, durationSeconds float64) {
	WorkspaceRequestsTotal.WithLabelValues(operation, status).Inc()
	WorkspaceRequestDuration.WithLabelValues(operation).Observe(durationSeconds)
}

// RecordWebhookEvent records a webhook event outcome
func RecordWebhookEvent(eventType, outcome string) {
	WebhookEventsTotal.WithLabelValues(eventType, outcome).Inc()
}

// RecordMatchDecision records which matcher step resolved a record
func RecordMatchDecision(step string) {
	MatchDecisionsTotal.WithLabelValues(step).Inc()
}

// RecordKafkaPublish records a Kafka publish operation
func RecordKafkaPublish(topic, status string, durationSeconds float64) {
	KafkaMessagesPublished.WithLabelValues(topic, status).Inc()
	KafkaPublishDuration.Observe(durationSeconds)
}

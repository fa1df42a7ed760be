// Package metrics implements Prometheus metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Facade outcomes for PacketsTotal.
const (
	OutcomeQueued      = "queued"
	OutcomeSuppressed  = "suppressed"
	OutcomeExcluded    = "excluded"
	OutcomeRateLimited = "rate_limited"
	OutcomeRejected    = "rejected"
	OutcomePanic       = "panic"
)

// Queue outcomes for QueueTasksTotal.
const (
	TaskSent      = "sent"
	TaskFailed    = "failed"
	TaskPanicked  = "panicked"
	TaskDropped   = "dropped"
	TaskEvicted   = "evicted"
	TaskAbandoned = "abandoned"
)

var (
	// PacketsTotal counts packets seen by the facade, by direction and outcome.
	PacketsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "packeteater_packets_total",
			Help: "Total number of packets handed to the facade",
		},
		[]string{"direction", "outcome"},
	)

	// QueueTasksTotal counts queued units of work by terminal outcome.
	QueueTasksTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "packeteater_queue_tasks_total",
			Help: "Total number of queued tasks by outcome",
		},
		[]string{"outcome"},
	)

	// QueueDepth tracks units waiting for a worker.
	QueueDepth = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "packeteater_queue_depth",
			Help: "Number of tasks waiting in the queue",
		},
	)

	// SubmitRequestsTotal counts submission requests by HTTP status code
	// ("error" for transport failures).
	SubmitRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "packeteater_submit_requests_total",
			Help: "Total number of submission requests by status",
		},
		[]string{"code"},
	)

	// SubmitLatencySeconds measures submission round trips.
	SubmitLatencySeconds = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "packeteater_submit_latency_seconds",
			Help:    "Latency of submission requests in seconds",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 14), // 1ms to ~8s
		},
	)

	// GuardChecksTotal counts module lookups that were not served from cache.
	GuardChecksTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "packeteater_guard_checks_total",
			Help: "Total number of environment module lookups",
		},
		[]string{"result"},
	)

	// CollectorRequestsTotal counts collector responses by status code.
	CollectorRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "packeteater_collector_requests_total",
			Help: "Total number of collector requests by response code",
		},
		[]string{"code"},
	)

	// CollectorPublishedTotal counts envelopes handed to a sink.
	CollectorPublishedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "packeteater_collector_published_total",
			Help: "Total number of envelopes published by sink and result",
		},
		[]string{"sink", "result"},
	)

	// ReplayFramesTotal counts pcap frames read by the replay tool.
	ReplayFramesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "packeteater_replay_frames_total",
			Help: "Total number of replayed frames by result",
		},
		[]string{"result"},
	)
)

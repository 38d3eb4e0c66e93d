package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

// HTTPRequestDuration tracks request latency for the public HTTP surface (§6).
var HTTPRequestDuration = prometheus.NewHistogramVec(
	prometheus.HistogramOpts{
		Namespace: "dispatch",
		Subsystem: "http",
		Name:      "request_duration_seconds",
		Help:      "HTTP request duration in seconds.",
		Buckets:   []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
	},
	[]string{"method", "route", "status"},
)

// QueueDepth reports the current length of work queues (C3), per priority
// summed over all organizations and clusters.
var QueueDepth = prometheus.NewGaugeVec(
	prometheus.GaugeOpts{
		Namespace: "dispatch",
		Subsystem: "queue",
		Name:      "depth",
		Help:      "Current number of queued work messages.",
	},
	[]string{"priority"},
)

// QueueEnqueuedTotal counts enqueue operations by priority (C3).
var QueueEnqueuedTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "dispatch",
		Subsystem: "queue",
		Name:      "enqueued_total",
		Help:      "Total number of work messages enqueued.",
	},
	[]string{"priority"},
)

// QueueDequeuedTotal counts successful dequeues by priority (C3).
var QueueDequeuedTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "dispatch",
		Subsystem: "queue",
		Name:      "dequeued_total",
		Help:      "Total number of work messages dequeued.",
	},
	[]string{"priority"},
)

// ClusterLiveStreams reports the number of locally registered streams (C4), per pod.
var ClusterLiveStreams = prometheus.NewGauge(
	prometheus.GaugeOpts{
		Namespace: "dispatch",
		Subsystem: "stream",
		Name:      "local_active_total",
		Help:      "Number of cluster streams currently registered on this process.",
	},
)

// ClusterUnregisteredTotal counts stream unregistrations by reason (C4).
var ClusterUnregisteredTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "dispatch",
		Subsystem: "stream",
		Name:      "unregistered_total",
		Help:      "Total number of cluster stream unregistrations by reason.",
	},
	[]string{"reason"},
)

// ExecutionsTotal counts terminal execution outcomes by status (C7).
var ExecutionsTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "dispatch",
		Subsystem: "execution",
		Name:      "completed_total",
		Help:      "Total number of executions reaching a terminal state, by status.",
	},
	[]string{"status"},
)

// ExecutionRetriesTotal counts retry-workflow reschedules by backoff strategy (C7).
var ExecutionRetriesTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "dispatch",
		Subsystem: "execution",
		Name:      "retries_total",
		Help:      "Total number of execution retries scheduled, by backoff strategy.",
	},
	[]string{"backoff"},
)

// ClusterSelectionDuration tracks time spent in the cluster selector (C5).
var ClusterSelectionDuration = prometheus.NewHistogram(
	prometheus.HistogramOpts{
		Namespace: "dispatch",
		Subsystem: "selector",
		Name:      "duration_seconds",
		Help:      "Cluster selection duration in seconds.",
		Buckets:   prometheus.DefBuckets,
	},
)

// NoEligibleClusterTotal counts selector misses (C5).
var NoEligibleClusterTotal = prometheus.NewCounter(
	prometheus.CounterOpts{
		Namespace: "dispatch",
		Subsystem: "selector",
		Name:      "no_eligible_cluster_total",
		Help:      "Total number of selections that failed with NoEligibleCluster.",
	},
)

// SlackNotificationsTotal counts ops Slack notifications sent, by outcome.
var SlackNotificationsTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "dispatch",
		Subsystem: "notify",
		Name:      "slack_total",
		Help:      "Total number of Slack ops notifications attempted, by outcome.",
	},
	[]string{"outcome"},
)

// All returns all dispatch-specific collectors for registration.
func All() []prometheus.Collector {
	return []prometheus.Collector{
		HTTPRequestDuration,
		QueueDepth,
		QueueEnqueuedTotal,
		QueueDequeuedTotal,
		ClusterLiveStreams,
		ClusterUnregisteredTotal,
		ExecutionsTotal,
		ExecutionRetriesTotal,
		ClusterSelectionDuration,
		NoEligibleClusterTotal,
		SlackNotificationsTotal,
	}
}

// NewMetricsRegistry builds a Prometheus registry with the default Go/process
// collectors plus the given extra domain collectors.
func NewMetricsRegistry(extra ...prometheus.Collector) *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector())
	reg.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	for _, c := range extra {
		reg.MustRegister(c)
	}
	return reg
}

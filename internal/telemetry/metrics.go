package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

// HTTPRequestDuration tracks HTTP request latency. Shared across all routes.
var HTTPRequestDuration = prometheus.NewHistogramVec(
	prometheus.HistogramOpts{
		Namespace: "unmutual",
		Subsystem: "api",
		Name:      "request_duration_seconds",
		Help:      "HTTP request duration in seconds.",
		Buckets:   prometheus.DefBuckets,
	},
	[]string{"method", "path", "status"},
)

// JobsAdmittedTotal counts jobs admitted to the queue.
var JobsAdmittedTotal = prometheus.NewCounter(
	prometheus.CounterOpts{
		Namespace: "unmutual",
		Subsystem: "jobs",
		Name:      "admitted_total",
		Help:      "Total number of analysis jobs admitted to the queue.",
	},
)

// JobsCompletedTotal counts jobs that reached status=completed.
var JobsCompletedTotal = prometheus.NewCounter(
	prometheus.CounterOpts{
		Namespace: "unmutual",
		Subsystem: "jobs",
		Name:      "completed_total",
		Help:      "Total number of analysis jobs completed successfully.",
	},
)

// JobsFailedTotal counts jobs that reached status=failed, labeled by reason.
var JobsFailedTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "unmutual",
		Subsystem: "jobs",
		Name:      "failed_total",
		Help:      "Total number of analysis jobs that failed, by reason.",
	},
	[]string{"reason"},
)

// JobProcessingDuration tracks job processing time, from the moment a worker
// has claimed the job until processing returns.
var JobProcessingDuration = prometheus.NewHistogram(
	prometheus.HistogramOpts{
		Namespace: "unmutual",
		Subsystem: "jobs",
		Name:      "processing_duration_seconds",
		Help:      "Duration of job processing from claim to terminal state.",
		Buckets:   []float64{1, 5, 15, 30, 60, 120, 300, 600, 1200, 1800},
	},
)

// QueueDepth reports the number of jobs currently in a given status.
var QueueDepth = prometheus.NewGaugeVec(
	prometheus.GaugeOpts{
		Namespace: "unmutual",
		Subsystem: "queue",
		Name:      "depth",
		Help:      "Number of jobs currently in the given status.",
	},
	[]string{"status"},
)

// SessionRefreshTotal counts session refresh attempts, by trigger and outcome.
var SessionRefreshTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "unmutual",
		Subsystem: "session",
		Name:      "refresh_total",
		Help:      "Total number of upstream session refresh attempts.",
	},
	[]string{"trigger", "outcome"},
)

// PaymentTransitionsTotal counts payment state transitions, by method and new status.
var PaymentTransitionsTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "unmutual",
		Subsystem: "payments",
		Name:      "transitions_total",
		Help:      "Total number of payment state transitions.",
	},
	[]string{"method", "status"},
)

// UpstreamRequestsTotal counts outbound upstream requests, by outcome.
var UpstreamRequestsTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "unmutual",
		Subsystem: "upstream",
		Name:      "requests_total",
		Help:      "Total number of upstream API requests, by outcome.",
	},
	[]string{"outcome"},
)

// All returns all service-specific metrics for registration.
func All() []prometheus.Collector {
	return []prometheus.Collector{
		JobsAdmittedTotal,
		JobsCompletedTotal,
		JobsFailedTotal,
		JobProcessingDuration,
		QueueDepth,
		SessionRefreshTotal,
		PaymentTransitionsTotal,
		UpstreamRequestsTotal,
	}
}

// NewMetricsRegistry creates a Prometheus registry with Go/process collectors,
// the shared HTTPRequestDuration metric, and any additional service-specific
// collectors passed as arguments.
func NewMetricsRegistry(extra ...prometheus.Collector) *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		HTTPRequestDuration,
	)
	for _, c := range extra {
		reg.MustRegister(c)
	}
	return reg
}

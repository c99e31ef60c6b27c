package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Cluster metrics
	WorkersTotal = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "galileo_workers_total",
			Help: "Total number of registered workers by status",
		},
		[]string{"status"},
	)

	ClientsTotal = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "galileo_clients_total",
			Help: "Total number of emulated clients by state",
		},
		[]string{"state"},
	)

	ServicesTotal = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "galileo_services_total",
			Help: "Total number of distinct services in the routing table",
		},
	)

	// Tracing metrics
	TracesEmittedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "galileo_traces_emitted_total",
			Help: "Total number of request traces emitted by client and service",
		},
		[]string{"client_id", "service"},
	)

	TracesDroppedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "galileo_traces_dropped_total",
			Help: "Total number of traces dropped because the logger buffer was full",
		},
		[]string{"worker_id"},
	)

	RequestsFailedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "galileo_requests_failed_total",
			Help: "Total number of requests that failed transport or returned an error status",
		},
		[]string{"service", "reason"},
	)

	TraceFlushDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "galileo_trace_flush_duration_seconds",
			Help:    "Time taken to flush a trace buffer to its sink",
			Buckets: prometheus.DefBuckets,
		},
	)

	// Routing / balancing metrics
	RoutingCacheReloadsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "galileo_routing_cache_reloads_total",
			Help: "Total number of routing cache reloads by service",
		},
		[]string{"service"},
	)

	RouterDispatchDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "galileo_router_dispatch_duration_seconds",
			Help:    "Time taken to dispatch a request through the router",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"service"},
	)

	// Cluster controller metrics
	ClientPlacementDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "galileo_client_placement_duration_seconds",
			Help:    "Time taken to select a worker for a new client via best-fit placement",
			Buckets: prometheus.DefBuckets,
		},
	)

	ClientPlacementFailuresTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "galileo_client_placement_failures_total",
			Help: "Total number of client placement attempts that found no candidate worker",
		},
	)

	// Experiment daemon metrics
	ExperimentTickDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "galileo_experiment_tick_duration_seconds",
			Help:    "Time taken to execute one workload schedule tick",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"experiment_id"},
	)

	ExperimentsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "galileo_experiments_total",
			Help: "Total number of experiments run by terminal status",
		},
		[]string{"status"},
	)

	WorkloadScheduleLatency = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "galileo_workload_schedule_latency_seconds",
			Help:    "Time taken to materialize a workload configuration into a tick schedule",
			Buckets: prometheus.DefBuckets,
		},
	)
)

func init() {
	prometheus.MustRegister(WorkersTotal)
	prometheus.MustRegister(ClientsTotal)
	prometheus.MustRegister(ServicesTotal)
	prometheus.MustRegister(TracesEmittedTotal)
	prometheus.MustRegister(TracesDroppedTotal)
	prometheus.MustRegister(RequestsFailedTotal)
	prometheus.MustRegister(TraceFlushDuration)
	prometheus.MustRegister(RoutingCacheReloadsTotal)
	prometheus.MustRegister(RouterDispatchDuration)
	prometheus.MustRegister(ClientPlacementDuration)
	prometheus.MustRegister(ClientPlacementFailuresTotal)
	prometheus.MustRegister(ExperimentTickDuration)
	prometheus.MustRegister(ExperimentsTotal)
	prometheus.MustRegister(WorkloadScheduleLatency)
}

// Handler returns the Prometheus HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Timer is a helper for timing operations.
type Timer struct {
	start time.Time
}

// NewTimer creates a new timer.
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// ObserveDuration records the duration to a histogram.
func (t *Timer) ObserveDuration(histogram prometheus.Histogram) {
	histogram.Observe(time.Since(t.start).Seconds())
}

// ObserveDurationVec records the duration to a histogram vec with labels.
func (t *Timer) ObserveDurationVec(histogram prometheus.ObserverVec, labels ...string) {
	histogram.WithLabelValues(labels...).Observe(time.Since(t.start).Seconds())
}

// Duration returns the elapsed time since the timer started.
func (t *Timer) Duration() time.Duration {
	return time.Since(t.start)
}

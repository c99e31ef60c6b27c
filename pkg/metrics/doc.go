/*
Package metrics provides Prometheus metrics collection and exposition for
galileo.

The metrics package defines and registers every gauge, counter, and
histogram the core packages update, plus a small Timer helper for
observing operation durations and a periodic Collector for the
cluster-level gauges that have no natural per-event update site.

# Metrics Catalog

Cluster gauges:

	galileo_workers_total{status}            registered worker count
	galileo_clients_total{state}              registered client count
	galileo_services_total                    distinct services in the routing table

Tracing:

	galileo_traces_emitted_total{client_id,service}
	galileo_traces_dropped_total{worker_id}
	galileo_trace_flush_duration_seconds

Request dispatch:

	galileo_requests_failed_total{service,reason}
	galileo_router_dispatch_duration_seconds{service}

Routing:

	galileo_routing_cache_reloads_total{service}

Cluster controller:

	galileo_client_placement_duration_seconds
	galileo_client_placement_failures_total

Experiment daemon:

	galileo_experiment_tick_duration_seconds{experiment_id}
	galileo_experiments_total{status}
	galileo_workload_schedule_latency_seconds

# Usage

Timing an operation:

	timer := metrics.NewTimer()
	resp, err := doRequest()
	timer.ObserveDurationVec(metrics.RouterDispatchDuration, service)

Exposing the registry over HTTP:

	http.Handle("/metrics", metrics.Handler())

Polling cluster-level gauges:

	collector := metrics.NewCollector(clusterView, routingView, 15*time.Second)
	collector.Start(ctx)
	defer collector.Stop()

# Design

Per-event counters and histograms (traces emitted, requests failed,
dispatch duration, placement duration) are updated inline by the package
that owns the event. WorkersTotal, ClientsTotal, and ServicesTotal have
no single call site that fires on every change, so Collector polls the
cluster controller and routing table on an interval instead.
*/
package metrics

// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package fleetmetrics holds the controller's Prometheus collectors.
// Each controller builds its own registry so tests never share global
// state.
package fleetmetrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/bureau-foundation/modelfleet/lib/ingest"
	"github.com/bureau-foundation/modelfleet/lib/version"
)

const namespace = "modelfleet"

// ResultSuccess is the "result" label of a deploy or stop that
// succeeded. Failures are labelled with the control API error kind.
const ResultSuccess = "success"

// IngestSource is the view of the ingestion pipeline the metrics read.
// *ingest.Pipeline implements it.
type IngestSource interface {
	State() ingest.State
	ConsecutiveErrors() int
	Stats() ingest.Stats
}

// FleetSource reports sizes sampled at scrape time.
type FleetSource interface {
	// NodeCounts returns all known nodes and those inside the
	// staleness window.
	NodeCounts() (known, active int)

	// DeploymentCount returns the number of registered deployments.
	DeploymentCount() int
}

// Metrics is the controller's collector set.
type Metrics struct {
	registry *prometheus.Registry

	Deploys        *prometheus.CounterVec
	Stops          *prometheus.CounterVec
	DeployDuration prometheus.Histogram
	Probes         *prometheus.CounterVec
	RouteFailures  *prometheus.CounterVec
	IngestRestarts prometheus.Counter
}

// New creates the collectors and registers them, along with the Go
// runtime and process collectors, on a fresh registry.
func New() *Metrics {
	metrics := &Metrics{
		registry: prometheus.NewRegistry(),
		Deploys: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "deploy_requests_total",
			Help:      "Deploy requests by result.",
		}, []string{"result"}),
		Stops: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "stop_requests_total",
			Help:      "Stop requests by result.",
		}, []string{"result"}),
		DeployDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "deploy_duration_seconds",
			Help:      "Time from deploy request to response, including the agent call.",
			Buckets:   []float64{0.5, 1, 5, 15, 30, 60, 120, 300, 660},
		}),
		Probes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "node_probes_total",
			Help:      "Node connectivity probes by outcome.",
		}, []string{"reachable"}),
		RouteFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "route_failures_total",
			Help:      "Failed routing operations by operation.",
		}, []string{"operation"}),
		IngestRestarts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ingest_restarts_total",
			Help:      "Times the ingestion loop was restarted after exiting.",
		}),
	}

	buildInfo := prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "build_info",
		Help:      "Build metadata. Always 1.",
	}, []string{"version", "commit", "build_time"})
	buildInfo.WithLabelValues(version.Short(), version.Commit(), version.BuildTime).Set(1)

	metrics.registry.MustRegister(
		metrics.Deploys,
		metrics.Stops,
		metrics.DeployDuration,
		metrics.Probes,
		metrics.RouteFailures,
		metrics.IngestRestarts,
		buildInfo,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return metrics
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// ObserveProbe counts one connectivity probe.
func (m *Metrics) ObserveProbe(reachable bool) {
	label := "false"
	if reachable {
		label = "true"
	}
	m.Probes.WithLabelValues(label).Inc()
}

// RegisterIngest exports the pipeline's state and counters, read at
// scrape time.
func (m *Metrics) RegisterIngest(source IngestSource) {
	m.registry.MustRegister(
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "ingest_state",
			Help:      "Ingestion state: 0 polling, 1 degraded, 2 cooldown.",
		}, func() float64 { return float64(source.State()) }),
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "ingest_consecutive_errors",
			Help:      "Current consecutive transport error count.",
		}, func() float64 { return float64(source.ConsecutiveErrors()) }),
		prometheus.NewCounterFunc(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ingest_records_total",
			Help:      "Telemetry records applied to the fleet state.",
		}, func() float64 { return float64(source.Stats().Received) }),
		prometheus.NewCounterFunc(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ingest_malformed_total",
			Help:      "Telemetry payloads dropped as malformed.",
		}, func() float64 { return float64(source.Stats().Malformed) }),
		prometheus.NewCounterFunc(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ingest_transport_errors_total",
			Help:      "Failed telemetry fetches.",
		}, func() float64 { return float64(source.Stats().TransportErrors) }),
		prometheus.NewCounterFunc(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ingest_topic_recreations_total",
			Help:      "Times the telemetry topic was recreated and resubscribed.",
		}, func() float64 { return float64(source.Stats().Recreations) }),
		prometheus.NewCounterFunc(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ingest_cooldowns_total",
			Help:      "Cooldown periods entered after repeated errors.",
		}, func() float64 { return float64(source.Stats().Cooldowns) }),
	)
}

// RegisterFleet exports node and deployment counts, read at scrape
// time.
func (m *Metrics) RegisterFleet(source FleetSource) {
	m.registry.MustRegister(
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "nodes_known",
			Help:      "Nodes that have ever reported telemetry.",
		}, func() float64 {
			known, _ := source.NodeCounts()
			return float64(known)
		}),
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "nodes_active",
			Help:      "Nodes whose telemetry is inside the staleness window.",
		}, func() float64 {
			_, active := source.NodeCounts()
			return float64(active)
		}),
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "deployments",
			Help:      "Registered deployments.",
		}, func() float64 { return float64(source.DeploymentCount()) }),
	)
}

// Package metrics defines custom Prometheus metrics for artcurate.
package metrics

import (
	"strings"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// registerOnce ensures Register() is idempotent.
var registerOnce sync.Once

// HTTP metrics (RED: Rate, Errors, Duration).
var (
	// HTTPRequestsTotal counts total HTTP requests by method, path, and status.
	HTTPRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "artcurate_http_requests_total",
			Help: "Total HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	// HTTPRequestDuration observes request latency in seconds by method and path.
	HTTPRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "artcurate_http_request_duration_seconds",
			Help:    "Request latency in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)
)

// Curation metrics.
var (
	// StageRecordsTotal counts per-record outcomes by stage.
	StageRecordsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "artcurate_stage_records_total",
			Help: "Records processed per curation stage by outcome",
		},
		[]string{"stage", "outcome"},
	)

	// StageDuration observes wall time per stage in seconds.
	StageDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "artcurate_stage_duration_seconds",
			Help:    "Curation stage duration in seconds",
			Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30, 60, 300, 900},
		},
		[]string{"stage"},
	)

	// SplitRecords is the number of records per split label after the last
	// summary or split pass.
	SplitRecords = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "artcurate_split_records",
			Help: "Records per dataset split",
		},
		[]string{"split"},
	)

	// BlobsDeletedTotal counts blob deletions by reason (duplicate, orphan,
	// rollback).
	BlobsDeletedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "artcurate_blobs_deleted_total",
			Help: "Blobs deleted by reason",
		},
		[]string{"reason"},
	)

	// RunsTotal counts pipeline runs by status.
	RunsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "artcurate_runs_total",
			Help: "Pipeline runs by status",
		},
		[]string{"status"},
	)
)

// Collectors returns every artcurate collector, for registering with a
// non-default registry.
func Collectors() []prometheus.Collector {
	return []prometheus.Collector{
		HTTPRequestsTotal,
		HTTPRequestDuration,
		StageRecordsTotal,
		StageDuration,
		SplitRecords,
		BlobsDeletedTotal,
		RunsTotal,
	}
}

// Register registers all Prometheus collectors with the default registry.
// This must be called explicitly (typically from main) so that metrics
// registration can be made conditional on configuration. It is safe to call
// multiple times; subsequent calls are no-ops.
func Register() {
	registerOnce.Do(func() {
		prometheus.MustRegister(Collectors()...)
		// Initialize RunsTotal so it appears in /metrics output even before
		// the first run.
		RunsTotal.WithLabelValues("success")
		RunsTotal.WithLabelValues("failed")
	})
}

// WriteTextfile writes the default registry to path in the node-exporter
// textfile format.
func WriteTextfile(path string) error {
	return prometheus.WriteToTextfile(path, prometheus.DefaultGatherer)
}

// NormalizePath maps actual request paths to normalized path templates
// suitable for use as Prometheus metric labels.
func NormalizePath(path string) string {
	switch path {
	case "/healthz", "/metrics", "/openapi.json", "/runs", "/runs/latest", "/reconcile", "/splits", "/records":
		return path
	case "/docs", "/docs/":
		return "/docs"
	case "/", "":
		return "/"
	}

	// Starts with /docs (Stoplight Elements assets).
	if strings.HasPrefix(path, "/docs") {
		return "/docs"
	}
	if strings.HasPrefix(path, "/records/") {
		return "/records/{id}"
	}
	return "/other"
}

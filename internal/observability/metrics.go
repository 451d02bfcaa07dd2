// Package observability provides Prometheus metrics for monitoring.
package observability

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the application.
type Metrics struct {
	// Source metrics
	SourceRequests       *prometheus.CounterVec
	SourceLatency        *prometheus.HistogramVec
	SourceFetches        *prometheus.CounterVec
	SourceRecords        *prometheus.CounterVec
	ResponseCacheLookups *prometheus.CounterVec
	RPCCallLatency       *prometheus.HistogramVec

	// Engine metrics
	HistoryBuckets *prometheus.GaugeVec
	CoverageGaps   prometheus.Gauge
	MergeConflicts *prometheus.CounterVec
	FlagsRaised    *prometheus.CounterVec

	// Pipeline metrics
	PipelineRunsTotal *prometheus.CounterVec
	PipelineDuration  *prometheus.HistogramVec

	// Database metrics
	DBQueryDuration *prometheus.HistogramVec
	DBQueryErrors   *prometheus.CounterVec

	// Health metrics
	LastSuccessfulRun prometheus.Gauge
}

// NewMetrics creates a new Metrics instance registered with reg.
func NewMetrics(namespace string, reg prometheus.Registerer) *Metrics {
	if namespace == "" {
		namespace = "token_forensics"
	}
	factory := promauto.With(reg)

	return &Metrics{
		SourceRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "source",
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests to external sources by outcome",
		}, []string{"source", "outcome"}),
		SourceLatency: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "source",
			Name:      "http_request_latency_seconds",
			Help:      "External source request latency in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"source"}),
		SourceFetches: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "source",
			Name:      "fetches_total",
			Help:      "Total number of adapter fetches by coverage status",
		}, []string{"source", "status"}),
		SourceRecords: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "source",
			Name:      "records_total",
			Help:      "Total number of records returned by adapters",
		}, []string{"source", "kind"}),
		ResponseCacheLookups: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "source",
			Name:      "cache_lookups_total",
			Help:      "Response cache lookups by result",
		}, []string{"source", "result"}),
		RPCCallLatency: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "rpc",
			Name:      "call_latency_seconds",
			Help:      "JSON-RPC call latency in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method"}),

		HistoryBuckets: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "engine",
			Name:      "history_buckets",
			Help:      "Buckets in the last merged history by observation state",
		}, []string{"state"}),
		CoverageGaps: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "engine",
			Name:      "coverage_gaps",
			Help:      "Coverage gaps in the last merged history",
		}),
		MergeConflicts: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "engine",
			Name:      "merge_conflicts_total",
			Help:      "Total number of scalar conflicts resolved by precedence",
		}, []string{"field"}),
		FlagsRaised: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "engine",
			Name:      "flags_raised_total",
			Help:      "Total number of red flags raised",
		}, []string{"category", "severity"}),

		PipelineRunsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "pipeline",
			Name:      "runs_total",
			Help:      "Total number of pipeline runs by status",
		}, []string{"phase", "status"}),
		PipelineDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "pipeline",
			Name:      "duration_seconds",
			Help:      "Pipeline execution duration in seconds",
			Buckets:   []float64{1, 5, 10, 30, 60, 120, 300, 600},
		}, []string{"phase"}),

		DBQueryDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "database",
			Name:      "query_duration_seconds",
			Help:      "Database query duration in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"database", "operation"}),
		DBQueryErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "database",
			Name:      "query_errors_total",
			Help:      "Total number of database query errors",
		}, []string{"database", "operation"}),

		LastSuccessfulRun: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "health",
			Name:      "last_successful_run_timestamp",
			Help:      "Unix timestamp of last successful pipeline run",
		}),
	}
}

// Handler returns an HTTP handler for the /metrics endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}

// DefaultMetrics is the default metrics instance.
var DefaultMetrics = NewMetrics("", prometheus.DefaultRegisterer)

// RecordSourceRequest records one HTTP request to an external source.
func RecordSourceRequest(source, outcome string, d time.Duration) {
	DefaultMetrics.SourceRequests.WithLabelValues(source, outcome).Inc()
	DefaultMetrics.SourceLatency.WithLabelValues(source).Observe(d.Seconds())
}

// RecordCacheHit records a response cache hit.
func RecordCacheHit(source string) {
	DefaultMetrics.ResponseCacheLookups.WithLabelValues(source, "hit").Inc()
}

// RecordCacheMiss records a response cache miss.
func RecordCacheMiss(source string) {
	DefaultMetrics.ResponseCacheLookups.WithLabelValues(source, "miss").Inc()
}

// RecordFetch records the outcome of one adapter fetch.
func RecordFetch(source, status string, prices, liquidity, holders, events int) {
	DefaultMetrics.SourceFetches.WithLabelValues(source, status).Inc()
	DefaultMetrics.SourceRecords.WithLabelValues(source, "price").Add(float64(prices))
	DefaultMetrics.SourceRecords.WithLabelValues(source, "liquidity").Add(float64(liquidity))
	DefaultMetrics.SourceRecords.WithLabelValues(source, "holder").Add(float64(holders))
	DefaultMetrics.SourceRecords.WithLabelValues(source, "event").Add(float64(events))
}

// RecordRPCLatency records RPC call latency.
func RecordRPCLatency(method string, seconds float64) {
	DefaultMetrics.RPCCallLatency.WithLabelValues(method).Observe(seconds)
}

// RecordHistory records the shape of a merged history.
func RecordHistory(observed, unobserved, gaps int) {
	DefaultMetrics.HistoryBuckets.WithLabelValues("observed").Set(float64(observed))
	DefaultMetrics.HistoryBuckets.WithLabelValues("unobserved").Set(float64(unobserved))
	DefaultMetrics.CoverageGaps.Set(float64(gaps))
}

// RecordMergeConflict records a scalar conflict resolved by precedence.
func RecordMergeConflict(field string) {
	DefaultMetrics.MergeConflicts.WithLabelValues(field).Inc()
}

// RecordFlag records a raised red flag.
func RecordFlag(category, severity string) {
	DefaultMetrics.FlagsRaised.WithLabelValues(category, severity).Inc()
}

// RecordDBQuery records database query metrics.
func RecordDBQuery(database, operation string, seconds float64, err error) {
	DefaultMetrics.DBQueryDuration.WithLabelValues(database, operation).Observe(seconds)
	if err != nil {
		DefaultMetrics.DBQueryErrors.WithLabelValues(database, operation).Inc()
	}
}

// RecordPipelineRun records a pipeline run.
func RecordPipelineRun(phase, status string, durationSeconds float64) {
	DefaultMetrics.PipelineRunsTotal.WithLabelValues(phase, status).Inc()
	DefaultMetrics.PipelineDuration.WithLabelValues(phase).Observe(durationSeconds)
	if status == "success" && phase == "run" {
		DefaultMetrics.LastSuccessfulRun.SetToCurrentTime()
	}
}

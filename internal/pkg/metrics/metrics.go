// Package metrics provides Prometheus metrics for the anomaly-detection platform
// (job manager, connection pool, model cache, scorer, detectors, HTTP).
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "sentinel"

var (
	// HTTPRequestTotal counts requests by method, path, status.
	HTTPRequestTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests by method, path, and status.",
		},
		[]string{"method", "path", "status"},
	)

	// HTTPRequestDurationSeconds is request latency histogram.
	HTTPRequestDurationSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration in seconds.",
			Buckets:   prometheus.ExponentialBuckets(0.001, 2.5, 10),
		},
		[]string{"method", "path"},
	)

	// JobsActive is the current number of RUNNING jobs.
	JobsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "jobs_active",
			Help:      "Number of jobs currently RUNNING in the job manager.",
		},
	)

	// JobsTotal counts jobs by terminal outcome.
	JobsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "jobs_total",
			Help:      "Total number of jobs by terminal status (completed, failed, cancelled).",
		},
		[]string{"status"},
	)

	// JobReconcileTotal counts rows reconciled to FAILED by the stale-job sweeper.
	JobReconcileTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "job_reconcile_total",
			Help:      "Total number of stale job rows transitioned to FAILED by the reconciler.",
		},
	)

	// DBPoolInUse is the current number of connections checked out of the pool.
	DBPoolInUse = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "db_pool_in_use",
			Help:      "Number of database connections currently checked out.",
		},
	)

	// DBPoolWaitSeconds tracks connection acquisition latency.
	DBPoolWaitSeconds = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "db_pool_wait_seconds",
			Help:      "Time spent waiting to acquire a pooled database connection.",
			Buckets:   prometheus.ExponentialBuckets(0.0001, 4, 10),
		},
	)

	// DBPoolTimeoutsTotal counts connection-acquire timeouts.
	DBPoolTimeoutsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "db_pool_timeouts_total",
			Help:      "Total number of database connection acquisition timeouts.",
		},
	)

	// ModelCacheHitsTotal / MissesTotal / EvictionsTotal track the LRU model cache.
	ModelCacheHitsTotal = promauto.NewCounter(
		prometheus.CounterOpts{Namespace: namespace, Name: "model_cache_hits_total", Help: "Total model cache hits."},
	)
	ModelCacheMissesTotal = promauto.NewCounter(
		prometheus.CounterOpts{Namespace: namespace, Name: "model_cache_misses_total", Help: "Total model cache misses."},
	)
	ModelCacheEvictionsTotal = promauto.NewCounter(
		prometheus.CounterOpts{Namespace: namespace, Name: "model_cache_evictions_total", Help: "Total model cache LRU evictions."},
	)
	ModelCacheBytesUsed = promauto.NewGauge(
		prometheus.GaugeOpts{Namespace: namespace, Name: "model_cache_bytes_used", Help: "Estimated bytes held by the model cache."},
	)

	// ScorerRowsProcessedTotal counts rows scored across all dataset-score jobs.
	ScorerRowsProcessedTotal = promauto.NewCounter(
		prometheus.CounterOpts{Namespace: namespace, Name: "scorer_rows_processed_total", Help: "Total telemetry rows scored."},
	)

	// DetectorAlertsTotal counts alerts emitted by the fusion manager, by source and severity.
	DetectorAlertsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: namespace, Name: "detector_alerts_total", Help: "Total alerts emitted, by source and severity."},
		[]string{"source", "severity"},
	)

	// DBQueryDurationSeconds tracks database query latency by operation type.
	DBQueryDurationSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "db_query_duration_seconds",
			Help:      "Database query duration in seconds.",
			Buckets:   prometheus.ExponentialBuckets(0.001, 2, 10),
		},
		[]string{"operation"},
	)
)

// Package metrics provides Prometheus metrics for CloudFS operations.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// HTTP request metrics
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cloudfs_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "route", "status_code"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "cloudfs_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route"},
	)

	// Engine operation metrics
	FileOperationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cloudfs_file_operations_total",
			Help: "Total number of engine file operations",
		},
		[]string{"operation", "status"}, // operation: "list", "get", "put", "patch", "delete"
	)

	FileOperationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "cloudfs_file_operation_duration_seconds",
			Help:    "Engine file operation duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"operation"},
	)

	UploadBytesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "cloudfs_upload_bytes_total",
			Help: "Total number of bytes committed by uploads",
		},
	)

	// Capacity gauges
	StorageUsedBytes = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "cloudfs_storage_used_bytes",
			Help: "Committed bytes counted against the storage quota",
		},
	)

	StorageCapacityBytes = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "cloudfs_storage_capacity_bytes",
			Help: "Configured storage quota in bytes",
		},
	)

	CommitLockWaitSeconds = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "cloudfs_commit_lock_wait_seconds",
			Help:    "Time spent waiting for the engine commit lock when it was contended",
			Buckets: prometheus.ExponentialBuckets(0.0001, 4, 8),
		},
	)

	// Manifest persistence metrics
	ManifestWritesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cloudfs_manifest_writes_total",
			Help: "Total number of manifest writes",
		},
		[]string{"status"}, // "success", "failure"
	)

	// Thumbnail cache metrics
	ThumbnailCacheTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cloudfs_thumbnail_cache_total",
			Help: "Thumbnail cache lookups by result",
		},
		[]string{"result"}, // "hit", "miss"
	)

	// Error metrics
	ErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cloudfs_errors_total",
			Help: "Total number of errors by component",
		},
		[]string{"component", "error_type"},
	)
)

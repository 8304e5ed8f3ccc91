package core

import (
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/ebogdum/cloudfs/backends"
	"github.com/ebogdum/cloudfs/capacity"
	"github.com/ebogdum/cloudfs/locks"
	"github.com/ebogdum/cloudfs/metadata"
	"github.com/ebogdum/cloudfs/metrics"
	"github.com/ebogdum/cloudfs/thumbnails"
)

// Limits bounds uploads and tags
type Limits struct {
	ChunkSize      int
	MaxFileSize    int64
	MaxTagsPerFile int
	MaxTagLength   int
}

// Engine represents the core CloudFS engine. It keeps the metadata index, the byte
// store and the capacity tracker consistent: every commit runs under one
// process-wide lock, while byte transfer happens outside it.
type Engine struct {
	index      *metadata.Index
	storage    backends.Storage
	capacity   *capacity.Tracker
	thumbnails *thumbnails.Generator
	commitLock *locks.CommitLock
	limits     Limits
	logger     *zap.Logger
}

// NewEngine creates a new core engine instance. thumbs may be nil, in which case
// every thumbnail request is unsupported.
func NewEngine(
	index *metadata.Index,
	storage backends.Storage,
	tracker *capacity.Tracker,
	thumbs *thumbnails.Generator,
	limits Limits,
	logger *zap.Logger,
) *Engine {
	if limits.ChunkSize <= 0 {
		limits.ChunkSize = backends.DefaultChunkSize
	}

	return &Engine{
		index:      index,
		storage:    storage,
		capacity:   tracker,
		thumbnails: thumbs,
		commitLock: locks.NewCommitLock(),
		limits:     limits,
		logger:     logger,
	}
}

// Usage summarizes quota consumption
type Usage struct {
	UsedBytes     int64 `json:"used_bytes"`
	CapacityBytes int64 `json:"capacity_bytes"`
	ReservedBytes int64 `json:"reserved_bytes"`
	FileCount     int   `json:"file_count"`
}

// Usage returns the current committed usage, in-flight reservations and file count
func (e *Engine) Usage() Usage {
	return Usage{
		UsedBytes:     e.capacity.Used(),
		CapacityBytes: e.capacity.Capacity(),
		ReservedBytes: e.capacity.Reserved(),
		FileCount:     e.index.Len(),
	}
}

// PageLimit returns the page size ListFiles uses for a requested limit
func (e *Engine) PageLimit(limit int) int {
	return e.index.ClampLimit(limit)
}

// Close flushes the index and releases the byte store and thumbnail cache
func (e *Engine) Close() error {
	if e.thumbnails != nil {
		e.thumbnails.Close()
	}
	indexErr := e.index.Close()
	storageErr := e.storage.Close()
	return errors.Join(indexErr, storageErr)
}

// observe records duration and outcome of an engine operation
func (e *Engine) observe(op string, start time.Time, err *error) {
	metrics.FileOperationDuration.WithLabelValues(op).Observe(time.Since(start).Seconds())

	status := "success"
	if *err != nil {
		status = errorKind(*err)
	}
	metrics.FileOperationsTotal.WithLabelValues(op, status).Inc()
}

// errorKind names the error class for metrics labels
func errorKind(err error) string {
	switch {
	case err == nil:
		return "success"
	case errors.Is(err, metadata.ErrNotFound):
		return "not_found"
	case errors.Is(err, metadata.ErrAlreadyExists):
		return "already_exists"
	case errors.Is(err, metadata.ErrInvalidPath), errors.Is(err, metadata.ErrInvalidTag):
		return "invalid"
	case errors.Is(err, metadata.ErrPayloadTooLarge):
		return "too_large"
	case errors.Is(err, metadata.ErrQuotaExceeded):
		return "quota_exceeded"
	case errors.Is(err, metadata.ErrInconsistency):
		return "inconsistency"
	case errors.Is(err, thumbnails.ErrUnsupported):
		return "unsupported"
	default:
		return "io_failure"
	}
}

// reportInconsistency logs a metadata/bytes divergence at error level
func (e *Engine) reportInconsistency(op, path string, err error) {
	metrics.ErrorsTotal.WithLabelValues("engine", "inconsistency").Inc()
	e.logger.Error("Metadata and stored bytes diverged; reconciliation required",
		zap.String("operation", op),
		zap.String("path", path),
		zap.Error(err))
}

// Package backends provides the byte store interface used by the CloudFS engine.
// The byte store only moves bytes; it never invents or stores metadata.
package backends

import (
	"context"
	"io"
)

// DefaultChunkSize is the upload copy buffer used when none is configured
const DefaultChunkSize = 8 * 1024

// Quota is the capacity reservation an upload draws on while streaming
type Quota interface {
	// Bytes returns the currently reserved amount
	Bytes() int64
	// Grow extends the reservation or fails with metadata.ErrQuotaExceeded
	Grow(n int64) error
}

// StageOptions bounds a streamed upload
type StageOptions struct {
	// ChunkSize is the size of each read/write step
	ChunkSize int
	// MaxSize is the per-file limit; exceeding it fails with metadata.ErrPayloadTooLarge
	MaxSize int64
	// Quota is grown as bytes arrive; nil disables quota checks
	Quota Quota
}

// Upload is a fully received body waiting in a temporary location
type Upload interface {
	// Size returns the number of bytes received
	Size() int64

	// Head returns up to the first 512 bytes, for content type detection
	Head() []byte

	// Commit moves the bytes to path. It fails with metadata.ErrAlreadyExists if
	// bytes already exist there.
	Commit(ctx context.Context, path string) error

	// Discard removes the temporary bytes. Safe to call more than once and after Commit.
	Discard() error
}

// Storage defines byte store operations over normalized virtual paths
type Storage interface {
	// Stage streams r into a temporary location, enforcing opts
	Stage(ctx context.Context, r io.Reader, opts StageOptions) (Upload, error)

	// Open opens committed bytes for reading
	Open(ctx context.Context, path string) (io.ReadCloser, error)

	// Stat returns the size of committed bytes
	Stat(ctx context.Context, path string) (int64, error)

	// Delete removes committed bytes
	Delete(ctx context.Context, path string) error

	// Move relocates committed bytes without ever exposing a partial copy
	Move(ctx context.Context, oldPath, newPath string) error

	// Walk calls fn for every committed file under the root
	Walk(ctx context.Context, fn func(path string, size int64) error) error

	// LocalPath returns the on-disk location of path, for tools that need a file name
	LocalPath(path string) (string, error)

	// Close closes any resources used by the storage backend
	Close() error
}

// Package metadata provides the file metadata model, the in-memory index that is the
// single source of truth for stored files, and the manifest interface it persists through.
package metadata

import (
	"context"
	"errors"
	"slices"
	"time"
)

// Common engine errors
var (
	ErrInvalidPath     = errors.New("invalid path")
	ErrInvalidTag      = errors.New("invalid tag")
	ErrNotFound        = errors.New("file not found")
	ErrAlreadyExists   = errors.New("file already exists")
	ErrPayloadTooLarge = errors.New("payload too large")
	ErrQuotaExceeded   = errors.New("storage quota exceeded")
	ErrInconsistency   = errors.New("metadata and stored bytes diverged")
)

// OpError records the operation and path that produced an error.
type OpError struct {
	Op   string
	Path string
	Err  error
}

func (e *OpError) Error() string {
	if e.Path == "" {
		return e.Op + ": " + e.Err.Error()
	}
	return e.Op + " " + e.Path + ": " + e.Err.Error()
}

func (e *OpError) Unwrap() error {
	return e.Err
}

// WrapOp wraps err with op and path context. A nil err stays nil.
func WrapOp(op, path string, err error) error {
	if err == nil {
		return nil
	}
	var opErr *OpError
	if errors.As(err, &opErr) && opErr.Op == op && opErr.Path == path {
		return err
	}
	return &OpError{Op: op, Path: path, Err: err}
}

// FileMetadata represents one stored file
type FileMetadata struct {
	Filepath   string    `json:"filepath"`
	MimeType   string    `json:"mime_type"`
	Size       int64     `json:"size"`
	Tags       []string  `json:"tags"`
	UploadedAt time.Time `json:"uploaded_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// Clone returns a deep copy so callers never share the index's tag slice.
func (m *FileMetadata) Clone() *FileMetadata {
	c := *m
	c.Tags = slices.Clone(m.Tags)
	if c.Tags == nil {
		c.Tags = []string{}
	}
	return &c
}

// HasTag reports whether tag is attached to the file (case-sensitive).
func (m *FileMetadata) HasTag(tag string) bool {
	return slices.Contains(m.Tags, tag)
}

// Manifest persists the full index. Save replaces the previous contents atomically.
type Manifest interface {
	// Load returns every entry in the manifest, or an empty slice when none exists yet
	Load(ctx context.Context) ([]*FileMetadata, error)

	// Save atomically replaces the manifest with entries
	Save(ctx context.Context, entries []*FileMetadata) error

	// Close releases resources held by the manifest
	Close() error
}

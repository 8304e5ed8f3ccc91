package core

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"path"
	"slices"
	"strings"
	"time"

	"github.com/gabriel-vasile/mimetype"
	"go.uber.org/zap"

	"github.com/ebogdum/cloudfs/backends"
	logpkg "github.com/ebogdum/cloudfs/core/log"
	"github.com/ebogdum/cloudfs/internal/pathutil"
	"github.com/ebogdum/cloudfs/metadata"
	"github.com/ebogdum/cloudfs/metrics"
)

// ListOptions selects a page of the listing
type ListOptions struct {
	// Tag restricts the listing to files carrying it; empty means all files
	Tag    string
	Offset int
	// Limit is clamped to the configured default and maximum
	Limit int
}

// PutOptions describes an upload
type PutOptions struct {
	// DeclaredSize is the expected length, or a negative value when unknown.
	// Unknown sizes start with an empty quota reservation that grows with each
	// chunk instead of reserving the maximum file size up front.
	DeclaredSize int64
	// ContentType is the client-declared MIME type, if any
	ContentType string
	Tags        []string
}

// Patch describes a metadata change. Tags in AddTags are applied before those in
// RemoveTags, so a tag named in both ends up absent. NewPath renames the file.
type Patch struct {
	NewPath    string
	AddTags    []string
	RemoveTags []string
}

// ListFiles returns a page of files sorted by path, and the filtered total
func (e *Engine) ListFiles(ctx context.Context, opts ListOptions) (files []*metadata.FileMetadata, total int, err error) {
	defer e.observe("list", time.Now(), &err)

	files, total = e.index.List(opts.Tag, opts.Offset, opts.Limit)
	return files, total, nil
}

// GetFile opens the committed bytes at path. The caller must close the reader.
func (e *Engine) GetFile(ctx context.Context, rawPath string) (rc io.ReadCloser, md *metadata.FileMetadata, err error) {
	defer e.observe("get", time.Now(), &err)

	p, err := pathutil.Normalize(rawPath)
	if err != nil {
		return nil, nil, metadata.WrapOp("get", rawPath, err)
	}

	md, err = e.index.Get(p)
	if err != nil {
		return nil, nil, metadata.WrapOp("get", p, err)
	}

	rc, err = e.storage.Open(ctx, p)
	if errors.Is(err, metadata.ErrNotFound) {
		// A rename may sit between its byte move and its index update
		rc, md, err = e.openSettled(ctx, p)
	}
	if err != nil {
		return nil, nil, metadata.WrapOp("get", p, err)
	}

	e.logger.Debug("File opened", logpkg.Path("path", p), zap.Int64("size", md.Size))
	return rc, md, nil
}

// openSettled repeats the lookup and open under the commit lock, so no commit
// can be half applied while the entry is read.
func (e *Engine) openSettled(ctx context.Context, p string) (io.ReadCloser, *metadata.FileMetadata, error) {
	if err := e.commitLock.Acquire(ctx); err != nil {
		return nil, nil, err
	}
	defer e.commitLock.Release()

	md, err := e.index.Get(p)
	if err != nil {
		return nil, nil, err
	}
	rc, err := e.storage.Open(ctx, p)
	if err != nil {
		if errors.Is(err, metadata.ErrNotFound) {
			return nil, nil, e.missingBytes("get", p)
		}
		return nil, nil, err
	}
	return rc, md, nil
}

// settledMissing classifies bytes that vanished after a lock-free lookup once
// in-flight commits have finished. A nil error means the bytes are at p again.
func (e *Engine) settledMissing(ctx context.Context, op, p string) error {
	if err := e.commitLock.Acquire(ctx); err != nil {
		return err
	}
	defer e.commitLock.Release()

	if !e.index.Exists(p) {
		return metadata.ErrNotFound
	}
	if _, err := e.storage.Stat(ctx, p); !errors.Is(err, metadata.ErrNotFound) {
		return err
	}
	return e.missingBytes(op, p)
}

// missingBytes classifies bytes that vanished after a metadata lookup: a
// concurrent delete or rename is NotFound, anything else is an inconsistency.
// The caller holds the commit lock.
func (e *Engine) missingBytes(op, p string) error {
	if !e.index.Exists(p) {
		return metadata.ErrNotFound
	}
	err := fmt.Errorf("indexed file has no bytes: %w", metadata.ErrInconsistency)
	e.reportInconsistency(op, p, err)
	return err
}

// PutFile stores a new file. The body is streamed into a staging area without the
// commit lock; only the final rename and index insert run under it.
func (e *Engine) PutFile(ctx context.Context, rawPath string, r io.Reader, opts PutOptions) (md *metadata.FileMetadata, err error) {
	defer e.observe("put", time.Now(), &err)

	p, err := pathutil.Normalize(rawPath)
	if err != nil {
		return nil, metadata.WrapOp("put", rawPath, err)
	}

	tags := uniqueTags(opts.Tags)
	if err := pathutil.ValidateTags(tags, e.limits.MaxTagsPerFile, e.limits.MaxTagLength); err != nil {
		return nil, metadata.WrapOp("put", p, err)
	}

	// Fail fast before streaming; the check is repeated under the lock
	if err := e.index.Conflicts(p); err != nil {
		return nil, metadata.WrapOp("put", p, err)
	}

	if e.limits.MaxFileSize > 0 && opts.DeclaredSize > e.limits.MaxFileSize {
		return nil, metadata.WrapOp("put", p, fmt.Errorf("declared size %d exceeds %d bytes: %w",
			opts.DeclaredSize, e.limits.MaxFileSize, metadata.ErrPayloadTooLarge))
	}

	reservation, err := e.capacity.Reserve(max(opts.DeclaredSize, 0))
	if err != nil {
		return nil, metadata.WrapOp("put", p, err)
	}
	defer e.capacity.Release(reservation)

	upload, err := e.storage.Stage(ctx, r, backends.StageOptions{
		ChunkSize: e.limits.ChunkSize,
		MaxSize:   e.limits.MaxFileSize,
		Quota:     reservation,
	})
	if err != nil {
		return nil, metadata.WrapOp("put", p, err)
	}
	defer func() {
		if discardErr := upload.Discard(); discardErr != nil {
			e.logger.Warn("Failed to discard staged upload", zap.Error(discardErr))
		}
	}()

	size := upload.Size()
	if short := size - reservation.Bytes(); short > 0 {
		if err := reservation.Grow(short); err != nil {
			return nil, metadata.WrapOp("put", p, err)
		}
	}
	mimeType := detectMimeType(p, opts.ContentType, upload.Head())

	if err := e.commitLock.Acquire(ctx); err != nil {
		return nil, metadata.WrapOp("put", p, err)
	}
	defer e.commitLock.Release()

	// Past this point the commit runs to completion even if the caller goes away
	commitCtx := context.WithoutCancel(ctx)

	if err := e.index.Conflicts(p); err != nil {
		return nil, metadata.WrapOp("put", p, err)
	}

	if err := upload.Commit(commitCtx, p); err != nil {
		if errors.Is(err, metadata.ErrAlreadyExists) {
			e.logger.Warn("Unindexed bytes occupy upload destination", zap.String("path", p))
		}
		return nil, metadata.WrapOp("put", p, err)
	}

	entry := &metadata.FileMetadata{
		Filepath: p,
		MimeType: mimeType,
		Size:     size,
		Tags:     tags,
	}
	if err := e.index.Insert(commitCtx, entry); err != nil {
		if delErr := e.storage.Delete(commitCtx, p); delErr != nil {
			e.reportInconsistency("put", p, delErr)
			return nil, metadata.WrapOp("put", p, errors.Join(err, metadata.ErrInconsistency))
		}
		return nil, metadata.WrapOp("put", p, err)
	}

	if err := e.capacity.Commit(reservation, size); err != nil {
		e.reportInconsistency("put", p, err)
	}
	metrics.UploadBytesTotal.Add(float64(size))

	md, err = e.index.Get(p)
	if err != nil {
		return nil, metadata.WrapOp("put", p, err)
	}

	e.logger.Info("File stored",
		logpkg.Path("path", p),
		zap.String("mime_type", mimeType),
		zap.Int64("size", size))
	return md, nil
}

// PatchFile applies tag changes and an optional rename as one unit
func (e *Engine) PatchFile(ctx context.Context, rawPath string, patch Patch) (md *metadata.FileMetadata, err error) {
	defer e.observe("patch", time.Now(), &err)

	p, err := pathutil.Normalize(rawPath)
	if err != nil {
		return nil, metadata.WrapOp("patch", rawPath, err)
	}

	newPath := p
	if patch.NewPath != "" {
		newPath, err = pathutil.Normalize(patch.NewPath)
		if err != nil {
			return nil, metadata.WrapOp("patch", p, err)
		}
	}

	for _, tag := range patch.AddTags {
		if err := pathutil.ValidateTag(tag, e.limits.MaxTagLength); err != nil {
			return nil, metadata.WrapOp("patch", p, err)
		}
	}

	if err := e.commitLock.Acquire(ctx); err != nil {
		return nil, metadata.WrapOp("patch", p, err)
	}
	defer e.commitLock.Release()
	commitCtx := context.WithoutCancel(ctx)

	current, err := e.index.Get(p)
	if err != nil {
		return nil, metadata.WrapOp("patch", p, err)
	}

	tags := applyTagPatch(current.Tags, patch.AddTags, patch.RemoveTags)
	if err := pathutil.ValidateTags(tags, e.limits.MaxTagsPerFile, e.limits.MaxTagLength); err != nil {
		return nil, metadata.WrapOp("patch", p, err)
	}
	tagsChanged := !slices.Equal(tags, current.Tags)
	setTags := func(md *metadata.FileMetadata) error {
		md.Tags = tags
		return nil
	}

	if newPath == p {
		if !tagsChanged {
			return current, nil
		}
		md, err = e.index.Update(commitCtx, p, setTags)
		if err != nil {
			return nil, metadata.WrapOp("patch", p, err)
		}
		e.logger.Debug("File tags updated", logpkg.Path("path", p), zap.Strings("tags", md.Tags))
		return md, nil
	}

	if err := e.index.Conflicts(newPath); err != nil {
		return nil, metadata.WrapOp("patch", newPath, err)
	}

	if err := e.storage.Move(commitCtx, p, newPath); err != nil {
		if errors.Is(err, metadata.ErrNotFound) {
			return nil, metadata.WrapOp("patch", p, e.missingBytes("patch", p))
		}
		return nil, metadata.WrapOp("patch", p, err)
	}

	md, err = e.index.Move(commitCtx, p, newPath, setTags)
	if err != nil {
		if backErr := e.storage.Move(commitCtx, newPath, p); backErr != nil {
			e.reportInconsistency("patch", p, backErr)
			return nil, metadata.WrapOp("patch", p, errors.Join(err, metadata.ErrInconsistency))
		}
		return nil, metadata.WrapOp("patch", p, err)
	}

	e.logger.Info("File renamed",
		logpkg.Path("from", p),
		logpkg.Path("to", newPath))
	return md, nil
}

// DeleteFile removes metadata first, then bytes. A byte deletion failure leaves an
// orphan and is reported as an inconsistency.
func (e *Engine) DeleteFile(ctx context.Context, rawPath string) (err error) {
	defer e.observe("delete", time.Now(), &err)

	p, err := pathutil.Normalize(rawPath)
	if err != nil {
		return metadata.WrapOp("delete", rawPath, err)
	}

	if err := e.commitLock.Acquire(ctx); err != nil {
		return metadata.WrapOp("delete", p, err)
	}
	defer e.commitLock.Release()
	commitCtx := context.WithoutCancel(ctx)

	removed, err := e.index.Remove(commitCtx, p)
	if err != nil {
		return metadata.WrapOp("delete", p, err)
	}
	e.capacity.Free(removed.Size)

	if err := e.storage.Delete(commitCtx, p); err != nil {
		if errors.Is(err, metadata.ErrNotFound) {
			// Nothing left to diverge, but the index had been pointing at nothing
			metrics.ErrorsTotal.WithLabelValues("engine", "inconsistency").Inc()
			e.logger.Warn("Deleted file had no stored bytes", zap.String("path", p))
			return nil
		}
		incErr := fmt.Errorf("metadata removed but bytes remain: %v: %w", err, metadata.ErrInconsistency)
		e.reportInconsistency("delete", p, incErr)
		return metadata.WrapOp("delete", p, incErr)
	}

	e.logger.Info("File deleted", logpkg.Path("path", p), zap.Int64("size", removed.Size))
	return nil
}

// applyTagPatch adds then removes tags, keeping the result sorted and unique
func applyTagPatch(current, add, remove []string) []string {
	set := make(map[string]struct{}, len(current)+len(add))
	for _, t := range current {
		set[t] = struct{}{}
	}
	for _, t := range add {
		set[t] = struct{}{}
	}
	for _, t := range remove {
		delete(set, t)
	}

	out := make([]string, 0, len(set))
	for t := range set {
		out = append(out, t)
	}
	slices.Sort(out)
	return out
}

func uniqueTags(tags []string) []string {
	out := slices.Clone(tags)
	slices.Sort(out)
	out = slices.Compact(out)
	if out == nil {
		out = []string{}
	}
	return out
}

// detectMimeType prefers a specific declared type, then the file extension, then
// the content itself.
func detectMimeType(p, declared string, head []byte) string {
	if declared != "" {
		if mediaType, _, err := mime.ParseMediaType(declared); err == nil && mediaType != "application/octet-stream" {
			return mediaType
		}
	}

	if ext := strings.ToLower(path.Ext(p)); ext != "" {
		if byExt := mime.TypeByExtension(ext); byExt != "" {
			if mediaType, _, err := mime.ParseMediaType(byExt); err == nil {
				return mediaType
			}
		}
	}

	detected := mimetype.Detect(head).String()
	if mediaType, _, err := mime.ParseMediaType(detected); err == nil {
		return mediaType
	}
	return "application/octet-stream"
}

package localfs

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"

	"github.com/ebogdum/cloudfs/backends"
	"github.com/ebogdum/cloudfs/internal/pathutil"
	"github.com/ebogdum/cloudfs/metadata"
)

var _ backends.Storage = (*LocalFSAdapter)(nil)

// LocalFSAdapter implements the backends.Storage interface for the local filesystem.
// Committed files live at <root>/<virtual path>; uploads are staged in <root>/.uploads.
type LocalFSAdapter struct {
	rootPath string
	tempDir  string
	logger   *zap.Logger
}

// NewLocalFSAdapter creates a new local filesystem adapter
func NewLocalFSAdapter(rootPath string, logger *zap.Logger) (*LocalFSAdapter, error) {
	absRoot, err := filepath.Abs(rootPath)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve root path %s: %w", rootPath, err)
	}

	// Ensure root path exists
	if err := os.MkdirAll(absRoot, 0755); err != nil {
		return nil, fmt.Errorf("failed to create root path %s: %w", absRoot, err)
	}

	// Verify path is accessible
	if _, err := os.Stat(absRoot); err != nil {
		return nil, fmt.Errorf("root path %s is not accessible: %w", absRoot, err)
	}

	a := &LocalFSAdapter{
		rootPath: absRoot,
		tempDir:  filepath.Join(absRoot, pathutil.ReservedPrefix),
		logger:   logger,
	}

	if err := a.resetTempDir(); err != nil {
		return nil, err
	}

	return a, nil
}

// Root returns the absolute storage root
func (a *LocalFSAdapter) Root() string {
	return a.rootPath
}

// resetTempDir drops uploads left behind by a crash and recreates the staging area
func (a *LocalFSAdapter) resetTempDir() error {
	entries, err := os.ReadDir(a.tempDir)
	if err == nil && len(entries) > 0 {
		a.logger.Warn("Removing stale staged uploads", zap.Int("count", len(entries)))
	}
	if err := os.RemoveAll(a.tempDir); err != nil {
		return fmt.Errorf("failed to clear upload directory: %w", err)
	}
	if err := os.MkdirAll(a.tempDir, 0755); err != nil {
		return fmt.Errorf("failed to create upload directory: %w", err)
	}
	return nil
}

// Open opens a file for reading
func (a *LocalFSAdapter) Open(ctx context.Context, path string) (io.ReadCloser, error) {
	fullPath, err := pathutil.SafeJoin(a.rootPath, path)
	if err != nil {
		return nil, err
	}

	file, err := os.Open(fullPath)
	if err != nil {
		if isMissing(err) {
			return nil, metadata.ErrNotFound
		}
		return nil, fmt.Errorf("failed to open file %s: %w", path, err)
	}

	info, err := file.Stat()
	if err != nil {
		file.Close()
		return nil, fmt.Errorf("failed to stat file %s: %w", path, err)
	}
	if info.IsDir() {
		file.Close()
		return nil, metadata.ErrNotFound
	}

	return file, nil
}

// Stat returns the size of a committed file
func (a *LocalFSAdapter) Stat(ctx context.Context, path string) (int64, error) {
	fullPath, err := pathutil.SafeJoin(a.rootPath, path)
	if err != nil {
		return 0, err
	}

	info, err := os.Stat(fullPath)
	if err != nil {
		if isMissing(err) {
			return 0, metadata.ErrNotFound
		}
		return 0, fmt.Errorf("failed to stat %s: %w", path, err)
	}
	if info.IsDir() {
		return 0, metadata.ErrNotFound
	}

	return info.Size(), nil
}

// Delete removes a file and prunes parent directories left empty
func (a *LocalFSAdapter) Delete(ctx context.Context, path string) error {
	fullPath, err := pathutil.SafeJoin(a.rootPath, path)
	if err != nil {
		return err
	}

	info, err := os.Lstat(fullPath)
	if err != nil {
		if isMissing(err) {
			return metadata.ErrNotFound
		}
		return fmt.Errorf("failed to stat %s: %w", path, err)
	}
	if info.IsDir() {
		return metadata.ErrNotFound
	}

	if err := os.Remove(fullPath); err != nil {
		if isMissing(err) {
			return metadata.ErrNotFound
		}
		return fmt.Errorf("failed to delete %s: %w", path, err)
	}

	a.cleanupEmptyDirs(fullPath)
	return nil
}

// Move renames committed bytes from oldPath to newPath, creating parent
// directories as needed. Falls back to copy, verify, delete when the rename
// crosses devices.
func (a *LocalFSAdapter) Move(ctx context.Context, oldPath, newPath string) error {
	src, err := pathutil.SafeJoin(a.rootPath, oldPath)
	if err != nil {
		return err
	}
	dst, err := pathutil.SafeJoin(a.rootPath, newPath)
	if err != nil {
		return err
	}

	srcInfo, err := os.Lstat(src)
	if err != nil {
		if isMissing(err) {
			return metadata.ErrNotFound
		}
		return fmt.Errorf("failed to stat %s: %w", oldPath, err)
	}
	if srcInfo.IsDir() {
		return metadata.ErrNotFound
	}

	if err := a.placeAt(src, dst); err != nil {
		if !isCrossDevice(err) {
			return err
		}
		a.logger.Debug("Rename crosses devices, copying", zap.String("from", oldPath), zap.String("to", newPath))
		if err := copyVerifyDelete(src, dst, srcInfo.Size()); err != nil {
			return err
		}
	}

	a.cleanupEmptyDirs(src)
	return nil
}

// placeAt renames src onto dst, refusing to replace existing bytes
func (a *LocalFSAdapter) placeAt(src, dst string) error {
	if _, err := os.Lstat(dst); err == nil || isNotDir(err) {
		return metadata.ErrAlreadyExists
	} else if !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("failed to stat destination: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(dst), 0755); err != nil {
		if isNotDir(err) || errors.Is(err, os.ErrExist) {
			return metadata.ErrAlreadyExists
		}
		return fmt.Errorf("failed to create parent directory: %w", err)
	}

	if err := os.Rename(src, dst); err != nil {
		return err
	}
	return nil
}

// Walk reports every committed file with its virtual path and size
func (a *LocalFSAdapter) Walk(ctx context.Context, fn func(path string, size int64) error) error {
	return filepath.WalkDir(a.rootPath, func(full string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		if d.IsDir() {
			if full == a.tempDir {
				return filepath.SkipDir
			}
			return nil
		}

		rel, err := filepath.Rel(a.rootPath, full)
		if err != nil {
			return err
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		return fn(filepath.ToSlash(rel), info.Size())
	})
}

// LocalPath returns the on-disk path of a committed file
func (a *LocalFSAdapter) LocalPath(path string) (string, error) {
	return pathutil.SafeJoin(a.rootPath, path)
}

// Close closes any resources used by the storage backend
func (a *LocalFSAdapter) Close() error {
	// No resources to close for local filesystem
	return nil
}

// cleanupEmptyDirs walks up from path removing empty directories until it
// reaches the root or a non-empty directory.
func (a *LocalFSAdapter) cleanupEmptyDirs(path string) {
	parent := filepath.Dir(path)

	for parent != a.rootPath && strings.HasPrefix(parent, a.rootPath+string(filepath.Separator)) {
		entries, err := os.ReadDir(parent)
		if err != nil || len(entries) > 0 {
			break
		}
		if err := os.Remove(parent); err != nil {
			break
		}
		parent = filepath.Dir(parent)
	}
}

// copyVerifyDelete copies src to a temporary sibling of dst, checks its length,
// renames it into place and only then removes src.
func copyVerifyDelete(src, dst string, expected int64) error {
	in, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("failed to open source for copy: %w", err)
	}
	defer in.Close()

	tmp, err := os.CreateTemp(filepath.Dir(dst), ".move-*")
	if err != nil {
		return fmt.Errorf("failed to create copy target: %w", err)
	}
	tmpPath := tmp.Name()

	written, err := io.Copy(tmp, in)
	if err == nil {
		err = tmp.Sync()
	}
	if closeErr := tmp.Close(); err == nil {
		err = closeErr
	}
	if err == nil && written != expected {
		err = fmt.Errorf("copied %d of %d bytes: %w", written, expected, metadata.ErrInconsistency)
	}
	if err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to copy file: %w", err)
	}

	if _, err := os.Lstat(dst); err == nil || isNotDir(err) {
		os.Remove(tmpPath)
		return metadata.ErrAlreadyExists
	}
	if err := os.Rename(tmpPath, dst); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to place copied file: %w", err)
	}

	if err := os.Remove(src); err != nil {
		// Destination is complete; report the leftover source so it can be reconciled
		return fmt.Errorf("copied file but failed to remove source: %w", errors.Join(err, metadata.ErrInconsistency))
	}
	return nil
}

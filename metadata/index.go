package metadata

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/ebogdum/cloudfs/metrics"
)

// Pagination defaults applied when IndexOptions leaves them unset
const (
	DefaultListLimit = 100
	MaxListLimit     = 1000
)

// IndexOptions configures listing limits and manifest persistence
type IndexOptions struct {
	DefaultLimit int
	MaxLimit     int
	// FlushInterval > 0 switches from write-through persistence to a periodic flush
	FlushInterval time.Duration
}

// Index is the authoritative path -> metadata mapping. Every mutation runs its full
// read-modify-persist cycle under one mutex; readers take the shared side.
type Index struct {
	mu       sync.RWMutex
	entries  map[string]*FileMetadata
	manifest Manifest
	opts     IndexOptions
	logger   *zap.Logger

	dirty   bool
	flushMu sync.Mutex
	now     func() time.Time
}

// NewIndex loads the manifest into memory
func NewIndex(ctx context.Context, manifest Manifest, opts IndexOptions, logger *zap.Logger) (*Index, error) {
	if opts.DefaultLimit <= 0 {
		opts.DefaultLimit = DefaultListLimit
	}
	if opts.MaxLimit <= 0 {
		opts.MaxLimit = MaxListLimit
	}
	if opts.DefaultLimit > opts.MaxLimit {
		opts.DefaultLimit = opts.MaxLimit
	}

	loaded, err := manifest.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load manifest: %w", err)
	}

	idx := &Index{
		entries:  make(map[string]*FileMetadata, len(loaded)),
		manifest: manifest,
		opts:     opts,
		logger:   logger,
		now:      func() time.Time { return time.Now().UTC() },
	}

	for _, md := range loaded {
		if _, exists := idx.entries[md.Filepath]; exists {
			return nil, fmt.Errorf("manifest contains duplicate entry %q: %w", md.Filepath, ErrInconsistency)
		}
		c := md.Clone()
		sort.Strings(c.Tags)
		idx.entries[md.Filepath] = c
	}

	if len(loaded) == 0 {
		// Materialize an empty manifest so a fresh install has one on disk
		if err := idx.save(ctx); err != nil {
			return nil, err
		}
	}

	logger.Info("Loaded metadata index", zap.Int("files", len(idx.entries)))
	return idx, nil
}

// Len returns the number of indexed files
func (i *Index) Len() int {
	i.mu.RLock()
	defer i.mu.RUnlock()
	return len(i.entries)
}

// TotalSize returns the sum of all indexed sizes
func (i *Index) TotalSize() int64 {
	i.mu.RLock()
	defer i.mu.RUnlock()

	var total int64
	for _, md := range i.entries {
		total += md.Size
	}
	return total
}

// Get returns a copy of the metadata stored at path
func (i *Index) Get(path string) (*FileMetadata, error) {
	i.mu.RLock()
	defer i.mu.RUnlock()

	md, ok := i.entries[path]
	if !ok {
		return nil, ErrNotFound
	}
	return md.Clone(), nil
}

// Exists reports whether path has an entry
func (i *Index) Exists(path string) bool {
	i.mu.RLock()
	defer i.mu.RUnlock()
	_, ok := i.entries[path]
	return ok
}

// Conflicts reports ErrAlreadyExists when path is taken: by a file at path, by a
// file at one of its ancestors, or by a folder that other files live under.
func (i *Index) Conflicts(path string) error {
	i.mu.RLock()
	defer i.mu.RUnlock()
	return i.conflictLocked(path)
}

func (i *Index) conflictLocked(path string) error {
	if _, exists := i.entries[path]; exists {
		return ErrAlreadyExists
	}
	for dir := parentDir(path); dir != ""; dir = parentDir(dir) {
		if _, exists := i.entries[dir]; exists {
			return fmt.Errorf("parent %q is a file: %w", dir, ErrAlreadyExists)
		}
	}
	prefix := path + "/"
	for p := range i.entries {
		if strings.HasPrefix(p, prefix) {
			return fmt.Errorf("%q is a folder: %w", path, ErrAlreadyExists)
		}
	}
	return nil
}

func parentDir(path string) string {
	if slash := strings.LastIndexByte(path, '/'); slash > 0 {
		return path[:slash]
	}
	return ""
}

// ClampLimit applies the configured default and maximum page size
func (i *Index) ClampLimit(limit int) int {
	if limit <= 0 {
		return i.opts.DefaultLimit
	}
	if limit > i.opts.MaxLimit {
		return i.opts.MaxLimit
	}
	return limit
}

// List filters by tag (when non-empty), sorts by filepath and returns the
// [offset, offset+limit) page together with the filtered total.
func (i *Index) List(tag string, offset, limit int) ([]*FileMetadata, int) {
	limit = i.ClampLimit(limit)
	if offset < 0 {
		offset = 0
	}

	i.mu.RLock()
	matched := make([]*FileMetadata, 0, len(i.entries))
	for _, md := range i.entries {
		if tag != "" && !md.HasTag(tag) {
			continue
		}
		matched = append(matched, md)
	}
	sort.Slice(matched, func(a, b int) bool {
		return matched[a].Filepath < matched[b].Filepath
	})

	total := len(matched)
	if offset >= total {
		i.mu.RUnlock()
		return []*FileMetadata{}, total
	}
	end := offset + limit
	if end > total {
		end = total
	}

	page := make([]*FileMetadata, 0, end-offset)
	for _, md := range matched[offset:end] {
		page = append(page, md.Clone())
	}
	i.mu.RUnlock()

	return page, total
}

// Snapshot returns copies of every entry sorted by filepath
func (i *Index) Snapshot() []*FileMetadata {
	i.mu.RLock()
	defer i.mu.RUnlock()
	return i.sortedLocked()
}

// ListDirectory returns the immediate sub-folders of prefix and the files stored
// directly inside it. An empty prefix is the root.
func (i *Index) ListDirectory(prefix string) ([]string, []*FileMetadata) {
	i.mu.RLock()
	defer i.mu.RUnlock()

	paths := make([]string, 0, len(i.entries))
	for p := range i.entries {
		paths = append(paths, p)
	}

	folders, files := SplitDirectory(paths, prefix)
	entries := make([]*FileMetadata, 0, len(files))
	for _, p := range files {
		entries = append(entries, i.entries[p].Clone())
	}
	return folders, entries
}

// Insert adds a new entry. UploadedAt/UpdatedAt are stamped when zero.
func (i *Index) Insert(ctx context.Context, md *FileMetadata) error {
	i.mu.Lock()
	defer i.mu.Unlock()

	if err := i.conflictLocked(md.Filepath); err != nil {
		return err
	}

	entry := md.Clone()
	sort.Strings(entry.Tags)
	now := i.now()
	if entry.UploadedAt.IsZero() {
		entry.UploadedAt = now
	}
	if entry.UpdatedAt.IsZero() {
		entry.UpdatedAt = entry.UploadedAt
	}

	i.entries[entry.Filepath] = entry
	if err := i.persistLocked(ctx); err != nil {
		delete(i.entries, entry.Filepath)
		return err
	}

	i.logger.Debug("Inserted index entry", zap.String("path", entry.Filepath), zap.Int64("size", entry.Size))
	return nil
}

// Update applies mutator to a copy of the entry at path and commits it with a
// refreshed UpdatedAt. A mutator error aborts the update without side effects.
func (i *Index) Update(ctx context.Context, path string, mutator func(md *FileMetadata) error) (*FileMetadata, error) {
	i.mu.Lock()
	defer i.mu.Unlock()

	prev, ok := i.entries[path]
	if !ok {
		return nil, ErrNotFound
	}

	next := prev.Clone()
	if err := mutator(next); err != nil {
		return nil, err
	}
	// Key and creation time are owned by the index
	next.Filepath = prev.Filepath
	next.UploadedAt = prev.UploadedAt
	next.UpdatedAt = i.now()
	sort.Strings(next.Tags)

	i.entries[path] = next
	if err := i.persistLocked(ctx); err != nil {
		i.entries[path] = prev
		return nil, err
	}

	return next.Clone(), nil
}

// Remove deletes the entry at path and returns what was removed
func (i *Index) Remove(ctx context.Context, path string) (*FileMetadata, error) {
	i.mu.Lock()
	defer i.mu.Unlock()

	prev, ok := i.entries[path]
	if !ok {
		return nil, ErrNotFound
	}

	delete(i.entries, path)
	if err := i.persistLocked(ctx); err != nil {
		i.entries[path] = prev
		return nil, err
	}

	return prev.Clone(), nil
}

// Rename moves the entry at oldPath to newPath, keeping everything but UpdatedAt
func (i *Index) Rename(ctx context.Context, oldPath, newPath string) (*FileMetadata, error) {
	return i.Move(ctx, oldPath, newPath, nil)
}

// Move renames the entry at oldPath to newPath and applies mutator (when non-nil)
// to it in the same commit, so a combined tag change and rename persists once.
func (i *Index) Move(ctx context.Context, oldPath, newPath string, mutator func(md *FileMetadata) error) (*FileMetadata, error) {
	i.mu.Lock()
	defer i.mu.Unlock()

	prev, ok := i.entries[oldPath]
	if !ok {
		return nil, ErrNotFound
	}
	if err := i.conflictLocked(newPath); err != nil {
		return nil, err
	}

	moved := prev.Clone()
	if mutator != nil {
		if err := mutator(moved); err != nil {
			return nil, err
		}
	}
	moved.Filepath = newPath
	moved.UploadedAt = prev.UploadedAt
	moved.UpdatedAt = i.now()
	sort.Strings(moved.Tags)

	delete(i.entries, oldPath)
	i.entries[newPath] = moved
	if err := i.persistLocked(ctx); err != nil {
		delete(i.entries, newPath)
		i.entries[oldPath] = prev
		return nil, err
	}

	return moved.Clone(), nil
}

// Flush writes the manifest if there are unflushed mutations
func (i *Index) Flush(ctx context.Context) error {
	i.flushMu.Lock()
	defer i.flushMu.Unlock()

	i.mu.Lock()
	if !i.dirty {
		i.mu.Unlock()
		return nil
	}
	snapshot := i.sortedLocked()
	i.dirty = false
	i.mu.Unlock()

	if err := i.write(ctx, snapshot); err != nil {
		i.mu.Lock()
		i.dirty = true
		i.mu.Unlock()
		return err
	}
	return nil
}

// Close flushes pending mutations and closes the manifest
func (i *Index) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	flushErr := i.Flush(ctx)
	closeErr := i.manifest.Close()
	if flushErr != nil {
		return flushErr
	}
	return closeErr
}

// persistLocked writes through or marks the index dirty (caller must hold mu)
func (i *Index) persistLocked(ctx context.Context) error {
	if i.opts.FlushInterval > 0 {
		i.dirty = true
		return nil
	}
	return i.save(ctx)
}

func (i *Index) save(ctx context.Context) error {
	return i.write(ctx, i.sortedLocked())
}

func (i *Index) write(ctx context.Context, entries []*FileMetadata) error {
	if err := i.manifest.Save(ctx, entries); err != nil {
		metrics.ManifestWritesTotal.WithLabelValues("failure").Inc()
		i.logger.Error("Failed to save manifest", zap.Int("files", len(entries)), zap.Error(err))
		return fmt.Errorf("failed to save manifest: %w", err)
	}
	metrics.ManifestWritesTotal.WithLabelValues("success").Inc()
	return nil
}

// sortedLocked returns sorted copies of all entries (caller must hold mu)
func (i *Index) sortedLocked() []*FileMetadata {
	out := make([]*FileMetadata, 0, len(i.entries))
	for _, md := range i.entries {
		out = append(out, md.Clone())
	}
	sort.Slice(out, func(a, b int) bool {
		return out[a].Filepath < out[b].Filepath
	})
	return out
}

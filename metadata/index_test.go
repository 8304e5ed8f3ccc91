package metadata

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

// memoryManifest records saves in memory and can be told to fail
type memoryManifest struct {
	mu      sync.Mutex
	entries []*FileMetadata
	saves   int
	failErr error
}

func (m *memoryManifest) Load(ctx context.Context) ([]*FileMetadata, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*FileMetadata, 0, len(m.entries))
	for _, md := range m.entries {
		out = append(out, md.Clone())
	}
	return out, nil
}

func (m *memoryManifest) Save(ctx context.Context, entries []*FileMetadata) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failErr != nil {
		return m.failErr
	}
	m.entries = entries
	m.saves++
	return nil
}

func (m *memoryManifest) Close() error { return nil }

func (m *memoryManifest) saved() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	paths := make([]string, 0, len(m.entries))
	for _, md := range m.entries {
		paths = append(paths, md.Filepath)
	}
	return paths
}

func (m *memoryManifest) fail(err error) {
	m.mu.Lock()
	m.failErr = err
	m.mu.Unlock()
}

func newTestIndex(t *testing.T, opts IndexOptions) (*Index, *memoryManifest) {
	t.Helper()
	mf := &memoryManifest{}
	idx, err := NewIndex(context.Background(), mf, opts, zaptest.NewLogger(t))
	require.NoError(t, err)
	return idx, mf
}

func file(path string, size int64, tags ...string) *FileMetadata {
	return &FileMetadata{Filepath: path, MimeType: "text/plain", Size: size, Tags: tags}
}

func paths(entries []*FileMetadata) []string {
	out := make([]string, 0, len(entries))
	for _, md := range entries {
		out = append(out, md.Filepath)
	}
	return out
}

func TestNewIndexMaterializesEmptyManifest(t *testing.T) {
	_, mf := newTestIndex(t, IndexOptions{})
	assert.Equal(t, 1, mf.saves)
	assert.Empty(t, mf.saved())
}

func TestNewIndexRejectsDuplicates(t *testing.T) {
	mf := &memoryManifest{entries: []*FileMetadata{file("a", 1), file("a", 2)}}
	_, err := NewIndex(context.Background(), mf, IndexOptions{}, zaptest.NewLogger(t))
	require.ErrorIs(t, err, ErrInconsistency)
}

func TestInsertGet(t *testing.T) {
	idx, mf := newTestIndex(t, IndexOptions{})
	ctx := context.Background()

	require.NoError(t, idx.Insert(ctx, file("docs/a.txt", 10, "z", "a")))
	assert.ErrorIs(t, idx.Insert(ctx, file("docs/a.txt", 3)), ErrAlreadyExists)

	md, err := idx.Get("docs/a.txt")
	require.NoError(t, err)
	assert.Equal(t, int64(10), md.Size)
	assert.Equal(t, []string{"a", "z"}, md.Tags)
	assert.False(t, md.UploadedAt.IsZero())
	assert.Equal(t, md.UploadedAt, md.UpdatedAt)

	// Returned values are copies
	md.Tags[0] = "mutated"
	again, err := idx.Get("docs/a.txt")
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "z"}, again.Tags)

	_, err = idx.Get("missing")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.Equal(t, []string{"docs/a.txt"}, mf.saved())
	assert.Equal(t, 1, idx.Len())
	assert.Equal(t, int64(10), idx.TotalSize())
}

func TestConflicts(t *testing.T) {
	idx, _ := newTestIndex(t, IndexOptions{})
	ctx := context.Background()
	require.NoError(t, idx.Insert(ctx, file("a", 1)))
	require.NoError(t, idx.Insert(ctx, file("dir/b", 1)))

	assert.ErrorIs(t, idx.Conflicts("a"), ErrAlreadyExists)
	assert.ErrorIs(t, idx.Conflicts("a/child"), ErrAlreadyExists, "parent is a file")
	assert.ErrorIs(t, idx.Conflicts("dir"), ErrAlreadyExists, "path is a folder")
	assert.NoError(t, idx.Conflicts("dir/c"))
	assert.NoError(t, idx.Conflicts("dirx"))

	assert.ErrorIs(t, idx.Insert(ctx, file("a/child", 1)), ErrAlreadyExists)
	_, err := idx.Rename(ctx, "a", "dir")
	assert.ErrorIs(t, err, ErrAlreadyExists)
}

func TestListFilterSortPaginate(t *testing.T) {
	idx, _ := newTestIndex(t, IndexOptions{})
	ctx := context.Background()
	for _, md := range []*FileMetadata{
		file("c.txt", 1, "work"),
		file("a.txt", 1),
		file("b/x.txt", 1, "work", "home"),
		file("b/a.txt", 1, "home"),
		file("d.txt", 1, "Work"),
	} {
		require.NoError(t, idx.Insert(ctx, md))
	}

	all, total := idx.List("", 0, 0)
	assert.Equal(t, 5, total)
	assert.Equal(t, []string{"a.txt", "b/a.txt", "b/x.txt", "c.txt", "d.txt"}, paths(all))

	work, total := idx.List("work", 0, 0)
	assert.Equal(t, 2, total, "tag match is case-sensitive")
	assert.Equal(t, []string{"b/x.txt", "c.txt"}, paths(work))

	page, total := idx.List("", 1, 2)
	assert.Equal(t, 5, total, "total counts before slicing")
	assert.Equal(t, []string{"b/a.txt", "b/x.txt"}, paths(page))

	empty, total := idx.List("", 10, 2)
	assert.Equal(t, 5, total)
	assert.NotNil(t, empty)
	assert.Empty(t, empty)

	none, total := idx.List("nope", 0, 10)
	assert.Equal(t, 0, total)
	assert.Empty(t, none)
}

func TestListIsIdempotentAndExhaustive(t *testing.T) {
	idx, _ := newTestIndex(t, IndexOptions{})
	ctx := context.Background()
	for i := 0; i < 47; i++ {
		tags := []string{}
		if i%3 == 0 {
			tags = append(tags, "third")
		}
		require.NoError(t, idx.Insert(ctx, file(fmt.Sprintf("f/%03d.bin", 46-i), int64(i), tags...)))
	}

	for _, tag := range []string{"", "third"} {
		full, total := idx.List(tag, 0, 1000)
		require.Len(t, full, total)

		again, _ := idx.List(tag, 0, 1000)
		assert.Equal(t, paths(full), paths(again))

		for _, limit := range []int{1, 5, 10, 46, 47} {
			var collected []string
			for offset := 0; offset < total; offset += limit {
				page, pageTotal := idx.List(tag, offset, limit)
				assert.Equal(t, total, pageTotal)
				collected = append(collected, paths(page)...)
			}
			assert.Equal(t, paths(full), collected, "tag=%q limit=%d", tag, limit)
		}
	}
}

func TestClampLimit(t *testing.T) {
	idx, _ := newTestIndex(t, IndexOptions{DefaultLimit: 2, MaxLimit: 3})
	assert.Equal(t, 2, idx.ClampLimit(0))
	assert.Equal(t, 2, idx.ClampLimit(-5))
	assert.Equal(t, 3, idx.ClampLimit(500))
	assert.Equal(t, 1, idx.ClampLimit(1))

	defaults, _ := newTestIndex(t, IndexOptions{})
	assert.Equal(t, DefaultListLimit, defaults.ClampLimit(0))
	assert.Equal(t, MaxListLimit, defaults.ClampLimit(5000))
}

func TestUpdate(t *testing.T) {
	idx, _ := newTestIndex(t, IndexOptions{})
	ctx := context.Background()
	require.NoError(t, idx.Insert(ctx, file("a.txt", 5)))
	before, _ := idx.Get("a.txt")

	later := before.UploadedAt.Add(time.Minute)
	idx.now = func() time.Time { return later }

	updated, err := idx.Update(ctx, "a.txt", func(md *FileMetadata) error {
		md.Tags = append(md.Tags, "b", "a")
		md.Filepath = "ignored"
		md.UploadedAt = time.Time{}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, "a.txt", updated.Filepath)
	assert.Equal(t, []string{"a", "b"}, updated.Tags)
	assert.Equal(t, before.UploadedAt, updated.UploadedAt)
	assert.Equal(t, later, updated.UpdatedAt)

	boom := errors.New("boom")
	_, err = idx.Update(ctx, "a.txt", func(md *FileMetadata) error {
		md.Tags = nil
		return boom
	})
	require.ErrorIs(t, err, boom)
	current, _ := idx.Get("a.txt")
	assert.Equal(t, []string{"a", "b"}, current.Tags)

	_, err = idx.Update(ctx, "missing", func(*FileMetadata) error { return nil })
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestRemoveAndRename(t *testing.T) {
	idx, mf := newTestIndex(t, IndexOptions{})
	ctx := context.Background()
	require.NoError(t, idx.Insert(ctx, file("docs/report.txt", 50, "work")))
	require.NoError(t, idx.Insert(ctx, file("other.txt", 1)))

	moved, err := idx.Rename(ctx, "docs/report.txt", "docs/2024/report.txt")
	require.NoError(t, err)
	assert.Equal(t, "docs/2024/report.txt", moved.Filepath)
	assert.Equal(t, int64(50), moved.Size)
	assert.Equal(t, []string{"work"}, moved.Tags)
	_, err = idx.Get("docs/report.txt")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.Equal(t, []string{"docs/2024/report.txt", "other.txt"}, mf.saved())

	_, err = idx.Rename(ctx, "docs/2024/report.txt", "other.txt")
	assert.ErrorIs(t, err, ErrAlreadyExists)
	_, err = idx.Rename(ctx, "missing", "x")
	assert.ErrorIs(t, err, ErrNotFound)

	removed, err := idx.Remove(ctx, "other.txt")
	require.NoError(t, err)
	assert.Equal(t, "other.txt", removed.Filepath)
	_, err = idx.Remove(ctx, "other.txt")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.Equal(t, []string{"docs/2024/report.txt"}, mf.saved())
}

func TestFailedSaveRollsBack(t *testing.T) {
	idx, mf := newTestIndex(t, IndexOptions{})
	ctx := context.Background()
	require.NoError(t, idx.Insert(ctx, file("keep.txt", 3, "t")))

	diskFull := errors.New("disk full")
	mf.fail(diskFull)

	assert.ErrorIs(t, idx.Insert(ctx, file("new.txt", 1)), diskFull)
	_, err := idx.Update(ctx, "keep.txt", func(md *FileMetadata) error {
		md.Tags = []string{"changed"}
		return nil
	})
	assert.ErrorIs(t, err, diskFull)
	_, err = idx.Rename(ctx, "keep.txt", "moved.txt")
	assert.ErrorIs(t, err, diskFull)
	_, err = idx.Remove(ctx, "keep.txt")
	assert.ErrorIs(t, err, diskFull)

	all, total := idx.List("", 0, 0)
	assert.Equal(t, 1, total)
	assert.Equal(t, "keep.txt", all[0].Filepath)
	assert.Equal(t, []string{"t"}, all[0].Tags)
}

func TestFlushMode(t *testing.T) {
	idx, mf := newTestIndex(t, IndexOptions{FlushInterval: time.Hour})
	ctx := context.Background()

	require.NoError(t, idx.Insert(ctx, file("a.txt", 1)))
	require.NoError(t, idx.Insert(ctx, file("b.txt", 1)))
	assert.Empty(t, mf.saved(), "nothing written until flush")

	// Reads observe memory, not the manifest
	_, total := idx.List("", 0, 0)
	assert.Equal(t, 2, total)

	require.NoError(t, idx.Flush(ctx))
	assert.Equal(t, []string{"a.txt", "b.txt"}, mf.saved())
	saves := mf.saves
	require.NoError(t, idx.Flush(ctx))
	assert.Equal(t, saves, mf.saves, "clean index does not rewrite")

	_, err := idx.Remove(ctx, "a.txt")
	require.NoError(t, err)
	mf.fail(errors.New("io"))
	require.Error(t, idx.Flush(ctx))
	mf.fail(nil)
	require.NoError(t, idx.Close())
	assert.Equal(t, []string{"b.txt"}, mf.saved())
}

func TestStartFlusherFlushesOnShutdown(t *testing.T) {
	idx, mf := newTestIndex(t, IndexOptions{FlushInterval: time.Hour})
	ctx, cancel := context.WithCancel(context.Background())

	idx.StartFlusher(ctx)
	require.NoError(t, idx.Insert(context.Background(), file("a.txt", 1)))
	cancel()

	assert.Eventually(t, func() bool {
		return len(mf.saved()) == 1
	}, 2*time.Second, 10*time.Millisecond)
}

func TestListDirectory(t *testing.T) {
	idx, _ := newTestIndex(t, IndexOptions{})
	ctx := context.Background()
	for _, p := range []string{"root.txt", "docs/a.txt", "docs/2024/b.txt", "pics/c.png"} {
		require.NoError(t, idx.Insert(ctx, file(p, 1)))
	}

	folders, files := idx.ListDirectory("")
	assert.Equal(t, []string{"docs", "pics"}, folders)
	assert.Equal(t, []string{"root.txt"}, paths(files))

	folders, files = idx.ListDirectory("docs/")
	assert.Equal(t, []string{"2024"}, folders)
	assert.Equal(t, []string{"docs/a.txt"}, paths(files))
}

func TestConcurrentInsertsSamePath(t *testing.T) {
	idx, _ := newTestIndex(t, IndexOptions{})

	var wg sync.WaitGroup
	errs := make(chan error, 20)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs <- idx.Insert(context.Background(), file("same.txt", int64(i)))
		}(i)
	}
	wg.Wait()
	close(errs)

	wins := 0
	for err := range errs {
		if err == nil {
			wins++
			continue
		}
		assert.ErrorIs(t, err, ErrAlreadyExists)
	}
	assert.Equal(t, 1, wins)
}

func TestWrapOp(t *testing.T) {
	assert.NoError(t, WrapOp("put", "a", nil))

	err := WrapOp("put", "a.txt", ErrNotFound)
	assert.ErrorIs(t, err, ErrNotFound)
	assert.Equal(t, "put a.txt: file not found", err.Error())

	var opErr *OpError
	require.ErrorAs(t, err, &opErr)
	assert.Equal(t, "put", opErr.Op)
	assert.Same(t, err, WrapOp("put", "a.txt", err))
}

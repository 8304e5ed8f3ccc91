package localfs

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/ebogdum/cloudfs/backends"
	"github.com/ebogdum/cloudfs/capacity"
	"github.com/ebogdum/cloudfs/metadata"
)

func newTestAdapter(t *testing.T) *LocalFSAdapter {
	t.Helper()
	a, err := NewLocalFSAdapter(t.TempDir(), zaptest.NewLogger(t))
	require.NoError(t, err)
	return a
}

func stageAndCommit(t *testing.T, a *LocalFSAdapter, path, content string) {
	t.Helper()
	up, err := a.Stage(context.Background(), strings.NewReader(content), backends.StageOptions{})
	require.NoError(t, err)
	require.NoError(t, up.Commit(context.Background(), path))
}

func readAll(t *testing.T, a *LocalFSAdapter, path string) string {
	t.Helper()
	rc, err := a.Open(context.Background(), path)
	require.NoError(t, err)
	defer rc.Close()
	data, err := io.ReadAll(rc)
	require.NoError(t, err)
	return string(data)
}

func stagedFiles(t *testing.T, a *LocalFSAdapter) []os.DirEntry {
	t.Helper()
	entries, err := os.ReadDir(a.tempDir)
	require.NoError(t, err)
	return entries
}

func TestStageCommitOpen(t *testing.T) {
	a := newTestAdapter(t)
	ctx := context.Background()

	up, err := a.Stage(ctx, strings.NewReader("hello world"), backends.StageOptions{ChunkSize: 4})
	require.NoError(t, err)
	assert.Equal(t, int64(11), up.Size())
	assert.Equal(t, []byte("hello world"), up.Head())

	// Not visible under its final path until committed
	_, err = a.Open(ctx, "docs/hello.txt")
	require.ErrorIs(t, err, metadata.ErrNotFound)

	require.NoError(t, up.Commit(ctx, "docs/hello.txt"))
	assert.Equal(t, "hello world", readAll(t, a, "docs/hello.txt"))
	assert.Empty(t, stagedFiles(t, a))

	size, err := a.Stat(ctx, "docs/hello.txt")
	require.NoError(t, err)
	assert.Equal(t, int64(11), size)

	// Discard after commit leaves the file alone
	require.NoError(t, up.Discard())
	assert.Equal(t, "hello world", readAll(t, a, "docs/hello.txt"))
}

func TestStageHeadIsBounded(t *testing.T) {
	a := newTestAdapter(t)
	body := bytes.Repeat([]byte("x"), 3000)

	up, err := a.Stage(context.Background(), bytes.NewReader(body), backends.StageOptions{ChunkSize: 100})
	require.NoError(t, err)
	defer up.Discard()

	assert.Len(t, up.Head(), 512)
	assert.Equal(t, int64(3000), up.Size())
}

func TestStageRejectsOversizedBody(t *testing.T) {
	a := newTestAdapter(t)

	_, err := a.Stage(context.Background(), bytes.NewReader(make([]byte, 101)), backends.StageOptions{
		ChunkSize: 10,
		MaxSize:   100,
	})
	require.ErrorIs(t, err, metadata.ErrPayloadTooLarge)
	assert.Empty(t, stagedFiles(t, a), "partial upload must be removed")

	up, err := a.Stage(context.Background(), bytes.NewReader(make([]byte, 100)), backends.StageOptions{
		ChunkSize: 10,
		MaxSize:   100,
	})
	require.NoError(t, err, "exactly the limit is accepted")
	require.NoError(t, up.Discard())
}

func TestStageGrowsQuota(t *testing.T) {
	a := newTestAdapter(t)
	tr, err := capacity.NewTracker(1000, 900)
	require.NoError(t, err)

	res, err := tr.Reserve(10)
	require.NoError(t, err)

	_, err = a.Stage(context.Background(), bytes.NewReader(make([]byte, 200)), backends.StageOptions{
		ChunkSize: 50,
		Quota:     res,
	})
	require.ErrorIs(t, err, metadata.ErrQuotaExceeded)
	assert.Empty(t, stagedFiles(t, a))
	assert.LessOrEqual(t, res.Bytes(), int64(100))

	tr.Release(res)
	assert.Equal(t, int64(900), tr.Used())
	assert.Equal(t, int64(0), tr.Reserved())
}

func TestStageCancelled(t *testing.T) {
	a := newTestAdapter(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := a.Stage(ctx, strings.NewReader("data"), backends.StageOptions{})
	require.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, stagedFiles(t, a))
}

type failingReader struct{}

func (failingReader) Read([]byte) (int, error) {
	return 0, errors.New("connection reset")
}

func TestStageReadError(t *testing.T) {
	a := newTestAdapter(t)

	_, err := a.Stage(context.Background(), io.MultiReader(strings.NewReader("abc"), failingReader{}), backends.StageOptions{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "connection reset")
	assert.Empty(t, stagedFiles(t, a))
}

func TestCommitRefusesExistingDestination(t *testing.T) {
	a := newTestAdapter(t)
	ctx := context.Background()
	stageAndCommit(t, a, "a.txt", "winner")

	up, err := a.Stage(ctx, strings.NewReader("loser"), backends.StageOptions{})
	require.NoError(t, err)
	require.ErrorIs(t, up.Commit(ctx, "a.txt"), metadata.ErrAlreadyExists)
	require.NoError(t, up.Discard())

	assert.Equal(t, "winner", readAll(t, a, "a.txt"))
	assert.Empty(t, stagedFiles(t, a))
}

func TestCommitUnderFileIsConflict(t *testing.T) {
	a := newTestAdapter(t)
	ctx := context.Background()
	stageAndCommit(t, a, "a", "file")

	up, err := a.Stage(ctx, strings.NewReader("nested"), backends.StageOptions{})
	require.NoError(t, err)
	defer up.Discard()
	require.ErrorIs(t, up.Commit(ctx, "a/b"), metadata.ErrAlreadyExists)
}

func TestPathsUnderFile(t *testing.T) {
	a := newTestAdapter(t)
	ctx := context.Background()
	stageAndCommit(t, a, "a", "file")
	stageAndCommit(t, a, "b", "other")

	_, err := a.Open(ctx, "a/b")
	assert.ErrorIs(t, err, metadata.ErrNotFound)
	_, err = a.Stat(ctx, "a/b")
	assert.ErrorIs(t, err, metadata.ErrNotFound)
	assert.ErrorIs(t, a.Delete(ctx, "a/b"), metadata.ErrNotFound)
	assert.ErrorIs(t, a.Move(ctx, "a/b", "c"), metadata.ErrNotFound)

	require.ErrorIs(t, a.Move(ctx, "b", "a/b"), metadata.ErrAlreadyExists)
	assert.Equal(t, "other", readAll(t, a, "b"))
	assert.Equal(t, "file", readAll(t, a, "a"))
}

func TestOpenMissingAndDirectory(t *testing.T) {
	a := newTestAdapter(t)
	ctx := context.Background()
	stageAndCommit(t, a, "dir/file.txt", "x")

	_, err := a.Open(ctx, "missing.txt")
	assert.ErrorIs(t, err, metadata.ErrNotFound)
	_, err = a.Open(ctx, "dir")
	assert.ErrorIs(t, err, metadata.ErrNotFound)
	_, err = a.Stat(ctx, "dir")
	assert.ErrorIs(t, err, metadata.ErrNotFound)
}

func TestDeletePrunesEmptyParents(t *testing.T) {
	a := newTestAdapter(t)
	ctx := context.Background()
	stageAndCommit(t, a, "a/b/c.txt", "c")
	stageAndCommit(t, a, "a/keep.txt", "k")

	require.NoError(t, a.Delete(ctx, "a/b/c.txt"))
	_, err := os.Stat(filepath.Join(a.Root(), "a", "b"))
	assert.True(t, os.IsNotExist(err), "empty parent should be pruned")
	_, err = os.Stat(filepath.Join(a.Root(), "a"))
	assert.NoError(t, err, "non-empty parent must stay")

	assert.ErrorIs(t, a.Delete(ctx, "a/b/c.txt"), metadata.ErrNotFound)
}

func TestMove(t *testing.T) {
	a := newTestAdapter(t)
	ctx := context.Background()
	stageAndCommit(t, a, "docs/report.txt", "report")
	stageAndCommit(t, a, "other.txt", "other")

	require.NoError(t, a.Move(ctx, "docs/report.txt", "docs/2024/report.txt"))
	_, err := a.Open(ctx, "docs/report.txt")
	assert.ErrorIs(t, err, metadata.ErrNotFound)
	assert.Equal(t, "report", readAll(t, a, "docs/2024/report.txt"))

	assert.ErrorIs(t, a.Move(ctx, "docs/2024/report.txt", "other.txt"), metadata.ErrAlreadyExists)
	assert.Equal(t, "report", readAll(t, a, "docs/2024/report.txt"))
	assert.Equal(t, "other", readAll(t, a, "other.txt"))

	assert.ErrorIs(t, a.Move(ctx, "nope.txt", "x.txt"), metadata.ErrNotFound)
}

func TestCopyVerifyDelete(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "src")
	dst := filepath.Join(dir, "dst")
	require.NoError(t, os.WriteFile(src, []byte("payload"), 0644))

	require.NoError(t, copyVerifyDelete(src, dst, 7))
	data, err := os.ReadFile(dst)
	require.NoError(t, err)
	assert.Equal(t, "payload", string(data))
	_, err = os.Stat(src)
	assert.True(t, os.IsNotExist(err))

	require.NoError(t, os.WriteFile(src, []byte("short"), 0644))
	err = copyVerifyDelete(src, filepath.Join(dir, "dst2"), 99)
	require.ErrorIs(t, err, metadata.ErrInconsistency)
	_, err = os.Stat(src)
	assert.NoError(t, err, "source survives a failed verify")
}

func TestWalkSkipsStagingArea(t *testing.T) {
	a := newTestAdapter(t)
	ctx := context.Background()
	stageAndCommit(t, a, "a.txt", "aa")
	stageAndCommit(t, a, "x/y/b.bin", "bbb")

	pending, err := a.Stage(ctx, strings.NewReader("pending"), backends.StageOptions{})
	require.NoError(t, err)
	defer pending.Discard()

	seen := map[string]int64{}
	require.NoError(t, a.Walk(ctx, func(path string, size int64) error {
		seen[path] = size
		return nil
	}))
	assert.Equal(t, map[string]int64{"a.txt": 2, "x/y/b.bin": 3}, seen)
}

func TestNewAdapterClearsStaleUploads(t *testing.T) {
	root := t.TempDir()
	stale := filepath.Join(root, ".uploads", "crashed.part")
	require.NoError(t, os.MkdirAll(filepath.Dir(stale), 0755))
	require.NoError(t, os.WriteFile(stale, []byte("half"), 0644))

	a, err := NewLocalFSAdapter(root, zaptest.NewLogger(t))
	require.NoError(t, err)
	assert.Empty(t, stagedFiles(t, a))
}

func TestLocalPathRejectsEscape(t *testing.T) {
	a := newTestAdapter(t)

	p, err := a.LocalPath("docs/a.txt")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(a.Root(), "docs", "a.txt"), p)

	_, err = a.LocalPath("../outside")
	assert.Error(t, err)
}

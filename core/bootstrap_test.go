package core

import (
	"context"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/ebogdum/cloudfs/config"
	"github.com/ebogdum/cloudfs/metadata"
)

func testConfig(t *testing.T, format string) config.AppConfig {
	t.Helper()
	dir := t.TempDir()
	cfg := config.DefaultAppConfig()
	cfg.Storage.RootPath = filepath.Join(dir, "files")
	cfg.Storage.Capacity = "1MB"
	cfg.Storage.MaxFileSize = "100KB"
	cfg.Manifest.Format = format
	cfg.Manifest.Path = filepath.Join(dir, "metadata."+format)
	cfg.Thumbnails.FFmpegPath = "definitely-not-ffmpeg"
	return cfg
}

func TestOpenPersistsAcrossRestarts(t *testing.T) {
	for _, format := range []string{"json", "sqlite"} {
		t.Run(format, func(t *testing.T) {
			cfg := testConfig(t, format)
			logger := zaptest.NewLogger(t)
			ctx := context.Background()

			engine, err := Open(ctx, cfg, logger)
			require.NoError(t, err)
			_, err = engine.PutFile(ctx, "a/b.txt", strings.NewReader("hello"), PutOptions{DeclaredSize: 5, Tags: []string{"x"}})
			require.NoError(t, err)
			require.NoError(t, engine.Close())

			reopened, err := Open(ctx, cfg, logger)
			require.NoError(t, err)
			defer reopened.Close()

			usage := reopened.Usage()
			assert.Equal(t, int64(5), usage.UsedBytes, "usage is rebuilt from the index")
			assert.Equal(t, int64(1_000_000), usage.CapacityBytes)
			assert.Equal(t, 1, usage.FileCount)

			files, total, err := reopened.ListFiles(ctx, ListOptions{Tag: "x"})
			require.NoError(t, err)
			require.Equal(t, 1, total)
			assert.Equal(t, "a/b.txt", files[0].Filepath)

			report, err := reopened.Reconcile(ctx)
			require.NoError(t, err)
			assert.True(t, report.Consistent())
		})
	}
}

func TestOpenAppliesLimits(t *testing.T) {
	cfg := testConfig(t, "json")
	engine, err := Open(context.Background(), cfg, zaptest.NewLogger(t))
	require.NoError(t, err)
	defer engine.Close()

	assert.Equal(t, int64(100_000), engine.limits.MaxFileSize)
	assert.Equal(t, 8192, engine.limits.ChunkSize)
	assert.Equal(t, 10, engine.limits.MaxTagsPerFile)

	_, err = engine.PutFile(context.Background(), "big", strings.NewReader(strings.Repeat("x", 100_001)), PutOptions{DeclaredSize: -1})
	assert.ErrorIs(t, err, metadata.ErrPayloadTooLarge)
}

func TestOpenRejectsUnknownManifestFormat(t *testing.T) {
	cfg := testConfig(t, "json")
	cfg.Manifest.Format = "xml"
	_, err := Open(context.Background(), cfg, zaptest.NewLogger(t))
	assert.Error(t, err)
}

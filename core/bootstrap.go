package core

import (
	"context"
	"fmt"

	"github.com/dustin/go-humanize"
	"go.uber.org/zap"

	"github.com/ebogdum/cloudfs/backends/localfs"
	"github.com/ebogdum/cloudfs/capacity"
	"github.com/ebogdum/cloudfs/config"
	"github.com/ebogdum/cloudfs/metadata"
	"github.com/ebogdum/cloudfs/metadata/jsonfile"
	"github.com/ebogdum/cloudfs/metadata/sqlite"
	"github.com/ebogdum/cloudfs/thumbnails"
)

// Open assembles an engine from configuration: manifest, index, byte store,
// capacity tracker and thumbnail generator. The manifest flusher, when configured,
// runs until ctx is done.
func Open(ctx context.Context, cfg config.AppConfig, logger *zap.Logger) (*Engine, error) {
	capacityBytes, err := cfg.Storage.CapacityBytes()
	if err != nil {
		return nil, err
	}
	chunkSize, err := cfg.Storage.ChunkSizeBytes()
	if err != nil {
		return nil, err
	}
	maxFileSize, err := cfg.Storage.MaxFileSizeBytes()
	if err != nil {
		return nil, err
	}

	manifest, err := openManifest(cfg.Manifest, logger)
	if err != nil {
		return nil, err
	}

	index, err := metadata.NewIndex(ctx, manifest, metadata.IndexOptions{
		DefaultLimit:  cfg.Pagination.DefaultLimit,
		MaxLimit:      cfg.Pagination.MaxLimit,
		FlushInterval: cfg.Manifest.FlushInterval,
	}, logger)
	if err != nil {
		_ = manifest.Close()
		return nil, fmt.Errorf("failed to load metadata index: %w", err)
	}

	storage, err := localfs.NewLocalFSAdapter(cfg.Storage.RootPath, logger)
	if err != nil {
		_ = index.Close()
		return nil, fmt.Errorf("failed to initialize byte store: %w", err)
	}

	// Usage comes from the index; the byte store never invents metadata
	used := index.TotalSize()
	tracker, err := capacity.NewTracker(capacityBytes, used)
	if err != nil {
		_ = index.Close()
		return nil, err
	}
	if used > capacityBytes {
		logger.Warn("Stored files exceed the configured capacity; uploads will be rejected",
			zap.String("used", humanize.Bytes(uint64(used))),
			zap.String("capacity", humanize.Bytes(uint64(capacityBytes))))
	}

	var thumbs *thumbnails.Generator
	if cfg.Thumbnails.Enabled {
		opts := thumbnails.Options{
			Width:     cfg.Thumbnails.Width,
			Height:    cfg.Thumbnails.Height,
			Quality:   cfg.Thumbnails.Quality,
			CacheSize: cfg.Thumbnails.CacheSize,
			CacheTTL:  cfg.Thumbnails.CacheTTL,
		}
		if extractor := thumbnails.NewFFmpegExtractor(cfg.Thumbnails.FFmpegPath, cfg.Thumbnails.FFmpegTimeout); extractor != nil {
			opts.Extractor = extractor
		} else {
			logger.Warn("ffmpeg not found; video thumbnails disabled", zap.String("ffmpeg_path", cfg.Thumbnails.FFmpegPath))
		}
		thumbs = thumbnails.NewGenerator(opts, logger)
	}

	index.StartFlusher(ctx)

	logger.Info("Storage engine ready",
		zap.String("root", storage.Root()),
		zap.Int("files", index.Len()),
		zap.String("used", humanize.Bytes(uint64(used))),
		zap.String("capacity", humanize.Bytes(uint64(capacityBytes))),
		zap.String("max_file_size", humanize.Bytes(uint64(maxFileSize))))

	return NewEngine(index, storage, tracker, thumbs, Limits{
		ChunkSize:      chunkSize,
		MaxFileSize:    maxFileSize,
		MaxTagsPerFile: cfg.Storage.MaxTagsPerFile,
		MaxTagLength:   cfg.Storage.MaxTagLength,
	}, logger), nil
}

func openManifest(cfg config.ManifestConfig, logger *zap.Logger) (metadata.Manifest, error) {
	switch cfg.Format {
	case "", "json":
		return jsonfile.NewManifest(cfg.Path)
	case "sqlite":
		return sqlite.NewSQLiteManifest(cfg.Path, logger)
	default:
		return nil, fmt.Errorf("unsupported manifest format %q", cfg.Format)
	}
}

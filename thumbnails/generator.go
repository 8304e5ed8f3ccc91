// Package thumbnails renders small JPEG previews of stored images and videos.
package thumbnails

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/jpeg"
	"io"
	"os"
	"strings"
	"time"

	// Decoders for the formats browsers commonly upload
	_ "image/gif"
	_ "image/png"

	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/webp"

	"go.uber.org/zap"
	"golang.org/x/image/draw"
	"golang.org/x/sync/singleflight"
)

// ErrUnsupported is returned for MIME types that have no preview
var ErrUnsupported = errors.New("thumbnail not supported for this file type")

// MaxImagePixels bounds width x height of a source image; larger headers are
// refused before any pixel buffer is allocated
const MaxImagePixels = 89_478_485

// ErrImageTooLarge is returned for images above MaxImagePixels. It matches ErrUnsupported.
var ErrImageTooLarge = fmt.Errorf("image exceeds %d pixels: %w", MaxImagePixels, ErrUnsupported)

// Defaults used when Options leaves a field unset
const (
	DefaultWidth   = 200
	DefaultHeight  = 200
	DefaultQuality = 85
	videoFrameAt   = time.Second
)

// Source identifies the committed bytes to preview
type Source struct {
	Path      string
	MimeType  string
	UpdatedAt time.Time
	// LocalPath is the on-disk location of the committed bytes
	LocalPath string
}

// FrameExtractor pulls a still frame out of a video file
type FrameExtractor interface {
	ExtractFrame(ctx context.Context, localPath string, at time.Duration) (image.Image, error)
}

// Options configures a Generator
type Options struct {
	Width     int
	Height    int
	Quality   int
	CacheSize int
	CacheTTL  time.Duration
	Extractor FrameExtractor
}

// Generator renders and caches thumbnails. It only reads committed files and holds
// no engine locks.
type Generator struct {
	width     int
	height    int
	quality   int
	cache     *Cache
	extractor FrameExtractor
	group     singleflight.Group
	logger    *zap.Logger
}

// NewGenerator creates a thumbnail generator
func NewGenerator(opts Options, logger *zap.Logger) *Generator {
	if opts.Width <= 0 {
		opts.Width = DefaultWidth
	}
	if opts.Height <= 0 {
		opts.Height = DefaultHeight
	}
	if opts.Quality <= 0 || opts.Quality > 100 {
		opts.Quality = DefaultQuality
	}

	logger.Info("Initialized thumbnail generator",
		zap.Int("width", opts.Width),
		zap.Int("height", opts.Height),
		zap.Int("cache_size", opts.CacheSize))

	return &Generator{
		width:     opts.Width,
		height:    opts.Height,
		quality:   opts.Quality,
		cache:     NewCache(opts.CacheTTL, opts.CacheSize),
		extractor: opts.Extractor,
		logger:    logger,
	}
}

// Supported reports whether mimeType has a preview
func (g *Generator) Supported(mimeType string) bool {
	switch {
	case strings.HasPrefix(mimeType, "image/"):
		return true
	case strings.HasPrefix(mimeType, "video/"):
		return g.extractor != nil
	}
	return false
}

// Thumbnail returns the JPEG preview for src, generating it once per file version
func (g *Generator) Thumbnail(ctx context.Context, src Source) ([]byte, error) {
	if !g.Supported(src.MimeType) {
		return nil, ErrUnsupported
	}

	key := CacheKey(src.Path, src.UpdatedAt)
	if data, ok := g.cache.Get(key); ok {
		return data, nil
	}

	v, err, shared := g.group.Do(key, func() (interface{}, error) {
		data, err := g.render(ctx, src)
		if err != nil {
			return nil, err
		}
		g.cache.Set(key, data)
		return data, nil
	})
	if err != nil {
		g.logger.Warn("Failed to generate thumbnail",
			zap.String("path", src.Path),
			zap.String("mime_type", src.MimeType),
			zap.Error(err))
		return nil, err
	}
	if shared {
		g.logger.Debug("Shared thumbnail generation", zap.String("path", src.Path))
	}

	return v.([]byte), nil
}

// Close stops the cache janitor
func (g *Generator) Close() {
	g.cache.Stop()
}

func (g *Generator) render(ctx context.Context, src Source) ([]byte, error) {
	var img image.Image
	var err error

	if strings.HasPrefix(src.MimeType, "video/") {
		img, err = g.videoFrame(ctx, src.LocalPath)
	} else {
		img, err = decodeFile(src.LocalPath)
	}
	if err != nil {
		return nil, err
	}

	return g.encode(img)
}

// videoFrame extracts the frame at one second, falling back to the first frame for
// clips shorter than that
func (g *Generator) videoFrame(ctx context.Context, localPath string) (image.Image, error) {
	img, err := g.extractor.ExtractFrame(ctx, localPath, videoFrameAt)
	if err == nil {
		return img, nil
	}
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}

	g.logger.Debug("No frame at 1s, using first frame", zap.Error(err))
	return g.extractor.ExtractFrame(ctx, localPath, 0)
}

func decodeFile(localPath string) (image.Image, error) {
	f, err := os.Open(localPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open image: %w", err)
	}
	defer f.Close()

	return decodeBounded(f)
}

// decodeBounded reads the image header first and decodes only images within
// MaxImagePixels
func decodeBounded(r io.ReadSeeker) (image.Image, error) {
	cfg, _, err := image.DecodeConfig(r)
	if err != nil {
		return nil, fmt.Errorf("failed to decode image: %w", err)
	}
	if int64(cfg.Width)*int64(cfg.Height) > MaxImagePixels {
		return nil, fmt.Errorf("%dx%d: %w", cfg.Width, cfg.Height, ErrImageTooLarge)
	}

	if _, err := r.Seek(0, io.SeekStart); err != nil {
		return nil, fmt.Errorf("failed to rewind image: %w", err)
	}
	img, _, err := image.Decode(r)
	if err != nil {
		return nil, fmt.Errorf("failed to decode image: %w", err)
	}
	return img, nil
}

// encode flattens img onto white, fits it inside the configured box without
// enlarging it and encodes it as JPEG
func (g *Generator) encode(img image.Image) ([]byte, error) {
	bounds := img.Bounds()
	w, h := fitWithin(bounds.Dx(), bounds.Dy(), g.width, g.height)

	flat := image.NewRGBA(bounds)
	draw.Draw(flat, bounds, image.NewUniform(color.White), image.Point{}, draw.Src)
	draw.Draw(flat, bounds, img, bounds.Min, draw.Over)

	var out image.Image = flat
	if w != bounds.Dx() || h != bounds.Dy() {
		dst := image.NewRGBA(image.Rect(0, 0, w, h))
		draw.CatmullRom.Scale(dst, dst.Bounds(), flat, bounds, draw.Src, nil)
		out = dst
	}

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, out, &jpeg.Options{Quality: g.quality}); err != nil {
		return nil, fmt.Errorf("failed to encode thumbnail: %w", err)
	}
	return buf.Bytes(), nil
}

// fitWithin scales w x h down to fit maxW x maxH keeping the aspect ratio
func fitWithin(w, h, maxW, maxH int) (int, int) {
	if w <= 0 || h <= 0 {
		return 1, 1
	}
	if w <= maxW && h <= maxH {
		return w, h
	}

	scale := float64(maxW) / float64(w)
	if s := float64(maxH) / float64(h); s < scale {
		scale = s
	}

	nw := int(float64(w)*scale + 0.5)
	nh := int(float64(h)*scale + 0.5)
	if nw < 1 {
		nw = 1
	}
	if nh < 1 {
		nh = 1
	}
	return nw, nh
}

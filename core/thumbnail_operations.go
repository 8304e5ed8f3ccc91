package core

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"time"

	"github.com/ebogdum/cloudfs/internal/pathutil"
	"github.com/ebogdum/cloudfs/metadata"
	"github.com/ebogdum/cloudfs/thumbnails"
)

// thumbnailAttempts bounds how often generation is retried when a rename moves the
// bytes away between the index lookup and the read
const thumbnailAttempts = 3

// Thumbnail returns a JPEG preview of an image or video file. Other types fail with
// thumbnails.ErrUnsupported. Generation reads committed bytes without the commit lock.
func (e *Engine) Thumbnail(ctx context.Context, rawPath string) (data []byte, err error) {
	defer e.observe("thumbnail", time.Now(), &err)

	p, err := pathutil.Normalize(rawPath)
	if err != nil {
		return nil, metadata.WrapOp("thumbnail", rawPath, err)
	}

	for attempt := 1; ; attempt++ {
		data, err = e.thumbnailOnce(ctx, p)
		if err == nil || !errors.Is(err, fs.ErrNotExist) {
			return data, metadata.WrapOp("thumbnail", p, err)
		}
		if attempt == thumbnailAttempts {
			return nil, metadata.WrapOp("thumbnail", p, fmt.Errorf("file moved during read: %w", metadata.ErrNotFound))
		}
		if err := e.settledMissing(ctx, "thumbnail", p); err != nil {
			return nil, metadata.WrapOp("thumbnail", p, err)
		}
	}
}

func (e *Engine) thumbnailOnce(ctx context.Context, p string) ([]byte, error) {
	md, err := e.index.Get(p)
	if err != nil {
		return nil, err
	}

	if e.thumbnails == nil || !e.thumbnails.Supported(md.MimeType) {
		return nil, thumbnails.ErrUnsupported
	}

	localPath, err := e.storage.LocalPath(p)
	if err != nil {
		return nil, err
	}

	return e.thumbnails.Thumbnail(ctx, thumbnails.Source{
		Path:      p,
		MimeType:  md.MimeType,
		UpdatedAt: md.UpdatedAt,
		LocalPath: localPath,
	})
}

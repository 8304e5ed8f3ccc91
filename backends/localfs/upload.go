package localfs

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ebogdum/cloudfs/backends"
	"github.com/ebogdum/cloudfs/internal/pathutil"
	"github.com/ebogdum/cloudfs/metadata"
)

const sniffLen = 512

// stagedUpload is a body received into a temporary file. It is either committed
// with a rename into its final path or discarded; readers never see it half-written.
type stagedUpload struct {
	adapter *LocalFSAdapter
	tmpPath string
	size    int64
	head    []byte

	mu        sync.Mutex
	committed bool
	discarded bool
}

// Stage streams r into a temporary file in ChunkSize steps. Before each chunk is
// written, the running total is checked against MaxSize and the quota reservation
// is grown to cover it, so an oversized or over-quota body is rejected before its
// final byte lands and the partial file is removed.
func (a *LocalFSAdapter) Stage(ctx context.Context, r io.Reader, opts backends.StageOptions) (backends.Upload, error) {
	chunkSize := opts.ChunkSize
	if chunkSize <= 0 {
		chunkSize = backends.DefaultChunkSize
	}

	tmpPath := filepath.Join(a.tempDir, uuid.NewString()+".part")
	file, err := os.OpenFile(tmpPath, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to create staging file: %w", err)
	}

	u := &stagedUpload{adapter: a, tmpPath: tmpPath}
	if err := u.fill(ctx, file, r, chunkSize, opts); err != nil {
		file.Close()
		os.Remove(tmpPath)
		return nil, err
	}

	if err := file.Sync(); err != nil {
		file.Close()
		os.Remove(tmpPath)
		return nil, fmt.Errorf("failed to sync staging file: %w", err)
	}
	if err := file.Close(); err != nil {
		os.Remove(tmpPath)
		return nil, fmt.Errorf("failed to close staging file: %w", err)
	}

	a.logger.Debug("Upload staged", zap.String("tmp", filepath.Base(tmpPath)), zap.Int64("size", u.size))
	return u, nil
}

func (u *stagedUpload) fill(ctx context.Context, dst io.Writer, src io.Reader, chunkSize int, opts backends.StageOptions) error {
	buf := make([]byte, chunkSize)

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		n, readErr := src.Read(buf)
		if n > 0 {
			next := u.size + int64(n)
			if opts.MaxSize > 0 && next > opts.MaxSize {
				return fmt.Errorf("upload exceeds %d bytes: %w", opts.MaxSize, metadata.ErrPayloadTooLarge)
			}
			if opts.Quota != nil {
				if short := next - opts.Quota.Bytes(); short > 0 {
					if err := opts.Quota.Grow(short); err != nil {
						return err
					}
				}
			}

			if len(u.head) < sniffLen {
				take := sniffLen - len(u.head)
				if take > n {
					take = n
				}
				u.head = append(u.head, buf[:take]...)
			}

			if _, err := dst.Write(buf[:n]); err != nil {
				return fmt.Errorf("failed to write upload chunk: %w", err)
			}
			u.size = next
		}

		if readErr != nil {
			if errors.Is(readErr, io.EOF) {
				return nil
			}
			return fmt.Errorf("failed to read upload body: %w", readErr)
		}
	}
}

func (u *stagedUpload) Size() int64 {
	return u.size
}

func (u *stagedUpload) Head() []byte {
	return u.head
}

// Commit renames the staged file to path, creating parent directories
func (u *stagedUpload) Commit(ctx context.Context, path string) error {
	u.mu.Lock()
	defer u.mu.Unlock()

	if u.committed || u.discarded {
		return fmt.Errorf("upload already finalized")
	}

	dst, err := pathutil.SafeJoin(u.adapter.rootPath, path)
	if err != nil {
		return err
	}

	if err := u.adapter.placeAt(u.tmpPath, dst); err != nil {
		if errors.Is(err, metadata.ErrAlreadyExists) {
			return err
		}
		return fmt.Errorf("failed to commit upload: %w", err)
	}

	u.committed = true
	return nil
}

// Discard removes the staged file unless it was committed
func (u *stagedUpload) Discard() error {
	u.mu.Lock()
	defer u.mu.Unlock()

	if u.committed || u.discarded {
		return nil
	}
	u.discarded = true

	if err := os.Remove(u.tmpPath); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("failed to discard staged upload: %w", err)
	}
	return nil
}

package core

import (
	"context"
	"time"

	"github.com/ebogdum/cloudfs/internal/pathutil"
	"github.com/ebogdum/cloudfs/metadata"
)

// Directory is the virtual directory view at a prefix
type Directory struct {
	Path    string                   `json:"path"`
	Folders []string                 `json:"folders"`
	Files   []*metadata.FileMetadata `json:"files"`
}

// ListDirectory lists the immediate sub-folders and files under prefix. Folders are
// derived from file paths; a prefix no file lives under is NotFound, except the root.
func (e *Engine) ListDirectory(ctx context.Context, prefix string) (dir *Directory, err error) {
	defer e.observe("list_directory", time.Now(), &err)

	p, err := pathutil.NormalizePrefix(prefix)
	if err != nil {
		return nil, metadata.WrapOp("list_directory", prefix, err)
	}

	folders, files := e.index.ListDirectory(p)
	if p != "" && len(folders) == 0 && len(files) == 0 {
		return nil, metadata.WrapOp("list_directory", p, metadata.ErrNotFound)
	}

	return &Directory{Path: p, Folders: folders, Files: files}, nil
}

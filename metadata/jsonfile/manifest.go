// Package jsonfile persists the metadata manifest as a single JSON document that is
// replaced atomically (temp file, fsync, rename) on every save.
package jsonfile

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/ebogdum/cloudfs/metadata"
)

// Manifest implements metadata.Manifest on top of a JSON file
type Manifest struct {
	path string
}

// NewManifest creates a JSON manifest at path, creating its parent directory
func NewManifest(path string) (*Manifest, error) {
	if path == "" {
		return nil, fmt.Errorf("manifest path is required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create manifest directory: %w", err)
	}
	return &Manifest{path: path}, nil
}

// Path returns the manifest file location
func (m *Manifest) Path() string {
	return m.path
}

// Load reads the manifest. A missing file is an empty manifest.
func (m *Manifest) Load(ctx context.Context) ([]*metadata.FileMetadata, error) {
	data, err := os.ReadFile(m.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return []*metadata.FileMetadata{}, nil
		}
		return nil, fmt.Errorf("failed to read manifest %s: %w", m.path, err)
	}

	var doc map[string]*metadata.FileMetadata
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to parse manifest %s: %w", m.path, err)
	}

	entries := make([]*metadata.FileMetadata, 0, len(doc))
	for key, md := range doc {
		if md == nil {
			continue
		}
		if md.Filepath == "" {
			md.Filepath = key
		}
		if md.Filepath != key {
			return nil, fmt.Errorf("manifest key %q does not match filepath %q: %w", key, md.Filepath, metadata.ErrInconsistency)
		}
		if md.Tags == nil {
			md.Tags = []string{}
		}
		entries = append(entries, md)
	}
	sort.Slice(entries, func(a, b int) bool {
		return entries[a].Filepath < entries[b].Filepath
	})

	return entries, nil
}

// Save writes entries to a temporary file next to the manifest and renames it over
// the previous version, so a crash leaves either the old or the new manifest.
func (m *Manifest) Save(ctx context.Context, entries []*metadata.FileMetadata) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	doc := make(map[string]*metadata.FileMetadata, len(entries))
	for _, md := range entries {
		doc[md.Filepath] = md
	}

	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode manifest: %w", err)
	}

	tmpPath := m.path + ".tmp"
	tmp, err := os.OpenFile(tmpPath, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0644)
	if err != nil {
		return fmt.Errorf("failed to create temporary manifest: %w", err)
	}

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("failed to write temporary manifest: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("failed to sync temporary manifest: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to close temporary manifest: %w", err)
	}

	if err := os.Rename(tmpPath, m.path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to replace manifest: %w", err)
	}

	syncDir(filepath.Dir(m.path))
	return nil
}

// Close is a no-op for file manifests
func (m *Manifest) Close() error {
	return nil
}

// syncDir makes the rename durable where the platform allows fsync on directories
func syncDir(dir string) {
	d, err := os.Open(dir)
	if err != nil {
		return
	}
	_ = d.Sync()
	_ = d.Close()
}

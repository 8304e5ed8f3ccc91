// Package pathutil provides virtual path normalization, tag validation and secure
// joining of virtual paths onto the storage root.
package pathutil

import (
	"fmt"
	"path/filepath"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/ebogdum/cloudfs/metadata"
)

// MaxPathLength bounds the byte length of a normalized virtual path
const MaxPathLength = 1024

// ReservedPrefix is the storage-root directory used for in-flight uploads. Virtual
// paths may not start with it.
const ReservedPrefix = ".uploads"

// Normalize validates a virtual file path and returns its canonical form:
// forward-slash separated, no leading slash, no "." or ".." segments, no empty
// segments. A single trailing slash is tolerated and dropped.
//
// It rejects empty and absolute paths, ".." segments, control characters,
// backslashes, invalid UTF-8 and paths longer than MaxPathLength.
func Normalize(path string) (string, error) {
	if path == "" {
		return "", fmt.Errorf("path cannot be empty: %w", metadata.ErrInvalidPath)
	}
	if strings.HasPrefix(path, "/") || filepath.IsAbs(path) {
		return "", fmt.Errorf("absolute paths are not allowed: %w", metadata.ErrInvalidPath)
	}
	if !utf8.ValidString(path) {
		return "", fmt.Errorf("path is not valid UTF-8: %w", metadata.ErrInvalidPath)
	}

	// Check for null bytes and other control characters
	for i, r := range path {
		if unicode.IsControl(r) {
			return "", fmt.Errorf("control character at position %d: %w", i, metadata.ErrInvalidPath)
		}
		if r == '\\' {
			return "", fmt.Errorf("backslash at position %d: %w", i, metadata.ErrInvalidPath)
		}
	}

	trimmed := strings.TrimSuffix(path, "/")
	parts := strings.Split(trimmed, "/")
	kept := make([]string, 0, len(parts))
	for _, part := range parts {
		switch part {
		case "":
			return "", fmt.Errorf("empty path segment: %w", metadata.ErrInvalidPath)
		case ".":
			continue
		case "..":
			return "", fmt.Errorf("parent directory references are not allowed: %w", metadata.ErrInvalidPath)
		}
		if strings.TrimSpace(part) == "" {
			return "", fmt.Errorf("blank path segment: %w", metadata.ErrInvalidPath)
		}
		kept = append(kept, part)
	}

	if len(kept) == 0 {
		return "", fmt.Errorf("path has no segments: %w", metadata.ErrInvalidPath)
	}
	if kept[0] == ReservedPrefix {
		return "", fmt.Errorf("%s is reserved: %w", ReservedPrefix, metadata.ErrInvalidPath)
	}

	normalized := strings.Join(kept, "/")
	if len(normalized) > MaxPathLength {
		return "", fmt.Errorf("path exceeds %d bytes: %w", MaxPathLength, metadata.ErrInvalidPath)
	}

	return normalized, nil
}

// NormalizePrefix normalizes a directory prefix. Unlike Normalize an empty prefix
// (or "/") is valid and means the root.
func NormalizePrefix(prefix string) (string, error) {
	prefix = strings.Trim(prefix, "/")
	if prefix == "" || prefix == "." {
		return "", nil
	}
	return Normalize(prefix)
}

// ValidateTags checks a tag set against the per-file limits. Tags must be
// non-empty, not pure whitespace and at most maxLength runes long; the set may hold
// at most maxCount entries. Tags are compared exactly and never trimmed.
func ValidateTags(tags []string, maxCount, maxLength int) error {
	if maxCount >= 0 && len(tags) > maxCount {
		return fmt.Errorf("%d tags exceeds the limit of %d: %w", len(tags), maxCount, metadata.ErrInvalidTag)
	}

	for _, tag := range tags {
		if err := ValidateTag(tag, maxLength); err != nil {
			return err
		}
	}
	return nil
}

// ValidateTag checks a single tag
func ValidateTag(tag string, maxLength int) error {
	if tag == "" {
		return fmt.Errorf("tag cannot be empty: %w", metadata.ErrInvalidTag)
	}
	if strings.TrimSpace(tag) == "" {
		return fmt.Errorf("tag cannot be whitespace only: %w", metadata.ErrInvalidTag)
	}
	if !utf8.ValidString(tag) {
		return fmt.Errorf("tag is not valid UTF-8: %w", metadata.ErrInvalidTag)
	}
	if maxLength > 0 && utf8.RuneCountInString(tag) > maxLength {
		return fmt.Errorf("tag %q exceeds %d characters: %w", tag, maxLength, metadata.ErrInvalidTag)
	}
	for _, r := range tag {
		if unicode.IsControl(r) {
			return fmt.Errorf("tag %q contains control characters: %w", tag, metadata.ErrInvalidTag)
		}
	}
	return nil
}

// SafeJoin joins a normalized virtual path onto root, ensuring the result stays
// within the root directory boundary, including through symlinked parents.
func SafeJoin(root, rel string) (string, error) {
	cleanRoot := filepath.Clean(root)

	normalized, err := Normalize(rel)
	if err != nil {
		return "", err
	}

	joined := filepath.Join(cleanRoot, filepath.FromSlash(normalized))

	resolved, err := filepath.EvalSymlinks(joined)
	if err != nil {
		// File might not exist yet; check the deepest existing parent instead
		dir := filepath.Dir(joined)
		for dir != cleanRoot && dir != "." && dir != string(filepath.Separator) {
			resolvedDir, dirErr := filepath.EvalSymlinks(dir)
			if dirErr == nil {
				if !within(cleanRoot, resolvedDir) {
					return "", metadata.ErrInvalidPath
				}
				break
			}
			dir = filepath.Dir(dir)
		}
		if !within(cleanRoot, joined) {
			return "", metadata.ErrInvalidPath
		}
		return joined, nil
	}

	if !within(cleanRoot, resolved) {
		return "", metadata.ErrInvalidPath
	}
	return joined, nil
}

// within reports whether target lies inside root. root itself is resolved so a
// symlinked storage root does not trip the check.
func within(root, target string) bool {
	if resolvedRoot, err := filepath.EvalSymlinks(root); err == nil {
		if rel, err := filepath.Rel(resolvedRoot, target); err == nil && rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
			return true
		}
	}
	rel, err := filepath.Rel(root, target)
	if err != nil {
		return false
	}
	return rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}

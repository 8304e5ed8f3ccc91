package localfs

import (
	"errors"
	"io/fs"
	"syscall"
)

// isNotDir reports whether a path component that must be a directory is a file
func isNotDir(err error) bool {
	return errors.Is(err, syscall.ENOTDIR)
}

// isMissing reports whether nothing can exist at the path, either because it is
// absent or because one of its parents is a regular file
func isMissing(err error) bool {
	return errors.Is(err, fs.ErrNotExist) || isNotDir(err)
}

// isCrossDevice reports whether a rename failed because source and destination
// live on different filesystems
func isCrossDevice(err error) bool {
	return errors.Is(err, syscall.EXDEV)
}

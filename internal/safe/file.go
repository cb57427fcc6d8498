// Package safe holds checked conversions and guarded file access.
package safe

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// DefaultMaxFileSize caps ReadFile when no limit is given.
const DefaultMaxFileSize = 1 << 20

// ReadFileOptions configures ReadFile.
type ReadFileOptions struct {
	// MaxSize is the largest accepted file in bytes. Zero means DefaultMaxFileSize.
	MaxSize int64
	// AllowSymlinks lets the final path component be a symlink.
	AllowSymlinks bool
}

// ReadFile reads a regular file of bounded size. The checks run against the
// opened descriptor, so the file cannot be swapped between check and read; a
// file that grows past the limit while being read is rejected too.
func ReadFile(path string, opts *ReadFileOptions) ([]byte, error) {
	if opts == nil {
		opts = &ReadFileOptions{}
	}
	limit := opts.MaxSize
	if limit <= 0 {
		limit = DefaultMaxFileSize
	}

	clean := filepath.Clean(path)
	if !opts.AllowSymlinks {
		info, err := os.Lstat(clean)
		if err != nil {
			return nil, err
		}
		if info.Mode()&os.ModeSymlink != 0 {
			return nil, fmt.Errorf("file %q is a symlink, which is not allowed", path)
		}
	}

	f, err := os.Open(clean) //nolint:gosec // G304: caller-chosen path, checked below.
	if err != nil {
		return nil, err
	}
	defer f.Close() // nolint:errcheck

	info, err := f.Stat()
	if err != nil {
		return nil, err
	}
	if !info.Mode().IsRegular() {
		return nil, fmt.Errorf("path %q is not a regular file", path)
	}
	if info.Size() > limit {
		return nil, fmt.Errorf("file %q is %d bytes, limit is %d", path, info.Size(), limit)
	}

	data, err := io.ReadAll(io.LimitReader(f, limit+1))
	if err != nil {
		return nil, fmt.Errorf("failed to read %q: %w", path, err)
	}
	if int64(len(data)) > limit {
		return nil, fmt.Errorf("file %q grew past the %d byte limit", path, limit)
	}
	return data, nil
}

package recorder

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
)

// FileStorage is the default Storage backend: plain local files under a
// root directory, one subdirectory tree per stream/session path prefix.
// No object-storage SDK appears anywhere in the pack for this concern —
// original_source's opendal::Operator abstracts over many backends, but
// this module only needs the one the cluster actually runs against, and
// none of the example repos import an S3/GCS/Azure client — so this
// stays on the standard library, per the DESIGN.md standard-library
// justification requirement.
type FileStorage struct {
	root string
}

// NewFileStorage builds a FileStorage rooted at dir, creating it if
// necessary.
func NewFileStorage(dir string) (*FileStorage, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create storage root %s: %w", dir, err)
	}
	return &FileStorage{root: dir}, nil
}

// WriteFile implements Storage: path is joined under root and any missing
// parent directories are created, matching the segmenter's expectation
// that a stream's first segment can create its own directory tree.
func (fs *FileStorage) WriteFile(ctx context.Context, path string, data []byte) error {
	full := filepath.Join(fs.root, filepath.Clean("/"+path))
	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		return fmt.Errorf("create directory for %s: %w", path, err)
	}
	if err := os.WriteFile(full, data, 0o644); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	return nil
}

// Package storage persists uploaded blobs — chat attachments and meeting
// recordings — to a local directory. No object-storage SDK appears
// anywhere in the retrieval pack to ground a cloud-backed implementation
// on, so this stays a thin wrapper over os/io; see DESIGN.md.
package storage

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/google/uuid"
)

// FileStore saves blobs under baseDir/<category>/<id>_<filename>.
type FileStore struct {
	baseDir string
}

// NewFileStore creates baseDir (and its category subdirectories on demand)
// and returns a FileStore rooted there.
func NewFileStore(baseDir string) (*FileStore, error) {
	if err := os.MkdirAll(baseDir, 0o755); err != nil {
		return nil, fmt.Errorf("create upload directory: %w", err)
	}
	return &FileStore{baseDir: baseDir}, nil
}

// Save streams r to disk under category, returning a relative URL path
// suitable for serving back via the same process's static file route, and
// the number of bytes written.
func (f *FileStore) Save(ctx context.Context, category, filename string, r io.Reader) (url string, sizeBytes int64, err error) {
	dir := filepath.Join(f.baseDir, category)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", 0, fmt.Errorf("create category directory: %w", err)
	}

	id := uuid.NewString()
	storedName := id + "_" + filepath.Base(filename)
	dest := filepath.Join(dir, storedName)

	out, err := os.Create(dest)
	if err != nil {
		return "", 0, fmt.Errorf("create upload file: %w", err)
	}
	defer out.Close()

	n, err := io.Copy(out, r)
	if err != nil {
		return "", 0, fmt.Errorf("write upload file: %w", err)
	}

	return fmt.Sprintf("/uploads/%s/%s", category, storedName), n, nil
}

// Root exposes the base directory so the caller can mount it as a static
// file route (e.g. router.Static("/uploads", store.Root())).
func (f *FileStore) Root() string {
	return f.baseDir
}

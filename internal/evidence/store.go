// Package evidence stores completion documents. The contract is store
// bytes, return an opaque handle; retrieval streams the bytes back.
package evidence

import (
	"context"
	"io"
	"os"
	"path/filepath"

	"github.com/google/uuid"
)

// Store persists uploaded documents.
type Store interface {
	Save(ctx context.Context, r io.Reader, originalName string) (handle string, err error)
	Open(ctx context.Context, handle string) (io.ReadCloser, error)
}

// FSStore keeps evidence files in a flat directory under random handles.
type FSStore struct {
	Dir string
}

func NewFSStore(dir string) (FSStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return FSStore{}, err
	}
	return FSStore{Dir: dir}, nil
}

// Save writes the bytes under a fresh handle. The original name is never
// part of the handle; it travels separately on the work order.
func (s FSStore) Save(ctx context.Context, r io.Reader, originalName string) (string, error) {
	handle := uuid.New().String() + filepath.Ext(originalName)
	f, err := os.Create(filepath.Join(s.Dir, handle))
	if err != nil {
		return "", err
	}
	if _, err := io.Copy(f, r); err != nil {
		f.Close()
		os.Remove(f.Name())
		return "", err
	}
	if err := f.Close(); err != nil {
		return "", err
	}
	return handle, nil
}

func (s FSStore) Open(ctx context.Context, handle string) (io.ReadCloser, error) {
	// Handles are generated server-side, but never trust them as paths.
	return os.Open(filepath.Join(s.Dir, filepath.Base(handle)))
}

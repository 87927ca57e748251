package object

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/golang/snappy"

	"github.com/tablevc/tablevc/internal/errors"
	"github.com/tablevc/tablevc/pkg/types"
)

// FileBackend stores loose objects on disk, snappy-compressed, fanned out
// by the first two hex characters of the id: <dir>/ab/cdef....
type FileBackend struct {
	dir string
}

// NewFileBackend opens (creating if needed) a file-backed object store.
func NewFileBackend(dir string) (*FileBackend, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("object: create store dir: %w", err)
	}
	return &FileBackend{dir: dir}, nil
}

func (f *FileBackend) path(id types.OID) string {
	h := id.Hex()
	return filepath.Join(f.dir, h[:2], h[2:])
}

func (f *FileBackend) Get(ctx context.Context, id types.OID) ([]byte, error) {
	raw, err := os.ReadFile(f.path(id))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errors.NewNotFound(errors.CodeObjectNotFound,
				fmt.Sprintf("object %s not in store", id))
		}
		return nil, fmt.Errorf("object: read %s: %w", id, err)
	}
	data, err := snappy.Decode(nil, raw)
	if err != nil {
		return nil, errors.Wrap(errors.ErrCategoryStructural, errors.CodeCorruptionDetected,
			fmt.Sprintf("object: %s fails snappy decode", id), err)
	}
	return data, nil
}

func (f *FileBackend) Put(ctx context.Context, id types.OID, data []byte) error {
	p := f.path(id)
	if _, err := os.Stat(p); err == nil {
		// Content-addressed: an existing object is already correct.
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		return fmt.Errorf("object: create shard dir: %w", err)
	}
	tmp := p + ".tmp"
	if err := os.WriteFile(tmp, snappy.Encode(nil, data), 0o644); err != nil {
		return fmt.Errorf("object: write %s: %w", id, err)
	}
	if err := os.Rename(tmp, p); err != nil {
		return fmt.Errorf("object: finalize %s: %w", id, err)
	}
	return nil
}

func (f *FileBackend) Has(ctx context.Context, id types.OID) (bool, error) {
	_, err := os.Stat(f.path(id))
	if err == nil {
		return true, nil
	}
	if os.IsNotExist(err) {
		return false, nil
	}
	return false, fmt.Errorf("object: stat %s: %w", id, err)
}

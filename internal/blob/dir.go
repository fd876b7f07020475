package blob

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/roadscope/rs-fleet/internal/platform/paths"
)

// DirStore is a filesystem stand-in for the object store, used in
// development and tests. Same write-once contract as S3Store.
type DirStore struct {
	root string
}

func NewDirStore(root string) (*DirStore, error) {
	if err := os.MkdirAll(root, 0o750); err != nil {
		return nil, fmt.Errorf("create blob root: %w", err)
	}
	return &DirStore{root: root}, nil
}

func (d *DirStore) Put(_ context.Context, key string, body []byte) error {
	path, err := paths.SafeJoin(d.root, filepath.FromSlash(key))
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return err
	}

	// O_EXCL enforces write-once: a second write to the same key fails.
	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o600)
	if err != nil {
		return fmt.Errorf("create %s: %w", key, err)
	}
	defer f.Close()

	if _, err := f.Write(body); err != nil {
		return err
	}
	return f.Sync()
}

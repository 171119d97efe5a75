package storage

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/ruteri/tee-secret-store/interfaces"
)

// FileBackend keeps blobs as files under <root>/keys, sharded by the first
// byte of the key id: keys/ab/abcd....
type FileBackend struct {
	root    string
	keysDir string
	log     *slog.Logger
}

// NewFileBackend creates root/keys if missing. Only the owner may read it.
func NewFileBackend(root string, log *slog.Logger) (*FileBackend, error) {
	keysDir := filepath.Join(root, "keys")
	if err := os.MkdirAll(keysDir, 0o700); err != nil {
		return nil, fmt.Errorf("creating %s: %w", keysDir, err)
	}
	return &FileBackend{
		root:    root,
		keysDir: keysDir,
		log:     log.With("backend", "file", "root", root),
	}, nil
}

func (b *FileBackend) blobPath(id interfaces.ServerKeyID) string {
	name := id.String()
	return filepath.Join(b.keysDir, name[:2], name)
}

func (b *FileBackend) Fetch(ctx context.Context, id interfaces.ServerKeyID) ([]byte, error) {
	data, err := os.ReadFile(b.blobPath(id))
	switch {
	case errors.Is(err, os.ErrNotExist):
		return nil, interfaces.ErrKeyNotFound
	case err != nil:
		return nil, fmt.Errorf("reading blob %s: %w", id, err)
	}
	return data, nil
}

// Store replaces the blob through a synced temporary file and a rename, so a
// crash leaves either the old or the new blob in place.
func (b *FileBackend) Store(ctx context.Context, id interfaces.ServerKeyID, data []byte) error {
	target := b.blobPath(id)
	dir := filepath.Dir(target)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("creating %s: %w", dir, err)
	}

	tmp, err := os.CreateTemp(dir, ".store-*")
	if err != nil {
		return fmt.Errorf("storing blob %s: %w", id, err)
	}
	defer os.Remove(tmp.Name())

	_, err = tmp.Write(data)
	if err == nil {
		err = tmp.Sync()
	}
	if closeErr := tmp.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		return fmt.Errorf("storing blob %s: %w", id, err)
	}

	if err := os.Rename(tmp.Name(), target); err != nil {
		return fmt.Errorf("storing blob %s: %w", id, err)
	}
	b.log.Debug("Stored blob", "key_id", id.String(), "size", len(data))
	return nil
}

func (b *FileBackend) Delete(ctx context.Context, id interfaces.ServerKeyID) error {
	err := os.Remove(b.blobPath(id))
	switch {
	case errors.Is(err, os.ErrNotExist):
		return interfaces.ErrKeyNotFound
	case err != nil:
		return fmt.Errorf("deleting blob %s: %w", id, err)
	}
	return nil
}

func (b *FileBackend) Available(ctx context.Context) bool {
	info, err := os.Stat(b.keysDir)
	if err != nil || !info.IsDir() {
		b.log.Debug("Keys directory missing", "err", err)
		return false
	}
	return true
}

func (b *FileBackend) Name() string {
	return "file-" + filepath.Base(b.root)
}

func (b *FileBackend) LocationURI() string {
	return "file://" + b.root
}

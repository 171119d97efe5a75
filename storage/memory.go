package storage

import (
	"bytes"
	"context"
	"log/slog"
	"sync"

	"github.com/ruteri/tee-secret-store/interfaces"
)

// MemoryBackend keeps blobs in process memory.
type MemoryBackend struct {
	mu    sync.RWMutex
	blobs map[interfaces.ServerKeyID][]byte
	name  string
	log   *slog.Logger
}

func NewMemoryBackend(name string, log *slog.Logger) *MemoryBackend {
	if name == "" {
		name = "default"
	}
	return &MemoryBackend{
		blobs: make(map[interfaces.ServerKeyID][]byte),
		name:  name,
		log:   log,
	}
}

func (b *MemoryBackend) Fetch(ctx context.Context, id interfaces.ServerKeyID) ([]byte, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	data, found := b.blobs[id]
	if !found {
		return nil, interfaces.ErrKeyNotFound
	}
	return bytes.Clone(data), nil
}

func (b *MemoryBackend) Store(ctx context.Context, id interfaces.ServerKeyID, data []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.blobs[id] = bytes.Clone(data)
	b.log.Debug("Stored blob in memory", slog.String("key_id", id.String()), slog.Int("size", len(data)))
	return nil
}

func (b *MemoryBackend) Delete(ctx context.Context, id interfaces.ServerKeyID) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, found := b.blobs[id]; !found {
		return interfaces.ErrKeyNotFound
	}
	delete(b.blobs, id)
	return nil
}

func (b *MemoryBackend) Available(ctx context.Context) bool {
	return true
}

func (b *MemoryBackend) Name() string {
	return "memory-" + b.name
}

func (b *MemoryBackend) LocationURI() string {
	return "memory://" + b.name
}

package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/ruteri/tee-secret-store/cryptoutils"
	"github.com/ruteri/tee-secret-store/interfaces"
)

// KeyStore implements interfaces.KeyStorage on a blob backend.
// Shares are JSON encoded and sealed before they leave the process.
type KeyStore struct {
	mu      sync.Mutex
	backend interfaces.BlobBackend
	sealer  cryptoutils.Sealer
	log     *slog.Logger
}

func NewKeyStore(backend interfaces.BlobBackend, sealer cryptoutils.Sealer, log *slog.Logger) *KeyStore {
	return &KeyStore{
		backend: backend,
		sealer:  sealer,
		log:     log,
	}
}

// Get loads and unseals the share of key id.
func (s *KeyStore) Get(ctx context.Context, id interfaces.ServerKeyID) (*interfaces.KeyShare, error) {
	sealed, err := s.backend.Fetch(ctx, id)
	if err != nil {
		return nil, err
	}

	plaintext, err := s.sealer.Open(sealed, id.Bytes())
	if err != nil {
		return nil, fmt.Errorf("failed to unseal key share %s: %w", id, err)
	}

	var share interfaces.KeyShare
	if err := json.Unmarshal(plaintext, &share); err != nil {
		return nil, fmt.Errorf("failed to decode key share %s: %w", id, err)
	}
	if share.ID != id {
		return nil, fmt.Errorf("key share %s stored under id %s", share.ID, id)
	}
	return &share, nil
}

// Insert stores a new share. Returns ErrKeyAlreadyExists if the key id is taken.
func (s *KeyStore) Insert(ctx context.Context, share *interfaces.KeyShare) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	exists, err := s.Contains(ctx, share.ID)
	if err != nil {
		return err
	}
	if exists {
		return fmt.Errorf("%w: %s", interfaces.ErrKeyAlreadyExists, share.ID)
	}

	if err := s.put(ctx, share); err != nil {
		return err
	}

	s.log.Info("Stored key share",
		slog.String("key_id", share.ID.String()),
		slog.Int("threshold", share.Threshold),
		slog.Int("nodes", len(share.Nodes)),
		slog.String("backend", s.backend.Name()))
	return nil
}

// Update replaces the stored share of share.ID. Returns ErrKeyNotFound if there is none.
func (s *KeyStore) Update(ctx context.Context, share *interfaces.KeyShare) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	exists, err := s.Contains(ctx, share.ID)
	if err != nil {
		return err
	}
	if !exists {
		return fmt.Errorf("%w: %s", interfaces.ErrKeyNotFound, share.ID)
	}

	if err := s.put(ctx, share); err != nil {
		return err
	}

	s.log.Info("Updated key share",
		slog.String("key_id", share.ID.String()),
		slog.Bool("document_key", share.HasDocumentKey()),
		slog.String("backend", s.backend.Name()))
	return nil
}

func (s *KeyStore) put(ctx context.Context, share *interfaces.KeyShare) error {
	plaintext, err := json.Marshal(share)
	if err != nil {
		return fmt.Errorf("failed to encode key share: %w", err)
	}

	sealed, err := s.sealer.Seal(plaintext, share.ID.Bytes())
	if err != nil {
		return fmt.Errorf("failed to seal key share: %w", err)
	}

	return s.backend.Store(ctx, share.ID, sealed)
}

// Remove deletes the share of key id.
func (s *KeyStore) Remove(ctx context.Context, id interfaces.ServerKeyID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.backend.Delete(ctx, id); err != nil {
		return err
	}
	s.log.Info("Removed key share", slog.String("key_id", id.String()))
	return nil
}

// Contains reports whether a share of key id is stored.
func (s *KeyStore) Contains(ctx context.Context, id interfaces.ServerKeyID) (bool, error) {
	_, err := s.backend.Fetch(ctx, id)
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, interfaces.ErrKeyNotFound):
		return false, nil
	default:
		return false, err
	}
}

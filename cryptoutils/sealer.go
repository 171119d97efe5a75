package cryptoutils

import (
	"crypto/rand"
	"errors"
	"fmt"

	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/chacha20poly1305"
)

// Sealer encrypts key shares before they reach a storage backend.
type Sealer interface {
	Seal(plaintext, additionalData []byte) ([]byte, error)
	Open(ciphertext, additionalData []byte) ([]byte, error)
}

// NoopSealer stores data as is. Only meant for tests and trusted local storage.
type NoopSealer struct{}

func (NoopSealer) Seal(plaintext, _ []byte) ([]byte, error)  { return plaintext, nil }
func (NoopSealer) Open(ciphertext, _ []byte) ([]byte, error) { return ciphertext, nil }

// PassphraseSealer seals with XChaCha20-Poly1305 under a key derived from a passphrase.
type PassphraseSealer struct {
	key []byte
}

// DeriveStorageKey creates a deterministic 256-bit encryption key from a
// passphrase and salt using Argon2id.
func DeriveStorageKey(passphrase, salt []byte) []byte {
	// Parameters: time=1, memory=64*1024, threads=4, keyLen=32
	return argon2.IDKey(passphrase, append([]byte("SECRET-STORE-KEY-"), salt...), 1, 64*1024, 4, chacha20poly1305.KeySize)
}

// NewPassphraseSealer creates a sealer keyed by passphrase. The salt is
// usually the node id, so nodes sharing a passphrase still use distinct keys.
func NewPassphraseSealer(passphrase, salt []byte) (*PassphraseSealer, error) {
	if len(passphrase) == 0 {
		return nil, errors.New("empty storage passphrase")
	}
	return &PassphraseSealer{key: DeriveStorageKey(passphrase, salt)}, nil
}

func (s *PassphraseSealer) Seal(plaintext, additionalData []byte) ([]byte, error) {
	aead, err := chacha20poly1305.NewX(s.key)
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}

	nonce := make([]byte, aead.NonceSize(), aead.NonceSize()+len(plaintext)+aead.Overhead())
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("failed to generate nonce: %w", err)
	}

	return aead.Seal(nonce, nonce, plaintext, additionalData), nil
}

func (s *PassphraseSealer) Open(ciphertext, additionalData []byte) ([]byte, error) {
	aead, err := chacha20poly1305.NewX(s.key)
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}

	if len(ciphertext) < aead.NonceSize()+aead.Overhead() {
		return nil, errors.New("sealed data too short")
	}

	nonce, sealed := ciphertext[:aead.NonceSize()], ciphertext[aead.NonceSize():]
	plaintext, err := aead.Open(nil, nonce, sealed, additionalData)
	if err != nil {
		return nil, fmt.Errorf("failed to open sealed data: %w", err)
	}
	return plaintext, nil
}

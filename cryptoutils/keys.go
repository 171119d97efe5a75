package cryptoutils

import (
	"crypto/ecdsa"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ruteri/tee-secret-store/interfaces"
)

// LoadNodeKey loads a secp256k1 private key. The source is either a hex
// encoded key (with or without 0x prefix) or the path of a file holding one.
func LoadNodeKey(source string) (*ecdsa.PrivateKey, error) {
	if source == "" {
		return nil, errors.New("node key is not configured")
	}

	if key, err := crypto.HexToECDSA(strings.TrimPrefix(source, "0x")); err == nil {
		return key, nil
	}

	if _, err := os.Stat(source); err != nil {
		return nil, fmt.Errorf("node key is neither a hex key nor a readable file: %w", err)
	}

	key, err := crypto.LoadECDSA(source)
	if err != nil {
		return nil, fmt.Errorf("failed to load node key from %s: %w", source, err)
	}
	return key, nil
}

// GenerateNodeKey creates a fresh secp256k1 key pair.
func GenerateNodeKey() (*ecdsa.PrivateKey, error) {
	return crypto.GenerateKey()
}

// NodeID returns the cluster identity of key.
func NodeID(key *ecdsa.PrivateKey) interfaces.NodeID {
	return interfaces.NodeIDFromPublicKey(&key.PublicKey)
}

// PublicKeyBytes returns the uncompressed public key without its 0x04 prefix.
func PublicKeyBytes(pub *ecdsa.PublicKey) []byte {
	return crypto.FromECDSAPub(pub)[1:]
}

// PublicKeyFromBytes parses a 64 byte public key as returned by PublicKeyBytes.
func PublicKeyFromBytes(raw []byte) (*ecdsa.PublicKey, error) {
	if len(raw) != 64 {
		return nil, fmt.Errorf("invalid public key length %d", len(raw))
	}
	return crypto.UnmarshalPubkey(append([]byte{0x04}, raw...))
}

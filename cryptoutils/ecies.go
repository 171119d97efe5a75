package cryptoutils

import (
	"crypto/ecdsa"
	"crypto/rand"
	"fmt"

	"github.com/ethereum/go-ethereum/crypto/ecies"
	"github.com/ruteri/tee-secret-store/interfaces"
)

// EncryptWithPublicKey encrypts data with ECIES for the holder of pub.
// A fresh ephemeral key is generated for each encryption.
func EncryptWithPublicKey(pub *ecdsa.PublicKey, data []byte) ([]byte, error) {
	ciphertext, err := ecies.Encrypt(rand.Reader, ecies.ImportECDSAPublic(pub), data, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to encrypt: %w", err)
	}
	return ciphertext, nil
}

// DecryptWithPrivateKey decrypts data produced by EncryptWithPublicKey.
func DecryptWithPrivateKey(key *ecdsa.PrivateKey, encryptedData []byte) ([]byte, error) {
	plaintext, err := ecies.ImportECDSA(key).Decrypt(encryptedData, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to decrypt: %w", err)
	}
	return plaintext, nil
}

// EncryptForNode encrypts data to the public key behind a node id.
func EncryptForNode(node interfaces.NodeID, data []byte) ([]byte, error) {
	pub, err := node.PublicKey()
	if err != nil {
		return nil, fmt.Errorf("invalid node id %s: %w", node.Short(), err)
	}
	return EncryptWithPublicKey(pub, data)
}

// DecryptWithNodeKey decrypts data encrypted to this node with EncryptForNode.
func DecryptWithNodeKey(key *ecdsa.PrivateKey, encryptedData []byte) ([]byte, error) {
	return DecryptWithPrivateKey(key, encryptedData)
}

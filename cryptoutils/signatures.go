package cryptoutils

import (
	"crypto/ecdsa"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ruteri/tee-secret-store/interfaces"
)

// SignKeyID signs a server key id, proving the requester owns key.
func SignKeyID(key *ecdsa.PrivateKey, id interfaces.ServerKeyID) (interfaces.RequestSignature, error) {
	sig, err := crypto.Sign(id.Bytes(), key)
	if err != nil {
		return nil, fmt.Errorf("failed to sign key id: %w", err)
	}
	return sig, nil
}

// RecoverRequester recovers the public key and address which signed id.
// Any malformed signature is reported as interfaces.ErrBadSignature.
func RecoverRequester(id interfaces.ServerKeyID, sig interfaces.RequestSignature) (common.Address, *ecdsa.PublicKey, error) {
	if len(sig) != crypto.SignatureLength {
		return common.Address{}, nil, fmt.Errorf("%w: length %d", interfaces.ErrBadSignature, len(sig))
	}

	pub, err := crypto.SigToPub(id.Bytes(), sig)
	if err != nil {
		return common.Address{}, nil, fmt.Errorf("%w: %w", interfaces.ErrBadSignature, err)
	}
	return crypto.PubkeyToAddress(*pub), pub, nil
}

// SignMessage signs the keccak256 hash of a message body.
func SignMessage(key *ecdsa.PrivateKey, body []byte) ([]byte, error) {
	return crypto.Sign(crypto.Keccak256(body), key)
}

// VerifyMessage checks that body was signed by the node with the given id.
func VerifyMessage(node interfaces.NodeID, body, sig []byte) error {
	if len(sig) != crypto.SignatureLength {
		return fmt.Errorf("%w: length %d", interfaces.ErrBadSignature, len(sig))
	}

	pub, err := crypto.SigToPub(crypto.Keccak256(body), sig)
	if err != nil {
		return fmt.Errorf("%w: %w", interfaces.ErrBadSignature, err)
	}
	if interfaces.NodeIDFromPublicKey(pub) != node {
		return fmt.Errorf("%w: message not signed by %s", interfaces.ErrBadSignature, node.Short())
	}
	return nil
}

package interfaces

import (
	"context"

	"github.com/ethereum/go-ethereum/common"
)

// RequestSignature is a recoverable secp256k1 signature of a server key id made by the requester.
type RequestSignature []byte

// AccessConsensus lists the nodes which agreed the requester may access a key.
type AccessConsensus struct {
	Requester common.Address `json:"requester"`
	Nodes     []NodeID       `json:"nodes"`
}

// KeyServer is the node-level API served to requesters.
type KeyServer interface {
	// GenerateServerKey jointly generates a new server key and returns its public key.
	GenerateServerKey(ctx context.Context, id ServerKeyID, signature RequestSignature, threshold int) ([]byte, error)

	// ServerPublicKey returns the public key of a server key.
	ServerPublicKey(ctx context.Context, id ServerKeyID, signature RequestSignature) ([]byte, error)

	// CheckAccess runs the access consensus for the requester.
	CheckAccess(ctx context.Context, id ServerKeyID, signature RequestSignature) (*AccessConsensus, error)

	// StoreDocumentKey attaches a document key, ElGamal encrypted to the server
	// key by the requester, to every share. Only the author of the server key may do so.
	StoreDocumentKey(ctx context.Context, id ServerKeyID, signature RequestSignature, commonPoint, encryptedPoint []byte) error

	// GenerateDocumentKey generates a server key and a random document key
	// attached to it, and returns the document key encrypted to the requester's public key.
	GenerateDocumentKey(ctx context.Context, id ServerKeyID, signature RequestSignature, threshold int) ([]byte, error)

	// RestoreDocumentKey restores the document key and returns it encrypted to the requester's public key.
	RestoreDocumentKey(ctx context.Context, id ServerKeyID, signature RequestSignature) ([]byte, error)

	// RestoreDocumentKeyShadow collects the shadows the requester needs to
	// restore the document key itself, encrypted to the requester's public key.
	RestoreDocumentKeyShadow(ctx context.Context, id ServerKeyID, signature RequestSignature) (*DocumentKeyShadow, error)
}

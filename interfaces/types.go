// Package interfaces defines the core interfaces and types for the secret store cluster.
// It provides the contract between different components without implementation details.
package interfaces

import (
	"bytes"
	"crypto/ecdsa"
	"encoding/hex"
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/google/uuid"
)

// NodeID identifies a cluster node by its secp256k1 public key
// (uncompressed, without the 0x04 prefix).
type NodeID [64]byte

// NodeIDFromPublicKey derives the node identifier from a public key.
func NodeIDFromPublicKey(pub *ecdsa.PublicKey) NodeID {
	var id NodeID
	copy(id[:], crypto.FromECDSAPub(pub)[1:])
	return id
}

// NewNodeIDFromHex parses a 128-char hex node identifier, with or without 0x prefix.
func NewNodeIDFromHex(s string) (NodeID, error) {
	clean := strings.TrimPrefix(s, "0x")
	if len(clean) != 128 {
		return NodeID{}, errors.New("invalid node id length: hex string must be 128 characters")
	}

	raw, err := hex.DecodeString(clean)
	if err != nil {
		return NodeID{}, fmt.Errorf("invalid hex format: %w", err)
	}

	var id NodeID
	copy(id[:], raw)
	return id, nil
}

// String returns the hex representation of the node id.
func (id NodeID) String() string {
	return hex.EncodeToString(id[:])
}

// Short returns an abbreviated form for logging.
func (id NodeID) Short() string {
	return hex.EncodeToString(id[:4])
}

// PublicKey returns the secp256k1 public key the id was derived from.
func (id NodeID) PublicKey() (*ecdsa.PublicKey, error) {
	return crypto.UnmarshalPubkey(append([]byte{0x04}, id[:]...))
}

// Compare orders node ids bytewise.
func (id NodeID) Compare(other NodeID) int {
	return bytes.Compare(id[:], other[:])
}

func (id NodeID) MarshalText() ([]byte, error) {
	return []byte(id.String()), nil
}

func (id *NodeID) UnmarshalText(text []byte) error {
	parsed, err := NewNodeIDFromHex(string(text))
	if err != nil {
		return err
	}
	*id = parsed
	return nil
}

// SortNodes returns a sorted copy of nodes with duplicates removed.
func SortNodes(nodes []NodeID) []NodeID {
	sorted := slices.Clone(nodes)
	slices.SortFunc(sorted, NodeID.Compare)
	return slices.Compact(sorted)
}

// SessionID identifies a single coordination round.
type SessionID [32]byte

// NewSessionID creates a fresh random session identifier.
func NewSessionID() SessionID {
	id := uuid.Must(uuid.NewRandom())
	return SessionID(crypto.Keccak256Hash(id[:]))
}

func NewSessionIDFromHex(s string) (SessionID, error) {
	raw, err := decodeHash(s)
	if err != nil {
		return SessionID{}, err
	}
	return SessionID(raw), nil
}

// String returns the hex representation of the session id.
func (id SessionID) String() string {
	return hex.EncodeToString(id[:])
}

func (id SessionID) MarshalText() ([]byte, error) {
	return []byte(id.String()), nil
}

func (id *SessionID) UnmarshalText(text []byte) error {
	parsed, err := NewSessionIDFromHex(string(text))
	if err != nil {
		return err
	}
	*id = parsed
	return nil
}

// ServerKeyID identifies a server key (in practice, the hash of the document it protects).
type ServerKeyID [32]byte

func NewServerKeyIDFromHex(s string) (ServerKeyID, error) {
	raw, err := decodeHash(s)
	if err != nil {
		return ServerKeyID{}, err
	}
	return ServerKeyID(raw), nil
}

// String returns the hex representation of the key id.
func (id ServerKeyID) String() string {
	return hex.EncodeToString(id[:])
}

// Bytes returns the raw 32-byte key id.
func (id ServerKeyID) Bytes() []byte {
	return id[:]
}

func (id ServerKeyID) MarshalText() ([]byte, error) {
	return []byte(id.String()), nil
}

func (id *ServerKeyID) UnmarshalText(text []byte) error {
	parsed, err := NewServerKeyIDFromHex(string(text))
	if err != nil {
		return err
	}
	*id = parsed
	return nil
}

func decodeHash(s string) ([32]byte, error) {
	clean := strings.TrimPrefix(s, "0x")
	if len(clean) != 64 {
		return [32]byte{}, errors.New("invalid id length: hex string must be 64 characters")
	}

	raw, err := hex.DecodeString(clean)
	if err != nil {
		return [32]byte{}, fmt.Errorf("invalid hex format: %w", err)
	}

	var res [32]byte
	copy(res[:], raw)
	return res, nil
}

// KeyShare is the part of a server key held by a single node.
type KeyShare struct {
	ID        ServerKeyID `json:"id"`
	Threshold int         `json:"threshold"`
	// Author requested the server key and is the only requester allowed to
	// attach a document key to it.
	Author common.Address `json:"author"`
	// ServerPublic is the public key of the jointly generated secret (65-byte uncompressed).
	ServerPublic hexutil.Bytes `json:"server_public"`
	// Share is this node's share of the secret, a scalar modulo the curve order.
	Share hexutil.Bytes `json:"share"`
	// Nodes is the set of nodes which received a share during generation. The
	// share of Nodes[i] is the sharing polynomial evaluated at i+1.
	Nodes []NodeID `json:"nodes"`
	// CommonPoint and EncryptedPoint hold the document key encrypted to
	// ServerPublic, once one is stored.
	CommonPoint    hexutil.Bytes `json:"common_point,omitempty"`
	EncryptedPoint hexutil.Bytes `json:"encrypted_point,omitempty"`
}

// ShareIndex returns the polynomial index of node's share.
func (s *KeyShare) ShareIndex(node NodeID) (int, bool) {
	i := slices.Index(s.Nodes, node)
	return i + 1, i >= 0
}

// HasDocumentKey reports whether a document key is attached to the server key.
func (s *KeyShare) HasDocumentKey() bool {
	return len(s.CommonPoint) > 0 && len(s.EncryptedPoint) > 0
}

// DocumentKeyShadow lets a requester recover a document key without any node
// seeing it. Shadows are keyed by share index and encrypted to the requester.
type DocumentKeyShadow struct {
	CommonPoint    hexutil.Bytes         `json:"common_point"`
	EncryptedPoint hexutil.Bytes         `json:"encrypted_point"`
	Shadows        map[int]hexutil.Bytes `json:"shadows"`
}

// NodeAddress maps a cluster member to its network address.
type NodeAddress struct {
	ID      NodeID `json:"id"`
	Address string `json:"address"`
}

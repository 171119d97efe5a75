package api

import (
	"encoding/json"
	"fmt"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ruteri/tee-secret-store/interfaces"
)

const (
	// ClusterMessagePath is where nodes accept cluster messages from each other.
	ClusterMessagePath = "/api/cluster/message"

	// NodeSignatureHeader carries the sender's hex signature of the message body.
	NodeSignatureHeader = "X-Node-Signature"
)

// JobKind names the job a session runs.
type JobKind string

const (
	JobKeyGeneration JobKind = "keygen"
	JobKeyAccess     JobKind = "access"
	JobKeyRestore    JobKind = "restore"
	JobDocumentStore JobKind = "docstore"
)

// MessageKind distinguishes partial requests from partial responses.
type MessageKind string

const (
	PartialRequest  MessageKind = "partial_request"
	PartialResponse MessageKind = "partial_response"
)

// ClusterMessage is the envelope exchanged between nodes. Payload is the JSON
// encoded request or response of the job.
type ClusterMessage struct {
	Session   interfaces.SessionID `json:"session"`
	Job       JobKind              `json:"job"`
	Kind      MessageKind          `json:"kind"`
	From      interfaces.NodeID    `json:"from"`
	To        interfaces.NodeID    `json:"to"`
	Threshold int                  `json:"threshold"`
	Payload   json.RawMessage      `json:"payload"`
}

func (m *ClusterMessage) String() string {
	return fmt.Sprintf("%s %s of session %s from %s to %s", m.Job, m.Kind, m.Session, m.From.Short(), m.To.Short())
}

// GenerateServerKeyRequest is the body of POST /api/server_key/{key_id}.
type GenerateServerKeyRequest struct {
	Signature hexutil.Bytes `json:"signature"`
	Threshold int           `json:"threshold"`
}

type GenerateServerKeyResponse struct {
	ServerPublic hexutil.Bytes `json:"server_public"`
}

// SignedKeyRequest carries the requester signature of the key id.
type SignedKeyRequest struct {
	Signature hexutil.Bytes `json:"signature"`
}

// StoreDocumentKeyRequest is the body of POST /api/document_key/{key_id}/store.
type StoreDocumentKeyRequest struct {
	Signature      hexutil.Bytes `json:"signature"`
	CommonPoint    hexutil.Bytes `json:"common_point"`
	EncryptedPoint hexutil.Bytes `json:"encrypted_point"`
}

type DocumentKeyResponse struct {
	// EncryptedDocumentKey is the document key ECIES-encrypted to the requester's public key.
	EncryptedDocumentKey hexutil.Bytes `json:"encrypted_document_key"`
}

type ErrorResponse struct {
	Error string `json:"error"`
}

// Package keygen implements the server key generation job.
//
// The master generates a fresh secp256k1 secret, shares it over the curve
// order so that any threshold+1 nodes can use it and sends every node its
// share encrypted to the node's public key. A node accepts the job by storing
// the share. The secret is wiped once split and never reassembled.
package keygen

import (
	"bytes"
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"slices"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ruteri/tee-secret-store/cryptoutils"
	"github.com/ruteri/tee-secret-store/interfaces"
	"github.com/ruteri/tee-secret-store/jobs"
	"github.com/ruteri/tee-secret-store/secretsharing"
)

type Request struct {
	KeyID          interfaces.ServerKeyID `json:"key_id"`
	Threshold      int                    `json:"threshold"`
	Author         common.Address         `json:"author"`
	ServerPublic   hexutil.Bytes          `json:"server_public"`
	Nodes          []interfaces.NodeID    `json:"nodes"`
	EncryptedShare hexutil.Bytes          `json:"encrypted_share"`
}

type Response struct {
	KeyID     interfaces.ServerKeyID `json:"key_id"`
	ShareHash common.Hash            `json:"share_hash"`
	Stored    bool                   `json:"stored"`
}

// Executor generates a server key on the master and stores shares on every node.
// The result of a round is the uncompressed server public key.
type Executor struct {
	// ctx bounds the storage calls made while processing requests.
	ctx     context.Context
	nodeKey *ecdsa.PrivateKey
	storage interfaces.KeyStorage

	// master only
	keyID        interfaces.ServerKeyID
	threshold    int
	author       common.Address
	secret       []byte
	serverPublic []byte
	nodes        []interfaces.NodeID
	shareHashes  map[interfaces.NodeID]common.Hash
	shares       map[interfaces.NodeID][]byte
}

var _ jobs.Executor[*Request, *Response, []byte] = (*Executor)(nil)

// NewMasterExecutor creates the executor of the node driving generation of key
// id on behalf of author.
func NewMasterExecutor(ctx context.Context, id interfaces.ServerKeyID, threshold int, author common.Address, nodeKey *ecdsa.PrivateKey, storage interfaces.KeyStorage) (*Executor, error) {
	if threshold < 0 {
		return nil, fmt.Errorf("negative threshold %d", threshold)
	}

	secret, err := crypto.GenerateKey()
	if err != nil {
		return nil, fmt.Errorf("failed to generate server key: %w", err)
	}

	return &Executor{
		ctx:          ctx,
		nodeKey:      nodeKey,
		storage:      storage,
		keyID:        id,
		threshold:    threshold,
		author:       author,
		secret:       crypto.FromECDSA(secret),
		serverPublic: crypto.FromECDSAPub(&secret.PublicKey),
	}, nil
}

// NewSlaveExecutor creates the executor of a node receiving a share.
func NewSlaveExecutor(ctx context.Context, nodeKey *ecdsa.PrivateKey, storage interfaces.KeyStorage) *Executor {
	return &Executor{
		ctx:     ctx,
		nodeKey: nodeKey,
		storage: storage,
	}
}

// ServerPublic returns the generated public key, nil on slaves.
func (e *Executor) ServerPublic() []byte {
	return e.serverPublic
}

// split distributes the secret over nodes once. The secret is wiped afterwards.
func (e *Executor) split(nodes []interfaces.NodeID) error {
	if e.shares != nil {
		if !slices.Equal(e.nodes, nodes) {
			return errors.New("node set changed after shares were generated")
		}
		return nil
	}
	if e.secret == nil {
		return errors.New("key generation requests can only be prepared by the master")
	}

	parts, err := secretsharing.SplitScalar(e.secret, len(nodes), e.threshold+1)
	if err != nil {
		return err
	}
	secretsharing.Wipe(e.secret)
	e.secret = nil

	e.nodes = slices.Clone(nodes)
	e.shares = make(map[interfaces.NodeID][]byte, len(nodes))
	e.shareHashes = make(map[interfaces.NodeID]common.Hash, len(nodes))
	for i, node := range nodes {
		e.shares[node] = parts[i]
		e.shareHashes[node] = crypto.Keccak256Hash(parts[i])
	}
	return nil
}

func (e *Executor) PreparePartialRequest(node interfaces.NodeID, nodes []interfaces.NodeID) (*Request, error) {
	if err := e.split(nodes); err != nil {
		return nil, err
	}

	share, found := e.shares[node]
	if !found {
		return nil, fmt.Errorf("node %s is not part of the key generation", node.Short())
	}

	encrypted, err := cryptoutils.EncryptForNode(node, share)
	if err != nil {
		return nil, err
	}
	secretsharing.Wipe(share)
	delete(e.shares, node)

	return &Request{
		KeyID:          e.keyID,
		Threshold:      e.threshold,
		Author:         e.author,
		ServerPublic:   e.serverPublic,
		Nodes:          e.nodes,
		EncryptedShare: encrypted,
	}, nil
}

func (e *Executor) ProcessPartialRequest(req *Request) (jobs.RequestAction[*Response], error) {
	self := cryptoutils.NodeID(e.nodeKey)
	if !slices.Contains(req.Nodes, self) {
		return jobs.RequestAction[*Response]{}, fmt.Errorf("%w: node %s is not part of the key generation", jobs.ErrInvalidMessage, self.Short())
	}
	if req.Threshold < 0 || req.Threshold >= len(req.Nodes) {
		return jobs.RequestAction[*Response]{}, fmt.Errorf("%w: threshold %d for %d nodes", jobs.ErrInvalidMessage, req.Threshold, len(req.Nodes))
	}
	if _, err := crypto.UnmarshalPubkey(req.ServerPublic); err != nil {
		return jobs.RequestAction[*Response]{}, fmt.Errorf("%w: invalid server public key: %v", jobs.ErrInvalidMessage, err)
	}

	share, err := cryptoutils.DecryptWithNodeKey(e.nodeKey, req.EncryptedShare)
	if err != nil {
		return jobs.RequestAction[*Response]{}, fmt.Errorf("%w: %v", jobs.ErrInvalidMessage, err)
	}
	if len(share) != 32 {
		return jobs.RequestAction[*Response]{}, fmt.Errorf("%w: share of %d bytes", jobs.ErrInvalidMessage, len(share))
	}

	err = e.storage.Insert(e.ctx, &interfaces.KeyShare{
		ID:           req.KeyID,
		Threshold:    req.Threshold,
		Author:       req.Author,
		ServerPublic: req.ServerPublic,
		Share:        share,
		Nodes:        req.Nodes,
	})
	if errors.Is(err, interfaces.ErrKeyAlreadyExists) {
		return jobs.RejectRequest(&Response{KeyID: req.KeyID}), nil
	}
	if err != nil {
		return jobs.RequestAction[*Response]{}, err
	}

	return jobs.Respond(&Response{
		KeyID:     req.KeyID,
		ShareHash: crypto.Keccak256Hash(share),
		Stored:    true,
	}), nil
}

func (e *Executor) CheckPartialResponse(sender interfaces.NodeID, resp *Response) (jobs.ResponseAction, error) {
	if resp == nil {
		return jobs.ResponseReject, nil
	}
	if resp.KeyID != e.keyID {
		return jobs.ResponseIgnore, nil
	}
	if !resp.Stored {
		return jobs.ResponseReject, nil
	}
	if expected, found := e.shareHashes[sender]; !found || expected != resp.ShareHash {
		return jobs.ResponseReject, nil
	}
	return jobs.ResponseAccept, nil
}

func (e *Executor) ComputeResponse(map[interfaces.NodeID]*Response) ([]byte, error) {
	if e.serverPublic == nil {
		return nil, errors.New("server public key is only known to the master")
	}
	return bytes.Clone(e.serverPublic), nil
}

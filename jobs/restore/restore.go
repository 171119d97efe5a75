// Package restore implements document key restoration. Every node holding a
// share of the server key checks the requester against its own ACL and, if
// allowed, applies its share to the common point of the stored document key.
// These shadows are combined in the exponent, so the server secret is never
// reassembled.
//
// In the default mode shadows are encrypted to the master which recovers the
// document key. In shadow mode they are encrypted to the requester and the
// master only forwards them.
package restore

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"slices"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ruteri/tee-secret-store/cryptoutils"
	"github.com/ruteri/tee-secret-store/interfaces"
	"github.com/ruteri/tee-secret-store/jobs"
	"github.com/ruteri/tee-secret-store/secretsharing"
)

type Request struct {
	KeyID     interfaces.ServerKeyID `json:"key_id"`
	Signature hexutil.Bytes          `json:"signature"`
	Shadow    bool                   `json:"shadow"`
}

type Response struct {
	KeyID           interfaces.ServerKeyID `json:"key_id"`
	Found           bool                   `json:"found"`
	Index           int                    `json:"index,omitempty"`
	EncryptedShadow hexutil.Bytes          `json:"encrypted_shadow,omitempty"`
}

// Result is the outcome of a restoration round. DocumentKey is set in the
// default mode, Shadow in shadow mode.
type Result struct {
	DocumentKey []byte
	Shadow      *interfaces.DocumentKeyShadow
}

// Executor collects shadows on the master and computes them on every node.
type Executor struct {
	// ctx bounds share and ACL lookups.
	ctx     context.Context
	storage interfaces.KeyStorage
	acl     interfaces.AclStorage
	self    interfaces.NodeID
	master  interfaces.NodeID

	// master only
	nodeKey   *ecdsa.PrivateKey
	share     *interfaces.KeyShare
	signature interfaces.RequestSignature
	shadow    bool
	shadows   map[interfaces.NodeID][]byte
}

var _ jobs.Executor[*Request, *Response, *Result] = (*Executor)(nil)

// NewMasterExecutor creates the executor restoring the document key attached
// to the server key described by share, the master's own share of it.
func NewMasterExecutor(ctx context.Context, storage interfaces.KeyStorage, acl interfaces.AclStorage, nodeKey *ecdsa.PrivateKey, share *interfaces.KeyShare, signature interfaces.RequestSignature, shadow bool) *Executor {
	self := cryptoutils.NodeID(nodeKey)
	return &Executor{
		ctx:       ctx,
		storage:   storage,
		acl:       acl,
		self:      self,
		master:    self,
		nodeKey:   nodeKey,
		share:     share,
		signature: signature,
		shadow:    shadow,
		shadows:   make(map[interfaces.NodeID][]byte),
	}
}

// NewSlaveExecutor creates the executor serving this node's shadow.
func NewSlaveExecutor(ctx context.Context, storage interfaces.KeyStorage, acl interfaces.AclStorage, self, master interfaces.NodeID) *Executor {
	return &Executor{
		ctx:     ctx,
		storage: storage,
		acl:     acl,
		self:    self,
		master:  master,
	}
}

func (e *Executor) PreparePartialRequest(node interfaces.NodeID, _ []interfaces.NodeID) (*Request, error) {
	if e.share == nil {
		return nil, errors.New("restore requests can only be prepared by the master")
	}
	if !slices.Contains(e.share.Nodes, node) {
		return nil, fmt.Errorf("node %s does not hold a share of key %s", node.Short(), e.share.ID)
	}
	return &Request{KeyID: e.share.ID, Signature: hexutil.Bytes(e.signature), Shadow: e.shadow}, nil
}

func (e *Executor) ProcessPartialRequest(req *Request) (jobs.RequestAction[*Response], error) {
	reject := jobs.RejectRequest(&Response{KeyID: req.KeyID})

	requester, requesterKey, err := cryptoutils.RecoverRequester(req.KeyID, interfaces.RequestSignature(req.Signature))
	if err != nil {
		return reject, nil
	}

	allowed, err := e.acl.CheckPermissions(e.ctx, requester, req.KeyID)
	if err != nil {
		return jobs.RequestAction[*Response]{}, fmt.Errorf("failed to check permissions: %w", err)
	}
	if !allowed {
		return reject, nil
	}

	share, err := e.storage.Get(e.ctx, req.KeyID)
	if errors.Is(err, interfaces.ErrKeyNotFound) {
		return reject, nil
	}
	if err != nil {
		return jobs.RequestAction[*Response]{}, err
	}
	defer secretsharing.Wipe(share.Share)

	index, found := share.ShareIndex(e.self)
	if !found || !share.HasDocumentKey() {
		return reject, nil
	}

	shadow, err := cryptoutils.ComputeShadow(share.Share, share.CommonPoint)
	if err != nil {
		return jobs.RequestAction[*Response]{}, err
	}

	var encrypted []byte
	if req.Shadow {
		encrypted, err = cryptoutils.EncryptWithPublicKey(requesterKey, shadow)
	} else {
		encrypted, err = cryptoutils.EncryptForNode(e.master, shadow)
	}
	if err != nil {
		return jobs.RequestAction[*Response]{}, err
	}

	return jobs.Respond(&Response{
		KeyID:           req.KeyID,
		Found:           true,
		Index:           index,
		EncryptedShadow: encrypted,
	}), nil
}

func (e *Executor) CheckPartialResponse(sender interfaces.NodeID, resp *Response) (jobs.ResponseAction, error) {
	if resp == nil {
		return jobs.ResponseReject, nil
	}
	if e.share == nil || resp.KeyID != e.share.ID {
		return jobs.ResponseIgnore, nil
	}
	if !resp.Found {
		return jobs.ResponseReject, nil
	}
	if index, found := e.share.ShareIndex(sender); !found || index != resp.Index {
		return jobs.ResponseReject, nil
	}

	if e.shadow {
		e.shadows[sender] = resp.EncryptedShadow
		return jobs.ResponseAccept, nil
	}

	shadow, err := cryptoutils.DecryptWithNodeKey(e.nodeKey, resp.EncryptedShadow)
	if err != nil {
		return jobs.ResponseReject, nil
	}
	if cryptoutils.ValidatePoint(shadow) != nil {
		return jobs.ResponseReject, nil
	}
	e.shadows[sender] = shadow
	return jobs.ResponseAccept, nil
}

// ComputeResponse combines the accepted shadows into the document key, or
// hands them over as they are in shadow mode.
func (e *Executor) ComputeResponse(responses map[interfaces.NodeID]*Response) (*Result, error) {
	if e.share == nil {
		return nil, errors.New("document keys can only be restored by the master")
	}

	shadows := make(map[int][]byte, len(responses))
	for node, resp := range responses {
		shadow, found := e.shadows[node]
		if !found {
			return nil, fmt.Errorf("no shadow from node %s", node.Short())
		}
		shadows[resp.Index] = shadow
	}

	if e.shadow {
		encrypted := make(map[int]hexutil.Bytes, len(shadows))
		for index, shadow := range shadows {
			encrypted[index] = shadow
		}
		return &Result{Shadow: &interfaces.DocumentKeyShadow{
			CommonPoint:    e.share.CommonPoint,
			EncryptedPoint: e.share.EncryptedPoint,
			Shadows:        encrypted,
		}}, nil
	}

	documentKey, err := cryptoutils.RecoverDocumentKey(e.share.EncryptedPoint, shadows)
	if err != nil {
		return nil, err
	}
	return &Result{DocumentKey: documentKey}, nil
}

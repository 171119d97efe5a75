// Package docstore implements the document key storage job: the author of a
// server key attaches a document key, ElGamal encrypted to the server key, to
// the share of every node holding one.
package docstore

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"slices"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ruteri/tee-secret-store/cryptoutils"
	"github.com/ruteri/tee-secret-store/interfaces"
	"github.com/ruteri/tee-secret-store/jobs"
)

type Request struct {
	KeyID          interfaces.ServerKeyID `json:"key_id"`
	Signature      hexutil.Bytes          `json:"signature"`
	CommonPoint    hexutil.Bytes          `json:"common_point"`
	EncryptedPoint hexutil.Bytes          `json:"encrypted_point"`
}

type Response struct {
	KeyID  interfaces.ServerKeyID `json:"key_id"`
	Stored bool                   `json:"stored"`
}

// Executor stores the document key on every node.
// The result of a round is the sorted list of nodes which stored it.
type Executor struct {
	// ctx bounds storage calls.
	ctx     context.Context
	storage interfaces.KeyStorage

	// master only
	share *interfaces.KeyShare
	req   *Request
}

var _ jobs.Executor[*Request, *Response, []interfaces.NodeID] = (*Executor)(nil)

// NewMasterExecutor creates the executor attaching the document key to the
// server key described by share, the master's own share of it.
func NewMasterExecutor(ctx context.Context, storage interfaces.KeyStorage, share *interfaces.KeyShare, signature interfaces.RequestSignature, commonPoint, encryptedPoint []byte) *Executor {
	return &Executor{
		ctx:     ctx,
		storage: storage,
		share:   share,
		req: &Request{
			KeyID:          share.ID,
			Signature:      hexutil.Bytes(signature),
			CommonPoint:    commonPoint,
			EncryptedPoint: encryptedPoint,
		},
	}
}

func NewSlaveExecutor(ctx context.Context, storage interfaces.KeyStorage) *Executor {
	return &Executor{ctx: ctx, storage: storage}
}

func (e *Executor) PreparePartialRequest(node interfaces.NodeID, _ []interfaces.NodeID) (*Request, error) {
	if e.req == nil {
		return nil, errors.New("document key requests can only be prepared by the master")
	}
	if !slices.Contains(e.share.Nodes, node) {
		return nil, fmt.Errorf("node %s does not hold a share of key %s", node.Short(), e.share.ID)
	}
	return e.req, nil
}

func (e *Executor) ProcessPartialRequest(req *Request) (jobs.RequestAction[*Response], error) {
	requester, _, err := cryptoutils.RecoverRequester(req.KeyID, interfaces.RequestSignature(req.Signature))
	if err != nil {
		return jobs.RequestAction[*Response]{}, fmt.Errorf("%w: %w", jobs.ErrInvalidMessage, err)
	}
	if err := cryptoutils.ValidatePoint(req.CommonPoint); err != nil {
		return jobs.RequestAction[*Response]{}, fmt.Errorf("%w: common point: %w", jobs.ErrInvalidMessage, err)
	}
	if err := cryptoutils.ValidatePoint(req.EncryptedPoint); err != nil {
		return jobs.RequestAction[*Response]{}, fmt.Errorf("%w: encrypted point: %w", jobs.ErrInvalidMessage, err)
	}

	reject := jobs.RejectRequest(&Response{KeyID: req.KeyID})

	share, err := e.storage.Get(e.ctx, req.KeyID)
	if errors.Is(err, interfaces.ErrKeyNotFound) {
		return reject, nil
	}
	if err != nil {
		return jobs.RequestAction[*Response]{}, err
	}
	if share.Author != requester {
		return reject, nil
	}
	if share.HasDocumentKey() {
		if bytes.Equal(share.CommonPoint, req.CommonPoint) && bytes.Equal(share.EncryptedPoint, req.EncryptedPoint) {
			return jobs.Respond(&Response{KeyID: req.KeyID, Stored: true}), nil
		}
		return reject, nil
	}

	share.CommonPoint = req.CommonPoint
	share.EncryptedPoint = req.EncryptedPoint
	if err := e.storage.Update(e.ctx, share); err != nil {
		return jobs.RequestAction[*Response]{}, err
	}
	return jobs.Respond(&Response{KeyID: req.KeyID, Stored: true}), nil
}

func (e *Executor) CheckPartialResponse(_ interfaces.NodeID, resp *Response) (jobs.ResponseAction, error) {
	if resp == nil {
		return jobs.ResponseReject, nil
	}
	if e.share == nil || resp.KeyID != e.share.ID {
		return jobs.ResponseIgnore, nil
	}
	if !resp.Stored {
		return jobs.ResponseReject, nil
	}
	return jobs.ResponseAccept, nil
}

func (e *Executor) ComputeResponse(responses map[interfaces.NodeID]*Response) ([]interfaces.NodeID, error) {
	nodes := make([]interfaces.NodeID, 0, len(responses))
	for node := range responses {
		nodes = append(nodes, node)
	}
	slices.SortFunc(nodes, interfaces.NodeID.Compare)
	return nodes, nil
}


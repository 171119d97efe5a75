// Package access implements the key access consensus job: every node checks
// its ACL for the requester and the round succeeds once threshold+1 nodes allow
// access.
package access

import (
	"context"
	"errors"
	"fmt"
	"slices"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ruteri/tee-secret-store/cryptoutils"
	"github.com/ruteri/tee-secret-store/interfaces"
	"github.com/ruteri/tee-secret-store/jobs"
)

type Request struct {
	KeyID     interfaces.ServerKeyID `json:"key_id"`
	Signature hexutil.Bytes          `json:"signature"`
}

type Response struct {
	Allowed bool `json:"allowed"`
}

// Executor checks the requester against the node's ACL.
// The result of a round is the list of nodes which allowed access.
type Executor struct {
	// ctx bounds ACL lookups.
	ctx context.Context
	acl interfaces.AclStorage

	// master only
	keyID     interfaces.ServerKeyID
	signature interfaces.RequestSignature
	requester common.Address
}

var _ jobs.Executor[*Request, *Response, *interfaces.AccessConsensus] = (*Executor)(nil)

// NewMasterExecutor creates the executor asking the cluster whether the signer of
// signature may access key id. A signature that cannot be recovered fails with
// interfaces.ErrBadSignature.
func NewMasterExecutor(ctx context.Context, acl interfaces.AclStorage, id interfaces.ServerKeyID, signature interfaces.RequestSignature) (*Executor, error) {
	requester, _, err := cryptoutils.RecoverRequester(id, signature)
	if err != nil {
		return nil, err
	}

	return &Executor{
		ctx:       ctx,
		acl:       acl,
		keyID:     id,
		signature: signature,
		requester: requester,
	}, nil
}

func NewSlaveExecutor(ctx context.Context, acl interfaces.AclStorage) *Executor {
	return &Executor{ctx: ctx, acl: acl}
}

// Requester returns the address recovered from the request signature.
func (e *Executor) Requester() common.Address {
	return e.requester
}

func (e *Executor) PreparePartialRequest(interfaces.NodeID, []interfaces.NodeID) (*Request, error) {
	if e.signature == nil {
		return nil, errors.New("access requests can only be prepared by the master")
	}
	return &Request{KeyID: e.keyID, Signature: hexutil.Bytes(e.signature)}, nil
}

func (e *Executor) ProcessPartialRequest(req *Request) (jobs.RequestAction[*Response], error) {
	requester, _, err := cryptoutils.RecoverRequester(req.KeyID, interfaces.RequestSignature(req.Signature))
	if err != nil {
		return jobs.RejectRequest(&Response{Allowed: false}), nil
	}

	allowed, err := e.acl.CheckPermissions(e.ctx, requester, req.KeyID)
	if err != nil {
		return jobs.RequestAction[*Response]{}, fmt.Errorf("failed to check permissions: %w", err)
	}
	if !allowed {
		return jobs.RejectRequest(&Response{Allowed: false}), nil
	}
	return jobs.Respond(&Response{Allowed: true}), nil
}

func (e *Executor) CheckPartialResponse(node interfaces.NodeID, resp *Response) (jobs.ResponseAction, error) {
	if resp == nil {
		return jobs.ResponseReject, fmt.Errorf("%w: empty access response from %s", jobs.ErrInvalidMessage, node.Short())
	}
	if resp.Allowed {
		return jobs.ResponseAccept, nil
	}
	return jobs.ResponseReject, nil
}

func (e *Executor) ComputeResponse(responses map[interfaces.NodeID]*Response) (*interfaces.AccessConsensus, error) {
	nodes := make([]interfaces.NodeID, 0, len(responses))
	for node := range responses {
		nodes = append(nodes, node)
	}
	slices.SortFunc(nodes, interfaces.NodeID.Compare)

	return &interfaces.AccessConsensus{
		Requester: e.requester,
		Nodes:     nodes,
	}, nil
}

package acl

import (
	"context"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ruteri/tee-secret-store/interfaces"
)

// PermissioningABI is the part of the permissioning contract the ACL calls.
const PermissioningABI = `[{"constant":true,"inputs":[{"name":"user","type":"address"},{"name":"document","type":"bytes32"}],"name":"checkPermissions","outputs":[{"name":"","type":"bool"}],"payable":false,"stateMutability":"view","type":"function"}]`

// OnchainACL asks a permissioning contract whether a requester may use a key.
type OnchainACL struct {
	contract *bind.BoundContract
	address  common.Address
}

// NewOnchainACL binds the permissioning contract deployed at address.
func NewOnchainACL(caller bind.ContractCaller, address common.Address) (*OnchainACL, error) {
	parsed, err := abi.JSON(strings.NewReader(PermissioningABI))
	if err != nil {
		return nil, err
	}

	return &OnchainACL{
		contract: bind.NewBoundContract(address, parsed, caller, nil, nil),
		address:  address,
	}, nil
}

func (a *OnchainACL) CheckPermissions(ctx context.Context, requester common.Address, key interfaces.ServerKeyID) (bool, error) {
	opts := &bind.CallOpts{Context: ctx}

	var out []interface{}
	if err := a.contract.Call(opts, &out, "checkPermissions", requester, [32]byte(key)); err != nil {
		return false, fmt.Errorf("permissioning contract %s call failed: %w", a.address.Hex(), err)
	}

	allowed := *abi.ConvertType(out[0], new(bool)).(*bool)
	return allowed, nil
}

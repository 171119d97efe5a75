// Package acl decides which requesters may use a server key.
//
// Three implementations of interfaces.AclStorage are provided: AllowAll for
// development clusters, StaticACL loaded from a JSON permissions file, and
// OnchainACL which asks a permissioning contract through go-ethereum.
package acl

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"slices"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ruteri/tee-secret-store/interfaces"
)

// AnyKey grants access to every server key in a static permissions file.
const AnyKey = "*"

// AllowAll grants every requester access to every key.
type AllowAll struct{}

func (AllowAll) CheckPermissions(context.Context, common.Address, interfaces.ServerKeyID) (bool, error) {
	return true, nil
}

// StaticACL grants access according to a fixed permission map.
type StaticACL struct {
	perKey map[interfaces.ServerKeyID][]common.Address
	anyKey []common.Address
}

// NewStaticACL builds an ACL from a map of hex key id (or AnyKey) to allowed addresses.
func NewStaticACL(permissions map[string][]common.Address) (*StaticACL, error) {
	acl := &StaticACL{perKey: make(map[interfaces.ServerKeyID][]common.Address)}
	for key, addresses := range permissions {
		if key == AnyKey {
			acl.anyKey = append(acl.anyKey, addresses...)
			continue
		}

		id, err := interfaces.NewServerKeyIDFromHex(key)
		if err != nil {
			return nil, fmt.Errorf("invalid key id %q in permissions: %w", key, err)
		}
		acl.perKey[id] = append(acl.perKey[id], addresses...)
	}
	return acl, nil
}

// LoadStaticACL reads a JSON permissions file:
//
//	{"*": ["0x..."], "<key id hex>": ["0x...", "0x..."]}
func LoadStaticACL(path string) (*StaticACL, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read permissions file: %w", err)
	}

	var permissions map[string][]common.Address
	if err := json.Unmarshal(data, &permissions); err != nil {
		return nil, fmt.Errorf("failed to parse permissions file: %w", err)
	}
	return NewStaticACL(permissions)
}

func (a *StaticACL) CheckPermissions(_ context.Context, requester common.Address, key interfaces.ServerKeyID) (bool, error) {
	return slices.Contains(a.anyKey, requester) || slices.Contains(a.perKey[key], requester), nil
}

// FromConfig creates the ACL selected by a configuration string:
// "allow-all", "file:<path>" or "contract:<address>" (the latter needs an RPC caller).
func FromConfig(config string, newOnchain func(common.Address) (interfaces.AclStorage, error)) (interfaces.AclStorage, error) {
	kind, arg, _ := strings.Cut(config, ":")
	switch kind {
	case "", "allow-all":
		return AllowAll{}, nil
	case "file":
		return LoadStaticACL(arg)
	case "contract":
		if !common.IsHexAddress(arg) {
			return nil, fmt.Errorf("invalid permissioning contract address: %s", arg)
		}
		if newOnchain == nil {
			return nil, fmt.Errorf("permissioning contract configured without an RPC endpoint")
		}
		return newOnchain(common.HexToAddress(arg))
	default:
		return nil, fmt.Errorf("unsupported ACL configuration: %s", config)
	}
}

package interfaces

import (
	"context"
	"errors"

	"github.com/ethereum/go-ethereum/common"
)

var (
	// ErrAccessDenied is returned when the requester is not allowed to use the server key.
	ErrAccessDenied = errors.New("access denied")

	// ErrBadSignature is returned when a requester signature cannot be recovered.
	ErrBadSignature = errors.New("bad requester signature")
)

// AclStorage decides whether a requester may access a server key.
type AclStorage interface {
	CheckPermissions(ctx context.Context, requester common.Address, key ServerKeyID) (bool, error)
}

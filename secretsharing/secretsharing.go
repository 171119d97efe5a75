// Package secretsharing splits secrets into shares and recombines them.
//
// Server key secrets are shared over the secp256k1 scalar field (SplitScalar)
// so that nodes can apply their share to a curve point and the results can be
// combined without the secret ever being reassembled.
//
// Opaque byte secrets such as node key backups are shared with Shamir's
// Secret Sharing over GF(2^8) (github.com/hashicorp/vault/shamir). A threshold
// of one does not need any polynomial: every holder simply gets a copy.
package secretsharing

import (
	"bytes"
	"errors"
	"fmt"

	"github.com/hashicorp/vault/shamir"
)

const maxParts = 255

var (
	ErrInvalidThreshold = errors.New("invalid threshold")
	ErrNotEnoughParts   = errors.New("not enough parts to recombine secret")
)

// Split divides secret into parts shares, any threshold of which recombine it.
func Split(secret []byte, parts, threshold int) ([][]byte, error) {
	if len(secret) == 0 {
		return nil, errors.New("cannot split an empty secret")
	}
	if threshold < 1 || threshold > parts {
		return nil, fmt.Errorf("%w: %d of %d", ErrInvalidThreshold, threshold, parts)
	}
	if parts > maxParts {
		return nil, fmt.Errorf("%w: at most %d parts are supported", ErrInvalidThreshold, maxParts)
	}

	if threshold == 1 {
		shares := make([][]byte, parts)
		for i := range shares {
			shares[i] = bytes.Clone(secret)
		}
		return shares, nil
	}

	shares, err := shamir.Split(secret, parts, threshold)
	if err != nil {
		return nil, fmt.Errorf("failed to split secret: %w", err)
	}
	return shares, nil
}

// Combine recombines the secret from at least threshold shares produced by Split.
func Combine(parts [][]byte, threshold int) ([]byte, error) {
	if threshold < 1 {
		return nil, fmt.Errorf("%w: %d", ErrInvalidThreshold, threshold)
	}
	if len(parts) < threshold {
		return nil, fmt.Errorf("%w: have %d, need %d", ErrNotEnoughParts, len(parts), threshold)
	}

	if threshold == 1 {
		return bytes.Clone(parts[0]), nil
	}

	secret, err := shamir.Combine(parts)
	if err != nil {
		return nil, fmt.Errorf("failed to recombine secret: %w", err)
	}
	return secret, nil
}

// Wipe zeroes data in place.
func Wipe(data []byte) {
	for i := range data {
		data[i] = 0
	}
}

// WipeAll zeroes every part in place.
func WipeAll(parts [][]byte) {
	for _, part := range parts {
		Wipe(part)
	}
}

package cryptoutils

import (
	"crypto/ecdsa"
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common/math"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ruteri/tee-secret-store/interfaces"
	"github.com/ruteri/tee-secret-store/secretsharing"
)

// ErrInvalidPoint is returned for byte strings which are not secp256k1 points.
var ErrInvalidPoint = errors.New("invalid curve point")

type point struct {
	x, y *big.Int
}

func parsePoint(raw []byte) (point, error) {
	pub, err := crypto.UnmarshalPubkey(raw)
	if err != nil {
		return point{}, fmt.Errorf("%w: %w", ErrInvalidPoint, err)
	}
	return point{pub.X, pub.Y}, nil
}

func (p point) bytes() ([]byte, error) {
	if p.x.Sign() == 0 && p.y.Sign() == 0 {
		return nil, fmt.Errorf("%w: point at infinity", ErrInvalidPoint)
	}
	return crypto.FromECDSAPub(&ecdsa.PublicKey{Curve: crypto.S256(), X: p.x, Y: p.y}), nil
}

func (p point) mul(k []byte) point {
	x, y := crypto.S256().ScalarMult(p.x, p.y, k)
	if x == nil || y == nil {
		return point{new(big.Int), new(big.Int)}
	}
	return point{x, y}
}

func (p point) add(q point) point {
	switch {
	case p.x.Sign() == 0 && p.y.Sign() == 0:
		return q
	case q.x.Sign() == 0 && q.y.Sign() == 0:
		return p
	}
	x, y := crypto.S256().Add(p.x, p.y, q.x, q.y)
	return point{x, y}
}

func (p point) neg() point {
	if p.y.Sign() == 0 {
		return p
	}
	return point{new(big.Int).Set(p.x), new(big.Int).Sub(crypto.S256().Params().P, p.y)}
}

// ValidatePoint checks that raw is an uncompressed secp256k1 point.
func ValidatePoint(raw []byte) error {
	_, err := parsePoint(raw)
	return err
}

// GenerateDocumentKey creates a random document key: a curve point whose
// discrete log nobody keeps.
func GenerateDocumentKey() ([]byte, error) {
	key, err := crypto.GenerateKey()
	if err != nil {
		return nil, fmt.Errorf("failed to generate document key: %w", err)
	}
	return crypto.FromECDSAPub(&key.PublicKey), nil
}

// EncryptDocumentKey encrypts the document key point M to a server key Y with
// ElGamal: it returns the common point kG and the encrypted point M + kY.
func EncryptDocumentKey(serverPublic, documentKey []byte) (commonPoint, encryptedPoint []byte, err error) {
	y, err := parsePoint(serverPublic)
	if err != nil {
		return nil, nil, fmt.Errorf("server key: %w", err)
	}
	m, err := parsePoint(documentKey)
	if err != nil {
		return nil, nil, fmt.Errorf("document key: %w", err)
	}

	k, err := crypto.GenerateKey()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to generate blinding key: %w", err)
	}
	defer k.D.SetInt64(0)

	commonPoint = crypto.FromECDSAPub(&k.PublicKey)
	encryptedPoint, err = m.add(y.mul(math.PaddedBigBytes(k.D, 32))).bytes()
	if err != nil {
		return nil, nil, err
	}
	return commonPoint, encryptedPoint, nil
}

// ComputeShadow applies a node's share of the server secret to the common
// point. The shadows of threshold+1 nodes combine into the decryption point.
func ComputeShadow(share, commonPoint []byte) ([]byte, error) {
	if len(share) == 0 || len(share) > 32 {
		return nil, fmt.Errorf("invalid share length %d", len(share))
	}
	c, err := parsePoint(commonPoint)
	if err != nil {
		return nil, fmt.Errorf("common point: %w", err)
	}
	return c.mul(share).bytes()
}

// RecoverDocumentKey interpolates the shadows, keyed by share index, in the
// exponent and removes the result from the encrypted point.
func RecoverDocumentKey(encryptedPoint []byte, shadows map[int][]byte) ([]byte, error) {
	e, err := parsePoint(encryptedPoint)
	if err != nil {
		return nil, fmt.Errorf("encrypted point: %w", err)
	}
	if len(shadows) == 0 {
		return nil, secretsharing.ErrNotEnoughParts
	}

	indices := make([]int, 0, len(shadows))
	for index := range shadows {
		indices = append(indices, index)
	}

	decryption := point{new(big.Int), new(big.Int)}
	for _, index := range indices {
		lambda, err := secretsharing.Lagrange(indices, index)
		if err != nil {
			return nil, err
		}
		s, err := parsePoint(shadows[index])
		if err != nil {
			return nil, fmt.Errorf("shadow %d: %w", index, err)
		}
		decryption = decryption.add(s.mul(math.PaddedBigBytes(lambda, 32)))
	}

	return e.add(decryption.neg()).bytes()
}

// DecryptDocumentKeyShadow decrypts the shadows addressed to the requester and
// recovers the document key from them.
func DecryptDocumentKeyShadow(key *ecdsa.PrivateKey, shadow *interfaces.DocumentKeyShadow) ([]byte, error) {
	shadows := make(map[int][]byte, len(shadow.Shadows))
	for index, encrypted := range shadow.Shadows {
		decrypted, err := DecryptWithPrivateKey(key, encrypted)
		if err != nil {
			return nil, fmt.Errorf("shadow %d: %w", index, err)
		}
		shadows[index] = decrypted
	}
	return RecoverDocumentKey(shadow.EncryptedPoint, shadows)
}

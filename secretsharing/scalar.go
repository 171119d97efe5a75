package secretsharing

import (
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common/math"
	"github.com/ethereum/go-ethereum/crypto"
)

// scalarSize is the byte length of a secp256k1 scalar.
const scalarSize = 32

var curveOrder = crypto.S256().Params().N

// ErrInvalidIndex is returned for share indices outside 1..n or repeated indices.
var ErrInvalidIndex = errors.New("invalid share index")

// SplitScalar shares a secp256k1 private scalar with a random polynomial of
// degree threshold-1 over the curve order. The share at position i is the
// polynomial evaluated at i+1, so any threshold shares recover the secret and
// public points can be combined in the exponent with Lagrange.
func SplitScalar(secret []byte, parts, threshold int) ([][]byte, error) {
	if len(secret) == 0 || len(secret) > scalarSize {
		return nil, fmt.Errorf("invalid scalar length %d", len(secret))
	}
	if threshold < 1 || threshold > parts {
		return nil, fmt.Errorf("%w: %d of %d", ErrInvalidThreshold, threshold, parts)
	}

	s := new(big.Int).SetBytes(secret)
	if s.Sign() == 0 || s.Cmp(curveOrder) >= 0 {
		return nil, errors.New("secret is not a valid scalar")
	}

	coefficients := make([]*big.Int, threshold)
	coefficients[0] = s
	for i := 1; i < threshold; i++ {
		c, err := rand.Int(rand.Reader, curveOrder)
		if err != nil {
			return nil, fmt.Errorf("failed to generate coefficient: %w", err)
		}
		coefficients[i] = c
	}

	shares := make([][]byte, parts)
	for i := range shares {
		shares[i] = math.PaddedBigBytes(evaluate(coefficients, int64(i+1)), scalarSize)
	}

	for _, c := range coefficients {
		c.SetInt64(0)
	}
	return shares, nil
}

// evaluate computes the polynomial at x with Horner's rule.
func evaluate(coefficients []*big.Int, x int64) *big.Int {
	bx := big.NewInt(x)
	y := new(big.Int)
	for i := len(coefficients) - 1; i >= 0; i-- {
		y.Mul(y, bx)
		y.Add(y, coefficients[i])
		y.Mod(y, curveOrder)
	}
	return y
}

// Lagrange returns the coefficient of the share at index when interpolating the
// polynomial at zero from the shares at indices.
func Lagrange(indices []int, index int) (*big.Int, error) {
	seen := make(map[int]bool, len(indices))
	for _, j := range indices {
		if j < 1 || seen[j] {
			return nil, fmt.Errorf("%w: %d", ErrInvalidIndex, j)
		}
		seen[j] = true
	}
	if !seen[index] {
		return nil, fmt.Errorf("%w: %d is not among the participants", ErrInvalidIndex, index)
	}

	num := big.NewInt(1)
	den := big.NewInt(1)
	for _, j := range indices {
		if j == index {
			continue
		}
		num.Mul(num, big.NewInt(int64(j)))
		num.Mod(num, curveOrder)
		den.Mul(den, big.NewInt(int64(j-index)))
		den.Mod(den, curveOrder)
	}

	inv := new(big.Int).ModInverse(den, curveOrder)
	return num.Mul(num, inv).Mod(num, curveOrder), nil
}

// CombineScalar interpolates the secret from shares keyed by their index.
func CombineScalar(shares map[int][]byte, threshold int) ([]byte, error) {
	if len(shares) < threshold {
		return nil, fmt.Errorf("%w: have %d, need %d", ErrNotEnoughParts, len(shares), threshold)
	}

	indices := make([]int, 0, len(shares))
	for index := range shares {
		indices = append(indices, index)
	}

	secret := new(big.Int)
	for _, index := range indices {
		lambda, err := Lagrange(indices, index)
		if err != nil {
			return nil, err
		}
		term := new(big.Int).SetBytes(shares[index])
		term.Mul(term, lambda)
		secret.Add(secret, term)
		secret.Mod(secret, curveOrder)
	}
	return math.PaddedBigBytes(secret, scalarSize), nil
}

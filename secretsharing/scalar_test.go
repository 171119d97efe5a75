package secretsharing

import (
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func randomScalar(t *testing.T) []byte {
	t.Helper()
	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	return crypto.FromECDSA(key)
}

func TestSplitCombineScalar(t *testing.T) {
	testCases := []struct {
		name      string
		parts     int
		threshold int
		subset    []int
	}{
		{name: "single holder", parts: 1, threshold: 1, subset: []int{1}},
		{name: "copies", parts: 3, threshold: 1, subset: []int{3}},
		{name: "two of three", parts: 3, threshold: 2, subset: []int{1, 3}},
		{name: "three of five", parts: 5, threshold: 3, subset: []int{2, 4, 5}},
		{name: "more than needed", parts: 5, threshold: 3, subset: []int{1, 2, 3, 4, 5}},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			secret := randomScalar(t)
			shares, err := SplitScalar(secret, tc.parts, tc.threshold)
			require.NoError(t, err)
			require.Len(t, shares, tc.parts)

			subset := make(map[int][]byte)
			for _, index := range tc.subset {
				require.Len(t, shares[index-1], 32)
				subset[index] = shares[index-1]
			}

			recovered, err := CombineScalar(subset, tc.threshold)
			require.NoError(t, err)
			assert.Equal(t, secret, recovered)
		})
	}
}

func TestCombineScalarTooFewShares(t *testing.T) {
	secret := randomScalar(t)
	shares, err := SplitScalar(secret, 3, 3)
	require.NoError(t, err)

	_, err = CombineScalar(map[int][]byte{1: shares[0], 2: shares[1]}, 3)
	assert.ErrorIs(t, err, ErrNotEnoughParts)

	// below the threshold the interpolation lands on a different value
	wrong, err := CombineScalar(map[int][]byte{1: shares[0], 2: shares[1]}, 2)
	require.NoError(t, err)
	assert.NotEqual(t, secret, wrong)
}

func TestSplitScalarInvalid(t *testing.T) {
	_, err := SplitScalar(randomScalar(t), 3, 4)
	assert.ErrorIs(t, err, ErrInvalidThreshold)

	_, err = SplitScalar(randomScalar(t), 3, 0)
	assert.ErrorIs(t, err, ErrInvalidThreshold)

	_, err = SplitScalar(make([]byte, 32), 3, 2)
	assert.Error(t, err, "zero is not a private scalar")

	_, err = SplitScalar(curveOrder.Bytes(), 3, 2)
	assert.Error(t, err, "scalar must be below the curve order")

	_, err = SplitScalar(make([]byte, 33), 3, 2)
	assert.Error(t, err)
}

func TestLagrange(t *testing.T) {
	lambda, err := Lagrange([]int{4}, 4)
	require.NoError(t, err)
	assert.Equal(t, int64(1), lambda.Int64())

	// interpolating f(x) = x at zero from x=1 and x=2: 2*f(1) - f(2) = 0
	l1, err := Lagrange([]int{1, 2}, 1)
	require.NoError(t, err)
	l2, err := Lagrange([]int{1, 2}, 2)
	require.NoError(t, err)
	assert.Equal(t, int64(2), l1.Int64())
	assert.Equal(t, new(big.Int).Sub(curveOrder, big.NewInt(1)), l2)

	_, err = Lagrange([]int{1, 2}, 3)
	assert.ErrorIs(t, err, ErrInvalidIndex)

	_, err = Lagrange([]int{1, 1}, 1)
	assert.ErrorIs(t, err, ErrInvalidIndex)

	_, err = Lagrange([]int{0, 1}, 1)
	assert.ErrorIs(t, err, ErrInvalidIndex)
}

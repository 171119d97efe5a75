package cryptoutils

import (
	"testing"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ruteri/tee-secret-store/interfaces"
	"github.com/ruteri/tee-secret-store/secretsharing"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDocumentKeyThresholdDecryption(t *testing.T) {
	server, err := crypto.GenerateKey()
	require.NoError(t, err)
	serverPublic := crypto.FromECDSAPub(&server.PublicKey)

	documentKey, err := GenerateDocumentKey()
	require.NoError(t, err)
	require.NoError(t, ValidatePoint(documentKey))

	commonPoint, encryptedPoint, err := EncryptDocumentKey(serverPublic, documentKey)
	require.NoError(t, err)
	assert.NotEqual(t, documentKey, encryptedPoint)

	shares, err := secretsharing.SplitScalar(crypto.FromECDSA(server), 5, 3)
	require.NoError(t, err)

	for _, subset := range [][]int{{1, 2, 3}, {2, 4, 5}, {1, 3, 5}, {1, 2, 3, 4, 5}} {
		shadows := make(map[int][]byte)
		for _, index := range subset {
			shadow, err := ComputeShadow(shares[index-1], commonPoint)
			require.NoError(t, err)
			shadows[index] = shadow
		}

		restored, err := RecoverDocumentKey(encryptedPoint, shadows)
		require.NoError(t, err)
		assert.Equal(t, documentKey, restored, "subset %v", subset)
	}

	// two shadows are not enough
	shadows := make(map[int][]byte)
	for _, index := range []int{1, 2} {
		shadow, err := ComputeShadow(shares[index-1], commonPoint)
		require.NoError(t, err)
		shadows[index] = shadow
	}
	restored, err := RecoverDocumentKey(encryptedPoint, shadows)
	require.NoError(t, err)
	assert.NotEqual(t, documentKey, restored)
}

func TestDocumentKeySingleHolder(t *testing.T) {
	server, err := crypto.GenerateKey()
	require.NoError(t, err)
	documentKey, err := GenerateDocumentKey()
	require.NoError(t, err)

	commonPoint, encryptedPoint, err := EncryptDocumentKey(crypto.FromECDSAPub(&server.PublicKey), documentKey)
	require.NoError(t, err)

	shadow, err := ComputeShadow(crypto.FromECDSA(server), commonPoint)
	require.NoError(t, err)
	restored, err := RecoverDocumentKey(encryptedPoint, map[int][]byte{1: shadow})
	require.NoError(t, err)
	assert.Equal(t, documentKey, restored)
}

func TestDecryptDocumentKeyShadow(t *testing.T) {
	requester, err := GenerateNodeKey()
	require.NoError(t, err)
	server, err := crypto.GenerateKey()
	require.NoError(t, err)
	documentKey, err := GenerateDocumentKey()
	require.NoError(t, err)

	commonPoint, encryptedPoint, err := EncryptDocumentKey(crypto.FromECDSAPub(&server.PublicKey), documentKey)
	require.NoError(t, err)
	shares, err := secretsharing.SplitScalar(crypto.FromECDSA(server), 3, 2)
	require.NoError(t, err)

	shadow := &interfaces.DocumentKeyShadow{
		CommonPoint:    commonPoint,
		EncryptedPoint: encryptedPoint,
		Shadows:        make(map[int]hexutil.Bytes),
	}
	for _, index := range []int{1, 3} {
		s, err := ComputeShadow(shares[index-1], commonPoint)
		require.NoError(t, err)
		encrypted, err := EncryptWithPublicKey(&requester.PublicKey, s)
		require.NoError(t, err)
		shadow.Shadows[index] = encrypted
	}

	restored, err := DecryptDocumentKeyShadow(requester, shadow)
	require.NoError(t, err)
	assert.Equal(t, documentKey, restored)

	other, err := GenerateNodeKey()
	require.NoError(t, err)
	_, err = DecryptDocumentKeyShadow(other, shadow)
	assert.Error(t, err)
}

func TestInvalidPoints(t *testing.T) {
	documentKey, err := GenerateDocumentKey()
	require.NoError(t, err)

	assert.ErrorIs(t, ValidatePoint([]byte{4, 1, 2}), ErrInvalidPoint)

	_, _, err = EncryptDocumentKey([]byte{4}, documentKey)
	assert.ErrorIs(t, err, ErrInvalidPoint)

	_, err = ComputeShadow([]byte{1}, []byte("not a point"))
	assert.ErrorIs(t, err, ErrInvalidPoint)

	_, err = RecoverDocumentKey(documentKey, map[int][]byte{1: {4, 4}})
	assert.ErrorIs(t, err, ErrInvalidPoint)

	_, err = RecoverDocumentKey(documentKey, nil)
	assert.ErrorIs(t, err, secretsharing.ErrNotEnoughParts)

	// the shadow of the encrypted point itself cancels it out
	_, err = RecoverDocumentKey(documentKey, map[int][]byte{1: documentKey})
	assert.ErrorIs(t, err, ErrInvalidPoint)
}

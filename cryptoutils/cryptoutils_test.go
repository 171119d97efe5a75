package cryptoutils

import (
	"crypto/rand"
	"encoding/hex"
	"os"
	"path/filepath"
	"testing"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ruteri/tee-secret-store/interfaces"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncryptionDecryption(t *testing.T) {
	key, err := GenerateNodeKey()
	require.NoError(t, err)

	testCases := []struct {
		name string
		data []byte
	}{
		{
			name: "Simple string",
			data: []byte("This is a secret message"),
		},
		{
			name: "Binary data",
			data: []byte{0x00, 0x01, 0x02, 0x03, 0xFF, 0xFE, 0xFD},
		},
		{
			name: "Key share",
			data: make([]byte, 33),
		},
		{
			name: "Long data",
			data: make([]byte, 1024),
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			encryptedData, err := EncryptForNode(NodeID(key), tc.data)
			require.NoError(t, err)
			require.Greater(t, len(encryptedData), len(tc.data))

			decryptedData, err := DecryptWithNodeKey(key, encryptedData)
			require.NoError(t, err)
			require.Equal(t, tc.data, decryptedData)
		})
	}
}

func TestDecryptionWithWrongKey(t *testing.T) {
	key1, err := GenerateNodeKey()
	require.NoError(t, err)
	key2, err := GenerateNodeKey()
	require.NoError(t, err)

	encryptedData, err := EncryptWithPublicKey(&key1.PublicKey, []byte("Top secret data"))
	require.NoError(t, err)

	_, err = DecryptWithPrivateKey(key2, encryptedData)
	require.Error(t, err)

	_, err = DecryptWithPrivateKey(key1, encryptedData[:10])
	require.Error(t, err)
}

func TestLoadNodeKey(t *testing.T) {
	key, err := GenerateNodeKey()
	require.NoError(t, err)
	keyHex := hex.EncodeToString(crypto.FromECDSA(key))

	loaded, err := LoadNodeKey(keyHex)
	require.NoError(t, err)
	assert.Equal(t, NodeID(key), NodeID(loaded))

	loaded, err = LoadNodeKey("0x" + keyHex)
	require.NoError(t, err)
	assert.Equal(t, NodeID(key), NodeID(loaded))

	path := filepath.Join(t.TempDir(), "node.key")
	require.NoError(t, crypto.SaveECDSA(path, key))
	loaded, err = LoadNodeKey(path)
	require.NoError(t, err)
	assert.Equal(t, NodeID(key), NodeID(loaded))

	_, err = LoadNodeKey("")
	assert.Error(t, err)

	_, err = LoadNodeKey(filepath.Join(t.TempDir(), "missing"))
	assert.Error(t, err)

	garbage := filepath.Join(t.TempDir(), "garbage.key")
	require.NoError(t, os.WriteFile(garbage, []byte("not a key"), 0600))
	_, err = LoadNodeKey(garbage)
	assert.Error(t, err)
}

func TestPublicKeyBytes(t *testing.T) {
	key, err := GenerateNodeKey()
	require.NoError(t, err)

	raw := PublicKeyBytes(&key.PublicKey)
	require.Len(t, raw, 64)

	pub, err := PublicKeyFromBytes(raw)
	require.NoError(t, err)
	assert.True(t, pub.Equal(&key.PublicKey))

	_, err = PublicKeyFromBytes(raw[:63])
	assert.Error(t, err)
}

func TestSignKeyID(t *testing.T) {
	key, err := GenerateNodeKey()
	require.NoError(t, err)

	var id interfaces.ServerKeyID
	_, err = rand.Read(id[:])
	require.NoError(t, err)

	sig, err := SignKeyID(key, id)
	require.NoError(t, err)

	addr, pub, err := RecoverRequester(id, sig)
	require.NoError(t, err)
	assert.Equal(t, crypto.PubkeyToAddress(key.PublicKey), addr)
	assert.True(t, pub.Equal(&key.PublicKey))

	var other interfaces.ServerKeyID
	other[0] = 1
	addr, _, err = RecoverRequester(other, sig)
	require.NoError(t, err)
	assert.NotEqual(t, crypto.PubkeyToAddress(key.PublicKey), addr, "Signature over another key id recovers another address")

	_, _, err = RecoverRequester(id, sig[:64])
	assert.ErrorIs(t, err, interfaces.ErrBadSignature)
}

func TestSignMessage(t *testing.T) {
	key, err := GenerateNodeKey()
	require.NoError(t, err)
	other, err := GenerateNodeKey()
	require.NoError(t, err)

	body := []byte(`{"kind":"keygen"}`)
	sig, err := SignMessage(key, body)
	require.NoError(t, err)

	assert.NoError(t, VerifyMessage(NodeID(key), body, sig))
	assert.ErrorIs(t, VerifyMessage(NodeID(other), body, sig), interfaces.ErrBadSignature)
	assert.ErrorIs(t, VerifyMessage(NodeID(key), []byte("tampered"), sig), interfaces.ErrBadSignature)
	assert.ErrorIs(t, VerifyMessage(NodeID(key), body, nil), interfaces.ErrBadSignature)
}

func TestPassphraseSealer(t *testing.T) {
	sealer, err := NewPassphraseSealer([]byte("passphrase"), []byte("node-1"))
	require.NoError(t, err)

	plaintext := []byte("key share")
	sealed, err := sealer.Seal(plaintext, []byte("key-id"))
	require.NoError(t, err)
	assert.NotContains(t, string(sealed), string(plaintext))

	opened, err := sealer.Open(sealed, []byte("key-id"))
	require.NoError(t, err)
	assert.Equal(t, plaintext, opened)

	_, err = sealer.Open(sealed, []byte("other-key-id"))
	assert.Error(t, err, "Additional data is authenticated")

	otherNode, err := NewPassphraseSealer([]byte("passphrase"), []byte("node-2"))
	require.NoError(t, err)
	_, err = otherNode.Open(sealed, []byte("key-id"))
	assert.Error(t, err, "Salt changes the derived key")

	_, err = sealer.Open(sealed[:10], nil)
	assert.Error(t, err)

	_, err = NewPassphraseSealer(nil, nil)
	assert.Error(t, err)
}

func TestNoopSealer(t *testing.T) {
	sealed, err := NoopSealer{}.Seal([]byte("data"), nil)
	require.NoError(t, err)
	opened, err := NoopSealer{}.Open(sealed, nil)
	require.NoError(t, err)
	assert.Equal(t, []byte("data"), opened)
}

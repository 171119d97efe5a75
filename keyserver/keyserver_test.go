package keyserver

import (
	"context"
	"crypto/ecdsa"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ruteri/tee-secret-store/acl"
	"github.com/ruteri/tee-secret-store/api"
	"github.com/ruteri/tee-secret-store/cluster"
	"github.com/ruteri/tee-secret-store/cluster/clustertest"
	"github.com/ruteri/tee-secret-store/cryptoutils"
	"github.com/ruteri/tee-secret-store/interfaces"
	"github.com/ruteri/tee-secret-store/jobs"
	"github.com/ruteri/tee-secret-store/jobs/jobstest"
	"github.com/ruteri/tee-secret-store/jobs/restore"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testCluster struct {
	nodes   []*jobstest.Node
	net     *clustertest.Network
	servers []*KeyServer
}

func newTestCluster(t *testing.T, n int, acls ...interfaces.AclStorage) *testCluster {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	nodes := jobstest.NewNodes(t, n)
	ids := jobstest.IDs(nodes)
	net := clustertest.NewNetwork()

	servers := make([]*KeyServer, n)
	for i, node := range nodes {
		var nodeACL interfaces.AclStorage = acl.AllowAll{}
		if i < len(acls) {
			nodeACL = acls[i]
		}
		c := net.Join(t, node.ID, ids, 5*time.Second)
		servers[i] = New(c, node.Storage, nodeACL, node.Key, logger)
	}
	return &testCluster{nodes: nodes, net: net, servers: servers}
}

func sign(t *testing.T, key *ecdsa.PrivateKey, id interfaces.ServerKeyID) interfaces.RequestSignature {
	t.Helper()
	sig, err := cryptoutils.SignKeyID(key, id)
	require.NoError(t, err)
	return sig
}

func waitForShares(t *testing.T, tc *testCluster, id interfaces.ServerKeyID) {
	t.Helper()
	for _, node := range tc.nodes {
		require.Eventually(t, func() bool {
			share, err := node.Storage.Get(context.Background(), id)
			return err == nil && share.HasDocumentKey()
		}, time.Second, 10*time.Millisecond)
	}
}

func TestGenerateAndRestore(t *testing.T) {
	ctx := context.Background()
	tc := newTestCluster(t, 3)

	requester, err := crypto.GenerateKey()
	require.NoError(t, err)
	id := interfaces.ServerKeyID(crypto.Keccak256Hash([]byte("document")))
	sig := sign(t, requester, id)

	encrypted, err := tc.servers[0].GenerateDocumentKey(ctx, id, sig, 1)
	require.NoError(t, err)
	documentKey, err := cryptoutils.DecryptWithPrivateKey(requester, encrypted)
	require.NoError(t, err)
	require.NoError(t, cryptoutils.ValidatePoint(documentKey))

	for _, node := range tc.nodes {
		share, err := node.Storage.Get(ctx, id)
		require.NoError(t, err, "Every node confirmed its share before generation returned")
		assert.True(t, share.HasDocumentKey())
		assert.Equal(t, crypto.PubkeyToAddress(requester.PublicKey), share.Author)
	}

	public, err := tc.servers[1].ServerPublicKey(ctx, id, sig)
	require.NoError(t, err)
	require.Len(t, public, 65)

	consensus, err := tc.servers[1].CheckAccess(ctx, id, sig)
	require.NoError(t, err)
	assert.Equal(t, crypto.PubkeyToAddress(requester.PublicKey), consensus.Requester)
	assert.GreaterOrEqual(t, len(consensus.Nodes), 2)

	encrypted, err = tc.servers[2].RestoreDocumentKey(ctx, id, sig)
	require.NoError(t, err)
	restored, err := cryptoutils.DecryptWithPrivateKey(requester, encrypted)
	require.NoError(t, err)
	assert.Equal(t, documentKey, restored)

	shadow, err := tc.servers[1].RestoreDocumentKeyShadow(ctx, id, sig)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, len(shadow.Shadows), 2)
	restored, err = cryptoutils.DecryptDocumentKeyShadow(requester, shadow)
	require.NoError(t, err)
	assert.Equal(t, documentKey, restored)
}

func TestStoreDocumentKey(t *testing.T) {
	ctx := context.Background()
	tc := newTestCluster(t, 3)

	author, err := crypto.GenerateKey()
	require.NoError(t, err)
	stranger, err := crypto.GenerateKey()
	require.NoError(t, err)
	id := interfaces.ServerKeyID{6}
	sig := sign(t, author, id)

	serverPublic, err := tc.servers[0].GenerateServerKey(ctx, id, sig, 1)
	require.NoError(t, err)

	_, err = tc.servers[1].RestoreDocumentKey(ctx, id, sig)
	assert.ErrorIs(t, err, interfaces.ErrDocumentKeyNotFound)

	documentKey, err := cryptoutils.GenerateDocumentKey()
	require.NoError(t, err)
	commonPoint, encryptedPoint, err := cryptoutils.EncryptDocumentKey(serverPublic, documentKey)
	require.NoError(t, err)

	err = tc.servers[1].StoreDocumentKey(ctx, id, sign(t, stranger, id), commonPoint, encryptedPoint)
	assert.ErrorIs(t, err, interfaces.ErrAccessDenied)

	err = tc.servers[1].StoreDocumentKey(ctx, id, sig, []byte{4, 2}, encryptedPoint)
	assert.ErrorIs(t, err, cryptoutils.ErrInvalidPoint)

	require.NoError(t, tc.servers[1].StoreDocumentKey(ctx, id, sig, commonPoint, encryptedPoint))
	waitForShares(t, tc, id)

	err = tc.servers[2].StoreDocumentKey(ctx, id, sig, commonPoint, encryptedPoint)
	assert.ErrorIs(t, err, interfaces.ErrDocumentKeyExists)

	// any requester the ACL allows may restore it, not only the author
	encrypted, err := tc.servers[0].RestoreDocumentKey(ctx, id, sign(t, stranger, id))
	require.NoError(t, err)
	restored, err := cryptoutils.DecryptWithPrivateKey(stranger, encrypted)
	require.NoError(t, err)
	assert.Equal(t, documentKey, restored)
}

func TestRestoreWithNodeDown(t *testing.T) {
	ctx := context.Background()
	tc := newTestCluster(t, 3)

	requester, err := crypto.GenerateKey()
	require.NoError(t, err)
	id := interfaces.ServerKeyID{1}
	sig := sign(t, requester, id)

	encrypted, err := tc.servers[0].GenerateDocumentKey(ctx, id, sig, 1)
	require.NoError(t, err)
	documentKey, err := cryptoutils.DecryptWithPrivateKey(requester, encrypted)
	require.NoError(t, err)
	waitForShares(t, tc, id)

	tc.net.Disconnect(tc.nodes[2].ID)

	encrypted, err = tc.servers[0].RestoreDocumentKey(ctx, id, sig)
	require.NoError(t, err)
	restored, err := cryptoutils.DecryptWithPrivateKey(requester, encrypted)
	require.NoError(t, err)
	assert.Equal(t, documentKey, restored)
}

// A master which skips its own ACL still depends on the holders' ACLs.
func TestRestoreEnforcedByEveryHolder(t *testing.T) {
	ctx := context.Background()

	nobody, err := acl.NewStaticACL(nil)
	require.NoError(t, err)
	tc := newTestCluster(t, 3, nobody, nobody, nobody)

	requester, err := crypto.GenerateKey()
	require.NoError(t, err)
	id := interfaces.ServerKeyID{7}
	sig := sign(t, requester, id)

	_, err = tc.servers[0].GenerateDocumentKey(ctx, id, sig, 1)
	require.NoError(t, err)
	waitForShares(t, tc, id)

	_, err = tc.servers[0].RestoreDocumentKey(ctx, id, sig)
	assert.ErrorIs(t, err, interfaces.ErrAccessDenied)

	share, err := tc.nodes[0].Storage.Get(ctx, id)
	require.NoError(t, err)
	executor := restore.NewMasterExecutor(ctx, tc.nodes[0].Storage, acl.AllowAll{}, tc.nodes[0].Key, share, sig, false)
	_, err = cluster.RunMaster[*restore.Request, *restore.Response, *restore.Result](ctx, tc.servers[0].cluster, api.JobKeyRestore, share.Threshold, share.Nodes, executor)
	assert.ErrorIs(t, err, jobs.ErrConsensusUnreachable)

	shadowExecutor := restore.NewMasterExecutor(ctx, tc.nodes[0].Storage, acl.AllowAll{}, tc.nodes[0].Key, share, sig, true)
	_, err = cluster.RunMaster[*restore.Request, *restore.Response, *restore.Result](ctx, tc.servers[0].cluster, api.JobKeyRestore, share.Threshold, share.Nodes, shadowExecutor)
	assert.ErrorIs(t, err, jobs.ErrConsensusUnreachable)
}

func TestGenerateServerKeyErrors(t *testing.T) {
	ctx := context.Background()
	tc := newTestCluster(t, 2)

	requester, err := crypto.GenerateKey()
	require.NoError(t, err)
	id := interfaces.ServerKeyID{2}
	sig := sign(t, requester, id)

	_, err = tc.servers[0].GenerateServerKey(ctx, id, []byte{1, 2, 3}, 1)
	assert.ErrorIs(t, err, interfaces.ErrBadSignature)

	_, err = tc.servers[0].GenerateServerKey(ctx, id, sig, 2)
	assert.ErrorIs(t, err, ErrInvalidThreshold)

	_, err = tc.servers[0].GenerateServerKey(ctx, id, sig, -1)
	assert.ErrorIs(t, err, ErrInvalidThreshold)

	_, err = tc.servers[0].GenerateServerKey(ctx, id, sig, 1)
	require.NoError(t, err)

	_, err = tc.servers[0].GenerateServerKey(ctx, id, sig, 1)
	assert.ErrorIs(t, err, interfaces.ErrKeyAlreadyExists)
}

func TestAccessDenied(t *testing.T) {
	ctx := context.Background()

	allowed, err := crypto.GenerateKey()
	require.NoError(t, err)
	denied, err := crypto.GenerateKey()
	require.NoError(t, err)
	id := interfaces.ServerKeyID{3}

	static, err := acl.NewStaticACL(map[string][]common.Address{
		acl.AnyKey: {crypto.PubkeyToAddress(allowed.PublicKey)},
	})
	require.NoError(t, err)
	tc := newTestCluster(t, 2, static, static)

	_, err = tc.servers[0].GenerateServerKey(ctx, id, sign(t, allowed, id), 1)
	require.NoError(t, err)

	_, err = tc.servers[0].CheckAccess(ctx, id, sign(t, denied, id))
	assert.ErrorIs(t, err, interfaces.ErrAccessDenied)

	_, err = tc.servers[0].RestoreDocumentKey(ctx, id, sign(t, denied, id))
	assert.ErrorIs(t, err, interfaces.ErrAccessDenied)

	_, err = tc.servers[0].CheckAccess(ctx, id, sign(t, allowed, id))
	assert.NoError(t, err)
}

func TestAccessRejectedByPeers(t *testing.T) {
	ctx := context.Background()

	requester, err := crypto.GenerateKey()
	require.NoError(t, err)
	id := interfaces.ServerKeyID{4}

	nobody, err := acl.NewStaticACL(nil)
	require.NoError(t, err)
	tc := newTestCluster(t, 2, acl.AllowAll{}, nobody)

	_, err = tc.servers[0].GenerateServerKey(ctx, id, sign(t, requester, id), 1)
	require.NoError(t, err)

	_, err = tc.servers[0].CheckAccess(ctx, id, sign(t, requester, id))
	assert.Error(t, err)
	assert.NotErrorIs(t, err, interfaces.ErrAccessDenied)
}

func TestUnknownKey(t *testing.T) {
	ctx := context.Background()
	tc := newTestCluster(t, 2)

	requester, err := crypto.GenerateKey()
	require.NoError(t, err)
	id := interfaces.ServerKeyID{5}

	_, err = tc.servers[0].CheckAccess(ctx, id, sign(t, requester, id))
	assert.ErrorIs(t, err, interfaces.ErrKeyNotFound)

	_, err = tc.servers[0].RestoreDocumentKey(ctx, id, sign(t, requester, id))
	assert.ErrorIs(t, err, interfaces.ErrKeyNotFound)

	_, err = tc.servers[0].RestoreDocumentKeyShadow(ctx, id, sign(t, requester, id))
	assert.ErrorIs(t, err, interfaces.ErrKeyNotFound)

	documentKey, err := cryptoutils.GenerateDocumentKey()
	require.NoError(t, err)
	err = tc.servers[0].StoreDocumentKey(ctx, id, sign(t, requester, id), documentKey, documentKey)
	assert.ErrorIs(t, err, interfaces.ErrKeyNotFound)
}

package docstore

import (
	"context"
	"crypto/ecdsa"
	"testing"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ruteri/tee-secret-store/cryptoutils"
	"github.com/ruteri/tee-secret-store/interfaces"
	"github.com/ruteri/tee-secret-store/jobs"
	"github.com/ruteri/tee-secret-store/jobs/jobstest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fixture struct {
	nodes          []*jobstest.Node
	id             interfaces.ServerKeyID
	author         *ecdsa.PrivateKey
	commonPoint    []byte
	encryptedPoint []byte
}

// newFixture stores a server key authored by a fresh requester on every node
// but those in missing and encrypts a document key to it.
func newFixture(t *testing.T, n int, id interfaces.ServerKeyID, missing ...int) *fixture {
	t.Helper()
	nodes := jobstest.NewNodes(t, n)
	author, err := crypto.GenerateKey()
	require.NoError(t, err)
	server, err := crypto.GenerateKey()
	require.NoError(t, err)
	serverPublic := crypto.FromECDSAPub(&server.PublicKey)

	for i, node := range nodes {
		if contains(missing, i) {
			continue
		}
		require.NoError(t, node.Storage.Insert(context.Background(), &interfaces.KeyShare{
			ID:           id,
			Threshold:    1,
			Author:       crypto.PubkeyToAddress(author.PublicKey),
			ServerPublic: serverPublic,
			Share:        crypto.FromECDSA(server),
			Nodes:        jobstest.IDs(nodes),
		}))
	}

	documentKey, err := cryptoutils.GenerateDocumentKey()
	require.NoError(t, err)
	commonPoint, encryptedPoint, err := cryptoutils.EncryptDocumentKey(serverPublic, documentKey)
	require.NoError(t, err)

	return &fixture{nodes: nodes, id: id, author: author, commonPoint: commonPoint, encryptedPoint: encryptedPoint}
}

func contains(list []int, v int) bool {
	for _, x := range list {
		if x == v {
			return true
		}
	}
	return false
}

func (f *fixture) sign(t *testing.T, key *ecdsa.PrivateKey) interfaces.RequestSignature {
	t.Helper()
	sig, err := cryptoutils.SignKeyID(key, f.id)
	require.NoError(t, err)
	return sig
}

// run stores the document key with every share holder required to confirm.
func (f *fixture) run(t *testing.T, signature interfaces.RequestSignature) (*jobs.MasterSession[*Request, *Response, []interfaces.NodeID], error) {
	t.Helper()
	ctx := context.Background()
	net := jobstest.NewNetwork[*Request, *Response, []interfaces.NodeID]()
	master := f.nodes[0]

	share, err := master.Storage.Get(ctx, f.id)
	require.NoError(t, err)
	threshold := len(share.Nodes) - 1

	executor := NewMasterExecutor(ctx, master.Storage, share, signature, f.commonPoint, f.encryptedPoint)
	session, err := jobs.NewMasterSession[*Request, *Response, []interfaces.NodeID](jobs.SessionMeta{Master: master.ID, Self: master.ID, Threshold: threshold}, executor, net.Transport(master.ID))
	require.NoError(t, err)
	net.SetMaster(session)

	for _, node := range f.nodes[1:] {
		slave, err := jobs.NewSlaveSession[*Request, *Response, []interfaces.NodeID](jobs.SessionMeta{Master: master.ID, Self: node.ID, Threshold: threshold}, NewSlaveExecutor(ctx, node.Storage), net.Transport(node.ID))
		require.NoError(t, err)
		net.AddSlave(node.ID, slave)
	}

	if err := session.Initialize(share.Nodes); err != nil {
		return session, err
	}
	return session, net.Pump()
}

func TestStoreDocumentKey(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, 3, interfaces.ServerKeyID{1})

	session, err := f.run(t, f.sign(t, f.author))
	require.NoError(t, err)
	require.Equal(t, jobs.StateFinished, session.State())

	stored, err := session.Result()
	require.NoError(t, err)
	assert.Equal(t, jobstest.IDs(f.nodes), stored)

	for _, node := range f.nodes {
		share, err := node.Storage.Get(ctx, f.id)
		require.NoError(t, err)
		assert.Equal(t, f.commonPoint, []byte(share.CommonPoint))
		assert.Equal(t, f.encryptedPoint, []byte(share.EncryptedPoint))
	}

	// storing the same key again is a no-op
	session, err = f.run(t, f.sign(t, f.author))
	require.NoError(t, err)
	assert.Equal(t, jobs.StateFinished, session.State())
}

func TestStoreDocumentKeyRequiresEveryHolder(t *testing.T) {
	f := newFixture(t, 3, interfaces.ServerKeyID{2}, 2)

	session, err := f.run(t, f.sign(t, f.author))
	assert.ErrorIs(t, err, jobs.ErrConsensusUnreachable)
	assert.Equal(t, jobs.StateFailed, session.State())
}

func TestStoreDocumentKeyOnlyByAuthor(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, 2, interfaces.ServerKeyID{3})
	stranger, err := crypto.GenerateKey()
	require.NoError(t, err)

	session, err := f.run(t, f.sign(t, stranger))
	assert.ErrorIs(t, err, jobs.ErrConsensusUnreachable)
	assert.Equal(t, jobs.StateFailed, session.State())

	share, err := f.nodes[1].Storage.Get(ctx, f.id)
	require.NoError(t, err)
	assert.False(t, share.HasDocumentKey())
}

func TestStoreDocumentKeyNotOverwritten(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, 2, interfaces.ServerKeyID{4})

	_, err := f.run(t, f.sign(t, f.author))
	require.NoError(t, err)

	first := f.encryptedPoint
	f.encryptedPoint = f.commonPoint
	session, err := f.run(t, f.sign(t, f.author))
	assert.ErrorIs(t, err, jobs.ErrConsensusUnreachable)
	assert.Equal(t, jobs.StateFailed, session.State())

	share, err := f.nodes[1].Storage.Get(ctx, f.id)
	require.NoError(t, err)
	assert.Equal(t, first, []byte(share.EncryptedPoint))
}

func TestProcessPartialRequestValidation(t *testing.T) {
	f := newFixture(t, 2, interfaces.ServerKeyID{5})
	slave := NewSlaveExecutor(context.Background(), f.nodes[1].Storage)

	_, err := slave.ProcessPartialRequest(&Request{KeyID: f.id, Signature: []byte{1}, CommonPoint: f.commonPoint, EncryptedPoint: f.encryptedPoint})
	assert.ErrorIs(t, err, jobs.ErrInvalidMessage)

	_, err = slave.ProcessPartialRequest(&Request{KeyID: f.id, Signature: []byte(f.sign(t, f.author)), CommonPoint: []byte{4, 1}, EncryptedPoint: f.encryptedPoint})
	assert.ErrorIs(t, err, jobs.ErrInvalidMessage)

	unknown := interfaces.ServerKeyID{6}
	sig, err := cryptoutils.SignKeyID(f.author, unknown)
	require.NoError(t, err)
	reply, err := slave.ProcessPartialRequest(&Request{KeyID: unknown, Signature: []byte(sig), CommonPoint: f.commonPoint, EncryptedPoint: f.encryptedPoint})
	require.NoError(t, err)
	assert.True(t, reply.Rejected)
	assert.False(t, reply.Response.Stored)
}

func TestCheckPartialResponse(t *testing.T) {
	f := newFixture(t, 2, interfaces.ServerKeyID{7})
	share, err := f.nodes[0].Storage.Get(context.Background(), f.id)
	require.NoError(t, err)
	executor := NewMasterExecutor(context.Background(), f.nodes[0].Storage, share, f.sign(t, f.author), f.commonPoint, f.encryptedPoint)

	action, err := executor.CheckPartialResponse(f.nodes[1].ID, &Response{KeyID: interfaces.ServerKeyID{8}, Stored: true})
	require.NoError(t, err)
	assert.Equal(t, jobs.ResponseIgnore, action)

	action, err = executor.CheckPartialResponse(f.nodes[1].ID, &Response{KeyID: f.id})
	require.NoError(t, err)
	assert.Equal(t, jobs.ResponseReject, action)

	action, err = executor.CheckPartialResponse(f.nodes[1].ID, &Response{KeyID: f.id, Stored: true})
	require.NoError(t, err)
	assert.Equal(t, jobs.ResponseAccept, action)

	_, err = executor.PreparePartialRequest(interfaces.NodeID{9}, jobstest.IDs(f.nodes))
	assert.Error(t, err)
}


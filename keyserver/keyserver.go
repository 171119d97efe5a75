// Package keyserver serves requester operations on top of the cluster:
// server and document key generation, access consensus, document key storage
// and restoration.
package keyserver

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"log/slog"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ruteri/tee-secret-store/api"
	"github.com/ruteri/tee-secret-store/cluster"
	"github.com/ruteri/tee-secret-store/cryptoutils"
	"github.com/ruteri/tee-secret-store/interfaces"
	"github.com/ruteri/tee-secret-store/jobs"
	"github.com/ruteri/tee-secret-store/jobs/access"
	"github.com/ruteri/tee-secret-store/jobs/docstore"
	"github.com/ruteri/tee-secret-store/jobs/keygen"
	"github.com/ruteri/tee-secret-store/jobs/restore"
	"github.com/ruteri/tee-secret-store/secretsharing"
)

// ErrInvalidThreshold is returned when a key cannot be shared with the requested threshold.
var ErrInvalidThreshold = errors.New("invalid threshold")

type KeyServer struct {
	cluster *cluster.Cluster
	storage interfaces.KeyStorage
	acl     interfaces.AclStorage
	key     *ecdsa.PrivateKey
	log     *slog.Logger
}

var _ interfaces.KeyServer = (*KeyServer)(nil)

// New creates the key server of a node and registers how the node answers
// requests of every job.
func New(c *cluster.Cluster, storage interfaces.KeyStorage, acl interfaces.AclStorage, key *ecdsa.PrivateKey, log *slog.Logger) *KeyServer {
	cluster.RegisterSlave(c, api.JobKeyGeneration, func(ctx context.Context, _ jobs.SessionMeta) (jobs.Executor[*keygen.Request, *keygen.Response, []byte], error) {
		return keygen.NewSlaveExecutor(ctx, key, storage), nil
	})
	cluster.RegisterSlave(c, api.JobKeyAccess, func(ctx context.Context, _ jobs.SessionMeta) (jobs.Executor[*access.Request, *access.Response, *interfaces.AccessConsensus], error) {
		return access.NewSlaveExecutor(ctx, acl), nil
	})
	cluster.RegisterSlave(c, api.JobDocumentStore, func(ctx context.Context, _ jobs.SessionMeta) (jobs.Executor[*docstore.Request, *docstore.Response, []interfaces.NodeID], error) {
		return docstore.NewSlaveExecutor(ctx, storage), nil
	})
	cluster.RegisterSlave(c, api.JobKeyRestore, func(ctx context.Context, meta jobs.SessionMeta) (jobs.Executor[*restore.Request, *restore.Response, *restore.Result], error) {
		return restore.NewSlaveExecutor(ctx, storage, acl, meta.Self, meta.Master), nil
	})

	return &KeyServer{
		cluster: c,
		storage: storage,
		acl:     acl,
		key:     key,
		log:     log,
	}
}

// GenerateServerKey generates a key shared by every cluster node, any
// threshold+1 of which can use it. Every node has to confirm it stored its share.
func (s *KeyServer) GenerateServerKey(ctx context.Context, id interfaces.ServerKeyID, signature interfaces.RequestSignature, threshold int) ([]byte, error) {
	requester, _, err := cryptoutils.RecoverRequester(id, signature)
	if err != nil {
		return nil, err
	}
	return s.generateServerKey(ctx, id, requester, threshold)
}

func (s *KeyServer) generateServerKey(ctx context.Context, id interfaces.ServerKeyID, requester common.Address, threshold int) ([]byte, error) {
	nodes := s.cluster.Nodes()
	if threshold < 0 || threshold >= len(nodes) {
		return nil, fmt.Errorf("%w: %d for %d nodes", ErrInvalidThreshold, threshold, len(nodes))
	}

	exists, err := s.storage.Contains(ctx, id)
	if err != nil {
		return nil, err
	}
	if exists {
		return nil, fmt.Errorf("%w: %s", interfaces.ErrKeyAlreadyExists, id)
	}

	executor, err := keygen.NewMasterExecutor(ctx, id, threshold, requester, s.key, s.storage)
	if err != nil {
		return nil, err
	}

	s.log.Info("generating server key", "key", id.String(), "requester", requester.Hex(), "threshold", threshold)
	return cluster.RunMaster[*keygen.Request, *keygen.Response, []byte](ctx, s.cluster, api.JobKeyGeneration, len(nodes)-1, nodes, executor)
}

// ServerPublicKey returns the public key of a server key the requester may access.
func (s *KeyServer) ServerPublicKey(ctx context.Context, id interfaces.ServerKeyID, signature interfaces.RequestSignature) ([]byte, error) {
	share, err := s.authorizedShare(ctx, id, signature)
	if err != nil {
		return nil, err
	}
	secretsharing.Wipe(share.Share)
	return share.ServerPublic, nil
}

// CheckAccess runs the access consensus among the holders of the key.
func (s *KeyServer) CheckAccess(ctx context.Context, id interfaces.ServerKeyID, signature interfaces.RequestSignature) (*interfaces.AccessConsensus, error) {
	share, err := s.authorizedShare(ctx, id, signature)
	if err != nil {
		return nil, err
	}
	secretsharing.Wipe(share.Share)

	executor, err := access.NewMasterExecutor(ctx, s.acl, id, signature)
	if err != nil {
		return nil, err
	}
	return cluster.RunMaster[*access.Request, *access.Response, *interfaces.AccessConsensus](ctx, s.cluster, api.JobKeyAccess, share.Threshold, share.Nodes, executor)
}

// StoreDocumentKey attaches a document key encrypted by the author of the
// server key to the share of every holder. All holders have to store it.
func (s *KeyServer) StoreDocumentKey(ctx context.Context, id interfaces.ServerKeyID, signature interfaces.RequestSignature, commonPoint, encryptedPoint []byte) error {
	requester, _, err := cryptoutils.RecoverRequester(id, signature)
	if err != nil {
		return err
	}
	if err := cryptoutils.ValidatePoint(commonPoint); err != nil {
		return fmt.Errorf("common point: %w", err)
	}
	if err := cryptoutils.ValidatePoint(encryptedPoint); err != nil {
		return fmt.Errorf("encrypted point: %w", err)
	}

	share, err := s.storage.Get(ctx, id)
	if err != nil {
		return err
	}
	secretsharing.Wipe(share.Share)

	if share.Author != requester {
		return fmt.Errorf("%w: %s is not the author of key %s", interfaces.ErrAccessDenied, requester.Hex(), id)
	}
	if share.HasDocumentKey() {
		return fmt.Errorf("%w: %s", interfaces.ErrDocumentKeyExists, id)
	}

	executor := docstore.NewMasterExecutor(ctx, s.storage, share, signature, commonPoint, encryptedPoint)
	stored, err := cluster.RunMaster[*docstore.Request, *docstore.Response, []interfaces.NodeID](ctx, s.cluster, api.JobDocumentStore, len(share.Nodes)-1, share.Nodes, executor)
	if err != nil {
		return err
	}

	s.log.Info("stored document key", "key", id.String(), "requester", requester.Hex(), "nodes", len(stored))
	return nil
}

// GenerateDocumentKey generates a server key together with a random document
// key and returns the document key encrypted to the requester's public key.
func (s *KeyServer) GenerateDocumentKey(ctx context.Context, id interfaces.ServerKeyID, signature interfaces.RequestSignature, threshold int) ([]byte, error) {
	requester, requesterKey, err := cryptoutils.RecoverRequester(id, signature)
	if err != nil {
		return nil, err
	}

	serverPublic, err := s.generateServerKey(ctx, id, requester, threshold)
	if err != nil {
		return nil, err
	}

	documentKey, err := cryptoutils.GenerateDocumentKey()
	if err != nil {
		return nil, err
	}
	commonPoint, encryptedPoint, err := cryptoutils.EncryptDocumentKey(serverPublic, documentKey)
	if err != nil {
		return nil, err
	}
	if err := s.StoreDocumentKey(ctx, id, signature, commonPoint, encryptedPoint); err != nil {
		return nil, err
	}

	return cryptoutils.EncryptWithPublicKey(requesterKey, documentKey)
}

// RestoreDocumentKey combines the shadows of threshold+1 holders into the
// document key and returns it encrypted to the requester's public key. Every
// holder checks its own ACL before producing a shadow.
func (s *KeyServer) RestoreDocumentKey(ctx context.Context, id interfaces.ServerKeyID, signature interfaces.RequestSignature) ([]byte, error) {
	_, requesterKey, err := cryptoutils.RecoverRequester(id, signature)
	if err != nil {
		return nil, err
	}

	result, err := s.restore(ctx, id, signature, false)
	if err != nil {
		return nil, err
	}
	return cryptoutils.EncryptWithPublicKey(requesterKey, result.DocumentKey)
}

// RestoreDocumentKeyShadow collects the shadows of threshold+1 holders,
// encrypted to the requester, without recovering the document key.
func (s *KeyServer) RestoreDocumentKeyShadow(ctx context.Context, id interfaces.ServerKeyID, signature interfaces.RequestSignature) (*interfaces.DocumentKeyShadow, error) {
	result, err := s.restore(ctx, id, signature, true)
	if err != nil {
		return nil, err
	}
	return result.Shadow, nil
}

func (s *KeyServer) restore(ctx context.Context, id interfaces.ServerKeyID, signature interfaces.RequestSignature, shadow bool) (*restore.Result, error) {
	share, err := s.authorizedShare(ctx, id, signature)
	if err != nil {
		return nil, err
	}
	secretsharing.Wipe(share.Share)
	if !share.HasDocumentKey() {
		return nil, fmt.Errorf("%w: %s", interfaces.ErrDocumentKeyNotFound, id)
	}

	executor := restore.NewMasterExecutor(ctx, s.storage, s.acl, s.key, share, signature, shadow)
	result, err := cluster.RunMaster[*restore.Request, *restore.Response, *restore.Result](ctx, s.cluster, api.JobKeyRestore, share.Threshold, share.Nodes, executor)
	if err != nil {
		return nil, err
	}

	s.log.Info("restored document key", "key", id.String(), "shadow", shadow)
	return result, nil
}

// authorizedShare loads the local share of id once the requester passed the local ACL.
func (s *KeyServer) authorizedShare(ctx context.Context, id interfaces.ServerKeyID, signature interfaces.RequestSignature) (*interfaces.KeyShare, error) {
	requester, _, err := cryptoutils.RecoverRequester(id, signature)
	if err != nil {
		return nil, err
	}

	allowed, err := s.acl.CheckPermissions(ctx, requester, id)
	if err != nil {
		return nil, fmt.Errorf("could not check permissions: %w", err)
	}
	if !allowed {
		return nil, fmt.Errorf("%w: %s may not access key %s", interfaces.ErrAccessDenied, requester.Hex(), id)
	}

	return s.storage.Get(ctx, id)
}

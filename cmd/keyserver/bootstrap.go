package main

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"log/slog"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/ruteri/tee-secret-store/acl"
	"github.com/ruteri/tee-secret-store/cmd/flags"
	"github.com/ruteri/tee-secret-store/cryptoutils"
	"github.com/ruteri/tee-secret-store/httpserver"
	"github.com/ruteri/tee-secret-store/interfaces"
	"github.com/ruteri/tee-secret-store/storage"
	"github.com/urfave/cli/v2"
)

var StorageFlag = &cli.StringFlag{
	Name:    "storage",
	Value:   "memory://",
	EnvVars: []string{"SECRET_STORE_STORAGE"},
	Usage:   "comma-separated key share storage URIs (memory://, file://, s3://, vault://, ipfs://)",
}

var StoragePassphraseFlag = &cli.StringFlag{
	Name:    "storage-passphrase",
	EnvVars: []string{"SECRET_STORE_STORAGE_PASSPHRASE"},
	Usage:   "passphrase sealing key shares at rest; shares are stored unsealed if empty",
}

var AclFlag = &cli.StringFlag{
	Name:  "acl",
	Value: "allow-all",
	Usage: "document key permissions: 'allow-all', 'file:<path>' or 'contract:<address>'",
}

var StorageFlags = []cli.Flag{
	StorageFlag,
	StoragePassphraseFlag,
	AclFlag,
}

// SetupKeyStorage opens the configured backends and seals shares with a key
// derived from the storage passphrase, salted with the node id.
func SetupKeyStorage(cCtx *cli.Context, logger *slog.Logger, key *ecdsa.PrivateKey) (interfaces.KeyStorage, interfaces.BlobBackend, error) {
	backend, err := storage.NewStorageBackendFactory(logger).StorageBackendFromURIs(cCtx.String(StorageFlag.Name))
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create storage backend: %w", err)
	}
	logger.Info("Key share storage configured", "location", backend.LocationURI())

	var sealer cryptoutils.Sealer = cryptoutils.NoopSealer{}
	if passphrase := cCtx.String(StoragePassphraseFlag.Name); passphrase != "" {
		self := cryptoutils.NodeID(key)
		sealer, err = cryptoutils.NewPassphraseSealer([]byte(passphrase), self[:])
		if err != nil {
			return nil, nil, fmt.Errorf("failed to create sealer: %w", err)
		}
	} else {
		logger.Warn("No storage passphrase configured, key shares are stored unsealed")
	}

	return storage.NewKeyStore(backend, sealer, logger), backend, nil
}

// storageReadiness fails while the share backend cannot be reached.
func storageReadiness(backend interfaces.BlobBackend) httpserver.ReadinessCheck {
	return func(ctx context.Context) error {
		if !backend.Available(ctx) {
			return fmt.Errorf("%w: %s", interfaces.ErrBackendUnavailable, backend.Name())
		}
		return nil
	}
}

// SetupACL creates the permission checker. Contract permissions are read
// through the RPC endpoint.
func SetupACL(cCtx *cli.Context, logger *slog.Logger) (interfaces.AclStorage, error) {
	rpcAddress := cCtx.String(flags.RpcAddrFlag.Name)
	return acl.FromConfig(cCtx.String(AclFlag.Name), func(address common.Address) (interfaces.AclStorage, error) {
		logger.Info("Connecting to Ethereum RPC", "address", rpcAddress)
		ethClient, err := ethclient.Dial(rpcAddress)
		if err != nil {
			return nil, fmt.Errorf("failed to dial RPC: %w", err)
		}
		return acl.NewOnchainACL(ethClient, address)
	})
}

package storage

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"path"
	"strings"
	"time"

	"github.com/hashicorp/vault/api"
	"github.com/ruteri/tee-secret-store/interfaces"
)

// vaultShareField is the KV field holding the base64 blob.
const vaultShareField = "share"

// VaultBackend keeps blobs as secrets of a HashiCorp Vault KV v2 mount, one
// secret per server key under dataPath.
type VaultBackend struct {
	client    *api.Client
	kv        *api.KVv2
	mountPath string
	dataPath  string
	host      string
	log       *slog.Logger
}

// NewVaultBackend connects to the Vault at address. An empty token falls back
// to VAULT_TOKEN.
func NewVaultBackend(address, mountPath, dataPath, token string, log *slog.Logger) (*VaultBackend, error) {
	mountPath = strings.Trim(mountPath, "/")
	dataPath = strings.Trim(dataPath, "/")
	if mountPath == "" {
		return nil, fmt.Errorf("%w: empty Vault mount path", interfaces.ErrInvalidLocationURI)
	}

	cfg := api.DefaultConfig()
	cfg.Address = address
	cfg.HttpClient = &http.Client{Timeout: 30 * time.Second}

	client, err := api.NewClient(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create Vault client: %w", err)
	}
	if token != "" {
		client.SetToken(token)
	}

	host := address
	if u, err := url.Parse(address); err == nil && u.Host != "" {
		host = u.Host
	}

	return &VaultBackend{
		client:    client,
		kv:        client.KVv2(mountPath),
		mountPath: mountPath,
		dataPath:  dataPath,
		host:      host,
		log:       log.With("backend", "vault", "mount", mountPath),
	}, nil
}

func (b *VaultBackend) secretPath(id interfaces.ServerKeyID) string {
	return path.Join(b.dataPath, id.String())
}

func (b *VaultBackend) Fetch(ctx context.Context, id interfaces.ServerKeyID) ([]byte, error) {
	secret, err := b.kv.Get(ctx, b.secretPath(id))
	switch {
	case errors.Is(err, api.ErrSecretNotFound):
		return nil, interfaces.ErrKeyNotFound
	case err != nil:
		b.log.Error("Vault read failed", "key_id", id.String(), "err", err)
		return nil, fmt.Errorf("%w: %v", interfaces.ErrBackendUnavailable, err)
	}

	// A deleted latest version reads back without data.
	encoded, ok := secret.Data[vaultShareField].(string)
	if !ok {
		return nil, interfaces.ErrKeyNotFound
	}
	blob, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("invalid %s encoding in Vault secret %s: %w", vaultShareField, id, err)
	}
	return blob, nil
}

func (b *VaultBackend) Store(ctx context.Context, id interfaces.ServerKeyID, data []byte) error {
	secret, err := b.kv.Put(ctx, b.secretPath(id), map[string]interface{}{
		vaultShareField: base64.StdEncoding.EncodeToString(data),
	})
	if err != nil {
		b.log.Error("Vault write failed", "key_id", id.String(), "err", err)
		return fmt.Errorf("%w: %v", interfaces.ErrBackendUnavailable, err)
	}
	if secret != nil && secret.VersionMetadata != nil {
		b.log.Debug("Stored blob", "key_id", id.String(), "version", secret.VersionMetadata.Version)
	}
	return nil
}

// Delete destroys every version of the secret.
func (b *VaultBackend) Delete(ctx context.Context, id interfaces.ServerKeyID) error {
	if _, err := b.Fetch(ctx, id); err != nil {
		return err
	}
	if err := b.kv.DeleteMetadata(ctx, b.secretPath(id)); err != nil {
		return fmt.Errorf("%w: %v", interfaces.ErrBackendUnavailable, err)
	}
	return nil
}

// Available requires Vault to be initialized and unsealed.
func (b *VaultBackend) Available(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	health, err := b.client.Sys().HealthWithContext(ctx)
	if err != nil {
		b.log.Debug("Vault health check failed", "err", err)
		return false
	}
	if !health.Initialized || health.Sealed {
		b.log.Debug("Vault not serving", "initialized", health.Initialized, "sealed", health.Sealed)
		return false
	}
	return true
}

func (b *VaultBackend) Name() string {
	return fmt.Sprintf("vault-%s-%s", b.mountPath, b.dataPath)
}

func (b *VaultBackend) LocationURI() string {
	return fmt.Sprintf("vault://%s/%s", b.host, path.Join(b.mountPath, b.dataPath))
}

package storage

import (
	"fmt"
	"log/slog"
	"net"
	"strings"
	"time"

	"github.com/ruteri/tee-secret-store/interfaces"
)

// StorageBackendFactory creates storage backends from URI strings and manages
// multi-backend configurations for redundant storage.
type StorageBackendFactory struct {
	log *slog.Logger
}

// NewStorageBackendFactory creates a new factory instance that can create storage backends.
func NewStorageBackendFactory(logger *slog.Logger) *StorageBackendFactory {
	return &StorageBackendFactory{
		log: logger,
	}
}

// StorageBackendFor creates a storage backend from a location.
//
// Supported schemes:
//   - memory:// - Process memory, lost on restart
//   - file:// - Local filesystem storage
//   - s3:// - Amazon S3 or compatible object storage
//   - vault:// - HashiCorp Vault KV v2
//   - ipfs:// - IPFS node mutable file system
func (sf *StorageBackendFactory) StorageBackendFor(location interfaces.BackendLocation) (interfaces.BlobBackend, error) {
	switch location.Scheme {
	case "memory":
		return NewMemoryBackend(location.Host, sf.log), nil
	case "file":
		return sf.createFileBackend(location)
	case "s3":
		return sf.createS3Backend(location)
	case "vault":
		return sf.createVaultBackend(location)
	case "ipfs":
		return sf.createIPFSBackend(location)
	default:
		return nil, fmt.Errorf("%w: unsupported backend scheme: %s", interfaces.ErrInvalidLocationURI, location.Scheme)
	}
}

// StorageBackendFromURIs creates a backend from a comma-separated list of
// location URIs. A single URI yields its backend directly, several URIs a
// MultiStorageBackend.
func (sf *StorageBackendFactory) StorageBackendFromURIs(uris string) (interfaces.BlobBackend, error) {
	var locations []interfaces.BackendLocation
	for _, uri := range strings.Split(uris, ",") {
		uri = strings.TrimSpace(uri)
		if uri == "" {
			continue
		}
		location, err := interfaces.ParseBackendLocation(uri)
		if err != nil {
			return nil, err
		}
		locations = append(locations, location)
	}

	switch len(locations) {
	case 0:
		return nil, fmt.Errorf("%w: no storage location configured", interfaces.ErrInvalidLocationURI)
	case 1:
		return sf.StorageBackendFor(locations[0])
	default:
		return sf.CreateMultiBackend(locations)
	}
}

// CreateMultiBackend creates a multi-storage backend from a list of locations.
// Locations whose backend cannot be created are skipped.
// Returns an error if no valid backends could be created from the provided locations.
func (sf *StorageBackendFactory) CreateMultiBackend(locations []interfaces.BackendLocation) (*MultiStorageBackend, error) {
	backends := make([]interfaces.BlobBackend, 0, len(locations))

	for _, location := range locations {
		backend, err := sf.StorageBackendFor(location)
		if err != nil {
			sf.log.Warn("Failed to create storage backend",
				"err", err,
				slog.String("locationURI", location.String()))
			continue
		}
		backends = append(backends, backend)
	}

	if len(backends) == 0 {
		return nil, fmt.Errorf("no valid storage backends created")
	}

	return NewMultiStorageBackend(backends, sf.log), nil
}

// createS3Backend creates an S3 or S3-compatible storage backend.
// URI format: s3://[ACCESS_KEY:SECRET_KEY@]bucket-name/path/?region=us-west-2&endpoint=custom.s3.com
func (sf *StorageBackendFactory) createS3Backend(location interfaces.BackendLocation) (interfaces.BlobBackend, error) {
	sf.log.Debug("Creating S3 backend", slog.String("bucket", location.Host))

	accessKey, secretKey := location.Credentials()
	if accessKey == "" {
		sf.log.Debug("No embedded S3 credentials, using the default credential chain")
	}

	return NewS3Backend(location.Host, location.Path, location.Param("region", "us-east-1"), location.Param("endpoint", ""), accessKey, secretKey, sf.log)
}

// createVaultBackend creates a Vault KV v2 storage backend.
// URI format: vault://[TOKEN@]host:port/mount/path?tls=true
func (sf *StorageBackendFactory) createVaultBackend(location interfaces.BackendLocation) (interfaces.BlobBackend, error) {
	sf.log.Debug("Creating Vault backend", slog.String("host", location.Host))

	scheme := "http"
	if location.Flag("tls") {
		scheme = "https"
	}

	mountPath, dataPath, _ := strings.Cut(strings.TrimPrefix(location.Path, "/"), "/")
	token, _ := location.Credentials()

	return NewVaultBackend(fmt.Sprintf("%s://%s", scheme, location.Host), mountPath, dataPath, token, sf.log)
}

// createIPFSBackend creates an IPFS MFS storage backend.
// URI format: ipfs://host:port/base/dir?timeout=30s
func (sf *StorageBackendFactory) createIPFSBackend(location interfaces.BackendLocation) (interfaces.BlobBackend, error) {
	sf.log.Debug("Creating IPFS backend", slog.String("host", location.Host))

	host, port, err := net.SplitHostPort(location.Host)
	if err != nil {
		host, port = location.Host, "5001"
	}
	if host == "" {
		return nil, fmt.Errorf("%w: empty host in IPFS URI: %s", interfaces.ErrInvalidLocationURI, location.String())
	}

	timeout, err := location.Duration("timeout", 30*time.Second)
	if err != nil {
		return nil, err
	}

	return NewIPFSBackend(host, port, location.Path, timeout, sf.log), nil
}

// createFileBackend creates a file system storage backend.
// URI format: file:///absolute/path/ or file://./relative/path/
func (sf *StorageBackendFactory) createFileBackend(location interfaces.BackendLocation) (interfaces.BlobBackend, error) {
	sf.log.Debug("Creating file backend", slog.String("uri", location.String()))

	path := location.Path
	if location.Host != "" {
		path = location.Host + "/" + strings.TrimPrefix(path, "/")
	}

	if path == "" {
		return nil, fmt.Errorf("%w: empty path in file URI: %s", interfaces.ErrInvalidLocationURI, location.String())
	}

	return NewFileBackend(path, sf.log)
}

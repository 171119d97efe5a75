// Package storage persists the key shares held by a secret store node.
//
// Shares are kept as opaque, sealed blobs keyed by server key id in one or
// more pluggable backends:
//
//   - In-memory storage for tests and ephemeral nodes
//   - File system storage for single-host deployments
//   - S3-compatible storage for cloud deployments
//   - Vault KV v2 storage with token authentication
//
// # Storage URI Format
//
// Storage backends are specified using URI format:
//
//	[scheme]://[auth@]host[:port][/path][?params]
//
// Supported URI schemes:
//
//   - memory://
//   - file:///var/lib/secret-store/
//   - s3://[ACCESS_KEY:SECRET_KEY@]bucket-name/prefix/?region=us-west-2&endpoint=minio:9000
//   - vault://[TOKEN@]vault.example.com:8200/secret/secret-store?tls=true
//
// Several URIs separated by commas build a MultiStorageBackend, which writes
// to every available backend and reads from the first one holding the blob.
//
// # Key Shares
//
// KeyStore implements interfaces.KeyStorage on top of any backend. Shares are
// encoded as JSON and sealed with a cryptoutils.Sealer, using the key id as
// additional authenticated data so blobs cannot be swapped between ids.
//
// # Usage Example
//
//	factory := storage.NewStorageBackendFactory(logger)
//	backend, err := factory.StorageBackendFromURIs("file:///var/lib/secret-store,s3://bucket/shares")
//	if err != nil {
//		return err
//	}
//	keys := storage.NewKeyStore(backend, sealer, logger)
package storage

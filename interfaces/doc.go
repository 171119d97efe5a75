// Package interfaces defines core interfaces and types for the secret store
// cluster, separating interface definitions from implementations.
//
// # Identity Types
//
//   - NodeID: secp256k1 public key of a cluster node
//   - SessionID: identifier of one coordination round
//   - ServerKeyID: identifier of a jointly generated server key
//
// # Storage Interfaces
//
// BlobBackend: Stores opaque blobs keyed by server key id across multiple
// backend types (memory, file, S3, Vault).
//
// KeyStorage: Persists the node's own key shares.
//
// # Access Control
//
// AclStorage: Decides whether a requester address may use a server key,
// backed by a static list or an on-chain permissioning contract.
//
// # Key Server
//
// KeyServer: Requester-facing operations (server and document key generation,
// access consensus, document key storage and restoration), consumed by the
// HTTP layer.
package interfaces

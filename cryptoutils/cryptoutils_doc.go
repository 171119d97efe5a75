// Package cryptoutils provides the cryptographic primitives used by secret
// store nodes.
//
// Node identities are secp256k1 key pairs. The public key, without its 0x04
// prefix, is the node id used throughout the cluster.
//
// # Key Functions
//
// # LoadNodeKey - Loads a node private key from a hex string or key file
//
// # EncryptForNode / DecryptWithNodeKey - ECIES encryption to a node id
//
// # SignKeyID / RecoverRequester - Recoverable signatures proving key ownership
//
// # SignMessage / VerifyMessage - Signatures over cluster message bodies
//
// # Sealer - At-rest encryption of key shares
//
// # Encryption Format
//
// Node-to-node encryption uses go-ethereum's ECIES implementation
// (ECDH over secp256k1, NIST SP 800-56 concatenation KDF, AES-128-CTR with
// HMAC-SHA-256), so the ciphertext layout is:
//
//	[ephemeral public key (65 bytes)][iv (16 bytes)][ciphertext][mac (32 bytes)]
//
// At-rest sealing derives a 256-bit key from a passphrase with Argon2id and
// encrypts with XChaCha20-Poly1305:
//
//	[nonce (24 bytes)][ciphertext + tag]
package cryptoutils

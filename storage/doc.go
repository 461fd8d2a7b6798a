// Package storage provides the key/value backends behind the two credential
// storage tiers.
//
// Every backend implements interfaces.StorageBackend:
//
//   - File system storage, optionally sealed with a passphrase
//   - HashiCorp Vault KV v2
//   - S3-compatible object storage
//   - Redis
//   - Process memory for tests and throwaway sessions
//
// # Storage URI Format
//
// Backends are specified using URI format:
//
//	[scheme]://[auth@]host[:port][/path][?params]
//
// Supported URI schemes:
//
//   - file:///var/lib/derived-keys/?sealed=true
//   - vault://vault.example.com:8200/secret/derived-keys
//   - s3://bucket-name/prefix/?region=us-west-2
//   - redis://localhost:6379/0?prefix=derived-keys
//   - memory://name
//
// # Tiers
//
// The bulk tier holds the authorized users index and session flags through
// the BulkStore adapter. Several bulk locations can be combined; writes are
// mirrored by MultiStorageBackend: a write succeeds only when every location
// accepts it, and a read whose copies disagree fails with
// interfaces.ErrStorageInconsistency.
//
// The secret tier holds one encryption key record per stored user. It accepts
// only vault, file and memory locations, so key records never share an object
// store with the ciphertexts they protect.
//
// # Sealed Files
//
// A file backend opened with ?sealed=true encrypts every value with a key
// derived from FactoryOptions.FilePassphrase:
//
//	"DKSENC1\n" || json({kdf: argon2id, salt, nonce, ciphertext})
//
// using XChaCha20-Poly1305 for the payload.
//
// # Error Handling
//
//   - ErrContentNotFound: the key has no value
//   - ErrBackendUnavailable: the backend could not be reached
//   - ErrInvalidLocationURI: malformed URI, unsupported scheme or tier violation
//
// Delete of an absent key succeeds on every backend.
package storage

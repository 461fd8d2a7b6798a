// Package cryptoutils provides the key encoding and secret encryption primitives
// used to store derived key credentials.
//
// # Public Keys
//
// Public keys travel in base58check form:
//
//	base58([prefix (3 bytes)][secp256k1 point][checksum (4 bytes)])
//
// Where:
//   - Prefix: network tag, cd1400 on mainnet and 11c200 on testnet
//   - Point: 33-byte compressed or 65-byte uncompressed secp256k1 point
//   - Checksum: first four bytes of SHA256(SHA256(prefix || point))
//
// CompressPublicKey decodes such a key and returns the hex of its 33-byte
// compressed point, which is attached as metadata to authorization transactions.
//
// # Secret Encryption
//
// Each stored credential is protected by its own EncryptionKeyRecord, a random
// 32-byte AES key and 12-byte IV. A record protects several fields, so every
// field is sealed with an HKDF-SHA256 subkey bound to the field name:
//
//	fieldKey   = HKDF(record.Key, info = "derived-key-session/field/v1/" + field)
//	ciphertext = hex(AES-256-GCM(fieldKey, record.IV, plaintext))
//
// Decryption failures of any kind (wrong key, wrong IV, malformed hex, modified
// ciphertext) surface as interfaces.ErrDecryptionFailed.
package cryptoutils

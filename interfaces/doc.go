// Package interfaces defines core types and collaborator interfaces for the
// derived-key session library, separating contracts from implementations.
//
// # Credential Types
//
// AuthenticatedUser: closed variant over DirectAuthenticatedUser (encrypted
// root seed) and DerivedAuthenticatedUser (encrypted derived seed and access
// signature plus expiration data). Consumers type-switch over the two.
//
// EncryptionKeyRecord: IV and key protecting one stored user. Stored only in
// the SecretStore tier.
//
// DerivedAuthentication: transient result of the identity provider exchange.
//
// # Storage Interfaces
//
// SecretStore: high-sensitivity key/value store for key records (Vault, sealed files).
//
// BulkStore: local string store for the users index and session flags
// (files, S3, Redis).
//
// StorageBackend and StorageBackendFactory: byte-oriented backends created
// from URIs such as vault://vault.example.com:8200/secret/derived-keys.
//
// # Collaborators
//
// ChainAPI, IdentityProvider, Notifier and Alerter describe the remote chain
// API, the interactive provider redirect and the UI-facing callbacks.
//
// # Errors
//
// The error taxonomy (ErrProviderRejected, ErrIdentityMismatch,
// ErrChainAPIFailure, ErrNotYetValid, ErrDecryptionFailed,
// ErrStorageInconsistency, ...) is defined as sentinel values to be checked
// with errors.Is.
package interfaces

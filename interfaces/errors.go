package interfaces

import "errors"

var (
	// ErrProviderRejected is returned when the user cancelled the identity
	// provider grant or the provider returned a non-success result.
	ErrProviderRejected = errors.New("identity provider rejected the grant")

	// ErrIdentityMismatch is returned when the provider authorized a different
	// root identity than the one being re-authenticated.
	ErrIdentityMismatch = errors.New("authorized identity does not match expected public key")

	// ErrChainAPIFailure wraps any network or API failure of the remote chain API.
	ErrChainAPIFailure = errors.New("chain api failure")

	// ErrNotYetValid is returned when the chain does not report the derived key
	// as valid after the authorization transaction was submitted.
	ErrNotYetValid = errors.New("derived key not valid on chain")

	// ErrDecryptionFailed is returned when a stored secret cannot be decrypted
	// with its paired key record.
	ErrDecryptionFailed = errors.New("decryption failed")

	// ErrStorageInconsistency is returned when one storage tier was written
	// and the compensating action on the other tier failed as well, or when
	// mirrored bulk locations hold different copies of the same key.
	ErrStorageInconsistency = errors.New("credential storage inconsistent")

	// ErrInvalidKeyFormat is returned for malformed public or private keys.
	ErrInvalidKeyFormat = errors.New("invalid key format")

	// ErrSigningFailed is returned when a transaction or token cannot be signed.
	ErrSigningFailed = errors.New("signing failed")

	// ErrNoActiveSession is returned when an authenticated action is attempted without a session.
	ErrNoActiveSession = errors.New("no active session")

	// ErrSessionUnusable is returned when the active session's credential can
	// no longer be used; the caller has to re-authenticate.
	ErrSessionUnusable = errors.New("session unusable, re-authentication required")

	// ErrNotFound is returned when no credential is stored for a root public key.
	ErrNotFound = errors.New("authenticated user not found")

	// ErrAuthorizationInProgress is returned when an authorization flow for the
	// same root public key is already running.
	ErrAuthorizationInProgress = errors.New("authorization already in progress")
)

package interfaces

import "context"

// DerivedKeyEntry is the chain's view of one derived key of a root identity.
type DerivedKeyEntry struct {
	OwnerPublicKeyBase58Check   string `json:"OwnerPublicKeyBase58Check"`
	DerivedPublicKeyBase58Check string `json:"DerivedPublicKeyBase58Check"`
	ExpirationBlock             uint64 `json:"ExpirationBlock"`
	IsValid                     bool   `json:"IsValid"`
}

// SubmitAck acknowledges a submitted transaction.
type SubmitAck struct {
	TxnHashHex string `json:"TxnHashHex"`
}

// ChainAPI is the remote chain API consumed by the authorization flow and the validator.
type ChainAPI interface {
	// AuthorizeDerivedKey returns an unsigned authorization (or revocation) transaction.
	AuthorizeDerivedKey(ctx context.Context, rootPublicKey, derivedPublicKey, accessSignature string, expirationBlock uint64, isRevoke bool) (string, error)

	// AppendExtraData attaches the compressed derived public key as transaction metadata.
	AppendExtraData(ctx context.Context, unsignedTransactionHex, compressedDerivedPublicKey string) (string, error)

	// SubmitTransaction broadcasts a signed transaction.
	SubmitTransaction(ctx context.Context, signedTransactionHex string) (SubmitAck, error)

	// GetDerivedKeys returns the derived keys of a root identity keyed by derived public key.
	GetDerivedKeys(ctx context.Context, rootPublicKey string) (map[string]DerivedKeyEntry, error)

	// GetBlockHeight returns the current chain tip height.
	GetBlockHeight(ctx context.Context) (uint64, error)
}

// GrantResultType is the outcome of an interactive provider grant.
type GrantResultType string

const (
	GrantSuccess GrantResultType = "success"
	GrantCancel  GrantResultType = "cancel"
	GrantError   GrantResultType = "error"
)

// GrantResult carries the provider's redirect parameters on success.
type GrantResult struct {
	Type   GrantResultType
	Params map[string]string
}

// IdentityProvider opens the interactive redirect to the external identity provider.
type IdentityProvider interface {
	// RedirectURI is the callback the provider redirects to.
	RedirectURI() string

	// StartInteractiveGrant blocks until the provider returns, the user cancels
	// or ctx is done.
	StartInteractiveGrant(ctx context.Context, requestURL string) (GrantResult, error)
}

// Notifier is told about session establishment and teardown.
type Notifier interface {
	OnLoginSuccess()
	OnLogout()
}

// Alerter shows a user-facing alert.
type Alerter interface {
	Alert(title, message string)
}

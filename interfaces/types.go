package interfaces

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// CredentialKind tags the persisted form of an AuthenticatedUser.
type CredentialKind string

const (
	DirectCredential  CredentialKind = "direct"
	DerivedCredential CredentialKind = "derived"
)

// AuthenticatedUser is a stored credential. It is implemented only by
// *DirectAuthenticatedUser and *DerivedAuthenticatedUser.
type AuthenticatedUser interface {
	RootPublicKey() string
	Kind() CredentialKind
	isAuthenticatedUser()
}

// DirectAuthenticatedUser holds the root seed of an identity, encrypted.
type DirectAuthenticatedUser struct {
	PublicKey        string `json:"publicKey"`
	EncryptedSeedHex string `json:"encryptedSeedHex"`
}

func (u *DirectAuthenticatedUser) RootPublicKey() string { return u.PublicKey }
func (u *DirectAuthenticatedUser) Kind() CredentialKind  { return DirectCredential }
func (u *DirectAuthenticatedUser) isAuthenticatedUser()  {}

// DerivedAuthenticatedUser is an on-chain authorized derived key acting for a
// root identity. Both secrets are encrypted with the same key record.
type DerivedAuthenticatedUser struct {
	PublicKey                  string    `json:"publicKey"`
	DerivedPublicKey           string    `json:"derivedPublicKey"`
	CompressedDerivedPublicKey string    `json:"compressedDerivedPublicKey"`
	ExpirationBlock            uint64    `json:"expirationBlock"`
	ExpireDate                 time.Time `json:"expireDate"`
	EncryptedAccessSignature   string    `json:"encryptedAccessSignature"`
	EncryptedDerivedSeedHex    string    `json:"encryptedDerivedSeedHex"`
}

func (u *DerivedAuthenticatedUser) RootPublicKey() string { return u.PublicKey }
func (u *DerivedAuthenticatedUser) Kind() CredentialKind  { return DerivedCredential }
func (u *DerivedAuthenticatedUser) isAuthenticatedUser()  {}

// Expired reports whether the locally recorded expiration date has passed.
func (u *DerivedAuthenticatedUser) Expired(now time.Time) bool {
	return now.After(u.ExpireDate)
}

// EncryptionKeyRecord is the symmetric key material protecting one stored user.
// It lives only in the SecretStore, never next to the ciphertexts it protects.
type EncryptionKeyRecord struct {
	IV  []byte `json:"iv"`
	Key []byte `json:"key"`
}

// DerivedAuthentication is the transient result of the provider exchange.
// DerivedSeedHex and AccessSignature must never be persisted in plaintext.
type DerivedAuthentication struct {
	PublicKeyBase58Check        string
	DerivedPublicKeyBase58Check string
	DerivedSeedHex              string
	AccessSignature             string
	ExpirationBlock             uint64
	CompressedDerivedPublicKey  string
}

// Grant callback parameter names used by the identity provider.
const (
	ParamPublicKey        = "publicKeyBase58Check"
	ParamDerivedPublicKey = "derivedPublicKeyBase58Check"
	ParamDerivedSeedHex   = "derivedSeedHex"
	ParamAccessSignature  = "accessSignature"
	ParamExpirationBlock  = "expirationBlock"
)

// DerivedAuthenticationFromParams builds a DerivedAuthentication from the
// parameters of a successful grant. The compressed key is left empty.
func DerivedAuthenticationFromParams(params map[string]string) (DerivedAuthentication, error) {
	auth := DerivedAuthentication{
		PublicKeyBase58Check:        strings.TrimSpace(params[ParamPublicKey]),
		DerivedPublicKeyBase58Check: strings.TrimSpace(params[ParamDerivedPublicKey]),
		DerivedSeedHex:              strings.TrimSpace(params[ParamDerivedSeedHex]),
		AccessSignature:             strings.TrimSpace(params[ParamAccessSignature]),
	}

	for name, value := range map[string]string{
		ParamPublicKey:        auth.PublicKeyBase58Check,
		ParamDerivedPublicKey: auth.DerivedPublicKeyBase58Check,
		ParamDerivedSeedHex:   auth.DerivedSeedHex,
		ParamAccessSignature:  auth.AccessSignature,
	} {
		if value == "" {
			return DerivedAuthentication{}, fmt.Errorf("%s missing", name)
		}
	}

	expirationBlock, err := strconv.ParseUint(strings.TrimSpace(params[ParamExpirationBlock]), 10, 64)
	if err != nil {
		return DerivedAuthentication{}, fmt.Errorf("invalid %s: %w", ParamExpirationBlock, err)
	}
	auth.ExpirationBlock = expirationBlock

	return auth, nil
}

// Session is the explicit value describing the active identity.
type Session struct {
	PublicKey string
	ReadOnly  bool
	Derived   bool
}

// Active reports whether an identity is logged in.
func (s Session) Active() bool {
	return s.PublicKey != ""
}

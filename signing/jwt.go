package signing

import (
	"crypto/ecdsa"
	"crypto/sha256"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/golang-jwt/jwt/v5"
	"github.com/ruteri/derived-key-session/cryptoutils"
)

// TokenLifetime is the validity of a session token.
const TokenLifetime = 10 * time.Minute

// SigningMethodES256K signs tokens with secp256k1 ECDSA over SHA-256.
// Signatures are the 64-byte R || S form with low S.
var SigningMethodES256K = &signingMethodES256K{}

type signingMethodES256K struct{}

func init() {
	jwt.RegisterSigningMethod(SigningMethodES256K.Alg(), func() jwt.SigningMethod {
		return SigningMethodES256K
	})
}

func (m *signingMethodES256K) Alg() string {
	return "ES256K"
}

func (m *signingMethodES256K) Sign(signingString string, key interface{}) ([]byte, error) {
	privateKey, ok := key.(*ecdsa.PrivateKey)
	if !ok {
		return nil, jwt.ErrInvalidKeyType
	}

	digest := sha256.Sum256([]byte(signingString))
	signature, err := crypto.Sign(digest[:], privateKey)
	if err != nil {
		return nil, err
	}
	return signature[:64], nil
}

func (m *signingMethodES256K) Verify(signingString string, sig []byte, key interface{}) error {
	publicKey, ok := key.(*ecdsa.PublicKey)
	if !ok {
		return jwt.ErrInvalidKeyType
	}
	if len(sig) != 64 {
		return jwt.ErrSignatureInvalid
	}

	digest := sha256.Sum256([]byte(signingString))
	if !crypto.VerifySignature(crypto.CompressPubkey(publicKey), digest[:], sig) {
		return jwt.ErrSignatureInvalid
	}
	return nil
}

// Claims of a session token.
type Claims struct {
	DerivedPublicKeyBase58Check string `json:"derivedPublicKeyBase58Check,omitempty"`
	jwt.RegisteredClaims
}

// VerifyJWT parses token and checks its signature against the base58check
// public key that signed it.
func VerifyJWT(token, signerPublicKeyBase58Check string) (*Claims, error) {
	publicKey, _, err := cryptoutils.ParsePublicKey(signerPublicKeyBase58Check)
	if err != nil {
		return nil, err
	}

	claims := &Claims{}
	_, err = jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (interface{}, error) {
		return publicKey, nil
	}, jwt.WithValidMethods([]string{SigningMethodES256K.Alg()}), jwt.WithIssuedAt())
	if err != nil {
		return nil, fmt.Errorf("invalid session token: %w", err)
	}
	return claims, nil
}

package credentials

import (
	"fmt"
	"time"

	"github.com/ruteri/derived-key-session/cryptoutils"
	"github.com/ruteri/derived-key-session/interfaces"
)

// Field names bound into the per-field encryption subkeys.
const (
	fieldSeed            = "seedHex"
	fieldDerivedSeed     = "derivedSeedHex"
	fieldAccessSignature = "accessSignature"
)

// DerivedSecrets are the decrypted secrets of a derived credential.
type DerivedSecrets struct {
	DerivedSeedHex  string
	AccessSignature string
}

// EncryptDerivedAuthentication builds the persisted form of a confirmed
// derived key authorization under a fresh key record.
func EncryptDerivedAuthentication(auth interfaces.DerivedAuthentication, expireDate time.Time) (*interfaces.DerivedAuthenticatedUser, interfaces.EncryptionKeyRecord, error) {
	record, err := cryptoutils.NewEncryptionKeyRecord()
	if err != nil {
		return nil, interfaces.EncryptionKeyRecord{}, err
	}

	encryptedSeed, err := cryptoutils.EncryptField(record, fieldDerivedSeed, []byte(auth.DerivedSeedHex))
	if err != nil {
		return nil, interfaces.EncryptionKeyRecord{}, fmt.Errorf("failed to encrypt derived seed: %w", err)
	}
	encryptedSignature, err := cryptoutils.EncryptField(record, fieldAccessSignature, []byte(auth.AccessSignature))
	if err != nil {
		return nil, interfaces.EncryptionKeyRecord{}, fmt.Errorf("failed to encrypt access signature: %w", err)
	}

	return &interfaces.DerivedAuthenticatedUser{
		PublicKey:                  auth.PublicKeyBase58Check,
		DerivedPublicKey:           auth.DerivedPublicKeyBase58Check,
		CompressedDerivedPublicKey: auth.CompressedDerivedPublicKey,
		ExpirationBlock:            auth.ExpirationBlock,
		ExpireDate:                 expireDate.UTC(),
		EncryptedAccessSignature:   encryptedSignature,
		EncryptedDerivedSeedHex:    encryptedSeed,
	}, record, nil
}

// DecryptDerivedSecrets reverses EncryptDerivedAuthentication.
func DecryptDerivedSecrets(user *interfaces.DerivedAuthenticatedUser, record interfaces.EncryptionKeyRecord) (DerivedSecrets, error) {
	seed, err := cryptoutils.DecryptField(record, fieldDerivedSeed, user.EncryptedDerivedSeedHex)
	if err != nil {
		return DerivedSecrets{}, err
	}
	signature, err := cryptoutils.DecryptField(record, fieldAccessSignature, user.EncryptedAccessSignature)
	if err != nil {
		return DerivedSecrets{}, err
	}
	return DerivedSecrets{
		DerivedSeedHex:  string(seed),
		AccessSignature: string(signature),
	}, nil
}

// EncryptDirectSeed builds the persisted form of a root seed login.
func EncryptDirectSeed(publicKey, seedHex string) (*interfaces.DirectAuthenticatedUser, interfaces.EncryptionKeyRecord, error) {
	record, err := cryptoutils.NewEncryptionKeyRecord()
	if err != nil {
		return nil, interfaces.EncryptionKeyRecord{}, err
	}

	encryptedSeed, err := cryptoutils.EncryptField(record, fieldSeed, []byte(seedHex))
	if err != nil {
		return nil, interfaces.EncryptionKeyRecord{}, fmt.Errorf("failed to encrypt seed: %w", err)
	}

	return &interfaces.DirectAuthenticatedUser{
		PublicKey:        publicKey,
		EncryptedSeedHex: encryptedSeed,
	}, record, nil
}

// DecryptDirectSeed reverses EncryptDirectSeed.
func DecryptDirectSeed(user *interfaces.DirectAuthenticatedUser, record interfaces.EncryptionKeyRecord) (string, error) {
	seed, err := cryptoutils.DecryptField(record, fieldSeed, user.EncryptedSeedHex)
	if err != nil {
		return "", err
	}
	return string(seed), nil
}

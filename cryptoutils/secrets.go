package cryptoutils

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"

	"github.com/ruteri/derived-key-session/interfaces"
	"golang.org/x/crypto/hkdf"
)

const (
	// KeySize is the AES-256 key length of an encryption key record.
	KeySize = 32
	// IVSize is the AES-GCM nonce length of an encryption key record.
	IVSize = 12

	fieldKeyInfoPrefix = "derived-key-session/field/v1/"
)

// NewEncryptionKeyRecord returns a fresh random key and IV.
// Every stored credential gets its own record.
func NewEncryptionKeyRecord() (interfaces.EncryptionKeyRecord, error) {
	key := make([]byte, KeySize)
	if _, err := io.ReadFull(rand.Reader, key); err != nil {
		return interfaces.EncryptionKeyRecord{}, fmt.Errorf("failed to generate key: %w", err)
	}

	iv := make([]byte, IVSize)
	if _, err := io.ReadFull(rand.Reader, iv); err != nil {
		return interfaces.EncryptionKeyRecord{}, fmt.Errorf("failed to generate IV: %w", err)
	}

	return interfaces.EncryptionKeyRecord{IV: iv, Key: key}, nil
}

func newGCM(key []byte) (cipher.AEAD, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}
	aesGCM, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCM: %w", err)
	}
	return aesGCM, nil
}

// EncryptSecret encrypts plaintext with AES-GCM and returns hex ciphertext.
func EncryptSecret(key, iv, plaintext []byte) (string, error) {
	aesGCM, err := newGCM(key)
	if err != nil {
		return "", err
	}
	if len(iv) != aesGCM.NonceSize() {
		return "", fmt.Errorf("invalid IV length %d", len(iv))
	}
	return hex.EncodeToString(aesGCM.Seal(nil, iv, plaintext, nil)), nil
}

// DecryptSecret reverses EncryptSecret. Any key or IV mismatch, malformed hex
// or tampered ciphertext fails with ErrDecryptionFailed.
func DecryptSecret(key, iv []byte, ciphertextHex string) ([]byte, error) {
	ciphertext, err := hex.DecodeString(ciphertextHex)
	if err != nil {
		return nil, fmt.Errorf("%w: ciphertext is not hex", interfaces.ErrDecryptionFailed)
	}

	aesGCM, err := newGCM(key)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", interfaces.ErrDecryptionFailed, err)
	}
	if len(iv) != aesGCM.NonceSize() {
		return nil, fmt.Errorf("%w: invalid IV length %d", interfaces.ErrDecryptionFailed, len(iv))
	}

	plaintext, err := aesGCM.Open(nil, iv, ciphertext, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", interfaces.ErrDecryptionFailed, err)
	}
	return plaintext, nil
}

// fieldKey derives the subkey for one named field of a record. A record
// encrypts several fields under the same IV, so each field needs its own key.
func fieldKey(record interfaces.EncryptionKeyRecord, field string) ([]byte, error) {
	reader := hkdf.New(sha256.New, record.Key, nil, []byte(fieldKeyInfoPrefix+field))
	key := make([]byte, KeySize)
	if _, err := io.ReadFull(reader, key); err != nil {
		return nil, err
	}
	return key, nil
}

// EncryptField encrypts one named field with the record's IV and a field subkey.
func EncryptField(record interfaces.EncryptionKeyRecord, field string, plaintext []byte) (string, error) {
	if len(record.Key) != KeySize {
		return "", fmt.Errorf("invalid key length %d", len(record.Key))
	}
	key, err := fieldKey(record, field)
	if err != nil {
		return "", err
	}
	defer zeroBytes(key)
	return EncryptSecret(key, record.IV, plaintext)
}

// DecryptField reverses EncryptField.
func DecryptField(record interfaces.EncryptionKeyRecord, field string, ciphertextHex string) ([]byte, error) {
	if len(record.Key) != KeySize {
		return nil, fmt.Errorf("%w: invalid key length %d", interfaces.ErrDecryptionFailed, len(record.Key))
	}
	key, err := fieldKey(record, field)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", interfaces.ErrDecryptionFailed, err)
	}
	defer zeroBytes(key)
	return DecryptSecret(key, record.IV, ciphertextHex)
}

func zeroBytes(b []byte) {
	for i := range b {
		b[i] = 0
	}
}

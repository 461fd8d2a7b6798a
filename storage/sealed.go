package storage

import (
	"bytes"
	"crypto/rand"
	"encoding/json"
	"errors"

	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/chacha20poly1305"
)

const (
	sealedVersion  = 1
	sealedPrefix   = "DKSENC1\n"
	sealedSaltSize = 16

	argonTime     = 2
	argonMemoryKB = 64 * 1024
	argonThreads  = 1
)

var (
	errSealedInvalid    = errors.New("sealed file is invalid")
	errSealedAuthFailed = errors.New("sealed file authentication failed")
)

type sealedEnvelope struct {
	Version     uint32 `json:"version"`
	KDF         string `json:"kdf"`
	KDFTime     uint32 `json:"kdf_time"`
	KDFMemoryKB uint32 `json:"kdf_memory_kb"`
	KDFThreads  uint8  `json:"kdf_threads"`
	Salt        []byte `json:"salt"`
	Nonce       []byte `json:"nonce"`
	Ciphertext  []byte `json:"ciphertext"`
}

// seal encrypts plaintext under a passphrase with argon2id and XChaCha20-Poly1305.
func seal(passphrase string, plaintext []byte) ([]byte, error) {
	salt := make([]byte, sealedSaltSize)
	if _, err := rand.Read(salt); err != nil {
		return nil, err
	}
	key := argon2.IDKey([]byte(passphrase), salt, argonTime, argonMemoryKB, argonThreads, chacha20poly1305.KeySize)
	defer zeroBytes(key)

	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, err
	}
	nonce := make([]byte, chacha20poly1305.NonceSizeX)
	if _, err := rand.Read(nonce); err != nil {
		return nil, err
	}

	raw, err := json.Marshal(sealedEnvelope{
		Version:     sealedVersion,
		KDF:         "argon2id",
		KDFTime:     argonTime,
		KDFMemoryKB: argonMemoryKB,
		KDFThreads:  argonThreads,
		Salt:        salt,
		Nonce:       nonce,
		Ciphertext:  aead.Seal(nil, nonce, plaintext, nil),
	})
	if err != nil {
		return nil, err
	}
	return append([]byte(sealedPrefix), raw...), nil
}

// unseal reverses seal. The KDF parameters recorded in the envelope are used.
func unseal(passphrase string, data []byte) ([]byte, error) {
	if !bytes.HasPrefix(data, []byte(sealedPrefix)) {
		return nil, errSealedInvalid
	}

	var env sealedEnvelope
	if err := json.Unmarshal(data[len(sealedPrefix):], &env); err != nil {
		return nil, errSealedInvalid
	}
	if env.Version != sealedVersion || env.KDF != "argon2id" || len(env.Nonce) != chacha20poly1305.NonceSizeX ||
		env.KDFTime == 0 || env.KDFThreads == 0 {
		return nil, errSealedInvalid
	}

	key := argon2.IDKey([]byte(passphrase), env.Salt, env.KDFTime, env.KDFMemoryKB, env.KDFThreads, chacha20poly1305.KeySize)
	defer zeroBytes(key)

	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, err
	}
	plaintext, err := aead.Open(nil, env.Nonce, env.Ciphertext, nil)
	if err != nil {
		return nil, errSealedAuthFailed
	}
	return plaintext, nil
}

func zeroBytes(b []byte) {
	for i := range b {
		b[i] = 0
	}
}

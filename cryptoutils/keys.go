package cryptoutils

import (
	"bytes"
	"crypto/ecdsa"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/mr-tron/base58"
	"github.com/ruteri/derived-key-session/interfaces"
)

// Network selects the base58check prefix of encoded public keys.
type Network int

const (
	Mainnet Network = iota
	Testnet
)

var (
	mainnetPublicKeyPrefix = [3]byte{0xcd, 0x14, 0x00}
	testnetPublicKeyPrefix = [3]byte{0x11, 0xc2, 0x00}
)

func (n Network) prefix() [3]byte {
	if n == Testnet {
		return testnetPublicKeyPrefix
	}
	return mainnetPublicKeyPrefix
}

// String returns network name.
func (n Network) String() string {
	if n == Testnet {
		return "testnet"
	}
	return "mainnet"
}

// ParseNetwork maps "mainnet" / "testnet" to a Network.
func ParseNetwork(name string) (Network, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "mainnet":
		return Mainnet, nil
	case "testnet":
		return Testnet, nil
	default:
		return Mainnet, fmt.Errorf("unknown network %q", name)
	}
}

func doubleSHA256(data []byte) [32]byte {
	first := sha256.Sum256(data)
	return sha256.Sum256(first[:])
}

// EncodeBase58Check encodes prefix || payload || checksum, where checksum is
// the first four bytes of SHA256(SHA256(prefix || payload)).
func EncodeBase58Check(prefix [3]byte, payload []byte) string {
	data := make([]byte, 0, len(prefix)+len(payload)+4)
	data = append(data, prefix[:]...)
	data = append(data, payload...)
	checksum := doubleSHA256(data)
	data = append(data, checksum[:4]...)
	return base58.Encode(data)
}

// DecodeBase58Check reverses EncodeBase58Check and verifies the checksum.
func DecodeBase58Check(encoded string) ([3]byte, []byte, error) {
	var prefix [3]byte

	raw, err := base58.Decode(strings.TrimSpace(encoded))
	if err != nil {
		return prefix, nil, fmt.Errorf("%w: %v", interfaces.ErrInvalidKeyFormat, err)
	}
	if len(raw) < len(prefix)+4 {
		return prefix, nil, fmt.Errorf("%w: base58check payload too short", interfaces.ErrInvalidKeyFormat)
	}

	body, checksum := raw[:len(raw)-4], raw[len(raw)-4:]
	expected := doubleSHA256(body)
	if !bytes.Equal(expected[:4], checksum) {
		return prefix, nil, fmt.Errorf("%w: base58check checksum mismatch", interfaces.ErrInvalidKeyFormat)
	}

	copy(prefix[:], body[:3])
	return prefix, body[3:], nil
}

// ParsePublicKey decodes a base58check secp256k1 public key. Both the 33-byte
// compressed and the 65-byte uncompressed point encodings are accepted.
func ParsePublicKey(publicKeyBase58Check string) (*ecdsa.PublicKey, Network, error) {
	prefix, payload, err := DecodeBase58Check(publicKeyBase58Check)
	if err != nil {
		return nil, Mainnet, err
	}

	var network Network
	switch prefix {
	case mainnetPublicKeyPrefix:
		network = Mainnet
	case testnetPublicKeyPrefix:
		network = Testnet
	default:
		return nil, Mainnet, fmt.Errorf("%w: unknown public key prefix %x", interfaces.ErrInvalidKeyFormat, prefix[:])
	}

	var pub *ecdsa.PublicKey
	switch len(payload) {
	case 33:
		pub, err = crypto.DecompressPubkey(payload)
	case 65:
		pub, err = crypto.UnmarshalPubkey(payload)
	default:
		return nil, network, fmt.Errorf("%w: unexpected public key length %d", interfaces.ErrInvalidKeyFormat, len(payload))
	}
	if err != nil {
		return nil, network, fmt.Errorf("%w: %v", interfaces.ErrInvalidKeyFormat, err)
	}

	return pub, network, nil
}

// CompressPublicKey returns the hex encoded 33-byte compressed form of a
// base58check public key. It is deterministic and fails with
// ErrInvalidKeyFormat on malformed input.
func CompressPublicKey(publicKeyBase58Check string) (string, error) {
	pub, _, err := ParsePublicKey(publicKeyBase58Check)
	if err != nil {
		return "", err
	}
	return hex.EncodeToString(crypto.CompressPubkey(pub)), nil
}

// PublicKeyToBase58Check encodes a public key in compressed base58check form.
func PublicKeyToBase58Check(pub *ecdsa.PublicKey, network Network) string {
	return EncodeBase58Check(network.prefix(), crypto.CompressPubkey(pub))
}

// SeedToPrivateKey parses a hex encoded 32-byte secp256k1 seed.
func SeedToPrivateKey(seedHex string) (*ecdsa.PrivateKey, error) {
	seed, err := hex.DecodeString(strings.TrimPrefix(strings.TrimSpace(seedHex), "0x"))
	if err != nil {
		return nil, fmt.Errorf("%w: seed is not hex: %v", interfaces.ErrInvalidKeyFormat, err)
	}
	defer zeroBytes(seed)

	privateKey, err := crypto.ToECDSA(seed)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", interfaces.ErrInvalidKeyFormat, err)
	}
	return privateKey, nil
}

// SeedToPublicKeyBase58Check derives the base58check public key of a seed.
func SeedToPublicKeyBase58Check(seedHex string, network Network) (string, error) {
	privateKey, err := SeedToPrivateKey(seedHex)
	if err != nil {
		return "", err
	}
	return PublicKeyToBase58Check(&privateKey.PublicKey, network), nil
}

// GenerateSeed creates a fresh random secp256k1 seed, hex encoded.
func GenerateSeed() (string, error) {
	privateKey, err := crypto.GenerateKey()
	if err != nil {
		return "", err
	}
	return hex.EncodeToString(crypto.FromECDSA(privateKey)), nil
}

package signing

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	"github.com/decred/dcrd/dcrec/secp256k1/v4/ecdsa"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ruteri/derived-key-session/cryptoutils"
	"github.com/ruteri/derived-key-session/interfaces"
)

// TransactionDigest is SHA256(SHA256(tx)).
func TransactionDigest(tx []byte) [32]byte {
	first := sha256.Sum256(tx)
	return sha256.Sum256(first[:])
}

// SignTransaction signs an unsigned transaction with the key derived from seedHex.
//
// The unsigned transaction ends with a zero-length signature byte. The
// result replaces it with uvarint(len(sig)) || sig, where sig is the DER
// encoded low-S signature of the double SHA-256 digest. Signatures made with
// a derived key carry 1 + recovery id added to their first byte.
func SignTransaction(unsignedTransactionHex, seedHex string, isDerived bool) (string, error) {
	tx, err := hex.DecodeString(strings.TrimSpace(unsignedTransactionHex))
	if err != nil {
		return "", fmt.Errorf("%w: transaction is not hex: %v", interfaces.ErrSigningFailed, err)
	}
	if len(tx) == 0 {
		return "", fmt.Errorf("%w: empty transaction", interfaces.ErrSigningFailed)
	}

	privateKey, err := cryptoutils.SeedToPrivateKey(seedHex)
	if err != nil {
		return "", fmt.Errorf("%w: %w", interfaces.ErrSigningFailed, err)
	}

	digest := TransactionDigest(tx)
	recoverable, err := crypto.Sign(digest[:], privateKey)
	if err != nil {
		return "", fmt.Errorf("%w: %v", interfaces.ErrSigningFailed, err)
	}

	var r, s secp256k1.ModNScalar
	r.SetByteSlice(recoverable[:32])
	s.SetByteSlice(recoverable[32:64])
	signature := ecdsa.NewSignature(&r, &s).Serialize()

	if isDerived {
		signature[0] += 1 + recoverable[64]
	}

	signed := make([]byte, 0, len(tx)-1+binary.MaxVarintLen64+len(signature))
	signed = append(signed, tx[:len(tx)-1]...)
	signed = binary.AppendUvarint(signed, uint64(len(signature)))
	signed = append(signed, signature...)

	return hex.EncodeToString(signed), nil
}

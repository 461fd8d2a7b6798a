package signing

import (
	"context"
	"encoding/binary"
	"encoding/hex"
	"encoding/json"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	"github.com/decred/dcrd/dcrec/secp256k1/v4/ecdsa"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ruteri/derived-key-session/credentials"
	"github.com/ruteri/derived-key-session/cryptoutils"
	"github.com/ruteri/derived-key-session/interfaces"
	"github.com/ruteri/derived-key-session/session"
	"github.com/ruteri/derived-key-session/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const unsignedTx = "01abcdef0203040500"

// splitSigned returns the transaction body and DER signature of a signed transaction.
func splitSigned(t *testing.T, signedHex string) ([]byte, []byte) {
	t.Helper()
	unsigned, err := hex.DecodeString(unsignedTx)
	require.NoError(t, err)
	signed, err := hex.DecodeString(signedHex)
	require.NoError(t, err)

	body := unsigned[:len(unsigned)-1]
	require.Equal(t, body, signed[:len(body)])

	length, n := binary.Uvarint(signed[len(body):])
	require.Greater(t, n, 0)
	signature := signed[len(body)+n:]
	require.Equal(t, int(length), len(signature))
	return body, signature
}

func verifyDER(t *testing.T, der []byte, seedHex string) {
	t.Helper()
	unsigned, err := hex.DecodeString(unsignedTx)
	require.NoError(t, err)
	digest := TransactionDigest(unsigned)

	privateKey, err := cryptoutils.SeedToPrivateKey(seedHex)
	require.NoError(t, err)
	publicKey, err := secp256k1.ParsePubKey(crypto.CompressPubkey(&privateKey.PublicKey))
	require.NoError(t, err)

	signature, err := ecdsa.ParseDERSignature(der)
	require.NoError(t, err)
	assert.True(t, signature.Verify(digest[:], publicKey))
}

func TestSignTransactionDirect(t *testing.T) {
	seed, err := cryptoutils.GenerateSeed()
	require.NoError(t, err)

	signedHex, err := SignTransaction(unsignedTx, seed, false)
	require.NoError(t, err)

	_, der := splitSigned(t, signedHex)
	assert.Equal(t, byte(0x30), der[0])
	verifyDER(t, der, seed)

	again, err := SignTransaction(unsignedTx, seed, false)
	require.NoError(t, err)
	assert.Equal(t, signedHex, again)
}

func TestSignTransactionDerived(t *testing.T) {
	seed, err := cryptoutils.GenerateSeed()
	require.NoError(t, err)

	signedHex, err := SignTransaction(unsignedTx, seed, true)
	require.NoError(t, err)

	_, der := splitSigned(t, signedHex)
	require.Contains(t, []byte{0x31, 0x32}, der[0])

	unsigned, err := hex.DecodeString(unsignedTx)
	require.NoError(t, err)
	digest := TransactionDigest(unsigned)
	privateKey, err := cryptoutils.SeedToPrivateKey(seed)
	require.NoError(t, err)
	recoverable, err := crypto.Sign(digest[:], privateKey)
	require.NoError(t, err)
	assert.Equal(t, 0x31+recoverable[64], der[0])

	restored := append([]byte(nil), der...)
	restored[0] = 0x30
	verifyDER(t, restored, seed)
}

func TestSignTransactionErrors(t *testing.T) {
	seed, err := cryptoutils.GenerateSeed()
	require.NoError(t, err)

	tests := []struct {
		name string
		tx   string
		seed string
	}{
		{name: "malformed hex", tx: "xyz", seed: seed},
		{name: "empty transaction", tx: "", seed: seed},
		{name: "malformed seed", tx: unsignedTx, seed: "nothex"},
		{name: "short seed", tx: unsignedTx, seed: "0102"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := SignTransaction(tt.tx, tt.seed, false)
			require.ErrorIs(t, err, interfaces.ErrSigningFailed)
		})
	}
}

type fixture struct {
	sessions *session.Manager
	store    *credentials.Store
	secrets  *storage.MemoryBackend
	service  *Service
}

func newFixture() fixture {
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	bulk := storage.BulkStoreOf(storage.NewMemoryBackend("bulk", log))
	secrets := storage.NewMemoryBackend("secrets", log)
	store := credentials.NewStore(bulk, secrets, log)
	sessions := session.NewManager(bulk, store, log)
	return fixture{
		sessions: sessions,
		store:    store,
		secrets:  secrets,
		service:  NewService(sessions, log),
	}
}

// loginDerived stores a derived credential and activates its session.
func (f fixture) loginDerived(t *testing.T) (root, derivedSeed, derivedPublicKey string) {
	t.Helper()
	ctx := context.Background()

	rootSeed, err := cryptoutils.GenerateSeed()
	require.NoError(t, err)
	root, err = cryptoutils.SeedToPublicKeyBase58Check(rootSeed, cryptoutils.Mainnet)
	require.NoError(t, err)
	derivedSeed, err = cryptoutils.GenerateSeed()
	require.NoError(t, err)
	derivedPublicKey, err = cryptoutils.SeedToPublicKeyBase58Check(derivedSeed, cryptoutils.Mainnet)
	require.NoError(t, err)

	user, record, err := credentials.EncryptDerivedAuthentication(interfaces.DerivedAuthentication{
		PublicKeyBase58Check:        root,
		DerivedPublicKeyBase58Check: derivedPublicKey,
		DerivedSeedHex:              derivedSeed,
		AccessSignature:             "30440220",
		ExpirationBlock:             1000,
	}, time.Now().Add(time.Hour))
	require.NoError(t, err)
	require.NoError(t, f.store.AddAuthenticatedUser(ctx, user, record))
	require.NoError(t, f.sessions.LoginDerived(ctx, root))
	return root, derivedSeed, derivedPublicKey
}

func TestSignJWTDirectSession(t *testing.T) {
	ctx := context.Background()
	f := newFixture()

	seed, err := cryptoutils.GenerateSeed()
	require.NoError(t, err)
	s, err := f.sessions.LoginDirect(ctx, seed, cryptoutils.Mainnet)
	require.NoError(t, err)

	token, err := f.service.SignJWT(ctx)
	require.NoError(t, err)

	claims, err := VerifyJWT(token, s.PublicKey)
	require.NoError(t, err)
	assert.Empty(t, claims.DerivedPublicKeyBase58Check)
	assert.NotEmpty(t, claims.ID)
	assert.Equal(t, TokenLifetime, claims.ExpiresAt.Sub(claims.IssuedAt.Time))

	other, err := cryptoutils.GenerateSeed()
	require.NoError(t, err)
	otherPublicKey, err := cryptoutils.SeedToPublicKeyBase58Check(other, cryptoutils.Mainnet)
	require.NoError(t, err)
	_, err = VerifyJWT(token, otherPublicKey)
	require.Error(t, err)
}

func TestSignJWTDerivedSession(t *testing.T) {
	ctx := context.Background()
	f := newFixture()
	_, _, derivedPublicKey := f.loginDerived(t)

	token, err := f.service.SignJWT(ctx)
	require.NoError(t, err)

	claims, err := VerifyJWT(token, derivedPublicKey)
	require.NoError(t, err)
	assert.Equal(t, derivedPublicKey, claims.DerivedPublicKeyBase58Check)
}

func TestSignJWTWithoutSession(t *testing.T) {
	f := newFixture()
	_, err := f.service.SignJWT(context.Background())
	require.ErrorIs(t, err, interfaces.ErrNoActiveSession)
}

func TestUndecryptableCredentialInvalidatesSession(t *testing.T) {
	ctx := context.Background()
	f := newFixture()
	root, _, _ := f.loginDerived(t)

	logouts := 0
	f.sessions.Subscribe(session.NotifierFuncs{Logout: func() { logouts++ }})

	foreign, err := cryptoutils.NewEncryptionKeyRecord()
	require.NoError(t, err)
	raw, err := json.Marshal(foreign)
	require.NoError(t, err)
	require.NoError(t, f.secrets.Set(ctx, credentials.KeyRecordPrefix+root, raw))

	_, err = f.service.SignJWT(ctx)
	require.ErrorIs(t, err, interfaces.ErrSessionUnusable)
	require.ErrorIs(t, err, interfaces.ErrDecryptionFailed)
	assert.Equal(t, 1, logouts)
	assert.False(t, f.sessions.Current().Active())
}

func TestSignActiveTransactionDerived(t *testing.T) {
	ctx := context.Background()
	f := newFixture()
	_, derivedSeed, _ := f.loginDerived(t)

	signedHex, err := f.service.SignActiveTransaction(ctx, unsignedTx)
	require.NoError(t, err)

	expected, err := SignTransaction(unsignedTx, derivedSeed, true)
	require.NoError(t, err)
	assert.Equal(t, expected, signedHex)
}

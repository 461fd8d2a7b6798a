package session

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/ruteri/derived-key-session/credentials"
	"github.com/ruteri/derived-key-session/cryptoutils"
	"github.com/ruteri/derived-key-session/interfaces"
	"github.com/ruteri/derived-key-session/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

// MockNotifier implements interfaces.Notifier for testing
type MockNotifier struct {
	mock.Mock
}

func (m *MockNotifier) OnLoginSuccess() { m.Called() }
func (m *MockNotifier) OnLogout()       { m.Called() }

type fixture struct {
	manager *Manager
	store   *credentials.Store
	bulk    interfaces.BulkStore
	secrets *storage.MemoryBackend
}

func newFixture() fixture {
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	bulk := storage.BulkStoreOf(storage.NewMemoryBackend("bulk", log))
	secrets := storage.NewMemoryBackend("secrets", log)
	store := credentials.NewStore(bulk, secrets, log)
	return fixture{
		manager: NewManager(bulk, store, log),
		store:   store,
		bulk:    bulk,
		secrets: secrets,
	}
}

func TestLoginDirectPersistsSession(t *testing.T) {
	ctx := context.Background()
	f := newFixture()

	notifier := &MockNotifier{}
	notifier.On("OnLoginSuccess").Once()
	f.manager.Subscribe(notifier)

	seed, err := cryptoutils.GenerateSeed()
	require.NoError(t, err)

	s, err := f.manager.LoginDirect(ctx, seed, cryptoutils.Mainnet)
	require.NoError(t, err)
	assert.True(t, s.Active())
	assert.False(t, s.Derived)
	assert.Equal(t, s, f.manager.Current())

	persisted, err := f.bulk.Get(ctx, PublicKeyKey)
	require.NoError(t, err)
	assert.Equal(t, s.PublicKey, persisted)
	readOnly, err := f.bulk.Get(ctx, ReadOnlyKey)
	require.NoError(t, err)
	assert.Equal(t, "false", readOnly)

	user, _, err := f.manager.ActiveCredential(ctx)
	require.NoError(t, err)
	assert.Equal(t, interfaces.DirectCredential, user.Kind())
	notifier.AssertExpectations(t)
}

func TestRestore(t *testing.T) {
	ctx := context.Background()
	f := newFixture()

	user, record, err := credentials.EncryptDerivedAuthentication(interfaces.DerivedAuthentication{
		PublicKeyBase58Check:        "BC1YLroot",
		DerivedPublicKeyBase58Check: "BC1YLderived",
		DerivedSeedHex:              "aa",
		AccessSignature:             "bb",
		ExpirationBlock:             10,
	}, time.Now().Add(time.Hour))
	require.NoError(t, err)
	require.NoError(t, f.store.AddAuthenticatedUser(ctx, user, record))
	require.NoError(t, f.manager.LoginDerived(ctx, "BC1YLroot"))

	restarted := NewManager(f.bulk, f.store, slog.New(slog.NewTextHandler(io.Discard, nil)))
	s, err := restarted.Restore(ctx)
	require.NoError(t, err)
	assert.Equal(t, interfaces.Session{PublicKey: "BC1YLroot", Derived: true}, s)

	// credential lost: restore clears the session
	require.NoError(t, f.secrets.Delete(ctx, credentials.KeyRecordPrefix+"BC1YLroot"))
	s, err = restarted.Restore(ctx)
	require.NoError(t, err)
	assert.False(t, s.Active())

	persisted, err := f.bulk.Get(ctx, PublicKeyKey)
	require.NoError(t, err)
	assert.Empty(t, persisted)
}

func TestRestoreEmpty(t *testing.T) {
	f := newFixture()
	s, err := f.manager.Restore(context.Background())
	require.NoError(t, err)
	assert.False(t, s.Active())
}

func TestLogoutNotifies(t *testing.T) {
	ctx := context.Background()
	f := newFixture()

	notifier := &MockNotifier{}
	notifier.On("OnLoginSuccess").Once()
	notifier.On("OnLogout").Once()
	f.manager.Subscribe(notifier)

	seed, err := cryptoutils.GenerateSeed()
	require.NoError(t, err)
	s, err := f.manager.LoginDirect(ctx, seed, cryptoutils.Testnet)
	require.NoError(t, err)

	require.NoError(t, f.manager.Logout(ctx))
	assert.False(t, f.manager.Current().Active())

	// stored credential survives a plain logout
	_, _, err = f.store.GetAuthenticatedUser(ctx, s.PublicKey)
	require.NoError(t, err)
	notifier.AssertExpectations(t)
}

func TestActiveCredentialWithoutSession(t *testing.T) {
	f := newFixture()
	_, _, err := f.manager.ActiveCredential(context.Background())
	require.ErrorIs(t, err, interfaces.ErrNoActiveSession)
}

func TestReadOnlySessionHasNoCredential(t *testing.T) {
	ctx := context.Background()
	f := newFixture()

	seed, err := cryptoutils.GenerateSeed()
	require.NoError(t, err)
	publicKey, err := cryptoutils.SeedToPublicKeyBase58Check(seed, cryptoutils.Mainnet)
	require.NoError(t, err)

	require.NoError(t, f.manager.LoginReadOnly(ctx, publicKey))
	assert.True(t, f.manager.Current().ReadOnly)

	_, _, err = f.manager.ActiveCredential(ctx)
	require.ErrorIs(t, err, interfaces.ErrNoActiveSession)

	require.Error(t, f.manager.LoginReadOnly(ctx, "not-a-key"))
}

func TestMissingCredentialInvalidatesSession(t *testing.T) {
	ctx := context.Background()
	f := newFixture()

	logouts := 0
	f.manager.Subscribe(NotifierFuncs{Logout: func() { logouts++ }})

	require.NoError(t, f.manager.LoginDerived(ctx, "BC1YLgone"))
	_, _, err := f.manager.ActiveCredential(ctx)
	require.ErrorIs(t, err, interfaces.ErrSessionUnusable)
	require.ErrorIs(t, err, interfaces.ErrNotFound)
	assert.Equal(t, 1, logouts)
	assert.False(t, f.manager.Current().Active())
}

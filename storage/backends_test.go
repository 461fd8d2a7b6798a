package storage

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/ruteri/derived-key-session/interfaces"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// exerciseBackend runs the contract every backend has to honour.
func exerciseBackend(t *testing.T, backend interfaces.StorageBackend) {
	ctx := context.Background()
	key := "authenticatedUsersEncryptionKeys/BC1YLexample"

	_, err := backend.Get(ctx, key)
	require.ErrorIs(t, err, interfaces.ErrContentNotFound)

	require.NoError(t, backend.Set(ctx, key, []byte("first")))
	value, err := backend.Get(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, []byte("first"), value)

	require.NoError(t, backend.Set(ctx, key, []byte("second")))
	value, err = backend.Get(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, []byte("second"), value)

	require.NoError(t, backend.Delete(ctx, key))
	_, err = backend.Get(ctx, key)
	require.ErrorIs(t, err, interfaces.ErrContentNotFound)

	// deleting twice is fine
	require.NoError(t, backend.Delete(ctx, key))
	assert.True(t, backend.Available(ctx))
}

func TestMemoryBackend(t *testing.T) {
	exerciseBackend(t, NewMemoryBackend("test", testLogger()))
}

func TestMemoryBackendCopiesValues(t *testing.T) {
	ctx := context.Background()
	backend := NewMemoryBackend("", testLogger())

	value := []byte("abc")
	require.NoError(t, backend.Set(ctx, "k", value))
	value[0] = 'x'

	stored, err := backend.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, []byte("abc"), stored)
	assert.Equal(t, "memory://default", backend.LocationURI())
}

func TestFileBackend(t *testing.T) {
	backend, err := NewFileBackend(t.TempDir(), "", testLogger())
	require.NoError(t, err)
	exerciseBackend(t, backend)
}

func TestFileBackendEscapesKeys(t *testing.T) {
	dir := t.TempDir()
	backend, err := NewFileBackend(dir, "", testLogger())
	require.NoError(t, err)

	require.NoError(t, backend.Set(context.Background(), "a/b", []byte("v")))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "a%2Fb", entries[0].Name())
}

func TestSealedFileBackend(t *testing.T) {
	dir := t.TempDir()
	backend, err := NewFileBackend(dir, "correct horse", testLogger())
	require.NoError(t, err)
	exerciseBackend(t, backend)

	ctx := context.Background()
	require.NoError(t, backend.Set(ctx, "secret", []byte("plaintext value")))

	raw, err := os.ReadFile(filepath.Join(dir, "secret"))
	require.NoError(t, err)
	assert.NotContains(t, string(raw), "plaintext value")

	wrong, err := NewFileBackend(dir, "wrong", testLogger())
	require.NoError(t, err)
	_, err = wrong.Get(ctx, "secret")
	require.ErrorIs(t, err, errSealedAuthFailed)

	unsealed, err := NewFileBackend(dir, "", testLogger())
	require.NoError(t, err)
	require.NoError(t, unsealed.Set(ctx, "plain", []byte("x")))
	_, err = backend.Get(ctx, "plain")
	require.ErrorIs(t, err, errSealedInvalid)
}

func TestBulkStoreOf(t *testing.T) {
	ctx := context.Background()
	bulk := BulkStoreOf(NewMemoryBackend("bulk", testLogger()))

	_, err := bulk.Get(ctx, "publicKey")
	require.ErrorIs(t, err, interfaces.ErrContentNotFound)

	require.NoError(t, bulk.Set(ctx, "publicKey", "BC1YLexample"))
	value, err := bulk.Get(ctx, "publicKey")
	require.NoError(t, err)
	assert.Equal(t, "BC1YLexample", value)
}

func TestRedisBackendUnreachable(t *testing.T) {
	backend := NewRedisBackendFromOptions("127.0.0.1:1", "", "", 0, "test", testLogger())
	ctx := context.Background()

	assert.False(t, backend.Available(ctx))
	_, err := backend.Get(ctx, "k")
	require.ErrorIs(t, err, interfaces.ErrBackendUnavailable)
	assert.Equal(t, "test:k", backend.key("k"))
}

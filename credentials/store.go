package credentials

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/ruteri/derived-key-session/interfaces"
)

const (
	// UsersKey is the bulk store key of the authorized users index.
	UsersKey = "authenticatedUsers"
	// KeyRecordPrefix prefixes secret store keys of encryption key records.
	KeyRecordPrefix = "authenticatedUsersEncryptionKeys/"
)

// Store persists authenticated users across the two storage tiers: the
// encrypted entries live in one index document in the bulk store, the key
// records protecting them live in the secret store.
//
// A user exists only when both its index entry and its key record exist.
type Store struct {
	bulk    interfaces.BulkStore
	secrets interfaces.SecretStore
	log     *slog.Logger

	// guards read-modify-write of the index
	mu sync.Mutex
}

// NewStore creates a credential store over the given tiers.
func NewStore(bulk interfaces.BulkStore, secrets interfaces.SecretStore, log *slog.Logger) *Store {
	return &Store{
		bulk:    bulk,
		secrets: secrets,
		log:     log,
	}
}

// storedUser is the persisted envelope of an AuthenticatedUser.
type storedUser struct {
	Kind    interfaces.CredentialKind            `json:"kind"`
	Direct  *interfaces.DirectAuthenticatedUser  `json:"direct,omitempty"`
	Derived *interfaces.DerivedAuthenticatedUser `json:"derived,omitempty"`
}

func encodeUser(user interfaces.AuthenticatedUser) (storedUser, error) {
	switch u := user.(type) {
	case *interfaces.DirectAuthenticatedUser:
		return storedUser{Kind: interfaces.DirectCredential, Direct: u}, nil
	case *interfaces.DerivedAuthenticatedUser:
		return storedUser{Kind: interfaces.DerivedCredential, Derived: u}, nil
	default:
		return storedUser{}, fmt.Errorf("unsupported credential type %T", user)
	}
}

func (e storedUser) user() (interfaces.AuthenticatedUser, error) {
	switch e.Kind {
	case interfaces.DirectCredential:
		if e.Direct == nil {
			return nil, fmt.Errorf("direct entry without payload")
		}
		return e.Direct, nil
	case interfaces.DerivedCredential:
		if e.Derived == nil {
			return nil, fmt.Errorf("derived entry without payload")
		}
		return e.Derived, nil
	default:
		return nil, fmt.Errorf("unknown credential kind %q", e.Kind)
	}
}

func keyRecordKey(rootPublicKey string) string {
	return KeyRecordPrefix + rootPublicKey
}

func (s *Store) loadIndex(ctx context.Context) (map[string]storedUser, error) {
	raw, err := s.bulk.Get(ctx, UsersKey)
	if errors.Is(err, interfaces.ErrContentNotFound) {
		return make(map[string]storedUser), nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read users index: %w", err)
	}

	index := make(map[string]storedUser)
	if raw == "" {
		return index, nil
	}
	if err := json.Unmarshal([]byte(raw), &index); err != nil {
		return nil, fmt.Errorf("failed to decode users index: %w", err)
	}
	return index, nil
}

func (s *Store) saveIndex(ctx context.Context, index map[string]storedUser) error {
	raw, err := json.Marshal(index)
	if err != nil {
		return fmt.Errorf("failed to encode users index: %w", err)
	}
	return s.bulk.Set(ctx, UsersKey, string(raw))
}

func (s *Store) readKeyRecord(ctx context.Context, rootPublicKey string) (interfaces.EncryptionKeyRecord, []byte, error) {
	raw, err := s.secrets.Get(ctx, keyRecordKey(rootPublicKey))
	if err != nil {
		return interfaces.EncryptionKeyRecord{}, nil, err
	}

	var record interfaces.EncryptionKeyRecord
	if err := json.Unmarshal(raw, &record); err != nil {
		return interfaces.EncryptionKeyRecord{}, raw, fmt.Errorf("failed to decode key record: %w", err)
	}
	return record, raw, nil
}

// GetAuthenticatedUser returns the stored user for rootPublicKey together
// with its key record. An index entry whose key record is missing is treated
// as absent and pruned from the index.
func (s *Store) GetAuthenticatedUser(ctx context.Context, rootPublicKey string) (interfaces.AuthenticatedUser, interfaces.EncryptionKeyRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	index, err := s.loadIndex(ctx)
	if err != nil {
		return nil, interfaces.EncryptionKeyRecord{}, err
	}

	entry, ok := index[rootPublicKey]
	if !ok {
		return nil, interfaces.EncryptionKeyRecord{}, interfaces.ErrNotFound
	}

	record, _, err := s.readKeyRecord(ctx, rootPublicKey)
	if errors.Is(err, interfaces.ErrContentNotFound) {
		s.log.Warn("Pruning authenticated user without key record",
			slog.String("publicKey", rootPublicKey))
		delete(index, rootPublicKey)
		if err := s.saveIndex(ctx, index); err != nil {
			s.log.Error("Failed to prune dangling index entry",
				slog.String("publicKey", rootPublicKey),
				"err", err)
		}
		return nil, interfaces.EncryptionKeyRecord{}, interfaces.ErrNotFound
	}
	if err != nil {
		return nil, interfaces.EncryptionKeyRecord{}, fmt.Errorf("failed to read key record: %w", err)
	}

	user, err := entry.user()
	if err != nil {
		return nil, interfaces.EncryptionKeyRecord{}, fmt.Errorf("invalid index entry for %s: %w", rootPublicKey, err)
	}

	return user, record, nil
}

// AddAuthenticatedUser inserts or replaces the user and its key record.
//
// The key record is written first and the index second. If the index write
// fails the previous index entry and key record are restored, or the new key
// record deleted when there was none. ErrStorageInconsistency is returned
// when the key record rollback fails as well.
//
// A crash between the two writes of a re-authorization leaves the previous
// index entry paired with the new key record. Decrypting that entry fails
// with ErrDecryptionFailed, which the signing path reports as
// ErrSessionUnusable after logging out; authorizing again rewrites both.
func (s *Store) AddAuthenticatedUser(ctx context.Context, user interfaces.AuthenticatedUser, record interfaces.EncryptionKeyRecord) error {
	if user == nil || user.RootPublicKey() == "" {
		return fmt.Errorf("authenticated user without public key")
	}
	if len(record.Key) == 0 || len(record.IV) == 0 {
		return fmt.Errorf("empty key record")
	}

	entry, err := encodeUser(user)
	if err != nil {
		return err
	}
	rawRecord, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("failed to encode key record: %w", err)
	}

	rootPublicKey := user.RootPublicKey()
	recordKey := keyRecordKey(rootPublicKey)

	s.mu.Lock()
	defer s.mu.Unlock()

	index, err := s.loadIndex(ctx)
	if err != nil {
		return err
	}

	previous, err := s.secrets.Get(ctx, recordKey)
	hadPrevious := err == nil
	if err != nil && !errors.Is(err, interfaces.ErrContentNotFound) {
		return fmt.Errorf("failed to snapshot key record: %w", err)
	}

	if err := s.secrets.Set(ctx, recordKey, rawRecord); err != nil {
		return fmt.Errorf("failed to write key record: %w", err)
	}

	previousEntry, hadEntry := index[rootPublicKey]
	index[rootPublicKey] = entry
	if err := s.saveIndex(ctx, index); err != nil {
		// a mirrored bulk store may have taken the write on some locations
		if hadEntry {
			index[rootPublicKey] = previousEntry
		} else {
			delete(index, rootPublicKey)
		}
		if restoreErr := s.saveIndex(ctx, index); restoreErr != nil {
			s.log.Warn("Failed to restore users index",
				slog.String("publicKey", rootPublicKey),
				"err", restoreErr)
		}

		var rollbackErr error
		if hadPrevious {
			rollbackErr = s.secrets.Set(ctx, recordKey, previous)
		} else {
			rollbackErr = s.secrets.Delete(ctx, recordKey)
		}

		if rollbackErr != nil {
			s.log.Error("Credential storage left inconsistent",
				slog.String("publicKey", rootPublicKey),
				"err", err,
				slog.String("rollbackErr", rollbackErr.Error()))
			return fmt.Errorf("%w: index write failed (%v) and key record rollback failed (%v)", interfaces.ErrStorageInconsistency, err, rollbackErr)
		}

		s.log.Warn("Rolled back key record after index write failure",
			slog.String("publicKey", rootPublicKey),
			"err", err)
		return fmt.Errorf("failed to write users index: %w", err)
	}

	s.log.Info("Stored authenticated user",
		slog.String("publicKey", rootPublicKey),
		slog.String("kind", string(user.Kind())))

	return nil
}

// RemoveAuthenticatedUser deletes the index entry, then the key record.
// Removing an absent user succeeds.
func (s *Store) RemoveAuthenticatedUser(ctx context.Context, rootPublicKey string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	index, err := s.loadIndex(ctx)
	if err != nil {
		return err
	}

	if _, ok := index[rootPublicKey]; ok {
		delete(index, rootPublicKey)
		if err := s.saveIndex(ctx, index); err != nil {
			return fmt.Errorf("failed to write users index: %w", err)
		}
	}

	// an orphaned key record is harmless, but should not linger
	if err := s.secrets.Delete(ctx, keyRecordKey(rootPublicKey)); err != nil {
		return fmt.Errorf("failed to delete key record: %w", err)
	}

	s.log.Info("Removed authenticated user", slog.String("publicKey", rootPublicKey))
	return nil
}

// ListAuthenticatedUsers returns the root public keys in the index, sorted.
func (s *Store) ListAuthenticatedUsers(ctx context.Context) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	index, err := s.loadIndex(ctx)
	if err != nil {
		return nil, err
	}

	keys := make([]string, 0, len(index))
	for key := range index {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys, nil
}

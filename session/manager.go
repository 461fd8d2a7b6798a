package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"sync"

	"github.com/ruteri/derived-key-session/credentials"
	"github.com/ruteri/derived-key-session/cryptoutils"
	"github.com/ruteri/derived-key-session/interfaces"
)

// Bulk store keys of the persisted session flags.
const (
	PublicKeyKey = "publicKey"
	ReadOnlyKey  = "readonly"
)

// Manager owns the active session. The session is an explicit value that is
// mirrored into the bulk store so it survives restarts.
type Manager struct {
	bulk  interfaces.BulkStore
	store *credentials.Store
	log   *slog.Logger

	mu        sync.RWMutex
	current   interfaces.Session
	notifiers []interfaces.Notifier
}

// NewManager creates a manager with no active session. Call Restore to load
// the persisted one.
func NewManager(bulk interfaces.BulkStore, store *credentials.Store, log *slog.Logger) *Manager {
	return &Manager{
		bulk:  bulk,
		store: store,
		log:   log,
	}
}

// Subscribe registers a notifier for login and logout events.
func (m *Manager) Subscribe(n interfaces.Notifier) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.notifiers = append(m.notifiers, n)
}

// Store returns the credential store backing the session.
func (m *Manager) Store() *credentials.Store {
	return m.store
}

// Current returns the active session value.
func (m *Manager) Current() interfaces.Session {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.current
}

func (m *Manager) readFlag(ctx context.Context, key string) (string, error) {
	value, err := m.bulk.Get(ctx, key)
	if errors.Is(err, interfaces.ErrContentNotFound) {
		return "", nil
	}
	return value, err
}

// Restore loads the persisted session flags. A persisted public key whose
// credential is gone is cleared.
func (m *Manager) Restore(ctx context.Context) (interfaces.Session, error) {
	publicKey, err := m.readFlag(ctx, PublicKeyKey)
	if err != nil {
		return interfaces.Session{}, fmt.Errorf("failed to read session: %w", err)
	}
	readOnlyRaw, err := m.readFlag(ctx, ReadOnlyKey)
	if err != nil {
		return interfaces.Session{}, fmt.Errorf("failed to read session: %w", err)
	}
	readOnly, _ := strconv.ParseBool(readOnlyRaw)

	restored := interfaces.Session{PublicKey: publicKey, ReadOnly: readOnly}
	if publicKey != "" && !readOnly {
		user, _, err := m.store.GetAuthenticatedUser(ctx, publicKey)
		switch {
		case errors.Is(err, interfaces.ErrNotFound):
			m.log.Warn("Persisted session has no credential, clearing it",
				slog.String("publicKey", publicKey))
			if err := m.persist(ctx, interfaces.Session{}); err != nil {
				return interfaces.Session{}, err
			}
			restored = interfaces.Session{}
		case err != nil:
			return interfaces.Session{}, err
		default:
			restored.Derived = user.Kind() == interfaces.DerivedCredential
		}
	}

	m.mu.Lock()
	m.current = restored
	m.mu.Unlock()

	return restored, nil
}

func (m *Manager) persist(ctx context.Context, s interfaces.Session) error {
	if err := m.bulk.Set(ctx, PublicKeyKey, s.PublicKey); err != nil {
		return fmt.Errorf("failed to persist session: %w", err)
	}
	if err := m.bulk.Set(ctx, ReadOnlyKey, strconv.FormatBool(s.ReadOnly)); err != nil {
		return fmt.Errorf("failed to persist session: %w", err)
	}
	return nil
}

func (m *Manager) activate(ctx context.Context, s interfaces.Session) error {
	if err := m.persist(ctx, s); err != nil {
		return err
	}

	m.mu.Lock()
	m.current = s
	notifiers := append([]interfaces.Notifier(nil), m.notifiers...)
	m.mu.Unlock()

	m.log.Info("Session established",
		slog.String("publicKey", s.PublicKey),
		slog.Bool("readonly", s.ReadOnly),
		slog.Bool("derived", s.Derived))

	for _, n := range notifiers {
		n.OnLoginSuccess()
	}
	return nil
}

// LoginDerived activates a session for a root key whose derived credential
// is already stored.
func (m *Manager) LoginDerived(ctx context.Context, publicKey string) error {
	return m.activate(ctx, interfaces.Session{PublicKey: publicKey, Derived: true})
}

// LoginReadOnly activates a view-only session without any credential.
func (m *Manager) LoginReadOnly(ctx context.Context, publicKey string) error {
	if _, _, err := cryptoutils.ParsePublicKey(publicKey); err != nil {
		return err
	}
	return m.activate(ctx, interfaces.Session{PublicKey: publicKey, ReadOnly: true})
}

// LoginDirect stores the root seed encrypted and activates its session.
func (m *Manager) LoginDirect(ctx context.Context, seedHex string, network cryptoutils.Network) (interfaces.Session, error) {
	publicKey, err := cryptoutils.SeedToPublicKeyBase58Check(seedHex, network)
	if err != nil {
		return interfaces.Session{}, err
	}

	user, record, err := credentials.EncryptDirectSeed(publicKey, seedHex)
	if err != nil {
		return interfaces.Session{}, err
	}
	if err := m.store.AddAuthenticatedUser(ctx, user, record); err != nil {
		return interfaces.Session{}, err
	}

	s := interfaces.Session{PublicKey: publicKey}
	if err := m.activate(ctx, s); err != nil {
		return interfaces.Session{}, err
	}
	return s, nil
}

// Logout clears the active session and notifies subscribers. Stored
// credentials are left alone.
func (m *Manager) Logout(ctx context.Context) error {
	if err := m.persist(ctx, interfaces.Session{}); err != nil {
		return err
	}

	m.mu.Lock()
	previous := m.current
	m.current = interfaces.Session{}
	notifiers := append([]interfaces.Notifier(nil), m.notifiers...)
	m.mu.Unlock()

	if previous.Active() {
		m.log.Info("Session cleared", slog.String("publicKey", previous.PublicKey))
	}
	for _, n := range notifiers {
		n.OnLogout()
	}
	return nil
}

// Invalidate logs out after the active credential became unusable.
func (m *Manager) Invalidate(ctx context.Context, reason error) {
	m.log.Warn("Invalidating session",
		slog.String("publicKey", m.Current().PublicKey),
		"err", reason)
	if err := m.Logout(ctx); err != nil {
		m.log.Error("Failed to clear invalidated session", "err", err)
	}
}

// ActiveCredential returns the stored credential of the active session.
// A missing credential invalidates the session.
func (m *Manager) ActiveCredential(ctx context.Context) (interfaces.AuthenticatedUser, interfaces.EncryptionKeyRecord, error) {
	current := m.Current()
	if !current.Active() || current.ReadOnly {
		return nil, interfaces.EncryptionKeyRecord{}, interfaces.ErrNoActiveSession
	}

	user, record, err := m.store.GetAuthenticatedUser(ctx, current.PublicKey)
	if errors.Is(err, interfaces.ErrNotFound) {
		m.Invalidate(ctx, err)
		return nil, interfaces.EncryptionKeyRecord{}, fmt.Errorf("%w: %w", interfaces.ErrSessionUnusable, err)
	}
	if err != nil {
		return nil, interfaces.EncryptionKeyRecord{}, err
	}
	return user, record, nil
}

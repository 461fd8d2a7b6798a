package signing

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/ruteri/derived-key-session/credentials"
	"github.com/ruteri/derived-key-session/cryptoutils"
	"github.com/ruteri/derived-key-session/interfaces"
	"github.com/ruteri/derived-key-session/session"
)

// Service signs on behalf of the active session.
type Service struct {
	sessions *session.Manager
	log      *slog.Logger
	now      func() time.Time
}

// NewService creates a signing service bound to a session manager.
func NewService(sessions *session.Manager, log *slog.Logger) *Service {
	return &Service{
		sessions: sessions,
		log:      log,
		now:      time.Now,
	}
}

// activeKey is the decrypted signing material of the active session.
type activeKey struct {
	seedHex          string
	derived          bool
	derivedPublicKey string
}

func (s *Service) resolveActiveKey(ctx context.Context) (activeKey, error) {
	user, record, err := s.sessions.ActiveCredential(ctx)
	if err != nil {
		return activeKey{}, err
	}

	var key activeKey
	switch u := user.(type) {
	case *interfaces.DirectAuthenticatedUser:
		key.seedHex, err = credentials.DecryptDirectSeed(u, record)
	case *interfaces.DerivedAuthenticatedUser:
		var secrets credentials.DerivedSecrets
		secrets, err = credentials.DecryptDerivedSecrets(u, record)
		key = activeKey{seedHex: secrets.DerivedSeedHex, derived: true, derivedPublicKey: u.DerivedPublicKey}
	default:
		return activeKey{}, fmt.Errorf("unsupported credential type %T", user)
	}

	if errors.Is(err, interfaces.ErrDecryptionFailed) {
		s.sessions.Invalidate(ctx, err)
		return activeKey{}, fmt.Errorf("%w: %w", interfaces.ErrSessionUnusable, err)
	}
	if err != nil {
		return activeKey{}, err
	}
	return key, nil
}

// SignJWT issues a short-lived ES256K session token for the active session.
// Tokens of derived sessions are signed by the derived key and name it in
// the derivedPublicKeyBase58Check claim.
func (s *Service) SignJWT(ctx context.Context) (string, error) {
	key, err := s.resolveActiveKey(ctx)
	if err != nil {
		return "", err
	}

	privateKey, err := cryptoutils.SeedToPrivateKey(key.seedHex)
	if err != nil {
		return "", fmt.Errorf("%w: %w", interfaces.ErrSigningFailed, err)
	}

	now := s.now()
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(TokenLifetime)),
			ID:        uuid.NewString(),
		},
	}
	if key.derived {
		claims.DerivedPublicKeyBase58Check = key.derivedPublicKey
	}

	token, err := jwt.NewWithClaims(SigningMethodES256K, claims).SignedString(privateKey)
	if err != nil {
		return "", fmt.Errorf("%w: %v", interfaces.ErrSigningFailed, err)
	}

	s.log.Debug("Issued session token",
		slog.String("publicKey", s.sessions.Current().PublicKey),
		slog.Bool("derived", key.derived))

	return token, nil
}

// SignActiveTransaction signs a transaction with the active credential.
func (s *Service) SignActiveTransaction(ctx context.Context, unsignedTransactionHex string) (string, error) {
	key, err := s.resolveActiveKey(ctx)
	if err != nil {
		return "", err
	}
	return SignTransaction(unsignedTransactionHex, key.seedHex, key.derived)
}

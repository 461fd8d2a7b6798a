// Package validator checks stored derived keys against the chain and
// revokes them.
package validator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/ruteri/derived-key-session/credentials"
	"github.com/ruteri/derived-key-session/interfaces"
	"github.com/ruteri/derived-key-session/metrics"
	"github.com/ruteri/derived-key-session/session"
	"github.com/ruteri/derived-key-session/signing"
	"golang.org/x/sync/singleflight"
)

// checkTimeout bounds a coalesced validity check.
const checkTimeout = 30 * time.Second

// RevokeStatus is the result category of a revocation attempt.
type RevokeStatus string

const (
	RevokeSkipped   RevokeStatus = "skipped"
	RevokeSubmitted RevokeStatus = "submitted"
	RevokeFailed    RevokeStatus = "failed"
)

// RevokeOutcome reports a revocation attempt. Err is set only for RevokeFailed.
type RevokeOutcome struct {
	Status     RevokeStatus
	TxnHashHex string
	Err        error
}

// Validator checks and revokes the derived keys held by a session manager's
// credential store.
type Validator struct {
	chain    interfaces.ChainAPI
	sessions *session.Manager
	log      *slog.Logger
	now      func() time.Time

	checks singleflight.Group
}

// New creates a validator.
func New(chain interfaces.ChainAPI, sessions *session.Manager, log *slog.Logger) *Validator {
	return &Validator{
		chain:    chain,
		sessions: sessions,
		log:      log,
		now:      time.Now,
	}
}

func (v *Validator) derivedUser(ctx context.Context, rootPublicKey string) (*interfaces.DerivedAuthenticatedUser, interfaces.EncryptionKeyRecord, error) {
	user, record, err := v.sessions.Store().GetAuthenticatedUser(ctx, rootPublicKey)
	if err != nil {
		return nil, interfaces.EncryptionKeyRecord{}, err
	}
	switch u := user.(type) {
	case *interfaces.DerivedAuthenticatedUser:
		return u, record, nil
	case *interfaces.DirectAuthenticatedUser:
		return nil, interfaces.EncryptionKeyRecord{}, nil
	default:
		return nil, interfaces.EncryptionKeyRecord{}, fmt.Errorf("unsupported credential type %T", user)
	}
}

// IsDerivedKeyValid reports whether the stored derived key of rootPublicKey
// is still authorized. An expired key is reported invalid without asking
// the chain. Concurrent checks of the same key share one lookup, which runs
// until checkTimeout even if the caller that started it gives up.
func (v *Validator) IsDerivedKeyValid(ctx context.Context, rootPublicKey string) bool {
	valid, _, _ := v.checks.Do(rootPublicKey, func() (interface{}, error) {
		// shared by every waiting caller, so not bound to the first one's ctx
		checkCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), checkTimeout)
		defer cancel()

		result := v.checkDerivedKey(checkCtx, rootPublicKey)
		metrics.ValidationResults.WithLabelValues(result).Inc()
		return result == "valid", nil
	})
	return valid.(bool)
}

func (v *Validator) checkDerivedKey(ctx context.Context, rootPublicKey string) string {
	user, _, err := v.derivedUser(ctx, rootPublicKey)
	if errors.Is(err, interfaces.ErrNotFound) {
		return "not_found"
	}
	if err != nil {
		v.log.Error("Failed to load credential", slog.String("publicKey", rootPublicKey), "err", err)
		return "error"
	}
	if user == nil {
		return "not_derived"
	}
	if user.Expired(v.now()) {
		return "expired"
	}

	keys, err := v.chain.GetDerivedKeys(ctx, rootPublicKey)
	if err != nil {
		v.log.Warn("Derived key lookup failed", slog.String("publicKey", rootPublicKey), "err", err)
		return "error"
	}
	if !keys[user.DerivedPublicKey].IsValid {
		return "revoked"
	}
	return "valid"
}

// RevokeDerivedKey submits a revocation of the stored derived key. Missing
// and direct credentials are skipped without network calls.
func (v *Validator) RevokeDerivedKey(ctx context.Context, rootPublicKey string) RevokeOutcome {
	outcome := v.revoke(ctx, rootPublicKey)
	metrics.RevocationResults.WithLabelValues(string(outcome.Status)).Inc()

	switch outcome.Status {
	case RevokeFailed:
		v.log.Error("Derived key revocation failed", slog.String("publicKey", rootPublicKey), "err", outcome.Err)
	case RevokeSubmitted:
		v.log.Info("Derived key revocation submitted",
			slog.String("publicKey", rootPublicKey),
			slog.String("txnHash", outcome.TxnHashHex))
	}
	return outcome
}

func (v *Validator) revoke(ctx context.Context, rootPublicKey string) RevokeOutcome {
	user, record, err := v.derivedUser(ctx, rootPublicKey)
	if errors.Is(err, interfaces.ErrNotFound) {
		return RevokeOutcome{Status: RevokeSkipped}
	}
	if err != nil {
		return RevokeOutcome{Status: RevokeFailed, Err: err}
	}
	if user == nil {
		return RevokeOutcome{Status: RevokeSkipped}
	}

	secrets, err := credentials.DecryptDerivedSecrets(user, record)
	if err != nil {
		return RevokeOutcome{Status: RevokeFailed, Err: err}
	}

	tx, err := v.chain.AuthorizeDerivedKey(ctx, user.PublicKey, user.DerivedPublicKey,
		secrets.AccessSignature, user.ExpirationBlock, true)
	if err != nil {
		return RevokeOutcome{Status: RevokeFailed, Err: err}
	}
	tx, err = v.chain.AppendExtraData(ctx, tx, user.CompressedDerivedPublicKey)
	if err != nil {
		return RevokeOutcome{Status: RevokeFailed, Err: err}
	}
	signed, err := signing.SignTransaction(tx, secrets.DerivedSeedHex, true)
	if err != nil {
		return RevokeOutcome{Status: RevokeFailed, Err: err}
	}
	ack, err := v.chain.SubmitTransaction(ctx, signed)
	if err != nil {
		return RevokeOutcome{Status: RevokeFailed, Err: err}
	}
	return RevokeOutcome{Status: RevokeSubmitted, TxnHashHex: ack.TxnHashHex}
}

// Logout optionally revokes the derived key of rootPublicKey, removes its
// stored credential and ends the session if it belongs to rootPublicKey.
// A failed revocation is reported in the outcome and does not stop the logout.
func (v *Validator) Logout(ctx context.Context, rootPublicKey string, revoke bool) (RevokeOutcome, error) {
	outcome := RevokeOutcome{Status: RevokeSkipped}
	if revoke {
		outcome = v.RevokeDerivedKey(ctx, rootPublicKey)
	}

	if err := v.sessions.Store().RemoveAuthenticatedUser(ctx, rootPublicKey); err != nil {
		return outcome, err
	}

	if v.sessions.Current().PublicKey == rootPublicKey {
		if err := v.sessions.Logout(ctx); err != nil {
			return outcome, err
		}
	}
	return outcome, nil
}

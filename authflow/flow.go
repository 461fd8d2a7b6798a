package authflow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/ruteri/derived-key-session/credentials"
	"github.com/ruteri/derived-key-session/cryptoutils"
	"github.com/ruteri/derived-key-session/identityprovider"
	"github.com/ruteri/derived-key-session/interfaces"
	"github.com/ruteri/derived-key-session/metrics"
	"github.com/ruteri/derived-key-session/session"
	"github.com/ruteri/derived-key-session/signing"
)

// State is a step of the authorization flow.
type State string

const (
	Idle                     State = "idle"
	AwaitingProviderRedirect State = "awaiting_provider_redirect"
	AuthorizingOnChain       State = "authorizing_on_chain"
	AppendingMetadata        State = "appending_metadata"
	SigningLocally           State = "signing_locally"
	Submitting               State = "submitting"
	ConfirmPending           State = "confirm_pending"
	Valid                    State = "valid"
	Failed                   State = "failed"
	Rejected                 State = "rejected"
)

// Config holds the identity provider location and confirmation timings.
type Config struct {
	IdentityURL string

	// SettleDelay is waited after submission before the first validity check.
	SettleDelay time.Duration
	// PollInterval separates validity checks until ConfirmTimeout elapses.
	PollInterval   time.Duration
	ConfirmTimeout time.Duration

	// BlockInterval converts the remaining blocks of an authorization into
	// the locally stored expiration date.
	BlockInterval time.Duration
}

// DefaultConfig returns the production identity provider and timings.
func DefaultConfig() Config {
	return Config{
		IdentityURL:    identityprovider.DefaultIdentityURL,
		SettleDelay:    3 * time.Second,
		PollInterval:   2 * time.Second,
		ConfirmTimeout: 30 * time.Second,
		BlockInterval:  time.Second,
	}
}

// Result of one authorization attempt. Err is nil only when OK is set.
type Result struct {
	OK    bool
	State State
	Err   error
}

// Flow authorizes a provider issued derived key on chain and stores it.
type Flow struct {
	cfg      Config
	provider interfaces.IdentityProvider
	chain    interfaces.ChainAPI
	sessions *session.Manager
	alerter  interfaces.Alerter
	log      *slog.Logger
	now      func() time.Time

	mu       sync.Mutex
	inFlight map[string]struct{}
}

// New creates a flow. alerter may be nil.
func New(cfg Config, provider interfaces.IdentityProvider, chain interfaces.ChainAPI, sessions *session.Manager, alerter interfaces.Alerter, log *slog.Logger) *Flow {
	return &Flow{
		cfg:      cfg,
		provider: provider,
		chain:    chain,
		sessions: sessions,
		alerter:  alerter,
		log:      log,
		now:      time.Now,
		inFlight: make(map[string]struct{}),
	}
}

func (f *Flow) acquire(publicKey string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, busy := f.inFlight[publicKey]; busy {
		return false
	}
	f.inFlight[publicKey] = struct{}{}
	return true
}

func (f *Flow) release(publicKey string) {
	f.mu.Lock()
	delete(f.inFlight, publicKey)
	f.mu.Unlock()
}

// attempt tracks the state and held guards of one Authenticate call.
type attempt struct {
	flow     *Flow
	expected string
	state    State
	held     []string
}

func (a *attempt) enter(state State) {
	a.flow.log.Debug("Authorization flow transition",
		slog.String("expectedPublicKey", a.expected),
		slog.String("from", string(a.state)),
		slog.String("to", string(state)))
	a.state = state
}

func (a *attempt) guard(publicKey string) error {
	for _, held := range a.held {
		if held == publicKey {
			return nil
		}
	}
	if !a.flow.acquire(publicKey) {
		return fmt.Errorf("%w: %s", interfaces.ErrAuthorizationInProgress, publicKey)
	}
	a.held = append(a.held, publicKey)
	return nil
}

func (a *attempt) releaseAll() {
	for _, publicKey := range a.held {
		a.flow.release(publicKey)
	}
}

// Authenticate runs the provider grant and the on-chain authorization of the
// returned derived key. With expectedPublicKey set it re-authenticates that
// identity: a different authorized identity is rejected and any failure
// logs out the current session.
func (f *Flow) Authenticate(ctx context.Context, expectedPublicKey string) Result {
	a := &attempt{flow: f, expected: expectedPublicKey, state: Idle}
	defer a.releaseAll()

	err := f.run(ctx, a)
	result := Result{OK: err == nil, State: a.state, Err: err}
	if err == nil {
		result.State = Valid
	} else if a.state != Rejected {
		result.State = Failed
	}
	metrics.AuthFlowResults.WithLabelValues(string(result.State)).Inc()

	if err != nil {
		f.fail(ctx, a, err)
	}
	return result
}

func (f *Flow) fail(ctx context.Context, a *attempt, err error) {
	f.log.Warn("Derived key authorization failed",
		slog.String("expectedPublicKey", a.expected),
		slog.String("state", string(a.state)),
		"err", err)

	if errors.Is(err, interfaces.ErrAuthorizationInProgress) {
		return
	}

	if a.expected != "" {
		if logoutErr := f.sessions.Logout(ctx); logoutErr != nil {
			f.log.Error("Failed to log out after failed authorization", "err", logoutErr)
		}
	}

	if f.alerter == nil {
		return
	}
	switch {
	case errors.Is(err, interfaces.ErrIdentityMismatch):
		f.alerter.Alert("Authentication Failed", "The authorized account does not match your public key "+a.expected)
	case errors.Is(err, interfaces.ErrProviderRejected):
		f.alerter.Alert("Authentication Failed", "Authentication with the identity provider failed.")
	default:
		f.alerter.Alert("Error", "Something went wrong while authorizing the derived key.")
	}
}

func (f *Flow) run(ctx context.Context, a *attempt) error {
	if a.expected != "" {
		if err := a.guard(a.expected); err != nil {
			return err
		}
	}

	a.enter(AwaitingProviderRedirect)
	auth, err := f.grant(ctx)
	if err != nil {
		a.enter(Rejected)
		return err
	}

	if a.expected != "" && a.expected != auth.PublicKeyBase58Check {
		return fmt.Errorf("%w: authorized %s", interfaces.ErrIdentityMismatch, auth.PublicKeyBase58Check)
	}
	if err := a.guard(auth.PublicKeyBase58Check); err != nil {
		return err
	}

	auth.CompressedDerivedPublicKey, err = cryptoutils.CompressPublicKey(auth.DerivedPublicKeyBase58Check)
	if err != nil {
		return err
	}

	a.enter(AuthorizingOnChain)
	// no network call may follow confirmation, so the expiry is fixed first
	expireDate, err := f.estimateExpireDate(ctx, auth.ExpirationBlock)
	if err != nil {
		return err
	}
	tx, err := f.chain.AuthorizeDerivedKey(ctx, auth.PublicKeyBase58Check, auth.DerivedPublicKeyBase58Check,
		auth.AccessSignature, auth.ExpirationBlock, false)
	if err != nil {
		return err
	}

	a.enter(AppendingMetadata)
	tx, err = f.chain.AppendExtraData(ctx, tx, auth.CompressedDerivedPublicKey)
	if err != nil {
		return err
	}

	a.enter(SigningLocally)
	signed, err := signing.SignTransaction(tx, auth.DerivedSeedHex, true)
	if err != nil {
		return err
	}

	a.enter(Submitting)
	ack, err := f.chain.SubmitTransaction(ctx, signed)
	if err != nil {
		return err
	}
	f.log.Info("Submitted derived key authorization",
		slog.String("publicKey", auth.PublicKeyBase58Check),
		slog.String("derivedPublicKey", auth.DerivedPublicKeyBase58Check),
		slog.String("txnHash", ack.TxnHashHex))

	a.enter(ConfirmPending)
	if err := f.awaitValid(ctx, auth.PublicKeyBase58Check, auth.DerivedPublicKeyBase58Check); err != nil {
		return err
	}

	user, record, err := credentials.EncryptDerivedAuthentication(auth, expireDate)
	if err != nil {
		return err
	}
	if err := f.sessions.Store().AddAuthenticatedUser(ctx, user, record); err != nil {
		return err
	}
	if err := f.sessions.LoginDerived(ctx, auth.PublicKeyBase58Check); err != nil {
		return err
	}

	a.enter(Valid)
	return nil
}

func (f *Flow) grant(ctx context.Context) (interfaces.DerivedAuthentication, error) {
	requestURL := identityprovider.DeriveRequestURL(f.cfg.IdentityURL, f.provider.RedirectURI())
	result, err := f.provider.StartInteractiveGrant(ctx, requestURL)
	if err != nil {
		return interfaces.DerivedAuthentication{}, fmt.Errorf("%w: %v", interfaces.ErrProviderRejected, err)
	}
	if result.Type != interfaces.GrantSuccess {
		return interfaces.DerivedAuthentication{}, fmt.Errorf("%w: grant %s", interfaces.ErrProviderRejected, result.Type)
	}

	auth, err := interfaces.DerivedAuthenticationFromParams(result.Params)
	if err != nil {
		return interfaces.DerivedAuthentication{}, fmt.Errorf("%w: %v", interfaces.ErrProviderRejected, err)
	}
	return auth, nil
}

// awaitValid waits SettleDelay, then checks the derived key every
// PollInterval until the chain reports it valid or ConfirmTimeout elapses.
func (f *Flow) awaitValid(ctx context.Context, rootPublicKey, derivedPublicKey string) error {
	if err := sleep(ctx, f.cfg.SettleDelay); err != nil {
		return err
	}

	deadline := f.now().Add(f.cfg.ConfirmTimeout)
	var lastErr error
	for {
		keys, err := f.chain.GetDerivedKeys(ctx, rootPublicKey)
		if err == nil && keys[derivedPublicKey].IsValid {
			return nil
		}
		if err != nil {
			lastErr = err
			f.log.Debug("Derived key validity check failed", "err", err)
		}

		if !f.now().Before(deadline) {
			break
		}
		if err := sleep(ctx, f.cfg.PollInterval); err != nil {
			return err
		}
	}

	if lastErr != nil {
		return fmt.Errorf("%w: %v", interfaces.ErrNotYetValid, lastErr)
	}
	return interfaces.ErrNotYetValid
}

// estimateExpireDate converts the blocks left until expirationBlock into a
// local date, counted from now.
func (f *Flow) estimateExpireDate(ctx context.Context, expirationBlock uint64) (time.Time, error) {
	height, err := f.chain.GetBlockHeight(ctx)
	if err != nil {
		return time.Time{}, err
	}
	now := f.now()
	if expirationBlock <= height {
		return now, nil
	}
	remaining := expirationBlock - height
	if f.cfg.BlockInterval > 0 && remaining > uint64(math.MaxInt64/int64(f.cfg.BlockInterval)) {
		remaining = uint64(math.MaxInt64 / int64(f.cfg.BlockInterval))
	}
	return now.Add(time.Duration(remaining) * f.cfg.BlockInterval), nil
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

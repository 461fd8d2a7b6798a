// Package identityprovider drives the interactive redirect to the external
// identity provider and collects its result through a loopback callback.
package identityprovider

import (
	"context"
	"errors"
	"log/slog"
	"net/url"
	"strings"
	"sync"

	"github.com/ruteri/derived-key-session/interfaces"
)

// DefaultIdentityURL is the public identity service.
const DefaultIdentityURL = "https://identity.deso.org"

var ErrGrantPending = errors.New("another grant is already pending")

// Opener presents the provider URL to the user, e.g. by printing it or
// launching a browser.
type Opener func(requestURL string) error

// DeriveRequestURL builds the derive request of identityURL that redirects back to redirectURI.
func DeriveRequestURL(identityURL, redirectURI string) string {
	return strings.TrimSuffix(identityURL, "/") + "/derive?webview=true&callback=" + url.QueryEscape(redirectURI)
}

// LoopbackProvider implements interfaces.IdentityProvider. The callback
// server hands the provider's redirect to Deliver.
type LoopbackProvider struct {
	redirectURI string
	open        Opener
	log         *slog.Logger

	mu      sync.Mutex
	pending chan interfaces.GrantResult
}

func NewLoopbackProvider(redirectURI string, open Opener, log *slog.Logger) *LoopbackProvider {
	return &LoopbackProvider{
		redirectURI: redirectURI,
		open:        open,
		log:         log,
	}
}

func (p *LoopbackProvider) RedirectURI() string {
	return p.redirectURI
}

// Deliver completes the pending grant. It reports false when no grant is
// waiting or the pending one has already been completed.
func (p *LoopbackProvider) Deliver(result interfaces.GrantResult) bool {
	p.mu.Lock()
	pending := p.pending
	p.mu.Unlock()

	if pending == nil {
		return false
	}

	select {
	case pending <- result:
		return true
	default:
		return false
	}
}

// Pending reports whether a grant is waiting for its callback.
func (p *LoopbackProvider) Pending() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.pending != nil
}

// StartInteractiveGrant opens requestURL and waits for the callback or ctx.
// Cancellation yields a cancel result and no error.
func (p *LoopbackProvider) StartInteractiveGrant(ctx context.Context, requestURL string) (interfaces.GrantResult, error) {
	pending := make(chan interfaces.GrantResult, 1)

	p.mu.Lock()
	if p.pending != nil {
		p.mu.Unlock()
		return interfaces.GrantResult{}, ErrGrantPending
	}
	p.pending = pending
	p.mu.Unlock()

	defer func() {
		p.mu.Lock()
		p.pending = nil
		p.mu.Unlock()
	}()

	if err := p.open(requestURL); err != nil {
		return interfaces.GrantResult{Type: interfaces.GrantError}, err
	}
	p.log.Info("Waiting for identity provider redirect", slog.String("redirectURI", p.redirectURI))

	select {
	case result := <-pending:
		p.log.Debug("Identity provider returned", slog.String("type", string(result.Type)))
		return result, nil
	case <-ctx.Done():
		p.log.Info("Identity provider grant cancelled", "err", ctx.Err())
		return interfaces.GrantResult{Type: interfaces.GrantCancel}, nil
	}
}

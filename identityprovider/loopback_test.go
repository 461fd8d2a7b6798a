package identityprovider

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/ruteri/derived-key-session/interfaces"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testLog = slog.New(slog.NewTextHandler(io.Discard, nil))

func TestDeriveRequestURL(t *testing.T) {
	assert.Equal(t,
		"https://identity.deso.org/derive?webview=true&callback=http%3A%2F%2F127.0.0.1%3A8095%2Fcallback",
		DeriveRequestURL(DefaultIdentityURL+"/", "http://127.0.0.1:8095/callback"))
}

func TestGrantReceivesDelivery(t *testing.T) {
	opened := make(chan string, 1)
	provider := NewLoopbackProvider("http://127.0.0.1:8095/callback", func(u string) error {
		opened <- u
		return nil
	}, testLog)

	assert.False(t, provider.Deliver(interfaces.GrantResult{Type: interfaces.GrantSuccess}))

	go func() {
		<-opened
		provider.Deliver(interfaces.GrantResult{
			Type:   interfaces.GrantSuccess,
			Params: map[string]string{interfaces.ParamPublicKey: "BC1root"},
		})
	}()

	result, err := provider.StartInteractiveGrant(context.Background(), "https://identity.test/derive")
	require.NoError(t, err)
	assert.Equal(t, interfaces.GrantSuccess, result.Type)
	assert.Equal(t, "BC1root", result.Params[interfaces.ParamPublicKey])
	assert.False(t, provider.Pending())
}

func TestGrantCancelledByContext(t *testing.T) {
	provider := NewLoopbackProvider("http://127.0.0.1:8095/callback", func(string) error { return nil }, testLog)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	result, err := provider.StartInteractiveGrant(ctx, "https://identity.test/derive")
	require.NoError(t, err)
	assert.Equal(t, interfaces.GrantCancel, result.Type)
	assert.False(t, provider.Pending())
}

func TestGrantOpenerFailure(t *testing.T) {
	openErr := errors.New("no browser")
	provider := NewLoopbackProvider("http://127.0.0.1:8095/callback", func(string) error { return openErr }, testLog)

	result, err := provider.StartInteractiveGrant(context.Background(), "https://identity.test/derive")
	require.ErrorIs(t, err, openErr)
	assert.Equal(t, interfaces.GrantError, result.Type)
	assert.False(t, provider.Pending())
}

func TestConcurrentGrantRejected(t *testing.T) {
	provider := NewLoopbackProvider("http://127.0.0.1:8095/callback", func(string) error { return nil }, testLog)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_, _ = provider.StartInteractiveGrant(ctx, "https://identity.test/derive")
	}()
	require.Eventually(t, provider.Pending, time.Second, time.Millisecond)

	_, err := provider.StartInteractiveGrant(context.Background(), "https://identity.test/derive")
	require.ErrorIs(t, err, ErrGrantPending)

	cancel()
	<-done
}

package httpserver

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/ruteri/derived-key-session/identityprovider"
	"github.com/ruteri/derived-key-session/interfaces"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestServer(t *testing.T) (*Server, *identityprovider.LoopbackProvider) {
	t.Helper()
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	cfg := &HTTPServerConfig{
		ListenAddr:               "127.0.0.1:0",
		Log:                      log,
		GracefulShutdownDuration: time.Second,
	}
	provider := identityprovider.NewLoopbackProvider("http://"+cfg.ListenAddr+CallbackPath,
		func(string) error { return nil }, log)
	srv, err := New(cfg, NewHandler(provider, log))
	require.NoError(t, err)
	return srv, provider
}

// startGrant runs a grant in the background and waits until it is pending.
func startGrant(t *testing.T, provider *identityprovider.LoopbackProvider) <-chan interfaces.GrantResult {
	t.Helper()
	results := make(chan interfaces.GrantResult, 1)
	go func() {
		result, err := provider.StartInteractiveGrant(context.Background(), "https://identity.test/derive")
		assert.NoError(t, err)
		results <- result
	}()
	require.Eventually(t, provider.Pending, time.Second, 5*time.Millisecond)
	return results
}

func TestCallbackDeliversParams(t *testing.T) {
	srv, provider := newTestServer(t)
	results := startGrant(t, provider)

	query := url.Values{
		interfaces.ParamPublicKey:      {"BC1root"},
		interfaces.ParamDerivedSeedHex: {"abcd"},
	}
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, CallbackPath+"?"+query.Encode(), nil))
	require.Equal(t, http.StatusOK, rec.Code)

	result := <-results
	assert.Equal(t, interfaces.GrantSuccess, result.Type)
	assert.Equal(t, "BC1root", result.Params[interfaces.ParamPublicKey])
	assert.Equal(t, "abcd", result.Params[interfaces.ParamDerivedSeedHex])
}

func TestCallbackFormPost(t *testing.T) {
	srv, provider := newTestServer(t)
	results := startGrant(t, provider)

	form := url.Values{interfaces.ParamAccessSignature: {"3044"}}
	req := httptest.NewRequest(http.MethodPost, CallbackPath, strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	result := <-results
	assert.Equal(t, "3044", result.Params[interfaces.ParamAccessSignature])
}

func TestCallbackErrorAndCancel(t *testing.T) {
	tests := []struct {
		name     string
		target   string
		expected interfaces.GrantResultType
	}{
		{name: "provider error", target: CallbackPath + "?error=denied", expected: interfaces.GrantError},
		{name: "cancel", target: CancelPath, expected: interfaces.GrantCancel},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv, provider := newTestServer(t)
			results := startGrant(t, provider)

			rec := httptest.NewRecorder()
			srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, tt.target, nil))
			require.Equal(t, http.StatusOK, rec.Code)
			assert.Equal(t, tt.expected, (<-results).Type)
		})
	}
}

func TestCallbackWithoutPendingGrant(t *testing.T) {
	srv, _ := newTestServer(t)

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, CallbackPath+"?a=b", nil))
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestHealthAndDrain(t *testing.T) {
	srv, _ := newTestServer(t)

	get := func(path string) *httptest.ResponseRecorder {
		rec := httptest.NewRecorder()
		srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
		return rec
	}

	assert.Equal(t, http.StatusOK, get("/livez").Code)
	assert.Equal(t, http.StatusOK, get("/readyz").Code)

	rec := get("/drain")
	assert.Contains(t, rec.Body.String(), `"draining"`)
	assert.Equal(t, http.StatusServiceUnavailable, get("/readyz").Code)
	assert.Contains(t, get("/drain").Body.String(), "already draining")

	rec = get("/undrain")
	assert.Contains(t, rec.Body.String(), `"ready"`)
	assert.Equal(t, http.StatusOK, get("/readyz").Code)
}

func TestCallbackURL(t *testing.T) {
	srv, _ := newTestServer(t)
	assert.Equal(t, "http://127.0.0.1:0/callback", srv.CallbackURL())
}

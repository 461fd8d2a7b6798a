package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetricsServerExposesCollectors(t *testing.T) {
	srv, err := New("derived_key_session", "127.0.0.1:0")
	require.NoError(t, err)

	AuthFlowResults.WithLabelValues("valid").Inc()
	ChainAPIRequests.WithLabelValues("/api/v0/submit-transaction", "200").Observe(0.1)

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), `authflow_results_total{service="derived_key_session",state="valid"}`)
	assert.Contains(t, string(body), "chainapi_request_duration_seconds_bucket")
	assert.Contains(t, string(body), "go_goroutines")
}

func TestRegisterTwice(t *testing.T) {
	reg := prometheus.NewRegistry()
	require.NoError(t, Register(reg))
	require.NoError(t, Register(reg))
}

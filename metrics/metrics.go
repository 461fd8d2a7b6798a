// Package metrics holds the Prometheus collectors and the metrics HTTP server.
package metrics

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// AuthFlowResults counts finished authorization flows by terminal state.
	AuthFlowResults = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "authflow_results_total",
		Help: "Finished derived key authorization flows by terminal state.",
	}, []string{"state"})

	// ValidationResults counts derived key validity checks by result.
	ValidationResults = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "validator_checks_total",
		Help: "Derived key validity checks by result.",
	}, []string{"result"})

	// RevocationResults counts revocation attempts by outcome.
	RevocationResults = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "validator_revocations_total",
		Help: "Derived key revocations by outcome.",
	}, []string{"outcome"})

	// ChainAPIRequests observes chain API latency by route and status.
	ChainAPIRequests = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "chainapi_request_duration_seconds",
		Help:    "Chain API request latency.",
		Buckets: prometheus.DefBuckets,
	}, []string{"route", "status"})
)

var all = []prometheus.Collector{
	AuthFlowResults,
	ValidationResults,
	RevocationResults,
	ChainAPIRequests,
}

// Register adds all collectors to reg. Collectors already registered with
// reg are skipped.
func Register(reg prometheus.Registerer) error {
	for _, c := range all {
		if err := reg.Register(c); err != nil {
			var already prometheus.AlreadyRegisteredError
			if errors.As(err, &already) {
				continue
			}
			return err
		}
	}
	return nil
}

// MetricsServer serves /metrics from its own registry.
type MetricsServer struct {
	registry *prometheus.Registry
	srv      *http.Server
}

// New creates a metrics server for listenAddr. The registry carries the
// package collectors plus Go and process collectors labelled with service.
func New(service, listenAddr string) (*MetricsServer, error) {
	registry := prometheus.NewRegistry()
	wrapped := prometheus.WrapRegistererWith(prometheus.Labels{"service": service}, registry)

	if err := Register(wrapped); err != nil {
		return nil, err
	}
	if err := wrapped.Register(collectors.NewGoCollector()); err != nil {
		return nil, err
	}
	if err := wrapped.Register(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{})); err != nil {
		return nil, err
	}

	mux := chi.NewRouter()
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))

	return &MetricsServer{
		registry: registry,
		srv: &http.Server{
			Addr:              listenAddr,
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
		},
	}, nil
}

// Registry returns the registry backing the server.
func (m *MetricsServer) Registry() *prometheus.Registry {
	return m.registry
}

// Handler returns the HTTP handler of the server.
func (m *MetricsServer) Handler() http.Handler {
	return m.srv.Handler
}

func (m *MetricsServer) ListenAndServe() error {
	return m.srv.ListenAndServe()
}

func (m *MetricsServer) Shutdown(ctx context.Context) error {
	return m.srv.Shutdown(ctx)
}

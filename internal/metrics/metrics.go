package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"walletsnap/go-backend/internal/account"
)

const namespace = "accountd"

// Metrics owns a private registry so tests and multiple daemons in one
// process never collide on the global one.
type Metrics struct {
	registry *prometheus.Registry

	resolutions      *prometheus.CounterVec
	providerFailures *prometheus.CounterVec
	rpcRequests      *prometheus.CounterVec
	rpcDuration      *prometheus.HistogramVec
	storedAccounts   prometheus.Gauge
}

var _ account.Observer = (*Metrics)(nil)

func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		resolutions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "resolver",
			Name:      "resolutions_total",
			Help:      "Account resolutions by outcome and chosen contract version.",
		}, []string{"outcome", "version"}),
		providerFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "resolver",
			Name:      "provider_failures_total",
			Help:      "Chain state queries that failed during resolution.",
		}, []string{"op"}),
		rpcRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "rpc",
			Name:      "requests_total",
			Help:      "JSON-RPC requests by method and result code.",
		}, []string{"method", "code"}),
		rpcDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "rpc",
			Name:      "request_duration_seconds",
			Help:      "JSON-RPC request latency.",
			Buckets:   []float64{0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		}, []string{"method"}),
		storedAccounts: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "state",
			Name:      "stored_accounts",
			Help:      "Account records currently persisted.",
		}),
	}
	m.registry.MustRegister(
		m.resolutions,
		m.providerFailures,
		m.rpcRequests,
		m.rpcDuration,
		m.storedAccounts,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

func (m *Metrics) ObserveResolution(outcome string, version int) {
	m.resolutions.WithLabelValues(outcome, strconv.Itoa(version)).Inc()
}

func (m *Metrics) ObserveProviderFailure(op string) {
	m.providerFailures.WithLabelValues(op).Inc()
}

// ObserveRPC records one handled request. code is 0 on success.
func (m *Metrics) ObserveRPC(method string, code int, elapsed time.Duration) {
	m.rpcRequests.WithLabelValues(method, strconv.Itoa(code)).Inc()
	m.rpcDuration.WithLabelValues(method).Observe(elapsed.Seconds())
}

func (m *Metrics) SetStoredAccounts(n int) {
	m.storedAccounts.Set(float64(n))
}

func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

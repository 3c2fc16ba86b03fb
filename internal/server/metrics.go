package server

import (
	"net/http"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const decimalBase = 10

// Metrics bundles the server's Prometheus collectors, ported from the
// teacher's main.go RequestsRouted counter and app/proxy/middleware.go
// WithMetrics histogram. WithMetrics updates RequestsRouted and
// ExchangeLatency on every exchange; MetaStoreSize and RateLimitDenied are
// registered but nothing in this module updates them.
type Metrics struct {
	RequestsRouted  *prometheus.CounterVec
	ExchangeLatency prometheus.Histogram
	MetaStoreSize   prometheus.Gauge
	RateLimitDenied prometheus.Counter
}

// NewMetrics registers and returns the fixed collector set.
func NewMetrics() *Metrics {
	return &Metrics{
		RequestsRouted: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "bare_requests_routed_total",
			Help: "The total number of routed bare exchanges",
		}, []string{"method", "path", "code"}),
		ExchangeLatency: promauto.NewHistogram(prometheus.HistogramOpts{
			Name: "bare_exchange_duration_seconds",
			Help: "Duration of a full bare exchange, request to response",
		}),
		MetaStoreSize: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "bare_meta_store_size",
			Help: "Number of live entries in the meta store",
		}),
		RateLimitDenied: promauto.NewCounter(prometheus.CounterOpts{
			Name: "bare_rate_limit_denied_total",
			Help: "Number of exchanges rejected by the rate limiter",
		}),
	}
}

// WithMetrics wraps next, recording routed-request counts and exchange
// latency. Ported from the teacher's app/proxy/middleware.go WithMetrics.
func (m *Metrics) WithMetrics(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		lw := newLoggingWriter(w)
		timer := prometheus.NewTimer(m.ExchangeLatency)

		defer func() {
			timer.ObserveDuration()
			m.RequestsRouted.WithLabelValues(
				r.Method,
				r.URL.Path,
				strconv.FormatInt(int64(lw.Code), decimalBase),
			).Inc()
		}()

		next.ServeHTTP(lw, r)
	})
}

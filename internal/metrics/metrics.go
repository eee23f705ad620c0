// Package metrics owns the Prometheus collectors for the credit ledger and
// its HTTP surface. Labels are bounded: operations and outcomes come from a
// fixed set, actions are caller tags, and paths are chi route patterns.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Metrics struct {
	registry     *prometheus.Registry
	ledgerOps    *prometheus.CounterVec
	credits      *prometheus.CounterVec
	httpReqs     *prometheus.CounterVec
	httpLat      *prometheus.HistogramVec
	httpInflight prometheus.Gauge
}

func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		ledgerOps: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ledger_operations_total",
				Help: "Ledger operations by kind and outcome.",
			},
			[]string{"op", "outcome"},
		),
		credits: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ledger_credits_moved_total",
				Help: "Absolute credits written to the ledger by action and direction.",
			},
			[]string{"action", "direction"},
		),
		httpReqs: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests.",
			},
			[]string{"method", "path", "status"},
		),
		httpLat: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "Duration of HTTP requests in seconds.",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "path"},
		),
		httpInflight: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "http_requests_inflight",
				Help: "Current number of in-flight HTTP requests.",
			},
		),
	}
	m.registry.MustRegister(
		m.ledgerOps,
		m.credits,
		m.httpReqs,
		m.httpLat,
		m.httpInflight,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) LedgerOperation(op, outcome string) {
	m.ledgerOps.WithLabelValues(op, outcome).Inc()
}

// CreditsMoved records a signed ledger amount; debits are negative.
func (m *Metrics) CreditsMoved(action string, amount int64) {
	direction := "credit"
	if amount < 0 {
		direction = "debit"
		amount = -amount
	}
	m.credits.WithLabelValues(action, direction).Add(float64(amount))
}

func (m *Metrics) ObserveHTTP(method, path, status string, elapsed time.Duration) {
	m.httpReqs.WithLabelValues(method, path, status).Inc()
	m.httpLat.WithLabelValues(method, path).Observe(elapsed.Seconds())
}

// TrackInflight increments the in-flight gauge and returns the matching decrement.
func (m *Metrics) TrackInflight() func() {
	m.httpInflight.Inc()
	return m.httpInflight.Dec
}

// Package metrics registers the Prometheus instruments of the registry.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds every instrument the process exports. Instruments register
// against the provided registerer so tests can use isolated registries.
type Metrics struct {
	Operations   *prometheus.CounterVec
	Transactions *prometheus.CounterVec
	TxRetries    prometheus.Counter
	HTTPDuration *prometheus.HistogramVec
}

// New creates and registers all instruments.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		Operations: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "idregistry_operations_total",
			Help: "Identity operations by name and outcome.",
		}, []string{"operation", "status"}),
		Transactions: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "idregistry_transactions_recorded_total",
			Help: "Provenance transactions recorded, by entity and change kind.",
		}, []string{"entity", "change"}),
		TxRetries: factory.NewCounter(prometheus.CounterOpts{
			Name: "idregistry_store_tx_retries_total",
			Help: "Store transactions retried after serialization conflicts.",
		}),
		HTTPDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "idregistry_http_request_duration_seconds",
			Help:    "HTTP request latency by route and status class.",
			Buckets: prometheus.DefBuckets,
		}, []string{"route", "status"}),
	}
}

// OperationSucceeded increments the success counter for an operation.
func (m *Metrics) OperationSucceeded(operation string) {
	if m == nil {
		return
	}
	m.Operations.WithLabelValues(operation, "ok").Inc()
}

// OperationFailed increments the failure counter for an operation.
func (m *Metrics) OperationFailed(operation string) {
	if m == nil {
		return
	}
	m.Operations.WithLabelValues(operation, "error").Inc()
}

// TransactionRecorded counts one recorded provenance transaction.
func (m *Metrics) TransactionRecorded(entity, change string) {
	if m == nil {
		return
	}
	m.Transactions.WithLabelValues(entity, change).Inc()
}

// TxRetried counts one store transaction retry after a serialization
// conflict.
func (m *Metrics) TxRetried() {
	if m == nil {
		return
	}
	m.TxRetries.Inc()
}

// ObserveHTTPDuration records one request's latency.
func (m *Metrics) ObserveHTTPDuration(route, status string, d time.Duration) {
	if m == nil {
		return
	}
	m.HTTPDuration.WithLabelValues(route, status).Observe(d.Seconds())
}

// Package metrics provides Prometheus metrics for recognition calls and
// reconciliation outcomes.
package metrics

import (
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics contains all Prometheus metrics exported by the console.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	RecognitionCalls    *prometheus.CounterVec   // calls by backend and outcome
	RecognitionDuration *prometheus.HistogramVec // latency by backend
	FiscalItems         *prometheus.CounterVec   // settled fiscal-note items by status
	OdometerRecords     *prometheus.CounterVec   // finalized readings by chosen source

	registry *prometheus.Registry
}

// New creates the metrics and registers them on registry.
func New(registry *prometheus.Registry) (*Metrics, error) {
	m := &Metrics{registry: registry}
	m.initMetrics()

	for _, c := range []prometheus.Collector{
		m.RecognitionCalls,
		m.RecognitionDuration,
		m.FiscalItems,
		m.OdometerRecords,
	} {
		if err := registry.Register(c); err != nil {
			return nil, fmt.Errorf("failed to register console metrics: %w", err)
		}
	}
	return m, nil
}

func (m *Metrics) initMetrics() {
	m.RecognitionCalls = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fleet_console_recognition_calls_total",
			Help: "Total number of recognition calls by backend and outcome",
		},
		[]string{"backend", "outcome"}, // outcome: success, config_error, transport_error, parse_error, invalid_input
	)

	m.RecognitionDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "fleet_console_recognition_duration_seconds",
			Help:    "Time taken by recognition calls by backend",
			Buckets: []float64{0.25, 0.5, 1, 2, 5, 10, 20, 30, 60},
		},
		[]string{"backend"},
	)

	m.FiscalItems = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fleet_console_fiscal_items_total",
			Help: "Total number of fiscal-note items settled by final status",
		},
		[]string{"status"},
	)

	m.OdometerRecords = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fleet_console_odometer_records_total",
			Help: "Total number of finalized odometer readings by chosen value source",
		},
		[]string{"source"}, // source: ai, manual
	)
}

// ObserveRecognition records one recognition call.
func (m *Metrics) ObserveRecognition(backend, outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.RecognitionCalls.WithLabelValues(backend, outcome).Inc()
	m.RecognitionDuration.WithLabelValues(backend).Observe(d.Seconds())
}

// RecordFiscalItem records the final status of one fiscal-note item.
func (m *Metrics) RecordFiscalItem(status string) {
	if m == nil {
		return
	}
	m.FiscalItems.WithLabelValues(status).Inc()
}

// RecordOdometer records a finalized odometer reading.
func (m *Metrics) RecordOdometer(source string) {
	if m == nil {
		return
	}
	m.OdometerRecords.WithLabelValues(source).Inc()
}

// Registry returns the registry the metrics were registered on.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Recorder implements repository.Metrics using Prometheus.
type Recorder struct {
	rows      *prometheus.CounterVec
	errors    *prometheus.CounterVec
	lastPrice *prometheus.GaugeVec
	latency   *prometheus.HistogramVec
	runs      *prometheus.CounterVec
}

// New creates a recorder registered on the default Prometheus registry.
func New() *Recorder {
	return NewWithRegistry(prometheus.DefaultRegisterer)
}

// NewWithRegistry creates a recorder registered on reg. Tests pass a fresh
// prometheus.NewRegistry() to avoid duplicate registration.
func NewWithRegistry(reg prometheus.Registerer) *Recorder {
	f := promauto.With(reg)
	return &Recorder{
		rows: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "coinpull_rows_total",
				Help: "Rows processed per source and pipeline stage",
			},
			[]string{"source", "stage"},
		),
		errors: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "coinpull_errors_total",
				Help: "Total number of errors encountered by kind",
			},
			[]string{"kind"},
		),
		lastPrice: f.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "coinpull_last_price",
				Help: "Last ingested price for an asset",
			},
			[]string{"asset_id"},
		),
		latency: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "coinpull_operation_duration_seconds",
				Help:    "Duration of storage and ingestion operations in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"operation"},
		),
		runs: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "coinpull_ingest_runs_total",
				Help: "Ingestion runs by source and outcome",
			},
			[]string{"source", "outcome"},
		),
	}
}

// RecordRows adds n rows for a source at a pipeline stage (read, normalized, skipped, written).
func (r *Recorder) RecordRows(source, stage string, n int) {
	if n <= 0 {
		return
	}
	r.rows.WithLabelValues(source, stage).Add(float64(n))
}

// RecordError records an error occurrence.
func (r *Recorder) RecordError(kind string) {
	r.errors.WithLabelValues(kind).Inc()
}

// RecordLastPrice records the last price for an asset.
func (r *Recorder) RecordLastPrice(assetID string, price float64) {
	r.lastPrice.WithLabelValues(assetID).Set(price)
}

// RecordLatency records operation latency in seconds.
func (r *Recorder) RecordLatency(op string, seconds float64) {
	r.latency.WithLabelValues(op).Observe(seconds)
}

// RecordRun counts a finished ingestion run.
func (r *Recorder) RecordRun(source, outcome string) {
	r.runs.WithLabelValues(source, outcome).Inc()
}

// Nop discards all measurements.
type Nop struct{}

func (Nop) RecordRows(string, string, int)  {}
func (Nop) RecordError(string)              {}
func (Nop) RecordLastPrice(string, float64) {}
func (Nop) RecordLatency(string, float64)   {}
func (Nop) RecordRun(string, string)        {}

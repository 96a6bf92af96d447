package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the ledger's Prometheus collectors
type Metrics struct {
	Extrinsics        *prometheus.CounterVec
	ExtrinsicDuration *prometheus.HistogramVec
	NextKittyID       prometheus.Gauge
	Batches           prometheus.Counter
}

// New creates the collectors and registers them on reg.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		Extrinsics: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "kitties_extrinsics_total",
			Help: "Extrinsics applied, by call and result",
		}, []string{"call", "result"}),
		ExtrinsicDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "kitties_extrinsic_duration_seconds",
			Help:    "Time to apply one extrinsic, including its commit",
			Buckets: prometheus.ExponentialBuckets(0.0001, 4, 8),
		}, []string{"call"}),
		NextKittyID: factory.NewGauge(prometheus.GaugeOpts{
			Name: "kitties_next_kitty_id",
			Help: "Next kitty id to be allocated",
		}),
		Batches: factory.NewCounter(prometheus.CounterOpts{
			Name: "kitties_batches_total",
			Help: "Execution batches completed",
		}),
	}
}

// ObserveExtrinsic records one applied extrinsic. A nil receiver does nothing.
func (m *Metrics) ObserveExtrinsic(call, result string, started time.Time) {
	if m == nil {
		return
	}
	m.Extrinsics.WithLabelValues(call, result).Inc()
	m.ExtrinsicDuration.WithLabelValues(call).Observe(time.Since(started).Seconds())
}

func (m *Metrics) SetNextKittyID(id uint32) {
	if m == nil {
		return
	}
	m.NextKittyID.Set(float64(id))
}

func (m *Metrics) IncrementBatches() {
	if m == nil {
		return
	}
	m.Batches.Inc()
}

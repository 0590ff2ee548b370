// Package metrics exposes the Prometheus counters and gauges the
// Capture Hub, Correlator and Anomaly Ledger update as they run.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	BytesCaptured = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sniffer_bytes_captured_total",
		Help: "Total bytes read off capture transports",
	}, []string{"hub"})

	FramesDecoded = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sniffer_frames_decoded_total",
		Help: "Total Modbus frames recovered by the Frame Reconstructor",
	}, []string{"hub"})

	ResyncCount = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sniffer_resyncs_total",
		Help: "Total times the Frame Reconstructor discarded a byte to resync on a CRC boundary",
	}, []string{"hub"})

	CorrelationMissed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sniffer_correlation_missed_total",
		Help: "Total FC03 responses that arrived with no matching pending request",
	}, []string{"hub"})

	ReconnectBackoff = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sniffer_tcp_reconnect_attempts_total",
		Help: "Total TCP reconnect attempts made by capture hubs",
	}, []string{"hub"})

	AnomaliesWritten = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sniffer_anomalies_written_total",
		Help: "Total anomaly records persisted to the ledger",
	}, []string{"kind"})

	ActiveHubs = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "sniffer_active_hubs",
		Help: "Number of capture hubs currently running",
	})
)

// Metrics scopes the per-hub counters to one hub name, so Hub doesn't
// have to repeat its name at every call site.
type Metrics struct {
	hub string
}

// ForHub returns a Metrics bound to the given hub name.
func ForHub(name string) *Metrics {
	return &Metrics{hub: name}
}

func (m *Metrics) AddBytesCaptured(n int) {
	BytesCaptured.WithLabelValues(m.hub).Add(float64(n))
}

func (m *Metrics) AddFramesDecoded(n int) {
	FramesDecoded.WithLabelValues(m.hub).Add(float64(n))
}

func (m *Metrics) IncResync() {
	ResyncCount.WithLabelValues(m.hub).Inc()
}

// AddResync records n resync events in one call, for use after a
// single Split call that may skip several bytes at once.
func (m *Metrics) AddResync(n int) {
	if n > 0 {
		ResyncCount.WithLabelValues(m.hub).Add(float64(n))
	}
}

// IncActive marks this hub as running.
func (m *Metrics) IncActive() {
	ActiveHubs.Inc()
}

// DecActive marks this hub as no longer running.
func (m *Metrics) DecActive() {
	ActiveHubs.Dec()
}

func (m *Metrics) IncCorrelationMissed() {
	CorrelationMissed.WithLabelValues(m.hub).Inc()
}

func (m *Metrics) IncReconnectBackoff() {
	ReconnectBackoff.WithLabelValues(m.hub).Inc()
}

// IncAnomaly records one anomaly ledger write of the given kind
// (e.g. "frame_semantic_inconsistent", "correlation_missed").
func IncAnomaly(kind string) {
	AnomaliesWritten.WithLabelValues(kind).Inc()
}

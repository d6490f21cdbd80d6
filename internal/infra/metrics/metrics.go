// Package metrics provides Prometheus instrumentation for the decode pipeline.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/osa030/audiofeed/internal/domain/audio"
)

// Metrics holds the pipeline counters. A nil *Metrics is valid and records nothing.
type Metrics struct {
	reg *prometheus.Registry

	packetsFed       *prometheus.CounterVec
	packetsDiscarded *prometheus.CounterVec
	buffersSubmitted *prometheus.CounterVec
	bytesSubmitted   *prometheus.CounterVec
	backpressure     *prometheus.CounterVec
	waits            *prometheus.CounterVec
	errors           *prometheus.CounterVec
}

// New creates the metrics on a fresh registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	f := promauto.With(reg)
	reg.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	reg.MustRegister(collectors.NewGoCollector())
	return &Metrics{
		reg: reg,

		packetsFed: f.NewCounterVec(prometheus.CounterOpts{
			Name: "audiofeed_packets_fed_total",
			Help: "Compressed packets handed over by video demuxers",
		}, []string{"type"}),
		packetsDiscarded: f.NewCounterVec(prometheus.CounterOpts{
			Name: "audiofeed_packets_discarded_total",
			Help: "Packets released without decoding because no loader matched",
		}, []string{"type"}),
		buffersSubmitted: f.NewCounterVec(prometheus.CounterOpts{
			Name: "audiofeed_buffers_submitted_total",
			Help: "Sample buffers queued on the output device",
		}, []string{"type"}),
		bytesSubmitted: f.NewCounterVec(prometheus.CounterOpts{
			Name: "audiofeed_bytes_submitted_total",
			Help: "PCM bytes queued on the output device",
		}, []string{"type"}),
		backpressure: f.NewCounterVec(prometheus.CounterOpts{
			Name: "audiofeed_backpressure_total",
			Help: "Decode passes that found every buffer slot queued",
		}, []string{"type"}),
		waits: f.NewCounterVec(prometheus.CounterOpts{
			Name: "audiofeed_waits_total",
			Help: "Decode passes that stopped because the decoder had to wait for input",
		}, []string{"type"}),
		errors: f.NewCounterVec(prometheus.CounterOpts{
			Name: "audiofeed_errors_total",
			Help: "Load errors by kind",
		}, []string{"type", "kind"}),
	}
}

// Handler returns the HTTP handler exposing the registry.
func (m *Metrics) Handler() http.Handler {
	return promhttp.InstrumentMetricHandler(m.reg, promhttp.HandlerFor(m.reg, promhttp.HandlerOpts{}))
}

func (m *Metrics) PacketFed(t audio.Type) {
	if m == nil {
		return
	}
	m.packetsFed.WithLabelValues(t.String()).Inc()
}

func (m *Metrics) PacketsDiscarded(t audio.Type, n int) {
	if m == nil {
		return
	}
	m.packetsDiscarded.WithLabelValues(t.String()).Add(float64(n))
}

func (m *Metrics) BufferSubmitted(t audio.Type, bytes int) {
	if m == nil {
		return
	}
	m.buffersSubmitted.WithLabelValues(t.String()).Inc()
	m.bytesSubmitted.WithLabelValues(t.String()).Add(float64(bytes))
}

func (m *Metrics) Backpressure(t audio.Type) {
	if m == nil {
		return
	}
	m.backpressure.WithLabelValues(t.String()).Inc()
}

func (m *Metrics) Wait(t audio.Type) {
	if m == nil {
		return
	}
	m.waits.WithLabelValues(t.String()).Inc()
}

func (m *Metrics) Error(t audio.Type, kind string) {
	if m == nil {
		return
	}
	m.errors.WithLabelValues(t.String(), kind).Inc()
}

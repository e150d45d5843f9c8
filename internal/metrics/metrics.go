// Package metrics exposes Prometheus collectors for the protocol engine.
//
// Metrics collected:
//   - blockgate_connections_total: connections accepted
//   - blockgate_connections_active{phase}: live connections per phase
//   - blockgate_frames_read_total{phase}: frames read from clients
//   - blockgate_frames_written_total{phase}: frames written to clients
//   - blockgate_unknown_packets_total{phase}: frames with no registry entry
//   - blockgate_decode_errors_total{phase}: recognised packets that failed to decode
//   - blockgate_phase_transitions_total{from,to}
//   - blockgate_logins_total{result}
//   - blockgate_disconnects_total{reason}
//   - blockgate_keepalive_latency_seconds
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/blockgate-project/blockgate/internal/protocol"
)

const namespace = "blockgate"

// Login results.
const (
	LoginAccepted = "accepted"
	LoginRejected = "rejected"
)

// Metrics holds the collectors. A nil *Metrics is valid and records nothing.
type Metrics struct {
	gatherer prometheus.Gatherer

	connectionsTotal  prometheus.Counter
	connectionsActive *prometheus.GaugeVec
	framesRead        *prometheus.CounterVec
	framesWritten     *prometheus.CounterVec
	unknownPackets    *prometheus.CounterVec
	decodeErrors      *prometheus.CounterVec
	phaseTransitions  *prometheus.CounterVec
	logins            *prometheus.CounterVec
	disconnects       *prometheus.CounterVec
	keepAliveLatency  prometheus.Histogram
}

// New registers the collectors on reg. Use prometheus.NewRegistry() to keep
// tests isolated from the default registry.
func New(reg *prometheus.Registry) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		gatherer: reg,

		connectionsTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "connections_total",
			Help:      "Total number of accepted client connections",
		}),

		connectionsActive: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "connections_active",
			Help:      "Live client connections by protocol phase",
		}, []string{"phase"}),

		framesRead: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "frames_read_total",
			Help:      "Frames read from clients by phase",
		}, []string{"phase"}),

		framesWritten: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "frames_written_total",
			Help:      "Frames written to clients by phase",
		}, []string{"phase"}),

		unknownPackets: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "unknown_packets_total",
			Help:      "Frames discarded because no packet is registered for their id",
		}, []string{"phase"}),

		decodeErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "decode_errors_total",
			Help:      "Registered packets whose payload failed to decode",
		}, []string{"phase"}),

		phaseTransitions: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "phase_transitions_total",
			Help:      "Connection phase transitions",
		}, []string{"from", "to"}),

		logins: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "logins_total",
			Help:      "Login attempts by result",
		}, []string{"result"}),

		disconnects: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "disconnects_total",
			Help:      "Closed connections by reason",
		}, []string{"reason"}),

		keepAliveLatency: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "keepalive_latency_seconds",
			Help:      "Round trip time of Play keep-alives",
			Buckets:   []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5},
		}),
	}
}

// Handler serves the exposition format for the registry New was given.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}

// ConnectionOpened counts an accepted connection, which starts in Handshaking.
func (m *Metrics) ConnectionOpened() {
	if m == nil {
		return
	}
	m.connectionsTotal.Inc()
	m.connectionsActive.WithLabelValues(protocol.PhaseHandshaking.String()).Inc()
}

// ConnectionClosed removes a connection from the active gauge.
func (m *Metrics) ConnectionClosed(phase protocol.Phase, reason string) {
	if m == nil {
		return
	}
	m.connectionsActive.WithLabelValues(phase.String()).Dec()
	m.disconnects.WithLabelValues(reason).Inc()
}

// PhaseChanged moves a connection between active gauges.
func (m *Metrics) PhaseChanged(from, to protocol.Phase) {
	if m == nil {
		return
	}
	m.connectionsActive.WithLabelValues(from.String()).Dec()
	m.connectionsActive.WithLabelValues(to.String()).Inc()
	m.phaseTransitions.WithLabelValues(from.String(), to.String()).Inc()
}

func (m *Metrics) FrameRead(phase protocol.Phase) {
	if m == nil {
		return
	}
	m.framesRead.WithLabelValues(phase.String()).Inc()
}

func (m *Metrics) FrameWritten(phase protocol.Phase) {
	if m == nil {
		return
	}
	m.framesWritten.WithLabelValues(phase.String()).Inc()
}

func (m *Metrics) UnknownPacket(phase protocol.Phase) {
	if m == nil {
		return
	}
	m.unknownPackets.WithLabelValues(phase.String()).Inc()
}

func (m *Metrics) DecodeError(phase protocol.Phase) {
	if m == nil {
		return
	}
	m.decodeErrors.WithLabelValues(phase.String()).Inc()
}

// Login records a login outcome, LoginAccepted or LoginRejected.
func (m *Metrics) Login(result string) {
	if m == nil {
		return
	}
	m.logins.WithLabelValues(result).Inc()
}

// KeepAliveLatency records one keep-alive round trip in seconds.
func (m *Metrics) KeepAliveLatency(seconds float64) {
	if m == nil {
		return
	}
	m.keepAliveLatency.Observe(seconds)
}

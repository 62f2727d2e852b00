package main

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/cwsl/ismdump/protocols"
)

// Metrics holds the Prometheus collectors for the pipeline
type Metrics struct {
	packetsTotal   *prometheus.CounterVec // pulse packets by modulation class
	pulsesTotal    prometheus.Counter     // raw pulses seen
	decodeAttempts *prometheus.CounterVec // decode calls by decoder
	decodeEvents   *prometheus.CounterVec // emitted events by decoder
	decodeFails    *prometheus.CounterVec // failures by decoder and reason
	queueDropped   *prometheus.CounterVec // queue overflow drops
	sinkDropped    *prometheus.CounterVec // sink publish failures
}

// NewMetrics registers the collectors with the given registerer.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		packetsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "ismdump_packets_total",
			Help: "Pulse packets handed to the dispatch loop",
		}, []string{"class"}),
		pulsesTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "ismdump_pulses_total",
			Help: "Pulses contained in dispatched packets",
		}),
		decodeAttempts: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "ismdump_decode_attempts_total",
			Help: "Decode calls per decoder",
		}, []string{"decoder"}),
		decodeEvents: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "ismdump_decode_events_total",
			Help: "Events emitted per decoder",
		}, []string{"decoder"}),
		decodeFails: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "ismdump_decode_fails_total",
			Help: "Decode failures per decoder and failure kind",
		}, []string{"decoder", "reason"}),
		queueDropped: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "ismdump_queue_dropped_total",
			Help: "Elements dropped from the bounded hand-off queues",
		}, []string{"queue"}),
		sinkDropped: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "ismdump_sink_dropped_total",
			Help: "Events a sink failed to publish",
		}, []string{"sink"}),
	}
}

// Packet counts one dispatched pulse packet.
func (m *Metrics) Packet(class string, pulses int) {
	m.packetsTotal.WithLabelValues(class).Inc()
	m.pulsesTotal.Add(float64(pulses))
}

// Decode counts one decode call and its outcome.
func (m *Metrics) Decode(decoder string, res protocols.Result) {
	m.decodeAttempts.WithLabelValues(decoder).Inc()
	if res > 0 {
		m.decodeEvents.WithLabelValues(decoder).Add(float64(res))
		return
	}
	m.decodeFails.WithLabelValues(decoder, res.String()).Inc()
}

// QueueDropped counts drop-oldest evictions on a queue.
func (m *Metrics) QueueDropped(queue string, n uint64) {
	m.queueDropped.WithLabelValues(queue).Add(float64(n))
}

// SinkDropped counts one failed publish.
func (m *Metrics) SinkDropped(sink string) {
	m.sinkDropped.WithLabelValues(sink).Inc()
}

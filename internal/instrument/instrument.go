// Package instrument holds the Prometheus counters exported by pulse.
package instrument

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	decryptFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "pulse",
			Name:      "decrypt_failures_total",
			Help:      "Messages replaced by an unavailable placeholder, by failure reason.",
		},
		[]string{"reason"},
	)
	handshakes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "pulse",
			Name:      "handshakes_total",
			Help:      "Session handshakes by role and result.",
		},
		[]string{"role", "result"},
	)
	messagesSent = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "pulse",
			Name:      "messages_sent_total",
			Help:      "Message send attempts by outcome.",
		},
		[]string{"outcome"},
	)
	messagesReceived = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "pulse",
			Name:      "messages_received_total",
			Help:      "Inbound messages decrypted successfully.",
		},
	)
	relayEnvelopes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "pulse",
			Subsystem: "relay",
			Name:      "envelopes_total",
			Help:      "Envelopes accepted by the relay, by kind.",
		},
		[]string{"kind"},
	)
	relayBundles = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "pulse",
			Subsystem: "relay",
			Name:      "bundles_total",
			Help:      "Pre-key bundle operations served by the relay.",
		},
		[]string{"op"},
	)
)

// DecryptFailure counts one message that could not be opened.
func DecryptFailure(reason string) { decryptFailures.WithLabelValues(reason).Inc() }

// Handshake counts one handshake attempt.
func Handshake(role, result string) { handshakes.WithLabelValues(role, result).Inc() }

// MessageSent counts one send attempt outcome ("sent" or "failed").
func MessageSent(outcome string) { messagesSent.WithLabelValues(outcome).Inc() }

// MessageReceived counts one decrypted inbound message.
func MessageReceived() { messagesReceived.Inc() }

// RelayEnvelope counts one envelope accepted by the relay.
func RelayEnvelope(kind string) { relayEnvelopes.WithLabelValues(kind).Inc() }

// RelayBundle counts one bundle publish or fetch.
func RelayBundle(op string) { relayBundles.WithLabelValues(op).Inc() }

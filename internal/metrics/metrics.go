// Package metrics exposes Prometheus collectors for the matchmaking core.
// A nil *Metrics is valid and records nothing.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "rendezvous"

type Metrics struct {
	connectedSessions prometheus.Gauge
	logons            *prometheus.CounterVec
	reconnects        prometheus.Counter
	matches           prometheus.Counter
	conversations     prometheus.Counter
	skips             prometheus.Counter
	ratings           *prometheus.CounterVec
	bans              prometheus.Counter
	inconsistencies   prometheus.Counter
	waiting           prometheus.Gauge
	rooms             prometheus.Gauge
	datagramsDropped  prometheus.Counter
}

// New registers the collectors with registry.
func New(registry prometheus.Registerer) *Metrics {
	factory := promauto.With(registry)

	return &Metrics{
		connectedSessions: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "connected_sessions",
			Help:      "Sessions with both stream and datagram transports joined",
		}),
		logons: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "logons_total",
			Help:      "Logon attempts by outcome",
		}, []string{"outcome"}),
		reconnects: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reconnects_total",
			Help:      "Sessions that took over a live token",
		}),
		matches: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "matches_total",
			Help:      "Pairings offered to two sessions",
		}),
		conversations: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "conversations_total",
			Help:      "Pairings accepted by both sides",
		}),
		skips: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "skips_total",
			Help:      "Pairings ended by a skip or an accept timeout",
		}),
		ratings: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ratings_total",
			Help:      "Ratings applied by value and source",
		}, []string{"rating", "source"}),
		bans: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "bans_total",
			Help:      "Identities banned after losing all reputation",
		}),
		inconsistencies: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "store_inconsistencies_total",
			Help:      "Waiting records purged because no session owned them",
		}),
		waiting: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "waiting_sessions",
			Help:      "Sessions published as waiting for a match",
		}),
		rooms: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "rooms",
			Help:      "Active pairings",
		}),
		datagramsDropped: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "datagrams_dropped_total",
			Help:      "Datagrams from unknown endpoints that were not valid announcements",
		}),
	}
}

func (m *Metrics) SessionConnected() {
	if m == nil {
		return
	}
	m.connectedSessions.Inc()
}

func (m *Metrics) SessionDisconnected() {
	if m == nil {
		return
	}
	m.connectedSessions.Dec()
}

func (m *Metrics) Logon(outcome string) {
	if m == nil {
		return
	}
	m.logons.WithLabelValues(outcome).Inc()
}

func (m *Metrics) Reconnect() {
	if m == nil {
		return
	}
	m.reconnects.Inc()
}

func (m *Metrics) Match() {
	if m == nil {
		return
	}
	m.matches.Inc()
}

func (m *Metrics) Conversation() {
	if m == nil {
		return
	}
	m.conversations.Inc()
}

func (m *Metrics) Skip() {
	if m == nil {
		return
	}
	m.skips.Inc()
}

func (m *Metrics) Rating(rating, source string) {
	if m == nil {
		return
	}
	m.ratings.WithLabelValues(rating, source).Inc()
}

func (m *Metrics) Ban() {
	if m == nil {
		return
	}
	m.bans.Inc()
}

func (m *Metrics) Inconsistency() {
	if m == nil {
		return
	}
	m.inconsistencies.Inc()
}

func (m *Metrics) SetWaiting(n int) {
	if m == nil {
		return
	}
	m.waiting.Set(float64(n))
}

func (m *Metrics) SetRooms(n int) {
	if m == nil {
		return
	}
	m.rooms.Set(float64(n))
}

func (m *Metrics) DatagramDropped() {
	if m == nil {
		return
	}
	m.datagramsDropped.Inc()
}

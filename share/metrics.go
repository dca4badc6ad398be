package wrshare

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Direction labels for relayed traffic
const (
	DirectionLocalToRemote = "local_to_remote"
	DirectionRemoteToLocal = "remote_to_local"
)

// Drop reasons
const (
	DropNoPeer       = "no_peer"
	DropSendRejected = "send_rejected"
)

// Session roles
const (
	RoleLocal  = "local"
	RoleRemote = "remote"
)

// Metrics holds the relay's Prometheus collectors. All metric names carry the
// wsrelay_ prefix.
type Metrics struct {
	// MessagesForwarded counts frames handed to the opposite session, by direction
	MessagesForwarded *prometheus.CounterVec

	// BytesForwarded counts payload bytes handed to the opposite session, by direction
	BytesForwarded *prometheus.CounterVec

	// MessagesDropped counts frames discarded because they could not be forwarded,
	// by direction and reason (no_peer, send_rejected)
	MessagesDropped *prometheus.CounterVec

	// ConnectAttempts counts upstream connect attempts issued by the reconnection
	// timer, by result (issued, rejected)
	ConnectAttempts *prometheus.CounterVec

	// SessionOpens counts sessions reaching the WebSocket-open state, by role
	SessionOpens *prometheus.CounterVec

	// LocalRejected counts local clients turned away because one is already attached
	LocalRejected prometheus.Counter

	// SessionActive is 1 while a session of the given role is registered
	SessionActive *prometheus.GaugeVec
}

// NewMetrics creates the relay collectors and registers them with reg. If reg
// is nil the collectors are created but not registered.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		MessagesForwarded: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "wsrelay_messages_forwarded_total",
				Help: "Total number of WebSocket messages forwarded, labeled by direction.",
			},
			[]string{"direction"},
		),
		BytesForwarded: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "wsrelay_bytes_forwarded_total",
				Help: "Total number of payload bytes forwarded, labeled by direction.",
			},
			[]string{"direction"},
		),
		MessagesDropped: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "wsrelay_messages_dropped_total",
				Help: "Total number of WebSocket messages dropped, labeled by direction and reason.",
			},
			[]string{"direction", "reason"},
		),
		ConnectAttempts: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "wsrelay_remote_connect_attempts_total",
				Help: "Total number of upstream connect attempts, labeled by result.",
			},
			[]string{"result"}, // issued, rejected
		),
		SessionOpens: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "wsrelay_session_opens_total",
				Help: "Total number of sessions that completed the WebSocket handshake, labeled by role.",
			},
			[]string{"role"},
		),
		LocalRejected: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "wsrelay_local_clients_rejected_total",
				Help: "Total number of local clients refused because a local session was already attached.",
			},
		),
		SessionActive: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "wsrelay_session_active",
				Help: "1 while a session of the given role is registered, else 0.",
			},
			[]string{"role"},
		),
	}
	if reg != nil {
		reg.MustRegister(
			m.MessagesForwarded,
			m.BytesForwarded,
			m.MessagesDropped,
			m.ConnectAttempts,
			m.SessionOpens,
			m.LocalRejected,
			m.SessionActive,
		)
	}
	return m
}

// Forwarded records one message of n bytes relayed in direction
func (m *Metrics) Forwarded(direction string, n int) {
	m.MessagesForwarded.WithLabelValues(direction).Inc()
	m.BytesForwarded.WithLabelValues(direction).Add(float64(n))
}

// Dropped records one message discarded in direction for reason
func (m *Metrics) Dropped(direction string, reason string) {
	m.MessagesDropped.WithLabelValues(direction, reason).Inc()
}

// SetActive sets the active gauge for role
func (m *Metrics) SetActive(role string, active bool) {
	v := 0.0
	if active {
		v = 1.0
	}
	m.SessionActive.WithLabelValues(role).Set(v)
}

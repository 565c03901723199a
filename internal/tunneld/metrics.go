package tunneld

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"glassvpn/internal/core"
)

// Metrics holds the daemon's Prometheus collectors. Each daemon owns its
// registry so tests can run several daemons side by side.
type Metrics struct {
	registry *prometheus.Registry

	Status      prometheus.Gauge
	Transitions *prometheus.CounterVec
	Messages    *prometheus.CounterVec
}

// NewMetrics creates the collectors and registers them with a fresh
// registry. activeRPCs backs the glassvpn_tunneld_active_rpcs gauge.
func NewMetrics(activeRPCs func() int64) *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		Status: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "glassvpn_tunneld_session_status",
			Help: "Current raw session status (1 invalid, 2 disconnected, 3 connecting, 4 connected, 5 reasserting, 6 disconnecting)",
		}),
		Transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "glassvpn_tunneld_session_transitions_total",
			Help: "Session status changes by target status",
		}, []string{"status"}),
		Messages: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "glassvpn_tunneld_control_messages_total",
			Help: "Control messages received by kind and result",
		}, []string{"kind", "result"}),
	}

	m.registry.MustRegister(
		m.Status,
		m.Transitions,
		m.Messages,
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Name: "glassvpn_tunneld_active_rpcs",
			Help: "In-flight RPCs, including WatchStatus streams",
		}, func() float64 { return float64(activeRPCs()) }),
	)
	return m
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) observeStatus(raw core.RawStatus) {
	m.Status.Set(float64(raw))
	m.Transitions.WithLabelValues(raw.String()).Inc()
}

func (m *Metrics) observeMessage(line []byte, err error) {
	kind := "invalid"
	if msg, perr := core.ParseControlMessage(string(line)); perr == nil {
		kind = msg.Kind.Tag()
	}
	result := "delivered"
	if err != nil {
		result = "rejected"
	}
	m.Messages.WithLabelValues(kind, result).Inc()
}

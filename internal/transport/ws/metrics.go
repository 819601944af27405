package ws

import "github.com/prometheus/client_golang/prometheus"

type Metrics struct {
	Connections prometheus.Gauge
	Inbound     *prometheus.CounterVec
	Outbound    *prometheus.CounterVec
	RateLimited prometheus.Counter
	Dropped     prometheus.Counter
}

// NewMetrics creates the gateway collectors and registers them with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		Connections: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "nebula_gateway_connections",
			Help: "Open realtime connections.",
		}),
		Inbound: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "nebula_gateway_messages_in_total",
			Help: "Envelopes received from clients, by type.",
		}, []string{"type"}),
		Outbound: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "nebula_gateway_messages_out_total",
			Help: "Envelopes queued for clients, by type.",
		}, []string{"type"}),
		RateLimited: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "nebula_gateway_broadcasts_limited_total",
			Help: "Broadcasts rejected by the per-user rate limit.",
		}),
		Dropped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "nebula_gateway_slow_clients_dropped_total",
			Help: "Connections closed because their send buffer was full.",
		}),
	}
	if reg != nil {
		reg.MustRegister(m.Connections, m.Inbound, m.Outbound, m.RateLimited, m.Dropped)
	}
	return m
}

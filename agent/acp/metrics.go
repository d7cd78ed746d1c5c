package acp

import "github.com/prometheus/client_golang/prometheus"

// Metrics counts protocol activity. A nil *Metrics records nothing.
type Metrics struct {
	prompts     *prometheus.CounterVec
	toolCalls   *prometheus.CounterVec
	permissions *prometheus.CounterVec
	sessions    prometheus.Gauge
}

// NewMetrics creates the collectors and registers them with reg when it is
// not nil.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		prompts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "deepacp",
			Name:      "prompts_total",
			Help:      "Finished prompts by stop reason.",
		}, []string{"stop_reason"}),
		toolCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "deepacp",
			Name:      "tool_calls_total",
			Help:      "Tool calls by terminal status.",
		}, []string{"status"}),
		permissions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "deepacp",
			Name:      "permission_requests_total",
			Help:      "Permission decisions by outcome.",
		}, []string{"outcome"}),
		sessions: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "deepacp",
			Name:      "active_sessions",
			Help:      "Sessions currently held in memory.",
		}),
	}
	if reg != nil {
		reg.MustRegister(m.prompts, m.toolCalls, m.permissions, m.sessions)
	}
	return m
}

func (m *Metrics) promptFinished(stopReason string) {
	if m == nil {
		return
	}
	m.prompts.WithLabelValues(stopReason).Inc()
}

func (m *Metrics) toolCallFinished(status string) {
	if m == nil {
		return
	}
	m.toolCalls.WithLabelValues(status).Inc()
}

func (m *Metrics) permissionDecided(outcome string) {
	if m == nil {
		return
	}
	m.permissions.WithLabelValues(outcome).Inc()
}

func (m *Metrics) sessionOpened() {
	if m == nil {
		return
	}
	m.sessions.Inc()
}

func (m *Metrics) sessionsClosed(n int) {
	if m == nil {
		return
	}
	m.sessions.Sub(float64(n))
}

// Package metrics exposes deskshell's Prometheus collectors.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the collectors registered on a private registry.
type Metrics struct {
	registry *prometheus.Registry

	Fingerprints   prometheus.Counter
	BridgeMessages *prometheus.CounterVec
	UpdateChecks   *prometheus.CounterVec
	LifecycleState prometheus.Gauge
}

// New creates and registers all collectors.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		Fingerprints: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "deskshell",
			Name:      "fingerprints_total",
			Help:      "Machine fingerprints computed.",
		}),
		BridgeMessages: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "deskshell",
			Name:      "bridge_messages_total",
			Help:      "Host-to-page messages by result.",
		}, []string{"result"}),
		UpdateChecks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "deskshell",
			Name:      "update_checks_total",
			Help:      "Update feed checks by result.",
		}, []string{"result"}),
		LifecycleState: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "deskshell",
			Name:      "lifecycle_state",
			Help:      "Current lifecycle state (0 running, 1 update downloaded, 2 quitting).",
		}),
	}

	m.registry.MustRegister(m.Fingerprints, m.BridgeMessages, m.UpdateChecks, m.LifecycleState)
	return m
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

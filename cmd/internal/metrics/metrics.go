// Package metrics exposes the engine's Prometheus collectors on a private registry.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "lightlink"

// Command results.
const (
	ResultOK       = "ok"
	ResultRejected = "rejected"
	ResultError    = "error"
)

// Metrics holds every collector. A nil *Metrics is a valid no-op.
type Metrics struct {
	reg *prometheus.Registry

	sessions     prometheus.Gauge
	commands     *prometheus.CounterVec
	pushes       *prometheus.CounterVec
	saves        *prometheus.CounterVec
	pruned       prometheus.Counter
	externalFail *prometheus.CounterVec
}

// New registers the collectors on a fresh registry, plus the Go and process collectors.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	f := promauto.With(reg)

	return &Metrics{
		reg: reg,
		sessions: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "sessions",
			Help:      "Live realtime sessions.",
		}),
		commands: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "commands_total",
			Help:      "Realtime commands handled, by type and result.",
		}, []string{"type", "result"}),
		pushes: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "push_deliveries_total",
			Help:      "Push endpoint deliveries, by outcome.",
		}, []string{"outcome"}),
		saves: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "snapshot_saves_total",
			Help:      "Snapshot writes, by result.",
		}, []string{"result"}),
		pruned: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "retention_pruned_messages_total",
			Help:      "Messages dropped by the retention sweep.",
		}),
		externalFail: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "external_failures_total",
			Help:      "Failed email and webhook calls, by kind.",
		}, []string{"kind"}),
	}
}

// Registry returns the private registry.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.reg
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.reg, promhttp.HandlerOpts{Registry: m.reg})
}

func (m *Metrics) SessionOpened() {
	if m != nil {
		m.sessions.Inc()
	}
}

func (m *Metrics) SessionClosed() {
	if m != nil {
		m.sessions.Dec()
	}
}

// Command counts one handled command.
func (m *Metrics) Command(typ, result string) {
	if m != nil {
		m.commands.WithLabelValues(typ, result).Inc()
	}
}

// PushResult implements notify.Observer.
func (m *Metrics) PushResult(outcome string) {
	if m != nil {
		m.pushes.WithLabelValues(outcome).Inc()
	}
}

// ExternalFailure implements notify.Observer.
func (m *Metrics) ExternalFailure(kind string) {
	if m != nil {
		m.externalFail.WithLabelValues(kind).Inc()
	}
}

// SnapshotSaved is the store save hook.
func (m *Metrics) SnapshotSaved(err error) {
	if m == nil {
		return
	}
	if err != nil {
		m.saves.WithLabelValues(ResultError).Inc()
		return
	}
	m.saves.WithLabelValues(ResultOK).Inc()
}

// Pruned is the retention sweeper hook.
func (m *Metrics) Pruned(n int) {
	if m != nil && n > 0 {
		m.pruned.Add(float64(n))
	}
}

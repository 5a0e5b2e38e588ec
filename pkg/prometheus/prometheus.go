// Package prometheus provides a pulse.MetricsProvider backed by Prometheus
// collectors.
package prometheus

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/zoobzio/pulse"
)

// Metrics records tracker activity.
type Metrics struct {
	Signals     *prometheus.CounterVec
	Transitions *prometheus.CounterVec
	Rejected    *prometheus.CounterVec
	Dropped     prometheus.Counter
	Engines     prometheus.Gauge
}

// New creates Metrics registered with reg. Pass prometheus.DefaultRegisterer
// to expose them on the default handler.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		Signals: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "pulse_signals_total",
			Help: "Total number of accepted liveness signals by kind",
		}, []string{"kind"}),
		Transitions: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "pulse_transitions_total",
			Help: "Total number of confirmed engine transitions",
		}, []string{"from", "to"}),
		Rejected: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "pulse_signals_rejected_total",
			Help: "Total number of refused signals by reason",
		}, []string{"reason"}),
		Dropped: factory.NewCounter(prometheus.CounterOpts{
			Name: "pulse_subscription_dropped_total",
			Help: "Total number of transitions dropped by overloaded subscriptions",
		}),
		Engines: factory.NewGauge(prometheus.GaugeOpts{
			Name: "pulse_engines",
			Help: "Number of registered engines",
		}),
	}
}

// OnSignal implements pulse.MetricsProvider.
func (m *Metrics) OnSignal(kind pulse.SignalKind) {
	m.Signals.WithLabelValues(kind.String()).Inc()
}

// OnTransition implements pulse.MetricsProvider.
func (m *Metrics) OnTransition(from, to pulse.EngineState) {
	m.Transitions.WithLabelValues(from.String(), to.String()).Inc()
}

// OnRejected implements pulse.MetricsProvider.
func (m *Metrics) OnRejected(reason string) {
	m.Rejected.WithLabelValues(reason).Inc()
}

// OnDropped implements pulse.MetricsProvider. Subscription ids are not used
// as labels to keep cardinality bounded.
func (m *Metrics) OnDropped(_ string) {
	m.Dropped.Inc()
}

// OnEngines implements pulse.MetricsProvider.
func (m *Metrics) OnEngines(count int) {
	m.Engines.Set(float64(count))
}

var _ pulse.MetricsProvider = (*Metrics)(nil)

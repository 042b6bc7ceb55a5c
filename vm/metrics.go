package vm

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics counts what VMs do. One Metrics may be shared by many VMs.
type Metrics struct {
	actions       prometheus.Counter
	saves         prometheus.Counter
	restores      prometheus.Counter
	failures      prometheus.Counter
	actionSeconds prometheus.Histogram
}

// NewMetrics creates the collectors and registers them with registerer.
func NewMetrics(registerer prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		actions: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "autofrotz",
			Name:      "actions_total",
			Help:      "Number of DoAction calls",
		}),
		saves: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "autofrotz",
			Name:      "saves_total",
			Help:      "Number of successful saves",
		}),
		restores: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "autofrotz",
			Name:      "restores_total",
			Help:      "Number of successful restores",
		}),
		failures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "autofrotz",
			Name:      "interpreter_failures_total",
			Help:      "Number of interpreters that died with an error",
		}),
		actionSeconds: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "autofrotz",
			Name:      "action_duration_seconds",
			Help:      "Time from handing input to the interpreter until it blocks again",
			Buckets:   prometheus.ExponentialBuckets(1e-6, 4, 12),
		}),
	}
	for _, c := range []prometheus.Collector{m.actions, m.saves, m.restores, m.failures, m.actionSeconds} {
		if err := registerer.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

// A nil *Metrics records nothing.

func (m *Metrics) action(seconds float64) {
	if m == nil {
		return
	}
	m.actions.Inc()
	m.actionSeconds.Observe(seconds)
}

func (m *Metrics) saved() {
	if m != nil {
		m.saves.Inc()
	}
}

func (m *Metrics) restored() {
	if m != nil {
		m.restores.Inc()
	}
}

func (m *Metrics) failed() {
	if m != nil {
		m.failures.Inc()
	}
}

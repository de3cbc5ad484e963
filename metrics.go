package chatapp

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics counts what the engine did. A nil *Metrics records nothing.
type Metrics struct {
	polls        *prometheus.CounterVec
	merged       prometheus.Counter
	replacements prometheus.Counter
	stale        *prometheus.CounterVec
	mutations    *prometheus.CounterVec
}

// NewMetrics creates the engine collectors and registers them with reg when
// reg is not nil.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		polls: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "chatapp",
				Name:      "polls_total",
				Help:      "Background poll ticks by component and outcome.",
			},
			[]string{"component", "outcome"},
		),
		merged: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: "chatapp",
				Name:      "messages_merged_total",
				Help:      "Messages added to the open conversation by merges.",
			},
		),
		replacements: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: "chatapp",
				Name:      "state_replacements_total",
				Help:      "Merges that replaced the message list wholesale.",
			},
		),
		stale: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "chatapp",
				Name:      "stale_responses_total",
				Help:      "Responses discarded because the conversation changed while they were in flight.",
			},
			[]string{"kind"},
		),
		mutations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "chatapp",
				Name:      "mutations_total",
				Help:      "User mutations by kind and outcome.",
			},
			[]string{"kind", "outcome"},
		),
	}
	if reg != nil {
		reg.MustRegister(m.polls, m.merged, m.replacements, m.stale, m.mutations)
	}
	return m
}

func (m *Metrics) poll(component string, err error) {
	if m == nil {
		return
	}
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	m.polls.WithLabelValues(component, outcome).Inc()
}

func (m *Metrics) applied(kind string, res MergeResult) {
	if m == nil {
		return
	}
	if res.Stale {
		m.stale.WithLabelValues(kind).Inc()
		return
	}
	if res.Appended > 0 {
		m.merged.Add(float64(res.Appended))
	}
	if res.Replaced {
		m.replacements.Inc()
	}
}

func (m *Metrics) mutation(kind string, outcome string) {
	if m == nil {
		return
	}
	m.mutations.WithLabelValues(kind, outcome).Inc()
}

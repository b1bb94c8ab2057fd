package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type Metrics struct {
	Transitions   *prometheus.CounterVec
	LinkConflicts prometheus.Counter
	Registered    prometheus.Counter
}

func New() *Metrics {
	return NewWithRegisterer(prometheus.DefaultRegisterer)
}

func NewWithRegisterer(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		Transitions: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "lifetag_registry_transitions_total",
			Help: "Tag status transitions by source and target status",
		}, []string{"from", "to"}),
		LinkConflicts: factory.NewCounter(prometheus.CounterOpts{
			Name: "lifetag_registry_link_conflicts_total",
			Help: "Link attempts rejected because the tag belongs to another owner",
		}),
		Registered: factory.NewCounter(prometheus.CounterOpts{
			Name: "lifetag_registry_tags_registered_total",
			Help: "Tags registered by manufacturing or administration",
		}),
	}
}

func (m *Metrics) IncrementTransition(from, to string) {
	if m == nil {
		return
	}
	m.Transitions.WithLabelValues(from, to).Inc()
}

func (m *Metrics) IncrementLinkConflicts() {
	if m == nil {
		return
	}
	m.LinkConflicts.Inc()
}

func (m *Metrics) IncrementRegistered() {
	if m == nil {
		return
	}
	m.Registered.Inc()
}

package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type Metrics struct {
	Decisions     *prometheus.CounterVec
	BackendErrors prometheus.Counter
	Degraded      prometheus.Gauge
}

func New() *Metrics {
	return NewWithRegisterer(prometheus.DefaultRegisterer)
}

func NewWithRegisterer(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		Decisions: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "lifetag_ratelimit_decisions_total",
			Help: "Per-tag rate limit decisions by result",
		}, []string{"result"}),
		BackendErrors: factory.NewCounter(prometheus.CounterOpts{
			Name: "lifetag_ratelimit_backend_errors_total",
			Help: "Errors from the shared rate limit store",
		}),
		Degraded: factory.NewGauge(prometheus.GaugeOpts{
			Name: "lifetag_ratelimit_degraded",
			Help: "1 while decisions come from the in-process fallback",
		}),
	}
}

func (m *Metrics) IncrementDecision(allowed bool) {
	if m == nil {
		return
	}
	result := "allowed"
	if !allowed {
		result = "limited"
	}
	m.Decisions.WithLabelValues(result).Inc()
}

func (m *Metrics) IncrementBackendErrors() {
	if m == nil {
		return
	}
	m.BackendErrors.Inc()
}

func (m *Metrics) SetDegraded(degraded bool) {
	if m == nil {
		return
	}
	if degraded {
		m.Degraded.Set(1)
		return
	}
	m.Degraded.Set(0)
}

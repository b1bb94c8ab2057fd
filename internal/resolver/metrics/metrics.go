package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type Metrics struct {
	Resolutions       *prometheus.CounterVec
	ResolutionLatency prometheus.Histogram
	PolicyViolations  prometheus.Counter
	ProofExchanges    *prometheus.CounterVec
}

func New() *Metrics {
	return NewWithRegisterer(prometheus.DefaultRegisterer)
}

func NewWithRegisterer(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		Resolutions: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "lifetag_resolutions_total",
			Help: "Emergency view resolutions by audit outcome",
		}, []string{"outcome"}),
		ResolutionLatency: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "lifetag_resolution_duration_seconds",
			Help:    "Latency of emergency view resolution",
			Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5},
		}),
		PolicyViolations: factory.NewCounter(prometheus.CounterOpts{
			Name: "lifetag_policy_violations_total",
			Help: "Fields with an unknown tier withheld during resolution",
		}),
		ProofExchanges: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "lifetag_proof_exchanges_total",
			Help: "Caregiver PIN exchanges by result",
		}, []string{"result"}),
	}
}

func (m *Metrics) IncrementResolution(outcome string) {
	if m == nil {
		return
	}
	m.Resolutions.WithLabelValues(outcome).Inc()
}

func (m *Metrics) ObserveResolutionLatency(seconds float64) {
	if m == nil {
		return
	}
	m.ResolutionLatency.Observe(seconds)
}

func (m *Metrics) AddPolicyViolations(n int) {
	if m == nil || n == 0 {
		return
	}
	m.PolicyViolations.Add(float64(n))
}

func (m *Metrics) IncrementProofExchange(result string) {
	if m == nil {
		return
	}
	m.ProofExchanges.WithLabelValues(result).Inc()
}

package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type Metrics struct {
	Recorded         *prometheus.CounterVec
	Deliveries       *prometheus.CounterVec
	IntakeDropped    prometheus.Counter
	Reconciled       prometheus.Counter
	DeliveryDuration prometheus.Histogram
}

func New() *Metrics {
	return NewWithRegisterer(prometheus.DefaultRegisterer)
}

func NewWithRegisterer(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		Recorded: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "lifetag_notify_events_recorded_total",
			Help: "Notification events persisted, by initial state",
		}, []string{"state"}),
		Deliveries: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "lifetag_notify_delivery_attempts_total",
			Help: "Delivery attempts by resulting state",
		}, []string{"result"}),
		IntakeDropped: factory.NewCounter(prometheus.CounterOpts{
			Name: "lifetag_notify_intake_dropped_total",
			Help: "Enqueue calls rejected because the intake buffer was full",
		}),
		Reconciled: factory.NewCounter(prometheus.CounterOpts{
			Name: "lifetag_notify_reconciled_total",
			Help: "Events recovered from the audit ledger by the reconciler",
		}),
		DeliveryDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "lifetag_notify_delivery_duration_seconds",
			Help:    "Time spent delivering one event to all of its channels",
			Buckets: prometheus.DefBuckets,
		}),
	}
}

func (m *Metrics) IncrementRecorded(state string) {
	if m == nil {
		return
	}
	m.Recorded.WithLabelValues(state).Inc()
}

func (m *Metrics) IncrementDeliveries(result string) {
	if m == nil {
		return
	}
	m.Deliveries.WithLabelValues(result).Inc()
}

func (m *Metrics) IncrementIntakeDropped() {
	if m == nil {
		return
	}
	m.IntakeDropped.Inc()
}

func (m *Metrics) AddReconciled(n int) {
	if m == nil {
		return
	}
	m.Reconciled.Add(float64(n))
}

func (m *Metrics) ObserveDeliveryDuration(seconds float64) {
	if m == nil {
		return
	}
	m.DeliveryDuration.Observe(seconds)
}

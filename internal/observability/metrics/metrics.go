package metrics

import "github.com/prometheus/client_golang/prometheus"

// SchedulingMetrics exposes counters for appointment lifecycle transitions.
type SchedulingMetrics struct {
	transitionsTotal *prometheus.CounterVec
	putRetriesTotal  prometheus.Counter
}

func NewSchedulingMetrics(reg prometheus.Registerer) *SchedulingMetrics {
	m := &SchedulingMetrics{
		transitionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "clinic",
			Subsystem: "scheduling",
			Name:      "transitions_total",
			Help:      "Appointment transitions by operation and result",
		}, []string{"operation", "result"}),
		putRetriesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "clinic",
			Subsystem: "scheduling",
			Name:      "put_retries_total",
			Help:      "Optimistic-concurrency retries against the record store",
		}),
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	reg.MustRegister(m.transitionsTotal, m.putRetriesTotal)
	return m
}

func (m *SchedulingMetrics) ObserveTransition(operation, result string) {
	if m == nil {
		return
	}
	m.transitionsTotal.WithLabelValues(operation, result).Inc()
}

func (m *SchedulingMetrics) ObservePutRetry() {
	if m == nil {
		return
	}
	m.putRetriesTotal.Inc()
}

// NotifyMetrics exposes counters for the notification dispatcher.
type NotifyMetrics struct {
	emailsTotal  *prometheus.CounterVec
	retriesTotal prometheus.Counter
	droppedTotal prometheus.Counter
}

func NewNotifyMetrics(reg prometheus.Registerer) *NotifyMetrics {
	m := &NotifyMetrics{
		emailsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "clinic",
			Subsystem: "notify",
			Name:      "emails_total",
			Help:      "Outbound notification emails by event type and status",
		}, []string{"event_type", "status"}),
		retriesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "clinic",
			Subsystem: "notify",
			Name:      "send_retries_total",
			Help:      "Email send retries after transient failures",
		}),
		droppedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "clinic",
			Subsystem: "notify",
			Name:      "dropped_total",
			Help:      "Notifications dropped after exhausting retries",
		}),
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	reg.MustRegister(m.emailsTotal, m.retriesTotal, m.droppedTotal)
	return m
}

func (m *NotifyMetrics) ObserveEmail(eventType, status string) {
	if m == nil {
		return
	}
	m.emailsTotal.WithLabelValues(eventType, status).Inc()
}

func (m *NotifyMetrics) ObserveRetry() {
	if m == nil {
		return
	}
	m.retriesTotal.Inc()
}

func (m *NotifyMetrics) ObserveDropped() {
	if m == nil {
		return
	}
	m.droppedTotal.Inc()
}

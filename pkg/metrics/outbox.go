package metrics

import "github.com/prometheus/client_golang/prometheus"

// OutboxMetrics counts what the outbox publisher did with each event type.
type OutboxMetrics struct {
	events *prometheus.CounterVec
}

const (
	OutboxPublished    = "published"
	OutboxRetried      = "retried"
	OutboxDeadLettered = "dead_lettered"
)

func NewOutboxMetrics(reg prometheus.Registerer) *OutboxMetrics {
	if reg == nil {
		return &OutboxMetrics{}
	}
	events := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "settlement",
		Subsystem: "outbox",
		Name:      "events_total",
		Help:      "Outbox publish results by event type.",
	}, []string{"event_type", "result"})
	reg.MustRegister(events)
	return &OutboxMetrics{events: events}
}

func (m *OutboxMetrics) Inc(eventType, result string) {
	if m == nil || m.events == nil {
		return
	}
	m.events.WithLabelValues(normalizeLabel(eventType), normalizeLabel(result)).Inc()
}

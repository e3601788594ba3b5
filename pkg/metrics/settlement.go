package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Outcome labels shared by the settlement counters.
const (
	OutcomeSettled   = "settled"
	OutcomeDuplicate = "duplicate"
	OutcomeRejected  = "rejected"
	OutcomeFailed    = "failed"
	OutcomeTimeout   = "timeout"
	OutcomeCancelled = "cancelled"
)

// SettlementMetrics counts payment settlements, status polls and the cases
// that need an operator.
type SettlementMetrics struct {
	settlements  *prometheus.CounterVec
	polls        *prometheus.CounterVec
	compensation *prometheus.CounterVec
	inconsistent *prometheus.CounterVec
}

// NewSettlementMetrics registers the settlement metrics on reg. A nil
// registerer yields a no-op recorder.
func NewSettlementMetrics(reg prometheus.Registerer) *SettlementMetrics {
	if reg == nil {
		return &SettlementMetrics{}
	}
	settlements := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "settlement",
		Name:      "payments_total",
		Help:      "Payment settlement attempts by provider and outcome.",
	}, []string{"provider", "outcome"})
	polls := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "settlement",
		Name:      "status_polls_total",
		Help:      "Terminal outcomes of asynchronous payment status streams.",
	}, []string{"provider", "outcome"})
	compensation := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "settlement",
		Name:      "compensating_refunds_total",
		Help:      "Provider refunds issued because a captured payment could not be settled.",
	}, []string{"provider", "outcome"})
	inconsistent := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "settlement",
		Name:      "inconsistent_state_total",
		Help:      "Operations that left state needing manual reconciliation.",
	}, []string{"operation"})
	reg.MustRegister(settlements, polls, compensation, inconsistent)
	return &SettlementMetrics{
		settlements:  settlements,
		polls:        polls,
		compensation: compensation,
		inconsistent: inconsistent,
	}
}

func (m *SettlementMetrics) IncSettlement(provider, outcome string) {
	if m == nil || m.settlements == nil {
		return
	}
	m.settlements.WithLabelValues(normalizeLabel(provider), normalizeLabel(outcome)).Inc()
}

func (m *SettlementMetrics) IncPollOutcome(provider, outcome string) {
	if m == nil || m.polls == nil {
		return
	}
	m.polls.WithLabelValues(normalizeLabel(provider), normalizeLabel(outcome)).Inc()
}

func (m *SettlementMetrics) IncCompensation(provider, outcome string) {
	if m == nil || m.compensation == nil {
		return
	}
	m.compensation.WithLabelValues(normalizeLabel(provider), normalizeLabel(outcome)).Inc()
}

// IncInconsistent marks an operation that committed only part of its work.
func (m *SettlementMetrics) IncInconsistent(operation string) {
	if m == nil || m.inconsistent == nil {
		return
	}
	m.inconsistent.WithLabelValues(normalizeLabel(operation)).Inc()
}

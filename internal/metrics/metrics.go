// Package metrics exports ledger activity as Prometheus collectors.
package metrics

import (
	"errors"

	"account-ledger/internal/ledger"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics implements ledger.Observer.
type Metrics struct {
	operations *prometheus.CounterVec
	amounts    *prometheus.CounterVec
	accounts   prometheus.Gauge
}

// New registers the collectors on reg. Pass prometheus.NewRegistry() in tests
// to avoid clashing with the default registerer.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		operations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "ledger",
			Name:      "operations_total",
			Help:      "Registry operations by kind and result.",
		}, []string{"op", "result"}),
		amounts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "ledger",
			Name:      "amount_cents_total",
			Help:      "Committed amounts in minor units by operation.",
		}, []string{"op"}),
		accounts: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "ledger",
			Name:      "accounts",
			Help:      "Accounts opened in this process.",
		}),
	}
	reg.MustRegister(m.operations, m.amounts, m.accounts)
	return m
}

func (m *Metrics) Committed(ev ledger.Event) {
	m.operations.WithLabelValues(string(ev.Op), "ok").Inc()
	m.amounts.WithLabelValues(string(ev.Op)).Add(float64(ev.Amount))
	if ev.Op == ledger.OpOpen {
		m.accounts.Inc()
	}
}

func (m *Metrics) Rejected(op ledger.Op, err error) {
	m.operations.WithLabelValues(string(op), Reason(err)).Inc()
}

// Reason maps a registry error to a bounded label value.
func Reason(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ledger.ErrInsufficientFunds):
		return "insufficient_funds"
	case errors.Is(err, ledger.ErrInvalidAccount):
		return "invalid_account"
	case errors.Is(err, ledger.ErrInvalidAmount):
		return "invalid_amount"
	case errors.Is(err, ledger.ErrSameAccount):
		return "same_account"
	default:
		return "error"
	}
}

// Package metrics holds the Prometheus collectors of the estate ledger.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	BillsGeneratedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "estate_bills_generated_total",
			Help: "Bill generation outcomes per bill kind and outcome",
		},
		[]string{"kind", "outcome"},
	)

	AllocationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "estate_allocations_total",
			Help: "Allocation rows written per bill kind",
		},
		[]string{"kind"},
	)

	AllocatedAmountTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "estate_allocated_amount_total",
			Help: "Sum of amounts placed on bills per bill kind",
		},
		[]string{"kind"},
	)

	UnallocatedAmountTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "estate_unallocated_amount_total",
			Help: "Sum of payment amounts left unallocated per bill kind",
		},
		[]string{"kind"},
	)

	ReconciliationDiscrepancy = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "estate_reconciliation_discrepancy",
			Help: "Absolute difference between account-view and category-view totals at the last reconciliation",
		},
	)

	ReconciliationRunsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "estate_reconciliation_runs_total",
			Help: "Reconciliation runs per result",
		},
		[]string{"result"},
	)
)

// ObserveBill records one generator outcome.
func ObserveBill(kind, outcome string) {
	BillsGeneratedTotal.WithLabelValues(kind, outcome).Inc()
}

// ObserveAllocation records one allocation row and its amount.
func ObserveAllocation(kind string, amount float64) {
	AllocationsTotal.WithLabelValues(kind).Inc()
	AllocatedAmountTotal.WithLabelValues(kind).Add(amount)
}

// ObserveUnallocated records what was left over from an allocation run.
func ObserveUnallocated(kind string, amount float64) {
	if amount <= 0 {
		return
	}
	UnallocatedAmountTotal.WithLabelValues(kind).Add(amount)
}

// ObserveReconciliation records the outcome of a reconciliation run.
func ObserveReconciliation(discrepancy float64, consistent bool) {
	ReconciliationDiscrepancy.Set(discrepancy)
	result := "consistent"
	if !consistent {
		result = "mismatch"
	}
	ReconciliationRunsTotal.WithLabelValues(result).Inc()
}

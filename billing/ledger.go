/*
ledger.go - Allocation rows as the source of truth for what a bill has received

PURPOSE:
  A bill's Paid amount is never accumulated by adding deltas to a cached
  field. It is recomputed from the allocation rows that reference the bill
  every time one of them changes. A retried allocation therefore cannot
  double count: the upserted row has the same key and the sum is the same.

INVARIANTS:
  1. Paid == Σ allocation rows for (kind, bill)
  2. Paid + Remaining == Nominal
  3. Status == StatusFor(Paid, Nominal)
  4. Σ allocation rows for a payment <= payment amount (enforced by the
     allocator, checked by PaymentSummary)

SEE ALSO:
  - allocation.go: Writes allocation rows, then calls Resettle
  - types.go: Charge.Settle
*/
package billing

import (
	"context"
	"sort"
)

// SumAllocations adds up the amounts of allocation rows.
func SumAllocations(rows []Allocation) Money {
	total := ZeroMoney()
	for _, r := range rows {
		total = total.Add(r.Amount)
	}
	return total
}

// Resettle re-derives Paid, Remaining and Status of c from its allocation
// rows and persists the result.
func Resettle(ctx context.Context, s Store, c Charge) (Charge, error) {
	rows, err := s.ListAllocations(ctx, AllocationFilter{Kind: c.Kind, BillID: c.ID})
	if err != nil {
		return Charge{}, err
	}
	settled := c.Settle(SumAllocations(rows))
	if err := s.UpdateCharge(ctx, settled); err != nil {
		return Charge{}, err
	}
	return settled, nil
}

// SortCharges orders charges oldest bill date first, ties by ID.
func SortCharges(charges []Charge) {
	sort.SliceStable(charges, func(i, j int) bool {
		if !charges[i].BillDate.Equal(charges[j].BillDate) {
			return charges[i].BillDate.Before(charges[j].BillDate)
		}
		return charges[i].ID < charges[j].ID
	})
}

// =============================================================================
// PAYMENT SUMMARY
// =============================================================================

// PaymentSummary shows how much of a payment has been placed on bills.
type PaymentSummary struct {
	Payment     Payment
	Allocations []Allocation
	Allocated   Money
	Unallocated Money
}

// SummarizePayment loads a payment and its allocation rows across both
// bill kinds.
func SummarizePayment(ctx context.Context, s Store, id PaymentID) (PaymentSummary, error) {
	p, err := s.GetPayment(ctx, id)
	if err != nil {
		return PaymentSummary{}, err
	}
	rows, err := s.ListAllocations(ctx, AllocationFilter{PaymentID: id})
	if err != nil {
		return PaymentSummary{}, err
	}
	allocated := SumAllocations(rows)
	return PaymentSummary{
		Payment:     p,
		Allocations: rows,
		Allocated:   allocated,
		Unallocated: p.Amount.Sub(allocated).Max(ZeroMoney()),
	}, nil
}

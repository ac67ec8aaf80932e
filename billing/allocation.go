/*
allocation.go - Distributing a payment over a household's outstanding bills

PURPOSE:
  Turns an incoming payment into allocation rows against the household's
  unpaid and partial bills of one kind, oldest bill date first (FIFO).

ALGORITHM:
  1. capacity = payment.Amount - Σ rows already written for the payment
     (both bill kinds), so a payment can never be over-allocated
  2. toPlace  = min(requested, capacity); requested 0 means "all of it"
  3. for each outstanding bill, oldest first:
       portion = min(toPlace left, bill.Remaining)
       upsert row (kind, bill, payment) with its previous amount + portion
       re-derive the bill's Paid/Remaining/Status from its rows
  4. stop when nothing is left to place or no outstanding bill remains
  5. unallocated = requested - placed; the caller decides what to do with it

  The whole walk runs in one transaction when the store supports it.

EXAMPLE:
  Outstanding: 60,000 (Jan), 30,000 (Feb). Payment 75,000.
  Jan: 60,000 placed -> paid
  Feb: 15,000 placed -> partial, remaining 15,000
  Unallocated: 0

FLAT-FEE CATEGORY:
  Rows against flat-fee bills carry the bill's tier as Category. The tier
  was stored on the bill when it was generated.

SEE ALSO:
  - ledger.go: Resettle, SummarizePayment
*/
package billing

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/warp/estate-ledger/metrics"
)

// AllocationRequest asks for part (or all) of a payment to be placed on
// bills of one kind.
type AllocationRequest struct {
	PaymentID PaymentID
	Kind      BillKind

	// Amount to place. Zero means whatever the payment has left.
	Amount Money

	// Allocation date. Zero means today.
	At TimePoint
}

// AllocationLine is one bill touched by an allocation run.
type AllocationLine struct {
	// Row as persisted; its Amount includes earlier runs for the same pair.
	Allocation Allocation

	// Amount placed on the bill by this run.
	Placed Money

	// Bill after re-settlement.
	Bill Charge
}

type AllocationResult struct {
	PaymentID   PaymentID
	HouseholdID HouseholdID
	Kind        BillKind
	Requested   Money
	Lines       []AllocationLine
	Allocated   Money
	Unallocated Money
}

// PaymentAllocator places payments on outstanding bills.
type PaymentAllocator struct {
	Store  Store
	Now    func() TimePoint
	NewID  func() string
	Logger *zap.Logger
}

func NewPaymentAllocator(store Store, logger *zap.Logger) *PaymentAllocator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &PaymentAllocator{
		Store:  store,
		Now:    Today,
		NewID:  uuid.NewString,
		Logger: logger,
	}
}

// Allocate distributes the requested amount of a payment over the
// household's outstanding bills of req.Kind, oldest first.
func (pa *PaymentAllocator) Allocate(ctx context.Context, req AllocationRequest) (AllocationResult, error) {
	if !req.Kind.Valid() {
		return AllocationResult{}, ErrInvalidKind
	}
	if req.Amount.IsNegative() {
		return AllocationResult{}, ErrInvalidAmount
	}
	at := req.At
	if at.IsZero() {
		at = pa.Now()
	}

	var result AllocationResult
	err := RunInTx(ctx, pa.Store, func(s Store) error {
		var err error
		result, err = pa.allocate(ctx, s, req, at)
		return err
	})
	if err != nil {
		pa.Logger.Error("allocation failed",
			zap.String("payment_id", string(req.PaymentID)),
			zap.String("kind", string(req.Kind)),
			zap.Error(err),
		)
		return AllocationResult{}, err
	}

	// Counters only move once the rows are committed.
	for _, line := range result.Lines {
		placed, _ := line.Placed.Value.Float64()
		metrics.ObserveAllocation(string(req.Kind), placed)
	}
	allocated, _ := result.Allocated.Value.Float64()
	unallocated, _ := result.Unallocated.Value.Float64()
	metrics.ObserveUnallocated(string(req.Kind), unallocated)
	pa.Logger.Info("payment allocated",
		zap.String("payment_id", string(result.PaymentID)),
		zap.String("household_id", string(result.HouseholdID)),
		zap.String("kind", string(result.Kind)),
		zap.Int("bills", len(result.Lines)),
		zap.Float64("allocated", allocated),
		zap.Float64("unallocated", unallocated),
	)
	return result, nil
}

func (pa *PaymentAllocator) allocate(ctx context.Context, s Store, req AllocationRequest, at TimePoint) (AllocationResult, error) {
	payment, err := s.GetPayment(ctx, req.PaymentID)
	if err != nil {
		return AllocationResult{}, err
	}

	existing, err := s.ListAllocations(ctx, AllocationFilter{PaymentID: payment.ID})
	if err != nil {
		return AllocationResult{}, fmt.Errorf("load allocations for payment %s: %w", payment.ID, err)
	}
	capacity := payment.Amount.Sub(SumAllocations(existing)).Max(ZeroMoney())

	requested := req.Amount
	if requested.IsZero() {
		requested = capacity
	}
	left := requested.Min(capacity)

	result := AllocationResult{
		PaymentID:   payment.ID,
		HouseholdID: payment.HouseholdID,
		Kind:        req.Kind,
		Requested:   requested,
		Allocated:   ZeroMoney(),
	}

	outstanding, err := s.ListCharges(ctx, req.Kind, BillFilter{
		HouseholdID: payment.HouseholdID,
		Statuses:    []BillStatus{StatusUnpaid, StatusPartial},
	})
	if err != nil {
		return AllocationResult{}, fmt.Errorf("load outstanding %s bills: %w", req.Kind, err)
	}
	SortCharges(outstanding)

	tiers, err := pa.tiers(ctx, s, req.Kind, payment.HouseholdID)
	if err != nil {
		return AllocationResult{}, err
	}

	prior := make(map[AllocationKey]Allocation, len(existing))
	for _, a := range existing {
		prior[a.Key()] = a
	}

	for _, bill := range outstanding {
		if !left.IsPositive() {
			break
		}
		if !bill.Remaining.IsPositive() {
			continue
		}
		portion := left.Min(bill.Remaining)

		row := Allocation{
			ID:          AllocationID(pa.NewID()),
			Kind:        req.Kind,
			PaymentID:   payment.ID,
			BillID:      bill.ID,
			Amount:      portion,
			AllocatedAt: at,
			Category:    string(tiers[bill.ID]),
		}
		if p, ok := prior[row.Key()]; ok {
			row.ID = p.ID
			row.Amount = p.Amount.Add(portion)
		}
		if err := s.UpsertAllocation(ctx, row); err != nil {
			return AllocationResult{}, fmt.Errorf("write allocation for bill %s: %w", bill.ID, err)
		}

		settled, err := Resettle(ctx, s, bill)
		if err != nil {
			return AllocationResult{}, fmt.Errorf("settle bill %s: %w", bill.ID, err)
		}

		result.Lines = append(result.Lines, AllocationLine{Allocation: row, Placed: portion, Bill: settled})
		result.Allocated = result.Allocated.Add(portion)
		left = left.Sub(portion)
	}

	result.Unallocated = requested.Sub(result.Allocated)
	return result, nil
}

// tiers maps flat-fee bill IDs to the tier stored on them.
func (pa *PaymentAllocator) tiers(ctx context.Context, s Store, kind BillKind, householdID HouseholdID) (map[BillID]FeeTier, error) {
	tiers := make(map[BillID]FeeTier)
	if kind != KindFlatFee {
		return tiers, nil
	}
	bills, err := s.ListFeeBills(ctx, BillFilter{HouseholdID: householdID})
	if err != nil {
		return nil, fmt.Errorf("load flat-fee bills: %w", err)
	}
	for _, b := range bills {
		tiers[b.ID] = b.Tier
	}
	return tiers, nil
}

/*
store.go - Persistence interfaces for the billing engine

PURPOSE:
  Defines the interface between the billing logic and the record store.
  Components depend on the narrowest interface they need; Store composes
  all of them and is what the concrete implementations provide.

KEY INTERFACES:
  PeriodStore:     Billing periods ordered by sequence number
  HouseholdStore:  Housing units and their occupancy
  TariffStore:     Versioned water and flat-fee tariffs
  BillStore:       Water and flat-fee billing records
  PaymentStore:    Incoming payments
  AllocationStore: Allocation rows, upserted on (kind, bill, payment)
  FinanceStore:    Accounts, categories, entries, transfers, escrow deposits
  TxStore:         Store plus atomic multi-write support

UNIQUENESS:
  InsertWaterBill/InsertFeeBill must reject a second bill for the same
  (household, period) with ErrDuplicateBill. Generators check first, so the
  store-level check only matters for concurrent runs.

ATOMICITY:
  RunInTx uses WithTx when the store supports it. A store without
  transactions still works, but a failure half-way through an allocation
  leaves the earlier writes in place.

IMPLEMENTATIONS:
  - store/sqlite/sqlite.go: SQLite with embedded migrations
  - billing/store/memory.go: In-memory for testing

SEE ALSO:
  - allocation.go: Uses RunInTx around each allocation
  - tariff.go: Uses RunInTx around tariff activation
*/
package billing

import "context"

// =============================================================================
// FILTERS
// =============================================================================

// TariffFilter narrows ListTariffs. Zero values match everything.
type TariffFilter struct {
	Type       TariffType
	ActiveOnly bool

	// When set, only tariffs effective on or before this date.
	EffectiveOnOrBefore *TimePoint
}

// BillFilter narrows bill listings. Zero values match everything.
type BillFilter struct {
	HouseholdID HouseholdID
	PeriodID    PeriodID
	Statuses    []BillStatus
}

// Matches reports whether a charge satisfies the filter.
func (f BillFilter) Matches(c Charge) bool {
	if f.HouseholdID != "" && c.HouseholdID != f.HouseholdID {
		return false
	}
	if f.PeriodID != "" && c.PeriodID != f.PeriodID {
		return false
	}
	if len(f.Statuses) == 0 {
		return true
	}
	for _, s := range f.Statuses {
		if c.Status == s {
			return true
		}
	}
	return false
}

// AllocationFilter narrows ListAllocations. Zero values match everything.
type AllocationFilter struct {
	Kind      BillKind
	BillID    BillID
	PaymentID PaymentID
}

func (f AllocationFilter) Matches(a Allocation) bool {
	return (f.Kind == "" || a.Kind == f.Kind) &&
		(f.BillID == "" || a.BillID == f.BillID) &&
		(f.PaymentID == "" || a.PaymentID == f.PaymentID)
}

// =============================================================================
// STORE INTERFACES
// =============================================================================

type PeriodStore interface {
	SavePeriod(ctx context.Context, p Period) error
	GetPeriod(ctx context.Context, id PeriodID) (Period, error)

	// ListPeriods returns every period, most recent (highest sequence) first.
	ListPeriods(ctx context.Context) ([]Period, error)
}

type HouseholdStore interface {
	SaveHousehold(ctx context.Context, h Household) error
	GetHousehold(ctx context.Context, id HouseholdID) (Household, error)
	ListHouseholds(ctx context.Context) ([]Household, error)
}

type TariffStore interface {
	SaveTariff(ctx context.Context, t Tariff) error
	GetTariff(ctx context.Context, id TariffID) (Tariff, error)

	// ListTariffs returns matching tariffs ordered by EffectiveFrom descending.
	ListTariffs(ctx context.Context, filter TariffFilter) ([]Tariff, error)
}

type BillStore interface {
	// InsertWaterBill fails with ErrDuplicateBill if (household, period) is taken.
	InsertWaterBill(ctx context.Context, b WaterBill) error
	GetWaterBill(ctx context.Context, id BillID) (WaterBill, error)
	ListWaterBills(ctx context.Context, filter BillFilter) ([]WaterBill, error)

	// InsertFeeBill fails with ErrDuplicateBill if (household, period) is taken.
	InsertFeeBill(ctx context.Context, b FeeBill) error
	GetFeeBill(ctx context.Context, id BillID) (FeeBill, error)
	ListFeeBills(ctx context.Context, filter BillFilter) ([]FeeBill, error)

	// ListCharges returns the payable part of bills of one kind, oldest
	// bill date first (ties broken by ID).
	ListCharges(ctx context.Context, kind BillKind, filter BillFilter) ([]Charge, error)

	// UpdateCharge persists Paid, Remaining and Status of an existing bill.
	UpdateCharge(ctx context.Context, c Charge) error
}

type PaymentStore interface {
	SavePayment(ctx context.Context, p Payment) error
	GetPayment(ctx context.Context, id PaymentID) (Payment, error)
}

type AllocationStore interface {
	// UpsertAllocation inserts the row or replaces the amount of the row
	// with the same (kind, bill, payment) key.
	UpsertAllocation(ctx context.Context, a Allocation) error
	ListAllocations(ctx context.Context, filter AllocationFilter) ([]Allocation, error)
}

type FinanceStore interface {
	SaveAccount(ctx context.Context, a Account) error
	ListAccounts(ctx context.Context) ([]Account, error)
	SaveCategory(ctx context.Context, c Category) error
	ListCategories(ctx context.Context) ([]Category, error)
	SaveEntry(ctx context.Context, e Entry) error
	ListEntries(ctx context.Context) ([]Entry, error)
	SaveTransfer(ctx context.Context, t Transfer) error
	ListTransfers(ctx context.Context) ([]Transfer, error)
	SaveEscrowDeposit(ctx context.Context, d EscrowDeposit) error
	ListEscrowDeposits(ctx context.Context) ([]EscrowDeposit, error)
}

// Store is the full record store the engine runs against.
type Store interface {
	PeriodStore
	HouseholdStore
	TariffStore
	BillStore
	PaymentStore
	AllocationStore
	FinanceStore
}

// =============================================================================
// TRANSACTIONAL STORE - For atomic operations across multiple writes
// =============================================================================

// TxStore wraps Store with transaction support.
type TxStore interface {
	Store

	// WithTx executes fn within a transaction.
	// If fn returns error, transaction is rolled back.
	// If fn returns nil, transaction is committed.
	WithTx(ctx context.Context, fn func(Store) error) error
}

// RunInTx runs fn inside a transaction when s supports one, and directly
// against s otherwise.
func RunInTx(ctx context.Context, s Store, fn func(Store) error) error {
	if ts, ok := s.(TxStore); ok {
		return ts.WithTx(ctx, fn)
	}
	return fn(s)
}

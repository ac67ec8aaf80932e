/*
Package billing provides the utility billing and payment-allocation engine.

PURPOSE:
  This package contains the types and algorithms shared by every bill kind
  the estate ledger tracks. Water usage bills and flat monthly maintenance
  (IPL) bills are produced by their own packages, but they are settled,
  resolved against tariffs and reconciled by the code in here.

KEY CONCEPTS IN THIS FILE (types.go):
  - Money: A single-denomination amount backed by decimal.Decimal
  - Charge: The part of a bill that payments act on (nominal/paid/remaining)
  - WaterBill / FeeBill: Kind-specific billing records
  - Allocation: A slice of a payment applied to one bill

DESIGN PRINCIPLES:
  1. Precision: Uses decimal.Decimal to avoid floating-point errors
  2. Type Safety: Strong typing for IDs prevents mixing household/period IDs
  3. Derivation: Paid amounts are re-derived from allocation rows, never
     accumulated into a cached field

USAGE:
  charge := billing.Charge{Nominal: billing.NewMoneyFromInt(60000)}
  charge = charge.Settle(billing.NewMoneyFromInt(25000))
  // charge.Status == billing.StatusPartial

SEE ALSO:
  - allocation.go: Applying payments to outstanding charges
  - tariff.go: Resolving the tariff in force for a date
  - balance.go: Category/account reconciliation
*/
package billing

import (
	"github.com/shopspring/decimal"
)

// =============================================================================
// MONEY - Single denomination amount
// =============================================================================

type Money struct {
	Value decimal.Decimal
}

func NewMoneyFromInt(value int64) Money   { return Money{Value: decimal.NewFromInt(value)} }
func MoneyOf(value decimal.Decimal) Money { return Money{Value: value} }

// ParseMoney parses a decimal string such as "60000" or "1250.50".
func ParseMoney(s string) (Money, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return Money{}, ErrInvalidAmount
	}
	return Money{Value: d}, nil
}

func ZeroMoney() Money                          { return Money{Value: decimal.Zero} }
func (m Money) Add(o Money) Money               { return Money{Value: m.Value.Add(o.Value)} }
func (m Money) Sub(o Money) Money               { return Money{Value: m.Value.Sub(o.Value)} }
func (m Money) Mul(s decimal.Decimal) Money     { return Money{Value: m.Value.Mul(s)} }
func (m Money) Abs() Money                      { return Money{Value: m.Value.Abs()} }
func (m Money) Round(places int32) Money        { return Money{Value: m.Value.Round(places)} }
func (m Money) IsNegative() bool                { return m.Value.IsNegative() }
func (m Money) IsZero() bool                    { return m.Value.IsZero() }
func (m Money) IsPositive() bool                { return m.Value.IsPositive() }
func (m Money) Equal(o Money) bool              { return m.Value.Equal(o.Value) }
func (m Money) GreaterThan(o Money) bool        { return m.Value.GreaterThan(o.Value) }
func (m Money) LessThan(o Money) bool           { return m.Value.LessThan(o.Value) }
func (m Money) LessThanOrEqual(o Money) bool    { return m.Value.LessThanOrEqual(o.Value) }
func (m Money) String() string                  { return m.Value.String() }
func (m Money) Min(o Money) Money {
	if m.LessThan(o) {
		return m
	}
	return o
}
func (m Money) Max(o Money) Money {
	if m.GreaterThan(o) {
		return m
	}
	return o
}

// =============================================================================
// IDENTIFIERS
// =============================================================================

type HouseholdID string
type ResidentID string
type PeriodID string
type TariffID string
type BillID string
type PaymentID string
type AllocationID string
type AccountID string
type CategoryID string

// =============================================================================
// HOUSEHOLD
// =============================================================================

type Occupancy string

const (
	Occupied Occupancy = "occupied"
	Vacant   Occupancy = "vacant"
)

type Household struct {
	ID            HouseholdID
	Label         string // block/unit, e.g. "A-12"
	Occupancy     Occupancy
	WaterCustomer bool

	// Empty when nobody is registered for the unit.
	ResidentID ResidentID

	// Special-condition residents are billed the lowest IPL tier.
	SpecialCondition bool
}

// =============================================================================
// BILL STATUS
// =============================================================================

type BillStatus string

const (
	StatusUnpaid  BillStatus = "unpaid"
	StatusPartial BillStatus = "partial"
	StatusPaid    BillStatus = "paid"
)

// StatusFor derives a status from what has been paid against a nominal amount.
// paid iff remaining <= 0, unpaid iff nothing was paid, partial otherwise.
func StatusFor(paid, nominal Money) BillStatus {
	if !nominal.Sub(paid).IsPositive() {
		return StatusPaid
	}
	if paid.IsZero() {
		return StatusUnpaid
	}
	return StatusPartial
}

// Outstanding reports whether a bill with this status still accepts payments.
func (s BillStatus) Outstanding() bool {
	return s == StatusUnpaid || s == StatusPartial
}

// BillKind names the two billing tables payments can be allocated against.
type BillKind string

const (
	KindWater   BillKind = "water"
	KindFlatFee BillKind = "ipl"
)

func (k BillKind) Valid() bool { return k == KindWater || k == KindFlatFee }

// =============================================================================
// CHARGE - The payable part of any bill
// =============================================================================

// Charge is the portion of a billing record that payments operate on.
//
// INVARIANT: Paid + Remaining == Nominal, and Status == StatusFor(Paid, Nominal).
type Charge struct {
	ID          BillID
	Kind        BillKind
	HouseholdID HouseholdID
	PeriodID    PeriodID
	ResidentID  ResidentID
	BillDate    TimePoint
	DueDate     TimePoint
	Nominal     Money
	Paid        Money
	Remaining   Money
	Status      BillStatus
}

// NewCharge returns an untouched charge for the given nominal amount.
func NewCharge(kind BillKind, nominal Money) Charge {
	return Charge{
		Kind:      kind,
		Nominal:   nominal,
		Paid:      ZeroMoney(),
		Remaining: nominal,
		Status:    StatusFor(ZeroMoney(), nominal),
	}
}

// Settle returns the charge with Paid replaced by the given total and the
// remaining amount and status re-derived from it.
func (c Charge) Settle(totalPaid Money) Charge {
	c.Paid = totalPaid
	c.Remaining = c.Nominal.Sub(totalPaid)
	c.Status = StatusFor(totalPaid, c.Nominal)
	return c
}

// =============================================================================
// WATER BILL
// =============================================================================

type Classification string

const (
	// First reading ever recorded for a household. No charge.
	ClassBaseline Classification = "baseline"
	// Regular metered bill.
	ClassAutomatic Classification = "automatic"
	// Deliberate re-baseline of a household that already has history.
	ClassInitial Classification = "initial"
)

type WaterBill struct {
	Charge

	CurrentReading  decimal.Decimal
	PreviousReading decimal.Decimal
	Usage           decimal.Decimal
	Rate            Money
	TariffID        TariffID
	Classification  Classification
	MeterReplaced   bool
	Note            string
}

// =============================================================================
// FLAT FEE (IPL) BILL
// =============================================================================

type FeeTier string

const (
	TierNormal  FeeTier = "normal"
	TierVacant  FeeTier = "vacant"
	TierReduced FeeTier = "reduced"
)

// TariffType returns the tariff type that prices this tier.
func (t FeeTier) TariffType() TariffType {
	switch t {
	case TierVacant:
		return TariffIPLVacant
	case TierReduced:
		return TariffIPLReduced
	default:
		return TariffIPLNormal
	}
}

type FeeBill struct {
	Charge

	// Stored at creation so allocations never infer the tier from an amount.
	Tier     FeeTier
	TariffID TariffID
}

// =============================================================================
// PAYMENTS AND ALLOCATIONS
// =============================================================================

// Payment is an incoming payment from one household.
type Payment struct {
	ID          PaymentID
	HouseholdID HouseholdID
	Amount      Money
	ReceivedAt  TimePoint
	AccountID   AccountID
	Reference   string
}

// Allocation applies part of a payment to a single bill.
// Rows are unique on (Kind, BillID, PaymentID).
type Allocation struct {
	ID          AllocationID
	Kind        BillKind
	PaymentID   PaymentID
	BillID      BillID
	Amount      Money
	AllocatedAt TimePoint

	// Fee tier for flat-fee bills, empty for water.
	Category string
}

// Key identifies the (bill, payment) pair an allocation row is upserted on.
func (a Allocation) Key() AllocationKey {
	return AllocationKey{Kind: a.Kind, BillID: a.BillID, PaymentID: a.PaymentID}
}

type AllocationKey struct {
	Kind      BillKind
	BillID    BillID
	PaymentID PaymentID
}

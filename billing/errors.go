/*
errors.go - Centralized error types for the billing engine

PURPOSE:
  All error types in one place for consistency and discoverability.
  The water and ipl packages wrap these errors with household context.

ERROR CATEGORIES:
  1. Lookup errors - a referenced period, household, tariff or bill is missing
  2. Uniqueness errors - a bill already exists for (household, period)
  3. Input errors - malformed amounts or readings
  4. Store errors - the store lacks a capability an operation needs

POLICY:
  Generators never abort a batch on these errors. They are turned into a
  per-household Outcome (see outcome.go). Allocation and reconciliation
  return them to the caller, which reports them to the operator.

SEE ALSO:
  - outcome.go: Per-household batch results
  - store.go: Store contract that returns these errors
*/
package billing

import (
	"errors"
	"fmt"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrNotFound is the parent of every lookup failure below.
	ErrNotFound = errors.New("not found")

	ErrPeriodNotFound    = fmt.Errorf("period %w", ErrNotFound)
	ErrHouseholdNotFound = fmt.Errorf("household %w", ErrNotFound)
	ErrTariffNotFound    = fmt.Errorf("tariff %w", ErrNotFound)
	ErrBillNotFound      = fmt.Errorf("bill %w", ErrNotFound)
	ErrPaymentNotFound   = fmt.Errorf("payment %w", ErrNotFound)

	// ErrNoPreviousReading means no earlier period holds a water reading for
	// the household. Callers treat this as a first billing, not a failure.
	ErrNoPreviousReading = fmt.Errorf("previous reading %w", ErrNotFound)

	// ErrDuplicateBill is returned when a bill already exists for the
	// (household, period) pair. Generators treat it as a soft skip.
	ErrDuplicateBill = errors.New("bill already exists for household and period")

	// ErrInvalidAmount is returned for negative or unparsable amounts.
	ErrInvalidAmount = errors.New("invalid amount")

	// ErrInvalidReading is returned for negative meter readings.
	ErrInvalidReading = errors.New("invalid meter reading")

	// ErrInvalidPeriod is returned when a period ends before it starts.
	ErrInvalidPeriod = errors.New("invalid period: end before start")

	// Each period sequence number belongs to exactly one period.
	ErrDuplicateSequence = errors.New("period sequence already taken")

	ErrInvalidTariff = errors.New("invalid tariff")

	// ErrInvalidKind is returned when a bill kind is neither water nor ipl.
	ErrInvalidKind = errors.New("invalid bill kind")

	// ErrStoreRequired is returned when an operation requires a specific store capability.
	ErrStoreRequired = errors.New("operation requires extended store interface")
)

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

// DuplicateBillError names the pair that already has a bill.
type DuplicateBillError struct {
	Kind        BillKind
	HouseholdID HouseholdID
	PeriodID    PeriodID
	ExistingID  BillID
}

func (e *DuplicateBillError) Error() string {
	return fmt.Sprintf("%s bill already exists for household %s in period %s (bill: %s)",
		e.Kind, e.HouseholdID, e.PeriodID, e.ExistingID)
}

func (e *DuplicateBillError) Unwrap() error {
	return ErrDuplicateBill
}

// TariffNotFoundError names the type and date that did not resolve.
type TariffNotFoundError struct {
	Type TariffType
	AsOf TimePoint
}

func (e *TariffNotFoundError) Error() string {
	return fmt.Sprintf("no active %s tariff as of %s", e.Type, e.AsOf)
}

func (e *TariffNotFoundError) Unwrap() error {
	return ErrTariffNotFound
}

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsNotFound returns true if the error indicates a missing record.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// IsClientError returns true if the error is due to invalid caller input.
func IsClientError(err error) bool {
	return errors.Is(err, ErrInvalidAmount) ||
		errors.Is(err, ErrInvalidReading) ||
		errors.Is(err, ErrInvalidKind) ||
		errors.Is(err, ErrInvalidPeriod) ||
		errors.Is(err, ErrDuplicateSequence) ||
		errors.Is(err, ErrInvalidTariff) ||
		errors.Is(err, ErrDuplicateBill)
}

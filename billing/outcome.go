package billing

import (
	"errors"
	"fmt"

	"github.com/hashicorp/go-multierror"
)

// =============================================================================
// BATCH OUTCOMES - One result per household, never all-or-nothing
// =============================================================================

type OutcomeKind string

const (
	OutcomeBill     OutcomeKind = "bill"
	OutcomeBaseline OutcomeKind = "baseline"
	OutcomeSkipped  OutcomeKind = "skipped"
	OutcomeError    OutcomeKind = "error"
)

// Reason codes attached to skipped and error outcomes.
const (
	ReasonDuplicate           = "duplicate"
	ReasonNoPreviousReading   = "no_previous_reading"
	ReasonNoTariff            = "no_tariff"
	ReasonTariffMisconfigured = "tariff_misconfigured"
	ReasonNotWaterCustomer    = "not_water_customer"
	ReasonHouseholdNotFound   = "household_not_found"
	ReasonInvalidReading      = "invalid_reading"
	ReasonStoreFailure        = "store_failure"
)

// Outcome is what happened to one household in a generation run.
type Outcome struct {
	HouseholdID HouseholdID
	Kind        OutcomeKind
	Reason      string
	BillID      BillID
	Amount      Money
	Warnings    []string
	Err         error
}

// Skip builds a skipped outcome.
func Skip(householdID HouseholdID, reason string, err error) Outcome {
	return Outcome{HouseholdID: householdID, Kind: OutcomeSkipped, Reason: reason, Err: err}
}

// Fail builds an error outcome.
func Fail(householdID HouseholdID, err error) Outcome {
	return Outcome{HouseholdID: householdID, Kind: OutcomeError, Reason: ReasonFor(err), Err: err}
}

// ReasonFor maps an error to its reason code.
func ReasonFor(err error) string {
	switch {
	case errors.Is(err, ErrDuplicateBill):
		return ReasonDuplicate
	case errors.Is(err, ErrNoPreviousReading):
		return ReasonNoPreviousReading
	case errors.Is(err, ErrTariffNotFound):
		return ReasonNoTariff
	case errors.Is(err, ErrHouseholdNotFound):
		return ReasonHouseholdNotFound
	case errors.Is(err, ErrInvalidReading):
		return ReasonInvalidReading
	default:
		return ReasonStoreFailure
	}
}

// BatchResult collects the outcomes of a generation run.
type BatchResult struct {
	Kind     BillKind
	PeriodID PeriodID
	Outcomes []Outcome
}

func (r *BatchResult) Add(o Outcome) {
	r.Outcomes = append(r.Outcomes, o)
}

// Count returns how many outcomes have the given kind.
func (r BatchResult) Count(kind OutcomeKind) int {
	n := 0
	for _, o := range r.Outcomes {
		if o.Kind == kind {
			n++
		}
	}
	return n
}

// Total sums the amounts of generated bills.
func (r BatchResult) Total() Money {
	total := ZeroMoney()
	for _, o := range r.Outcomes {
		if o.Kind == OutcomeBill {
			total = total.Add(o.Amount)
		}
	}
	return total
}

// Err aggregates the error outcomes. Skips are not errors.
func (r BatchResult) Err() error {
	var result *multierror.Error
	for _, o := range r.Outcomes {
		if o.Kind != OutcomeError {
			continue
		}
		result = multierror.Append(result, fmt.Errorf("household %s: %w", o.HouseholdID, o.Err))
	}
	return result.ErrorOrNil()
}

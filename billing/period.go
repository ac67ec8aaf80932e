package billing

import (
	"context"
	"sort"
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// PERIOD - A billing cycle with an explicit order
// =============================================================================

// Period is a billing cycle, usually a calendar month.
// Sequence strictly orders periods: higher means more recent. Dates are
// informational and are not used for ordering.
type Period struct {
	ID       PeriodID
	Name     string
	Start    TimePoint
	End      TimePoint
	Sequence int
}

// Contains returns true if the time point is within the period [Start, End]
func (p Period) Contains(t TimePoint) bool {
	return t.AfterOrEqual(p.Start) && t.BeforeOrEqual(p.End)
}

func (p Period) Validate() error {
	if p.End.Before(p.Start) {
		return ErrInvalidPeriod
	}
	return nil
}

// MonthlyPeriod builds the period covering a calendar month.
func MonthlyPeriod(id PeriodID, name string, year int, month time.Month, sequence int) Period {
	return Period{
		ID:       id,
		Name:     name,
		Start:    StartOfMonth(year, month),
		End:      EndOfMonth(year, month),
		Sequence: sequence,
	}
}

// SortPeriodsDesc orders periods most recent first.
func SortPeriodsDesc(periods []Period) {
	sort.SliceStable(periods, func(i, j int) bool {
		return periods[i].Sequence > periods[j].Sequence
	})
}

// =============================================================================
// PERIOD INDEX - "What was the last reading before this period?"
// =============================================================================

// PriorReading is the reading found in the nearest earlier period that has
// a water bill for the household.
type PriorReading struct {
	PeriodID   PeriodID
	BillID     BillID
	Reading    decimal.Decimal
	ResidentID ResidentID
}

// PeriodIndex answers ordering questions about periods and the water
// readings recorded in them.
type PeriodIndex struct {
	Periods PeriodStore
	Bills   BillStore
}

func NewPeriodIndex(periods PeriodStore, bills BillStore) *PeriodIndex {
	return &PeriodIndex{Periods: periods, Bills: bills}
}

// Ordered returns all periods, most recent first.
func (pi *PeriodIndex) Ordered(ctx context.Context) ([]Period, error) {
	periods, err := pi.Periods.ListPeriods(ctx)
	if err != nil {
		return nil, err
	}
	SortPeriodsDesc(periods)
	return periods, nil
}

// Older returns the periods strictly older than periodID, nearest first.
func (pi *PeriodIndex) Older(ctx context.Context, periodID PeriodID) ([]Period, error) {
	periods, err := pi.Ordered(ctx)
	if err != nil {
		return nil, err
	}
	for i, p := range periods {
		if p.ID == periodID {
			return periods[i+1:], nil
		}
	}
	return nil, ErrPeriodNotFound
}

// PreviousReading walks back from periodID and returns the current reading
// of the first older period holding a water bill for the household.
//
// Returns ErrNoPreviousReading when no older period has one. Callers treat
// that as "first billing for this household", not as a failure.
func (pi *PeriodIndex) PreviousReading(ctx context.Context, householdID HouseholdID, periodID PeriodID) (PriorReading, error) {
	older, err := pi.Older(ctx, periodID)
	if err != nil {
		return PriorReading{}, err
	}
	if len(older) == 0 {
		return PriorReading{}, ErrNoPreviousReading
	}

	bills, err := pi.Bills.ListWaterBills(ctx, BillFilter{HouseholdID: householdID})
	if err != nil {
		return PriorReading{}, err
	}
	byPeriod := make(map[PeriodID]WaterBill, len(bills))
	for _, b := range bills {
		byPeriod[b.PeriodID] = b
	}

	for _, p := range older {
		if b, ok := byPeriod[p.ID]; ok {
			return PriorReading{
				PeriodID:   p.ID,
				BillID:     b.ID,
				Reading:    b.CurrentReading,
				ResidentID: b.ResidentID,
			}, nil
		}
	}
	return PriorReading{}, ErrNoPreviousReading
}

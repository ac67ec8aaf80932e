/*
Package water turns periodic meter readings into water billing records.

PURPOSE:
  A household's water bill is usage × the water rate in force on the first
  day of the period, where usage is the difference between this period's
  reading and the reading of the nearest earlier period that has one.

KEY CONCEPTS IN THIS FILE (meter.go):
  - AnomalyDetector: recognizes a replaced meter from a sharp drop
  - MeterReadingService: previous/last readings and usage computation

METER REPLACEMENT:
  A new meter starts near zero. When the reading falls by more than
  MaxDropRatio of the previous reading AND lands below ReplacementCeiling,
  usage for the period is the raw current reading.

    previous 1000, current 20  -> drop 98%, 20 < 100 -> usage 20 (replacement)
    previous 1000, current 900 -> drop 10%            -> usage clamped to 0

SEE ALSO:
  - generator.go: Water bill state machine
  - billing/period.go: PeriodIndex.PreviousReading
*/
package water

import (
	"context"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/warp/estate-ledger/billing"
)

// =============================================================================
// ANOMALY DETECTOR
// =============================================================================

type AnomalyDetector struct {
	// Relative drop (previous-current)/previous above which a replacement
	// is considered.
	MaxDropRatio decimal.Decimal

	// A replacement is only recognized if the new reading is below this.
	ReplacementCeiling decimal.Decimal
}

func DefaultAnomalyDetector() AnomalyDetector {
	return AnomalyDetector{
		MaxDropRatio:       decimal.RequireFromString("0.30"),
		ReplacementCeiling: decimal.NewFromInt(100),
	}
}

// Usage is the computed consumption for one period.
type Usage struct {
	Previous decimal.Decimal
	Current  decimal.Decimal
	Usage    decimal.Decimal

	// The meter was swapped; Usage is the raw current reading.
	MeterReplaced bool

	// Current was below Previous without looking like a swap; Usage is 0.
	Clamped bool

	Note string
}

// IsReplacement reports whether the drop from previous to current looks
// like a new meter.
func (d AnomalyDetector) IsReplacement(previous, current decimal.Decimal) bool {
	if !previous.IsPositive() || !current.LessThan(previous) {
		return false
	}
	drop := previous.Sub(current).Div(previous)
	return drop.GreaterThan(d.MaxDropRatio) && current.LessThan(d.ReplacementCeiling)
}

// Usage computes the consumption between two readings.
func (d AnomalyDetector) Usage(previous, current decimal.Decimal) Usage {
	u := Usage{Previous: previous, Current: current}
	switch {
	case d.IsReplacement(previous, current):
		u.Usage = current
		u.MeterReplaced = true
		u.Note = fmt.Sprintf("meter replaced: reading dropped from %s to %s, usage counted from zero", previous, current)
	case current.LessThan(previous):
		u.Usage = decimal.Zero
		u.Clamped = true
		u.Note = fmt.Sprintf("reading %s below previous %s, usage clamped to zero", current, previous)
	default:
		u.Usage = current.Sub(previous)
	}
	return u
}

// =============================================================================
// METER READING SERVICE
// =============================================================================

type MeterReadingService struct {
	Index    *billing.PeriodIndex
	Bills    billing.BillStore
	Detector AnomalyDetector
}

func NewMeterReadingService(index *billing.PeriodIndex, bills billing.BillStore, detector AnomalyDetector) *MeterReadingService {
	return &MeterReadingService{Index: index, Bills: bills, Detector: detector}
}

// PreviousReading returns the reading of the nearest earlier period with a
// water bill for the household, or billing.ErrNoPreviousReading.
func (s *MeterReadingService) PreviousReading(ctx context.Context, householdID billing.HouseholdID, periodID billing.PeriodID) (billing.PriorReading, error) {
	return s.Index.PreviousReading(ctx, householdID, periodID)
}

// LastReading returns the most recent reading recorded for the household,
// by period sequence, or billing.ErrNoPreviousReading.
func (s *MeterReadingService) LastReading(ctx context.Context, householdID billing.HouseholdID) (billing.PriorReading, error) {
	bills, err := s.Bills.ListWaterBills(ctx, billing.BillFilter{HouseholdID: householdID})
	if err != nil {
		return billing.PriorReading{}, err
	}
	if len(bills) == 0 {
		return billing.PriorReading{}, billing.ErrNoPreviousReading
	}
	periods, err := s.Index.Ordered(ctx)
	if err != nil {
		return billing.PriorReading{}, err
	}
	byPeriod := make(map[billing.PeriodID]billing.WaterBill, len(bills))
	for _, b := range bills {
		byPeriod[b.PeriodID] = b
	}
	for _, p := range periods {
		if b, ok := byPeriod[p.ID]; ok {
			return billing.PriorReading{PeriodID: p.ID, BillID: b.ID, Reading: b.CurrentReading, ResidentID: b.ResidentID}, nil
		}
	}
	return billing.PriorReading{}, billing.ErrNoPreviousReading
}

// ComputeUsage delegates to the anomaly detector.
func (s *MeterReadingService) ComputeUsage(previous, current decimal.Decimal) Usage {
	return s.Detector.Usage(previous, current)
}

// Preview is what a bulk-entry screen shows next to a reading being typed.
type Preview struct {
	HouseholdID billing.HouseholdID
	PeriodID    billing.PeriodID

	// Nil when the household has no earlier reading.
	Previous *billing.PriorReading
	Usage    Usage
}

// Preview resolves the previous reading for a household and period and,
// when current is given, the usage it would produce.
func (s *MeterReadingService) Preview(ctx context.Context, householdID billing.HouseholdID, periodID billing.PeriodID, current decimal.Decimal) (Preview, error) {
	pv := Preview{HouseholdID: householdID, PeriodID: periodID}
	prior, err := s.PreviousReading(ctx, householdID, periodID)
	switch {
	case errors.Is(err, billing.ErrNoPreviousReading):
		pv.Usage = Usage{Current: current, Usage: decimal.Zero}
		return pv, nil
	case err != nil:
		return Preview{}, err
	}
	pv.Previous = &prior
	pv.Usage = s.ComputeUsage(prior.Reading, current)
	return pv, nil
}

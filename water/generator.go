package water

import (
	"context"
	"errors"
	"strings"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/warp/estate-ledger/billing"
	"github.com/warp/estate-ledger/metrics"
)

// =============================================================================
// WATER BILL GENERATOR
// =============================================================================
//
// Per household per period:
//
//   1. A bill already exists for (household, period)  -> skipped (duplicate)
//   2. No water bill ever recorded, or Initiation set  -> baseline record,
//      amount 0, status paid; billing starts next period
//   3. History exists but no earlier period has a reading
//                                                      -> skipped (no_previous_reading)
//   4. Reading dropped like a new meter               -> bill on the raw reading,
//      annotated as a replacement
//   5. Otherwise                                       -> bill on current - previous
//
// Amount = usage × water rate in force on the period start date.
// Due date = bill date + DueDays.

// DefaultDueDays is the payment term of a generated bill.
const DefaultDueDays = 30

// Reading is one meter reading submitted for billing.
type Reading struct {
	HouseholdID billing.HouseholdID
	PeriodID    billing.PeriodID
	Current     decimal.Decimal

	// Zero means today.
	BillDate billing.TimePoint

	// Re-baseline a household that already has history, e.g. after a
	// meter swap that should not go through the replacement heuristic.
	Initiation bool

	Note string
}

type Generator struct {
	Store   billing.Store
	Meter   *MeterReadingService
	Tariffs *billing.TariffResolver
	DueDays int
	Now     func() billing.TimePoint
	NewID   func() string
	Logger  *zap.Logger
}

func NewGenerator(store billing.Store, tariffs *billing.TariffResolver, detector AnomalyDetector, logger *zap.Logger) *Generator {
	if logger == nil {
		logger = zap.NewNop()
	}
	index := billing.NewPeriodIndex(store, store)
	return &Generator{
		Store:   store,
		Meter:   NewMeterReadingService(index, store, detector),
		Tariffs: tariffs,
		DueDays: DefaultDueDays,
		Now:     billing.Today,
		NewID:   uuid.NewString,
		Logger:  logger.With(zap.String("generator", "water")),
	}
}

// GenerateBatch bills every reading for the period. A failing household
// never stops the run; its outcome carries the reason.
func (g *Generator) GenerateBatch(ctx context.Context, periodID billing.PeriodID, readings []Reading) billing.BatchResult {
	result := billing.BatchResult{Kind: billing.KindWater, PeriodID: periodID}
	for _, r := range readings {
		if r.PeriodID == "" {
			r.PeriodID = periodID
		}
		result.Add(g.Generate(ctx, r))
	}
	g.Logger.Info("water billing run finished",
		zap.String("period_id", string(periodID)),
		zap.Int("bills", result.Count(billing.OutcomeBill)),
		zap.Int("baselines", result.Count(billing.OutcomeBaseline)),
		zap.Int("skipped", result.Count(billing.OutcomeSkipped)),
		zap.Int("errors", result.Count(billing.OutcomeError)),
	)
	return result
}

// Generate bills a single reading.
func (g *Generator) Generate(ctx context.Context, r Reading) billing.Outcome {
	o := g.generate(ctx, r)
	metrics.ObserveBill(string(billing.KindWater), string(o.Kind))

	fields := []zap.Field{
		zap.String("household_id", string(r.HouseholdID)),
		zap.String("period_id", string(r.PeriodID)),
		zap.String("outcome", string(o.Kind)),
	}
	switch o.Kind {
	case billing.OutcomeError:
		g.Logger.Error("water bill failed", append(fields, zap.String("reason", o.Reason), zap.Error(o.Err))...)
	case billing.OutcomeSkipped:
		g.Logger.Info("water bill skipped", append(fields, zap.String("reason", o.Reason))...)
	default:
		g.Logger.Debug("water bill created", append(fields, zap.String("bill_id", string(o.BillID)))...)
	}
	return o
}

func (g *Generator) generate(ctx context.Context, r Reading) billing.Outcome {
	hid := r.HouseholdID
	if r.Current.IsNegative() {
		return billing.Fail(hid, billing.ErrInvalidReading)
	}

	period, err := g.Store.GetPeriod(ctx, r.PeriodID)
	if err != nil {
		return billing.Fail(hid, err)
	}

	existing, err := g.Store.ListWaterBills(ctx, billing.BillFilter{HouseholdID: hid, PeriodID: period.ID})
	if err != nil {
		return billing.Fail(hid, err)
	}
	if len(existing) > 0 {
		return billing.Skip(hid, billing.ReasonDuplicate, &billing.DuplicateBillError{
			Kind: billing.KindWater, HouseholdID: hid, PeriodID: period.ID, ExistingID: existing[0].ID,
		})
	}

	household, err := g.Store.GetHousehold(ctx, hid)
	if err != nil {
		return billing.Fail(hid, err)
	}
	if !household.WaterCustomer {
		return billing.Skip(hid, billing.ReasonNotWaterCustomer, nil)
	}

	history, err := g.Store.ListWaterBills(ctx, billing.BillFilter{HouseholdID: hid})
	if err != nil {
		return billing.Fail(hid, err)
	}

	billDate := r.BillDate
	if billDate.IsZero() {
		billDate = g.Now()
	}

	bill := billing.WaterBill{
		Charge:         billing.NewCharge(billing.KindWater, billing.ZeroMoney()),
		CurrentReading: r.Current,
		Rate:           billing.ZeroMoney(),
	}
	bill.ID = billing.BillID(g.NewID())
	bill.HouseholdID = hid
	bill.PeriodID = period.ID
	bill.ResidentID = attributeResident(household, history)
	bill.BillDate = billDate
	bill.DueDate = billDate.AddDays(g.dueDays())

	if len(history) == 0 || r.Initiation {
		bill.Classification = billing.ClassBaseline
		if len(history) > 0 {
			bill.Classification = billing.ClassInitial
		}
		bill.PreviousReading = r.Current
		bill.Usage = decimal.Zero
		bill.Note = joinNotes(r.Note, "initial reading, billing starts next period")
		return g.insert(ctx, bill, billing.OutcomeBaseline, nil)
	}

	prior, err := g.Meter.PreviousReading(ctx, hid, period.ID)
	if errors.Is(err, billing.ErrNoPreviousReading) {
		return billing.Skip(hid, billing.ReasonNoPreviousReading, err)
	}
	if err != nil {
		return billing.Fail(hid, err)
	}

	usage := g.Meter.ComputeUsage(prior.Reading, r.Current)

	res, err := g.Tariffs.Resolve(ctx, billing.TariffWater, period.Start)
	if errors.Is(err, billing.ErrTariffNotFound) {
		return billing.Skip(hid, billing.ReasonNoTariff, err)
	}
	if err != nil {
		return billing.Fail(hid, err)
	}

	amount := res.Tariff.Amount.Mul(usage.Usage).Round(2)
	bill.Nominal = amount
	bill.Charge = bill.Charge.Settle(billing.ZeroMoney())
	bill.PreviousReading = prior.Reading
	bill.Usage = usage.Usage
	bill.Rate = res.Tariff.Amount
	bill.TariffID = res.Tariff.ID
	bill.Classification = billing.ClassAutomatic
	bill.MeterReplaced = usage.MeterReplaced
	bill.Note = joinNotes(r.Note, usage.Note)

	var warnings []string
	if res.Fallback != billing.FallbackNone {
		warnings = append(warnings, "water tariff resolved by fallback: "+res.Fallback.String())
	}
	if usage.Clamped {
		warnings = append(warnings, usage.Note)
	}
	return g.insert(ctx, bill, billing.OutcomeBill, warnings)
}

func (g *Generator) insert(ctx context.Context, bill billing.WaterBill, kind billing.OutcomeKind, warnings []string) billing.Outcome {
	if err := g.Store.InsertWaterBill(ctx, bill); err != nil {
		if errors.Is(err, billing.ErrDuplicateBill) {
			return billing.Skip(bill.HouseholdID, billing.ReasonDuplicate, err)
		}
		return billing.Fail(bill.HouseholdID, err)
	}
	return billing.Outcome{
		HouseholdID: bill.HouseholdID,
		Kind:        kind,
		BillID:      bill.ID,
		Amount:      bill.Nominal,
		Warnings:    warnings,
	}
}

func (g *Generator) dueDays() int {
	if g.DueDays <= 0 {
		return DefaultDueDays
	}
	return g.DueDays
}

// attributeResident prefers the household's current resident and falls
// back to the latest resident on the household's own water history.
func attributeResident(h billing.Household, history []billing.WaterBill) billing.ResidentID {
	if h.ResidentID != "" {
		return h.ResidentID
	}
	latest := billing.TimePoint{}
	var resident billing.ResidentID
	for _, b := range history {
		if b.HouseholdID != h.ID || b.ResidentID == "" {
			continue
		}
		if resident == "" || b.BillDate.AfterOrEqual(latest) {
			latest = b.BillDate
			resident = b.ResidentID
		}
	}
	return resident
}

func joinNotes(notes ...string) string {
	var parts []string
	for _, n := range notes {
		if n = strings.TrimSpace(n); n != "" {
			parts = append(parts, n)
		}
	}
	return strings.Join(parts, "; ")
}

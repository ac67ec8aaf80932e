package ipl

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/warp/estate-ledger/billing"
	"github.com/warp/estate-ledger/metrics"
)

const DefaultDueDays = 30

// Run describes one flat-fee generation run.
type Run struct {
	PeriodID billing.PeriodID

	// Zero means today.
	BillDate billing.TimePoint

	// Empty means every household.
	HouseholdIDs []billing.HouseholdID
}

type Generator struct {
	Store    billing.Store
	Tariffs  *billing.TariffResolver
	Priority TierPriority

	// When false, a tier whose tariff only resolves to another tier's
	// tariff is skipped as misconfigured instead of billed.
	AllowCrossTierFallback bool

	DueDays int
	Now     func() billing.TimePoint
	NewID   func() string
	Logger  *zap.Logger
}

func NewGenerator(store billing.Store, tariffs *billing.TariffResolver, priority TierPriority, logger *zap.Logger) *Generator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Generator{
		Store:    store,
		Tariffs:  tariffs,
		Priority: priority,
		DueDays:  DefaultDueDays,
		Now:      billing.Today,
		NewID:    uuid.NewString,
		Logger:   logger.With(zap.String("generator", "ipl")),
	}
}

// tierTariff is a tier's resolution, computed once per run.
type tierTariff struct {
	res billing.Resolution
	err error
}

// Generate bills every selected household for the period. The returned
// error is reserved for failures that prevent the run from starting;
// per-household problems are reported in the outcomes.
func (g *Generator) Generate(ctx context.Context, run Run) (billing.BatchResult, error) {
	result := billing.BatchResult{Kind: billing.KindFlatFee, PeriodID: run.PeriodID}

	period, err := g.Store.GetPeriod(ctx, run.PeriodID)
	if err != nil {
		return result, err
	}

	households, missing, err := g.households(ctx, run.HouseholdIDs)
	if err != nil {
		return result, err
	}
	for _, id := range missing {
		result.Add(billing.Fail(id, billing.ErrHouseholdNotFound))
	}

	billDate := run.BillDate
	if billDate.IsZero() {
		billDate = g.Now()
	}

	resolved := make(map[billing.FeeTier]tierTariff)
	for _, h := range households {
		tier := Classify(h, g.Priority)
		tt, ok := resolved[tier]
		if !ok {
			tt.res, tt.err = g.Tariffs.ResolveAnyType(ctx, tier.TariffType(), period.Start)
			resolved[tier] = tt
		}
		o := g.generateOne(ctx, period, h, tier, tt, billDate)
		metrics.ObserveBill(string(billing.KindFlatFee), string(o.Kind))
		if o.Kind == billing.OutcomeError {
			g.Logger.Error("ipl bill failed",
				zap.String("household_id", string(h.ID)),
				zap.String("reason", o.Reason),
				zap.Error(o.Err),
			)
		} else if o.Kind == billing.OutcomeSkipped {
			g.Logger.Info("ipl bill skipped",
				zap.String("household_id", string(h.ID)),
				zap.String("reason", o.Reason),
			)
		}
		result.Add(o)
	}

	g.Logger.Info("ipl billing run finished",
		zap.String("period_id", string(period.ID)),
		zap.Int("bills", result.Count(billing.OutcomeBill)),
		zap.Int("skipped", result.Count(billing.OutcomeSkipped)),
		zap.Int("errors", result.Count(billing.OutcomeError)),
	)
	return result, nil
}

func (g *Generator) households(ctx context.Context, ids []billing.HouseholdID) ([]billing.Household, []billing.HouseholdID, error) {
	if len(ids) == 0 {
		all, err := g.Store.ListHouseholds(ctx)
		return all, nil, err
	}
	var (
		found   []billing.Household
		missing []billing.HouseholdID
	)
	for _, id := range ids {
		h, err := g.Store.GetHousehold(ctx, id)
		if errors.Is(err, billing.ErrHouseholdNotFound) {
			missing = append(missing, id)
			continue
		}
		if err != nil {
			return nil, nil, err
		}
		found = append(found, h)
	}
	return found, missing, nil
}

func (g *Generator) generateOne(ctx context.Context, period billing.Period, h billing.Household, tier billing.FeeTier, tt tierTariff, billDate billing.TimePoint) billing.Outcome {
	existing, err := g.Store.ListFeeBills(ctx, billing.BillFilter{HouseholdID: h.ID, PeriodID: period.ID})
	if err != nil {
		return billing.Fail(h.ID, err)
	}
	if len(existing) > 0 {
		return billing.Skip(h.ID, billing.ReasonDuplicate, &billing.DuplicateBillError{
			Kind: billing.KindFlatFee, HouseholdID: h.ID, PeriodID: period.ID, ExistingID: existing[0].ID,
		})
	}

	if tt.err != nil {
		if errors.Is(tt.err, billing.ErrTariffNotFound) {
			return billing.Skip(h.ID, billing.ReasonNoTariff, tt.err)
		}
		return billing.Fail(h.ID, tt.err)
	}

	var warnings []string
	switch tt.res.Fallback {
	case billing.FallbackAnyType:
		msg := fmt.Sprintf("no %s tariff; only %s tariff %s is active", tier.TariffType(), tt.res.Tariff.Type, tt.res.Tariff.ID)
		if !g.AllowCrossTierFallback {
			return billing.Skip(h.ID, billing.ReasonTariffMisconfigured, errors.New(msg))
		}
		warnings = append(warnings, msg)
	case billing.FallbackLatestOfType:
		warnings = append(warnings, "ipl tariff resolved by fallback: "+tt.res.Fallback.String())
	}

	bill := billing.FeeBill{
		Charge:   billing.NewCharge(billing.KindFlatFee, tt.res.Tariff.Amount),
		Tier:     tier,
		TariffID: tt.res.Tariff.ID,
	}
	bill.ID = billing.BillID(g.NewID())
	bill.HouseholdID = h.ID
	bill.PeriodID = period.ID
	bill.ResidentID = h.ResidentID
	bill.BillDate = billDate
	bill.DueDate = billDate.AddDays(g.dueDays())

	if err := g.Store.InsertFeeBill(ctx, bill); err != nil {
		if errors.Is(err, billing.ErrDuplicateBill) {
			return billing.Skip(h.ID, billing.ReasonDuplicate, err)
		}
		return billing.Fail(h.ID, err)
	}
	return billing.Outcome{
		HouseholdID: h.ID,
		Kind:        billing.OutcomeBill,
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

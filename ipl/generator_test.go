package ipl_test

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/estate-ledger/billing"
	"github.com/warp/estate-ledger/billing/store"
	"github.com/warp/estate-ledger/ipl"
)

const period = billing.PeriodID("2025-03")

func newGenerator(t *testing.T, tariffs ...billing.TariffType) (*store.Memory, *ipl.Generator) {
	t.Helper()
	ctx := context.Background()
	s := store.NewMemory()
	require.NoError(t, s.SavePeriod(ctx, billing.MonthlyPeriod(period, "March 2025", 2025, time.March, 3)))

	amounts := map[billing.TariffType]int64{
		billing.TariffIPLNormal:  150000,
		billing.TariffIPLVacant:  75000,
		billing.TariffIPLReduced: 50000,
	}
	for _, typ := range tariffs {
		require.NoError(t, s.SaveTariff(ctx, billing.Tariff{
			ID: billing.TariffID(typ), Type: typ, Amount: billing.NewMoneyFromInt(amounts[typ]),
			EffectiveFrom: billing.NewTimePoint(2025, time.January, 1), Active: true,
		}))
	}

	n := 0
	g := ipl.NewGenerator(s, billing.NewTariffResolver(s, nil), ipl.SpecialFirst, nil)
	g.NewID = func() string { n++; return fmt.Sprintf("f-%03d", n) }
	g.Now = func() billing.TimePoint { return billing.NewTimePoint(2025, time.March, 1) }
	return s, g
}

func household(t *testing.T, s *store.Memory, id billing.HouseholdID, occ billing.Occupancy, special bool) {
	t.Helper()
	require.NoError(t, s.SaveHousehold(context.Background(), billing.Household{
		ID: id, Label: string(id), Occupancy: occ, ResidentID: billing.ResidentID("res-" + id), SpecialCondition: special,
	}))
}

func TestGenerate_BillsEachTierAtItsTariff(t *testing.T) {
	// GIVEN: One household per tier and a tariff for each tier
	// WHEN: Generating the period
	// THEN: Each bill carries the tier's amount and the tier itself

	ctx := context.Background()
	s, g := newGenerator(t, billing.TariffIPLNormal, billing.TariffIPLVacant, billing.TariffIPLReduced)
	household(t, s, "A-1", billing.Occupied, false)
	household(t, s, "A-2", billing.Vacant, false)
	household(t, s, "A-3", billing.Occupied, true)

	result, err := g.Generate(ctx, ipl.Run{PeriodID: period})
	require.NoError(t, err)
	require.Equal(t, 3, result.Count(billing.OutcomeBill))
	assert.NoError(t, result.Err())

	want := map[billing.HouseholdID]struct {
		tier   billing.FeeTier
		amount string
	}{
		"A-1": {billing.TierNormal, "150000"},
		"A-2": {billing.TierVacant, "75000"},
		"A-3": {billing.TierReduced, "50000"},
	}
	bills, err := s.ListFeeBills(ctx, billing.BillFilter{PeriodID: period})
	require.NoError(t, err)
	require.Len(t, bills, 3)
	for _, b := range bills {
		w := want[b.HouseholdID]
		assert.Equal(t, w.tier, b.Tier, b.HouseholdID)
		assert.Equal(t, w.amount, b.Nominal.String(), b.HouseholdID)
		assert.Equal(t, billing.StatusUnpaid, b.Status)
		assert.Equal(t, billing.ResidentID("res-"+b.HouseholdID), b.ResidentID)
	}
	assert.Equal(t, "275000", result.Total().String())
}

func TestGenerate_IsIdempotent(t *testing.T) {
	ctx := context.Background()
	s, g := newGenerator(t, billing.TariffIPLNormal)
	household(t, s, "A-1", billing.Occupied, false)

	_, err := g.Generate(ctx, ipl.Run{PeriodID: period})
	require.NoError(t, err)
	again, err := g.Generate(ctx, ipl.Run{PeriodID: period})
	require.NoError(t, err)

	require.Len(t, again.Outcomes, 1)
	assert.Equal(t, billing.OutcomeSkipped, again.Outcomes[0].Kind)
	assert.Equal(t, billing.ReasonDuplicate, again.Outcomes[0].Reason)

	bills, err := s.ListFeeBills(ctx, billing.BillFilter{HouseholdID: "A-1"})
	require.NoError(t, err)
	assert.Len(t, bills, 1)
}

func TestGenerate_CrossTierFallbackIsSkippedByDefault(t *testing.T) {
	// GIVEN: A vacant household but only a normal-tier tariff
	// WHEN: Generating with the default settings
	// THEN: The vacant household is skipped as misconfigured, not billed at the normal rate

	ctx := context.Background()
	s, g := newGenerator(t, billing.TariffIPLNormal)
	household(t, s, "A-1", billing.Occupied, false)
	household(t, s, "A-2", billing.Vacant, false)

	result, err := g.Generate(ctx, ipl.Run{PeriodID: period})
	require.NoError(t, err)

	byHousehold := map[billing.HouseholdID]billing.Outcome{}
	for _, o := range result.Outcomes {
		byHousehold[o.HouseholdID] = o
	}
	assert.Equal(t, billing.OutcomeBill, byHousehold["A-1"].Kind)
	assert.Equal(t, billing.OutcomeSkipped, byHousehold["A-2"].Kind)
	assert.Equal(t, billing.ReasonTariffMisconfigured, byHousehold["A-2"].Reason)
}

func TestGenerate_CrossTierFallbackAllowed(t *testing.T) {
	ctx := context.Background()
	s, g := newGenerator(t, billing.TariffIPLNormal)
	g.AllowCrossTierFallback = true
	household(t, s, "A-2", billing.Vacant, false)

	result, err := g.Generate(ctx, ipl.Run{PeriodID: period})
	require.NoError(t, err)
	require.Len(t, result.Outcomes, 1)

	o := result.Outcomes[0]
	assert.Equal(t, billing.OutcomeBill, o.Kind)
	require.Len(t, o.Warnings, 1)

	bill, err := s.GetFeeBill(ctx, o.BillID)
	require.NoError(t, err)
	assert.Equal(t, billing.TierVacant, bill.Tier)
	assert.Equal(t, billing.TariffID(billing.TariffIPLNormal), bill.TariffID)
}

func TestGenerate_NoTariffAtAll(t *testing.T) {
	s, g := newGenerator(t)
	household(t, s, "A-1", billing.Occupied, false)

	result, err := g.Generate(context.Background(), ipl.Run{PeriodID: period})
	require.NoError(t, err)
	require.Len(t, result.Outcomes, 1)
	assert.Equal(t, billing.ReasonNoTariff, result.Outcomes[0].Reason)
}

func TestGenerate_SelectedHouseholds(t *testing.T) {
	ctx := context.Background()
	s, g := newGenerator(t, billing.TariffIPLNormal)
	household(t, s, "A-1", billing.Occupied, false)
	household(t, s, "A-2", billing.Occupied, false)

	result, err := g.Generate(ctx, ipl.Run{PeriodID: period, HouseholdIDs: []billing.HouseholdID{"A-2", "Z-9"}})
	require.NoError(t, err)

	require.Len(t, result.Outcomes, 2)
	assert.Equal(t, billing.OutcomeError, result.Outcomes[0].Kind)
	assert.Equal(t, billing.HouseholdID("Z-9"), result.Outcomes[0].HouseholdID)
	assert.Equal(t, billing.OutcomeBill, result.Outcomes[1].Kind)
	assert.Equal(t, billing.HouseholdID("A-2"), result.Outcomes[1].HouseholdID)
}

func TestGenerate_UnknownPeriod(t *testing.T) {
	_, g := newGenerator(t, billing.TariffIPLNormal)
	_, err := g.Generate(context.Background(), ipl.Run{PeriodID: "2030-01"})
	assert.ErrorIs(t, err, billing.ErrPeriodNotFound)
}

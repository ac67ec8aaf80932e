/*
scenarios_test.go - Unit tests for demo scenarios

PURPOSE:
	Tests that each scenario correctly sets up the expected state:
	- Water bills are generated from readings, including the meter swap
	- IPL bills carry the tier of each household
	- Payments are allocated oldest bill first
	- The books balance (or, for unbalanced-books, do not)

These tests double as integration tests of the whole engine on SQLite.
*/
package api

import (
	"context"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/estate-ledger/billing"
	"github.com/warp/estate-ledger/billing/store"
)

func waterBillFor(t *testing.T, h *Handler, hh billing.HouseholdID, period billing.PeriodID) billing.WaterBill {
	t.Helper()
	bills, err := h.Store.ListWaterBills(context.Background(), billing.BillFilter{HouseholdID: hh, PeriodID: period})
	require.NoError(t, err)
	require.Len(t, bills, 1, "water bill for %s in %s", hh, period)
	return bills[0]
}

func TestScenario_Neighborhood(t *testing.T) {
	// GIVEN: The neighborhood scenario
	// WHEN: Loading it
	// THEN: Bills, allocations and the books match the readings and payments

	h := setupTestHandler(t)
	ctx := context.Background()
	require.NoError(t, h.LoadScenarioByID(ctx, "neighborhood"))

	// December only establishes baselines.
	dec := waterBillFor(t, h, "A-1", "2024-12")
	assert.Equal(t, billing.ClassBaseline, dec.Classification)
	assert.True(t, dec.Nominal.IsZero())

	// C-2 starts in January, so January is its baseline.
	assert.Equal(t, billing.ClassBaseline, waterBillFor(t, h, "C-2", "2025-01").Classification)
	assert.Equal(t, "60000", waterBillFor(t, h, "C-2", "2025-02").Nominal.String())

	// B-2's meter was swapped in February: usage is the new reading.
	b2 := waterBillFor(t, h, "B-2", "2025-02")
	assert.True(t, b2.MeterReplaced)
	assert.Equal(t, "12", b2.Usage.String())
	assert.Equal(t, "60000", b2.Nominal.String())

	// A-1 paid 75,000: January (60,000) in full, 15,000 of February (40,000).
	jan := waterBillFor(t, h, "A-1", "2025-01")
	assert.Equal(t, billing.StatusPaid, jan.Status)
	feb := waterBillFor(t, h, "A-1", "2025-02")
	assert.Equal(t, billing.StatusPartial, feb.Status)
	assert.Equal(t, "25000", feb.Remaining.String())

	// Non-water households get no water bills.
	none, err := h.Store.ListWaterBills(ctx, billing.BillFilter{HouseholdID: "B-1"})
	require.NoError(t, err)
	assert.Empty(t, none)

	// Every household gets an IPL bill in January and February.
	fees, err := h.Store.ListFeeBills(ctx, billing.BillFilter{PeriodID: "2025-01"})
	require.NoError(t, err)
	require.Len(t, fees, 6)
	tiers := map[billing.HouseholdID]billing.FeeTier{}
	for _, f := range fees {
		tiers[f.HouseholdID] = f.Tier
	}
	assert.Equal(t, billing.TierNormal, tiers["A-1"])
	assert.Equal(t, billing.TierReduced, tiers["A-2"])
	assert.Equal(t, billing.TierVacant, tiers["B-1"])
	assert.Equal(t, billing.TierReduced, tiers["C-1"], "special condition wins over vacancy by default")

	// A-2 paid 200,000: both reduced IPL bills, then January water.
	summary, err := billing.SummarizePayment(ctx, h.Store, "pay-a2-mar")
	require.NoError(t, err)
	assert.Equal(t, "175000", summary.Allocated.String())
	assert.Equal(t, "25000", summary.Unallocated.String())
	categories := map[string]int{}
	for _, a := range summary.Allocations {
		categories[a.Category]++
	}
	assert.Equal(t, 2, categories[string(billing.TierReduced)])

	report, err := h.Reconciler.Reconcile(ctx, nil)
	require.NoError(t, err)
	assert.True(t, report.Consistent, "difference %s", report.Difference)
	assert.Equal(t, "9790000", report.AccountTotal.String())
	assert.Equal(t, "300000", report.EscrowTotal.String())

	// The revised water rate is prepared but not active.
	for _, typ := range []billing.TariffType{billing.TariffWater, billing.TariffIPLNormal, billing.TariffIPLVacant, billing.TariffIPLReduced} {
		active, err := h.Store.ListTariffs(ctx, billing.TariffFilter{Type: typ, ActiveOnly: true})
		require.NoError(t, err)
		assert.Len(t, active, 1, "active %s tariffs", typ)
	}
}

func TestScenario_UnbalancedBooks(t *testing.T) {
	h := setupTestHandler(t)
	ctx := context.Background()
	require.NoError(t, h.LoadScenarioByID(ctx, "unbalanced-books"))

	report, err := h.Reconciler.Reconcile(ctx, nil)
	require.NoError(t, err)
	assert.False(t, report.Consistent)
	assert.Equal(t, "30000", report.Discrepancy.String())
	assert.Equal(t, "-30000", report.Difference.String())
	assert.Equal(t, 1, report.UntaggedEntries)
}

func TestScenario_ReloadStartsFromScratch(t *testing.T) {
	h := setupTestHandler(t)
	ctx := context.Background()
	require.NoError(t, h.LoadScenarioByID(ctx, "neighborhood"))
	require.NoError(t, h.LoadScenarioByID(ctx, "neighborhood"))

	bills, err := h.Store.ListWaterBills(ctx, billing.BillFilter{HouseholdID: "A-1"})
	require.NoError(t, err)
	assert.Len(t, bills, 3)
}

func TestScenario_InMemoryStore(t *testing.T) {
	h := NewHandler(store.NewMemory(), DefaultOptions(), nil)
	require.NoError(t, h.LoadScenarioByID(context.Background(), "neighborhood"))

	report, err := h.Reconciler.Reconcile(context.Background(), nil)
	require.NoError(t, err)
	assert.True(t, report.Consistent)
}

func TestScenarioEndpoints(t *testing.T) {
	_, router := setupTestServer(t)

	rec := do(t, router, http.MethodGet, "/api/scenarios", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode[[]ScenarioDTO](t, rec), len(Scenarios()))

	rec = do(t, router, http.MethodPost, "/api/scenarios/load", LoadScenarioRequest{ScenarioID: "nope"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, router, http.MethodPost, "/api/scenarios/load", LoadScenarioRequest{ScenarioID: "neighborhood"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = do(t, router, http.MethodGet, "/api/scenarios/current", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "neighborhood", decode[ScenarioDTO](t, rec).ID)

	rec = do(t, router, http.MethodPost, "/api/scenarios/reset", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = do(t, router, http.MethodGet, "/api/households", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, decode[[]HouseholdDTO](t, rec))

	rec = do(t, router, http.MethodGet, "/api/scenarios/current", nil)
	assert.Equal(t, "null\n", rec.Body.String())
}

/*
scenarios.go - Demo scenario loaders for testing and demonstrations

PURPOSE:

	Provides pre-built scenarios that populate the store with a small
	neighborhood. Bills are not inserted directly: readings go through the
	water generator, the flat fee through the IPL generator and payments
	through the allocator, so a loaded scenario shows what the engine does.

AVAILABLE SCENARIOS:

	neighborhood:     Six units over three months, one meter swap, two
	                  allocated payments, balanced books
	unbalanced-books: Same neighborhood plus a cash outflow nobody tagged
	                  with a category, so reconciliation reports a gap

HOW SCENARIOS WORK:
 1. Reset the store (clear all data)
 2. Create periods, households and tariffs
 3. Generate water bills period by period (first period is the baseline)
 4. Generate IPL bills
 5. Record payments and allocate them
 6. Record accounts, categories and cash movements

USAGE VIA API:

	POST /api/scenarios/load
	{"scenario_id": "neighborhood"}

NOTE:

	Scenarios reset the store. Only use in development/demo environments.

SEE ALSO:
  - handlers.go: Engine wiring
  - cmd/server/main.go: seed command
*/
package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/warp/estate-ledger/billing"
	"github.com/warp/estate-ledger/ipl"
	"github.com/warp/estate-ledger/water"
)

// =============================================================================
// SCENARIO DEFINITIONS
// =============================================================================

var scenarios = []ScenarioDTO{
	{
		ID:          "neighborhood",
		Name:        "Neighborhood",
		Description: "Six units, three months of water and IPL billing, a meter swap, two allocated payments",
	},
	{
		ID:          "unbalanced-books",
		Name:        "Unbalanced Books",
		Description: "Neighborhood plus an untagged cash outflow that reconciliation flags",
	},
}

// Scenarios lists the scenario IDs LoadScenarioByID accepts.
func Scenarios() []ScenarioDTO {
	return scenarios
}

// ListScenarios returns available scenarios.
func (h *Handler) ListScenarios(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, scenarios)
}

// GetCurrentScenario returns the currently loaded scenario, if any.
func (h *Handler) GetCurrentScenario(w http.ResponseWriter, r *http.Request) {
	h.mu.Lock()
	current := h.currentScenario
	h.mu.Unlock()

	if current == "" {
		writeJSON(w, http.StatusOK, nil)
		return
	}
	for _, s := range scenarios {
		if s.ID == current {
			writeJSON(w, http.StatusOK, s)
			return
		}
	}
	writeJSON(w, http.StatusOK, ScenarioDTO{ID: current, Name: current, Description: "Currently loaded scenario"})
}

// LoadScenario loads a predefined scenario.
func (h *Handler) LoadScenario(w http.ResponseWriter, r *http.Request) {
	var req LoadScenarioRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if !knownScenario(req.ScenarioID) {
		writeError(w, http.StatusBadRequest, "unknown scenario", fmt.Errorf("%q", req.ScenarioID))
		return
	}
	if err := h.LoadScenarioByID(r.Context(), req.ScenarioID); err != nil {
		h.fail(w, "failed to load scenario", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "loaded", "scenario": req.ScenarioID})
}

// ResetDatabase removes every record.
func (h *Handler) ResetDatabase(w http.ResponseWriter, r *http.Request) {
	if err := h.reset(r.Context()); err != nil {
		h.fail(w, "failed to reset store", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "reset"})
}

// LoadScenarioByID resets the store and loads a scenario.
func (h *Handler) LoadScenarioByID(ctx context.Context, id string) error {
	if !knownScenario(id) {
		return fmt.Errorf("unknown scenario %q", id)
	}
	if err := h.reset(ctx); err != nil {
		return err
	}

	var err error
	switch id {
	case "neighborhood":
		err = h.loadNeighborhood(ctx)
	case "unbalanced-books":
		err = h.loadUnbalancedBooks(ctx)
	}
	if err != nil {
		return err
	}

	h.mu.Lock()
	h.currentScenario = id
	h.mu.Unlock()
	h.Logger.Info("scenario loaded", zap.String("scenario", id))
	return nil
}

func (h *Handler) reset(ctx context.Context) error {
	rs, ok := h.Store.(Resetter)
	if !ok {
		return billing.ErrStoreRequired
	}
	if err := rs.Reset(ctx); err != nil {
		return err
	}
	h.mu.Lock()
	h.currentScenario = ""
	h.mu.Unlock()
	return nil
}

func knownScenario(id string) bool {
	for _, s := range scenarios {
		if s.ID == id {
			return true
		}
	}
	return false
}

// =============================================================================
// SCENARIO LOADERS
// =============================================================================

// Meter readings per period, in billing order. The first period only
// establishes baselines.
var neighborhoodReadings = []struct {
	period   billing.PeriodID
	readings map[billing.HouseholdID]int64
}{
	{"2024-12", map[billing.HouseholdID]int64{"A-1": 100, "A-2": 200, "B-2": 950}},
	{"2025-01", map[billing.HouseholdID]int64{"A-1": 112, "A-2": 215, "B-2": 980, "C-2": 40}},
	// B-2 had its meter swapped: 980 -> 12.
	{"2025-02", map[billing.HouseholdID]int64{"A-1": 120, "A-2": 215, "B-2": 12, "C-2": 52}},
}

func (h *Handler) loadNeighborhood(ctx context.Context) error {
	if err := h.seedReferenceData(ctx); err != nil {
		return err
	}
	if err := h.seedBills(ctx); err != nil {
		return err
	}
	if err := h.seedPayments(ctx); err != nil {
		return err
	}
	return h.seedFinance(ctx)
}

func (h *Handler) loadUnbalancedBooks(ctx context.Context) error {
	if err := h.loadNeighborhood(ctx); err != nil {
		return err
	}
	// Paid out of petty cash without a category: the account view sees it,
	// the category view does not.
	return h.Store.SaveEntry(ctx, billing.Entry{
		ID:          "e-untagged",
		Date:        billing.NewTimePoint(2025, time.February, 20),
		Direction:   billing.Outflow,
		Amount:      billing.NewMoneyFromInt(30000),
		AccountID:   "cash",
		Description: "Gate lamp replacement",
	})
}

func (h *Handler) seedReferenceData(ctx context.Context) error {
	periods := []billing.Period{
		billing.MonthlyPeriod("2024-12", "December 2024", 2024, time.December, 1),
		billing.MonthlyPeriod("2025-01", "January 2025", 2025, time.January, 2),
		billing.MonthlyPeriod("2025-02", "February 2025", 2025, time.February, 3),
		billing.MonthlyPeriod("2025-03", "March 2025", 2025, time.March, 4),
	}
	for _, p := range periods {
		if err := h.Store.SavePeriod(ctx, p); err != nil {
			return fmt.Errorf("period %s: %w", p.ID, err)
		}
	}

	households := []billing.Household{
		{ID: "A-1", Label: "Block A No. 1", Occupancy: billing.Occupied, WaterCustomer: true, ResidentID: "res-a1"},
		{ID: "A-2", Label: "Block A No. 2", Occupancy: billing.Occupied, WaterCustomer: true, ResidentID: "res-a2", SpecialCondition: true},
		{ID: "B-1", Label: "Block B No. 1", Occupancy: billing.Vacant},
		{ID: "B-2", Label: "Block B No. 2", Occupancy: billing.Occupied, WaterCustomer: true, ResidentID: "res-b2"},
		{ID: "C-1", Label: "Block C No. 1", Occupancy: billing.Vacant, SpecialCondition: true},
		{ID: "C-2", Label: "Block C No. 2", Occupancy: billing.Occupied, WaterCustomer: true, ResidentID: "res-c2"},
	}
	for _, hh := range households {
		if err := h.Store.SaveHousehold(ctx, hh); err != nil {
			return fmt.Errorf("household %s: %w", hh.ID, err)
		}
	}

	from2024 := billing.NewTimePoint(2024, time.January, 1)
	tariffs := []billing.Tariff{
		{ID: "water-2024", Type: billing.TariffWater, Amount: billing.NewMoneyFromInt(5000), EffectiveFrom: from2024, Active: true, Description: "Per cubic meter"},
		{ID: "water-2025-03", Type: billing.TariffWater, Amount: billing.NewMoneyFromInt(5500), EffectiveFrom: billing.NewTimePoint(2025, time.March, 1), Description: "Per cubic meter, revised, not yet activated"},
		{ID: "ipl-normal-2024", Type: billing.TariffIPLNormal, Amount: billing.NewMoneyFromInt(150000), EffectiveFrom: from2024, Active: true},
		{ID: "ipl-vacant-2024", Type: billing.TariffIPLVacant, Amount: billing.NewMoneyFromInt(75000), EffectiveFrom: from2024, Active: true},
		{ID: "ipl-reduced-2024", Type: billing.TariffIPLReduced, Amount: billing.NewMoneyFromInt(50000), EffectiveFrom: from2024, Active: true},
	}
	for _, t := range tariffs {
		if _, err := h.Tariffs.Save(ctx, t); err != nil {
			return fmt.Errorf("tariff %s: %w", t.ID, err)
		}
	}
	return nil
}

func (h *Handler) seedBills(ctx context.Context) error {
	for _, step := range neighborhoodReadings {
		period, err := h.Store.GetPeriod(ctx, step.period)
		if err != nil {
			return err
		}
		readings := make([]water.Reading, 0, len(step.readings))
		for hh, value := range step.readings {
			readings = append(readings, water.Reading{
				HouseholdID: hh,
				PeriodID:    step.period,
				Current:     decimal.NewFromInt(value),
				BillDate:    period.End,
			})
		}
		if err := h.Water.GenerateBatch(ctx, step.period, readings).Err(); err != nil {
			return err
		}
	}

	for _, id := range []billing.PeriodID{"2025-01", "2025-02"} {
		period, err := h.Store.GetPeriod(ctx, id)
		if err != nil {
			return err
		}
		result, err := h.Fees.Generate(ctx, ipl.Run{PeriodID: id, BillDate: period.Start})
		if err != nil {
			return err
		}
		if err := result.Err(); err != nil {
			return err
		}
	}
	return nil
}

func (h *Handler) seedPayments(ctx context.Context) error {
	paidOn := billing.NewTimePoint(2025, time.March, 5)
	payments := []struct {
		payment billing.Payment
		kinds   []billing.BillKind
	}{
		{
			// Covers January water in full and part of February.
			payment: billing.Payment{ID: "pay-a1-mar", HouseholdID: "A-1", Amount: billing.NewMoneyFromInt(75000), ReceivedAt: paidOn, AccountID: "bank", Reference: "TRF 0305-A1"},
			kinds:   []billing.BillKind{billing.KindWater},
		},
		{
			// IPL first, then whatever is left goes to water.
			payment: billing.Payment{ID: "pay-a2-mar", HouseholdID: "A-2", Amount: billing.NewMoneyFromInt(200000), ReceivedAt: paidOn, AccountID: "bank", Reference: "TRF 0305-A2"},
			kinds:   []billing.BillKind{billing.KindFlatFee, billing.KindWater},
		},
	}
	for _, p := range payments {
		if err := h.Store.SavePayment(ctx, p.payment); err != nil {
			return err
		}
		for _, kind := range p.kinds {
			if _, err := h.Allocator.Allocate(ctx, billing.AllocationRequest{PaymentID: p.payment.ID, Kind: kind, At: paidOn}); err != nil {
				return fmt.Errorf("allocate %s to %s: %w", p.payment.ID, kind, err)
			}
		}
	}
	return nil
}

func (h *Handler) seedFinance(ctx context.Context) error {
	money := billing.NewMoneyFromInt
	day := func(month time.Month, d int) billing.TimePoint { return billing.NewTimePoint(2025, month, d) }

	for _, a := range []billing.Account{
		{ID: "bank", Name: "Estate bank account", StartingBalance: money(10000000)},
		{ID: "cash", Name: "Petty cash", StartingBalance: money(500000)},
	} {
		if err := h.Store.SaveAccount(ctx, a); err != nil {
			return err
		}
	}
	for _, c := range []billing.Category{
		{ID: "operations", Name: "Operations", StartingBalance: money(6000000)},
		{ID: "security", Name: "Security", StartingBalance: money(3000000)},
		{ID: "water", Name: "Water", StartingBalance: money(1500000)},
	} {
		if err := h.Store.SaveCategory(ctx, c); err != nil {
			return err
		}
	}
	for _, e := range []billing.Entry{
		{ID: "e-a1-water", Date: day(time.March, 5), Direction: billing.Inflow, Amount: money(75000), AccountID: "bank", CategoryID: "water", Description: "A-1 water payment"},
		{ID: "e-a2-ipl", Date: day(time.March, 5), Direction: billing.Inflow, Amount: money(200000), AccountID: "bank", CategoryID: "operations", Description: "A-2 payment"},
		{ID: "e-guard", Date: day(time.February, 28), Direction: billing.Outflow, Amount: money(1200000), AccountID: "bank", CategoryID: "security", Description: "Guard salaries February"},
		{ID: "e-pump", Date: day(time.February, 14), Direction: billing.Outflow, Amount: money(85000), AccountID: "cash", CategoryID: "water", Description: "Pump maintenance"},
	} {
		if err := h.Store.SaveEntry(ctx, e); err != nil {
			return err
		}
	}
	if err := h.Store.SaveTransfer(ctx, billing.Transfer{
		ID: "t-topup", Date: day(time.February, 1), From: "bank", To: "cash", Amount: money(250000), Note: "Petty cash top-up",
	}); err != nil {
		return err
	}
	return h.Store.SaveEscrowDeposit(ctx, billing.EscrowDeposit{
		ID: "d-b2", Date: day(time.January, 10), AccountID: "bank", ResidentID: "res-b2", Amount: money(300000), Note: "Renovation deposit",
	})
}

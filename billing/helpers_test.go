package billing_test

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/estate-ledger/billing"
	"github.com/warp/estate-ledger/billing/store"
)

// =============================================================================
// TEST HELPERS
// =============================================================================

func money(n int64) billing.Money {
	return billing.NewMoneyFromInt(n)
}

func date(year int, month time.Month, day int) billing.TimePoint {
	return billing.NewTimePoint(year, month, day)
}

func assertMoney(t *testing.T, want int64, got billing.Money, msgAndArgs ...any) {
	t.Helper()
	assert.Truef(t, got.Value.Equal(decimal.NewFromInt(want)), "expected %d, got %s %v", want, got, msgAndArgs)
}

func seedPeriods(t *testing.T, s *store.Memory, months ...time.Month) []billing.Period {
	t.Helper()
	var out []billing.Period
	for i, m := range months {
		p := billing.MonthlyPeriod(billing.PeriodID("2025-"+m.String()[:3]), m.String()+" 2025", 2025, m, i+1)
		require.NoError(t, s.SavePeriod(context.Background(), p))
		out = append(out, p)
	}
	return out
}

func seedHousehold(t *testing.T, s *store.Memory, id billing.HouseholdID) billing.Household {
	t.Helper()
	h := billing.Household{
		ID:            id,
		Label:         string(id),
		Occupancy:     billing.Occupied,
		WaterCustomer: true,
		ResidentID:    billing.ResidentID("res-" + string(id)),
	}
	require.NoError(t, s.SaveHousehold(context.Background(), h))
	return h
}

func waterBill(id billing.BillID, hh billing.HouseholdID, period billing.PeriodID, billDate billing.TimePoint, nominal int64, reading int64) billing.WaterBill {
	b := billing.WaterBill{
		Charge:         billing.NewCharge(billing.KindWater, money(nominal)),
		CurrentReading: decimal.NewFromInt(reading),
		Classification: billing.ClassAutomatic,
	}
	b.ID = id
	b.HouseholdID = hh
	b.PeriodID = period
	b.BillDate = billDate
	b.DueDate = billDate.AddDays(30)
	return b
}

func feeBill(id billing.BillID, hh billing.HouseholdID, period billing.PeriodID, billDate billing.TimePoint, nominal int64, tier billing.FeeTier) billing.FeeBill {
	b := billing.FeeBill{
		Charge: billing.NewCharge(billing.KindFlatFee, money(nominal)),
		Tier:   tier,
	}
	b.ID = id
	b.HouseholdID = hh
	b.PeriodID = period
	b.BillDate = billDate
	b.DueDate = billDate.AddDays(30)
	return b
}

package water_test

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/estate-ledger/billing"
	"github.com/warp/estate-ledger/billing/store"
	"github.com/warp/estate-ledger/water"
)

func d(n int64) decimal.Decimal { return decimal.NewFromInt(n) }

func TestAnomalyDetector_Usage(t *testing.T) {
	det := water.DefaultAnomalyDetector()

	tests := []struct {
		name     string
		previous int64
		current  int64
		usage    int64
		replaced bool
		clamped  bool
	}{
		{"normal consumption", 150, 170, 20, false, false},
		{"no consumption", 150, 150, 0, false, false},
		{"meter replaced", 1000, 20, 20, true, false},
		{"small drop is clamped", 1000, 900, 0, false, true},
		{"large drop above ceiling is clamped", 1000, 500, 0, false, true},
		{"replacement needs previous above zero", 0, 20, 20, false, false},
		{"new meter reading exactly at ceiling", 1000, 100, 0, false, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			u := det.Usage(d(tt.previous), d(tt.current))
			assert.True(t, u.Usage.Equal(d(tt.usage)), "usage: want %d, got %s", tt.usage, u.Usage)
			assert.Equal(t, tt.replaced, u.MeterReplaced)
			assert.Equal(t, tt.clamped, u.Clamped)
			if tt.replaced || tt.clamped {
				assert.NotEmpty(t, u.Note)
			}
		})
	}
}

func TestAnomalyDetector_Configurable(t *testing.T) {
	det := water.AnomalyDetector{
		MaxDropRatio:       decimal.RequireFromString("0.50"),
		ReplacementCeiling: d(600),
	}
	assert.True(t, det.IsReplacement(d(1000), d(400)))
	assert.False(t, det.IsReplacement(d(1000), d(700)))
}

func TestMeterReadingService_Preview(t *testing.T) {
	// GIVEN: A January reading of 150
	// WHEN: Previewing 175 for February
	// THEN: The previous reading and the resulting usage are shown

	ctx := context.Background()
	s := store.NewMemory()
	jan := billing.MonthlyPeriod("2025-01", "January 2025", 2025, time.January, 1)
	feb := billing.MonthlyPeriod("2025-02", "February 2025", 2025, time.February, 2)
	require.NoError(t, s.SavePeriod(ctx, jan))
	require.NoError(t, s.SavePeriod(ctx, feb))

	b := billing.WaterBill{Charge: billing.NewCharge(billing.KindWater, billing.ZeroMoney()), CurrentReading: d(150)}
	b.ID, b.HouseholdID, b.PeriodID = "w-1", "A-1", jan.ID
	b.BillDate = jan.End
	require.NoError(t, s.InsertWaterBill(ctx, b))

	svc := water.NewMeterReadingService(billing.NewPeriodIndex(s, s), s, water.DefaultAnomalyDetector())

	pv, err := svc.Preview(ctx, "A-1", feb.ID, d(175))
	require.NoError(t, err)
	require.NotNil(t, pv.Previous)
	assert.Equal(t, "150", pv.Previous.Reading.String())
	assert.Equal(t, "25", pv.Usage.Usage.String())

	// No history: no previous reading, no usage.
	pv, err = svc.Preview(ctx, "B-7", feb.ID, d(40))
	require.NoError(t, err)
	assert.Nil(t, pv.Previous)
	assert.True(t, pv.Usage.Usage.IsZero())

	last, err := svc.LastReading(ctx, "A-1")
	require.NoError(t, err)
	assert.Equal(t, jan.ID, last.PeriodID)

	_, err = svc.LastReading(ctx, "B-7")
	assert.ErrorIs(t, err, billing.ErrNoPreviousReading)
}

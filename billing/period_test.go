package billing_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/estate-ledger/billing"
	"github.com/warp/estate-ledger/billing/store"
)

func TestPeriodIndex_PreviousReading_SkipsPeriodsWithoutData(t *testing.T) {
	// GIVEN: Jan has a reading, Feb has none, Mar is being billed
	// WHEN: Asking for the previous reading of Mar
	// THEN: Jan's current reading is returned

	ctx := context.Background()
	s := store.NewMemory()
	periods := seedPeriods(t, s, time.January, time.February, time.March)
	seedHousehold(t, s, "A-1")

	require.NoError(t, s.InsertWaterBill(ctx, waterBill("b-jan", "A-1", periods[0].ID, date(2025, time.January, 31), 0, 150)))

	index := billing.NewPeriodIndex(s, s)
	prior, err := index.PreviousReading(ctx, "A-1", periods[2].ID)
	require.NoError(t, err)
	assert.Equal(t, periods[0].ID, prior.PeriodID)
	assert.Equal(t, "150", prior.Reading.String())
}

func TestPeriodIndex_PreviousReading_UsesNearestOlderPeriod(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemory()
	periods := seedPeriods(t, s, time.January, time.February, time.March)
	seedHousehold(t, s, "A-1")

	require.NoError(t, s.InsertWaterBill(ctx, waterBill("b-jan", "A-1", periods[0].ID, date(2025, time.January, 31), 0, 150)))
	require.NoError(t, s.InsertWaterBill(ctx, waterBill("b-feb", "A-1", periods[1].ID, date(2025, time.February, 28), 0, 170)))

	prior, err := billing.NewPeriodIndex(s, s).PreviousReading(ctx, "A-1", periods[2].ID)
	require.NoError(t, err)
	assert.Equal(t, billing.BillID("b-feb"), prior.BillID)
	assert.Equal(t, "170", prior.Reading.String())
}

func TestPeriodIndex_PreviousReading_IgnoresNewerPeriodsAndOtherHouseholds(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemory()
	periods := seedPeriods(t, s, time.January, time.February, time.March)
	seedHousehold(t, s, "A-1")
	seedHousehold(t, s, "A-2")

	// Newer period for the same household, older period for another one.
	require.NoError(t, s.InsertWaterBill(ctx, waterBill("b-mar", "A-1", periods[2].ID, date(2025, time.March, 31), 0, 200)))
	require.NoError(t, s.InsertWaterBill(ctx, waterBill("b-jan-2", "A-2", periods[0].ID, date(2025, time.January, 31), 0, 90)))

	_, err := billing.NewPeriodIndex(s, s).PreviousReading(ctx, "A-1", periods[1].ID)
	assert.ErrorIs(t, err, billing.ErrNoPreviousReading)
	assert.True(t, billing.IsNotFound(err))
}

func TestPeriodIndex_OrderIsBySequenceNotDate(t *testing.T) {
	// GIVEN: A period whose dates are earlier but whose sequence is higher
	ctx := context.Background()
	s := store.NewMemory()
	require.NoError(t, s.SavePeriod(ctx, billing.Period{ID: "late", Start: date(2024, time.January, 1), End: date(2024, time.January, 31), Sequence: 9}))
	require.NoError(t, s.SavePeriod(ctx, billing.Period{ID: "early", Start: date(2025, time.January, 1), End: date(2025, time.January, 31), Sequence: 1}))

	ordered, err := billing.NewPeriodIndex(s, s).Ordered(ctx)
	require.NoError(t, err)
	require.Len(t, ordered, 2)
	assert.Equal(t, billing.PeriodID("late"), ordered[0].ID)
}

func TestPeriodIndex_UnknownPeriod(t *testing.T) {
	s := store.NewMemory()
	seedPeriods(t, s, time.January)

	_, err := billing.NewPeriodIndex(s, s).PreviousReading(context.Background(), "A-1", "nope")
	assert.ErrorIs(t, err, billing.ErrPeriodNotFound)
}

func TestPeriod_Validate(t *testing.T) {
	p := billing.Period{ID: "bad", Start: date(2025, time.February, 1), End: date(2025, time.January, 1)}
	assert.ErrorIs(t, p.Validate(), billing.ErrInvalidPeriod)

	jan := billing.MonthlyPeriod("jan", "January", 2025, time.January, 1)
	assert.NoError(t, jan.Validate())
	assert.True(t, jan.Contains(date(2025, time.January, 31)))
	assert.False(t, jan.Contains(date(2025, time.February, 1)))
}

func TestMemorySavePeriod_RejectsDuplicateSequence(t *testing.T) {
	// GIVEN: January saved with sequence 1
	// WHEN: Saving another period with sequence 1
	// THEN: The save fails; re-saving January itself is still allowed

	ctx := context.Background()
	s := store.NewMemory()
	jan := billing.MonthlyPeriod("jan", "January", 2025, time.January, 1)
	require.NoError(t, s.SavePeriod(ctx, jan))

	err := s.SavePeriod(ctx, billing.MonthlyPeriod("feb", "February", 2025, time.February, 1))
	assert.ErrorIs(t, err, billing.ErrDuplicateSequence)
	assert.True(t, billing.IsClientError(err))

	jan.Name = "January 2025"
	require.NoError(t, s.SavePeriod(ctx, jan))

	periods, err := s.ListPeriods(ctx)
	require.NoError(t, err)
	require.Len(t, periods, 1)
	assert.Equal(t, "January 2025", periods[0].Name)
}

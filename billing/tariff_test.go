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

func saveTariff(t *testing.T, s *store.Memory, id billing.TariffID, typ billing.TariffType, amount int64, from billing.TimePoint, active bool) {
	t.Helper()
	require.NoError(t, s.SaveTariff(context.Background(), billing.Tariff{
		ID: id, Type: typ, Amount: money(amount), EffectiveFrom: from, Active: active,
	}))
}

func TestTariffResolver_PicksLatestEffectiveOnOrBeforeDate(t *testing.T) {
	// GIVEN: Water tariffs effective Jan 1 and Jun 1, plus an inactive newer one
	// WHEN: Resolving for March and for July
	// THEN: The Jan tariff prices March, the Jun tariff prices July

	ctx := context.Background()
	s := store.NewMemory()
	saveTariff(t, s, "w-jan", billing.TariffWater, 4000, date(2025, time.January, 1), true)
	saveTariff(t, s, "w-jun", billing.TariffWater, 5000, date(2025, time.June, 1), true)
	saveTariff(t, s, "w-off", billing.TariffWater, 9000, date(2025, time.February, 1), false)

	r := billing.NewTariffResolver(s, nil)

	res, err := r.Resolve(ctx, billing.TariffWater, date(2025, time.March, 1))
	require.NoError(t, err)
	assert.Equal(t, billing.TariffID("w-jan"), res.Tariff.ID)
	assert.Equal(t, billing.FallbackNone, res.Fallback)

	res, err = r.Resolve(ctx, billing.TariffWater, date(2025, time.July, 1))
	require.NoError(t, err)
	assert.Equal(t, billing.TariffID("w-jun"), res.Tariff.ID)

	// On the effective date itself.
	res, err = r.Resolve(ctx, billing.TariffWater, date(2025, time.June, 1))
	require.NoError(t, err)
	assert.Equal(t, billing.TariffID("w-jun"), res.Tariff.ID)
}

func TestTariffResolver_TiesAreDeterministic(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemory()
	saveTariff(t, s, "w-a", billing.TariffWater, 4000, date(2025, time.January, 1), true)
	saveTariff(t, s, "w-b", billing.TariffWater, 4500, date(2025, time.January, 1), true)

	r := billing.NewTariffResolver(s, nil)
	for i := 0; i < 10; i++ {
		res, err := r.Resolve(ctx, billing.TariffWater, date(2025, time.March, 1))
		require.NoError(t, err)
		assert.Equal(t, billing.TariffID("w-b"), res.Tariff.ID)
	}
}

func TestTariffResolver_FallsBackToLatestOfType(t *testing.T) {
	// GIVEN: Only a tariff that becomes effective after the billing date
	ctx := context.Background()
	s := store.NewMemory()
	saveTariff(t, s, "w-future", billing.TariffWater, 5000, date(2026, time.January, 1), true)

	res, err := billing.NewTariffResolver(s, nil).Resolve(ctx, billing.TariffWater, date(2025, time.March, 1))
	require.NoError(t, err)
	assert.Equal(t, billing.TariffID("w-future"), res.Tariff.ID)
	assert.Equal(t, billing.FallbackLatestOfType, res.Fallback)
}

func TestTariffResolver_NotFound(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemory()
	saveTariff(t, s, "ipl-n", billing.TariffIPLNormal, 150000, date(2025, time.January, 1), true)

	_, err := billing.NewTariffResolver(s, nil).Resolve(ctx, billing.TariffWater, date(2025, time.March, 1))
	assert.ErrorIs(t, err, billing.ErrTariffNotFound)

	var tnf *billing.TariffNotFoundError
	require.ErrorAs(t, err, &tnf)
	assert.Equal(t, billing.TariffWater, tnf.Type)
}

func TestTariffResolver_ResolveAnyType(t *testing.T) {
	// GIVEN: Only a normal IPL tariff exists
	// WHEN: Resolving the vacant tier
	// THEN: The normal tariff comes back, flagged as a cross-type fallback

	ctx := context.Background()
	s := store.NewMemory()
	saveTariff(t, s, "ipl-n", billing.TariffIPLNormal, 150000, date(2025, time.January, 1), true)

	r := billing.NewTariffResolver(s, nil)
	res, err := r.ResolveAnyType(ctx, billing.TariffIPLVacant, date(2025, time.March, 1))
	require.NoError(t, err)
	assert.Equal(t, billing.TariffID("ipl-n"), res.Tariff.ID)
	assert.Equal(t, billing.FallbackAnyType, res.Fallback)

	// Own type available: no cross-type fallback.
	saveTariff(t, s, "ipl-v", billing.TariffIPLVacant, 75000, date(2025, time.January, 1), true)
	res, err = r.ResolveAnyType(ctx, billing.TariffIPLVacant, date(2025, time.March, 1))
	require.NoError(t, err)
	assert.Equal(t, billing.TariffID("ipl-v"), res.Tariff.ID)
	assert.Equal(t, billing.FallbackNone, res.Fallback)
}

func TestTariffResolver_ResolveAnyType_NothingActive(t *testing.T) {
	s := store.NewMemory()
	_, err := billing.NewTariffResolver(s, nil).ResolveAnyType(context.Background(), billing.TariffIPLVacant, date(2025, time.March, 1))
	assert.ErrorIs(t, err, billing.ErrTariffNotFound)
}

func TestTariffResolver_ActivateDeactivatesSiblings(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemory()
	saveTariff(t, s, "w-1", billing.TariffWater, 4000, date(2025, time.January, 1), true)
	saveTariff(t, s, "w-2", billing.TariffWater, 4500, date(2025, time.February, 1), true)
	saveTariff(t, s, "w-3", billing.TariffWater, 5000, date(2025, time.March, 1), false)
	saveTariff(t, s, "ipl-n", billing.TariffIPLNormal, 150000, date(2025, time.January, 1), true)

	r := billing.NewTariffResolver(s, nil)
	activated, err := r.Activate(ctx, "w-3")
	require.NoError(t, err)
	assert.True(t, activated.Active)

	active, err := s.ListTariffs(ctx, billing.TariffFilter{Type: billing.TariffWater, ActiveOnly: true})
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, billing.TariffID("w-3"), active[0].ID)

	// Other types are untouched.
	ipl, err := s.GetTariff(ctx, "ipl-n")
	require.NoError(t, err)
	assert.True(t, ipl.Active)
}

func TestTariffResolver_ActivateUnknown(t *testing.T) {
	_, err := billing.NewTariffResolver(store.NewMemory(), nil).Activate(context.Background(), "nope")
	assert.ErrorIs(t, err, billing.ErrTariffNotFound)
}

func TestTariffResolver_SaveActiveKeepsOneActivePerType(t *testing.T) {
	// GIVEN: An active water tariff
	// WHEN: Saving another water tariff active, then an inactive draft
	// THEN: Exactly one water tariff is active, the last one saved active

	ctx := context.Background()
	s := store.NewMemory()
	r := billing.NewTariffResolver(s, nil)

	_, err := r.Save(ctx, billing.Tariff{ID: "w-1", Type: billing.TariffWater, Amount: money(4000), EffectiveFrom: date(2025, time.January, 1), Active: true})
	require.NoError(t, err)
	_, err = r.Save(ctx, billing.Tariff{ID: "w-2", Type: billing.TariffWater, Amount: money(4500), EffectiveFrom: date(2025, time.June, 1), Active: true})
	require.NoError(t, err)
	_, err = r.Save(ctx, billing.Tariff{ID: "w-draft", Type: billing.TariffWater, Amount: money(5000), EffectiveFrom: date(2026, time.January, 1)})
	require.NoError(t, err)

	active, err := s.ListTariffs(ctx, billing.TariffFilter{Type: billing.TariffWater, ActiveOnly: true})
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, billing.TariffID("w-2"), active[0].ID)

	// Re-saving the active tariff does not deactivate it.
	_, err = r.Save(ctx, active[0])
	require.NoError(t, err)
	got, err := s.GetTariff(ctx, "w-2")
	require.NoError(t, err)
	assert.True(t, got.Active)
}

func TestTariffResolver_SaveRejectsUnknownType(t *testing.T) {
	_, err := billing.NewTariffResolver(store.NewMemory(), nil).Save(context.Background(), billing.Tariff{ID: "x", Type: "gas"})
	assert.ErrorIs(t, err, billing.ErrInvalidTariff)
}

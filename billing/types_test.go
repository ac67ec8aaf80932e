package billing_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/warp/estate-ledger/billing"
)

func TestStatusFor(t *testing.T) {
	tests := []struct {
		name    string
		paid    int64
		nominal int64
		want    billing.BillStatus
	}{
		{"nothing paid", 0, 60000, billing.StatusUnpaid},
		{"part paid", 15000, 30000, billing.StatusPartial},
		{"fully paid", 30000, 30000, billing.StatusPaid},
		{"overpaid", 40000, 30000, billing.StatusPaid},
		{"zero amount bill", 0, 0, billing.StatusPaid},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, billing.StatusFor(money(tt.paid), money(tt.nominal)))
		})
	}
}

func TestCharge_SettleKeepsPaidPlusRemainingEqualToNominal(t *testing.T) {
	c := billing.NewCharge(billing.KindWater, money(60000))
	assert.Equal(t, billing.StatusUnpaid, c.Status)

	for _, paid := range []int64{0, 1, 25000, 59999, 60000} {
		s := c.Settle(money(paid))
		assertMoney(t, 60000, s.Paid.Add(s.Remaining), "paid", paid)
		assert.Equal(t, billing.StatusFor(s.Paid, s.Nominal), s.Status)
	}
}

func TestParseMoney(t *testing.T) {
	m, err := billing.ParseMoney("1250.50")
	assert.NoError(t, err)
	assert.Equal(t, "1250.5", m.String())

	_, err = billing.ParseMoney("abc")
	assert.ErrorIs(t, err, billing.ErrInvalidAmount)
}

func TestFeeTier_TariffType(t *testing.T) {
	assert.Equal(t, billing.TariffIPLNormal, billing.TierNormal.TariffType())
	assert.Equal(t, billing.TariffIPLVacant, billing.TierVacant.TariffType())
	assert.Equal(t, billing.TariffIPLReduced, billing.TierReduced.TariffType())
}

func TestBatchResult_ErrAggregatesOnlyErrors(t *testing.T) {
	var r billing.BatchResult
	r.Add(billing.Outcome{HouseholdID: "h1", Kind: billing.OutcomeBill, Amount: money(100)})
	r.Add(billing.Skip("h2", billing.ReasonDuplicate, billing.ErrDuplicateBill))
	assert.NoError(t, r.Err())

	r.Add(billing.Fail("h3", billing.ErrHouseholdNotFound))
	r.Add(billing.Fail("h4", billing.ErrTariffNotFound))

	err := r.Err()
	assert.Error(t, err)
	assert.ErrorIs(t, err, billing.ErrHouseholdNotFound)
	assert.Contains(t, err.Error(), "household h4")
	assert.Equal(t, 2, r.Count(billing.OutcomeError))
	assert.Equal(t, billing.ReasonHouseholdNotFound, r.Outcomes[2].Reason)
	assertMoney(t, 100, r.Total())
}

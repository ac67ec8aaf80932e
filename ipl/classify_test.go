package ipl_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/estate-ledger/billing"
	"github.com/warp/estate-ledger/ipl"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		name     string
		vacant   bool
		special  bool
		priority ipl.TierPriority
		want     billing.FeeTier
	}{
		{"occupied", false, false, ipl.SpecialFirst, billing.TierNormal},
		{"vacant", true, false, ipl.SpecialFirst, billing.TierVacant},
		{"special condition", false, true, ipl.SpecialFirst, billing.TierReduced},
		{"vacant and special, special first", true, true, ipl.SpecialFirst, billing.TierReduced},
		{"vacant and special, vacancy first", true, true, ipl.VacancyFirst, billing.TierVacant},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := billing.Household{ID: "A-1", Occupancy: billing.Occupied, SpecialCondition: tt.special}
			if tt.vacant {
				h.Occupancy = billing.Vacant
			}
			assert.Equal(t, tt.want, ipl.Classify(h, tt.priority))
		})
	}
}

func TestParseTierPriority(t *testing.T) {
	p, err := ipl.ParseTierPriority("")
	require.NoError(t, err)
	assert.Equal(t, ipl.SpecialFirst, p)

	p, err = ipl.ParseTierPriority("vacancy_first")
	require.NoError(t, err)
	assert.Equal(t, ipl.VacancyFirst, p)

	_, err = ipl.ParseTierPriority("random")
	assert.Error(t, err)
}

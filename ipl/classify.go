/*
Package ipl generates the flat monthly maintenance fee (IPL) bills.

PURPOSE:
  Every household pays one IPL bill per period. The amount is the flat
  amount of the tariff for the household's tier, in force on the first day
  of the period.

TIERS:
  normal   occupied unit, no special condition
  vacant   unit is vacant
  reduced  resident has the special-condition flag

  A vacant unit whose registered resident has the special-condition flag
  qualifies for two tiers. Which one wins is a product decision, so it is a
  setting (TierPriority). SpecialFirst is the historical behavior.

SEE ALSO:
  - generator.go: Flat-fee generation run
  - billing/tariff.go: ResolveAnyType
*/
package ipl

import (
	"fmt"

	"github.com/warp/estate-ledger/billing"
)

type TierPriority string

const (
	// SpecialFirst bills a vacant special-condition unit at the reduced tier.
	SpecialFirst TierPriority = "special_first"
	// VacancyFirst bills it at the vacant tier.
	VacancyFirst TierPriority = "vacancy_first"
)

func ParseTierPriority(s string) (TierPriority, error) {
	switch TierPriority(s) {
	case "", SpecialFirst:
		return SpecialFirst, nil
	case VacancyFirst:
		return VacancyFirst, nil
	}
	return "", fmt.Errorf("unknown ipl tier priority %q", s)
}

// Classify returns the fee tier of a household.
func Classify(h billing.Household, priority TierPriority) billing.FeeTier {
	vacant := h.Occupancy == billing.Vacant
	special := h.SpecialCondition

	switch {
	case vacant && special:
		if priority == VacancyFirst {
			return billing.TierVacant
		}
		return billing.TierReduced
	case special:
		return billing.TierReduced
	case vacant:
		return billing.TierVacant
	default:
		return billing.TierNormal
	}
}

/*
tariff.go - Versioned tariffs and the resolver that picks one for a date

PURPOSE:
  A tariff is a rate (water, per cubic meter) or a flat amount (IPL tiers)
  with an effective-from date and an active flag. Bills are priced with the
  tariff that was in force on the first day of their period.

RESOLUTION ORDER:
  1. Active tariff of the type with EffectiveFrom <= asOf, latest first
  2. Latest active tariff of the type, whatever its date
  3. (ResolveAnyType only) any active tariff, whatever its type

  Step 3 exists for the flat-fee generator. A resolution that reached it is
  a configuration error and is reported with FallbackAnyType so callers can
  surface it instead of silently billing with the wrong tier.

ACTIVATION:
  Activating a tariff, or saving one with Active set, deactivates every
  other tariff of the same type, so exactly one tariff per type is active
  afterwards. The updates run in one transaction when the store supports it.

SEE ALSO:
  - water/generator.go: Resolves TariffWater
  - ipl/generator.go: Resolves the tier tariff with ResolveAnyType
*/
package billing

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"go.uber.org/zap"
)

// =============================================================================
// TARIFF
// =============================================================================

type TariffType string

const (
	TariffWater      TariffType = "water"
	TariffIPLNormal  TariffType = "ipl_normal"
	TariffIPLVacant  TariffType = "ipl_vacant"
	TariffIPLReduced TariffType = "ipl_reduced"
)

func (t TariffType) Valid() bool {
	switch t {
	case TariffWater, TariffIPLNormal, TariffIPLVacant, TariffIPLReduced:
		return true
	}
	return false
}

type Tariff struct {
	ID            TariffID
	Type          TariffType
	Amount        Money // rate per unit for water, flat amount for IPL tiers
	EffectiveFrom TimePoint
	Active        bool
	Description   string
}

// SortTariffs orders tariffs by EffectiveFrom descending, ties by ID descending.
func SortTariffs(tariffs []Tariff) {
	sort.SliceStable(tariffs, func(i, j int) bool {
		if !tariffs[i].EffectiveFrom.Equal(tariffs[j].EffectiveFrom) {
			return tariffs[i].EffectiveFrom.After(tariffs[j].EffectiveFrom)
		}
		return tariffs[i].ID > tariffs[j].ID
	})
}

// =============================================================================
// RESOLVER
// =============================================================================

type Fallback int

const (
	FallbackNone         Fallback = iota // effective on or before the date
	FallbackLatestOfType                 // latest active of the type, date ignored
	FallbackAnyType                      // some active tariff of another type
)

func (f Fallback) String() string {
	switch f {
	case FallbackLatestOfType:
		return "latest_of_type"
	case FallbackAnyType:
		return "any_type"
	default:
		return "none"
	}
}

// Resolution is a resolved tariff and how far down the fallback chain the
// resolver had to go to find it.
type Resolution struct {
	Tariff   Tariff
	Fallback Fallback
}

type TariffResolver struct {
	Store  Store
	Logger *zap.Logger
}

func NewTariffResolver(store Store, logger *zap.Logger) *TariffResolver {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &TariffResolver{Store: store, Logger: logger}
}

// Resolve returns the tariff of the given type in force on asOf, falling
// back to the latest active tariff of the type.
func (r *TariffResolver) Resolve(ctx context.Context, typ TariffType, asOf TimePoint) (Resolution, error) {
	candidates, err := r.Store.ListTariffs(ctx, TariffFilter{Type: typ, ActiveOnly: true, EffectiveOnOrBefore: &asOf})
	if err != nil {
		return Resolution{}, err
	}
	if len(candidates) > 0 {
		SortTariffs(candidates)
		return Resolution{Tariff: candidates[0], Fallback: FallbackNone}, nil
	}

	latest, err := r.Store.ListTariffs(ctx, TariffFilter{Type: typ, ActiveOnly: true})
	if err != nil {
		return Resolution{}, err
	}
	if len(latest) > 0 {
		SortTariffs(latest)
		r.Logger.Warn("tariff not yet effective, using latest active",
			zap.String("type", string(typ)),
			zap.String("as_of", asOf.String()),
			zap.String("tariff_id", string(latest[0].ID)),
		)
		return Resolution{Tariff: latest[0], Fallback: FallbackLatestOfType}, nil
	}

	return Resolution{}, &TariffNotFoundError{Type: typ, AsOf: asOf}
}

// ResolveAnyType is Resolve plus the last-resort fallback to any active
// tariff. Only the flat-fee generator uses it.
func (r *TariffResolver) ResolveAnyType(ctx context.Context, typ TariffType, asOf TimePoint) (Resolution, error) {
	res, err := r.Resolve(ctx, typ, asOf)
	if err == nil || !errors.Is(err, ErrTariffNotFound) {
		return res, err
	}

	others, lerr := r.Store.ListTariffs(ctx, TariffFilter{ActiveOnly: true})
	if lerr != nil {
		return Resolution{}, lerr
	}
	if len(others) == 0 {
		return Resolution{}, err
	}
	SortTariffs(others)
	r.Logger.Error("no tariff of requested type, fell back to another type",
		zap.String("type", string(typ)),
		zap.String("as_of", asOf.String()),
		zap.String("tariff_id", string(others[0].ID)),
		zap.String("tariff_type", string(others[0].Type)),
	)
	return Resolution{Tariff: others[0], Fallback: FallbackAnyType}, nil
}

// Save stores a tariff. An active tariff becomes the only active tariff of
// its type.
func (r *TariffResolver) Save(ctx context.Context, t Tariff) (Tariff, error) {
	if !t.Type.Valid() {
		return Tariff{}, fmt.Errorf("%w: tariff type %q", ErrInvalidTariff, t.Type)
	}
	err := RunInTx(ctx, r.Store, func(s Store) error {
		if t.Active {
			if err := deactivateSiblings(ctx, s, t); err != nil {
				return err
			}
		}
		return s.SaveTariff(ctx, t)
	})
	if err != nil {
		return Tariff{}, err
	}
	if t.Active {
		r.Logger.Info("tariff saved as the active tariff of its type",
			zap.String("tariff_id", string(t.ID)),
			zap.String("type", string(t.Type)),
		)
	}
	return t, nil
}

// Activate marks the tariff active and deactivates every other tariff of
// the same type.
func (r *TariffResolver) Activate(ctx context.Context, id TariffID) (Tariff, error) {
	var activated Tariff
	err := RunInTx(ctx, r.Store, func(s Store) error {
		target, err := s.GetTariff(ctx, id)
		if err != nil {
			return err
		}
		if err := deactivateSiblings(ctx, s, target); err != nil {
			return err
		}
		target.Active = true
		if err := s.SaveTariff(ctx, target); err != nil {
			return err
		}
		activated = target
		return nil
	})
	if err != nil {
		return Tariff{}, err
	}
	r.Logger.Info("tariff activated",
		zap.String("tariff_id", string(activated.ID)),
		zap.String("type", string(activated.Type)),
	)
	return activated, nil
}

func deactivateSiblings(ctx context.Context, s Store, keep Tariff) error {
	siblings, err := s.ListTariffs(ctx, TariffFilter{Type: keep.Type, ActiveOnly: true})
	if err != nil {
		return err
	}
	for _, t := range siblings {
		if t.ID == keep.ID {
			continue
		}
		t.Active = false
		if err := s.SaveTariff(ctx, t); err != nil {
			return err
		}
	}
	return nil
}

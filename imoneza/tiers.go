package imoneza

import (
	"errors"
	"fmt"
	"sort"
)

// TierUnit multiplies a time tier into minutes.
type TierUnit int

const (
	TierMinutes TierUnit = 1
	TierHours   TierUnit = 60
	TierDays    TierUnit = 1440
)

// ParseTierUnit maps a unit name ("minutes", "hours", "days") to its
// multiplier. An empty name means minutes.
func ParseTierUnit(s string) (TierUnit, error) {
	switch s {
	case "", "minute", "minutes", "1":
		return TierMinutes, nil
	case "hour", "hours", "60":
		return TierHours, nil
	case "day", "days", "1440":
		return TierDays, nil
	}

	return 0, fmt.Errorf("unknown tier unit %q", s)
}

func (u TierUnit) String() string {
	switch u {
	case TierHours:
		return "hours"
	case TierDays:
		return "days"
	}

	return "minutes"
}

// TierInput is a tier as an operator enters it: a value in the chosen
// unit and a price.
type TierInput struct {
	Value int
	Unit  TierUnit
	Price float64
}

// ErrNoZeroTier is returned when a tier list lacks the mandatory zero
// tier.
var ErrNoZeroTier = errors.New("there must be one tier of 0 minutes or 0 views")

// NormalizeTiers converts operator tiers into the wire form. Time tiers
// are converted to minutes; view tiers ignore the unit. The result is
// sorted by threshold and must contain exactly one zero tier.
func NormalizeTiers(model PricingModel, inputs []TierInput) ([]PricingTier, error) {
	if !model.HasTiers() {
		return nil, fmt.Errorf("pricing model %s does not use tiers", model)
	}

	if len(inputs) == 0 {
		return nil, errors.New("you must have at least one tier")
	}

	tiers := make([]PricingTier, 0, len(inputs))
	seen := make(map[int]struct{}, len(inputs))

	for i, in := range inputs {
		if in.Value < 0 {
			return nil, fmt.Errorf("tier %d: value must not be negative", i+1)
		}

		if in.Price < 0 {
			return nil, fmt.Errorf("tier %d: price must not be negative", i+1)
		}

		threshold := in.Value

		if model == PricingTimeTiered {
			unit := in.Unit
			if unit == 0 {
				unit = TierMinutes
			}

			threshold = in.Value * int(unit)
		}

		if _, dup := seen[threshold]; dup {
			return nil, fmt.Errorf("tier %d: duplicate threshold %d", i+1, threshold)
		}

		seen[threshold] = struct{}{}
		tiers = append(tiers, PricingTier{Tier: threshold, Price: in.Price})
	}

	if _, ok := seen[0]; !ok {
		return nil, ErrNoZeroTier
	}

	sort.Slice(tiers, func(i, j int) bool { return tiers[i].Tier < tiers[j].Tier })

	return tiers, nil
}

// DisplayTier converts a stored threshold back into the largest whole
// unit for display. View tiers are returned unchanged in minutes units,
// which callers render as views.
func DisplayTier(model PricingModel, threshold int) (int, TierUnit) {
	if model != PricingTimeTiered || threshold <= 0 {
		return threshold, TierMinutes
	}

	if threshold%int(TierDays) == 0 {
		return threshold / int(TierDays), TierDays
	}

	if threshold%int(TierHours) == 0 {
		return threshold / int(TierHours), TierHours
	}

	return threshold, TierMinutes
}

package commission

import (
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/nkiryanov/affiliate/internal/models"
)

// Currency minor unit: amounts are kept with 2 decimal places
const MinorUnitPlaces = 2

var (
	DefaultLevel1Rate = decimal.RequireFromString("0.15")
	DefaultLevel2Rate = decimal.RequireFromString("0.05")
)

// Per-level commission rates
type RuleSet struct {
	rates map[int]decimal.Decimal
}

func NewRuleSet(level1Rate, level2Rate decimal.Decimal) (RuleSet, error) {
	for _, rate := range []decimal.Decimal{level1Rate, level2Rate} {
		if rate.IsNegative() || rate.GreaterThan(decimal.NewFromInt(1)) {
			return RuleSet{}, fmt.Errorf("commission rate must be within [0, 1], got %s", rate)
		}
	}

	return RuleSet{
		rates: map[int]decimal.Decimal{
			models.LevelDirect:   level1Rate,
			models.LevelIndirect: level2Rate,
		},
	}, nil
}

func DefaultRuleSet() RuleSet {
	rules, _ := NewRuleSet(DefaultLevel1Rate, DefaultLevel2Rate)
	return rules
}

// Commission earned at the level from the order total
// Rounded half-up to the currency minor unit. Unknown level earns nothing
func (r RuleSet) CommissionFor(orderTotal decimal.Decimal, level int) (decimal.Decimal, bool) {
	rate, ok := r.rates[level]
	if !ok {
		return decimal.Zero, false
	}

	return orderTotal.Mul(rate).Round(MinorUnitPlaces), true
}

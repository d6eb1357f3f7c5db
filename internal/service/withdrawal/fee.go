package withdrawal

import (
	"fmt"

	"github.com/shopspring/decimal"
)

const feePlaces = 2

var DefaultFeeRate = decimal.RequireFromString("0.02")

func validateFeeRate(rate decimal.Decimal) error {
	if rate.IsNegative() || rate.GreaterThanOrEqual(decimal.NewFromInt(1)) {
		return fmt.Errorf("fee rate %s must be in [0, 1)", rate)
	}
	return nil
}

// Split requested amount into fee and net amount
// Fee is rounded half-up to cents, net takes the remainder so fee + net == requested
func Split(requested decimal.Decimal, rate decimal.Decimal) (fee decimal.Decimal, net decimal.Decimal) {
	fee = requested.Mul(rate).Round(feePlaces)
	net = requested.Sub(fee)
	return fee, net
}

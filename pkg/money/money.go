// Package money keeps amounts in integer minor units and converts to decimal
// strings only at display boundaries.
package money

import (
	"fmt"

	"github.com/shopspring/decimal"
)

const minorUnitExp = 2

// ApplyRate returns round(cents * rate) to the nearest minor unit, halves away from zero.
func ApplyRate(cents int64, rate decimal.Decimal) int64 {
	return decimal.NewFromInt(cents).Mul(rate).Round(0).IntPart()
}

// ToDecimal converts minor units into a major-unit decimal (12345 -> 123.45).
func ToDecimal(cents int64) decimal.Decimal {
	return decimal.New(cents, -minorUnitExp)
}

// FromDecimal converts a major-unit decimal into minor units, rounding to the nearest unit.
func FromDecimal(amount decimal.Decimal) int64 {
	return amount.Shift(minorUnitExp).Round(0).IntPart()
}

// Format renders cents as "123.45 EGP".
func Format(cents int64, currency string) string {
	if currency == "" {
		return ToDecimal(cents).StringFixed(minorUnitExp)
	}
	return fmt.Sprintf("%s %s", ToDecimal(cents).StringFixed(minorUnitExp), currency)
}

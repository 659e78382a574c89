// Package money converts between provider subunit integers (paise, cents) and
// decimal currency amounts.
package money

import (
	"github.com/shopspring/decimal"
)

// SubunitExponent is the number of decimal places between the major currency
// unit and the subunit the gateway reports amounts in.
const SubunitExponent = 2

// FromSubunits turns a provider amount such as 150000 into 1500.00.
func FromSubunits(amount int64) decimal.Decimal {
	return decimal.New(amount, -SubunitExponent)
}

// FromSubunitsPtr is FromSubunits for optional provider fields (fee, tax).
func FromSubunitsPtr(amount *int64) *decimal.Decimal {
	if amount == nil {
		return nil
	}
	d := FromSubunits(*amount)
	return &d
}

// ToSubunits is the inverse of FromSubunits. Values with more precision than
// the subunit allows are rounded half away from zero.
func ToSubunits(amount decimal.Decimal) int64 {
	return amount.Shift(SubunitExponent).Round(0).IntPart()
}

// Display renders an amount with exactly two decimal places.
func Display(amount decimal.Decimal) string {
	return amount.StringFixed(SubunitExponent)
}

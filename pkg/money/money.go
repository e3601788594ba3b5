// Package money holds the two-decimal currency helpers shared by every
// settlement path. Amounts are shopspring decimals rounded half away from zero.
package money

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

const Places = 2

// Round rounds to cents.
func Round(d decimal.Decimal) decimal.Decimal {
	return d.Round(Places)
}

// Add sums and rounds at each step.
func Add(values ...decimal.Decimal) decimal.Decimal {
	total := decimal.Zero
	for _, v := range values {
		total = Round(total.Add(Round(v)))
	}
	return total
}

// LineTotal multiplies a unit price by a quantity and rounds.
func LineTotal(unitPrice decimal.Decimal, qty int) decimal.Decimal {
	return Round(unitPrice.Mul(decimal.NewFromInt(int64(qty))))
}

// Equal compares two amounts at cent precision.
func Equal(a, b decimal.Decimal) bool {
	return Round(a).Equal(Round(b))
}

// ToCents converts to minor units for providers that bill in integers.
func ToCents(d decimal.Decimal) int64 {
	return Round(d).Shift(Places).IntPart()
}

// FromCents converts minor units back to a two-decimal amount.
func FromCents(cents int64) decimal.Decimal {
	return decimal.NewFromInt(cents).Shift(-Places)
}

// Parse reads a provider supplied amount string such as "21.50".
func Parse(raw string) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(strings.TrimSpace(raw))
	if err != nil {
		return decimal.Zero, fmt.Errorf("parse amount %q: %w", raw, err)
	}
	return d, nil
}

// Format renders an amount with exactly two decimals.
func Format(d decimal.Decimal) string {
	return Round(d).StringFixed(Places)
}

package fees

import (
	"github.com/shopspring/decimal"

	"github.com/angelmondragon/settlement-engine/pkg/enums"
	"github.com/angelmondragon/settlement-engine/pkg/money"
)

// Calculator derives delivery fees and order totals. It holds no state beyond
// the configured flat fee.
type Calculator struct {
	flatFee decimal.Decimal
}

func NewCalculator(flatFee decimal.Decimal) Calculator {
	return Calculator{flatFee: money.Round(flatFee)}
}

// Fee returns 0 for pickup, 0 for waived or free-delivery shoppers, otherwise
// the flat fee.
func (c Calculator) Fee(freeDelivery bool, method enums.DeliveryMethod, waived bool) decimal.Decimal {
	if method != enums.DeliveryMethodDelivery {
		return decimal.Zero
	}
	if waived || freeDelivery {
		return decimal.Zero
	}
	return c.flatFee
}

// Line is the minimal priced unit a total is computed from.
type Line struct {
	UnitPrice decimal.Decimal
	Quantity  int
}

// ItemsTotal sums price x qty across lines, rounding every step.
func ItemsTotal(lines []Line) decimal.Decimal {
	total := decimal.Zero
	for _, line := range lines {
		total = money.Add(total, money.LineTotal(line.UnitPrice, line.Quantity))
	}
	return total
}

// Total adds the delivery fee to the items total.
func Total(itemsTotal, fee decimal.Decimal) decimal.Decimal {
	return money.Add(itemsTotal, fee)
}

// Package pricing computes cart totals. All money stays in decimal form
// until the final rounding step so repeated percentage discounts cannot
// accumulate float drift.
package pricing

import (
	"github.com/shopspring/decimal"

	"belezapos/backend/internal/domain"
)

var oneHundred = decimal.NewFromInt(100)

// Totals is the priced view of a cart at one point in time.
type Totals struct {
	Subtotal       decimal.Decimal
	DiscountAmount decimal.Decimal
	Total          decimal.Decimal
}

// ComputeTotals prices the given lines under the given discount.
//
// The subtotal is the exact sum of quantity * unit price per line. A
// percentage discount is subtotal * value / 100 rounded half up at the
// tenant's minor unit; an absolute discount is taken as-is. The effective
// discount is clamped to [0, subtotal] so the total can never go negative
// and a discount can never exceed what is being bought. The final total is
// rounded at the minor unit.
func ComputeTotals(lines []domain.CartLine, discount domain.Discount, minorUnit int32) Totals {
	subtotal := decimal.Zero
	for _, line := range lines {
		subtotal = subtotal.Add(line.UnitPrice.Mul(decimal.NewFromInt(int64(line.Quantity))))
	}

	var discountAmount decimal.Decimal
	switch discount.Mode {
	case domain.DiscountPercentage:
		discountAmount = subtotal.Mul(discount.Value).Div(oneHundred).Round(minorUnit)
	case domain.DiscountAbsolute:
		discountAmount = discount.Value.Round(minorUnit)
	default:
		discountAmount = decimal.Zero
	}

	if discountAmount.IsNegative() {
		discountAmount = decimal.Zero
	}
	if discountAmount.GreaterThan(subtotal) {
		discountAmount = subtotal
	}

	total := subtotal.Sub(discountAmount).Round(minorUnit)

	return Totals{
		Subtotal:       subtotal,
		DiscountAmount: discountAmount,
		Total:          total,
	}
}

// LineTotal is the exact extended price of a single line.
func LineTotal(line domain.CartLine) decimal.Decimal {
	return line.UnitPrice.Mul(decimal.NewFromInt(int64(line.Quantity)))
}

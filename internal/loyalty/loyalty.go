// Package loyalty computes the points and cashback a finished sale earns.
package loyalty

import (
	"github.com/shopspring/decimal"

	"belezapos/backend/internal/domain"
)

var oneHundred = decimal.NewFromInt(100)

// Accrual is the loyalty earning of one sale.
type Accrual struct {
	Points   int64
	Cashback decimal.Decimal
}

// ComputeAccrual derives the loyalty earning from a sale's post-discount
// total. Sales below the tenant's minimum eligible amount earn nothing.
// Points are the whole number of currency-per-point units in the total
// (fractional remainders are dropped, never rounded up). Cashback is the
// configured percentage of the total, rounded half up at the minor unit.
func ComputeAccrual(total decimal.Decimal, rules domain.LoyaltyRules, minorUnit int32) Accrual {
	if total.LessThan(rules.MinimumEligibleAmount) {
		return Accrual{Points: 0, Cashback: decimal.Zero}
	}

	var points int64
	if rules.CurrencyPerPoint.IsPositive() {
		points = total.Div(rules.CurrencyPerPoint).IntPart()
	}

	cashback := total.Mul(rules.CashbackPercent).Div(oneHundred).Round(minorUnit)
	if cashback.IsNegative() {
		cashback = decimal.Zero
	}

	return Accrual{Points: points, Cashback: cashback}
}

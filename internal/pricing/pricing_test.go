package pricing

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"belezapos/backend/internal/domain"
)

func dec(t *testing.T, s string) decimal.Decimal {
	t.Helper()
	d, err := decimal.NewFromString(s)
	require.NoError(t, err)
	return d
}

func TestComputeTotalsPercentageDiscount(t *testing.T) {
	lines := []domain.CartLine{
		{ItemID: "svc-corte", Kind: domain.KindService, Quantity: 1, UnitPrice: dec(t, "80.00")},
		{ItemID: "prd-shampoo", Kind: domain.KindProduct, Quantity: 2, UnitPrice: dec(t, "50.00")},
	}
	discount := domain.Discount{Mode: domain.DiscountPercentage, Value: dec(t, "10")}

	got := ComputeTotals(lines, discount, 2)

	assert.True(t, got.Subtotal.Equal(dec(t, "180.00")), "subtotal = %s", got.Subtotal)
	assert.True(t, got.DiscountAmount.Equal(dec(t, "18.00")), "discount = %s", got.DiscountAmount)
	assert.True(t, got.Total.Equal(dec(t, "162.00")), "total = %s", got.Total)
}

func TestComputeTotalsPercentageRoundsHalfUp(t *testing.T) {
	lines := []domain.CartLine{
		{ItemID: "prd-x", Kind: domain.KindProduct, Quantity: 1, UnitPrice: dec(t, "33.33")},
	}
	discount := domain.Discount{Mode: domain.DiscountPercentage, Value: dec(t, "15")}

	got := ComputeTotals(lines, discount, 2)

	// 33.33 * 0.15 = 4.9995, rounds to 5.00 rather than truncating to 4.99.
	assert.True(t, got.DiscountAmount.Equal(dec(t, "5.00")), "discount = %s", got.DiscountAmount)
	assert.True(t, got.Total.Equal(dec(t, "28.33")), "total = %s", got.Total)
}

func TestComputeTotalsRepeatedPercentagesNoDrift(t *testing.T) {
	lines := []domain.CartLine{
		{ItemID: "prd-x", Kind: domain.KindProduct, Quantity: 3, UnitPrice: dec(t, "19.99")},
	}
	discount := domain.Discount{Mode: domain.DiscountPercentage, Value: dec(t, "7.5")}

	first := ComputeTotals(lines, discount, 2)
	for i := 0; i < 1000; i++ {
		again := ComputeTotals(lines, discount, 2)
		require.True(t, again.Total.Equal(first.Total), "iteration %d drifted: %s", i, again.Total)
	}
}

func TestComputeTotalsAbsoluteDiscountClamped(t *testing.T) {
	lines := []domain.CartLine{
		{ItemID: "prd-x", Kind: domain.KindProduct, Quantity: 1, UnitPrice: dec(t, "40.00")},
	}

	over := ComputeTotals(lines, domain.Discount{Mode: domain.DiscountAbsolute, Value: dec(t, "55.00")}, 2)
	assert.True(t, over.DiscountAmount.Equal(dec(t, "40.00")), "discount should clamp to subtotal, got %s", over.DiscountAmount)
	assert.True(t, over.Total.IsZero(), "total = %s", over.Total)

	negative := ComputeTotals(lines, domain.Discount{Mode: domain.DiscountAbsolute, Value: dec(t, "-5.00")}, 2)
	assert.True(t, negative.DiscountAmount.IsZero(), "negative discount should clamp to zero, got %s", negative.DiscountAmount)
	assert.True(t, negative.Total.Equal(dec(t, "40.00")), "total = %s", negative.Total)
}

func TestComputeTotalsEmptyCart(t *testing.T) {
	got := ComputeTotals(nil, domain.Discount{Mode: domain.DiscountPercentage, Value: dec(t, "50")}, 2)

	assert.True(t, got.Subtotal.IsZero())
	assert.True(t, got.DiscountAmount.IsZero())
	assert.True(t, got.Total.IsZero())
}

func TestLineTotal(t *testing.T) {
	line := domain.CartLine{Quantity: 4, UnitPrice: dec(t, "12.25")}
	assert.True(t, LineTotal(line).Equal(dec(t, "49.00")))
}

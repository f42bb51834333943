package tax_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dukerupert/checkout-embed/internal/domain"
	"github.com/dukerupert/checkout-embed/internal/tax"
)

// Subtotal $25 (2500 cents) + Shipping $5 (500 cents) * 8% (0.08) = $2.40 (240 cents)
func Test_PercentageCalculator_BasicExample(t *testing.T) {
	calc := tax.NewPercentageCalculator(0.08)

	params := tax.TaxParams{
		LineItems: []tax.LineItem{
			{
				ProductID:   "prod_1",
				Description: "Test Product",
				Quantity:    1,
				UnitPrice:   2500,
				TotalPrice:  2500,
				TaxCategory: "general_merchandise",
			},
		},
		ShippingCents: 500,
	}

	result, err := calc.CalculateTax(context.Background(), params)

	require.NoError(t, err)
	assert.Equal(t, int64(240), result.TotalTaxCents, "(2500 + 500) * 0.08 = 240 cents")
	require.Len(t, result.Breakdown, 1, "Should have exactly one breakdown entry")
	assert.Equal(t, "state", result.Breakdown[0].Jurisdiction)
	assert.Equal(t, "Default Sales Tax", result.Breakdown[0].Name)
	assert.Equal(t, 0.08, result.Breakdown[0].Rate)
	assert.Equal(t, int64(240), result.Breakdown[0].AmountCents)
	assert.Empty(t, result.ProviderTxID, "No external provider for percentage calculator")
	assert.False(t, result.IsEstimate, "Percentage calculator provides exact amounts")
}

func Test_PercentageCalculator_DifferentTaxRates(t *testing.T) {
	tests := []struct {
		name        string
		rate        float64
		subtotal    int64
		shipping    int64
		discount    int64
		expectedTax int64
		explanation string
	}{
		{
			name:        "zero percent rate",
			rate:        0.0,
			subtotal:    10000,
			shipping:    500,
			expectedTax: 0,
			explanation: "(10000 + 500) * 0.00 = 0",
		},
		{
			name:        "five percent rate",
			rate:        0.05,
			subtotal:    10000,
			expectedTax: 500,
			explanation: "10000 * 0.05 = 500",
		},
		{
			name:        "twenty one percent rate",
			rate:        0.21,
			subtotal:    5000,
			shipping:    1000,
			expectedTax: 1260,
			explanation: "(5000 + 1000) * 0.21 = 1260",
		},
		{
			name:        "rounds half away from zero",
			rate:        0.05,
			subtotal:    1010,
			expectedTax: 51,
			explanation: "1010 * 0.05 = 50.5 -> 51",
		},
		{
			name:        "discount reduces taxable base",
			rate:        0.10,
			subtotal:    10000,
			shipping:    500,
			discount:    2000,
			expectedTax: 850,
			explanation: "(10000 + 500 - 2000) * 0.10 = 850",
		},
		{
			name:        "discount larger than base yields zero",
			rate:        0.10,
			subtotal:    1000,
			discount:    5000,
			expectedTax: 0,
			explanation: "base clamps at zero",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			calc := tax.NewPercentageCalculator(tt.rate)
			result, err := calc.CalculateTax(context.Background(), tax.TaxParams{
				LineItems:     []tax.LineItem{{ProductID: "prod_1", Quantity: 1, UnitPrice: tt.subtotal, TotalPrice: tt.subtotal}},
				ShippingCents: tt.shipping,
				DiscountCents: tt.discount,
			})
			require.NoError(t, err)
			assert.Equal(t, tt.expectedTax, result.TotalTaxCents, tt.explanation)
		})
	}
}

func Test_PercentageCalculator_InvalidInput(t *testing.T) {
	ctx := context.Background()

	_, err := tax.NewPercentageCalculator(1.5).CalculateTax(ctx, tax.TaxParams{})
	assert.ErrorIs(t, err, tax.ErrInvalidTaxRate)

	_, err = tax.NewPercentageCalculator(0.1).CalculateTax(ctx, tax.TaxParams{ShippingCents: -1})
	assert.ErrorIs(t, err, tax.ErrNegativeAmount)

	assert.Equal(t, domain.EINVALID, domain.ErrorCode(err))
}

func Test_PercentageCalculator_MultipleLineItems(t *testing.T) {
	calc := tax.NewPercentageCalculator(0.10)

	result, err := calc.CalculateTax(context.Background(), tax.TaxParams{
		LineItems: []tax.LineItem{
			{ProductID: "a", Quantity: 2, UnitPrice: 1500, TotalPrice: 3000},
			{ProductID: "b", Quantity: 1, UnitPrice: 2000, TotalPrice: 2000},
		},
	})

	require.NoError(t, err)
	assert.Equal(t, int64(500), result.TotalTaxCents)
}

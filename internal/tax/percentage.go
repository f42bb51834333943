package tax

import (
	"context"

	"github.com/shopspring/decimal"
)

// PercentageCalculator calculates tax using a simple percentage rate.
type PercentageCalculator struct {
	defaultRate float64 // e.g., 0.08 for 8%
}

// NewPercentageCalculator creates a new percentage-based tax calculator.
func NewPercentageCalculator(rate float64) Calculator {
	return &PercentageCalculator{defaultRate: rate}
}

// CalculateTax computes tax on subtotal + shipping - discounts using the
// configured rate, rounded half away from zero to the cent.
func (c *PercentageCalculator) CalculateTax(ctx context.Context, params TaxParams) (*TaxResult, error) {
	if c.defaultRate < 0 || c.defaultRate > 1 {
		return nil, ErrInvalidTaxRate
	}

	var base int64
	for _, item := range params.LineItems {
		if item.TotalPrice < 0 {
			return nil, ErrNegativeAmount
		}
		base += item.TotalPrice
	}
	if params.ShippingCents < 0 {
		return nil, ErrNegativeAmount
	}
	base += params.ShippingCents - params.DiscountCents
	if base < 0 {
		base = 0
	}

	amount := decimal.NewFromInt(base).
		Mul(decimal.NewFromFloat(c.defaultRate)).
		Round(0).
		IntPart()

	return &TaxResult{
		TotalTaxCents: amount,
		Breakdown: []TaxBreakdown{{
			Jurisdiction: "state",
			Name:         "Default Sales Tax",
			Rate:         c.defaultRate,
			AmountCents:  amount,
		}},
	}, nil
}

package billing

import (
	"context"
	"fmt"
	"strings"

	"github.com/stripe/stripe-go/v83"
	"github.com/stripe/stripe-go/v83/tax/calculation"

	"github.com/dukerupert/checkout-embed/internal/tax"
)

// StripeTaxCalculator calculates tax through the Stripe Tax Calculation API.
//
// Requires Stripe Tax to be enabled in the Stripe dashboard and a provider
// created with NewStripeProvider so the SDK key is set.
type StripeTaxCalculator struct{}

// NewStripeTaxCalculator creates a tax calculator that delegates to Stripe Tax.
func NewStripeTaxCalculator() tax.Calculator {
	return &StripeTaxCalculator{}
}

// CalculateTax calls the Stripe Tax Calculation API. The calculation ID is
// returned in TaxResult.ProviderTxID for audit.
func (c *StripeTaxCalculator) CalculateTax(ctx context.Context, params tax.TaxParams) (*tax.TaxResult, error) {
	currency := strings.ToLower(params.Currency)
	if currency == "" {
		currency = "usd"
	}

	calcParams := &stripe.TaxCalculationParams{
		Currency: stripe.String(currency),
		CustomerDetails: &stripe.TaxCalculationCustomerDetailsParams{
			Address: &stripe.AddressParams{
				Line1:      stripe.String(params.ShippingAddress.Line1),
				Line2:      stripe.String(params.ShippingAddress.Line2),
				City:       stripe.String(params.ShippingAddress.City),
				State:      stripe.String(params.ShippingAddress.State),
				PostalCode: stripe.String(params.ShippingAddress.PostalCode),
				Country:    stripe.String(params.ShippingAddress.Country),
			},
			AddressSource: stripe.String("shipping"),
		},
		LineItems: buildStripeTaxLineItems(params),
	}
	calcParams.Context = ctx

	calc, err := calculation.New(calcParams)
	if err != nil {
		return nil, wrapStripeError(err)
	}

	return &tax.TaxResult{
		TotalTaxCents: calc.TaxAmountExclusive,
		Breakdown:     buildTaxBreakdown(calc),
		ProviderTxID:  calc.ID,
		IsEstimate:    false,
	}, nil
}

// buildStripeTaxLineItems converts our line items to Stripe's format.
// Discounts are spread proportionally so the taxable base matches the ledger.
func buildStripeTaxLineItems(params tax.TaxParams) []*stripe.TaxCalculationLineItemParams {
	lineItems := make([]*stripe.TaxCalculationLineItemParams, 0, len(params.LineItems)+1)

	var gross int64
	for _, item := range params.LineItems {
		gross += item.TotalPrice
	}

	remaining := params.DiscountCents
	for i, item := range params.LineItems {
		taxCode := "txcd_99999999" // general merchandise
		if item.TaxCategory == "food" {
			taxCode = "txcd_30011000" // food/beverages
		}

		share := int64(0)
		if gross > 0 && params.DiscountCents > 0 {
			if i == len(params.LineItems)-1 {
				share = remaining
			} else {
				share = params.DiscountCents * item.TotalPrice / gross
				remaining -= share
			}
		}
		amount := max(item.TotalPrice-share, 0)

		lineItems = append(lineItems, &stripe.TaxCalculationLineItemParams{
			Amount:    stripe.Int64(amount),
			Quantity:  stripe.Int64(max(item.Quantity, 1)),
			Reference: stripe.String(fmt.Sprintf("%s-%d", item.ProductID, i)),
			TaxCode:   stripe.String(taxCode),
		})
	}

	// Add shipping as a line item if present
	if params.ShippingCents > 0 {
		lineItems = append(lineItems, &stripe.TaxCalculationLineItemParams{
			Amount:    stripe.Int64(params.ShippingCents),
			Reference: stripe.String("shipping"),
			TaxCode:   stripe.String("txcd_92010001"), // shipping tax code
		})
	}

	return lineItems
}

// buildTaxBreakdown extracts tax breakdown by jurisdiction from Stripe response
func buildTaxBreakdown(calc *stripe.TaxCalculation) []tax.TaxBreakdown {
	jurisdictionMap := make(map[string]*tax.TaxBreakdown)
	order := make([]string, 0)

	for _, item := range calc.TaxBreakdown {
		if item.TaxRateDetails == nil {
			continue
		}

		state := item.TaxRateDetails.State
		country := item.TaxRateDetails.Country
		taxType := string(item.TaxRateDetails.TaxType)

		var jurisdictionName, jurisdictionLevel string
		switch {
		case state != "":
			jurisdictionName, jurisdictionLevel = state, "state"
		case country != "":
			jurisdictionName, jurisdictionLevel = country, "country"
		default:
			continue
		}

		key := fmt.Sprintf("%s|%s|%s", jurisdictionLevel, jurisdictionName, taxType)

		// Parse percentage decimal (e.g., "8.5" -> 0.085)
		var rate float64
		if item.TaxRateDetails.PercentageDecimal != "" {
			_, _ = fmt.Sscanf(item.TaxRateDetails.PercentageDecimal, "%f", &rate)
			rate = rate / 100.0
		}

		if existing, ok := jurisdictionMap[key]; ok {
			existing.AmountCents += item.Amount
			continue
		}
		jurisdictionMap[key] = &tax.TaxBreakdown{
			Jurisdiction: jurisdictionLevel,
			Name:         jurisdictionName,
			Rate:         rate,
			AmountCents:  item.Amount,
		}
		order = append(order, key)
	}

	breakdown := make([]tax.TaxBreakdown, 0, len(order))
	for _, key := range order {
		breakdown = append(breakdown, *jurisdictionMap[key])
	}
	return breakdown
}

// Package tax computes the tax line of a checkout for the local commerce
// backend.
package tax

import "context"

// Calculator returns the tax owed on a checkout's taxable base.
type Calculator interface {
	CalculateTax(ctx context.Context, params TaxParams) (*TaxResult, error)
}

// TaxParams is the taxable base: line items, shipping and the discount
// amount subtracted from it. Amounts are in cents.
type TaxParams struct {
	ShippingAddress Address
	LineItems       []LineItem
	ShippingCents   int64
	Currency        string // ISO 4217, lowercase
	DiscountCents   int64
}

type Address struct {
	Line1      string
	Line2      string
	City       string
	State      string
	PostalCode string
	Country    string
}

type LineItem struct {
	ProductID   string
	Description string
	Quantity    int64
	UnitPrice   int64
	TotalPrice  int64
	TaxCategory string
}

// TaxResult is the computed tax. IsEstimate is set when the provider could
// not produce a final figure.
type TaxResult struct {
	TotalTaxCents int64
	Breakdown     []TaxBreakdown
	ProviderTxID  string
	IsEstimate    bool
}

// TaxBreakdown is the tax owed to one jurisdiction.
type TaxBreakdown struct {
	Jurisdiction string
	Name         string
	Rate         float64 // 0.065 for 6.5%
	AmountCents  int64
}

// Package ledger computes checkout totals from line items, shipping, tax and
// applied discounts. Every function in this package is pure.
package ledger

import (
	"github.com/shopspring/decimal"

	"github.com/dukerupert/checkout-embed/internal/domain"
)

var hundred = decimal.NewFromInt(100)

// ItemDiscount is the discount attributed to a single line item.
type ItemDiscount struct {
	LineItemID string `json:"lineItemId"`
	ProductID  string `json:"productId"`
	LineTotal  int64  `json:"lineTotal"`
	Discount   int64  `json:"discount"`
	Discounted int64  `json:"discounted"`
}

// Totals is the full breakdown of a checkout's chargeable amount.
// All amounts are in minor units of the checkout currency.
type Totals struct {
	Subtotal int64 `json:"subtotal"`
	// ShippingPrice is the face value; Shipping is what the total includes.
	ShippingPrice  int64          `json:"shippingPrice"`
	Shipping       int64          `json:"shipping"`
	ShippingWaived bool           `json:"shippingWaived"`
	Tax            int64          `json:"tax"`
	Discount       int64          `json:"discount"`
	PerItem        []ItemDiscount `json:"perItem"`
	Total          int64          `json:"total"`
}

// ComputeTotals derives the totals for the given inputs.
//
//	total = subtotal + tax + effectiveShipping - sum(non-shipping discount amounts)
//
// Shipping is waived when a FREE_SHIPPING discount is applied and the
// pre-discount subtotal is strictly greater than the shipping price.
// The total is not clamped at zero.
func ComputeTotals(items []domain.LineItem, shippingPrice, tax int64, applied []domain.AppliedDiscount) Totals {
	t := Totals{
		ShippingPrice: shippingPrice,
		Shipping:      shippingPrice,
		Tax:           tax,
		PerItem:       make([]ItemDiscount, 0, len(items)),
	}

	for _, item := range items {
		t.Subtotal += item.LineTotal()
	}

	freeShipping := false
	for _, a := range applied {
		if a.Discount.Type == domain.DiscountFreeShipping {
			freeShipping = true
			continue
		}
		t.Discount += a.Amount
	}

	if freeShipping && t.Subtotal > shippingPrice {
		t.Shipping = 0
		t.ShippingWaived = true
	}

	for _, item := range items {
		t.PerItem = append(t.PerItem, attribute(item, applied))
	}

	t.Total = t.Subtotal + t.Tax + t.Shipping - t.Discount
	return t
}

// SessionTotals computes the totals of a checkout session.
func SessionTotals(s *domain.CheckoutSession) Totals {
	if s == nil {
		return ComputeTotals(nil, 0, 0, nil)
	}
	return ComputeTotals(s.LineItems, s.Shipping, s.Tax, s.AppliedDiscounts)
}

// attribute sums the contributions of every discount eligible for item and
// clamps the result to the line total.
func attribute(item domain.LineItem, applied []domain.AppliedDiscount) ItemDiscount {
	lineTotal := item.LineTotal()
	out := ItemDiscount{
		LineItemID: item.ID,
		ProductID:  item.EffectiveProductID(),
		LineTotal:  lineTotal,
	}

	unit := item.UnitPrice()
	var sum int64
	for _, a := range applied {
		qty := EligibleQuantity(a.Discount, item)
		if qty == 0 {
			continue
		}
		sum += contribution(a.Discount, unit, qty)
	}

	if sum > lineTotal {
		sum = lineTotal
	}
	if sum < 0 {
		sum = 0
	}
	out.Discount = sum
	out.Discounted = lineTotal - sum
	return out
}

func contribution(d domain.Discount, unit, qty int64) int64 {
	switch d.Type {
	case domain.DiscountPercentage:
		eligible := decimal.NewFromInt(unit * qty)
		return eligible.Mul(d.Value).Div(hundred).Round(0).IntPart()
	case domain.DiscountFree:
		return unit * qty
	case domain.DiscountFixed:
		return d.Value.Mul(decimal.NewFromInt(qty)).Round(0).IntPart()
	default:
		return 0
	}
}

// EligibleQuantity is the quantity of item that discount d applies to.
// An allowed product ID makes the whole quantity eligible; an allowed line
// item caps it to the declared quantity.
func EligibleQuantity(d domain.Discount, item domain.LineItem) int64 {
	productID := item.EffectiveProductID()
	for _, id := range d.AllowedProductIDs {
		if id == productID {
			return item.Quantity
		}
	}
	for _, ali := range d.AllowedLineItems {
		if ali.ProductID == productID {
			return min(ali.Quantity, item.Quantity)
		}
	}
	return 0
}

// CanApplyAnother reports whether a new discount may be stacked on applied.
// It holds when nothing is applied yet or when the intersection of every
// applied discount's combination tags is non-empty.
func CanApplyAnother(applied []domain.AppliedDiscount) bool {
	if len(applied) == 0 {
		return true
	}
	return len(CombinationIntersection(applied)) > 0
}

// CombinationIntersection returns the combination tags shared by every
// applied discount, in the order of the first discount's declaration.
func CombinationIntersection(applied []domain.AppliedDiscount) []string {
	if len(applied) == 0 {
		return nil
	}

	common := append([]string(nil), applied[0].Discount.AllowedCombinations...)
	for _, a := range applied[1:] {
		tags := make(map[string]struct{}, len(a.Discount.AllowedCombinations))
		for _, tag := range a.Discount.AllowedCombinations {
			tags[tag] = struct{}{}
		}
		kept := common[:0]
		for _, tag := range common {
			if _, ok := tags[tag]; ok {
				kept = append(kept, tag)
			}
		}
		common = kept
		if len(common) == 0 {
			break
		}
	}
	return common
}

// Without returns applied minus the application with the given instance ID.
// Removing an ID that is not present returns an equal slice.
func Without(applied []domain.AppliedDiscount, id string) []domain.AppliedDiscount {
	out := make([]domain.AppliedDiscount, 0, len(applied))
	for _, a := range applied {
		if a.ID != id {
			out = append(out, a)
		}
	}
	return out
}

// Convert multiplies amount by rate once and rounds to the nearest minor unit.
func Convert(amount int64, rate decimal.Decimal) int64 {
	return decimal.NewFromInt(amount).Mul(rate).Round(0).IntPart()
}

// Converted returns the totals expressed at the given exchange rate.
func (t Totals) Converted(rate decimal.Decimal) Totals {
	if rate.Equal(decimal.NewFromInt(1)) {
		return t
	}
	out := t
	out.Subtotal = Convert(t.Subtotal, rate)
	out.ShippingPrice = Convert(t.ShippingPrice, rate)
	out.Shipping = Convert(t.Shipping, rate)
	out.Tax = Convert(t.Tax, rate)
	out.Discount = Convert(t.Discount, rate)
	out.Total = Convert(t.Total, rate)
	out.PerItem = make([]ItemDiscount, len(t.PerItem))
	for i, it := range t.PerItem {
		it.LineTotal = Convert(it.LineTotal, rate)
		it.Discount = Convert(it.Discount, rate)
		it.Discounted = it.LineTotal - it.Discount
		out.PerItem[i] = it
	}
	return out
}

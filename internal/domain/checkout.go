package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// CHECKOUT SESSION
// =============================================================================

// CheckoutStatus is the server-side lifecycle state of a checkout.
type CheckoutStatus string

const (
	CheckoutOpen      CheckoutStatus = "open"
	CheckoutCompleted CheckoutStatus = "completed"
	CheckoutCanceled  CheckoutStatus = "canceled"
)

// CheckoutSession is the server-held checkout aggregate.
//
// The client copy is replaced wholesale after every mutating backend call.
// The only local patch is the optimistic shipping cost echo applied when a
// shipping rate is submitted.
type CheckoutSession struct {
	ID               string            `json:"id"`
	ClientSecret     string            `json:"-"`
	Status           CheckoutStatus    `json:"status"`
	Currency         string            `json:"currency"`
	ExchangeRate     decimal.Decimal   `json:"exchangeRate"`
	CustomerID       string            `json:"customerId,omitempty"`
	LineItems        []LineItem        `json:"lineItems"`
	Shipping         int64             `json:"shipping"`
	Tax              int64             `json:"tax"`
	AppliedDiscounts []AppliedDiscount `json:"appliedDiscounts"`
	Shipment         *Shipment         `json:"shipment,omitempty"`
	UpdatedAt        time.Time         `json:"updatedAt"`
}

// Rate returns the exchange rate, treating an unset rate as 1.
func (c *CheckoutSession) Rate() decimal.Decimal {
	if c.ExchangeRate.IsZero() {
		return decimal.NewFromInt(1)
	}
	return c.ExchangeRate
}

// Clone returns a deep copy so that callers can patch a session without
// mutating a copy shared with other readers.
func (c *CheckoutSession) Clone() *CheckoutSession {
	if c == nil {
		return nil
	}
	cp := *c
	cp.LineItems = make([]LineItem, len(c.LineItems))
	for i, item := range c.LineItems {
		cp.LineItems[i] = item.clone()
	}
	cp.AppliedDiscounts = make([]AppliedDiscount, len(c.AppliedDiscounts))
	for i, d := range c.AppliedDiscounts {
		cp.AppliedDiscounts[i] = d.clone()
	}
	if c.Shipment != nil {
		s := *c.Shipment
		cp.Shipment = &s
	}
	return &cp
}

// Shipment echoes the shipping selection recorded on the checkout.
type Shipment struct {
	RateID        string `json:"rateId"`
	Provider      string `json:"provider"`
	Name          string `json:"name"`
	Amount        int64  `json:"amount"`
	PickupPointID string `json:"pickupPointId,omitempty"`
}

// =============================================================================
// LINE ITEMS
// =============================================================================

// Product is the price-bearing product data resolved onto a line item.
type Product struct {
	ID           string   `json:"id"`
	Title        string   `json:"title"`
	PriceInCents int64    `json:"priceInCents"`
	Images       []string `json:"images,omitempty"`
}

// ProductVariant is a selectable variant of a product with its own price.
type ProductVariant struct {
	ID           string `json:"id"`
	Title        string `json:"title"`
	PriceInCents int64  `json:"priceInCents"`
}

// VariantOption is a single name/value pair chosen for a line item.
type VariantOption struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

// LineItem is a product reference with quantity and selected options.
type LineItem struct {
	ID             string          `json:"id"`
	ProductID      string          `json:"productId"`
	Quantity       int64           `json:"quantity"`
	VariantOptions []VariantOption `json:"variantOptions,omitempty"`
	Product        Product         `json:"product"`
	Variant        *ProductVariant `json:"productVariant,omitempty"`
}

// UnitPrice is the selected variant's price when present, else the base
// product price.
func (li LineItem) UnitPrice() int64 {
	if li.Variant != nil {
		return li.Variant.PriceInCents
	}
	return li.Product.PriceInCents
}

// LineTotal is UnitPrice × Quantity.
func (li LineItem) LineTotal() int64 {
	return li.UnitPrice() * li.Quantity
}

// EffectiveProductID prefers the explicit product ID over the embedded product.
func (li LineItem) EffectiveProductID() string {
	if li.ProductID != "" {
		return li.ProductID
	}
	return li.Product.ID
}

func (li LineItem) clone() LineItem {
	cp := li
	cp.VariantOptions = append([]VariantOption(nil), li.VariantOptions...)
	cp.Product.Images = append([]string(nil), li.Product.Images...)
	if li.Variant != nil {
		v := *li.Variant
		cp.Variant = &v
	}
	return cp
}

// =============================================================================
// DISCOUNTS
// =============================================================================

// DiscountMethod says how a discount was attached to the checkout.
type DiscountMethod string

const (
	DiscountMethodCode      DiscountMethod = "CODE"
	DiscountMethodAutomatic DiscountMethod = "AUTOMATIC"
)

// DiscountType is the value type of a discount.
type DiscountType string

const (
	DiscountPercentage   DiscountType = "PERCENTAGE"
	DiscountFixed        DiscountType = "FIXED"
	DiscountFree         DiscountType = "FREE"
	DiscountFreeShipping DiscountType = "FREE_SHIPPING"
)

// AllowedLineItem caps the eligible quantity of a product for a discount.
type AllowedLineItem struct {
	ProductID string `json:"productId"`
	Quantity  int64  `json:"quantity"`
}

// Discount is a discount definition.
type Discount struct {
	ID                  string            `json:"id"`
	Code                string            `json:"code,omitempty"`
	Method              DiscountMethod    `json:"method"`
	Type                DiscountType      `json:"type"`
	Value               decimal.Decimal   `json:"value"`
	AllowedProductIDs   []string          `json:"allowedProductIds,omitempty"`
	AllowedLineItems    []AllowedLineItem `json:"allowedLineItems,omitempty"`
	AllowedCombinations []string          `json:"allowedCombinations,omitempty"`
	ExpiresAt           *time.Time        `json:"expiresAt,omitempty"`
	UsageLimit          int64             `json:"usageLimit,omitempty"`
	UsageCount          int64             `json:"usageCount,omitempty"`
}

// Expired reports whether the discount has expired at now.
func (d Discount) Expired(now time.Time) bool {
	return d.ExpiresAt != nil && !now.Before(*d.ExpiresAt)
}

// Exhausted reports whether the usage limit has been reached.
// A zero limit means unlimited.
func (d Discount) Exhausted() bool {
	return d.UsageLimit > 0 && d.UsageCount >= d.UsageLimit
}

// AppliedDiscount is a discount attached to a checkout together with the
// amount it contributes. ID identifies the application instance and is the
// handle used for removal.
type AppliedDiscount struct {
	ID       string   `json:"id"`
	Amount   int64    `json:"amount"`
	Discount Discount `json:"discount"`
}

func (a AppliedDiscount) clone() AppliedDiscount {
	cp := a
	cp.Discount.AllowedProductIDs = append([]string(nil), a.Discount.AllowedProductIDs...)
	cp.Discount.AllowedLineItems = append([]AllowedLineItem(nil), a.Discount.AllowedLineItems...)
	cp.Discount.AllowedCombinations = append([]string(nil), a.Discount.AllowedCombinations...)
	return cp
}

// =============================================================================
// SHIPPING & PAYMENT
// =============================================================================

// ShippingRate is one shipping option offered for a checkout.
type ShippingRate struct {
	ID                  string `json:"id"`
	Provider            string `json:"provider"`
	Name                string `json:"name"`
	Amount              int64  `json:"amount"`
	Currency            string `json:"currency"`
	EstimatedDaysMin    int    `json:"estimatedDaysMin,omitempty"`
	EstimatedDaysMax    int    `json:"estimatedDaysMax,omitempty"`
	RequiresPickupPoint bool   `json:"requiresPickupPoint,omitempty"`
}

// FindRate returns the rate with the given ID.
func FindRate(rates []ShippingRate, id string) (ShippingRate, bool) {
	for _, r := range rates {
		if r.ID == id {
			return r, true
		}
	}
	return ShippingRate{}, false
}

// PaymentAuthorization is the secret/public key pair issued by the backend
// for a specific presented total. It is single-use per total.
type PaymentAuthorization struct {
	ClientSecret string    `json:"clientSecret"`
	PublicKey    string    `json:"publicKey"`
	Total        int64     `json:"total"`
	IssuedAt     time.Time `json:"issuedAt"`
}

// PaymentSecret is what the backend returns when a payment authorization is
// generated: the secret/public key pair and the checkout as priced for it.
type PaymentSecret struct {
	PaymentSecret   string           `json:"paymentSecret"`
	PublicKey       string           `json:"publicKey"`
	CheckoutSession *CheckoutSession `json:"checkoutSession"`
}

// Package commerce talks to the commerce backend that owns checkout
// sessions, customers, shipping rates, discounts and payment secrets.
//
// Every call is authenticated with the per-checkout client secret the embed
// widget was initialized with. Mutating calls return the full checkout as
// priced by the backend; callers replace their copy with it.
package commerce

import (
	"context"

	"github.com/dukerupert/checkout-embed/internal/domain"
)

// Backend is the commerce backend consumed by the checkout orchestrator.
type Backend interface {
	RetrieveCheckout(ctx context.Context, secret, checkoutID string) (*domain.CheckoutSession, error)

	CreateCustomer(ctx context.Context, secret string, data domain.CustomerData) (*Customer, error)
	UpdateCustomer(ctx context.Context, secret, customerID string, data domain.CustomerData) (*Customer, error)

	UpdateCheckout(ctx context.Context, secret, checkoutID string, patch CheckoutPatch) (*domain.CheckoutSession, error)
	GetCheckoutShippingRates(ctx context.Context, secret, checkoutID string) ([]domain.ShippingRate, error)
	GenerateCheckoutPaymentSecret(ctx context.Context, secret, checkoutID string) (*domain.PaymentSecret, error)

	ApplyDiscountCode(ctx context.Context, secret, checkoutID, code string) (*domain.CheckoutSession, error)
	RemoveDiscount(ctx context.Context, secret, checkoutID, discountID string) (*domain.CheckoutSession, error)
	RevalidateDiscounts(ctx context.Context, secret, checkoutID string) (*domain.CheckoutSession, error)
}

// Completer is implemented by backends that are told when a checkout has
// been paid.
type Completer interface {
	CompleteCheckout(ctx context.Context, secret, checkoutID string) error
}

// Customer is a backend customer record.
type Customer struct {
	ID               string         `json:"id"`
	Email            string         `json:"email"`
	FirstName        string         `json:"firstName,omitempty"`
	LastName         string         `json:"lastName"`
	Phone            string         `json:"phone,omitempty"`
	MarketingConsent bool           `json:"marketingConsent,omitempty"`
	Address          domain.Address `json:"address"`
}

func customerFromData(id string, data domain.CustomerData) *Customer {
	return &Customer{
		ID:               id,
		Email:            data.Email,
		FirstName:        data.FirstName,
		LastName:         data.LastName,
		Phone:            data.Phone,
		MarketingConsent: data.MarketingConsent,
		Address:          data.Address,
	}
}

// CheckoutPatch is a partial checkout update. Nil fields are left as-is.
type CheckoutPatch struct {
	CustomerID   *string          `json:"customerId,omitempty"`
	Shipment     *domain.Shipment `json:"shipment,omitempty"`
	ShippingCost *int64           `json:"shipping,omitempty"`
}

// Empty reports whether the patch changes nothing.
func (p CheckoutPatch) Empty() bool {
	return p.CustomerID == nil && p.Shipment == nil && p.ShippingCost == nil
}

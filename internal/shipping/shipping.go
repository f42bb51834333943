// Package shipping quotes delivery options for the local commerce backend.
package shipping

import (
	"context"
	"time"
)

// Provider quotes shipping options for a checkout's destination.
type Provider interface {
	GetRates(ctx context.Context, params RateParams) ([]Rate, error)
}

// RateParams describes what is being shipped and where.
type RateParams struct {
	DestinationAddress ShippingAddress
	// SubtotalCents is the merchandise value, used by free-over thresholds.
	SubtotalCents int64
	Currency      string
}

// ShippingAddress is the customer's delivery address.
type ShippingAddress struct {
	Name       string
	Line1      string
	Line2      string
	City       string
	State      string
	PostalCode string
	Country    string
	Phone      string
	Email      string
}

// Rate is one quoted option. RateID, Carrier and ServiceName become the
// checkout's rate id, provider and display name.
type Rate struct {
	RateID                string
	Carrier               string
	ServiceName           string
	ServiceCode           string
	CostCents             int64
	Currency              string
	EstimatedDaysMin      int
	EstimatedDaysMax      int
	EstimatedDeliveryDate time.Time
	// RequiresPickupPoint is set for services delivered to a pickup point
	// the shopper must choose.
	RequiresPickupPoint bool
}

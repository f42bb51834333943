package billing

import (
	"context"
	"time"
)

// Provider defines the interface for payment processing.
// Implementations can use Stripe, PayPal, Square, etc.
type Provider interface {
	// CreatePaymentIntent creates a payment intent for a one-time charge.
	// Returns payment intent with client_secret for frontend confirmation.
	CreatePaymentIntent(ctx context.Context, params CreatePaymentIntentParams) (*PaymentIntent, error)

	// GetPaymentIntent retrieves an existing payment intent.
	GetPaymentIntent(ctx context.Context, paymentIntentID string) (*PaymentIntent, error)

	// UpdatePaymentIntent updates a payment intent before confirmation.
	UpdatePaymentIntent(ctx context.Context, params UpdatePaymentIntentParams) (*PaymentIntent, error)

	// CancelPaymentIntent cancels a payment intent that hasn't been confirmed.
	// Used when an authorization is superseded by one for a new total.
	CancelPaymentIntent(ctx context.Context, paymentIntentID string) error

	// CreateCustomer creates a customer record in the billing provider.
	CreateCustomer(ctx context.Context, params CreateCustomerParams) (*Customer, error)

	// UpdateCustomer updates customer information.
	UpdateCustomer(ctx context.Context, customerID string, params UpdateCustomerParams) (*Customer, error)

	// PublishableKey is the public key handed to the payment element.
	PublishableKey() string
}

// CreateCustomerParams contains parameters for creating a customer.
type CreateCustomerParams struct {
	Email    string
	Name     string
	Phone    string
	Address  *PaymentAddress
	Metadata map[string]string
}

// UpdateCustomerParams contains parameters for updating a customer.
type UpdateCustomerParams struct {
	Email    string
	Name     string
	Phone    string
	Address  *PaymentAddress
	Metadata map[string]string
}

// Customer represents a billing customer.
type Customer struct {
	ID        string
	Email     string
	Name      string
	CreatedAt time.Time
}

// CreatePaymentIntentParams contains parameters for creating a payment intent.
type CreatePaymentIntentParams struct {
	// AmountCents is the amount in smallest currency unit (cents for USD)
	AmountCents int64

	// Currency code (ISO 4217) - e.g., "usd", "eur"
	Currency string

	// CustomerID is optional - if provided, links payment to existing customer
	CustomerID string

	// CustomerEmail is used for the receipt
	CustomerEmail string

	// Description appears in the provider dashboard
	Description string

	// Metadata for filtering and reporting (always include checkout_id)
	Metadata map[string]string

	// IdempotencyKey prevents duplicate payment intents.
	// Use the checkout ID combined with the authorized total.
	IdempotencyKey string

	// ShippingAddress is attached to the intent for fraud checks
	ShippingAddress *PaymentAddress
	ShippingName    string
}

// PaymentAddress represents an address attached to a customer or payment.
type PaymentAddress struct {
	Line1      string
	Line2      string
	City       string
	State      string
	PostalCode string
	Country    string
}

// PaymentIntent represents a payment intent.
type PaymentIntent struct {
	// ID is the provider payment intent ID (pi_...)
	ID string

	// ClientSecret is used by the payment element to confirm payment
	ClientSecret string

	// AmountCents is the amount in smallest currency unit (cents)
	AmountCents int64

	// Currency code
	Currency string

	// Status: requires_payment_method, requires_confirmation, succeeded, canceled, etc.
	Status string

	// Metadata passed during creation
	Metadata map[string]string

	// CreatedAt is when payment intent was created
	CreatedAt time.Time

	// LastPaymentError contains details if payment failed
	LastPaymentError *PaymentError
}

// Cancelable reports whether the intent can still be canceled.
func (pi *PaymentIntent) Cancelable() bool {
	switch pi.Status {
	case "succeeded", "canceled", "processing":
		return false
	default:
		return true
	}
}

// PaymentError contains details about a failed payment attempt.
type PaymentError struct {
	Code        string // Provider error code
	Message     string // Human-readable message
	DeclineCode string // Reason card was declined (if applicable)
}

// UpdatePaymentIntentParams contains parameters for updating a payment intent.
type UpdatePaymentIntentParams struct {
	// PaymentIntentID is the provider payment intent ID
	PaymentIntentID string

	// AmountCents updates the amount (must be before confirmation)
	AmountCents int64

	// Metadata updates or adds metadata fields
	Metadata map[string]string

	// Description updates the description
	Description string
}

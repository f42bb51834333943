package billing

import (
	"context"
	"time"

	"github.com/stripe/stripe-go/v83"
	"github.com/stripe/stripe-go/v83/customer"
	"github.com/stripe/stripe-go/v83/paymentintent"
)

// StripeProvider implements Provider using Stripe.
type StripeProvider struct {
	publishableKey string
}

// NewStripeProvider creates a new Stripe billing provider.
// The Stripe SDK holds the secret key process-wide.
func NewStripeProvider(cfg StripeConfig) (*StripeProvider, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	stripe.Key = cfg.APIKey
	return &StripeProvider{publishableKey: cfg.PublishableKey}, nil
}

// PublishableKey returns the publishable key.
func (s *StripeProvider) PublishableKey() string {
	return s.publishableKey
}

// CreatePaymentIntent creates a Stripe payment intent with automatic payment methods.
func (s *StripeProvider) CreatePaymentIntent(ctx context.Context, params CreatePaymentIntentParams) (*PaymentIntent, error) {
	if params.AmountCents < minimumChargeCents {
		return nil, ErrAmountTooSmall
	}

	piParams := &stripe.PaymentIntentParams{
		Amount:   stripe.Int64(params.AmountCents),
		Currency: stripe.String(params.Currency),
		AutomaticPaymentMethods: &stripe.PaymentIntentAutomaticPaymentMethodsParams{
			Enabled: stripe.Bool(true),
		},
	}
	piParams.Context = ctx

	if params.CustomerID != "" {
		piParams.Customer = stripe.String(params.CustomerID)
	}
	if params.CustomerEmail != "" {
		piParams.ReceiptEmail = stripe.String(params.CustomerEmail)
	}
	if params.Description != "" {
		piParams.Description = stripe.String(params.Description)
	}
	if addr := params.ShippingAddress; addr != nil {
		piParams.Shipping = &stripe.ShippingDetailsParams{
			Name:    stripe.String(params.ShippingName),
			Address: addressParams(addr),
		}
	}
	for k, v := range params.Metadata {
		piParams.AddMetadata(k, v)
	}
	if params.IdempotencyKey != "" {
		piParams.SetIdempotencyKey(params.IdempotencyKey)
	}

	pi, err := paymentintent.New(piParams)
	if err != nil {
		return nil, wrapStripeError(err)
	}
	return fromStripePaymentIntent(pi), nil
}

// GetPaymentIntent retrieves a Stripe payment intent.
func (s *StripeProvider) GetPaymentIntent(ctx context.Context, paymentIntentID string) (*PaymentIntent, error) {
	params := &stripe.PaymentIntentParams{}
	params.Context = ctx

	pi, err := paymentintent.Get(paymentIntentID, params)
	if err != nil {
		return nil, wrapStripeError(err)
	}
	return fromStripePaymentIntent(pi), nil
}

// UpdatePaymentIntent updates the amount, description or metadata of a payment intent.
func (s *StripeProvider) UpdatePaymentIntent(ctx context.Context, params UpdatePaymentIntentParams) (*PaymentIntent, error) {
	piParams := &stripe.PaymentIntentParams{}
	piParams.Context = ctx
	if params.AmountCents > 0 {
		piParams.Amount = stripe.Int64(params.AmountCents)
	}
	if params.Description != "" {
		piParams.Description = stripe.String(params.Description)
	}
	for k, v := range params.Metadata {
		piParams.AddMetadata(k, v)
	}

	pi, err := paymentintent.Update(params.PaymentIntentID, piParams)
	if err != nil {
		return nil, wrapStripeError(err)
	}
	return fromStripePaymentIntent(pi), nil
}

// CancelPaymentIntent cancels a Stripe payment intent.
func (s *StripeProvider) CancelPaymentIntent(ctx context.Context, paymentIntentID string) error {
	params := &stripe.PaymentIntentCancelParams{
		CancellationReason: stripe.String("abandoned"),
	}
	params.Context = ctx

	if _, err := paymentintent.Cancel(paymentIntentID, params); err != nil {
		return wrapStripeError(err)
	}
	return nil
}

// CreateCustomer creates a Stripe customer.
func (s *StripeProvider) CreateCustomer(ctx context.Context, params CreateCustomerParams) (*Customer, error) {
	cParams := &stripe.CustomerParams{
		Email: stripe.String(params.Email),
	}
	cParams.Context = ctx
	if params.Name != "" {
		cParams.Name = stripe.String(params.Name)
	}
	if params.Phone != "" {
		cParams.Phone = stripe.String(params.Phone)
	}
	if params.Address != nil {
		cParams.Address = addressParams(params.Address)
	}
	for k, v := range params.Metadata {
		cParams.AddMetadata(k, v)
	}

	c, err := customer.New(cParams)
	if err != nil {
		return nil, wrapStripeError(err)
	}
	return fromStripeCustomer(c), nil
}

// UpdateCustomer updates a Stripe customer.
func (s *StripeProvider) UpdateCustomer(ctx context.Context, customerID string, params UpdateCustomerParams) (*Customer, error) {
	cParams := &stripe.CustomerParams{}
	cParams.Context = ctx
	if params.Email != "" {
		cParams.Email = stripe.String(params.Email)
	}
	if params.Name != "" {
		cParams.Name = stripe.String(params.Name)
	}
	if params.Phone != "" {
		cParams.Phone = stripe.String(params.Phone)
	}
	if params.Address != nil {
		cParams.Address = addressParams(params.Address)
	}
	for k, v := range params.Metadata {
		cParams.AddMetadata(k, v)
	}

	c, err := customer.Update(customerID, cParams)
	if err != nil {
		return nil, wrapStripeError(err)
	}
	return fromStripeCustomer(c), nil
}

func addressParams(addr *PaymentAddress) *stripe.AddressParams {
	return &stripe.AddressParams{
		Line1:      stripe.String(addr.Line1),
		Line2:      stripe.String(addr.Line2),
		City:       stripe.String(addr.City),
		State:      stripe.String(addr.State),
		PostalCode: stripe.String(addr.PostalCode),
		Country:    stripe.String(addr.Country),
	}
}

func fromStripePaymentIntent(pi *stripe.PaymentIntent) *PaymentIntent {
	out := &PaymentIntent{
		ID:           pi.ID,
		ClientSecret: pi.ClientSecret,
		AmountCents:  pi.Amount,
		Currency:     string(pi.Currency),
		Status:       string(pi.Status),
		Metadata:     pi.Metadata,
		CreatedAt:    time.Unix(pi.Created, 0),
	}
	if pe := pi.LastPaymentError; pe != nil {
		out.LastPaymentError = &PaymentError{
			Code:        string(pe.Code),
			Message:     pe.Msg,
			DeclineCode: string(pe.DeclineCode),
		}
	}
	return out
}

func fromStripeCustomer(c *stripe.Customer) *Customer {
	return &Customer{
		ID:        c.ID,
		Email:     c.Email,
		Name:      c.Name,
		CreatedAt: time.Unix(c.Created, 0),
	}
}

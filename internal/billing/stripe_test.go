package billing

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stripe/stripe-go/v83"

	"github.com/dukerupert/checkout-embed/internal/tax"
)

// TestMockProvider_PaymentIntentLifecycle tests create, get, update and cancel
func TestMockProvider_PaymentIntentLifecycle(t *testing.T) {
	ctx := context.Background()
	m := NewMockProvider()

	pi, err := m.CreatePaymentIntent(ctx, CreatePaymentIntentParams{
		AmountCents:    2500,
		Currency:       "usd",
		IdempotencyKey: "chk_1:2500",
		Metadata:       map[string]string{"checkout_id": "chk_1"},
	})
	require.NoError(t, err)
	assert.NotEmpty(t, pi.ClientSecret, "client secret returned for frontend")
	assert.Equal(t, "requires_payment_method", pi.Status)
	assert.True(t, pi.Cancelable())

	got, err := m.GetPaymentIntent(ctx, pi.ID)
	require.NoError(t, err)
	assert.Equal(t, "chk_1", got.Metadata["checkout_id"])

	updated, err := m.UpdatePaymentIntent(ctx, UpdatePaymentIntentParams{
		PaymentIntentID: pi.ID,
		AmountCents:     3000,
		Metadata:        map[string]string{"total": "3000"},
	})
	require.NoError(t, err)
	assert.Equal(t, int64(3000), updated.AmountCents)
	assert.Equal(t, "3000", updated.Metadata["total"])

	require.NoError(t, m.CancelPaymentIntent(ctx, pi.ID))
	got, err = m.GetPaymentIntent(ctx, pi.ID)
	require.NoError(t, err)
	assert.Equal(t, "canceled", got.Status)
	assert.False(t, got.Cancelable())

	assert.Equal(t, []string{
		"CreatePaymentIntent(2500, usd)",
		"GetPaymentIntent(" + pi.ID + ")",
		"UpdatePaymentIntent(" + pi.ID + ", 3000)",
		"CancelPaymentIntent(" + pi.ID + ")",
		"GetPaymentIntent(" + pi.ID + ")",
	}, m.Calls())
}

func TestMockProvider_Errors(t *testing.T) {
	ctx := context.Background()
	m := NewMockProvider()

	_, err := m.CreatePaymentIntent(ctx, CreatePaymentIntentParams{AmountCents: 49, Currency: "usd"})
	assert.ErrorIs(t, err, ErrAmountTooSmall)

	_, err = m.GetPaymentIntent(ctx, "pi_missing")
	assert.ErrorIs(t, err, ErrPaymentIntentNotFound)

	assert.ErrorIs(t, m.CancelPaymentIntent(ctx, "pi_missing"), ErrPaymentIntentNotFound)

	_, err = m.UpdateCustomer(ctx, "cus_missing", UpdateCustomerParams{Email: "a@example.com"})
	assert.ErrorIs(t, err, ErrCustomerNotFound)
}

func TestMockProvider_Customers(t *testing.T) {
	ctx := context.Background()
	m := NewMockProvider()

	c, err := m.CreateCustomer(ctx, CreateCustomerParams{Email: "jane@example.com", Name: "Jane Doe"})
	require.NoError(t, err)
	assert.Contains(t, c.ID, "cus_")

	updated, err := m.UpdateCustomer(ctx, c.ID, UpdateCustomerParams{Email: "jane@new.example.com"})
	require.NoError(t, err)
	assert.Equal(t, "jane@new.example.com", updated.Email)
	assert.Equal(t, "Jane Doe", updated.Name)
}

func TestMockProvider_Simulations(t *testing.T) {
	ctx := context.Background()
	m := NewMockProvider()
	pi, err := m.CreatePaymentIntent(ctx, CreatePaymentIntentParams{AmountCents: 1000, Currency: "usd"})
	require.NoError(t, err)

	require.NoError(t, m.SimulateFailedPayment(pi.ID, "card_declined", "Your card was declined."))
	got, _ := m.GetPaymentIntent(ctx, pi.ID)
	require.NotNil(t, got.LastPaymentError)
	assert.Equal(t, "card_declined", got.LastPaymentError.Code)

	require.NoError(t, m.SimulateSucceededPayment(pi.ID))
	got, _ = m.GetPaymentIntent(ctx, pi.ID)
	assert.Equal(t, "succeeded", got.Status)
	assert.False(t, got.Cancelable())
}

func TestMockProvider_CustomFunc(t *testing.T) {
	m := NewMockProvider()
	boom := errors.New("stripe unavailable")
	m.CreatePaymentIntentFunc = func(ctx context.Context, params CreatePaymentIntentParams) (*PaymentIntent, error) {
		return nil, boom
	}

	_, err := m.CreatePaymentIntent(context.Background(), CreatePaymentIntentParams{AmountCents: 5000, Currency: "usd"})
	assert.ErrorIs(t, err, boom)
	assert.Empty(t, m.PaymentIntents)
}

func TestWrapStripeError(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		sentinel error
		check    func(t *testing.T, err error)
	}{
		{
			name:     "missing resource",
			err:      &stripe.Error{Code: stripe.ErrorCodeResourceMissing, Msg: "No such payment_intent", HTTPStatusCode: 404},
			sentinel: ErrPaymentIntentNotFound,
		},
		{
			name:     "amount too small",
			err:      &stripe.Error{Code: stripe.ErrorCodeAmountTooSmall, Msg: "Amount must be at least $0.50 usd", HTTPStatusCode: 400},
			sentinel: ErrAmountTooSmall,
		},
		{
			name:     "invalid key",
			err:      &stripe.Error{Msg: "Invalid API Key provided", HTTPStatusCode: 401},
			sentinel: ErrInvalidAPIKey,
		},
		{
			name:     "card declined keeps stripe details",
			err:      &stripe.Error{Code: stripe.ErrorCodeCardDeclined, DeclineCode: "insufficient_funds", Msg: "Your card has insufficient funds.", HTTPStatusCode: 402},
			sentinel: ErrPaymentFailed,
			check: func(t *testing.T, err error) {
				var se *StripeError
				require.ErrorAs(t, err, &se)
				assert.True(t, se.IsDeclined())
				assert.Equal(t, "insufficient_funds", se.DeclineCode)
			},
		},
		{
			name: "server error is temporary",
			err:  &stripe.Error{Msg: "internal", HTTPStatusCode: 500, RequestID: "req_123"},
			check: func(t *testing.T, err error) {
				var se *StripeError
				require.ErrorAs(t, err, &se)
				assert.True(t, se.IsTemporary())
				assert.Equal(t, "req_123", se.RequestID)
			},
		},
		{
			name: "non stripe error is wrapped",
			err:  errors.New("dial tcp: timeout"),
			check: func(t *testing.T, err error) {
				assert.Contains(t, err.Error(), "stripe: dial tcp")
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := wrapStripeError(tt.err)
			require.Error(t, err)
			if tt.sentinel != nil {
				assert.ErrorIs(t, err, tt.sentinel)
			}
			if tt.check != nil {
				tt.check(t, err)
			}
		})
	}

	assert.NoError(t, wrapStripeError(nil))
}

func TestStripeConfig(t *testing.T) {
	cfg := StripeConfig{APIKey: "sk_test_abc", PublishableKey: "pk_test_abc"}
	assert.NoError(t, cfg.Validate())
	assert.True(t, cfg.IsTestMode())

	live := StripeConfig{APIKey: "sk_live_abc", PublishableKey: "pk_live_abc"}
	assert.False(t, live.IsTestMode())

	assert.Error(t, (&StripeConfig{PublishableKey: "pk_test_abc"}).Validate())
	assert.Error(t, (&StripeConfig{APIKey: "sk_test_abc"}).Validate())

	_, err := NewStripeProvider(StripeConfig{})
	assert.Error(t, err)
}

func TestBuildStripeTaxLineItems_SpreadsDiscount(t *testing.T) {
	items := buildStripeTaxLineItems(tax.TaxParams{
		LineItems: []tax.LineItem{
			{ProductID: "a", Quantity: 1, TotalPrice: 3000},
			{ProductID: "b", Quantity: 2, TotalPrice: 1000, TaxCategory: "food"},
		},
		ShippingCents: 500,
		DiscountCents: 1000,
	})

	require.Len(t, items, 3)
	assert.Equal(t, int64(2250), *items[0].Amount)
	assert.Equal(t, int64(750), *items[1].Amount)
	assert.Equal(t, "txcd_30011000", *items[1].TaxCode)
	assert.Equal(t, "shipping", *items[2].Reference)
	assert.Equal(t, int64(500), *items[2].Amount)
}

func TestBuildTaxBreakdown_AggregatesByJurisdiction(t *testing.T) {
	calc := &stripe.TaxCalculation{
		TaxBreakdown: []*stripe.TaxCalculationTaxBreakdown{
			{Amount: 100, TaxRateDetails: &stripe.TaxCalculationTaxBreakdownTaxRateDetails{State: "WA", Country: "US", PercentageDecimal: "6.5", TaxType: "sales_tax"}},
			{Amount: 50, TaxRateDetails: &stripe.TaxCalculationTaxBreakdownTaxRateDetails{State: "WA", Country: "US", PercentageDecimal: "6.5", TaxType: "sales_tax"}},
			{Amount: 20, TaxRateDetails: &stripe.TaxCalculationTaxBreakdownTaxRateDetails{Country: "DE", PercentageDecimal: "19", TaxType: "vat"}},
			{Amount: 10},
		},
	}

	breakdown := buildTaxBreakdown(calc)
	require.Len(t, breakdown, 2)
	assert.Equal(t, "state", breakdown[0].Jurisdiction)
	assert.Equal(t, int64(150), breakdown[0].AmountCents)
	assert.InDelta(t, 0.065, breakdown[0].Rate, 1e-9)
	assert.Equal(t, "country", breakdown[1].Jurisdiction)
	assert.Equal(t, "DE", breakdown[1].Name)
}

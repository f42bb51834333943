package commerce

import (
	"context"
	"time"

	"github.com/dukerupert/checkout-embed/internal/domain"
)

// ObserveFunc is called after every backend call with the operation name,
// its duration and its error.
type ObserveFunc func(operation string, d time.Duration, err error)

// Observe wraps next so that every call is reported to fn.
func Observe(next Backend, fn ObserveFunc) Backend {
	if fn == nil {
		return next
	}
	return &observed{next: next, fn: fn}
}

type observed struct {
	next Backend
	fn   ObserveFunc
}

func (o *observed) report(op string, start time.Time, err error) {
	o.fn(op, time.Since(start), err)
}

func (o *observed) RetrieveCheckout(ctx context.Context, secret, checkoutID string) (s *domain.CheckoutSession, err error) {
	defer func(start time.Time) { o.report("retrieve_checkout", start, err) }(time.Now())
	return o.next.RetrieveCheckout(ctx, secret, checkoutID)
}

func (o *observed) CreateCustomer(ctx context.Context, secret string, data domain.CustomerData) (c *Customer, err error) {
	defer func(start time.Time) { o.report("create_customer", start, err) }(time.Now())
	return o.next.CreateCustomer(ctx, secret, data)
}

func (o *observed) UpdateCustomer(ctx context.Context, secret, customerID string, data domain.CustomerData) (c *Customer, err error) {
	defer func(start time.Time) { o.report("update_customer", start, err) }(time.Now())
	return o.next.UpdateCustomer(ctx, secret, customerID, data)
}

func (o *observed) UpdateCheckout(ctx context.Context, secret, checkoutID string, patch CheckoutPatch) (s *domain.CheckoutSession, err error) {
	defer func(start time.Time) { o.report("update_checkout", start, err) }(time.Now())
	return o.next.UpdateCheckout(ctx, secret, checkoutID, patch)
}

func (o *observed) GetCheckoutShippingRates(ctx context.Context, secret, checkoutID string) (r []domain.ShippingRate, err error) {
	defer func(start time.Time) { o.report("shipping_rates", start, err) }(time.Now())
	return o.next.GetCheckoutShippingRates(ctx, secret, checkoutID)
}

func (o *observed) GenerateCheckoutPaymentSecret(ctx context.Context, secret, checkoutID string) (p *domain.PaymentSecret, err error) {
	defer func(start time.Time) { o.report("payment_secret", start, err) }(time.Now())
	return o.next.GenerateCheckoutPaymentSecret(ctx, secret, checkoutID)
}

func (o *observed) ApplyDiscountCode(ctx context.Context, secret, checkoutID, code string) (s *domain.CheckoutSession, err error) {
	defer func(start time.Time) { o.report("apply_discount", start, err) }(time.Now())
	return o.next.ApplyDiscountCode(ctx, secret, checkoutID, code)
}

func (o *observed) RemoveDiscount(ctx context.Context, secret, checkoutID, discountID string) (s *domain.CheckoutSession, err error) {
	defer func(start time.Time) { o.report("remove_discount", start, err) }(time.Now())
	return o.next.RemoveDiscount(ctx, secret, checkoutID, discountID)
}

func (o *observed) RevalidateDiscounts(ctx context.Context, secret, checkoutID string) (s *domain.CheckoutSession, err error) {
	defer func(start time.Time) { o.report("revalidate_discounts", start, err) }(time.Now())
	return o.next.RevalidateDiscounts(ctx, secret, checkoutID)
}

// CompleteCheckout forwards to next when it is a Completer.
func (o *observed) CompleteCheckout(ctx context.Context, secret, checkoutID string) (err error) {
	c, ok := o.next.(Completer)
	if !ok {
		return nil
	}
	defer func(start time.Time) { o.report("complete_checkout", start, err) }(time.Now())
	return c.CompleteCheckout(ctx, secret, checkoutID)
}

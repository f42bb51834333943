package checkout

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/dukerupert/checkout-embed/internal/commerce"
	"github.com/dukerupert/checkout-embed/internal/domain"
	"github.com/dukerupert/checkout-embed/internal/ledger"
	"github.com/dukerupert/checkout-embed/internal/telemetry"
)

// DiscountField is the form field discount errors are reported under.
const DiscountField = "discountCode"

// DiscountInput is the state of the discount code input. A failed code
// keeps its text and error until the shopper edits it.
type DiscountInput struct {
	Code     string `json:"code"`
	Error    string `json:"error,omitempty"`
	ErrorKey string `json:"errorKey,omitempty"`
	Pending  bool   `json:"pending"`
}

var discountMessages = map[string]string{
	commerce.KeyDiscountNotFound:      "This discount code doesn't exist.",
	commerce.KeyDiscountExpired:       "This discount code has expired.",
	commerce.KeyDiscountUsageLimit:    "This discount code has reached its usage limit.",
	commerce.KeyDiscountNotCombinable: "This discount can't be combined with the discounts already applied.",
	commerce.KeyDiscountNotApplicable: "This discount doesn't apply to the items in your cart.",
	commerce.KeyCheckoutClosed:        "This checkout is no longer active.",
}

// discountMessage picks the message shown under the discount input.
func discountMessage(err error) string {
	if msg, ok := discountMessages[commerce.ErrorKey(err)]; ok {
		return msg
	}
	switch domain.ErrorCode(err) {
	case domain.EINVALID, domain.ENOTFOUND, domain.ECONFLICT:
		return domain.ErrorMessage(err)
	}
	return "We couldn't apply this discount code. Please try again."
}

// rejection is returned for a failed apply. Discount rejections become a
// field error; transport and server failures keep their own code.
func rejection(op string, err error, message string) error {
	switch domain.ErrorCode(err) {
	case domain.EINVALID, domain.ENOTFOUND, domain.ECONFLICT, domain.EGONE:
		return &domain.ValidationError{Op: op, Fields: map[string]string{DiscountField: message}}
	}
	return fmt.Errorf("%s: %w", op, err)
}

// ApplyDiscountCode applies code to the checkout. A code that cannot stack
// with the applied discounts is rejected before the backend is called.
func (o *Orchestrator) ApplyDiscountCode(ctx context.Context, code string) error {
	const op = "checkout.apply_discount"
	ctx = domain.NewContextWithCheckoutID(ctx, o.cfg.CheckoutID)

	sess, _, err := o.ready()
	if err != nil {
		return err
	}

	code = strings.TrimSpace(code)
	if code == "" {
		return o.rejectDiscount(code, "", domain.NewValidationError(op, DiscountField, "Please enter a discount code"))
	}
	if !ledger.CanApplyAnother(sess.AppliedDiscounts) {
		o.metrics.Discount(telemetry.DiscountNotCombinable)
		msg := discountMessages[commerce.KeyDiscountNotCombinable]
		return o.rejectDiscount(code, commerce.KeyDiscountNotCombinable, domain.NewValidationError(op, DiscountField, msg))
	}

	o.mu.Lock()
	o.discount = DiscountInput{Code: code, Pending: true}
	o.mu.Unlock()

	updated, err := o.backend.ApplyDiscountCode(ctx, o.cfg.ClientSecret, o.cfg.CheckoutID, code)
	if err != nil {
		o.metrics.Discount(telemetry.DiscountRejected)
		msg := discountMessage(err)
		o.logger.InfoContext(ctx, "discount code rejected",
			slog.String("key", commerce.ErrorKey(err)),
			slog.String("error", err.Error()),
		)
		return o.rejectDiscount(code, commerce.ErrorKey(err), rejection(op, err, msg))
	}

	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return domain.ErrCheckoutClosed
	}
	if updated != nil {
		o.install(updated)
	}
	o.discount = DiscountInput{}
	o.mu.Unlock()

	o.metrics.Discount(telemetry.DiscountApplied)
	if updated == nil {
		return nil
	}
	return o.reconcile(ctx)
}

// rejectDiscount records a failed apply under the input and returns err.
func (o *Orchestrator) rejectDiscount(code, key string, err error) error {
	msg := domain.GetValidationFields(err)[DiscountField]
	if msg == "" {
		msg = discountMessage(err)
	}

	o.mu.Lock()
	defer o.mu.Unlock()
	if o.closed {
		return domain.ErrCheckoutClosed
	}
	o.discount = DiscountInput{Code: code, Error: msg, ErrorKey: key}
	return err
}

// EditDiscountCode updates the input text. A changed code clears the error
// left by a failed apply.
func (o *Orchestrator) EditDiscountCode(code string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.discount.Pending {
		return
	}
	if code != o.discount.Code {
		o.discount.Error = ""
		o.discount.ErrorKey = ""
	}
	o.discount.Code = code
}

// RemoveDiscount detaches an applied discount. Removing one that is not
// applied is harmless and leaves the totals unchanged.
func (o *Orchestrator) RemoveDiscount(ctx context.Context, discountID string) error {
	const op = "checkout.remove_discount"
	ctx = domain.NewContextWithCheckoutID(ctx, o.cfg.CheckoutID)

	if _, _, err := o.ready(); err != nil {
		return err
	}
	if discountID == "" {
		return domain.Invalid(op, "discount id is required")
	}

	updated, err := o.backend.RemoveDiscount(ctx, o.cfg.ClientSecret, o.cfg.CheckoutID, discountID)
	if err != nil {
		return fmt.Errorf("remove discount: %w", err)
	}
	if err := o.replace(updated); err != nil {
		return err
	}

	o.metrics.Discount(telemetry.DiscountRemoved)
	if updated == nil {
		return nil
	}
	return o.reconcile(ctx)
}

// Revalidate asks the backend to recheck the applied discounts. It does
// nothing while a payment confirmation is being submitted.
func (o *Orchestrator) Revalidate(ctx context.Context) error {
	ctx = domain.NewContextWithCheckoutID(ctx, o.cfg.CheckoutID)

	o.mu.Lock()
	submitting := o.submitting
	o.mu.Unlock()
	if submitting {
		return nil
	}

	sess, _, err := o.ready()
	if err != nil {
		return err
	}
	updated, err := o.backend.RevalidateDiscounts(ctx, o.cfg.ClientSecret, o.cfg.CheckoutID)
	if err != nil {
		return fmt.Errorf("revalidate discounts: %w", err)
	}
	if err := o.replace(updated); err != nil {
		return err
	}
	if updated == nil {
		return nil
	}

	if before, after := ledger.SessionTotals(sess).Total, ledger.SessionTotals(updated).Total; before != after {
		o.logger.InfoContext(ctx, "revalidation changed checkout total",
			slog.Int64("before", before),
			slog.Int64("after", after),
		)
	}
	return o.reconcile(ctx)
}

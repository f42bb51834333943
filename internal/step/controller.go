// Package step sequences the checkout steps and keeps the stored step on
// one whose prerequisites are satisfied.
package step

import (
	"context"
	"log/slog"

	"github.com/dukerupert/checkout-embed/internal/domain"
	"github.com/dukerupert/checkout-embed/internal/session"
	"github.com/dukerupert/checkout-embed/internal/validation"
)

// Controller drives step transitions for one checkout.
type Controller struct {
	store     *session.Store
	validator *validation.Validator
	logger    *slog.Logger
	onChange  func(from, to domain.Step)
}

// NewController creates a controller over the given store.
// onChange, if non-nil, is called after every step change.
func NewController(store *session.Store, v *validation.Validator, logger *slog.Logger, onChange func(from, to domain.Step)) *Controller {
	if logger == nil {
		logger = slog.Default()
	}
	return &Controller{store: store, validator: v, logger: logger, onChange: onChange}
}

// Current returns the stored step.
func (c *Controller) Current() domain.Step {
	return c.store.Step()
}

// CustomerValid reports whether the stored customer data passes validation.
func (c *Controller) CustomerValid() bool {
	return c.validator.Customer(c.store.FormData().Customer) == nil
}

// ShippingValid reports whether the stored shipping selection is valid
// against rates. A nil rates slice checks the schema only.
func (c *Controller) ShippingValid(rates []domain.ShippingRate) bool {
	return c.validator.Shipping(c.store.FormData().Shipping, rates) == nil
}

// Reachable reports whether the prerequisites of target are met.
func (c *Controller) Reachable(target domain.Step, rates []domain.ShippingRate) bool {
	switch target {
	case domain.StepCustomer:
		return true
	case domain.StepShipping:
		return c.CustomerValid()
	case domain.StepPayment:
		return c.CustomerValid() && c.ShippingValid(rates)
	default:
		return false
	}
}

// Advance moves one step forward. The only legal forward transitions are
// customer to shipping and shipping to payment, each gated on the target's
// prerequisites.
func (c *Controller) Advance(ctx context.Context, to domain.Step, rates []domain.ShippingRate) error {
	const op = "step.advance"

	from := c.Current()
	if to.Index() != from.Index()+1 {
		if to == from && c.Reachable(to, rates) {
			return nil
		}
		return domain.Errorf(domain.EINVALID, op, "cannot move from %s to %s", from, to)
	}
	if !c.Reachable(to, rates) {
		return &domain.Error{Code: domain.ErrStepNotReachable.Code, Op: op, Message: domain.ErrStepNotReachable.Message}
	}
	c.set(ctx, from, to)
	return nil
}

// Back moves to an earlier step (the "change" action) and then enforces
// prerequisites, so the stored step may land earlier than requested.
func (c *Controller) Back(ctx context.Context, to domain.Step, rates []domain.ShippingRate) error {
	const op = "step.back"

	from := c.Current()
	if !to.Valid() {
		return domain.Errorf(domain.EINVALID, op, "unknown step: %q", to)
	}
	if from.Before(to) {
		return domain.Errorf(domain.EINVALID, op, "cannot go back from %s to %s", from, to)
	}
	if to != from {
		c.set(ctx, from, to)
	}
	c.Enforce(ctx, rates)
	return nil
}

// Enforce demotes the stored step to the earliest step whose prerequisites
// are unmet: invalid customer data on shipping or payment goes back to
// customer, invalid shipping on payment goes back to shipping. It returns
// the resulting step and never fails.
func (c *Controller) Enforce(ctx context.Context, rates []domain.ShippingRate) domain.Step {
	from := c.Current()
	to := from

	switch {
	case from != domain.StepCustomer && !c.CustomerValid():
		to = domain.StepCustomer
	case from == domain.StepPayment && !c.ShippingValid(rates):
		to = domain.StepShipping
	}

	if to == from {
		return from
	}

	c.logger.InfoContext(ctx, "demoting checkout step",
		slog.String("from", string(from)),
		slog.String("to", string(to)),
	)
	c.set(ctx, from, to)
	return to
}

// set stores the step. A failed write still changes the in-memory step, so
// the failure is only logged.
func (c *Controller) set(ctx context.Context, from, to domain.Step) {
	if err := c.store.SetStep(ctx, to); err != nil {
		c.logger.WarnContext(ctx, "failed to persist checkout step", slog.String("step", string(to)), slog.String("error", err.Error()))
	}
	if c.onChange != nil {
		c.onChange(from, to)
	}
}

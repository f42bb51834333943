// Package validation checks submitted form data against the customer and
// shipping schemas and reports failures as field-level errors.
package validation

import (
	"errors"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/dukerupert/checkout-embed/internal/domain"
)

// Validator wraps a configured go-playground validator.
// It is safe for concurrent use.
type Validator struct {
	v *validator.Validate
}

// New creates a validator that reports JSON field paths.
func New() *Validator {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return &Validator{v: v}
}

// messages are keyed by JSON field path.
var messages = map[string]string{
	"email":           "Please enter a valid email address",
	"lastName":        "Last name is required",
	"address.line1":   "Address is required",
	"address.city":    "City is required",
	"address.state":   "State is required",
	"address.zipCode": "ZIP code is required",
	"address.country": "Country is required",
	"phone":           "Please enter a valid phone number",
	"rateId":          "Please select a shipping method",
	"provider":        "Please select a shipping method",
	"name":            "Please select a shipping method",
	"amount":          "Invalid shipping amount",
	"pickupPointId":   "Please select a pickup point",
}

// Customer validates the customer step data.
func (v *Validator) Customer(c *domain.CustomerData) error {
	const op = "validation.customer"
	if c == nil {
		return domain.NewValidationError(op, "customer", "Customer details are required")
	}
	return v.check(op, c)
}

// ShippingSchema validates the shape of a shipping selection without checking
// it against a rate list.
func (v *Validator) ShippingSchema(s *domain.ShippingSelection) error {
	const op = "validation.shipping"
	if s == nil {
		return domain.NewValidationError(op, "rateId", messages["rateId"])
	}
	return v.check(op, s)
}

// Shipping validates a shipping selection. When rates is non-nil the
// selection must reference one of them, and must carry a pickup point when
// the chosen rate requires one. A nil rates slice means no list has been
// fetched yet and only the schema is checked.
func (v *Validator) Shipping(s *domain.ShippingSelection, rates []domain.ShippingRate) error {
	const op = "validation.shipping"
	if err := v.ShippingSchema(s); err != nil {
		return err
	}
	if rates == nil {
		return nil
	}

	rate, ok := domain.FindRate(rates, s.RateID)
	if !ok {
		return domain.NewValidationError(op, "rateId", "Selected shipping method is no longer available")
	}
	if rate.RequiresPickupPoint && s.PickupPointID == "" {
		return domain.NewValidationError(op, "pickupPointId", messages["pickupPointId"])
	}
	return nil
}

func (v *Validator) check(op string, s any) error {
	err := v.v.Struct(s)
	if err == nil {
		return nil
	}

	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return domain.Internal(err, op, "validation failed")
	}

	ve := &domain.ValidationError{Op: op, Fields: make(map[string]string, len(verrs))}
	for _, fe := range verrs {
		path := fieldPath(fe.Namespace())
		msg, ok := messages[path]
		if !ok {
			msg = fe.Field() + " is invalid"
		}
		ve.Fields[path] = msg
	}
	return ve
}

// fieldPath strips the root struct name from a validator namespace:
// "CustomerData.address.city" becomes "address.city".
func fieldPath(ns string) string {
	if i := strings.IndexByte(ns, '.'); i >= 0 {
		return ns[i+1:]
	}
	return ns
}

package domain

import (
	"fmt"
	"strings"
)

// =============================================================================
// STEPS
// =============================================================================

// Step is a checkout form step. Steps are totally ordered.
type Step string

const (
	StepCustomer Step = "customer"
	StepShipping Step = "shipping"
	StepPayment  Step = "payment"
)

// Steps lists every step in order.
var Steps = []Step{StepCustomer, StepShipping, StepPayment}

// Index returns the position of s in the step order, or -1 if unknown.
func (s Step) Index() int {
	for i, step := range Steps {
		if step == s {
			return i
		}
	}
	return -1
}

// Valid reports whether s is a known step.
func (s Step) Valid() bool {
	return s.Index() >= 0
}

// Before reports whether s comes strictly before other.
func (s Step) Before(other Step) bool {
	return s.Index() < other.Index()
}

// ParseStep validates a step name received from a client.
func ParseStep(v string) (Step, error) {
	s := Step(v)
	if !s.Valid() {
		return "", Errorf(EINVALID, "step.parse", "unknown step: %q", v)
	}
	return s, nil
}

// =============================================================================
// FORM DATA
// =============================================================================

// Address is a customer shipping address.
type Address struct {
	Line1   string `json:"line1" validate:"required"`
	Line2   string `json:"line2,omitempty"`
	City    string `json:"city" validate:"required"`
	State   string `json:"state" validate:"required"`
	ZipCode string `json:"zipCode" validate:"required,min=5"`
	Country string `json:"country" validate:"required"`
}

// Format renders the address on a single line:
// line1, line2, city, "state zip", country with empty parts skipped.
func (a Address) Format() string {
	stateZip := joinNonEmpty(" ", a.State, a.ZipCode)
	return joinNonEmpty(", ", a.Line1, a.Line2, a.City, stateZip, a.Country)
}

func joinNonEmpty(sep string, parts ...string) string {
	kept := parts[:0:0]
	for _, p := range parts {
		if strings.TrimSpace(p) != "" {
			kept = append(kept, p)
		}
	}
	return strings.Join(kept, sep)
}

// CustomerData is the contact and address information entered on the
// customer step.
type CustomerData struct {
	Email            string  `json:"email" validate:"required,email"`
	MarketingConsent bool    `json:"marketingConsent,omitempty"`
	FirstName        string  `json:"firstName,omitempty"`
	LastName         string  `json:"lastName" validate:"required"`
	Address          Address `json:"address"`
	Phone            string  `json:"phone,omitempty" validate:"omitempty,max=32"`
}

// FullName joins first and last name.
func (c CustomerData) FullName() string {
	return joinNonEmpty(" ", c.FirstName, c.LastName)
}

// ShippingSelection is the rate chosen on the shipping step, echoed with the
// rate's display fields and an optional pickup point.
type ShippingSelection struct {
	RateID          string `json:"rateId" validate:"required"`
	Provider        string `json:"provider" validate:"required"`
	Name            string `json:"name" validate:"required"`
	Amount          int64  `json:"amount" validate:"gte=0"`
	PickupPointID   string `json:"pickupPointId,omitempty"`
	PickupPointName string `json:"pickupPointName,omitempty"`
}

// Shipment converts the selection to the shipment echo stored on a checkout.
func (s ShippingSelection) Shipment() *Shipment {
	return &Shipment{
		RateID:        s.RateID,
		Provider:      s.Provider,
		Name:          s.Name,
		Amount:        s.Amount,
		PickupPointID: s.PickupPointID,
	}
}

// FormData is the client-local, persisted form progress.
type FormData struct {
	Customer   *CustomerData      `json:"customer,omitempty"`
	Shipping   *ShippingSelection `json:"shipping,omitempty"`
	CustomerID string             `json:"customerId,omitempty"`
}

// Clone returns a deep copy.
func (f FormData) Clone() FormData {
	cp := f
	if f.Customer != nil {
		c := *f.Customer
		cp.Customer = &c
	}
	if f.Shipping != nil {
		s := *f.Shipping
		cp.Shipping = &s
	}
	return cp
}

// CustomerOnly keeps the customer contact data and drops everything else.
func (f FormData) CustomerOnly() FormData {
	return FormData{Customer: f.Clone().Customer}
}

// String is used in debug logs and never includes contact details.
func (f FormData) String() string {
	return fmt.Sprintf("FormData{customer:%t shipping:%t customerId:%q}", f.Customer != nil, f.Shipping != nil, f.CustomerID)
}

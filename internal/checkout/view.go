package checkout

import (
	"github.com/dukerupert/checkout-embed/internal/domain"
	"github.com/dukerupert/checkout-embed/internal/ledger"
)

// View is a read-only snapshot of a checkout for the view layer.
type View struct {
	CheckoutID string          `json:"checkoutId"`
	Status     Status          `json:"status"`
	Error      string          `json:"error,omitempty"`
	Step       domain.Step     `json:"step"`
	FormData   domain.FormData `json:"formData"`

	Session *domain.CheckoutSession `json:"checkoutSession,omitempty"`
	// Totals are in the checkout's base currency; DisplayTotals apply the
	// session's exchange rate.
	Totals        ledger.Totals         `json:"totals"`
	DisplayTotals ledger.Totals         `json:"displayTotals"`
	ShippingRates []domain.ShippingRate `json:"shippingRates"`

	CanApplyDiscount bool          `json:"canApplyDiscount"`
	DiscountInput    DiscountInput `json:"discountInput"`

	Payment PaymentView `json:"payment"`
}

// PaymentView describes the payment step.
type PaymentView struct {
	// Ready is set when an authorization is cached for the current total.
	Ready bool `json:"ready"`
	// ComponentKey changes whenever the payment element must be remounted.
	ComponentKey int64  `json:"componentKey"`
	Pending      bool   `json:"pending"`
	Submitting   bool   `json:"submitting"`
	Error        string `json:"error,omitempty"`
}

// View returns a snapshot of the checkout.
func (o *Orchestrator) View() View {
	auth, authorized := o.payment.Authorization()
	pending := o.payment.InFlight()
	key := o.payment.ComponentKey()
	st := o.store.State()

	o.mu.Lock()
	defer o.mu.Unlock()

	v := View{
		CheckoutID:    o.cfg.CheckoutID,
		Status:        o.status,
		Step:          st.Step,
		FormData:      st.FormData,
		ShippingRates: append([]domain.ShippingRate(nil), o.rates...),
		DiscountInput: o.discount,
		Payment: PaymentView{
			ComponentKey: key,
			Pending:      pending,
			Submitting:   o.submitting,
			Error:        o.paymentErr,
		},
	}
	if o.loadErr != nil {
		v.Error = domain.ErrorMessage(o.loadErr)
	}
	if o.session == nil {
		return v
	}

	v.Session = o.session.Clone()
	v.Totals = ledger.SessionTotals(o.session)
	v.DisplayTotals = v.Totals.Converted(o.session.Rate())
	v.CanApplyDiscount = ledger.CanApplyAnother(o.session.AppliedDiscounts)
	v.Payment.Ready = authorized && auth.Total == v.Totals.Total
	return v
}

// Package api serves the JSON endpoints the embedded checkout widget talks to.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/dukerupert/checkout-embed/internal/checkout"
	"github.com/dukerupert/checkout-embed/internal/domain"
	"github.com/dukerupert/checkout-embed/internal/handler"
	"github.com/dukerupert/checkout-embed/internal/middleware"
	"github.com/dukerupert/checkout-embed/internal/payment"
)

// CheckoutManager is the part of checkout.Manager the handler uses.
type CheckoutManager interface {
	Open(ctx context.Context, checkoutID, clientSecret string) (*checkout.Orchestrator, error)
	Close(checkoutID string)
}

// CheckoutHandler handles the /api/checkout/{id} routes. Every request
// authenticates with the checkout's client secret as a bearer token.
type CheckoutHandler struct {
	manager CheckoutManager
}

// NewCheckoutHandler creates a new checkout handler
func NewCheckoutHandler(manager CheckoutManager) *CheckoutHandler {
	return &CheckoutHandler{manager: manager}
}

type stepRequest struct {
	Step string `json:"step"`
}

type discountRequest struct {
	Code string `json:"code"`
}

type submittingRequest struct {
	Submitting bool `json:"submitting"`
}

type paymentErrorRequest struct {
	Message string `json:"message"`
}

type elementRequest struct {
	Appearance *payment.AppearanceConfig `json:"appearance,omitempty"`
	Fonts      []payment.Font            `json:"fonts,omitempty"`
}

type redirectResponse struct {
	RedirectURL string `json:"redirectUrl"`
}

// bearerToken returns the token of an "Authorization: Bearer" header.
func bearerToken(r *http.Request) string {
	scheme, token, ok := strings.Cut(r.Header.Get("Authorization"), " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return ""
	}
	return strings.TrimSpace(token)
}

// open resolves the orchestrator for the request, loading it on first use.
// It writes the error response and returns nil on failure.
func (h *CheckoutHandler) open(w http.ResponseWriter, r *http.Request) *checkout.Orchestrator {
	secret := bearerToken(r)
	if secret == "" {
		handler.UnauthorizedResponse(w, r)
		return nil
	}
	o, err := h.manager.Open(r.Context(), middleware.CheckoutID(r), secret)
	if err != nil {
		handler.ErrorResponse(w, r, err)
		return nil
	}
	return o
}

// decode reads a JSON body into dst, writing a 400 or 413 on failure.
func decode(w http.ResponseWriter, r *http.Request, op string, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			handler.ErrorResponse(w, r, domain.Errorf(domain.ETOOLARGE, op, "Request body too large"))
			return false
		}
		handler.ErrorResponse(w, r, domain.Invalid(op, "Invalid request body"))
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// respond writes the checkout view after an operation, or the operation's
// error.
func respond(w http.ResponseWriter, r *http.Request, o *checkout.Orchestrator, err error) {
	if err != nil {
		handler.ErrorResponse(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, o.View())
}

// View handles GET /api/checkout/{id}
func (h *CheckoutHandler) View(w http.ResponseWriter, r *http.Request) {
	o := h.open(w, r)
	if o == nil {
		return
	}
	writeJSON(w, http.StatusOK, o.View())
}

// Reload handles POST /api/checkout/{id}/reload
func (h *CheckoutHandler) Reload(w http.ResponseWriter, r *http.Request) {
	o := h.open(w, r)
	if o == nil {
		return
	}
	respond(w, r, o, o.Reload(r.Context()))
}

// SubmitCustomer handles POST /api/checkout/{id}/customer
func (h *CheckoutHandler) SubmitCustomer(w http.ResponseWriter, r *http.Request) {
	o := h.open(w, r)
	if o == nil {
		return
	}
	var data domain.CustomerData
	if !decode(w, r, "api.submit_customer", &data) {
		return
	}
	respond(w, r, o, o.SubmitCustomer(r.Context(), data))
}

// SubmitShipping handles POST /api/checkout/{id}/shipping
func (h *CheckoutHandler) SubmitShipping(w http.ResponseWriter, r *http.Request) {
	o := h.open(w, r)
	if o == nil {
		return
	}
	var sel domain.ShippingSelection
	if !decode(w, r, "api.submit_shipping", &sel) {
		return
	}
	respond(w, r, o, o.SubmitShipping(r.Context(), sel))
}

// ChangeStep handles POST /api/checkout/{id}/step
func (h *CheckoutHandler) ChangeStep(w http.ResponseWriter, r *http.Request) {
	o := h.open(w, r)
	if o == nil {
		return
	}
	var req stepRequest
	if !decode(w, r, "api.change_step", &req) {
		return
	}
	step, err := domain.ParseStep(req.Step)
	if err != nil {
		handler.ErrorResponse(w, r, err)
		return
	}
	respond(w, r, o, o.ChangeStep(r.Context(), step))
}

// ApplyDiscount handles POST /api/checkout/{id}/discounts
func (h *CheckoutHandler) ApplyDiscount(w http.ResponseWriter, r *http.Request) {
	o := h.open(w, r)
	if o == nil {
		return
	}
	var req discountRequest
	if !decode(w, r, "api.apply_discount", &req) {
		return
	}
	respond(w, r, o, o.ApplyDiscountCode(r.Context(), req.Code))
}

// EditDiscount handles PATCH /api/checkout/{id}/discounts
func (h *CheckoutHandler) EditDiscount(w http.ResponseWriter, r *http.Request) {
	o := h.open(w, r)
	if o == nil {
		return
	}
	var req discountRequest
	if !decode(w, r, "api.edit_discount", &req) {
		return
	}
	o.EditDiscountCode(req.Code)
	respond(w, r, o, nil)
}

// RemoveDiscount handles DELETE /api/checkout/{id}/discounts/{discountID}
func (h *CheckoutHandler) RemoveDiscount(w http.ResponseWriter, r *http.Request) {
	o := h.open(w, r)
	if o == nil {
		return
	}
	respond(w, r, o, o.RemoveDiscount(r.Context(), r.PathValue("discountID")))
}

// PaymentElement handles GET /api/checkout/{id}/payment/element. Theming is
// passed as a JSON "appearance" query parameter.
func (h *CheckoutHandler) PaymentElement(w http.ResponseWriter, r *http.Request) {
	o := h.open(w, r)
	if o == nil {
		return
	}

	var req elementRequest
	if raw := r.URL.Query().Get("appearance"); raw != "" {
		if err := json.Unmarshal([]byte(raw), &req); err != nil {
			handler.ErrorResponse(w, r, domain.Invalid("api.payment_element", "Invalid appearance"))
			return
		}
	}

	opts, ok := o.ElementOptions(req.Appearance, req.Fonts)
	if !ok {
		handler.ErrorResponse(w, r, domain.Conflict("api.payment_element", "Payment is not ready yet"))
		return
	}
	writeJSON(w, http.StatusOK, opts)
}

// PaymentSubmitting handles POST /api/checkout/{id}/payment/submitting
func (h *CheckoutHandler) PaymentSubmitting(w http.ResponseWriter, r *http.Request) {
	o := h.open(w, r)
	if o == nil {
		return
	}
	var req submittingRequest
	if !decode(w, r, "api.payment_submitting", &req) {
		return
	}
	o.SetSubmitting(req.Submitting)
	respond(w, r, o, nil)
}

// PaymentError handles POST /api/checkout/{id}/payment/error
func (h *CheckoutHandler) PaymentError(w http.ResponseWriter, r *http.Request) {
	o := h.open(w, r)
	if o == nil {
		return
	}
	var req paymentErrorRequest
	if !decode(w, r, "api.payment_error", &req) {
		return
	}
	o.FailPayment(req.Message)
	respond(w, r, o, nil)
}

// PaymentSuccess handles POST /api/checkout/{id}/payment/success. The
// checkout is closed and the shopper sent to the success URL.
func (h *CheckoutHandler) PaymentSuccess(w http.ResponseWriter, r *http.Request) {
	h.finish(w, r, (*checkout.Orchestrator).CompletePayment)
}

// Cancel handles POST /api/checkout/{id}/cancel
func (h *CheckoutHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	h.finish(w, r, (*checkout.Orchestrator).Cancel)
}

func (h *CheckoutHandler) finish(w http.ResponseWriter, r *http.Request, fn func(*checkout.Orchestrator, context.Context) (string, error)) {
	o := h.open(w, r)
	if o == nil {
		return
	}
	url, err := fn(o, r.Context())
	if err != nil {
		handler.ErrorResponse(w, r, err)
		return
	}
	h.manager.Close(o.ID())
	writeJSON(w, http.StatusOK, redirectResponse{RedirectURL: url})
}

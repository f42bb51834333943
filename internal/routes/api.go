package routes

import (
	"net/http"

	"github.com/dukerupert/checkout-embed/internal/router"
)

// RegisterAPIRoutes registers the checkout widget API.
func RegisterAPIRoutes(r *router.Router, deps APIDeps) {
	h := deps.CheckoutHandler

	var discountLimit []router.Middleware
	if deps.DiscountLimit != nil {
		discountLimit = append(discountLimit, deps.DiscountLimit)
	}

	r.Get("/api/checkout/{id}", h.View)
	r.Post("/api/checkout/{id}/reload", h.Reload)

	// Form steps
	r.Post("/api/checkout/{id}/customer", h.SubmitCustomer)
	r.Post("/api/checkout/{id}/shipping", h.SubmitShipping)
	r.Post("/api/checkout/{id}/step", h.ChangeStep)

	// Discounts
	r.Post("/api/checkout/{id}/discounts", h.ApplyDiscount, discountLimit...)
	r.Patch("/api/checkout/{id}/discounts", h.EditDiscount)
	r.Delete("/api/checkout/{id}/discounts/{discountID}", h.RemoveDiscount)

	// Payment
	r.Get("/api/checkout/{id}/payment/element", h.PaymentElement)
	r.Post("/api/checkout/{id}/payment/submitting", h.PaymentSubmitting)
	r.Post("/api/checkout/{id}/payment/success", h.PaymentSuccess)
	r.Post("/api/checkout/{id}/payment/error", h.PaymentError)
	r.Post("/api/checkout/{id}/cancel", h.Cancel)
}

// RegisterOpsRoutes registers health and metrics endpoints.
func RegisterOpsRoutes(r *router.Router, deps OpsDeps) {
	r.Get("/healthz", func(w http.ResponseWriter, req *http.Request) {
		if deps.Health != nil {
			if err := deps.Health(); err != nil {
				http.Error(w, "unhealthy", http.StatusServiceUnavailable)
				return
			}
		}
		w.Header().Set("Content-Type", "text/plain")
		w.Write([]byte("ok"))
	})
	if deps.Metrics != nil {
		r.Handle(http.MethodGet, "/metrics", deps.Metrics)
	}
}

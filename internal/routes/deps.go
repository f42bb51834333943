package routes

import (
	"net/http"

	"github.com/dukerupert/checkout-embed/internal/handler/api"
	"github.com/dukerupert/checkout-embed/internal/router"
)

// APIDeps contains dependencies for the checkout API routes
type APIDeps struct {
	CheckoutHandler *api.CheckoutHandler

	// DiscountLimit guards discount code attempts. Optional.
	DiscountLimit router.Middleware
}

// OpsDeps contains dependencies for operational routes
type OpsDeps struct {
	// Health reports readiness. Optional; defaults to always healthy.
	Health func() error

	// Metrics serves Prometheus metrics. Optional.
	Metrics http.Handler
}

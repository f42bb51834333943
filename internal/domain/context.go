// Package domain provides the core checkout types, error taxonomy and
// context helpers shared by every other package.
//
// Context helpers centralize request-scoped data access so the commerce
// client and loggers read request metadata the same way everywhere.
package domain

import "context"

// contextKey is an unexported type for context keys to prevent collisions.
type contextKey int

const (
	// requestIDContextKey stores the request ID for tracing.
	requestIDContextKey contextKey = iota

	// checkoutIDContextKey stores the checkout the request operates on.
	checkoutIDContextKey
)

// --- Request ID Context Helpers ---

// NewContextWithRequestID returns a new context with the request ID attached.
func NewContextWithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, requestIDContextKey, requestID)
}

// RequestIDFromContext retrieves the request ID from context.
// Returns empty string if no request ID is present.
func RequestIDFromContext(ctx context.Context) string {
	requestID, _ := ctx.Value(requestIDContextKey).(string)
	return requestID
}

// --- Checkout ID Context Helpers ---

// NewContextWithCheckoutID returns a new context with the checkout ID attached.
func NewContextWithCheckoutID(ctx context.Context, checkoutID string) context.Context {
	return context.WithValue(ctx, checkoutIDContextKey, checkoutID)
}

// CheckoutIDFromContext retrieves the checkout ID from context.
// Returns empty string if no checkout ID is present.
func CheckoutIDFromContext(ctx context.Context) string {
	checkoutID, _ := ctx.Value(checkoutIDContextKey).(string)
	return checkoutID
}

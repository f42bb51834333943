package commerce

import (
	"errors"
	"fmt"
	"net/http"
	"slices"

	"github.com/dukerupert/checkout-embed/internal/domain"
)

// Error keys the backend may return. The view layer has a translated
// message for each of them.
const (
	KeyCheckoutNotFound      = "checkout_not_found"
	KeyCheckoutClosed        = "checkout_closed"
	KeyCustomerNotFound      = "customer_not_found"
	KeyDiscountNotFound      = "discount_not_found"
	KeyDiscountExpired       = "discount_expired"
	KeyDiscountUsageLimit    = "discount_usage_limit_reached"
	KeyDiscountNotCombinable = "discount_not_combinable"
	KeyDiscountNotApplicable = "discount_not_applicable"
	KeyInvalidShippingRate   = "invalid_shipping_rate"
	KeyShippingUnavailable   = "shipping_unavailable"
	KeyPaymentFailed         = "payment_failed"
	KeyAmountTooSmall        = "amount_too_small"
	KeyUnauthorized          = "unauthorized"
	KeyInvalidRequest        = "invalid_request"
	KeyUnknown               = "unknown_error"
)

var knownKeys = []string{
	KeyCheckoutNotFound,
	KeyCheckoutClosed,
	KeyCustomerNotFound,
	KeyDiscountNotFound,
	KeyDiscountExpired,
	KeyDiscountUsageLimit,
	KeyDiscountNotCombinable,
	KeyDiscountNotApplicable,
	KeyInvalidShippingRate,
	KeyShippingUnavailable,
	KeyPaymentFailed,
	KeyAmountTooSmall,
	KeyUnauthorized,
	KeyInvalidRequest,
	KeyUnknown,
}

// NormalizeKey returns key when it is a known error key and KeyUnknown
// otherwise.
func NormalizeKey(key string) string {
	if slices.Contains(knownKeys, key) {
		return key
	}
	return KeyUnknown
}

// APIError is a non-2xx response from the commerce backend.
type APIError struct {
	StatusCode int
	Key        string
	Message    string
}

func (e *APIError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("commerce api: status %d: %s: %s", e.StatusCode, e.Key, e.Message)
	}
	return fmt.Sprintf("commerce api: status %d: %s", e.StatusCode, e.Key)
}

// ErrorCode maps the response status onto the domain error taxonomy.
func (e *APIError) ErrorCode() string {
	switch {
	case e.StatusCode == http.StatusUnauthorized || e.StatusCode == http.StatusForbidden:
		return domain.EUNAUTHORIZED
	case e.StatusCode == http.StatusNotFound:
		return domain.ENOTFOUND
	case e.StatusCode == http.StatusConflict:
		return domain.ECONFLICT
	case e.StatusCode == http.StatusGone:
		return domain.EGONE
	case e.StatusCode == http.StatusPaymentRequired:
		return domain.EPAYMENT
	case e.StatusCode >= 400 && e.StatusCode < 500:
		return domain.EINVALID
	default:
		return domain.EINTERNAL
	}
}

// ErrorMessage is the backend's message, or the key when it sent none.
func (e *APIError) ErrorMessage() string {
	if e.Message != "" {
		return e.Message
	}
	return e.Key
}

// ErrorKey returns the normalized error key carried by err, or KeyUnknown.
func ErrorKey(err error) string {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return NormalizeKey(apiErr.Key)
	}
	return KeyUnknown
}

// toDomain converts an API error into a domain error so handlers and the
// orchestrator see one taxonomy.
func toDomain(err error, op string) error {
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		return domain.WrapError(err, domain.EUNAVAILABLE, op, "Commerce backend is unavailable")
	}
	code := apiErr.ErrorCode()
	if code == domain.EINTERNAL {
		return domain.Internal(err, op, "commerce backend error")
	}
	return domain.WrapError(err, code, op, apiErr.ErrorMessage())
}

// apiError builds an APIError for LocalBackend and tests.
func apiError(status int, key, message string) *APIError {
	return &APIError{StatusCode: status, Key: key, Message: message}
}

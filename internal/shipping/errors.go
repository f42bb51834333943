package shipping

import "github.com/dukerupert/checkout-embed/internal/domain"

// Quote failures. The commerce backend maps both to the
// shipping_unavailable error key.
var (
	ErrDestinationRequired = &domain.Error{Code: domain.EINVALID, Op: "shipping.rates", Message: "Destination country is required"}
	ErrNoRates             = &domain.Error{Code: domain.EUNAVAILABLE, Op: "shipping.rates", Message: "No shipping rates available"}
)

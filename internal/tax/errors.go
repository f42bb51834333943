package tax

import "github.com/dukerupert/checkout-embed/internal/domain"

var (
	// ErrInvalidTaxRate is returned when the configured rate is outside [0, 1].
	ErrInvalidTaxRate = &domain.Error{Code: domain.EINVALID, Op: "tax.calculate", Message: "Tax rate must be between 0 and 1"}

	// ErrNegativeAmount is returned when a line item or shipping amount is negative.
	ErrNegativeAmount = &domain.Error{Code: domain.EINVALID, Op: "tax.calculate", Message: "Taxable amounts cannot be negative"}
)

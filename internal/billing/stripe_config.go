package billing

import (
	"errors"
	"strings"
)

// StripeConfig contains configuration for Stripe provider.
type StripeConfig struct {
	// APIKey is the Stripe secret key (sk_test_... or sk_live_...)
	APIKey string

	// PublishableKey is the public key handed to the payment element (pk_...)
	PublishableKey string
}

// Validate checks that required configuration is present.
func (c *StripeConfig) Validate() error {
	if c.APIKey == "" || !strings.HasPrefix(c.APIKey, "sk_") {
		return errors.New("stripe: API key is required")
	}
	if !strings.HasPrefix(c.PublishableKey, "pk_") {
		return errors.New("stripe: publishable key is required")
	}
	return nil
}

// IsTestMode returns true if using test mode API keys.
func (c *StripeConfig) IsTestMode() bool {
	return strings.HasPrefix(c.APIKey, "sk_test_")
}

package commerce

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/dukerupert/checkout-embed/internal/domain"
)

// MockBackend is a recording Backend for tests. Each method calls its Func
// override when set; otherwise it serves the Session and Rates fields.
type MockBackend struct {
	RetrieveCheckoutFunc              func(ctx context.Context, secret, checkoutID string) (*domain.CheckoutSession, error)
	CreateCustomerFunc                func(ctx context.Context, secret string, data domain.CustomerData) (*Customer, error)
	UpdateCustomerFunc                func(ctx context.Context, secret, customerID string, data domain.CustomerData) (*Customer, error)
	UpdateCheckoutFunc                func(ctx context.Context, secret, checkoutID string, patch CheckoutPatch) (*domain.CheckoutSession, error)
	GetCheckoutShippingRatesFunc      func(ctx context.Context, secret, checkoutID string) ([]domain.ShippingRate, error)
	GenerateCheckoutPaymentSecretFunc func(ctx context.Context, secret, checkoutID string) (*domain.PaymentSecret, error)
	ApplyDiscountCodeFunc             func(ctx context.Context, secret, checkoutID, code string) (*domain.CheckoutSession, error)
	RemoveDiscountFunc                func(ctx context.Context, secret, checkoutID, discountID string) (*domain.CheckoutSession, error)
	RevalidateDiscountsFunc           func(ctx context.Context, secret, checkoutID string) (*domain.CheckoutSession, error)

	mu      sync.Mutex
	Session *domain.CheckoutSession
	Rates   []domain.ShippingRate
	secrets int

	// CallLog tracks method calls for test assertions
	CallLog []string
}

// NewMockBackend creates a mock serving session.
func NewMockBackend(session *domain.CheckoutSession) *MockBackend {
	return &MockBackend{Session: session, CallLog: []string{}}
}

var _ Backend = (*MockBackend)(nil)

func (m *MockBackend) record(format string, args ...any) {
	m.mu.Lock()
	m.CallLog = append(m.CallLog, fmt.Sprintf(format, args...))
	m.mu.Unlock()
}

// Calls returns a copy of the call log.
func (m *MockBackend) Calls() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.CallLog...)
}

// CallCount returns how many times method was called.
func (m *MockBackend) CallCount(method string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, c := range m.CallLog {
		if strings.HasPrefix(c, method+"(") {
			n++
		}
	}
	return n
}

// SetSession replaces the session served by default.
func (m *MockBackend) SetSession(s *domain.CheckoutSession) {
	m.mu.Lock()
	m.Session = s
	m.mu.Unlock()
}

// CurrentSession returns a copy of the session served by default.
func (m *MockBackend) CurrentSession() *domain.CheckoutSession {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.Session.Clone()
}

func (m *MockBackend) RetrieveCheckout(ctx context.Context, secret, checkoutID string) (*domain.CheckoutSession, error) {
	m.record("RetrieveCheckout(%s)", checkoutID)
	if m.RetrieveCheckoutFunc != nil {
		return m.RetrieveCheckoutFunc(ctx, secret, checkoutID)
	}
	s := m.CurrentSession()
	if s == nil {
		return nil, domain.NotFound("mock.retrieve_checkout", "checkout", checkoutID)
	}
	return s, nil
}

func (m *MockBackend) CreateCustomer(ctx context.Context, secret string, data domain.CustomerData) (*Customer, error) {
	m.record("CreateCustomer(%s)", data.Email)
	if m.CreateCustomerFunc != nil {
		return m.CreateCustomerFunc(ctx, secret, data)
	}
	return customerFromData("cus_mock", data), nil
}

func (m *MockBackend) UpdateCustomer(ctx context.Context, secret, customerID string, data domain.CustomerData) (*Customer, error) {
	m.record("UpdateCustomer(%s)", customerID)
	if m.UpdateCustomerFunc != nil {
		return m.UpdateCustomerFunc(ctx, secret, customerID, data)
	}
	return customerFromData(customerID, data), nil
}

// UpdateCheckout applies patch to the served session by default.
func (m *MockBackend) UpdateCheckout(ctx context.Context, secret, checkoutID string, patch CheckoutPatch) (*domain.CheckoutSession, error) {
	m.record("UpdateCheckout(%s)", checkoutID)
	if m.UpdateCheckoutFunc != nil {
		return m.UpdateCheckoutFunc(ctx, secret, checkoutID, patch)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Session == nil {
		return nil, domain.NotFound("mock.update_checkout", "checkout", checkoutID)
	}
	if patch.CustomerID != nil {
		m.Session.CustomerID = *patch.CustomerID
	}
	if patch.Shipment != nil {
		sh := *patch.Shipment
		m.Session.Shipment = &sh
		m.Session.Shipping = sh.Amount
	} else if patch.ShippingCost != nil {
		m.Session.Shipping = *patch.ShippingCost
	}
	return m.Session.Clone(), nil
}

func (m *MockBackend) GetCheckoutShippingRates(ctx context.Context, secret, checkoutID string) ([]domain.ShippingRate, error) {
	m.record("GetCheckoutShippingRates(%s)", checkoutID)
	if m.GetCheckoutShippingRatesFunc != nil {
		return m.GetCheckoutShippingRatesFunc(ctx, secret, checkoutID)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]domain.ShippingRate{}, m.Rates...), nil
}

// GenerateCheckoutPaymentSecret returns a fresh secret per call by default.
func (m *MockBackend) GenerateCheckoutPaymentSecret(ctx context.Context, secret, checkoutID string) (*domain.PaymentSecret, error) {
	m.record("GenerateCheckoutPaymentSecret(%s)", checkoutID)
	if m.GenerateCheckoutPaymentSecretFunc != nil {
		return m.GenerateCheckoutPaymentSecretFunc(ctx, secret, checkoutID)
	}
	m.mu.Lock()
	m.secrets++
	n := m.secrets
	session := m.Session.Clone()
	m.mu.Unlock()
	return &domain.PaymentSecret{
		PaymentSecret:   fmt.Sprintf("pi_mock_%d_secret", n),
		PublicKey:       "pk_test_mock",
		CheckoutSession: session,
	}, nil
}

func (m *MockBackend) ApplyDiscountCode(ctx context.Context, secret, checkoutID, code string) (*domain.CheckoutSession, error) {
	m.record("ApplyDiscountCode(%s)", code)
	if m.ApplyDiscountCodeFunc != nil {
		return m.ApplyDiscountCodeFunc(ctx, secret, checkoutID, code)
	}
	return nil, domain.WrapError(apiError(404, KeyDiscountNotFound, "discount code not found"), domain.ENOTFOUND, "mock.apply_discount", "discount code not found")
}

// RemoveDiscount drops the application from the served session by default.
func (m *MockBackend) RemoveDiscount(ctx context.Context, secret, checkoutID, discountID string) (*domain.CheckoutSession, error) {
	m.record("RemoveDiscount(%s)", discountID)
	if m.RemoveDiscountFunc != nil {
		return m.RemoveDiscountFunc(ctx, secret, checkoutID, discountID)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Session == nil {
		return nil, domain.NotFound("mock.remove_discount", "checkout", checkoutID)
	}
	kept := m.Session.AppliedDiscounts[:0:0]
	for _, a := range m.Session.AppliedDiscounts {
		if a.ID != discountID {
			kept = append(kept, a)
		}
	}
	m.Session.AppliedDiscounts = kept
	return m.Session.Clone(), nil
}

func (m *MockBackend) RevalidateDiscounts(ctx context.Context, secret, checkoutID string) (*domain.CheckoutSession, error) {
	m.record("RevalidateDiscounts(%s)", checkoutID)
	if m.RevalidateDiscountsFunc != nil {
		return m.RevalidateDiscountsFunc(ctx, secret, checkoutID)
	}
	s := m.CurrentSession()
	if s == nil {
		return nil, domain.NotFound("mock.revalidate_discounts", "checkout", checkoutID)
	}
	return s, nil
}

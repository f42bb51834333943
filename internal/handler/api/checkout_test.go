package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dukerupert/checkout-embed/internal/checkout"
	"github.com/dukerupert/checkout-embed/internal/commerce"
	"github.com/dukerupert/checkout-embed/internal/domain"
	"github.com/dukerupert/checkout-embed/internal/events"
	"github.com/dukerupert/checkout-embed/internal/router"
	"github.com/dukerupert/checkout-embed/internal/storage"
)

const testSecret = "cs_test_1"

type testServer struct {
	router    *router.Router
	manager   *checkout.Manager
	backend   *commerce.MockBackend
	publisher *events.MemoryPublisher
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()

	backend := commerce.NewMockBackend(&domain.CheckoutSession{
		ID:       "chk_1",
		Status:   domain.CheckoutOpen,
		Currency: "usd",
		LineItems: []domain.LineItem{{
			ID:        "li_1",
			ProductID: "p1",
			Quantity:  1,
			Product:   domain.Product{ID: "p1", PriceInCents: 4000},
		}},
	})
	backend.Rates = []domain.ShippingRate{
		{ID: "standard", Provider: "flat", Name: "Standard", Amount: 500, Currency: "usd"},
	}
	store := storage.NewMemoryStorage()
	publisher := &events.MemoryPublisher{}

	factory := func(id, secret string) (*checkout.Orchestrator, error) {
		return checkout.New(checkout.Config{
			CheckoutID:         id,
			ClientSecret:       secret,
			SuccessURL:         "https://shop.example/thanks",
			CancelURL:          "https://shop.example/cart",
			RevalidateInterval: time.Hour,
		}, checkout.Deps{Backend: backend, Storage: store, Publisher: publisher})
	}
	manager := checkout.NewManager(context.Background(), factory, nil, nil)
	t.Cleanup(manager.Shutdown)

	r := router.New()
	registerTestRoutes(r, NewCheckoutHandler(manager))

	return &testServer{router: r, manager: manager, backend: backend, publisher: publisher}
}

// registerTestRoutes mirrors the production route table.
func registerTestRoutes(r *router.Router, h *CheckoutHandler) {
	r.Get("/api/checkout/{id}", h.View)
	r.Post("/api/checkout/{id}/reload", h.Reload)
	r.Post("/api/checkout/{id}/customer", h.SubmitCustomer)
	r.Post("/api/checkout/{id}/shipping", h.SubmitShipping)
	r.Post("/api/checkout/{id}/step", h.ChangeStep)
	r.Post("/api/checkout/{id}/discounts", h.ApplyDiscount)
	r.Patch("/api/checkout/{id}/discounts", h.EditDiscount)
	r.Delete("/api/checkout/{id}/discounts/{discountID}", h.RemoveDiscount)
	r.Get("/api/checkout/{id}/payment/element", h.PaymentElement)
	r.Post("/api/checkout/{id}/payment/submitting", h.PaymentSubmitting)
	r.Post("/api/checkout/{id}/payment/success", h.PaymentSuccess)
	r.Post("/api/checkout/{id}/payment/error", h.PaymentError)
	r.Post("/api/checkout/{id}/cancel", h.Cancel)
}

func (s *testServer) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	return s.doWithSecret(t, method, path, body, testSecret)
}

func (s *testServer) doWithSecret(t *testing.T, method, path string, body any, secret string) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if secret != "" {
		req.Header.Set("Authorization", "Bearer "+secret)
	}
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	return rec
}

func decodeView(t *testing.T, rec *httptest.ResponseRecorder) checkout.View {
	t.Helper()
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var v checkout.View
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&v))
	return v
}

type errorEnvelope struct {
	Error struct {
		Code    string            `json:"code"`
		Message string            `json:"message"`
		Fields  map[string]string `json:"fields"`
	} `json:"error"`
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) errorEnvelope {
	t.Helper()
	var e errorEnvelope
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&e))
	return e
}

func customer() domain.CustomerData {
	return domain.CustomerData{
		Email:    "ada@example.com",
		LastName: "Lovelace",
		Address: domain.Address{
			Line1:   "1 Main St",
			City:    "Portland",
			State:   "OR",
			ZipCode: "97201",
			Country: "US",
		},
	}
}

func (s *testServer) toPayment(t *testing.T) {
	t.Helper()
	decodeView(t, s.do(t, http.MethodPost, "/api/checkout/chk_1/customer", customer()))
	v := decodeView(t, s.do(t, http.MethodPost, "/api/checkout/chk_1/shipping", domain.ShippingSelection{
		RateID: "standard", Provider: "flat", Name: "Standard",
	}))
	require.Equal(t, domain.StepPayment, v.Step)
}

func TestCheckoutHandler_RequiresBearerSecret(t *testing.T) {
	s := newTestServer(t)

	rec := s.doWithSecret(t, http.MethodGet, "/api/checkout/chk_1", nil, "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, domain.EUNAUTHORIZED, decodeError(t, rec).Error.Code)
	assert.Zero(t, s.backend.CallCount("RetrieveCheckout"))
}

func TestCheckoutHandler_SecretMismatch(t *testing.T) {
	s := newTestServer(t)
	decodeView(t, s.do(t, http.MethodGet, "/api/checkout/chk_1", nil))

	rec := s.doWithSecret(t, http.MethodGet, "/api/checkout/chk_1", nil, "cs_other")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestCheckoutHandler_View(t *testing.T) {
	s := newTestServer(t)

	v := decodeView(t, s.do(t, http.MethodGet, "/api/checkout/chk_1", nil))
	assert.Equal(t, "chk_1", v.CheckoutID)
	assert.Equal(t, checkout.StatusReady, v.Status)
	assert.Equal(t, domain.StepCustomer, v.Step)
	assert.Equal(t, int64(4000), v.Totals.Total)
	assert.True(t, v.CanApplyDiscount)
}

func TestCheckoutHandler_UnknownCheckout(t *testing.T) {
	s := newTestServer(t)
	s.backend.SetSession(nil)

	rec := s.do(t, http.MethodGet, "/api/checkout/chk_1", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Zero(t, s.manager.Len())
}

func TestCheckoutHandler_CustomerValidation(t *testing.T) {
	s := newTestServer(t)

	c := customer()
	c.Email = "nope"
	rec := s.do(t, http.MethodPost, "/api/checkout/chk_1/customer", c)

	require.Equal(t, http.StatusBadRequest, rec.Code)
	e := decodeError(t, rec)
	assert.Equal(t, domain.EINVALID, e.Error.Code)
	assert.Equal(t, "Please enter a valid email address", e.Error.Fields["email"])
}

func TestCheckoutHandler_MalformedBody(t *testing.T) {
	s := newTestServer(t)

	req := httptest.NewRequest(http.MethodPost, "/api/checkout/chk_1/customer", bytes.NewBufferString("{"))
	req.Header.Set("Authorization", "Bearer "+testSecret)
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestCheckoutHandler_FlowToPayment(t *testing.T) {
	s := newTestServer(t)

	v := decodeView(t, s.do(t, http.MethodPost, "/api/checkout/chk_1/customer", customer()))
	assert.Equal(t, domain.StepShipping, v.Step)
	assert.Len(t, v.ShippingRates, 1)

	v = decodeView(t, s.do(t, http.MethodPost, "/api/checkout/chk_1/shipping", domain.ShippingSelection{
		RateID: "standard", Provider: "flat", Name: "Standard",
	}))
	assert.Equal(t, domain.StepPayment, v.Step)
	assert.Equal(t, int64(4500), v.Totals.Total)
	assert.True(t, v.Payment.Ready)

	rec := s.do(t, http.MethodGet, "/api/checkout/chk_1/payment/element", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var opts struct {
		ClientSecret string `json:"clientSecret"`
		PublicKey    string `json:"publicKey"`
		Appearance   struct {
			Theme string `json:"theme"`
		} `json:"appearance"`
	}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&opts))
	assert.Equal(t, "pi_mock_1_secret", opts.ClientSecret)
	assert.Equal(t, "pk_test_mock", opts.PublicKey)
}

func TestCheckoutHandler_PaymentElementAppearance(t *testing.T) {
	s := newTestServer(t)
	s.toPayment(t)

	q := url.Values{"appearance": {`{"appearance":{"theme":"dark"},"fonts":[{"family":"Inter"}]}`}}
	rec := s.do(t, http.MethodGet, "/api/checkout/chk_1/payment/element?"+q.Encode(), nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"colorBackground":"#09090B"`)
	assert.Contains(t, rec.Body.String(), `"family":"Inter"`)

	q = url.Values{"appearance": {"{bad"}}
	rec = s.do(t, http.MethodGet, "/api/checkout/chk_1/payment/element?"+q.Encode(), nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestCheckoutHandler_PaymentElementNotReady(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(t, http.MethodGet, "/api/checkout/chk_1/payment/element", nil)
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestCheckoutHandler_ChangeStep(t *testing.T) {
	s := newTestServer(t)
	s.toPayment(t)

	v := decodeView(t, s.do(t, http.MethodPost, "/api/checkout/chk_1/step", map[string]string{"step": "shipping"}))
	assert.Equal(t, domain.StepShipping, v.Step)

	rec := s.do(t, http.MethodPost, "/api/checkout/chk_1/step", map[string]string{"step": "review"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestCheckoutHandler_DiscountRejectedKeepsCode(t *testing.T) {
	s := newTestServer(t)
	decodeView(t, s.do(t, http.MethodGet, "/api/checkout/chk_1", nil))

	rec := s.do(t, http.MethodPost, "/api/checkout/chk_1/discounts", map[string]string{"code": "NOPE"})
	require.Equal(t, http.StatusBadRequest, rec.Code)
	e := decodeError(t, rec)
	assert.Equal(t, "This discount code doesn't exist.", e.Error.Fields[checkout.DiscountField])

	v := decodeView(t, s.do(t, http.MethodGet, "/api/checkout/chk_1", nil))
	assert.Equal(t, "NOPE", v.DiscountInput.Code)
	assert.NotEmpty(t, v.DiscountInput.Error)

	v = decodeView(t, s.do(t, http.MethodPatch, "/api/checkout/chk_1/discounts", map[string]string{"code": "NOPE2"}))
	assert.Equal(t, "NOPE2", v.DiscountInput.Code)
	assert.Empty(t, v.DiscountInput.Error)
}

func TestCheckoutHandler_RemoveDiscount(t *testing.T) {
	s := newTestServer(t)
	s.backend.Session.AppliedDiscounts = []domain.AppliedDiscount{{ID: "ad_1", Amount: 1000}}

	v := decodeView(t, s.do(t, http.MethodGet, "/api/checkout/chk_1", nil))
	assert.Equal(t, int64(3000), v.Totals.Total)

	v = decodeView(t, s.do(t, http.MethodDelete, "/api/checkout/chk_1/discounts/ad_1", nil))
	assert.Equal(t, int64(4000), v.Totals.Total)
}

func TestCheckoutHandler_PaymentError(t *testing.T) {
	s := newTestServer(t)
	s.toPayment(t)

	v := decodeView(t, s.do(t, http.MethodPost, "/api/checkout/chk_1/payment/submitting", map[string]bool{"submitting": true}))
	assert.True(t, v.Payment.Submitting)

	v = decodeView(t, s.do(t, http.MethodPost, "/api/checkout/chk_1/payment/error", map[string]string{"message": "Card declined"}))
	assert.False(t, v.Payment.Submitting)
	assert.Equal(t, "Card declined", v.Payment.Error)
	assert.NotNil(t, v.FormData.Customer)
	assert.NotNil(t, v.FormData.Shipping)
}

func TestCheckoutHandler_PaymentSuccess(t *testing.T) {
	s := newTestServer(t)
	s.toPayment(t)

	rec := s.do(t, http.MethodPost, "/api/checkout/chk_1/payment/success", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp redirectResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.Equal(t, "https://shop.example/thanks", resp.RedirectURL)
	assert.Zero(t, s.manager.Len())

	evs := s.publisher.Events()
	require.Len(t, evs, 1)
	assert.Equal(t, events.TypeCompleted, evs[0].Type)
	assert.Equal(t, int64(4500), evs[0].Total)
}

func TestCheckoutHandler_Cancel(t *testing.T) {
	s := newTestServer(t)
	decodeView(t, s.do(t, http.MethodGet, "/api/checkout/chk_1", nil))

	rec := s.do(t, http.MethodPost, "/api/checkout/chk_1/cancel", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp redirectResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.Equal(t, "https://shop.example/cart", resp.RedirectURL)
	assert.Zero(t, s.manager.Len())
}

func TestBearerToken(t *testing.T) {
	tests := map[string]string{
		"Bearer cs_1":  "cs_1",
		"bearer cs_1":  "cs_1",
		"Basic abc":    "",
		"Bearer":       "",
		"":             "",
		"Bearer  cs_2": "cs_2",
	}
	for header, want := range tests {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		if header != "" {
			req.Header.Set("Authorization", header)
		}
		assert.Equal(t, want, bearerToken(req), header)
	}
}

package commerce

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/dukerupert/checkout-embed/internal/domain"
)

// maxErrorBody caps how much of an error response is read.
const maxErrorBody = 64 << 10

// Client is the HTTP implementation of Backend. Requests are JSON,
// authenticated with the checkout client secret as a bearer token, and are
// never retried.
type Client struct {
	baseURL    string
	httpClient *http.Client
	logger     *slog.Logger
	logBodies  bool
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithHTTPClient replaces the default http.Client.
func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *Client) { c.httpClient = hc }
}

// WithClientLogger sets the logger used for request tracing.
func WithClientLogger(l *slog.Logger) ClientOption {
	return func(c *Client) { c.logger = l }
}

// WithBodyLogging includes response bodies in debug logs. Bodies carry
// customer details; keep it off outside development.
func WithBodyLogging(enabled bool) ClientOption {
	return func(c *Client) { c.logBodies = enabled }
}

// NewClient creates a client for the API rooted at baseURL.
func NewClient(baseURL string, timeout time.Duration, opts ...ClientOption) (*Client, error) {
	u, err := url.Parse(baseURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("invalid commerce base url %q", baseURL)
	}
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	c := &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: timeout},
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

var _ Backend = (*Client)(nil)

func (c *Client) RetrieveCheckout(ctx context.Context, secret, checkoutID string) (*domain.CheckoutSession, error) {
	var out domain.CheckoutSession
	if err := c.do(ctx, "commerce.retrieve_checkout", http.MethodGet, checkoutPath(checkoutID), secret, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) CreateCustomer(ctx context.Context, secret string, data domain.CustomerData) (*Customer, error) {
	var out Customer
	if err := c.do(ctx, "commerce.create_customer", http.MethodPost, "/customers", secret, data, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) UpdateCustomer(ctx context.Context, secret, customerID string, data domain.CustomerData) (*Customer, error) {
	var out Customer
	path := "/customers/" + url.PathEscape(customerID)
	if err := c.do(ctx, "commerce.update_customer", http.MethodPut, path, secret, data, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) UpdateCheckout(ctx context.Context, secret, checkoutID string, patch CheckoutPatch) (*domain.CheckoutSession, error) {
	var out domain.CheckoutSession
	if err := c.do(ctx, "commerce.update_checkout", http.MethodPatch, checkoutPath(checkoutID), secret, patch, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) GetCheckoutShippingRates(ctx context.Context, secret, checkoutID string) ([]domain.ShippingRate, error) {
	out := []domain.ShippingRate{}
	if err := c.do(ctx, "commerce.shipping_rates", http.MethodGet, checkoutPath(checkoutID)+"/shipping-rates", secret, nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) GenerateCheckoutPaymentSecret(ctx context.Context, secret, checkoutID string) (*domain.PaymentSecret, error) {
	var out domain.PaymentSecret
	if err := c.do(ctx, "commerce.payment_secret", http.MethodPost, checkoutPath(checkoutID)+"/payment-secret", secret, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) ApplyDiscountCode(ctx context.Context, secret, checkoutID, code string) (*domain.CheckoutSession, error) {
	var out domain.CheckoutSession
	body := map[string]string{"code": code}
	if err := c.do(ctx, "commerce.apply_discount", http.MethodPost, checkoutPath(checkoutID)+"/discounts", secret, body, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) RemoveDiscount(ctx context.Context, secret, checkoutID, discountID string) (*domain.CheckoutSession, error) {
	var out domain.CheckoutSession
	path := checkoutPath(checkoutID) + "/discounts/" + url.PathEscape(discountID)
	if err := c.do(ctx, "commerce.remove_discount", http.MethodDelete, path, secret, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) RevalidateDiscounts(ctx context.Context, secret, checkoutID string) (*domain.CheckoutSession, error) {
	var out domain.CheckoutSession
	if err := c.do(ctx, "commerce.revalidate_discounts", http.MethodPost, checkoutPath(checkoutID)+"/discounts/revalidate", secret, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func checkoutPath(id string) string {
	return "/checkout/" + url.PathEscape(id)
}

// do sends one request and decodes a 2xx JSON response into out. Non-2xx
// responses become domain errors wrapping an *APIError.
func (c *Client) do(ctx context.Context, op, method, path, secret string, body, out any) error {
	requestID := domain.RequestIDFromContext(ctx)
	if requestID == "" {
		requestID = uuid.New().String()
	}

	var reader io.Reader
	if body != nil {
		buf, err := json.Marshal(body)
		if err != nil {
			return domain.Internal(err, op, "encode request")
		}
		reader = bytes.NewReader(buf)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return domain.Internal(err, op, "build request")
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Authorization", "Bearer "+secret)
	req.Header.Set("X-Request-ID", requestID)

	logger := c.logger.With(
		slog.String("request_id", requestID),
		slog.String("method", method),
		slog.String("path", path),
	)
	logger.DebugContext(ctx, "commerce request")

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		logger.WarnContext(ctx, "commerce request failed", slog.String("error", err.Error()))
		return toDomain(err, op)
	}
	defer resp.Body.Close()

	logger = logger.With(
		slog.Int("status", resp.StatusCode),
		slog.Duration("duration", time.Since(start)),
	)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		apiErr := parseAPIError(resp.StatusCode, raw)
		logger.WarnContext(ctx, "commerce request rejected", slog.String("key", apiErr.Key))
		return toDomain(apiErr, op)
	}

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return toDomain(err, op)
	}
	if c.logBodies {
		logger.DebugContext(ctx, "commerce response", slog.String("body", string(raw)))
	} else {
		logger.DebugContext(ctx, "commerce response")
	}

	if out == nil || len(bytes.TrimSpace(raw)) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return domain.Internal(err, op, "decode response")
	}
	return nil
}

// parseAPIError reads either {"error":{"key","message"}} or a flat
// {"key","message"} body. Anything unparseable keeps the unknown key.
func parseAPIError(status int, raw []byte) *APIError {
	type payload struct {
		Key     string `json:"key"`
		Message string `json:"message"`
	}
	var body struct {
		payload
		Error *payload `json:"error"`
	}

	apiErr := &APIError{StatusCode: status, Key: KeyUnknown}
	if err := json.Unmarshal(raw, &body); err != nil {
		return apiErr
	}
	p := body.payload
	if body.Error != nil {
		p = *body.Error
	}
	apiErr.Key = NormalizeKey(p.Key)
	apiErr.Message = p.Message
	return apiErr
}

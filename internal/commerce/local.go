package commerce

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/dukerupert/checkout-embed/internal/billing"
	"github.com/dukerupert/checkout-embed/internal/domain"
	"github.com/dukerupert/checkout-embed/internal/ledger"
	"github.com/dukerupert/checkout-embed/internal/shipping"
	"github.com/dukerupert/checkout-embed/internal/tax"
)

// LocalBackend is an in-process commerce backend for standalone and
// development runs. Checkouts, customers and the discount catalog live in
// memory; rates, tax and payment intents come from the configured providers.
type LocalBackend struct {
	billing  billing.Provider
	shipping shipping.Provider
	tax      tax.Calculator
	logger   *slog.Logger
	now      func() time.Time

	mu        sync.Mutex
	checkouts map[string]*localCheckout
	customers map[string]*Customer
	// discounts is keyed by discount ID.
	discounts map[string]domain.Discount
}

// localCheckout guards one checkout. Its lock is held across provider calls
// so that concurrent calls for the same checkout apply in order.
type localCheckout struct {
	mu              sync.Mutex
	session         *domain.CheckoutSession
	rates           []domain.ShippingRate
	paymentIntentID string
	attempts        int
}

// LocalOption configures a LocalBackend.
type LocalOption func(*LocalBackend)

// WithLocalLogger sets the logger.
func WithLocalLogger(l *slog.Logger) LocalOption {
	return func(b *LocalBackend) { b.logger = l }
}

// WithLocalClock overrides the clock used for expiry checks.
func WithLocalClock(now func() time.Time) LocalOption {
	return func(b *LocalBackend) { b.now = now }
}

// NewLocalBackend creates an empty local backend.
func NewLocalBackend(bp billing.Provider, sp shipping.Provider, tc tax.Calculator, opts ...LocalOption) *LocalBackend {
	b := &LocalBackend{
		billing:   bp,
		shipping:  sp,
		tax:       tc,
		logger:    slog.Default(),
		now:       time.Now,
		checkouts: make(map[string]*localCheckout),
		customers: make(map[string]*Customer),
		discounts: make(map[string]domain.Discount),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

var (
	_ Backend   = (*LocalBackend)(nil)
	_ Completer = (*LocalBackend)(nil)
)

// CreateCheckout opens a checkout for items and returns it with its client
// secret. Eligible automatic discounts are applied immediately.
func (b *LocalBackend) CreateCheckout(ctx context.Context, currency string, items []domain.LineItem) (*domain.CheckoutSession, error) {
	if len(items) == 0 {
		return nil, domain.Invalid("commerce.create_checkout", "checkout needs at least one line item")
	}

	session := &domain.CheckoutSession{
		ID:               "chk_" + uuid.New().String(),
		ClientSecret:     "cs_" + strings.ReplaceAll(uuid.New().String(), "-", ""),
		Status:           domain.CheckoutOpen,
		Currency:         strings.ToLower(currency),
		ExchangeRate:     decimal.NewFromInt(1),
		LineItems:        make([]domain.LineItem, len(items)),
		AppliedDiscounts: []domain.AppliedDiscount{},
		UpdatedAt:        b.now(),
	}
	for i, item := range items {
		if item.ID == "" {
			item.ID = "li_" + uuid.New().String()
		}
		session.LineItems[i] = item
	}

	lc := &localCheckout{session: session}
	b.applyAutomatic(lc)
	if err := b.reprice(ctx, lc); err != nil {
		return nil, err
	}

	b.mu.Lock()
	b.checkouts[session.ID] = lc
	b.mu.Unlock()

	b.logger.InfoContext(ctx, "local checkout created",
		slog.String("checkout_id", session.ID),
		slog.Int("line_items", len(items)),
	)
	return session.Clone(), nil
}

// AddDiscount adds or replaces a discount in the catalog.
func (b *LocalBackend) AddDiscount(d domain.Discount) {
	if d.ID == "" {
		d.ID = "disc_" + uuid.New().String()
	}
	if d.Method == "" {
		d.Method = domain.DiscountMethodCode
	}
	b.mu.Lock()
	b.discounts[d.ID] = d
	b.mu.Unlock()
}

// LoadDiscounts seeds the catalog from a JSON array of discounts.
func (b *LocalBackend) LoadDiscounts(path string) (int, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return 0, fmt.Errorf("read discounts file: %w", err)
	}
	var list []domain.Discount
	if err := json.Unmarshal(raw, &list); err != nil {
		return 0, fmt.Errorf("parse discounts file: %w", err)
	}
	for _, d := range list {
		b.AddDiscount(d)
	}
	return len(list), nil
}

// CompleteCheckout increments the usage count of every discount applied to
// a checkout and marks it completed.
func (b *LocalBackend) CompleteCheckout(ctx context.Context, secret, checkoutID string) error {
	const op = "commerce.complete_checkout"
	lc, err := b.open(secret, checkoutID, op)
	if err != nil {
		return err
	}
	defer lc.mu.Unlock()

	b.mu.Lock()
	for _, a := range lc.session.AppliedDiscounts {
		if d, ok := b.discounts[a.Discount.ID]; ok {
			d.UsageCount++
			b.discounts[d.ID] = d
		}
	}
	b.mu.Unlock()

	lc.session.Status = domain.CheckoutCompleted
	lc.session.UpdatedAt = b.now()

	if lc.paymentIntentID != "" {
		if _, err := b.billing.UpdatePaymentIntent(ctx, billing.UpdatePaymentIntentParams{
			PaymentIntentID: lc.paymentIntentID,
			Metadata:        map[string]string{"checkout_status": string(domain.CheckoutCompleted)},
		}); err != nil {
			b.logger.WarnContext(ctx, "failed to tag payment intent",
				slog.String("payment_intent_id", lc.paymentIntentID),
				slog.String("error", err.Error()),
			)
		}
	}
	return nil
}

// cancelSuperseded cancels an intent replaced by one for a new total. Intents
// that already succeeded or are processing are left alone.
func (b *LocalBackend) cancelSuperseded(ctx context.Context, id string) {
	pi, err := b.billing.GetPaymentIntent(ctx, id)
	if err == nil && !pi.Cancelable() {
		return
	}
	if err := b.billing.CancelPaymentIntent(ctx, id); err != nil {
		b.logger.WarnContext(ctx, "failed to cancel superseded payment intent",
			slog.String("payment_intent_id", id),
			slog.String("error", err.Error()),
		)
	}
}

func (b *LocalBackend) RetrieveCheckout(ctx context.Context, secret, checkoutID string) (*domain.CheckoutSession, error) {
	lc, err := b.lookup(secret, checkoutID, "commerce.retrieve_checkout")
	if err != nil {
		return nil, err
	}
	defer lc.mu.Unlock()
	return lc.session.Clone(), nil
}

func (b *LocalBackend) CreateCustomer(ctx context.Context, secret string, data domain.CustomerData) (*Customer, error) {
	const op = "commerce.create_customer"
	if !b.knownSecret(secret) {
		return nil, toDomain(apiError(http.StatusUnauthorized, KeyUnauthorized, "invalid client secret"), op)
	}

	bc, err := b.billing.CreateCustomer(ctx, billing.CreateCustomerParams{
		Email:   data.Email,
		Name:    data.FullName(),
		Phone:   data.Phone,
		Address: paymentAddress(data.Address),
	})
	if err != nil {
		return nil, b.billingError(err, op)
	}

	c := customerFromData(bc.ID, data)
	b.mu.Lock()
	b.customers[c.ID] = c
	b.mu.Unlock()

	cp := *c
	return &cp, nil
}

func (b *LocalBackend) UpdateCustomer(ctx context.Context, secret, customerID string, data domain.CustomerData) (*Customer, error) {
	const op = "commerce.update_customer"
	if !b.knownSecret(secret) {
		return nil, toDomain(apiError(http.StatusUnauthorized, KeyUnauthorized, "invalid client secret"), op)
	}

	b.mu.Lock()
	_, ok := b.customers[customerID]
	b.mu.Unlock()
	if !ok {
		return nil, toDomain(apiError(http.StatusNotFound, KeyCustomerNotFound, "customer not found"), op)
	}

	if _, err := b.billing.UpdateCustomer(ctx, customerID, billing.UpdateCustomerParams{
		Email:   data.Email,
		Name:    data.FullName(),
		Phone:   data.Phone,
		Address: paymentAddress(data.Address),
	}); err != nil {
		return nil, b.billingError(err, op)
	}

	c := customerFromData(customerID, data)
	b.mu.Lock()
	b.customers[customerID] = c
	b.mu.Unlock()

	cp := *c
	return &cp, nil
}

func (b *LocalBackend) UpdateCheckout(ctx context.Context, secret, checkoutID string, patch CheckoutPatch) (*domain.CheckoutSession, error) {
	const op = "commerce.update_checkout"
	lc, err := b.open(secret, checkoutID, op)
	if err != nil {
		return nil, err
	}
	defer lc.mu.Unlock()

	if patch.CustomerID != nil {
		if _, ok := b.customer(*patch.CustomerID); !ok {
			return nil, toDomain(apiError(http.StatusNotFound, KeyCustomerNotFound, "customer not found"), op)
		}
		if lc.session.CustomerID != *patch.CustomerID {
			// A new address invalidates the quoted rates.
			lc.rates = nil
		}
		lc.session.CustomerID = *patch.CustomerID
	}

	switch {
	case patch.Shipment != nil:
		if lc.rates == nil {
			if err := b.quote(ctx, lc, op); err != nil {
				return nil, err
			}
		}
		rate, ok := domain.FindRate(lc.rates, patch.Shipment.RateID)
		if !ok {
			return nil, toDomain(apiError(http.StatusUnprocessableEntity, KeyInvalidShippingRate, "shipping rate is not offered for this checkout"), op)
		}
		if rate.RequiresPickupPoint && patch.Shipment.PickupPointID == "" {
			return nil, toDomain(apiError(http.StatusUnprocessableEntity, KeyInvalidShippingRate, "shipping rate requires a pickup point"), op)
		}
		shipment := *patch.Shipment
		shipment.Provider = rate.Provider
		shipment.Name = rate.Name
		shipment.Amount = rate.Amount
		lc.session.Shipment = &shipment
		lc.session.Shipping = rate.Amount
	case patch.ShippingCost != nil:
		if *patch.ShippingCost < 0 {
			return nil, toDomain(apiError(http.StatusBadRequest, KeyInvalidRequest, "shipping cost cannot be negative"), op)
		}
		lc.session.Shipping = *patch.ShippingCost
	}

	if err := b.reprice(ctx, lc); err != nil {
		return nil, err
	}
	return lc.session.Clone(), nil
}

func (b *LocalBackend) GetCheckoutShippingRates(ctx context.Context, secret, checkoutID string) ([]domain.ShippingRate, error) {
	const op = "commerce.shipping_rates"
	lc, err := b.open(secret, checkoutID, op)
	if err != nil {
		return nil, err
	}
	defer lc.mu.Unlock()

	if err := b.quote(ctx, lc, op); err != nil {
		return nil, err
	}
	return append([]domain.ShippingRate(nil), lc.rates...), nil
}

func (b *LocalBackend) GenerateCheckoutPaymentSecret(ctx context.Context, secret, checkoutID string) (*domain.PaymentSecret, error) {
	const op = "commerce.payment_secret"
	lc, err := b.open(secret, checkoutID, op)
	if err != nil {
		return nil, err
	}
	defer lc.mu.Unlock()

	if err := b.reprice(ctx, lc); err != nil {
		return nil, err
	}
	total := ledger.SessionTotals(lc.session).Total

	if prev := lc.paymentIntentID; prev != "" {
		b.cancelSuperseded(ctx, prev)
		lc.paymentIntentID = ""
	}

	lc.attempts++
	params := billing.CreatePaymentIntentParams{
		AmountCents: total,
		Currency:    lc.session.Currency,
		Description: "Checkout " + lc.session.ID,
		Metadata: map[string]string{
			"checkout_id": lc.session.ID,
		},
		IdempotencyKey: fmt.Sprintf("%s:%d:%d", lc.session.ID, total, lc.attempts),
	}
	if c, ok := b.customer(lc.session.CustomerID); ok {
		params.CustomerID = c.ID
		params.CustomerEmail = c.Email
		params.ShippingAddress = paymentAddress(c.Address)
		params.ShippingName = strings.TrimSpace(c.FirstName + " " + c.LastName)
	}

	pi, err := b.billing.CreatePaymentIntent(ctx, params)
	if err != nil {
		return nil, b.billingError(err, op)
	}
	lc.paymentIntentID = pi.ID

	return &domain.PaymentSecret{
		PaymentSecret:   pi.ClientSecret,
		PublicKey:       b.billing.PublishableKey(),
		CheckoutSession: lc.session.Clone(),
	}, nil
}

func (b *LocalBackend) ApplyDiscountCode(ctx context.Context, secret, checkoutID, code string) (*domain.CheckoutSession, error) {
	const op = "commerce.apply_discount"
	code = strings.TrimSpace(code)
	if code == "" {
		return nil, toDomain(apiError(http.StatusBadRequest, KeyInvalidRequest, "discount code is required"), op)
	}

	lc, err := b.open(secret, checkoutID, op)
	if err != nil {
		return nil, err
	}
	defer lc.mu.Unlock()

	d, ok := b.discountByCode(code)
	if !ok {
		return nil, toDomain(apiError(http.StatusNotFound, KeyDiscountNotFound, "discount code not found"), op)
	}
	if err := b.usable(d, op); err != nil {
		return nil, err
	}

	applied := lc.session.AppliedDiscounts
	for _, a := range applied {
		if a.Discount.ID == d.ID {
			return nil, toDomain(apiError(http.StatusConflict, KeyDiscountNotCombinable, "discount is already applied"), op)
		}
	}
	candidate := domain.AppliedDiscount{ID: "ad_" + uuid.New().String(), Discount: d}
	if len(applied) > 0 && !ledger.CanApplyAnother(append(append([]domain.AppliedDiscount(nil), applied...), candidate)) {
		return nil, toDomain(apiError(http.StatusConflict, KeyDiscountNotCombinable, "discount cannot be combined with the discounts already applied"), op)
	}
	if d.Type != domain.DiscountFreeShipping && discountAmount(d, lc.session.LineItems) == 0 {
		return nil, toDomain(apiError(http.StatusUnprocessableEntity, KeyDiscountNotApplicable, "discount does not apply to any item in the checkout"), op)
	}

	lc.session.AppliedDiscounts = append(applied, candidate)
	if err := b.reprice(ctx, lc); err != nil {
		lc.session.AppliedDiscounts = applied
		return nil, err
	}
	return lc.session.Clone(), nil
}

// RemoveDiscount drops the application with the given instance ID. Removing
// an ID that is not applied leaves the checkout unchanged.
func (b *LocalBackend) RemoveDiscount(ctx context.Context, secret, checkoutID, discountID string) (*domain.CheckoutSession, error) {
	const op = "commerce.remove_discount"
	lc, err := b.open(secret, checkoutID, op)
	if err != nil {
		return nil, err
	}
	defer lc.mu.Unlock()

	lc.session.AppliedDiscounts = ledger.Without(lc.session.AppliedDiscounts, discountID)
	if err := b.reprice(ctx, lc); err != nil {
		return nil, err
	}
	return lc.session.Clone(), nil
}

// RevalidateDiscounts drops applied discounts that have expired, reached
// their usage limit or left the catalog, then applies eligible automatic
// discounts.
func (b *LocalBackend) RevalidateDiscounts(ctx context.Context, secret, checkoutID string) (*domain.CheckoutSession, error) {
	const op = "commerce.revalidate_discounts"
	lc, err := b.open(secret, checkoutID, op)
	if err != nil {
		return nil, err
	}
	defer lc.mu.Unlock()

	now := b.now()
	kept := make([]domain.AppliedDiscount, 0, len(lc.session.AppliedDiscounts))
	for _, a := range lc.session.AppliedDiscounts {
		current, ok := b.discount(a.Discount.ID)
		if !ok || current.Expired(now) || current.Exhausted() {
			b.logger.InfoContext(ctx, "dropping invalid discount",
				slog.String("checkout_id", checkoutID),
				slog.String("discount_id", a.Discount.ID),
			)
			continue
		}
		a.Discount = current
		kept = append(kept, a)
	}
	lc.session.AppliedDiscounts = kept
	b.applyAutomatic(lc)

	if err := b.reprice(ctx, lc); err != nil {
		return nil, err
	}
	return lc.session.Clone(), nil
}

// lookup finds a checkout and checks its secret. On success the checkout's
// lock is held and must be released by the caller.
func (b *LocalBackend) lookup(secret, checkoutID, op string) (*localCheckout, error) {
	b.mu.Lock()
	lc, ok := b.checkouts[checkoutID]
	b.mu.Unlock()
	if !ok {
		return nil, toDomain(apiError(http.StatusNotFound, KeyCheckoutNotFound, "checkout not found"), op)
	}

	lc.mu.Lock()
	if subtle.ConstantTimeCompare([]byte(lc.session.ClientSecret), []byte(secret)) != 1 {
		lc.mu.Unlock()
		return nil, toDomain(apiError(http.StatusUnauthorized, KeyUnauthorized, "invalid client secret"), op)
	}
	return lc, nil
}

// open is lookup for mutating calls: the checkout must still be open.
func (b *LocalBackend) open(secret, checkoutID, op string) (*localCheckout, error) {
	lc, err := b.lookup(secret, checkoutID, op)
	if err != nil {
		return nil, err
	}
	if lc.session.Status != domain.CheckoutOpen {
		lc.mu.Unlock()
		return nil, toDomain(apiError(http.StatusGone, KeyCheckoutClosed, "checkout is "+string(lc.session.Status)), op)
	}
	return lc, nil
}

func (b *LocalBackend) knownSecret(secret string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, lc := range b.checkouts {
		// ClientSecret is immutable after creation.
		if subtle.ConstantTimeCompare([]byte(lc.session.ClientSecret), []byte(secret)) == 1 {
			return true
		}
	}
	return false
}

func (b *LocalBackend) customer(id string) (*Customer, bool) {
	if id == "" {
		return nil, false
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	c, ok := b.customers[id]
	if !ok {
		return nil, false
	}
	cp := *c
	return &cp, true
}

func (b *LocalBackend) discount(id string) (domain.Discount, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	d, ok := b.discounts[id]
	return d, ok
}

func (b *LocalBackend) discountByCode(code string) (domain.Discount, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, d := range b.discounts {
		if d.Method == domain.DiscountMethodCode && strings.EqualFold(d.Code, code) {
			return d, true
		}
	}
	return domain.Discount{}, false
}

func (b *LocalBackend) usable(d domain.Discount, op string) error {
	if d.Expired(b.now()) {
		return toDomain(apiError(http.StatusUnprocessableEntity, KeyDiscountExpired, "discount code has expired"), op)
	}
	if d.Exhausted() {
		return toDomain(apiError(http.StatusUnprocessableEntity, KeyDiscountUsageLimit, "discount code has reached its usage limit"), op)
	}
	return nil
}

// applyAutomatic attaches every usable automatic discount that applies to
// the checkout and can be stacked on what is already applied.
func (b *LocalBackend) applyAutomatic(lc *localCheckout) {
	b.mu.Lock()
	var automatic []domain.Discount
	for _, d := range b.discounts {
		if d.Method == domain.DiscountMethodAutomatic {
			automatic = append(automatic, d)
		}
	}
	b.mu.Unlock()

	now := b.now()
	for _, d := range automatic {
		if d.Expired(now) || d.Exhausted() || hasDiscount(lc.session.AppliedDiscounts, d.ID) {
			continue
		}
		if d.Type != domain.DiscountFreeShipping && discountAmount(d, lc.session.LineItems) == 0 {
			continue
		}
		candidate := domain.AppliedDiscount{ID: "ad_" + uuid.New().String(), Discount: d}
		next := append(append([]domain.AppliedDiscount(nil), lc.session.AppliedDiscounts...), candidate)
		if len(lc.session.AppliedDiscounts) > 0 && !ledger.CanApplyAnother(next) {
			continue
		}
		lc.session.AppliedDiscounts = next
	}
}

func hasDiscount(applied []domain.AppliedDiscount, discountID string) bool {
	for _, a := range applied {
		if a.Discount.ID == discountID {
			return true
		}
	}
	return false
}

// quote fetches rates for the checkout's customer address.
func (b *LocalBackend) quote(ctx context.Context, lc *localCheckout, op string) error {
	c, ok := b.customer(lc.session.CustomerID)
	if !ok {
		return toDomain(apiError(http.StatusUnprocessableEntity, KeyInvalidRequest, "checkout has no customer address"), op)
	}

	totals := ledger.SessionTotals(lc.session)
	rates, err := b.shipping.GetRates(ctx, shipping.RateParams{
		DestinationAddress: shipping.ShippingAddress{
			Name:       strings.TrimSpace(c.FirstName + " " + c.LastName),
			Line1:      c.Address.Line1,
			Line2:      c.Address.Line2,
			City:       c.Address.City,
			State:      c.Address.State,
			PostalCode: c.Address.ZipCode,
			Country:    c.Address.Country,
			Phone:      c.Phone,
			Email:      c.Email,
		},
		SubtotalCents: totals.Subtotal,
		Currency:      lc.session.Currency,
	})
	if err != nil {
		if errors.Is(err, shipping.ErrNoRates) || errors.Is(err, shipping.ErrDestinationRequired) {
			return toDomain(apiError(http.StatusUnprocessableEntity, KeyShippingUnavailable, "no shipping options for this address"), op)
		}
		return domain.Internal(err, op, "quote shipping rates")
	}

	out := make([]domain.ShippingRate, 0, len(rates))
	for _, r := range rates {
		out = append(out, domain.ShippingRate{
			ID:                  r.RateID,
			Provider:            r.Carrier,
			Name:                r.ServiceName,
			Amount:              r.CostCents,
			Currency:            r.Currency,
			EstimatedDaysMin:    r.EstimatedDaysMin,
			EstimatedDaysMax:    r.EstimatedDaysMax,
			RequiresPickupPoint: r.RequiresPickupPoint,
		})
	}
	lc.rates = out
	return nil
}

// reprice recomputes discount amounts and tax. Tax is only charged once a
// customer address is known.
func (b *LocalBackend) reprice(ctx context.Context, lc *localCheckout) error {
	s := lc.session
	for i := range s.AppliedDiscounts {
		a := &s.AppliedDiscounts[i]
		if a.Discount.Type == domain.DiscountFreeShipping {
			a.Amount = 0
			continue
		}
		a.Amount = discountAmount(a.Discount, s.LineItems)
	}

	s.Tax = 0
	if c, ok := b.customer(s.CustomerID); ok && b.tax != nil {
		totals := ledger.ComputeTotals(s.LineItems, s.Shipping, 0, s.AppliedDiscounts)
		items := make([]tax.LineItem, len(s.LineItems))
		for i, li := range s.LineItems {
			items[i] = tax.LineItem{
				ProductID:   li.EffectiveProductID(),
				Description: li.Product.Title,
				Quantity:    li.Quantity,
				UnitPrice:   li.UnitPrice(),
				TotalPrice:  li.LineTotal(),
			}
		}
		res, err := b.tax.CalculateTax(ctx, tax.TaxParams{
			ShippingAddress: tax.Address{
				Line1:      c.Address.Line1,
				Line2:      c.Address.Line2,
				City:       c.Address.City,
				State:      c.Address.State,
				PostalCode: c.Address.ZipCode,
				Country:    c.Address.Country,
			},
			LineItems:     items,
			ShippingCents: totals.Shipping,
			Currency:      s.Currency,
			DiscountCents: totals.Discount,
		})
		if err != nil {
			return domain.Internal(err, "commerce.reprice", "calculate tax")
		}
		s.Tax = res.TotalTaxCents
	}
	s.UpdatedAt = b.now()
	return nil
}

// discountAmount is what a discount takes off the given items. Discounts
// scoped to products are attributed per item; an unscoped discount applies
// to the whole subtotal.
func discountAmount(d domain.Discount, items []domain.LineItem) int64 {
	if len(d.AllowedProductIDs) > 0 || len(d.AllowedLineItems) > 0 {
		totals := ledger.ComputeTotals(items, 0, 0, []domain.AppliedDiscount{{Discount: d}})
		var sum int64
		for _, it := range totals.PerItem {
			sum += it.Discount
		}
		return sum
	}

	var subtotal int64
	for _, item := range items {
		subtotal += item.LineTotal()
	}
	switch d.Type {
	case domain.DiscountPercentage:
		return decimal.NewFromInt(subtotal).Mul(d.Value).Div(decimal.NewFromInt(100)).Round(0).IntPart()
	case domain.DiscountFixed:
		return min(d.Value.Round(0).IntPart(), subtotal)
	case domain.DiscountFree:
		return subtotal
	default:
		return 0
	}
}

func (b *LocalBackend) billingError(err error, op string) error {
	switch {
	case errors.Is(err, billing.ErrAmountTooSmall):
		return toDomain(apiError(http.StatusUnprocessableEntity, KeyAmountTooSmall, "amount is below the minimum charge"), op)
	case errors.Is(err, billing.ErrCustomerNotFound):
		return toDomain(apiError(http.StatusNotFound, KeyCustomerNotFound, "customer not found"), op)
	case errors.Is(err, billing.ErrPaymentFailed):
		return toDomain(apiError(http.StatusPaymentRequired, KeyPaymentFailed, "payment failed"), op)
	default:
		return domain.Internal(err, op, "billing provider error")
	}
}

func paymentAddress(a domain.Address) *billing.PaymentAddress {
	if a.Line1 == "" && a.Country == "" {
		return nil
	}
	return &billing.PaymentAddress{
		Line1:      a.Line1,
		Line2:      a.Line2,
		City:       a.City,
		State:      a.State,
		PostalCode: a.ZipCode,
		Country:    a.Country,
	}
}

// Package checkout drives one checkout session from load to payment.
//
// An Orchestrator owns the server copy of the checkout, the shipping rates,
// the discount input and the payment error for a single checkout ID. It
// composes the session store, the step controller and the payment
// authorization refresher, and exposes the actions the widget dispatches.
// Its mutex is never held across backend calls; every backend response is
// applied only while the orchestrator is still open.
package checkout

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/dukerupert/checkout-embed/internal/commerce"
	"github.com/dukerupert/checkout-embed/internal/crypto"
	"github.com/dukerupert/checkout-embed/internal/domain"
	"github.com/dukerupert/checkout-embed/internal/events"
	"github.com/dukerupert/checkout-embed/internal/ledger"
	"github.com/dukerupert/checkout-embed/internal/payment"
	"github.com/dukerupert/checkout-embed/internal/session"
	"github.com/dukerupert/checkout-embed/internal/step"
	"github.com/dukerupert/checkout-embed/internal/storage"
	"github.com/dukerupert/checkout-embed/internal/telemetry"
	"github.com/dukerupert/checkout-embed/internal/validation"
)

// DefaultRevalidateInterval is how often applied discounts are revalidated.
const DefaultRevalidateInterval = 5 * time.Second

// Status is the load state of an orchestrator.
type Status string

const (
	StatusLoading Status = "loading"
	StatusReady   Status = "ready"
	StatusError   Status = "error"
)

// Config identifies the checkout and where the shopper goes afterwards.
type Config struct {
	CheckoutID         string
	ClientSecret       string
	SuccessURL         string
	CancelURL          string
	RevalidateInterval time.Duration
	Locale             string
}

// Deps are the collaborators an orchestrator needs. Backend and Storage are
// required; the rest have usable defaults.
type Deps struct {
	Backend   commerce.Backend
	Storage   storage.Storage
	Sealer    crypto.Sealer
	Validator *validation.Validator
	Publisher events.Publisher
	Metrics   *telemetry.CheckoutMetrics
	Logger    *slog.Logger
	Now       func() time.Time
}

// Orchestrator runs a single checkout.
type Orchestrator struct {
	cfg       Config
	backend   commerce.Backend
	store     *session.Store
	steps     *step.Controller
	payment   *payment.Refresher
	validator *validation.Validator
	publisher events.Publisher
	metrics   *telemetry.CheckoutMetrics
	logger    *slog.Logger
	now       func() time.Time

	mu         sync.Mutex
	status     Status
	loadErr    error
	session    *domain.CheckoutSession
	sessionGen uint64
	rates      []domain.ShippingRate
	discount   DiscountInput
	paymentErr string
	submitting bool
	closed     bool
	lastUsed   time.Time

	startOnce  sync.Once
	closeOnce  sync.Once
	cancelLoop context.CancelFunc
	stop       chan struct{}
	done       chan struct{}
}

// New creates an orchestrator for cfg.CheckoutID. Call Load before any
// other action.
func New(cfg Config, deps Deps) (*Orchestrator, error) {
	const op = "checkout.new"

	if cfg.CheckoutID == "" {
		return nil, domain.Invalid(op, "checkout id is required")
	}
	if cfg.ClientSecret == "" {
		return nil, domain.Unauthorized(op, "client secret is required")
	}
	if deps.Backend == nil || deps.Storage == nil {
		return nil, domain.Errorf(domain.EINTERNAL, op, "backend and storage are required")
	}
	if cfg.RevalidateInterval <= 0 {
		cfg.RevalidateInterval = DefaultRevalidateInterval
	}
	if deps.Validator == nil {
		deps.Validator = validation.New()
	}
	if deps.Publisher == nil {
		deps.Publisher = events.NopPublisher{}
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}

	logger := deps.Logger.With(slog.String("checkout_id", cfg.CheckoutID))

	o := &Orchestrator{
		cfg:       cfg,
		backend:   deps.Backend,
		validator: deps.Validator,
		publisher: deps.Publisher,
		metrics:   deps.Metrics,
		logger:    logger,
		now:       deps.Now,
		status:    StatusLoading,
		lastUsed:  deps.Now(),
		stop:      make(chan struct{}),
		done:      make(chan struct{}),
	}

	storeOpts := []session.Option{session.WithLogger(logger)}
	if deps.Sealer != nil {
		storeOpts = append(storeOpts, session.WithSealer(deps.Sealer))
	}
	o.store = session.New(deps.Storage, cfg.CheckoutID, storeOpts...)

	o.payment = payment.NewRefresher(deps.Backend, cfg.ClientSecret, cfg.CheckoutID,
		payment.WithLogger(logger),
		payment.WithClock(deps.Now),
		payment.WithIssueHook(deps.Metrics.Authorization),
	)
	o.steps = step.NewController(o.store, deps.Validator, logger, o.stepChanged)

	return o, nil
}

// ID returns the checkout ID.
func (o *Orchestrator) ID() string {
	return o.cfg.CheckoutID
}

// stepChanged runs synchronously after every stored step change.
func (o *Orchestrator) stepChanged(from, to domain.Step) {
	o.metrics.Step(to)
	telemetry.AddBreadcrumb("checkout.step", string(to), map[string]interface{}{
		"checkout_id": o.cfg.CheckoutID,
		"from":        string(from),
	})
	if to == domain.StepCustomer && from != domain.StepCustomer {
		o.payment.Reset()
	}
}

// =============================================================================
// STATE HELPERS
// =============================================================================

// ready returns a copy of the session and rates for an action, or an error
// when the orchestrator is closed or not loaded.
func (o *Orchestrator) ready() (*domain.CheckoutSession, []domain.ShippingRate, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.closed {
		return nil, nil, domain.ErrCheckoutClosed
	}
	if o.status != StatusReady || o.session == nil {
		return nil, nil, domain.ErrCheckoutNotReady
	}
	o.lastUsed = o.now()
	return o.session.Clone(), o.rates, nil
}

// alive reports whether responses may still be applied.
func (o *Orchestrator) alive() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.closed {
		return domain.ErrCheckoutClosed
	}
	return nil
}

// replace installs s as the current session unless the orchestrator has
// been closed. The last response to arrive wins.
func (o *Orchestrator) replace(s *domain.CheckoutSession) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.closed {
		return domain.ErrCheckoutClosed
	}
	if s != nil {
		o.install(s)
	}
	return nil
}

// install makes s the current session. Callers hold o.mu.
func (o *Orchestrator) install(s *domain.CheckoutSession) {
	o.session = s
	o.sessionGen++
}

func (o *Orchestrator) setRates(r []domain.ShippingRate) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.closed {
		return domain.ErrCheckoutClosed
	}
	o.rates = r
	return nil
}

// snapshot returns a copy of the session and the generation it was
// installed under.
func (o *Orchestrator) snapshot() (*domain.CheckoutSession, uint64) {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.session.Clone(), o.sessionGen
}

func (o *Orchestrator) fail(ctx context.Context, op string, err error) {
	o.mu.Lock()
	if !o.closed {
		o.status = StatusError
		o.loadErr = err
	}
	o.mu.Unlock()

	o.metrics.Load(err)
	telemetry.CaptureCheckoutError(ctx, err, o.cfg.CheckoutID, op)
	o.logger.ErrorContext(ctx, "checkout load failed", slog.String("error", err.Error()))
}

// persist writes form data through the store. Failures leave the in-memory
// form intact and are only logged.
func (o *Orchestrator) persist(ctx context.Context, fn func(fd *domain.FormData)) {
	if err := o.store.UpdateFormData(ctx, fn); err != nil {
		o.logger.WarnContext(ctx, "failed to persist checkout form", slog.String("error", err.Error()))
	}
}

// =============================================================================
// LOAD
// =============================================================================

// Load retrieves the checkout and restores the shopper's progress. A
// retrieval failure puts the orchestrator in StatusError and is returned.
func (o *Orchestrator) Load(ctx context.Context) error {
	const op = "checkout.load"
	ctx = domain.NewContextWithCheckoutID(ctx, o.cfg.CheckoutID)

	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return domain.ErrCheckoutClosed
	}
	o.status = StatusLoading
	o.loadErr = nil
	o.mu.Unlock()

	sess, err := o.backend.RetrieveCheckout(ctx, o.cfg.ClientSecret, o.cfg.CheckoutID)
	if err != nil {
		err = fmt.Errorf("retrieve checkout: %w", err)
		o.fail(ctx, op, err)
		return err
	}
	if sess == nil {
		err = domain.NotFound(op, "checkout", o.cfg.CheckoutID)
		o.fail(ctx, op, err)
		return err
	}
	if sess.Status != "" && sess.Status != domain.CheckoutOpen {
		err = &domain.Error{Code: domain.EGONE, Op: op, Message: fmt.Sprintf("Checkout is %s", sess.Status)}
		o.fail(ctx, op, err)
		return err
	}

	if err := o.store.Load(ctx); err != nil {
		o.logger.WarnContext(ctx, "failed to restore checkout progress", slog.String("error", err.Error()))
	}

	var rates []domain.ShippingRate
	if o.store.Step() != domain.StepCustomer && o.steps.CustomerValid() {
		rates, err = o.backend.GetCheckoutShippingRates(ctx, o.cfg.ClientSecret, o.cfg.CheckoutID)
		if err != nil {
			o.logger.WarnContext(ctx, "failed to fetch shipping rates on load", slog.String("error", err.Error()))
			rates = nil
		}
	}

	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return domain.ErrCheckoutClosed
	}
	o.install(sess)
	o.rates = rates
	o.status = StatusReady
	o.lastUsed = o.now()
	o.mu.Unlock()

	o.metrics.Load(nil)

	current := o.steps.Enforce(ctx, rates)
	o.logger.InfoContext(ctx, "checkout loaded",
		slog.String("step", string(current)),
		slog.Int64("total", ledger.SessionTotals(sess).Total),
	)

	if current == domain.StepPayment {
		// The widget stays usable; the payment step shows the error.
		if err := o.authorize(ctx); err != nil && !errors.Is(err, domain.ErrCheckoutClosed) {
			o.logger.WarnContext(ctx, "failed to prepare payment on load", slog.String("error", err.Error()))
		}
	}
	return nil
}

// Reload retries a failed load.
func (o *Orchestrator) Reload(ctx context.Context) error {
	return o.Load(ctx)
}

// =============================================================================
// STEP ACTIONS
// =============================================================================

// SubmitCustomer validates and saves the customer step, links the customer
// to the checkout, fetches shipping rates and advances to shipping.
func (o *Orchestrator) SubmitCustomer(ctx context.Context, data domain.CustomerData) error {
	ctx = domain.NewContextWithCheckoutID(ctx, o.cfg.CheckoutID)

	sess, _, err := o.ready()
	if err != nil {
		return err
	}
	if err := o.validator.Customer(&data); err != nil {
		return err
	}

	customerID := o.store.FormData().CustomerID
	if customerID == "" {
		customerID = sess.CustomerID
	}
	cust, err := o.saveCustomer(ctx, customerID, data)
	if err != nil {
		return err
	}
	if err := o.alive(); err != nil {
		return err
	}

	updated, err := o.backend.UpdateCheckout(ctx, o.cfg.ClientSecret, o.cfg.CheckoutID, commerce.CheckoutPatch{CustomerID: &cust.ID})
	if err != nil {
		return fmt.Errorf("link customer: %w", err)
	}
	if err := o.replace(updated); err != nil {
		return err
	}

	rates, err := o.backend.GetCheckoutShippingRates(ctx, o.cfg.ClientSecret, o.cfg.CheckoutID)
	if err != nil {
		return fmt.Errorf("fetch shipping rates: %w", err)
	}
	if rates == nil {
		rates = []domain.ShippingRate{}
	}
	if err := o.setRates(rates); err != nil {
		return err
	}

	o.persist(ctx, func(fd *domain.FormData) {
		c := data
		fd.Customer = &c
		fd.CustomerID = cust.ID
	})

	if o.steps.Current() == domain.StepCustomer {
		return o.steps.Advance(ctx, domain.StepShipping, rates)
	}
	if o.steps.Enforce(ctx, rates) == domain.StepPayment {
		return o.authorize(ctx)
	}
	return nil
}

// saveCustomer updates the known customer, falling back to creating one
// when the backend no longer knows it.
func (o *Orchestrator) saveCustomer(ctx context.Context, customerID string, data domain.CustomerData) (*commerce.Customer, error) {
	if customerID != "" {
		cust, err := o.backend.UpdateCustomer(ctx, o.cfg.ClientSecret, customerID, data)
		if err == nil {
			return cust, nil
		}
		if !domain.IsCode(err, domain.ENOTFOUND) {
			return nil, fmt.Errorf("update customer: %w", err)
		}
		o.logger.InfoContext(ctx, "customer not found, creating a new one", slog.String("customer_id", customerID))
	}

	cust, err := o.backend.CreateCustomer(ctx, o.cfg.ClientSecret, data)
	if err != nil {
		return nil, fmt.Errorf("create customer: %w", err)
	}
	if cust == nil || cust.ID == "" {
		return nil, domain.Errorf(domain.EINTERNAL, "checkout.save_customer", "backend returned no customer id")
	}
	return cust, nil
}

// SubmitShipping validates the selection against the quoted rates, records
// it on the checkout and advances to payment.
func (o *Orchestrator) SubmitShipping(ctx context.Context, sel domain.ShippingSelection) error {
	ctx = domain.NewContextWithCheckoutID(ctx, o.cfg.CheckoutID)

	_, rates, err := o.ready()
	if err != nil {
		return err
	}
	if !o.steps.Reachable(domain.StepShipping, nil) {
		return domain.ErrStepNotReachable
	}

	if rates == nil {
		fetched, err := o.backend.GetCheckoutShippingRates(ctx, o.cfg.ClientSecret, o.cfg.CheckoutID)
		if err != nil {
			return fmt.Errorf("fetch shipping rates: %w", err)
		}
		if fetched == nil {
			fetched = []domain.ShippingRate{}
		}
		if err := o.setRates(fetched); err != nil {
			return err
		}
		rates = fetched
	}

	if err := o.validator.Shipping(&sel, rates); err != nil {
		return err
	}
	rate, _ := domain.FindRate(rates, sel.RateID)
	sel.Amount = rate.Amount
	sel.Provider = rate.Provider
	sel.Name = rate.Name

	// Echo the chosen rate so totals move before the backend answers.
	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return domain.ErrCheckoutClosed
	}
	previous := o.session
	optimistic := previous.Clone()
	optimistic.Shipping = sel.Amount
	optimistic.Shipment = sel.Shipment()
	o.install(optimistic)
	o.mu.Unlock()

	updated, err := o.backend.UpdateCheckout(ctx, o.cfg.ClientSecret, o.cfg.CheckoutID, commerce.CheckoutPatch{Shipment: sel.Shipment()})
	if err != nil {
		o.mu.Lock()
		if o.session == optimistic {
			o.install(previous)
		}
		o.mu.Unlock()
		return fmt.Errorf("update shipping: %w", err)
	}
	if err := o.replace(updated); err != nil {
		return err
	}

	o.persist(ctx, func(fd *domain.FormData) {
		s := sel
		fd.Shipping = &s
	})

	switch o.steps.Current() {
	case domain.StepShipping:
		if err := o.steps.Advance(ctx, domain.StepPayment, rates); err != nil {
			return err
		}
	case domain.StepPayment:
		if o.steps.Enforce(ctx, rates) != domain.StepPayment {
			return nil
		}
	default:
		return nil
	}
	return o.authorize(ctx)
}

// ChangeStep moves back to an earlier step. Landing on payment (a no-op
// change) makes sure an authorization is in place.
func (o *Orchestrator) ChangeStep(ctx context.Context, to domain.Step) error {
	ctx = domain.NewContextWithCheckoutID(ctx, o.cfg.CheckoutID)

	_, rates, err := o.ready()
	if err != nil {
		return err
	}
	if err := o.steps.Back(ctx, to, rates); err != nil {
		return err
	}
	o.clearPaymentError()
	if o.steps.Current() == domain.StepPayment {
		return o.authorize(ctx)
	}
	return nil
}

// =============================================================================
// PAYMENT AUTHORIZATION
// =============================================================================

// authorize makes sure a payment authorization for the current total is
// cached: a stale one is reissued and a missing one requested.
func (o *Orchestrator) authorize(ctx context.Context) error {
	sess, gen := o.snapshot()
	if sess == nil {
		return domain.ErrCheckoutNotReady
	}

	issued, err := o.payment.Reconcile(ctx, domain.StepPayment, sess)
	if err == nil && issued == nil {
		issued, err = o.payment.Ensure(ctx, sess)
	}
	return o.settle(ctx, issued, err, gen)
}

// reconcile reissues the authorization when the current session changed
// the total while on the payment step.
func (o *Orchestrator) reconcile(ctx context.Context) error {
	sess, gen := o.snapshot()
	if sess == nil {
		return nil
	}
	issued, err := o.payment.Reconcile(ctx, o.steps.Current(), sess)
	return o.settle(ctx, issued, err, gen)
}

// settle adopts an issuance priced from the session of generation gen. When
// another session was installed while the request was out, the echo is
// dropped and the authorization is reconciled against the newer session.
// The loop ends once Reconcile finds the cached total current.
func (o *Orchestrator) settle(ctx context.Context, issued *payment.Issued, err error, gen uint64) error {
	for {
		var superseded bool
		superseded, err = o.adopt(ctx, issued, err, gen)
		if err != nil || !superseded {
			return err
		}

		var sess *domain.CheckoutSession
		sess, gen = o.snapshot()
		o.logger.DebugContext(ctx, "checkout changed during payment authorization, reconciling")
		issued, err = o.payment.Reconcile(ctx, o.steps.Current(), sess)
	}
}

// adopt applies the outcome of an issuance. It reports superseded when the
// session moved past generation gen, in which case the echoed session is
// not installed.
func (o *Orchestrator) adopt(ctx context.Context, issued *payment.Issued, err error, gen uint64) (bool, error) {
	if err != nil {
		o.mu.Lock()
		if !o.closed {
			o.paymentErr = "We couldn't prepare your payment. Please try again."
		}
		o.mu.Unlock()
		o.logger.WarnContext(ctx, "payment authorization failed", slog.String("error", err.Error()))
		return false, err
	}
	if issued == nil {
		return false, nil
	}

	o.mu.Lock()
	defer o.mu.Unlock()
	if o.closed {
		return false, domain.ErrCheckoutClosed
	}
	o.paymentErr = ""
	if o.sessionGen != gen {
		return true, nil
	}
	if issued.Session != nil {
		o.install(issued.Session)
	}
	return false, nil
}

func (o *Orchestrator) clearPaymentError() {
	o.mu.Lock()
	o.paymentErr = ""
	o.mu.Unlock()
}

// ElementOptions returns the payment element init payload. It reports false
// until an authorization is cached.
func (o *Orchestrator) ElementOptions(a *payment.AppearanceConfig, fonts []payment.Font) (payment.ElementOptions, bool) {
	return o.payment.ElementOptions(a, o.cfg.Locale, fonts)
}

// SetSubmitting marks a payment confirmation as in progress. Background
// revalidation is paused while it is set.
func (o *Orchestrator) SetSubmitting(v bool) {
	o.mu.Lock()
	o.submitting = v
	if v {
		o.paymentErr = ""
	}
	o.mu.Unlock()
}

// FailPayment records a failed payment confirmation. Earlier steps keep
// their data.
func (o *Orchestrator) FailPayment(message string) {
	if message == "" {
		message = "Your payment could not be processed. Please try again."
	}
	o.mu.Lock()
	o.submitting = false
	if !o.closed {
		o.paymentErr = message
	}
	o.mu.Unlock()
	o.metrics.PaymentFailure()
}

// CompletePayment finalizes a checkout whose payment succeeded. The form is
// reset keeping the customer contact data, and the success URL is returned.
func (o *Orchestrator) CompletePayment(ctx context.Context) (string, error) {
	ctx = domain.NewContextWithCheckoutID(ctx, o.cfg.CheckoutID)

	sess, _, err := o.ready()
	if err != nil {
		return "", err
	}

	if c, ok := o.backend.(commerce.Completer); ok {
		if err := c.CompleteCheckout(ctx, o.cfg.ClientSecret, o.cfg.CheckoutID); err != nil {
			o.logger.WarnContext(ctx, "failed to report completed checkout", slog.String("error", err.Error()))
		}
	}

	o.finish(ctx, sess, events.TypeCompleted)
	o.metrics.Finished(events.TypeCompleted)
	return o.cfg.SuccessURL, nil
}

// Cancel abandons the checkout, resetting the form like a completion does,
// and returns the cancel URL.
func (o *Orchestrator) Cancel(ctx context.Context) (string, error) {
	ctx = domain.NewContextWithCheckoutID(ctx, o.cfg.CheckoutID)

	sess, _, err := o.ready()
	if err != nil {
		return "", err
	}

	o.finish(ctx, sess, events.TypeCanceled)
	o.metrics.Finished(events.TypeCanceled)
	return o.cfg.CancelURL, nil
}

func (o *Orchestrator) finish(ctx context.Context, sess *domain.CheckoutSession, eventType string) {
	if err := o.store.Reset(ctx, true); err != nil {
		o.logger.WarnContext(ctx, "failed to reset checkout progress", slog.String("error", err.Error()))
	}
	o.payment.Reset()

	o.mu.Lock()
	o.submitting = false
	o.paymentErr = ""
	o.discount = DiscountInput{}
	o.mu.Unlock()

	e := events.Event{
		Type:       eventType,
		CheckoutID: o.cfg.CheckoutID,
		CustomerID: sess.CustomerID,
		Total:      ledger.SessionTotals(sess).Total,
		Currency:   sess.Currency,
		OccurredAt: o.now(),
	}
	if err := o.publisher.Publish(ctx, e); err != nil {
		o.logger.WarnContext(ctx, "failed to publish checkout event",
			slog.String("type", eventType),
			slog.String("error", err.Error()),
		)
	}
	o.logger.InfoContext(ctx, "checkout finished", slog.String("type", eventType), slog.Int64("total", e.Total))
}

// =============================================================================
// LIFECYCLE
// =============================================================================

// Start runs background discount revalidation until ctx is done or Close
// is called. Close cancels a revalidation that is still in flight. Calling
// Start more than once has no effect.
func (o *Orchestrator) Start(ctx context.Context) {
	o.startOnce.Do(func() {
		ctx, o.cancelLoop = context.WithCancel(ctx)
		go o.revalidateLoop(ctx)
	})
}

func (o *Orchestrator) revalidateLoop(ctx context.Context) {
	defer close(o.done)
	defer telemetry.RecoverWithSentry()

	ticker := time.NewTicker(o.cfg.RevalidateInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-o.stop:
			return
		case <-ticker.C:
			if err := o.Revalidate(ctx); err != nil && !skippable(err) {
				o.logger.WarnContext(ctx, "discount revalidation failed", slog.String("error", err.Error()))
			}
		}
	}
}

func skippable(err error) bool {
	return errors.Is(err, domain.ErrCheckoutClosed) ||
		errors.Is(err, domain.ErrCheckoutNotReady) ||
		errors.Is(err, context.Canceled)
}

// Close stops background work. Responses to calls still in flight are
// dropped. Close is idempotent.
func (o *Orchestrator) Close() {
	o.closeOnce.Do(func() {
		o.mu.Lock()
		o.closed = true
		o.mu.Unlock()

		close(o.stop)
		// An orchestrator that was never started has no loop to wait for.
		o.startOnce.Do(func() { close(o.done) })
		if o.cancelLoop != nil {
			o.cancelLoop()
		}
		<-o.done
		o.payment.Reset()
	})
}

// Closed reports whether Close has been called.
func (o *Orchestrator) Closed() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.closed
}

// IdleSince returns when the shopper last acted on this checkout.
func (o *Orchestrator) IdleSince() time.Time {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.lastUsed
}

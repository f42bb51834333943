// Package payment keeps the payment authorization of a checkout in step with
// its chargeable total.
//
// An authorization is requested once on entering the payment step. When a
// price-changing action moves the total while the shopper is on the payment
// step, the authorization is dropped and reissued exactly once, and the
// component key is bumped so the view layer remounts the payment element
// against the new secret.
package payment

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/dukerupert/checkout-embed/internal/domain"
	"github.com/dukerupert/checkout-embed/internal/ledger"
)

// Issuer generates payment authorizations for a checkout.
type Issuer interface {
	GenerateCheckoutPaymentSecret(ctx context.Context, secret, checkoutID string) (*domain.PaymentSecret, error)
}

// Issued is the outcome of a successful issuance.
type Issued struct {
	Authorization domain.PaymentAuthorization
	// Session is the checkout as returned with the authorization. It is nil
	// when the backend did not echo one.
	Session *domain.CheckoutSession
	// Reissue is set when the authorization replaced an earlier one.
	Reissue bool
}

// Refresher owns the payment authorization of one checkout.
type Refresher struct {
	issuer     Issuer
	secret     string
	checkoutID string
	logger     *slog.Logger
	now        func() time.Time
	onIssue    func(reissue bool)

	mu       sync.Mutex
	auth     *domain.PaymentAuthorization
	inFlight bool
	key      int64
	// gen is bumped by Reset so that a response to a request issued before
	// the reset is not cached.
	gen uint64
}

// Option configures a Refresher.
type Option func(*Refresher)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(r *Refresher) { r.logger = l }
}

// WithClock overrides the clock used to stamp authorizations.
func WithClock(now func() time.Time) Option {
	return func(r *Refresher) { r.now = now }
}

// WithIssueHook registers fn to be called after every successful issuance.
func WithIssueHook(fn func(reissue bool)) Option {
	return func(r *Refresher) { r.onIssue = fn }
}

// NewRefresher creates a Refresher for the given checkout credentials.
func NewRefresher(issuer Issuer, secret, checkoutID string, opts ...Option) *Refresher {
	r := &Refresher{
		issuer:     issuer,
		secret:     secret,
		checkoutID: checkoutID,
		logger:     slog.Default(),
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Authorization returns the cached authorization, if any.
func (r *Refresher) Authorization() (domain.PaymentAuthorization, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.auth == nil {
		return domain.PaymentAuthorization{}, false
	}
	return *r.auth, true
}

// ComponentKey is bumped by one on every reissue.
func (r *Refresher) ComponentKey() int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.key
}

// InFlight reports whether an issuance request is outstanding.
func (r *Refresher) InFlight() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.inFlight
}

// Ensure requests an authorization when none is cached. It returns nil
// without contacting the backend when one is cached or a request is already
// outstanding. current is the session the caller is presenting; its total is
// recorded when the backend does not echo a session.
func (r *Refresher) Ensure(ctx context.Context, current *domain.CheckoutSession) (*Issued, error) {
	r.mu.Lock()
	if r.auth != nil || r.inFlight {
		r.mu.Unlock()
		return nil, nil
	}
	r.inFlight = true
	gen := r.gen
	r.mu.Unlock()

	return r.issue(ctx, gen, current, false)
}

// Reconcile reissues the authorization when the shopper is on the payment
// step, an authorization is cached, and the total of session differs from
// the total it was issued for. It returns nil when nothing was reissued.
func (r *Refresher) Reconcile(ctx context.Context, step domain.Step, session *domain.CheckoutSession) (*Issued, error) {
	if step != domain.StepPayment {
		return nil, nil
	}
	total := ledger.SessionTotals(session).Total

	r.mu.Lock()
	if r.auth == nil || r.inFlight || r.auth.Total == total {
		r.mu.Unlock()
		return nil, nil
	}
	r.logger.InfoContext(ctx, "checkout total changed, reissuing payment authorization",
		slog.Int64("issued_total", r.auth.Total),
		slog.Int64("total", total),
	)
	r.auth = nil
	r.inFlight = true
	gen := r.gen
	r.mu.Unlock()

	return r.issue(ctx, gen, session, true)
}

// Reset drops the cached authorization. A request still outstanding is
// abandoned and its result discarded.
func (r *Refresher) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.auth = nil
	r.inFlight = false
	r.gen++
}

func (r *Refresher) issue(ctx context.Context, gen uint64, current *domain.CheckoutSession, reissue bool) (*Issued, error) {
	res, err := r.issuer.GenerateCheckoutPaymentSecret(ctx, r.secret, r.checkoutID)

	r.mu.Lock()
	defer r.mu.Unlock()

	if gen != r.gen {
		return nil, nil
	}
	r.inFlight = false

	if err != nil {
		return nil, fmt.Errorf("generate payment secret: %w", err)
	}
	if res == nil || res.PaymentSecret == "" {
		return nil, domain.Errorf(domain.EPAYMENT, "payment.issue", "backend returned no payment secret")
	}

	priced := current
	if res.CheckoutSession != nil {
		priced = res.CheckoutSession
	}
	auth := domain.PaymentAuthorization{
		ClientSecret: res.PaymentSecret,
		PublicKey:    res.PublicKey,
		Total:        ledger.SessionTotals(priced).Total,
		IssuedAt:     r.now(),
	}
	r.auth = &auth
	if reissue {
		r.key++
	}
	if r.onIssue != nil {
		r.onIssue(reissue)
	}

	return &Issued{Authorization: auth, Session: res.CheckoutSession, Reissue: reissue}, nil
}

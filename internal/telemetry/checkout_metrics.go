package telemetry

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/dukerupert/checkout-embed/internal/domain"
)

// CheckoutMetrics holds Prometheus metrics for the checkout funnel and the
// commerce backend it talks to.
type CheckoutMetrics struct {
	// Funnel
	Loads           *prometheus.CounterVec
	StepEntered     *prometheus.CounterVec
	Completed       prometheus.Counter
	Canceled        prometheus.Counter
	ActiveCheckouts prometheus.Gauge

	// Payment
	AuthorizationsIssued *prometheus.CounterVec
	PaymentFailed        prometheus.Counter

	// Discounts
	DiscountOutcomes *prometheus.CounterVec

	// Backend performance
	BackendLatency *prometheus.HistogramVec
}

// Discount outcome labels.
const (
	DiscountApplied       = "applied"
	DiscountRejected      = "rejected"
	DiscountNotCombinable = "not_combinable"
	DiscountRemoved       = "removed"
)

// NewCheckoutMetrics creates checkout metrics and registers them with reg.
// A nil reg creates unregistered collectors, which is what tests want.
func NewCheckoutMetrics(namespace string, reg prometheus.Registerer) *CheckoutMetrics {
	if namespace == "" {
		namespace = "checkout_embed"
	}
	factory := promauto.With(reg)
	subsystem := "checkout"

	return &CheckoutMetrics{
		Loads: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "loads_total",
				Help:      "Checkout session loads by outcome",
			},
			[]string{"outcome"}, // outcome: ok, error
		),
		StepEntered: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "step_entered_total",
				Help:      "Transitions into each checkout step",
			},
			[]string{"step"},
		),
		Completed: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "completed_total",
				Help:      "Checkouts that reported a successful payment",
			},
		),
		Canceled: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "canceled_total",
				Help:      "Checkouts canceled by the shopper",
			},
		),
		ActiveCheckouts: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "active",
				Help:      "Checkout sessions currently held in memory",
			},
		),
		AuthorizationsIssued: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "payment_authorizations_total",
				Help:      "Payment authorizations issued",
			},
			[]string{"kind"}, // kind: initial, reissue
		),
		PaymentFailed: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "payment_failed_total",
				Help:      "Payment confirmations reported as failed",
			},
		),
		DiscountOutcomes: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "discount_actions_total",
				Help:      "Discount code actions by outcome",
			},
			[]string{"outcome"},
		),
		BackendLatency: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "backend",
				Name:      "request_duration_seconds",
				Help:      "Commerce backend call duration",
				Buckets:   []float64{.025, .05, .1, .25, .5, 1, 2.5, 5, 10},
			},
			[]string{"operation", "outcome"}, // outcome: ok or a domain error code
		),
	}
}

// ObserveBackend records one backend call. Its signature matches
// commerce.ObserveFunc.
func (m *CheckoutMetrics) ObserveBackend(operation string, d time.Duration, err error) {
	if m == nil {
		return
	}
	outcome := "ok"
	if err != nil {
		outcome = domain.ErrorCode(err)
	}
	m.BackendLatency.WithLabelValues(operation, outcome).Observe(d.Seconds())
}

// Step records a transition into step.
func (m *CheckoutMetrics) Step(step domain.Step) {
	if m == nil {
		return
	}
	m.StepEntered.WithLabelValues(string(step)).Inc()
}

// Load records a session load outcome.
func (m *CheckoutMetrics) Load(err error) {
	if m == nil {
		return
	}
	if err != nil {
		m.Loads.WithLabelValues("error").Inc()
		return
	}
	m.Loads.WithLabelValues("ok").Inc()
}

// Authorization records an issued payment authorization.
func (m *CheckoutMetrics) Authorization(reissue bool) {
	if m == nil {
		return
	}
	kind := "initial"
	if reissue {
		kind = "reissue"
	}
	m.AuthorizationsIssued.WithLabelValues(kind).Inc()
}

// Discount records a discount action outcome.
func (m *CheckoutMetrics) Discount(outcome string) {
	if m == nil {
		return
	}
	m.DiscountOutcomes.WithLabelValues(outcome).Inc()
}

// PaymentFailure records a failed payment confirmation.
func (m *CheckoutMetrics) PaymentFailure() {
	if m == nil {
		return
	}
	m.PaymentFailed.Inc()
}

// Finished records a completed or canceled checkout. eventType is one of
// the checkout lifecycle event types.
func (m *CheckoutMetrics) Finished(eventType string) {
	if m == nil {
		return
	}
	switch eventType {
	case "checkout.completed":
		m.Completed.Inc()
	case "checkout.canceled":
		m.Canceled.Inc()
	}
}

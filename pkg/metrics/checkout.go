package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// CheckoutMetrics tracks order placement and payment outcomes. A nil receiver
// is valid and records nothing.
type CheckoutMetrics struct {
	ordersPlaced     prometheus.Counter
	placementErrors  *prometheus.CounterVec
	transitions      *prometheus.CounterVec
	paymentOutcomes  *prometheus.CounterVec
	gatewayDurations *prometheus.HistogramVec
}

// NewCheckoutMetrics registers the checkout metrics on the provided registerer.
func NewCheckoutMetrics(reg prometheus.Registerer) *CheckoutMetrics {
	if reg == nil {
		return &CheckoutMetrics{}
	}
	ordersPlaced := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "modoria_orders_placed_total",
		Help: "Orders committed by the order builder.",
	})
	placementErrors := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "modoria_order_placement_errors_total",
		Help: "Order placements rejected, by error code.",
	}, []string{"code"})
	transitions := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "modoria_order_transitions_total",
		Help: "Order status transitions applied.",
	}, []string{"from", "to"})
	paymentOutcomes := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "modoria_payment_outcomes_total",
		Help: "Payment status changes by provider.",
	}, []string{"provider", "status"})
	gatewayDurations := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "modoria_payment_gateway_duration_seconds",
		Help:    "Latency of payment gateway calls.",
		Buckets: prometheus.DefBuckets,
	}, []string{"provider", "operation"})
	reg.MustRegister(ordersPlaced, placementErrors, transitions, paymentOutcomes, gatewayDurations)
	return &CheckoutMetrics{
		ordersPlaced:     ordersPlaced,
		placementErrors:  placementErrors,
		transitions:      transitions,
		paymentOutcomes:  paymentOutcomes,
		gatewayDurations: gatewayDurations,
	}
}

func (c *CheckoutMetrics) IncOrdersPlaced() {
	if c == nil || c.ordersPlaced == nil {
		return
	}
	c.ordersPlaced.Inc()
}

func (c *CheckoutMetrics) IncPlacementError(code string) {
	if c == nil || c.placementErrors == nil {
		return
	}
	c.placementErrors.WithLabelValues(normalizeLabel(code)).Inc()
}

func (c *CheckoutMetrics) IncTransition(from, to string) {
	if c == nil || c.transitions == nil {
		return
	}
	c.transitions.WithLabelValues(normalizeLabel(from), normalizeLabel(to)).Inc()
}

func (c *CheckoutMetrics) IncPaymentOutcome(provider, status string) {
	if c == nil || c.paymentOutcomes == nil {
		return
	}
	c.paymentOutcomes.WithLabelValues(normalizeLabel(provider), normalizeLabel(status)).Inc()
}

// ObserveGatewayCall records how long a gateway operation took.
func (c *CheckoutMetrics) ObserveGatewayCall(provider, operation string, duration time.Duration) {
	if c == nil || c.gatewayDurations == nil {
		return
	}
	c.gatewayDurations.WithLabelValues(normalizeLabel(provider), normalizeLabel(operation)).Observe(duration.Seconds())
}

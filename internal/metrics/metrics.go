package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the storefront's business counters. A nil *Metrics is valid
// and records nothing.
type Metrics struct {
	checkouts             *prometheus.CounterVec
	callbacks             *prometheus.CounterVec
	networkCalls          *prometheus.CounterVec
	networkDuration       *prometheus.HistogramVec
	orderTransitions      *prometheus.CounterVec
	terminalPayments      *prometheus.CounterVec
	terminalNotifications *prometheus.CounterVec
	httpRequests          *prometheus.CounterVec
}

// New registers all collectors on reg.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		checkouts: f.NewCounterVec(prometheus.CounterOpts{
			Name: "storefront_checkout_initiations_total",
			Help: "Checkout initiations by provider and result",
		}, []string{"provider", "result"}),
		callbacks: f.NewCounterVec(prometheus.CounterOpts{
			Name: "storefront_checkout_callbacks_total",
			Help: "Identity provider callbacks by provider and resulting order status",
		}, []string{"provider", "result"}),
		networkCalls: f.NewCounterVec(prometheus.CounterOpts{
			Name: "storefront_payment_network_calls_total",
			Help: "Payment network calls by operation and status",
		}, []string{
			"operation", // authorize, capture, void, refund
			"status",    // network status tag, or error
		}),
		networkDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "storefront_payment_network_duration_seconds",
			Help:    "Payment network call latency",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		}, []string{"operation"}),
		orderTransitions: f.NewCounterVec(prometheus.CounterOpts{
			Name: "storefront_order_transitions_total",
			Help: "Order status transitions",
		}, []string{"from", "to"}),
		terminalPayments: f.NewCounterVec(prometheus.CounterOpts{
			Name: "storefront_terminal_payments_total",
			Help: "Terminal payment sessions by status reached",
		}, []string{"status"}),
		terminalNotifications: f.NewCounterVec(prometheus.CounterOpts{
			Name: "storefront_terminal_notifications_total",
			Help: "Terminal completion notifications by result",
		}, []string{"result"}),
		httpRequests: f.NewCounterVec(prometheus.CounterOpts{
			Name: "storefront_http_requests_total",
			Help: "HTTP requests by route and status code",
		}, []string{"route", "method", "code"}),
	}
}

func (m *Metrics) Checkout(provider, result string) {
	if m == nil {
		return
	}
	m.checkouts.WithLabelValues(provider, result).Inc()
}

func (m *Metrics) Callback(provider, result string) {
	if m == nil {
		return
	}
	m.callbacks.WithLabelValues(provider, result).Inc()
}

func (m *Metrics) NetworkCall(operation, status string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.networkCalls.WithLabelValues(operation, status).Inc()
	m.networkDuration.WithLabelValues(operation).Observe(elapsed.Seconds())
}

func (m *Metrics) OrderTransition(from, to string) {
	if m == nil {
		return
	}
	m.orderTransitions.WithLabelValues(from, to).Inc()
}

func (m *Metrics) TerminalPayment(status string) {
	if m == nil {
		return
	}
	m.terminalPayments.WithLabelValues(status).Inc()
}

func (m *Metrics) TerminalNotification(result string) {
	if m == nil {
		return
	}
	m.terminalNotifications.WithLabelValues(result).Inc()
}

func (m *Metrics) HTTPRequest(route, method, code string) {
	if m == nil {
		return
	}
	m.httpRequests.WithLabelValues(route, method, code).Inc()
}

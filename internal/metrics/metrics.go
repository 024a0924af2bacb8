package metrics

import (
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Gateway call results. Bounded so label cardinality stays fixed.
const (
	ResultSuccess        = "success"
	ResultDeclined       = "declined"
	ResultTransportError = "transport_error"
)

var (
	once sync.Once

	gatewayRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "moyasar_gateway_requests_total",
			Help: "Outbound Moyasar calls by operation and result.",
		},
		[]string{"operation", "result"},
	)

	gatewayDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "moyasar_gateway_request_duration_seconds",
			Help:    "Latency of outbound Moyasar calls in seconds.",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 15},
		},
		[]string{"operation"},
	)

	// outcome: completed|not_found|duplicate|already_processed|aborted|ignored|forbidden|bad_request|error
	webhookEvents = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "moyasar_webhook_events_total",
			Help: "Inbound Moyasar webhook deliveries by outcome.",
		},
		[]string{"outcome"},
	)

	refundOrVoid = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "moyasar_refund_or_void_total",
			Help: "Refund-or-void attempts issued while aborting order creation.",
		},
		[]string{"kind", "result"},
	)
)

// MustRegister registers collectors with the default registry (idempotent).
func MustRegister() {
	once.Do(func() {
		prometheus.MustRegister(gatewayRequests, gatewayDuration, webhookEvents, refundOrVoid)
	})
}

func norm(s string) string { return strings.ToLower(strings.TrimSpace(s)) }

func ObserveGatewayCall(operation, result string, d time.Duration) {
	gatewayRequests.WithLabelValues(norm(operation), result).Inc()
	gatewayDuration.WithLabelValues(norm(operation)).Observe(d.Seconds())
}

func WebhookOutcome(outcome string) {
	webhookEvents.WithLabelValues(norm(outcome)).Inc()
}

func RefundOrVoid(kind string, success bool) {
	result := ResultSuccess
	if !success {
		result = ResultDeclined
	}
	refundOrVoid.WithLabelValues(norm(kind), result).Inc()
}

type Timer struct {
	start time.Time
}

func StartTimer() *Timer {
	return &Timer{start: time.Now()}
}

func (t *Timer) Duration() time.Duration {
	return time.Since(t.start)
}

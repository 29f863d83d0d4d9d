// Package metrics holds the service's Prometheus collectors. They live
// on a private registry so tests constructing multiple components never
// hit duplicate-registration panics.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var registry = prometheus.NewRegistry()

var (
	RequestsTotal = promauto.With(registry).NewCounterVec(prometheus.CounterOpts{
		Name: "akm_requests_total",
		Help: "Governed requests by outcome.",
	}, []string{"outcome"})

	RequestDuration = promauto.With(registry).NewHistogramVec(prometheus.HistogramOpts{
		Name:    "akm_request_duration_seconds",
		Help:    "Request duration by route pattern.",
		Buckets: prometheus.DefBuckets,
	}, []string{"endpoint"})

	QuotaRejections = promauto.With(registry).NewCounterVec(prometheus.CounterOpts{
		Name: "akm_quota_rejections_total",
		Help: "Requests refused by a quota, by limit kind.",
	}, []string{"kind"})

	WebhookDeliveries = promauto.With(registry).NewCounterVec(prometheus.CounterOpts{
		Name: "akm_webhook_deliveries_total",
		Help: "Webhook delivery attempts by resulting status.",
	}, []string{"status"})

	AlertsTriggered = promauto.With(registry).NewCounter(prometheus.CounterOpts{
		Name: "akm_alerts_triggered_total",
		Help: "Alert rules that fired.",
	})

	AuditSpooled = promauto.With(registry).NewCounter(prometheus.CounterOpts{
		Name: "akm_audit_spooled_total",
		Help: "Audit entries deferred to the outbox.",
	})
)

// Handler serves the registry in the Prometheus text format.
func Handler() http.Handler {
	return promhttp.HandlerFor(registry, promhttp.HandlerOpts{})
}

// ObserveRequest counts one governed request.
func ObserveRequest(outcome, endpoint string, seconds float64) {
	RequestsTotal.WithLabelValues(outcome).Inc()
	RequestDuration.WithLabelValues(endpoint).Observe(seconds)
}

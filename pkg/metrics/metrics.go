package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all application metrics
type Metrics struct {
	// Webhook reconciliation metrics
	WebhookEventsProcessed *prometheus.CounterVec
	WebhookEventsDuplicate prometheus.Counter
	WebhookEventsDropped   prometheus.Counter
	WebhookEventsFailed    prometheus.Counter
	WebhookLatency         prometheus.Histogram

	// API key metrics
	KeyVerifications *prometheus.CounterVec
	KeysIssued       prometheus.Counter
	KeysRevoked      prometheus.Counter

	// Billing gate metrics
	GateRejections *prometheus.CounterVec

	// Background task metrics
	TasksProcessed prometheus.Counter
	TasksFailed    prometheus.Counter
	TasksDropped   prometheus.Counter
	TaskQueueDepth prometheus.Gauge
}

// NewMetrics creates and registers all application metrics on the default
// registry.
func NewMetrics(namespace, subsystem string) *Metrics {
	return NewMetricsWithRegistry(prometheus.DefaultRegisterer, namespace, subsystem)
}

// NewMetricsWithRegistry registers the metrics on a caller-supplied registry.
// Tests use this to avoid duplicate-registration panics.
func NewMetricsWithRegistry(reg prometheus.Registerer, namespace, subsystem string) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		WebhookEventsProcessed: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "webhook_events_processed_total",
			Help:      "Total number of webhook events applied, by event type",
		}, []string{"event_type"}),
		WebhookEventsDuplicate: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "webhook_events_duplicate_total",
			Help:      "Total number of webhook events skipped as already processed",
		}),
		WebhookEventsDropped: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "webhook_events_dropped_total",
			Help:      "Total number of webhook events dropped (unknown type or unresolvable organization)",
		}),
		WebhookEventsFailed: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "webhook_events_failed_total",
			Help:      "Total number of webhook events that failed processing",
		}),
		WebhookLatency: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "webhook_processing_duration_seconds",
			Help:      "Time spent processing webhook events",
			Buckets:   []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5},
		}),

		KeyVerifications: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "api_key_verifications_total",
			Help:      "Total number of API key verifications, by result",
		}, []string{"result"}),
		KeysIssued: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "api_keys_issued_total",
			Help:      "Total number of API keys issued",
		}),
		KeysRevoked: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "api_keys_revoked_total",
			Help:      "Total number of API keys revoked",
		}),

		GateRejections: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "billing_gate_rejections_total",
			Help:      "Total number of requests rejected by the billing gate, by plan status",
		}, []string{"plan_status"}),

		TasksProcessed: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "background_tasks_processed_total",
			Help:      "Total number of background tasks executed",
		}),
		TasksFailed: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "background_tasks_failed_total",
			Help:      "Total number of background tasks that returned an error",
		}),
		TasksDropped: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "background_tasks_dropped_total",
			Help:      "Total number of background tasks dropped due to a full queue",
		}),
		TaskQueueDepth: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "background_task_queue_depth",
			Help:      "Current number of queued background tasks",
		}),
	}
}

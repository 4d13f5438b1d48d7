// Package metrics defines the Prometheus series exported on /metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds every collector used by the pipeline. A single instance is
// created in main and shared by all components.
type Metrics struct {
	WebhookReceived *prometheus.CounterVec

	TaskLatency         prometheus.Histogram
	QueueSize           *prometheus.GaugeVec
	DeadLetterQueueSize *prometheus.GaugeVec

	WhaticketLatency     prometheus.Histogram
	WhaticketErrors      *prometheus.CounterVec
	WhaticketSendRetry   prometheus.Counter
	WhaticketSendSuccess prometheus.Counter

	LLMLatency                prometheus.Histogram
	LLMErrors                 *prometheus.CounterVec
	LLMErrorRate              *prometheus.GaugeVec
	LLMPromptInjectionBlocked prometheus.Counter
	TemplateFallbacks         prometheus.Counter
	PermanentDeliveryFailures *prometheus.CounterVec
	HealthcheckFailures       *prometheus.CounterVec
}

// New registers all collectors on the given registerer. Pass
// prometheus.DefaultRegisterer in production.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		WebhookReceived: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "webhook_received_total",
			Help: "Inbound webhook requests by tenant and response status.",
		}, []string{"company", "status"}),

		TaskLatency: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "task_latency_seconds",
			Help:    "End-to-end worker task latency.",
			Buckets: prometheus.DefBuckets,
		}),
		QueueSize: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "queue_size",
			Help: "Pending jobs per tenant queue.",
		}, []string{"company"}),
		DeadLetterQueueSize: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "dead_letter_queue_size",
			Help: "Jobs retained in the dead-letter queue per tenant.",
		}, []string{"company"}),

		WhaticketLatency: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "whaticket_latency_seconds",
			Help:    "Gateway send latency.",
			Buckets: prometheus.DefBuckets,
		}),
		WhaticketErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "whaticket_errors_total",
			Help: "Gateway send errors by classification.",
		}, []string{"kind"}),
		WhaticketSendRetry: factory.NewCounter(prometheus.CounterOpts{
			Name: "whaticket_send_retry_total",
			Help: "Gateway send retries.",
		}),
		WhaticketSendSuccess: factory.NewCounter(prometheus.CounterOpts{
			Name: "whaticket_send_success_total",
			Help: "Successful gateway sends.",
		}),

		LLMLatency: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "llm_latency_seconds",
			Help:    "LLM generation latency.",
			Buckets: []float64{0.25, 0.5, 1, 2, 5, 10, 20, 30},
		}),
		LLMErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "llm_errors_total",
			Help: "LLM call errors by tenant.",
		}, []string{"company"}),
		LLMErrorRate: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "llm_error_rate",
			Help: "Rolling LLM error rate per tenant (failure / total).",
		}, []string{"company"}),
		LLMPromptInjectionBlocked: factory.NewCounter(prometheus.CounterOpts{
			Name: "llm_prompt_injection_blocked_total",
			Help: "Inputs answered with the canned safe reply instead of an LLM call.",
		}),
		TemplateFallbacks: factory.NewCounter(prometheus.CounterOpts{
			Name: "template_fallback_total",
			Help: "Renders that fell back to the fallback template.",
		}),
		PermanentDeliveryFailures: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "delivery_permanent_failures_total",
			Help: "Permanently failed deliveries by tenant.",
		}, []string{"company"}),
		HealthcheckFailures: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "healthcheck_failures_total",
			Help: "Failed dependency probes by component.",
		}, []string{"component"}),
	}
}

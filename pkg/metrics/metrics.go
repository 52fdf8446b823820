package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"tickerguard/pkg/bus"
)

var pipelineOutcomes = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "tickerguard_pipeline_outcomes_total",
	Help: "Number of inbound messages by pipeline outcome",
}, []string{"channel", "outcome"})

var pipelineDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
	Name:    "tickerguard_pipeline_duration_seconds",
	Help:    "Time spent handling one inbound message",
	Buckets: prometheus.ExponentialBuckets(0.005, 2, 12),
}, []string{"outcome"})

var moderationDeletions = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "tickerguard_moderation_deletions_total",
	Help: "Number of messages removed by moderation",
}, []string{"source"})

var commandInvocations = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "tickerguard_command_invocations_total",
	Help: "Number of command invocations by result",
}, []string{"command", "result"})

var webhookRelays = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "tickerguard_webhook_relays_total",
	Help: "Number of webhook deliveries by result",
}, []string{"result"})

var providerRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
	Name:    "tickerguard_provider_request_duration_seconds",
	Help:    "Latency of outbound calls to external providers",
	Buckets: prometheus.DefBuckets,
}, []string{"provider", "result"})

var inboundQueueDepth = promauto.NewGauge(prometheus.GaugeOpts{
	Name: "tickerguard_inbound_queue_depth",
	Help: "Number of inbound messages waiting for a pipeline worker",
})

// Handler serves the default registry in the Prometheus text format.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveEvent updates counters for one pipeline or webhook event.
func ObserveEvent(event bus.Event) {
	switch event.Type {
	case bus.EventWebhookRelayed:
		webhookRelays.WithLabelValues("success").Inc()
		return
	case bus.EventWebhookFailed:
		webhookRelays.WithLabelValues("failed").Inc()
		return
	}

	outcome := outcomeLabel(event.Type)
	pipelineOutcomes.WithLabelValues(event.Channel, outcome).Inc()
	if event.Duration > 0 {
		pipelineDuration.WithLabelValues(outcome).Observe(event.Duration.Seconds())
	}

	switch event.Type {
	case bus.EventMessageDeleted:
		moderationDeletions.WithLabelValues(event.Payload["source"]).Inc()
	case bus.EventCommandReplied, bus.EventCommandLimited, bus.EventCommandFailed:
		commandInvocations.WithLabelValues(event.Command, outcome).Inc()
	}
}

// ObserveProvider records the latency of one outbound provider call.
func ObserveProvider(provider, result string, elapsed time.Duration) {
	providerRequestDuration.WithLabelValues(provider, result).Observe(elapsed.Seconds())
}

// SetQueueDepth records how many inbound messages are waiting.
func SetQueueDepth(n int) {
	inboundQueueDepth.Set(float64(n))
}

func outcomeLabel(eventType bus.EventType) string {
	switch eventType {
	case bus.EventMessageSkipped:
		return "skipped_bot"
	case bus.EventMessageDeleted:
		return "deleted"
	case bus.EventMessageIgnored:
		return "ignored"
	case bus.EventCommandLimited:
		return "cooldown"
	case bus.EventCommandReplied:
		return "replied"
	case bus.EventCommandFailed:
		return "failed"
	default:
		return string(eventType)
	}
}

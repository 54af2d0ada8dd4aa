package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	eventsConsumedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "feed_events_consumed_total",
			Help: "Total number of post events consumed from RabbitMQ",
		},
		[]string{"routing_key"},
	)

	fanoutsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "feed_fanouts_total",
			Help: "Total number of completed fan-outs by outcome",
		},
		[]string{"outcome"},
	)

	fanoutRecipients = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "feed_fanout_recipients",
			Help:    "Audience size per fan-out",
			Buckets: []float64{1, 5, 10, 50, 100, 500, 1000, 5000},
		},
	)

	fanoutDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "feed_fanout_duration_seconds",
			Help:    "Fan-out processing duration in seconds",
			Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 2, 5, 10},
		},
	)

	duplicateEventsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "feed_duplicate_events_total",
			Help: "Total number of duplicate post events skipped via the distribution marker",
		},
	)

	dlqMessagesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "feed_dlq_messages_total",
			Help: "Total number of messages routed to the dead-letter exchange",
		},
		[]string{"reason"},
	)

	feedReadDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "feed_read_duration_seconds",
			Help:    "Feed read latency in seconds",
			Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2},
		},
	)

	gatewayCallsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "feed_gateway_calls_total",
			Help: "Total resilience gateway calls by collaborator and outcome",
		},
		[]string{"name", "outcome"},
	)

	breakerTransitionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "feed_breaker_transitions_total",
			Help: "Circuit breaker state transitions",
		},
		[]string{"name", "to"},
	)
)

func RecordEventConsumed(routingKey string) {
	eventsConsumedTotal.WithLabelValues(routingKey).Inc()
}

func RecordFanout(outcome string, recipients int, duration time.Duration) {
	fanoutsTotal.WithLabelValues(outcome).Inc()
	if recipients > 0 {
		fanoutRecipients.Observe(float64(recipients))
	}
	fanoutDuration.Observe(duration.Seconds())
}

func RecordDuplicateEvent() {
	duplicateEventsTotal.Inc()
}

func RecordDLQMessage(reason string) {
	dlqMessagesTotal.WithLabelValues(reason).Inc()
}

func RecordFeedRead(duration time.Duration) {
	feedReadDuration.Observe(duration.Seconds())
}

func RecordGatewayCall(name, outcome string) {
	gatewayCallsTotal.WithLabelValues(name, outcome).Inc()
}

func RecordBreakerTransition(name, to string) {
	breakerTransitionsTotal.WithLabelValues(name, to).Inc()
}

// Handler returns the scrape endpoint handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

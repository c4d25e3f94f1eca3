package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	messagesReceivedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "notification_messages_received_total",
			Help: "Total number of messages received from the broker",
		},
		[]string{"queue", "routing_key"},
	)

	messagesProcessedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "notification_messages_processed_total",
			Help: "Total number of messages processed, by outcome",
		},
		[]string{"event_type", "status"},
	)

	messageProcessingSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "notification_message_processing_seconds",
			Help:    "Time spent processing a message, including the email send",
			Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 2, 5, 10, 30},
		},
		[]string{"event_type"},
	)

	emailsSentTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "notification_emails_sent_total",
			Help: "Total number of email sends attempted, by template and status",
		},
		[]string{"template", "status"},
	)

	idempotencyHitsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "notification_idempotency_hits_total",
			Help: "Total number of duplicate messages suppressed",
		},
	)

	retriesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "notification_retries_total",
			Help: "Total number of messages republished to the retry exchange",
		},
		[]string{"routing_key"},
	)

	deadLetteredTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "notification_dead_lettered_total",
			Help: "Total number of messages republished to the dead-letter exchange",
		},
		[]string{"reason"},
	)
)

func MessageReceived(queue, routingKey string) {
	messagesReceivedTotal.WithLabelValues(queue, routingKey).Inc()
}

func MessageProcessed(eventType, status string) {
	messagesProcessedTotal.WithLabelValues(eventType, status).Inc()
}

func ProcessingDuration(eventType string, d time.Duration) {
	messageProcessingSeconds.WithLabelValues(eventType).Observe(d.Seconds())
}

func EmailSent(template, status string) {
	emailsSentTotal.WithLabelValues(template, status).Inc()
}

func IdempotencyHit() {
	idempotencyHitsTotal.Inc()
}

func Retry(routingKey string) {
	retriesTotal.WithLabelValues(routingKey).Inc()
}

func DeadLettered(reason string) {
	deadLetteredTotal.WithLabelValues(reason).Inc()
}

package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Intake metrics
	IntakeRequests = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "email_sender_intake_requests_total",
		Help: "Total number of send requests received by the intake endpoint, by outcome",
	}, []string{"outcome"})

	// Queue producer metrics
	RequestsEnqueued = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "email_sender_requests_enqueued_total",
		Help: "Total number of send requests published to the queue",
	}, []string{"topic"})
	EnqueueFailures = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "email_sender_enqueue_failures_total",
		Help: "Total number of send requests that could not be published, by error type",
	}, []string{"topic", "error_type"})
	EnqueueLatency = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "email_sender_enqueue_duration_seconds",
		Help:    "Latency of publishing a send request to the queue",
		Buckets: prometheus.DefBuckets,
	}, []string{"topic"})

	// Queue consumer metrics, not labelled by partition
	MessagesConsumed = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "email_sender_messages_consumed_total",
		Help: "Total number of messages pulled from the queue",
	}, []string{"topic"})
	MessagesMalformed = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "email_sender_messages_malformed_total",
		Help: "Total number of messages dropped because they could not be decoded or validated",
	}, []string{"topic"})
	MessagesSucceeded = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "email_sender_messages_succeeded_total",
		Help: "Total number of messages whose email was delivered",
	}, []string{"topic"})
	MessagesExhausted = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "email_sender_messages_exhausted_total",
		Help: "Total number of messages dropped after exhausting all delivery attempts",
	}, []string{"topic"})
	MessagesAbandoned = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "email_sender_messages_abandoned_total",
		Help: "Total number of messages left unacknowledged for redelivery on shutdown or rebalance",
	}, []string{"topic"})
	DeliveryRetries = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "email_sender_delivery_retries_total",
		Help: "Total number of delivery retries scheduled after a failed attempt",
	}, []string{"topic"})
	OffsetCommitFailures = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "email_sender_offset_commit_failures_total",
		Help: "Total number of failed offset commits",
	}, []string{"topic"})
	PartitionsAssigned = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "email_sender_partitions_assigned",
		Help: "Number of topic partitions assigned to this consumer in the current generation",
	}, []string{"topic"})

	// Attachment metrics
	AttachmentFetches = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "email_sender_attachment_fetches_total",
		Help: "Total number of attachment fetches, by scheme and result",
	}, []string{"scheme", "result"})
	AttachmentFetchLatency = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "email_sender_attachment_fetch_duration_seconds",
		Help:    "Latency of attachment fetches",
		Buckets: prometheus.DefBuckets,
	}, []string{"scheme"})

	// Mail metrics
	MailSendSuccess = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "email_sender_mail_send_success_total",
		Help: "Total number of successful mail sends",
	}, []string{"host"})
	MailSendFailure = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "email_sender_mail_send_failure_total",
		Help: "Total number of failed mail sends",
	}, []string{"host"})
	MailSendLatency = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "email_sender_mail_send_duration_seconds",
		Help:    "Latency of a single SMTP submission",
		Buckets: prometheus.DefBuckets,
	}, []string{"host"})
)

func init() {
	prometheus.MustRegister(IntakeRequests)
	prometheus.MustRegister(RequestsEnqueued)
	prometheus.MustRegister(EnqueueFailures)
	prometheus.MustRegister(EnqueueLatency)
	prometheus.MustRegister(MessagesConsumed)
	prometheus.MustRegister(MessagesMalformed)
	prometheus.MustRegister(MessagesSucceeded)
	prometheus.MustRegister(MessagesExhausted)
	prometheus.MustRegister(MessagesAbandoned)
	prometheus.MustRegister(DeliveryRetries)
	prometheus.MustRegister(OffsetCommitFailures)
	prometheus.MustRegister(PartitionsAssigned)
	prometheus.MustRegister(AttachmentFetches)
	prometheus.MustRegister(AttachmentFetchLatency)
	prometheus.MustRegister(MailSendSuccess)
	prometheus.MustRegister(MailSendFailure)
	prometheus.MustRegister(MailSendLatency)
}

// MetricsHandler returns an http.Handler exposing Prometheus metrics.
func MetricsHandler() http.Handler {
	return promhttp.Handler()
}

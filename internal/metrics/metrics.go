package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	EventsPublished = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "dispatch_events_published_total",
		Help: "Total delivery records created at publish time, labelled by event type.",
	}, []string{"event_type"})

	EnqueueFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "dispatch_enqueue_failures_total",
		Help: "Publishes that wrote a record but failed to enqueue its message.",
	})

	Deliveries = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "dispatch_deliveries_total",
		Help: "Delivery attempts by queue and outcome (delivered, retried, failed, dropped).",
	}, []string{"queue", "outcome"})

	DeadLettered = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "dispatch_dead_lettered_total",
		Help: "Messages pushed to a dead-letter list, labelled by queue.",
	}, []string{"queue"})

	DeliveryDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "dispatch_delivery_duration_ms",
		Help:    "Outbound call latency in milliseconds.",
		Buckets: []float64{5, 10, 25, 50, 100, 250, 500, 1000, 2500, 5000, 10000},
	}, []string{"queue"})

	QueueDepth = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "dispatch_queue_depth",
		Help: "Messages waiting in each queue, sampled by the dispatcher.",
	}, []string{"queue"})

	RateLimitDecisions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "dispatch_rate_limit_decisions_total",
		Help: "Admission-control decisions by identity scope and outcome.",
	}, []string{"scope", "outcome"})

	OTPDecisions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "dispatch_otp_decisions_total",
		Help: "OTP issuance limiter decisions by outcome.",
	}, []string{"outcome"})
)

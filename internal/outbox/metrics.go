package outbox

import "github.com/prometheus/client_golang/prometheus"

var (
	deliveredCounter = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "studylog",
		Subsystem: "outbox",
		Name:      "events_delivered_total",
		Help:      "Change events published to Kafka.",
	})

	failedCounter = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "studylog",
		Subsystem: "outbox",
		Name:      "events_failed_total",
		Help:      "Change events that could not be published.",
	})

	batchDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "studylog",
		Subsystem: "outbox",
		Name:      "batch_duration_seconds",
		Help:      "Time to claim, deliver and mark one outbox batch.",
		Buckets:   prometheus.ExponentialBuckets(0.01, 2, 10),
	})

	dlqCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "studylog",
		Subsystem: "outbox",
		Name:      "events_dlq_total",
		Help:      "Change events parked in the DLQ, by topic.",
	}, []string{"topic"})

	dlqOutcomes = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "studylog",
		Subsystem: "dlq",
		Name:      "entries_total",
		Help:      "DLQ entries handled by the manager, by outcome (requeued, retry_scheduled, quarantined).",
	}, []string{"topic", "event_type", "outcome"})

	dlqBacklogGauge = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "studylog",
		Subsystem: "dlq",
		Name:      "queued_messages",
		Help:      "DLQ entries not yet quarantined.",
	})
)

func init() {
	prometheus.MustRegister(deliveredCounter, failedCounter, batchDuration, dlqCounter, dlqOutcomes, dlqBacklogGauge)
}

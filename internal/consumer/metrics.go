package consumer

import "github.com/prometheus/client_golang/prometheus"

const (
	outcomeProcessed    = "processed"
	outcomeHandlerError = "handler_error"
	outcomeDecodeError  = "decode_error"
)

var (
	messagesCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "studylog",
		Subsystem: "consumer",
		Name:      "messages_total",
		Help:      "Change feed records by topic, event type and outcome.",
	}, []string{"topic", "event_type", "outcome"})

	lastMessageGauge = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "studylog",
		Subsystem: "consumer",
		Name:      "last_message_timestamp_seconds",
		Help:      "Record time of the newest committed message per topic.",
	}, []string{"topic"})
)

func init() {
	prometheus.MustRegister(messagesCounter, lastMessageGauge)
}

func observe(topic, eventType, outcome string) {
	messagesCounter.WithLabelValues(topic, eventType, outcome).Inc()
}

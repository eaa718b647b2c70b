package realtime

import "github.com/prometheus/client_golang/prometheus"

var (
	subscribersGauge = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "studylog",
		Subsystem: "realtime",
		Name:      "subscribers",
		Help:      "Number of open change subscriptions.",
	})

	publishedCounter = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "studylog",
		Subsystem: "realtime",
		Name:      "changes_published_total",
		Help:      "Number of changes published to the hub.",
	})

	droppedCounter = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "studylog",
		Subsystem: "realtime",
		Name:      "changes_coalesced_total",
		Help:      "Number of changes not queued because the subscriber already had one pending.",
	})

	staleResultCounter = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "studylog",
		Subsystem: "realtime",
		Name:      "stale_results_dropped_total",
		Help:      "Number of refresh results discarded because a newer refresh superseded them.",
	})
)

func init() {
	prometheus.MustRegister(subscribersGauge, publishedCounter, droppedCounter, staleResultCounter)
}

package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	sessionPersistGauge = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "studylog",
		Subsystem: "persistence",
		Name:      "last_session_persisted_timestamp_seconds",
		Help:      "Unix timestamp of the most recent study session write.",
	})
	reportBuildSeconds = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "studylog",
		Subsystem: "reports",
		Name:      "build_duration_seconds",
		Help:      "Time spent loading entries and composing a progress report.",
		Buckets:   prometheus.ExponentialBuckets(0.001, 2, 12),
	})
)

func init() {
	prometheus.MustRegister(sessionPersistGauge, reportBuildSeconds)
}

// RecordSessionPersisted updates the persistence watermark gauge.
func RecordSessionPersisted(ts time.Time) {
	if ts.IsZero() {
		return
	}
	sessionPersistGauge.Set(float64(ts.Unix()))
}

// ObserveReportBuild records how long a report took to compose.
func ObserveReportBuild(d time.Duration) {
	reportBuildSeconds.Observe(d.Seconds())
}

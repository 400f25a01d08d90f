package switchpoint

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	metricOutcomeSuccess = "success"
	metricOutcomeError   = "error"
)

var (
	analysesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "switchpoint",
			Name:      "analyses_total",
			Help:      "Total number of analyses run, partitioned by outcome.",
		},
		[]string{"outcome"},
	)

	analysisDurationSeconds = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "switchpoint",
			Name:      "analysis_seconds",
			Help:      "Analysis latency in seconds.",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5},
		},
	)

	eventsIngestedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "switchpoint",
			Name:      "events_ingested_total",
			Help:      "Total number of events ingested, partitioned by source.",
		},
		[]string{"source"},
	)

	notificationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "switchpoint",
			Name:      "notifications_total",
			Help:      "Total number of webhook notifications sent, partitioned by outcome.",
		},
		[]string{"outcome"},
	)

	streamClientsActive = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "switchpoint",
			Name:      "stream_clients_active",
			Help:      "Number of connected streaming clients.",
		},
	)
)

// RegisterMetrics attaches the collectors to the supplied Prometheus
// registerer. Registering the same collectors twice is not an error.
func RegisterMetrics(reg prometheus.Registerer) error {
	collectors := []prometheus.Collector{
		analysesTotal,
		analysisDurationSeconds,
		eventsIngestedTotal,
		notificationsTotal,
		streamClientsActive,
	}

	for _, collector := range collectors {
		if err := reg.Register(collector); err != nil {
			if _, ok := err.(prometheus.AlreadyRegisteredError); ok {
				continue
			}
			return err
		}
	}
	return nil
}

// observeAnalysis records an analysis duration and outcome.
func observeAnalysis(duration time.Duration, err error) {
	outcome := metricOutcomeSuccess
	if err != nil {
		outcome = metricOutcomeError
	}
	analysesTotal.WithLabelValues(outcome).Inc()
	if duration < 0 {
		duration = 0
	}
	analysisDurationSeconds.Observe(duration.Seconds())
}

// observeIngested records events accepted from an ingestion source.
func observeIngested(source string, count int) {
	if count <= 0 {
		return
	}
	eventsIngestedTotal.WithLabelValues(source).Add(float64(count))
}

// observeNotification records a webhook delivery attempt outcome.
func observeNotification(err error) {
	outcome := metricOutcomeSuccess
	if err != nil {
		outcome = metricOutcomeError
	}
	notificationsTotal.WithLabelValues(outcome).Inc()
}

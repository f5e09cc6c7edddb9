package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	once sync.Once

	// AnalysesTotal counts completed analyses by trigger surface and result.
	AnalysesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "cityfix",
		Subsystem: "analyzer",
		Name:      "analyses_total",
		Help:      "Total number of image analyses, labeled by surface (event, api) and result.",
	}, []string{"surface", "result"})

	// AnalysisDurationSeconds is end-to-end time per analysis.
	AnalysisDurationSeconds = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "cityfix",
		Subsystem: "analyzer",
		Name:      "analysis_duration_seconds",
		Help:      "End-to-end time to analyze one report image.",
		// Keep buckets fairly coarse to avoid high-cardinality time series.
		Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 20, 60},
	}, []string{"surface"})

	// LabelFallbackTotal counts analyses served by the static label set.
	LabelFallbackTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "cityfix",
		Subsystem: "analyzer",
		Name:      "label_fallback_total",
		Help:      "Total number of analyses that used the static fallback label set.",
	})

	// DescriptionFallbackTotal counts descriptions served from templates.
	DescriptionFallbackTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "cityfix",
		Subsystem: "analyzer",
		Name:      "description_fallback_total",
		Help:      "Total number of descriptions served from the issue-type template map.",
	})

	// NotificationsTotal counts created notifications by type.
	NotificationsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "cityfix",
		Subsystem: "notifier",
		Name:      "notifications_total",
		Help:      "Total number of status-change notifications created, labeled by type.",
	}, []string{"type"})

	// RabbitMQConnected is 1 when the subscriber considers itself connected.
	RabbitMQConnected = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "cityfix",
		Subsystem: "analyzer",
		Name:      "rabbitmq_connected",
		Help:      "Whether the pipeline RabbitMQ subscriber is currently connected (best-effort).",
	})

	// RabbitMQLastDeliverySeconds is a unix timestamp (seconds) of last observed delivery.
	RabbitMQLastDeliverySeconds = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "cityfix",
		Subsystem: "analyzer",
		Name:      "rabbitmq_last_delivery_timestamp_seconds",
		Help:      "Unix timestamp (seconds) of the last RabbitMQ delivery observed by the subscriber (best-effort).",
	})

	// WorkerInFlight is the current number of deliveries being processed.
	WorkerInFlight = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "cityfix",
		Subsystem: "analyzer",
		Name:      "rabbitmq_worker_in_flight",
		Help:      "Current number of RabbitMQ deliveries being processed by worker goroutines.",
	})

	// ProcessedTotal counts processed deliveries by outcome.
	ProcessedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "cityfix",
		Subsystem: "analyzer",
		Name:      "rabbitmq_processed_total",
		Help:      "Total number of RabbitMQ deliveries processed by the pipeline subscriber, labeled by result.",
	}, []string{"result"})
)

// Register registers pipeline metrics with the default Prometheus
// registry. Safe to call multiple times.
func Register() {
	once.Do(func() {
		prometheus.MustRegister(
			AnalysesTotal,
			AnalysisDurationSeconds,
			LabelFallbackTotal,
			DescriptionFallbackTotal,
			NotificationsTotal,
			RabbitMQConnected,
			RabbitMQLastDeliverySeconds,
			WorkerInFlight,
			ProcessedTotal,
		)
	})
}

func NowUnixSeconds() float64 {
	return float64(time.Now().Unix())
}

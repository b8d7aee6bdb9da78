package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	once sync.Once

	// AnalysesTotal counts finished analyses, labeled by the error kind or "success".
	AnalysesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "snapnourish",
		Subsystem: "analysis",
		Name:      "requests_total",
		Help:      "Total number of image analyses, labeled by result.",
	}, []string{"result"})

	// StageDurationSeconds is the time spent in each pipeline stage.
	StageDurationSeconds = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "snapnourish",
		Subsystem: "analysis",
		Name:      "stage_duration_seconds",
		Help:      "Time spent in each analysis stage.",
		Buckets:   []float64{0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 20, 60, 120},
	}, []string{"stage"})

	// FailedStageTotal counts failed analyses by the last state reached before failing.
	FailedStageTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "snapnourish",
		Subsystem: "analysis",
		Name:      "failed_after_state_total",
		Help:      "Total number of failed analyses, labeled by the last state reached.",
	}, []string{"state"})

	// InFlight is the number of analyses currently running.
	InFlight = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "snapnourish",
		Subsystem: "analysis",
		Name:      "in_flight",
		Help:      "Current number of analyses being processed.",
	})

	// DroppedItemsTotal counts model output entries rejected by the parser.
	DroppedItemsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "snapnourish",
		Subsystem: "parser",
		Name:      "dropped_items_total",
		Help:      "Total number of model output entries dropped during validation, labeled by item type.",
	}, []string{"item"})

	// EventsTotal counts storage upload events, labeled by source and result.
	EventsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "snapnourish",
		Subsystem: "events",
		Name:      "processed_total",
		Help:      "Total number of storage upload events processed, labeled by source and result.",
	}, []string{"source", "result"})

	// AMQPConnected is 1 when the upload queue subscriber is connected.
	AMQPConnected = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "snapnourish",
		Subsystem: "events",
		Name:      "amqp_connected",
		Help:      "Whether the upload queue subscriber is currently connected.",
	})
)

// Register registers all metrics with the default Prometheus registry.
// Safe to call multiple times.
func Register() {
	once.Do(func() {
		prometheus.MustRegister(
			AnalysesTotal,
			StageDurationSeconds,
			FailedStageTotal,
			InFlight,
			DroppedItemsTotal,
			EventsTotal,
			AMQPConnected,
		)
	})
}

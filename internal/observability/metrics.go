package observability

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	WorkoutsCreated = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "mapty",
		Subsystem: "workouts",
		Name:      "created_total",
		Help:      "Workouts recorded, by kind.",
	}, []string{"kind"})
	ValidationFailures = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "mapty",
		Subsystem: "workouts",
		Name:      "validation_failures_total",
		Help:      "Form submissions rejected by validation, by kind.",
	}, []string{"kind"})
	LocationFailures = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "mapty",
		Subsystem: "sessions",
		Name:      "location_failures_total",
		Help:      "Sessions whose geolocation request failed or was denied.",
	})
	SessionsActive = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "mapty",
		Subsystem: "sessions",
		Name:      "active",
		Help:      "Page sessions currently held in memory.",
	})
)

func init() {
	prometheus.MustRegister(WorkoutsCreated, ValidationFailures, LocationFailures, SessionsActive)
}

// RecordWorkout counts a recorded workout of the given kind.
func RecordWorkout(kind string) {
	WorkoutsCreated.WithLabelValues(kind).Inc()
}

// RecordValidationFailure counts a rejected submission.
func RecordValidationFailure(kind string) {
	ValidationFailures.WithLabelValues(kind).Inc()
}

func RecordLocationFailure() {
	LocationFailures.Inc()
}

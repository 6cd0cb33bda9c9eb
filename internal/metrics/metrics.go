package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	// OutcomeSuccess labels completed sweeps.
	OutcomeSuccess = "success"
	// OutcomeError labels sweeps that aborted on a pipeline or dependency failure.
	OutcomeError = "error"
)

var (
	sweepsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "talent_risk",
			Name:      "sweeps_total",
			Help:      "Total number of risk sweeps run, partitioned by outcome.",
		},
		[]string{"outcome"},
	)

	sweepDurationSeconds = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "talent_risk",
			Name:      "sweep_seconds",
			Help:      "Full sweep latency in seconds.",
			Buckets:   []float64{0.5, 1, 2, 5, 10, 20, 30, 60, 120, 300},
		},
	)

	employeesAnalyzedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "talent_risk",
			Name:      "employees_analyzed_total",
			Help:      "Total number of per-employee analyses completed.",
		},
	)

	anomaliesDetectedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "talent_risk",
			Name:      "anomalies_detected_total",
			Help:      "Combined anomaly verdicts produced, partitioned by severity.",
		},
		[]string{"severity"},
	)

	flagsUpsertedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "talent_risk",
			Name:      "flags_upserted_total",
			Help:      "Risk flags created or refreshed by sweeps.",
		},
	)
)

// Register attaches the engine's collectors to the supplied registerer.
func Register(reg prometheus.Registerer) error {
	collectors := []prometheus.Collector{
		sweepsTotal,
		sweepDurationSeconds,
		employeesAnalyzedTotal,
		anomaliesDetectedTotal,
		flagsUpsertedTotal,
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

// ObserveSweep records a sweep duration and outcome label.
func ObserveSweep(duration time.Duration, outcome string) {
	label := outcome
	if label != OutcomeError {
		label = OutcomeSuccess
	}
	sweepsTotal.WithLabelValues(label).Inc()
	if duration < 0 {
		duration = 0
	}
	sweepDurationSeconds.Observe(duration.Seconds())
}

// AddEmployeesAnalyzed bumps the per-employee analysis counter.
func AddEmployeesAnalyzed(n int) {
	if n > 0 {
		employeesAnalyzedTotal.Add(float64(n))
	}
}

// ObserveAnomaly counts one combined verdict by severity.
func ObserveAnomaly(severity string) {
	anomaliesDetectedTotal.WithLabelValues(severity).Inc()
}

// AddFlagsUpserted bumps the flag upsert counter.
func AddFlagsUpserted(n int) {
	if n > 0 {
		flagsUpsertedTotal.Add(float64(n))
	}
}

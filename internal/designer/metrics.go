package designer

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"toolsmith/internal/types"
)

// Metrics are the designer's Prometheus instruments. Each Designer
// registers its own set so tests and embedders can use private registries.
type Metrics struct {
	designs  *prometheus.CounterVec
	attempts *prometheus.CounterVec
	repairs  *prometheus.CounterVec
	coverage prometheus.Histogram
	duration *prometheus.HistogramVec
}

// NewMetrics registers the designer metrics with reg. A nil reg creates
// unregistered instruments.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		// Labels: strategy, outcome (success, failure, error)
		designs: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "toolsmith",
			Subsystem: "designer",
			Name:      "designs_total",
			Help:      "Tool designs by initial strategy and outcome",
		}, []string{"strategy", "outcome"}),

		// Labels: strategy
		attempts: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "toolsmith",
			Subsystem: "designer",
			Name:      "validation_attempts_total",
			Help:      "Validation attempts, including those after repairs",
		}, []string{"strategy"}),

		// Labels: kind (syntax, security, compliance, unknown)
		repairs: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "toolsmith",
			Subsystem: "repair",
			Name:      "attempts_total",
			Help:      "Repair attempts by failure class",
		}, []string{"kind"}),

		coverage: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: "toolsmith",
			Subsystem: "validation",
			Name:      "coverage_ratio",
			Help:      "Statement coverage reported by validation attempts",
			Buckets:   []float64{0.1, 0.25, 0.5, 0.75, 0.8, 0.9, 0.95, 1.0},
		}),

		// Labels: outcome
		duration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "toolsmith",
			Subsystem: "designer",
			Name:      "duration_seconds",
			Help:      "Wall-clock time of one design, repairs included",
			Buckets:   []float64{1, 5, 10, 30, 60, 120, 300},
		}, []string{"outcome"}),
	}
}

func (m *Metrics) recordAttempt(strategy types.Strategy, result *types.ValidationResult) {
	m.attempts.WithLabelValues(string(strategy)).Inc()
	if result != nil {
		m.coverage.Observe(result.Coverage)
	}
}

func (m *Metrics) recordRepair(kind types.FailureKind) {
	m.repairs.WithLabelValues(string(kind)).Inc()
}

func (m *Metrics) recordDesign(strategy types.Strategy, outcome string, seconds float64) {
	m.designs.WithLabelValues(string(strategy), outcome).Inc()
	m.duration.WithLabelValues(outcome).Observe(seconds)
}
